package player

import (
	"log/slog"
	"sync"

	"github.com/aural-player/auralcore/internal/metrics"
	"github.com/aural-player/auralcore/internal/pcm"
	"github.com/aural-player/auralcore/internal/session"
)

// CompletionFunc is called once for every scheduled buffer, either when
// it has been fully rendered or when it was discarded by Stop.
type CompletionFunc func(sess *session.Session)

type scheduledBuffer struct {
	buf        *pcm.Buffer
	sess       *session.Session
	onComplete CompletionFunc
	// offset is the number of samples (not frames) already rendered.
	offset int
	// seekPosition, if set, restarts the position timeline when the
	// buffer starts playing.
	seekPosition *float64
}

// Node plays scheduled PCM buffers in FIFO order. The device pulls audio
// with Render; everything else is called from the scheduler.
type Node struct {
	log    *slog.Logger
	stats  *metrics.Stats
	format pcm.Format

	mu      sync.Mutex
	queue   []*scheduledBuffer
	playing bool
	dry     bool

	// The position is segmentStart plus the frames rendered since the
	// segment started.
	segmentStart   float64
	framesRendered int64
}

func NewNode(format pcm.Format, stats *metrics.Stats, log *slog.Logger) *Node {
	if log == nil {
		log = slog.Default()
	}
	return &Node{
		log:    log,
		stats:  stats,
		format: format,
	}
}

func (n *Node) Format() pcm.Format { return n.format }

// ScheduleBuffer appends buf to the play queue. If seekPosition is set
// the node's position restarts from it when buf begins. An immediate
// buffer interrupts whatever is queued.
func (n *Node) ScheduleBuffer(buf *pcm.Buffer, sess *session.Session, onComplete CompletionFunc, seekPosition *float64, immediate bool) {
	sb := &scheduledBuffer{
		buf:          buf,
		sess:         sess,
		onComplete:   onComplete,
		seekPosition: seekPosition,
	}

	n.mu.Lock()
	var discarded []*scheduledBuffer
	if immediate {
		discarded = n.queue
		n.queue = nil
	}
	if len(n.queue) == 0 && seekPosition != nil {
		n.segmentStart = *seekPosition
		n.framesRendered = 0
		sb.seekPosition = nil
	}
	n.queue = append(n.queue, sb)
	n.dry = false
	n.mu.Unlock()

	n.fireDiscarded(discarded)
}

// Play starts or resumes rendering queued buffers.
func (n *Node) Play() {
	n.mu.Lock()
	n.playing = true
	n.mu.Unlock()
}

// Pause stops rendering but keeps queued buffers and the position.
func (n *Node) Pause() {
	n.mu.Lock()
	n.playing = false
	n.mu.Unlock()
}

// Stop halts rendering and discards all queued buffers. Their completion
// functions are called asynchronously, after Stop returns, in the order
// the buffers were scheduled.
func (n *Node) Stop() {
	n.mu.Lock()
	discarded := n.queue
	n.queue = nil
	n.playing = false
	n.mu.Unlock()

	n.fireDiscarded(discarded)
}

func (n *Node) fireDiscarded(discarded []*scheduledBuffer) {
	if len(discarded) == 0 {
		return
	}
	go func() {
		for _, sb := range discarded {
			if sb.onComplete != nil {
				sb.onComplete(sb.sess)
			}
		}
	}()
}

func (n *Node) IsPlaying() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.playing
}

// Queued is the number of buffers scheduled and not yet completed.
func (n *Node) Queued() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}

// SeekPosition is the current playback position in track seconds.
func (n *Node) SeekPosition() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.segmentStart + n.format.Seconds(int(n.framesRendered))
}

// SeekToEndOfTrack moves the position to the end of a track of frameCount
// frames without scheduling anything.
func (n *Node) SeekToEndOfTrack(sess *session.Session, frameCount int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.segmentStart = n.format.Seconds(int(frameCount))
	n.framesRendered = 0
	n.log.Debug("node moved to end of track", "session", sess.ID, "position", n.segmentStart)
}

// Render fills out with interleaved samples and returns the number of
// frames taken from scheduled buffers; the rest of out is silence.
// Completion functions of buffers finished during the call run on the
// calling goroutine before Render returns.
func (n *Node) Render(out []float32) int {
	var finished []*scheduledBuffer
	ch := n.format.Channels

	n.mu.Lock()
	written := 0
	if n.playing {
		for written < len(out) && len(n.queue) > 0 {
			sb := n.queue[0]
			if sb.offset == 0 && sb.seekPosition != nil {
				n.segmentStart = *sb.seekPosition
				n.framesRendered = 0
			}
			c := copy(out[written:], sb.buf.Samples[sb.offset:])
			sb.offset += c
			written += c
			n.framesRendered += int64(c / ch)
			if sb.offset >= len(sb.buf.Samples) {
				n.queue[0] = nil
				n.queue = n.queue[1:]
				finished = append(finished, sb)
			}
		}
		if written < len(out) && !n.dry {
			n.dry = true
			n.stats.Underrun()
		}
	}
	n.mu.Unlock()

	clear(out[written:])
	for _, sb := range finished {
		if sb.onComplete != nil {
			sb.onComplete(sb.sess)
		}
	}
	return written / ch
}
