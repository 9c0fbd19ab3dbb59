package decoder

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/aural-player/auralcore/internal/codec"
	"github.com/aural-player/auralcore/internal/pcm"
)

// seekPositionTolerance is the largest gap, in seconds, between a desired
// seek position and the start of the first usable frame that does not
// require truncating that frame.
const seekPositionTolerance = 0.01

// maxRecurringErrors is the number of consecutive read or decode failures
// after which the track is considered no longer readable.
const maxRecurringErrors = 5

var (
	// ErrSeekEOF is returned by Demuxer.Seek when the target lies at or
	// beyond the end of the stream.
	ErrSeekEOF = errors.New("seek: end of stream")

	ErrNoAudioStream = errors.New("no audio stream found")
)

// SeekError is returned when the underlying container cannot be
// repositioned.
type SeekError struct {
	Time float64
	Err  error
}

func (e *SeekError) Error() string {
	return fmt.Sprintf("seek to %.3fs: %v", e.Time, e.Err)
}

func (e *SeekError) Unwrap() error { return e.Err }

// Demuxer supplies the compressed packets of one audio stream.
type Demuxer interface {
	// ReadPacket returns the next packet of the audio stream, or io.EOF.
	ReadPacket() (codec.Packet, error)
	Seek(seconds float64) error
	// TimeBase is the duration of one PTS unit in seconds.
	TimeBase() float64
	Duration() float64
	IsRawAudio() bool
	Close()
}

// Converter transfers decoded frames into a playback buffer in the
// engine's native format, honoring frame truncation.
type Converter interface {
	Convert(src *codec.FrameBuffer, dst *pcm.Buffer) error
}

// Decoder owns one AudioCodec bound to one stream and produces playback
// buffers for the scheduler.
//
// Decode, DecodeLoop, Seek and Stop must not be called concurrently; the
// scheduler serializes them on its work queue. The status flags may be
// read from any goroutine.
type Decoder struct {
	log       *slog.Logger
	demuxer   Demuxer
	codec     *codec.AudioCodec
	converter Converter
	format    codec.AudioFormat
	timeBase  float64

	// frameQueue holds decoded frames that did not fit in the previous
	// buffer, and the usable frames produced while seeking.
	frameQueue []*codec.Frame
	// seekTarget is the position of the last seek until the first frame
	// at or after it has been queued, and -1 otherwise.
	seekTarget float64

	eof                  atomic.Bool
	endOfLoop            atomic.Bool
	fatalError           atomic.Bool
	framesNeedTimestamps atomic.Bool
	recurringErrors      int

	mu      sync.Mutex
	onError func(error)
	closed  bool
}

// New returns a decoder reading packets from demuxer and decoding them
// with an opened codec.
func New(demuxer Demuxer, c *codec.AudioCodec, converter Converter, log *slog.Logger) *Decoder {
	if log == nil {
		log = slog.Default()
	}
	return &Decoder{
		log:        log,
		demuxer:    demuxer,
		codec:      c,
		converter:  converter,
		timeBase:   demuxer.TimeBase(),
		seekTarget: -1,
		format: codec.AudioFormat{
			SampleRate:    c.SampleRate(),
			Channels:      c.Channels(),
			ChannelLayout: c.ChannelLayout(),
			SampleFormat:  c.SampleFormat(),
		},
	}
}

// SetErrorHandler registers a function called with every error that is
// logged and skipped while decoding or seeking.
func (d *Decoder) SetErrorHandler(fn func(error)) {
	d.mu.Lock()
	d.onError = fn
	d.mu.Unlock()
}

func (d *Decoder) reportError(err error) {
	d.mu.Lock()
	fn := d.onError
	d.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (d *Decoder) EOF() bool        { return d.eof.Load() }
func (d *Decoder) EndOfLoop() bool  { return d.endOfLoop.Load() }
func (d *Decoder) FatalError() bool { return d.fatalError.Load() }

// SetFramesNeedTimestamps controls whether decoded frames are stamped with
// start and end times in seconds. Loops need them.
func (d *Decoder) SetFramesNeedTimestamps(v bool) { d.framesNeedTimestamps.Store(v) }

func (d *Decoder) Format() codec.AudioFormat { return d.format }
func (d *Decoder) SampleRate() int           { return d.format.SampleRate }
func (d *Decoder) Duration() float64         { return d.demuxer.Duration() }
func (d *Decoder) Codec() *codec.AudioCodec  { return d.codec }

// Decode decodes up to maxSampleCount samples and returns them as one
// playback buffer. It returns nil if nothing could be decoded.
//
// When EOF is reached, leftover queued frames and the frames drained
// from the codec are appended even if that exceeds maxSampleCount, since
// this is the last buffer of the stream.
func (d *Decoder) Decode(maxSampleCount int, format pcm.Format) *pcm.Buffer {
	if d.FatalError() {
		return nil
	}
	buf := codec.NewFrameBuffer(d.format, maxSampleCount)

	for !d.EOF() {
		frame, err := d.nextFrame()
		if err != nil {
			if d.handleReadError(err) {
				return d.transfer(buf, format)
			}
			continue
		}
		d.recurringErrors = 0

		if !buf.AppendFrame(frame) {
			break
		}
		d.dequeue()
	}

	if d.EOF() {
		buf.AppendTerminalFrames(d.terminalFrames(math.Inf(1)))
	}
	return d.transfer(buf, format)
}

// DecodeLoop decodes up to maxSampleCount samples of a loop pass ending
// at loopEnd seconds. The frame that crosses loopEnd is truncated and
// ends the pass; EndOfLoop reports true afterwards.
func (d *Decoder) DecodeLoop(maxSampleCount int, loopEnd float64, format pcm.Format) *pcm.Buffer {
	if d.FatalError() {
		return nil
	}
	buf := codec.NewFrameBuffer(d.format, maxSampleCount)

	for !d.EndOfLoop() && !d.EOF() {
		frame, err := d.nextFrame()
		if err != nil {
			if d.handleReadError(err) {
				return d.transfer(buf, format)
			}
			continue
		}
		d.recurringErrors = 0
		d.ensureTimestamps(frame)

		if frame.EndSeconds >= loopEnd {
			d.dequeue()
			if clipped := clipToLoopEnd(frame, loopEnd, d.format.SampleRate); clipped != nil {
				buf.AppendTerminalFrames([]*codec.Frame{clipped})
			}
			d.endOfLoop.Store(true)
			break
		}

		if !buf.AppendFrame(frame) {
			break
		}
		d.dequeue()
	}

	if d.EOF() && !d.EndOfLoop() {
		// The loop extends to the end of the stream.
		buf.AppendTerminalFrames(d.terminalFrames(loopEnd))
		d.endOfLoop.Store(true)
	}
	return d.transfer(buf, format)
}

// handleReadError records err and reports whether decoding must stop
// because the track is no longer readable.
func (d *Decoder) handleReadError(err error) bool {
	if errors.Is(err, io.EOF) {
		d.eof.Store(true)
		return false
	}

	d.log.Warn("decoder error", "err", err)
	d.reportError(err)
	d.recurringErrors++
	if d.recurringErrors >= maxRecurringErrors {
		d.fatalError.Store(true)
		return true
	}
	return false
}

// terminalFrames drains the frame queue and the codec. Frames starting at
// or after limit are discarded and the one crossing it is truncated.
func (d *Decoder) terminalFrames(limit float64) []*codec.Frame {
	frames := d.frameQueue
	d.frameQueue = nil

	drained, err := d.codec.Drain()
	if err != nil {
		d.log.Warn("decoder drain error", "err", err)
		d.reportError(err)
	} else {
		frames = append(frames, d.trimBeforeSeekTarget(drained.Frames())...)
	}

	if math.IsInf(limit, 1) {
		return frames
	}
	out := frames[:0]
	for _, f := range frames {
		d.ensureTimestamps(f)
		if f.EndSeconds < limit {
			out = append(out, f)
			continue
		}
		if clipped := clipToLoopEnd(f, limit, d.format.SampleRate); clipped != nil {
			out = append(out, clipped)
		}
	}
	return out
}

// clipToLoopEnd truncates f so that it ends at loopEnd. It returns nil
// (and frees f) when no sample of f lies before loopEnd.
func clipToLoopEnd(f *codec.Frame, loopEnd float64, sampleRate int) *codec.Frame {
	keep := int(math.Round((loopEnd - f.StartSeconds) * float64(sampleRate)))
	if keep <= 0 {
		f.Free()
		return nil
	}
	f.KeepFirstN(keep)
	f.EndSeconds = loopEnd
	return f
}

func (d *Decoder) transfer(buf *codec.FrameBuffer, format pcm.Format) *pcm.Buffer {
	defer buf.Free()
	if buf.SampleCount() == 0 {
		return nil
	}
	out := pcm.NewBuffer(format, buf.SampleCount())
	if err := d.converter.Convert(buf, out); err != nil {
		d.log.Error("sample conversion failed", "err", err)
		d.reportError(err)
		return nil
	}
	return out
}

// nextFrame returns the frame at the head of the queue, decoding packets
// as needed. The frame stays queued until the caller dequeues it.
func (d *Decoder) nextFrame() (*codec.Frame, error) {
	for len(d.frameQueue) == 0 {
		pkt, err := d.demuxer.ReadPacket()
		if err != nil {
			return nil, err
		}
		frames, err := d.codec.Decode(pkt)
		pkt.Free()
		if err != nil {
			return nil, err
		}
		d.enqueue(frames.Frames())
	}
	return d.frameQueue[0], nil
}

func (d *Decoder) dequeue() {
	d.frameQueue[0] = nil
	d.frameQueue = d.frameQueue[1:]
}

// setTimestamps stamps frames decoded from a single packet. The first
// frame's PTS is the base; the others follow on from sample counts.
func (d *Decoder) setTimestamps(frames []*codec.Frame) {
	if len(frames) == 0 {
		return
	}
	rate := float64(d.format.SampleRate)
	f0 := frames[0]
	f0.StartSeconds = float64(f0.PTS()) * d.timeBase
	f0.EndSeconds = f0.StartSeconds + float64(f0.ActualSampleCount())/rate
	for i := 1; i < len(frames); i++ {
		f := frames[i]
		f.StartSeconds = frames[i-1].EndSeconds
		f.EndSeconds = f.StartSeconds + float64(f.ActualSampleCount())/rate
	}
}

func (d *Decoder) ensureTimestamps(f *codec.Frame) {
	if f.StartSeconds >= 0 {
		return
	}
	f.StartSeconds = float64(f.PTS())*d.timeBase + float64(f.FirstSampleIndex())/float64(d.format.SampleRate)
	f.EndSeconds = f.StartSeconds + float64(f.SampleCount())/float64(d.format.SampleRate)
}

type seekPacket struct {
	pkt codec.Packet
	ts  float64
}

// Seek repositions the stream at t seconds. Seeking to or past the end of
// the stream sets EOF and is not an error.
//
// FFmpeg seeks to a decodable point at or before t, so packets before t
// are decoded and dropped, and the first usable frame is truncated so
// that output starts at t.
func (d *Decoder) Seek(t float64) error {
	d.codec.FlushBuffers()
	d.clearQueue()

	if err := d.demuxer.Seek(t); err != nil {
		if errors.Is(err, ErrSeekEOF) {
			d.eof.Store(true)
			return nil
		}
		d.eof.Store(false)
		serr := &SeekError{Time: t, Err: err}
		d.log.Error("seek failed", "time", t, "err", err)
		d.reportError(serr)
		return serr
	}
	d.eof.Store(false)
	d.endOfLoop.Store(false)
	d.fatalError.Store(false)
	d.recurringErrors = 0

	if d.demuxer.IsRawAudio() {
		return nil
	}

	var packets []seekPacket
	last := -1.0
	for last < t {
		pkt, err := d.demuxer.ReadPacket()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				d.log.Warn("error while skipping packets after seek", "time", t, "err", err)
			}
			break
		}
		last = float64(pkt.PTS()) * d.timeBase
		packets = append(packets, seekPacket{pkt: pkt, ts: last})
	}

	// The first usable packet is the last one starting at or before t.
	usable := 0
	for i, sp := range packets {
		if sp.ts <= t {
			usable = i
		}
	}

	d.seekTarget = t
	for i, sp := range packets {
		if i < usable {
			d.codec.DecodeAndDrop(sp.pkt)
			sp.pkt.Free()
			continue
		}
		frames, err := d.codec.Decode(sp.pkt)
		sp.pkt.Free()
		if err != nil {
			d.log.Warn("error while decoding packets after seek", "time", t, "err", err)
			continue
		}
		d.enqueue(frames.Frames())
	}
	return nil
}

// enqueue queues frames decoded from one packet.
func (d *Decoder) enqueue(frames []*codec.Frame) {
	if d.framesNeedTimestamps.Load() {
		d.setTimestamps(frames)
	}
	d.frameQueue = append(d.frameQueue, d.trimBeforeSeekTarget(frames)...)
}

// trimBeforeSeekTarget drops the frames that end before the target of the
// last seek and truncates the one containing it. Codecs that hold frames
// back may emit them well after the seek, so this runs on every batch
// until the first usable frame is found.
func (d *Decoder) trimBeforeSeekTarget(frames []*codec.Frame) []*codec.Frame {
	t := d.seekTarget
	if t < 0 {
		return frames
	}
	for i, f := range frames {
		d.ensureTimestamps(f)
		if f.EndSeconds <= t {
			f.Free()
			continue
		}
		if t-f.StartSeconds > seekPositionTolerance {
			f.KeepLastN(int(math.Round((f.EndSeconds - t) * float64(d.format.SampleRate))))
			f.StartSeconds = t
		}
		d.seekTarget = -1
		return frames[i:]
	}
	return nil
}

// LoopCompleted resets loop bookkeeping so a new loop pass, or ordinary
// playback, starts clean.
func (d *Decoder) LoopCompleted() {
	d.endOfLoop.Store(false)
	d.clearQueue()
}

// Stop discards queued frames when playback stops.
func (d *Decoder) Stop() {
	d.clearQueue()
}

func (d *Decoder) clearQueue() {
	for _, f := range d.frameQueue {
		f.Free()
	}
	d.frameQueue = nil
	d.seekTarget = -1
}

// Close releases the codec, the demuxer and, if it has a Close method,
// the converter. It is safe to call twice.
func (d *Decoder) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.clearQueue()
	d.codec.Close()
	d.demuxer.Close()
	if c, ok := d.converter.(interface{ Close() }); ok {
		c.Close()
	}
}
