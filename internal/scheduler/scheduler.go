// Package scheduler keeps the playback node fed with decoded buffers,
// chaining decode-ahead work from buffer completions until the end of the
// track or loop pass.
package scheduler

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/aural-player/auralcore/internal/decoder"
	"github.com/aural-player/auralcore/internal/events"
	"github.com/aural-player/auralcore/internal/metrics"
	"github.com/aural-player/auralcore/internal/pcm"
	"github.com/aural-player/auralcore/internal/player"
	"github.com/aural-player/auralcore/internal/session"
	"github.com/aural-player/auralcore/internal/track"
	"github.com/aural-player/auralcore/internal/workqueue"
)

var (
	ErrNotPrepared = errors.New("track has no playback context")
	ErrNoLoop      = errors.New("session has no complete loop")
	ErrNoSession   = errors.New("no session")

	ErrTrackNoLongerReadable = errors.New("track is no longer readable")
)

// Node is the playback node the scheduler feeds.
type Node interface {
	ScheduleBuffer(buf *pcm.Buffer, sess *session.Session, onComplete player.CompletionFunc, seekPosition *float64, immediate bool)
	Play()
	Pause()
	Stop()
	IsPlaying() bool
	SeekPosition() float64
	SeekToEndOfTrack(sess *session.Session, frameCount int64)
}

type Scheduler struct {
	log       *slog.Logger
	node      Node
	registry  *session.Registry
	messenger *events.Messenger
	stats     *metrics.Stats
	queue     *workqueue.Queue

	// counters holds the buffer counter of the latest priming of each
	// session still known to the scheduler.
	counters *xsync.MapOf[session.ID, *bufferCounter]

	// opMu serializes the public operations. Work queue tasks never take
	// it.
	opMu sync.Mutex

	state       atomic.Int32
	lastSession atomic.Pointer[session.Session]
	// completedWhilePaused holds a session whose track ended by seeking
	// to its end while paused. Resume completes it.
	completedWhilePaused atomic.Pointer[session.Session]

	gapless                     atomic.Pointer[gaplessRun]
	gaplessCompletedWhilePaused atomic.Pointer[gaplessCompletion]
}

func New(node Node, registry *session.Registry, messenger *events.Messenger, stats *metrics.Stats, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:       log,
		node:      node,
		registry:  registry,
		messenger: messenger,
		stats:     stats,
		queue:     workqueue.New(log.With("component", "workqueue")),
		counters:  xsync.NewMapOf[session.ID, *bufferCounter](),
	}
}

func (s *Scheduler) State() State { return State(s.state.Load()) }

func (s *Scheduler) setState(st State) { s.state.Store(int32(st)) }

// BuffersInFlight is the number of buffers of sess scheduled on the node
// and not yet completed.
func (s *Scheduler) BuffersInFlight(sess *session.Session) int64 {
	c, ok := s.counters.Load(sess.ID)
	if !ok {
		return 0
	}
	return c.load()
}

func playbackContext(sess *session.Session) (*track.PlaybackContext, error) {
	if sess == nil {
		return nil, ErrNoSession
	}
	if sess.Track == nil || sess.Track.Context == nil {
		return nil, ErrNotPrepared
	}
	return sess.Track.Context, nil
}

// PlayTrack starts playing sess at startPosition seconds, or at the start
// of the track (or loop) when startPosition is nil.
func (s *Scheduler) PlayTrack(sess *session.Session, startPosition *float64) error {
	if _, err := playbackContext(sess); err != nil {
		return err
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	start := 0.0
	switch {
	case startPosition != nil:
		start = *startPosition
	case sess.HasCompleteLoop():
		start = sess.Loop.StartTime
	}
	s.prime(sess, start, true, false)
	return nil
}

// SeekToTime restarts scheduling of sess at seconds. Sessions with a
// complete loop restart the loop from seconds instead.
func (s *Scheduler) SeekToTime(sess *session.Session, seconds float64, beginPlayback bool) error {
	if _, err := playbackContext(sess); err != nil {
		return err
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.prime(sess, seconds, beginPlayback, false)
	return nil
}

func (s *Scheduler) Pause() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.node.Pause()
}

// Resume continues playback. A track that was completed by seeking to its
// end while paused is reported complete instead.
func (s *Scheduler) Resume() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if sess := s.completedWhilePaused.Swap(nil); sess != nil && s.registry.IsCurrent(sess) {
		s.trackCompleted(sess)
		return
	}
	if c := s.gaplessCompletedWhilePaused.Swap(nil); c != nil && s.gaplessLive(c.run) {
		s.queue.Add(func() {
			if s.gaplessLive(c.run) {
				s.gaplessTrackCompleted(c.run, c.tr)
			}
		})
		if !c.more {
			return
		}
	}
	s.node.Play()
}

// Stop discards everything scheduled and waits for in-progress decoding
// to finish. Completions still outstanding become no-ops.
func (s *Scheduler) Stop() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	// Counters go first: the node fires its discarded completions as soon
	// as it is stopped.
	last := s.lastSession.Swap(nil)
	if last != nil {
		s.counters.Delete(last.ID)
	}
	run := s.gapless.Swap(nil)

	s.stopScheduling(false)
	if last != nil && last.Track.Context != nil {
		last.Track.Context.Decoder.Stop()
	}
	run.stopCurrent()
	s.completedWhilePaused.Store(nil)
	s.gaplessCompletedWhilePaused.Store(nil)
	s.setState(StateStopped)
}

// Close stops playback and the work queue.
func (s *Scheduler) Close() {
	s.Stop()
	s.queue.Close()
}

// stopScheduling stops the node and drops pending decode work. From a
// work queue task the running task cannot be waited for.
func (s *Scheduler) stopScheduling(onQueue bool) {
	s.node.Stop()
	if onQueue {
		s.queue.Cancel()
	} else {
		s.queue.CancelAndWait()
	}
}

// prime restarts scheduling of sess at startTime: the first buffer is
// decoded and scheduled before prime returns and the second is decoded on
// the work queue.
func (s *Scheduler) prime(sess *session.Session, startTime float64, beginPlayback, onQueue bool) {
	pctx := sess.Track.Context
	dec := pctx.Decoder

	// The previous priming is invalidated before the node is stopped, so
	// the completions it fires for discarded buffers are stale.
	s.counters.Delete(sess.ID)
	if prev := s.lastSession.Swap(sess); prev != nil && prev.ID != sess.ID {
		s.counters.Delete(prev.ID)
	}
	run := s.gapless.Swap(nil)

	s.stopScheduling(onQueue)
	run.stopCurrent()

	counter := &bufferCounter{}
	s.counters.Store(sess.ID, counter)
	s.completedWhilePaused.Store(nil)
	s.gaplessCompletedWhilePaused.Store(nil)
	s.setState(StatePriming)

	dec.LoopCompleted()
	dec.SetFramesNeedTimestamps(sess.HasCompleteLoop())
	dec.SetErrorHandler(func(err error) { s.decodeFailed(sess, err) })

	log := s.log.With("session", sess.ID, "track", sess.Track.DisplayName)
	if err := dec.Seek(startTime); err != nil {
		log.Error("unable to start playback", "time", startTime, "err", err)
		s.setState(StateStopped)
		return
	}

	if dec.EOF() {
		s.seekedToEnd(sess, counter, startTime, beginPlayback, onQueue)
		return
	}

	seekPosition := startTime
	scheduled := s.scheduleNext(sess, counter, pctx.SampleCountForImmediatePlayback, &seekPosition, true)
	switch {
	case !scheduled && dec.FatalError():
		return
	case !scheduled && s.atEnd(sess):
		s.seekedToEnd(sess, counter, startTime, beginPlayback, onQueue)
		return
	case !s.atEnd(sess):
		s.queue.Add(func() { s.continueChain(sess, counter) })
	}

	if beginPlayback && counter.load() > 0 {
		s.node.Play()
	}
	log.Debug("playback primed", "time", startTime, "buffers", counter.load())
}

// seekedToEnd handles a seek that landed at the end of the track, or of
// the loop pass.
func (s *Scheduler) seekedToEnd(sess *session.Session, counter *bufferCounter, startTime float64, playing, onQueue bool) {
	// A loop whose start lies past the end of the track would restart
	// forever; such a session simply completes.
	if sess.HasCompleteLoop() && startTime > sess.Loop.StartTime {
		if onQueue {
			s.finish(sess, counter)
		} else {
			s.queue.Add(func() { s.finish(sess, counter) })
		}
		return
	}
	counter.finish()
	if playing {
		s.trackCompleted(sess)
		return
	}
	s.completedWhilePaused.Store(sess)
	s.node.SeekToEndOfTrack(sess, sess.Track.Context.FrameCount)
	s.setState(StateCompleted)
}

// atEnd reports whether everything of the track or loop pass has been
// decoded.
func (s *Scheduler) atEnd(sess *session.Session) bool {
	dec := sess.Track.Context.Decoder
	if sess.HasCompleteLoop() {
		return dec.EndOfLoop() || dec.EOF()
	}
	return dec.EOF()
}

// isLive reports whether counter belongs to the current priming of the
// current session.
func (s *Scheduler) isLive(sess *session.Session, counter *bufferCounter) bool {
	if !s.registry.IsCurrent(sess) {
		return false
	}
	c, ok := s.counters.Load(sess.ID)
	return ok && c == counter
}

// scheduleNext decodes up to maxSamples frames and schedules them. It
// returns false if nothing could be decoded.
func (s *Scheduler) scheduleNext(sess *session.Session, counter *bufferCounter, maxSamples int, seekPosition *float64, immediate bool) bool {
	pctx := sess.Track.Context
	dec := pctx.Decoder

	start := time.Now()
	var buf *pcm.Buffer
	if sess.HasCompleteLoop() {
		buf = dec.DecodeLoop(maxSamples, *sess.Loop.EndTime, pctx.Format)
	} else {
		buf = dec.Decode(maxSamples, pctx.Format)
	}
	if buf == nil {
		if dec.FatalError() {
			s.log.Error("track is no longer readable", "session", sess.ID, "track", sess.Track.DisplayName)
			s.setState(StateStopped)
			s.publish(events.Event{Kind: events.TrackNoLongerReadable, Session: sess, Err: ErrTrackNoLongerReadable})
		}
		return false
	}
	s.stats.Decoded(buf.FrameCount(), time.Since(start))

	counter.increment()
	s.stats.BufferScheduled()
	s.node.ScheduleBuffer(buf, sess, func(cs *session.Session) {
		s.bufferCompleted(cs, counter)
	}, seekPosition, immediate)

	if s.atEnd(sess) {
		s.setState(StateDraining)
	} else {
		s.setState(StateStreaming)
	}
	return true
}

// bufferCompleted runs on the node's goroutine. It only updates the
// counter and hands the decision of what to do next to the work queue.
func (s *Scheduler) bufferCompleted(sess *session.Session, counter *bufferCounter) {
	if !s.isLive(sess, counter) {
		s.stats.StaleCompletion()
		return
	}
	remaining := counter.decrement()
	s.stats.BufferCompleted()

	if !s.atEnd(sess) {
		s.queue.Add(func() { s.continueChain(sess, counter) })
		return
	}
	if remaining == 0 {
		s.queue.Add(func() { s.finish(sess, counter) })
	}
}

// continueChain decodes and schedules one deferred buffer. Runs on the
// work queue.
func (s *Scheduler) continueChain(sess *session.Session, counter *bufferCounter) {
	if !s.isLive(sess, counter) {
		return
	}
	if sess.Track.Context.Decoder.FatalError() {
		return
	}
	if !s.atEnd(sess) {
		s.scheduleNext(sess, counter, sess.Track.Context.SampleCountForDeferredPlayback, nil, false)
	}
	if s.atEnd(sess) && counter.load() == 0 {
		s.finish(sess, counter)
	}
}

// finish handles the end of a track or loop pass once every buffer has
// played. Runs on the work queue.
func (s *Scheduler) finish(sess *session.Session, counter *bufferCounter) {
	if !s.isLive(sess, counter) || !counter.finish() {
		return
	}
	if sess.HasCompleteLoop() {
		s.restartLoop(sess)
		return
	}
	s.trackCompleted(sess)
}

func (s *Scheduler) trackCompleted(sess *session.Session) {
	s.setState(StateCompleted)
	s.log.Info("track completed", "session", sess.ID, "track", sess.Track.DisplayName)
	s.publish(events.Event{Kind: events.TrackCompleted, Session: sess})
}

func (s *Scheduler) decodeFailed(sess *session.Session, err error) {
	op := "decode"
	var se *decoder.SeekError
	if errors.As(err, &se) {
		op = "seek"
	}
	s.stats.DecodeError(op)
	if s.registry.IsCurrent(sess) {
		s.publish(events.Event{Kind: events.DecodeFailure, Session: sess, Err: err})
	}
}

func (s *Scheduler) publish(e events.Event) {
	if s.messenger != nil {
		s.messenger.Publish(e)
	}
}
