package scheduler

import (
	"errors"
	"slices"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/aural-player/auralcore/internal/events"
	"github.com/aural-player/auralcore/internal/session"
	"github.com/aural-player/auralcore/internal/track"
)

var (
	ErrFormatMismatch = errors.New("gapless tracks differ in playback format")
	ErrDuplicateTrack = errors.New("track appears twice in gapless sequence")
)

// gaplessRun is one priming of a gapless sequence. current and pending
// are only touched by the work queue, or by a public operation once the
// queue is drained.
type gaplessRun struct {
	sess    *session.Session
	current *track.Track
	pending []*track.Track
	// counters holds one buffer counter per track of the sequence.
	counters *xsync.MapOf[*track.Track, *bufferCounter]
}

func (r *gaplessRun) counter(tr *track.Track) *bufferCounter {
	c, _ := r.counters.LoadOrStore(tr, &bufferCounter{})
	return c
}

// stopCurrent discards the frames queued by the decoder of the track
// being scheduled.
func (r *gaplessRun) stopCurrent() {
	if r != nil && r.current != nil {
		r.current.Context.Decoder.Stop()
	}
}

// gaplessCompletion is a gapless track that ended by seeking to its end
// while paused. more is set when a following track is already scheduled.
type gaplessCompletion struct {
	run  *gaplessRun
	tr   *track.Track
	more bool
}

func validateGapless(sess *session.Session, next []*track.Track) error {
	pctx, err := playbackContext(sess)
	if err != nil {
		return err
	}
	seen := map[*track.Track]bool{sess.Track: true}
	for _, tr := range next {
		if tr == nil || tr.Context == nil {
			return ErrNotPrepared
		}
		if tr.Context.Format != pctx.Format {
			return ErrFormatMismatch
		}
		if seen[tr] {
			return ErrDuplicateTrack
		}
		seen[tr] = true
	}
	return nil
}

// PlayGapless plays sess.Track from its start and then each track of next
// with no gap between them. A GaplessTrackCompleted event is published
// as each track finishes.
func (s *Scheduler) PlayGapless(sess *session.Session, next []*track.Track) error {
	if err := validateGapless(sess, next); err != nil {
		return err
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.primeGapless(sess, next, 0, true)
	return nil
}

// SeekGapless restarts a gapless sequence at seconds into sess.Track,
// followed by next.
func (s *Scheduler) SeekGapless(sess *session.Session, seconds float64, beginPlayback bool, next []*track.Track) error {
	if err := validateGapless(sess, next); err != nil {
		return err
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.primeGapless(sess, next, seconds, beginPlayback)
	return nil
}

// GaplessBuffersInFlight is the number of buffers of tr scheduled by the
// current gapless sequence and not yet completed.
func (s *Scheduler) GaplessBuffersInFlight(tr *track.Track) int64 {
	run := s.gapless.Load()
	if run == nil {
		return 0
	}
	c, ok := run.counters.Load(tr)
	if !ok {
		return 0
	}
	return c.load()
}

func (s *Scheduler) primeGapless(sess *session.Session, next []*track.Track, startTime float64, beginPlayback bool) {
	s.counters.Delete(sess.ID)
	if prev := s.lastSession.Swap(sess); prev != nil && prev.ID != sess.ID {
		s.counters.Delete(prev.ID)
	}
	old := s.gapless.Swap(nil)

	s.stopScheduling(false)
	old.stopCurrent()
	s.completedWhilePaused.Store(nil)
	s.gaplessCompletedWhilePaused.Store(nil)

	run := &gaplessRun{
		sess:     sess,
		pending:  slices.Clone(next),
		counters: xsync.NewMapOf[*track.Track, *bufferCounter](),
	}
	s.gapless.Store(run)
	s.setState(StatePriming)

	tr := sess.Track
	if !s.startGaplessTrack(run, tr, startTime) {
		s.setState(StateStopped)
		return
	}

	if tr.Context.Decoder.EOF() {
		run.counter(tr).finish()
		ended := tr
		if beginPlayback {
			s.gaplessTrackCompleted(run, ended)
		}
		tr = s.advanceGapless(run)
		if !beginPlayback {
			s.gaplessCompletedWhilePaused.Store(&gaplessCompletion{run: run, tr: ended, more: tr != nil})
		}
		if tr == nil {
			if !beginPlayback {
				s.node.SeekToEndOfTrack(sess, ended.Context.FrameCount)
			}
			s.setState(StateCompleted)
			return
		}
		startTime = 0
	}

	counter := run.counter(tr)
	pending := len(run.pending)
	seekPosition := startTime
	s.scheduleGapless(run, tr, counter, tr.Context.SampleCountForImmediatePlayback, &seekPosition, true)
	if !tr.Context.Decoder.FatalError() {
		s.queue.Add(func() { s.continueGapless(run) })
	}
	if beginPlayback && counter.load() > 0 {
		s.node.Play()
	}
	s.log.Debug("gapless playback primed", "session", sess.ID, "track", tr.DisplayName,
		"time", startTime, "pending", pending)
}

// startGaplessTrack makes tr the track being scheduled and seeks its
// decoder to startTime.
func (s *Scheduler) startGaplessTrack(run *gaplessRun, tr *track.Track, startTime float64) bool {
	dec := tr.Context.Decoder
	run.current = tr
	run.counter(tr)

	dec.LoopCompleted()
	dec.SetFramesNeedTimestamps(false)
	dec.SetErrorHandler(func(err error) { s.decodeFailed(run.sess, err) })
	if err := dec.Seek(startTime); err != nil {
		s.log.Error("unable to start gapless track", "session", run.sess.ID, "track", tr.DisplayName,
			"time", startTime, "err", err)
		return false
	}
	return true
}

// advanceGapless moves scheduling to the next pending track that can be
// started and returns it, or nil when the sequence is exhausted.
func (s *Scheduler) advanceGapless(run *gaplessRun) *track.Track {
	run.stopCurrent()
	for len(run.pending) > 0 {
		tr := run.pending[0]
		run.pending = run.pending[1:]
		if s.startGaplessTrack(run, tr, 0) {
			s.log.Debug("gapless track started", "session", run.sess.ID, "track", tr.DisplayName)
			return tr
		}
		s.publish(events.Event{Kind: events.DecodeFailure, Session: run.sess, Track: tr, Err: ErrTrackNoLongerReadable})
	}
	run.current = nil
	return nil
}

// gaplessLive reports whether run is the sequence being played.
func (s *Scheduler) gaplessLive(run *gaplessRun) bool {
	return s.registry.IsCurrent(run.sess) && s.gapless.Load() == run
}

// scheduleGapless decodes up to maxSamples frames of tr and schedules
// them. It returns false if nothing could be decoded.
func (s *Scheduler) scheduleGapless(run *gaplessRun, tr *track.Track, counter *bufferCounter, maxSamples int, seekPosition *float64, immediate bool) bool {
	pctx := tr.Context
	dec := pctx.Decoder

	start := time.Now()
	buf := dec.Decode(maxSamples, pctx.Format)
	if buf == nil {
		if dec.FatalError() {
			s.log.Error("track is no longer readable", "session", run.sess.ID, "track", tr.DisplayName)
			s.setState(StateStopped)
			s.publish(events.Event{Kind: events.TrackNoLongerReadable, Session: run.sess, Track: tr, Err: ErrTrackNoLongerReadable})
		}
		return false
	}
	s.stats.Decoded(buf.FrameCount(), time.Since(start))

	counter.increment()
	s.stats.BufferScheduled()
	s.node.ScheduleBuffer(buf, run.sess, func(*session.Session) {
		s.gaplessBufferCompleted(run, tr, counter)
	}, seekPosition, immediate)

	if dec.EOF() && len(run.pending) == 0 {
		s.setState(StateDraining)
	} else {
		s.setState(StateStreaming)
	}
	return true
}

// gaplessBufferCompleted runs on the node's goroutine.
func (s *Scheduler) gaplessBufferCompleted(run *gaplessRun, tr *track.Track, counter *bufferCounter) {
	if !s.gaplessLive(run) {
		s.stats.StaleCompletion()
		return
	}
	remaining := counter.decrement()
	s.stats.BufferCompleted()

	if remaining == 0 && tr.Context.Decoder.EOF() {
		s.queue.Add(func() { s.gaplessTrackDone(run, tr, counter) })
	}
	s.queue.Add(func() { s.continueGapless(run) })
}

// continueGapless schedules one deferred buffer of the current track. A
// track decoded to its end hands over to the next one, whose first buffer
// restarts the node position at zero. Runs on the work queue.
func (s *Scheduler) continueGapless(run *gaplessRun) {
	if !s.gaplessLive(run) || run.current == nil {
		return
	}
	tr := run.current
	dec := tr.Context.Decoder
	if dec.FatalError() {
		return
	}
	counter := run.counter(tr)
	if !dec.EOF() {
		s.scheduleGapless(run, tr, counter, tr.Context.SampleCountForDeferredPlayback, nil, false)
		if !dec.EOF() || counter.load() > 0 {
			return
		}
	}
	if counter.load() == 0 {
		s.gaplessTrackDone(run, tr, counter)
	}

	nextTrack := s.advanceGapless(run)
	if nextTrack == nil {
		return
	}
	zero := 0.0
	s.scheduleGapless(run, nextTrack, run.counter(nextTrack), nextTrack.Context.SampleCountForDeferredPlayback, &zero, false)
}

// gaplessTrackDone reports tr complete once all of its buffers have
// played. Runs on the work queue.
func (s *Scheduler) gaplessTrackDone(run *gaplessRun, tr *track.Track, counter *bufferCounter) {
	if !s.gaplessLive(run) || !counter.finish() {
		return
	}
	s.gaplessTrackCompleted(run, tr)
}

func (s *Scheduler) gaplessTrackCompleted(run *gaplessRun, tr *track.Track) {
	last := len(run.pending) == 0 && (run.current == nil || run.current == tr)
	if last {
		s.setState(StateCompleted)
	}
	s.log.Info("gapless track completed", "session", run.sess.ID, "track", tr.DisplayName, "last", last)
	s.publish(events.Event{Kind: events.GaplessTrackCompleted, Session: run.sess, Track: tr})
}
