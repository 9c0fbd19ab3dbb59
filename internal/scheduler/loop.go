package scheduler

import (
	"github.com/aural-player/auralcore/internal/events"
	"github.com/aural-player/auralcore/internal/session"
)

// PlayLoop starts a pass of the session's loop from the loop start.
func (s *Scheduler) PlayLoop(sess *session.Session, beginPlayback bool) error {
	if _, err := playbackContext(sess); err != nil {
		return err
	}
	if !sess.HasCompleteLoop() {
		return ErrNoLoop
	}
	return s.PlayLoopFrom(sess, sess.Loop.StartTime, beginPlayback)
}

// PlayLoopFrom starts a pass of the session's loop from startTime, which
// should lie inside the loop. Later passes start at the loop start.
func (s *Scheduler) PlayLoopFrom(sess *session.Session, startTime float64, beginPlayback bool) error {
	if _, err := playbackContext(sess); err != nil {
		return err
	}
	if !sess.HasCompleteLoop() {
		return ErrNoLoop
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.prime(sess, startTime, beginPlayback, false)
	return nil
}

// EndLoop leaves loop mode without moving the listening position: it
// captures the node's position, stops the loop and continues ordinary
// playback of sess, a session without a loop, from there.
func (s *Scheduler) EndLoop(sess *session.Session, beginPlayback bool) error {
	pctx, err := playbackContext(sess)
	if err != nil {
		return err
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	position := s.node.SeekPosition()
	s.stopScheduling(false)
	pctx.Decoder.LoopCompleted()

	s.log.Debug("loop ended", "session", sess.ID, "position", position)
	s.prime(sess, position, beginPlayback, false)
	return nil
}

// restartLoop starts the next pass of a loop whose buffers have all
// played. Runs on the work queue.
func (s *Scheduler) restartLoop(sess *session.Session) {
	s.setState(StateLooping)
	sess.Track.Context.Decoder.LoopCompleted()
	s.stats.LoopRestarted()
	s.log.Debug("loop restarted", "session", sess.ID, "start", sess.Loop.StartTime)
	s.publish(events.Event{Kind: events.LoopRestarted, Session: sess})

	s.prime(sess, sess.Loop.StartTime, s.node.IsPlaying(), true)
}
