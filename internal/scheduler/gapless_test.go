package scheduler

import (
	"testing"
	"time"

	"github.com/aural-player/auralcore/internal/assert"
	"github.com/aural-player/auralcore/internal/events"
	"github.com/aural-player/auralcore/internal/track"
)

// secondTrack is a half second track in the fixture's format.
func (f *fixture) secondTrack() *track.Track {
	tr, _ := newTrack(f.t, "/music/next.flac", 1000, 5)
	return tr
}

func TestGaplessPlaysTracksBackToBack(t *testing.T) {
	f := newFixture(t)
	next := f.secondTrack()
	sess := f.reg.Start(f.tr)

	assert.NilErr(t, f.s.PlayGapless(sess, []*track.Track{next}))
	f.waitIdle()
	assert.DeepEqual(t, f.node.plays.Load(), int32(1))
	assert.DeepEqual(t, f.s.GaplessBuffersInFlight(f.tr), int64(2))

	played, e := f.playUntilEvent(events.GaplessTrackCompleted)
	assertSequence(t, played, 0, 1000)
	if e.Track != f.tr || e.Session != sess {
		t.Fatalf("first completion for %v", e.Track)
	}
	if st := f.s.State(); st == StateCompleted {
		t.Fatal("sequence completed after its first track")
	}

	// The second track was scheduled before the first ended, so its
	// frames follow without silence and the position restarts.
	played, e = f.playUntilEvent(events.GaplessTrackCompleted)
	assertSequence(t, played, 0, 500)
	if e.Track != next {
		t.Fatalf("second completion for %v", e.Track)
	}
	assert.DeepEqual(t, f.node.SeekPosition(), 0.5)
	assert.DeepEqual(t, f.s.State(), StateCompleted)
	assert.DeepEqual(t, f.s.GaplessBuffersInFlight(next), int64(0))
	f.expectNoEvent(events.TrackCompleted, 10*time.Millisecond)
}

func TestSeekGaplessStartsInsideFirstTrack(t *testing.T) {
	f := newFixture(t)
	next := f.secondTrack()
	sess := f.reg.Start(f.tr)

	assert.NilErr(t, f.s.SeekGapless(sess, 0.7, true, []*track.Track{next}))
	f.waitIdle()

	assertSequence(t, f.playUntil(events.GaplessTrackCompleted), 700, 1000)
	assertSequence(t, f.playUntil(events.GaplessTrackCompleted), 0, 500)
}

func TestSeekGaplessToEndWhilePlaying(t *testing.T) {
	f := newFixture(t)
	next := f.secondTrack()
	sess := f.reg.Start(f.tr)

	assert.NilErr(t, f.s.SeekGapless(sess, 1.0, true, []*track.Track{next}))
	e := f.expectEvent(events.GaplessTrackCompleted)
	if e.Track != f.tr {
		t.Fatalf("completion for %v, want the first track", e.Track)
	}
	f.waitIdle()

	played, e := f.playUntilEvent(events.GaplessTrackCompleted)
	assertSequence(t, played, 0, 500)
	if e.Track != next {
		t.Fatalf("completion for %v, want the second track", e.Track)
	}
}

func TestSeekGaplessToEndWhilePausedCompletesOnResume(t *testing.T) {
	f := newFixture(t)
	next := f.secondTrack()
	sess := f.reg.Start(f.tr)

	assert.NilErr(t, f.s.SeekGapless(sess, 2.0, false, []*track.Track{next}))
	f.waitIdle()
	f.expectNoEvent(events.GaplessTrackCompleted, 20*time.Millisecond)
	assert.BoolIs(t, f.node.IsPlaying(), false)
	if got := f.render(10); len(got) != 0 {
		t.Fatalf("paused node played %d frames", len(got))
	}

	f.s.Resume()
	e := f.expectEvent(events.GaplessTrackCompleted)
	if e.Track != f.tr {
		t.Fatalf("completion for %v, want the first track", e.Track)
	}
	assert.BoolIs(t, f.node.IsPlaying(), true)
	assertSequence(t, f.playUntil(events.GaplessTrackCompleted), 0, 500)
}

func TestSeekGaplessToEndOfLastTrackWhilePaused(t *testing.T) {
	f := newFixture(t)
	sess := f.reg.Start(f.tr)

	assert.NilErr(t, f.s.SeekGapless(sess, 1.0, false, nil))
	assert.DeepEqual(t, f.node.SeekPosition(), 1.0)
	assert.DeepEqual(t, f.s.State(), StateCompleted)

	f.s.Resume()
	f.expectEvent(events.GaplessTrackCompleted)
	assert.BoolIs(t, f.node.IsPlaying(), false)
}

func TestPlayTrackEndsGaplessSequence(t *testing.T) {
	f := newFixture(t)
	next := f.secondTrack()
	first := f.reg.Start(f.tr)

	assert.NilErr(t, f.s.PlayGapless(first, []*track.Track{next}))
	f.waitIdle()
	f.render(100)

	sess := f.reg.StartNewSessionForPlayingTrack()
	start := 0.5
	assert.NilErr(t, f.s.PlayTrack(sess, &start))
	time.Sleep(20 * time.Millisecond)
	f.waitIdle()

	assert.DeepEqual(t, f.s.GaplessBuffersInFlight(f.tr), int64(0))
	assertSequence(t, f.playUntil(events.TrackCompleted), 500, 1000)
	f.expectNoEvent(events.GaplessTrackCompleted, 10*time.Millisecond)
}

func TestStopInvalidatesGaplessBuffers(t *testing.T) {
	f := newFixture(t)
	next := f.secondTrack()
	sess := f.reg.Start(f.tr)

	assert.NilErr(t, f.s.PlayGapless(sess, []*track.Track{next}))
	f.waitIdle()
	f.s.Stop()
	time.Sleep(20 * time.Millisecond)
	f.waitIdle()

	assert.DeepEqual(t, f.node.Queued(), 0)
	assert.DeepEqual(t, f.s.State(), StateStopped)
	f.expectNoEvent(events.GaplessTrackCompleted, 20*time.Millisecond)
}

func TestGaplessInvalidArguments(t *testing.T) {
	f := newFixture(t)
	sess := f.reg.Start(f.tr)

	assert.ErrorIs(t, f.s.PlayGapless(nil, nil), ErrNoSession)
	assert.ErrorIs(t, f.s.PlayGapless(sess, []*track.Track{track.New("other.mp3")}), ErrNotPrepared)

	faster, _ := newTrack(t, "/music/fast.flac", 2000, 5)
	assert.ErrorIs(t, f.s.PlayGapless(sess, []*track.Track{faster}), ErrFormatMismatch)
	assert.ErrorIs(t, f.s.SeekGapless(sess, 0, true, []*track.Track{f.tr}), ErrDuplicateTrack)
}
