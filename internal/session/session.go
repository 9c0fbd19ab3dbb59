// Package session identifies playback attempts so that asynchronous work
// belonging to a superseded attempt can be recognized and ignored.
package session

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aural-player/auralcore/internal/track"
)

// ID is a generation number. IDs are unique within a process and compare
// by value.
type ID uint64

func (id ID) String() string { return fmt.Sprintf("session-%d", uint64(id)) }

var ErrInvalidLoop = errors.New("loop start must precede loop end")

// PlaybackLoop is an A/B repeat window in track-relative seconds. EndTime
// is nil while the user has marked only the start.
type PlaybackLoop struct {
	StartTime float64
	EndTime   *float64
}

// NewLoop returns a complete loop from start to end.
func NewLoop(start, end float64) (*PlaybackLoop, error) {
	l := &PlaybackLoop{StartTime: start, EndTime: &end}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *PlaybackLoop) IsComplete() bool { return l != nil && l.EndTime != nil }

func (l *PlaybackLoop) Validate() error {
	if l.StartTime < 0 {
		return fmt.Errorf("%w: start %.3f is negative", ErrInvalidLoop, l.StartTime)
	}
	if l.EndTime != nil && *l.EndTime <= l.StartTime {
		return fmt.Errorf("%w: %.3f >= %.3f", ErrInvalidLoop, l.StartTime, *l.EndTime)
	}
	return nil
}

// Duration is the loop length in seconds, or 0 for an incomplete loop.
func (l *PlaybackLoop) Duration() float64 {
	if !l.IsComplete() {
		return 0
	}
	return *l.EndTime - l.StartTime
}

// Session is one playback attempt of a track. A session is immutable; a
// new one is started for every seek epoch that must invalidate pending
// work.
type Session struct {
	ID        ID
	Track     *track.Track
	Loop      *PlaybackLoop
	Timestamp time.Time
}

func (s *Session) HasLoop() bool         { return s.Loop != nil }
func (s *Session) HasCompleteLoop() bool { return s.Loop.IsComplete() }

// Registry holds the current session. At most one session is current.
// All methods are safe for concurrent use.
type Registry struct {
	current atomic.Pointer[Session]
	nextID  atomic.Uint64
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) newSession(t *track.Track, loop *PlaybackLoop) *Session {
	return &Session{
		ID:        ID(r.nextID.Add(1)),
		Track:     t,
		Loop:      loop,
		Timestamp: time.Now(),
	}
}

// Start makes a new session for t current, superseding any other.
func (r *Registry) Start(t *track.Track) *Session {
	s := r.newSession(t, nil)
	r.current.Store(s)
	return s
}

// StartWithLoop makes a new looping session for t current.
func (r *Registry) StartWithLoop(t *track.Track, loop *PlaybackLoop) *Session {
	s := r.newSession(t, loop)
	r.current.Store(s)
	return s
}

// StartNewSessionForPlayingTrack replaces the current session with a new
// one for the same track and loop. It returns nil when nothing is playing.
func (r *Registry) StartNewSessionForPlayingTrack() *Session {
	for {
		cur := r.current.Load()
		if cur == nil {
			return nil
		}
		s := r.newSession(cur.Track, cur.Loop)
		if r.current.CompareAndSwap(cur, s) {
			return s
		}
	}
}

// StartNewSessionWithLoop replaces the current session with one for the
// same track using loop, which may be nil to leave loop mode.
func (r *Registry) StartNewSessionWithLoop(loop *PlaybackLoop) *Session {
	for {
		cur := r.current.Load()
		if cur == nil {
			return nil
		}
		s := r.newSession(cur.Track, loop)
		if r.current.CompareAndSwap(cur, s) {
			return s
		}
	}
}

// EndCurrent invalidates the current session and returns it.
func (r *Registry) EndCurrent() *Session {
	return r.current.Swap(nil)
}

func (r *Registry) Current() *Session {
	return r.current.Load()
}

// IsCurrent reports whether s is the current session.
func (r *Registry) IsCurrent(s *Session) bool {
	if s == nil {
		return false
	}
	cur := r.current.Load()
	return cur != nil && cur.ID == s.ID
}
