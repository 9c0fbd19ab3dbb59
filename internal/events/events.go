// Package events publishes asynchronous playback notifications to the
// rest of the application.
package events

import (
	"log/slog"
	"sync"

	"github.com/aural-player/auralcore/internal/metrics"
	"github.com/aural-player/auralcore/internal/session"
	"github.com/aural-player/auralcore/internal/track"
)

type Kind int

const (
	// TrackCompleted is published once every buffer of a track has played.
	TrackCompleted Kind = iota + 1
	// LoopRestarted is published when a loop pass ends and playback jumps
	// back to the loop start.
	LoopRestarted
	// DecodeFailure reports a decode or seek error that was logged and
	// skipped.
	DecodeFailure
	// TrackNoLongerReadable is published when the decoder gave up on a
	// track after repeated errors.
	TrackNoLongerReadable
	// GaplessTrackCompleted is published for each track of a gapless
	// sequence once its last buffer has played.
	GaplessTrackCompleted
)

func (k Kind) String() string {
	switch k {
	case TrackCompleted:
		return "track_completed"
	case LoopRestarted:
		return "loop_restarted"
	case DecodeFailure:
		return "decode_failure"
	case TrackNoLongerReadable:
		return "track_no_longer_readable"
	case GaplessTrackCompleted:
		return "gapless_track_completed"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind    Kind
	Session *session.Session
	// Track is the track an event of a gapless sequence is about.
	Track *track.Track
	// Err is set for DecodeFailure and TrackNoLongerReadable.
	Err error
}

type subscriber struct {
	ch chan Event
}

// Messenger fans events out to subscribers. Publish never blocks: an event
// for a subscriber whose channel is full is dropped and logged.
type Messenger struct {
	log   *slog.Logger
	stats *metrics.Stats

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

func NewMessenger(stats *metrics.Stats, log *slog.Logger) *Messenger {
	if log == nil {
		log = slog.Default()
	}
	return &Messenger{
		log:   log,
		stats: stats,
		subs:  make(map[*subscriber]struct{}),
	}
}

// Subscribe returns a channel receiving every event published from now on
// and a function that cancels the subscription and closes the channel.
func (m *Messenger) Subscribe(buffer int) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, buffer)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subs[sub]; ok {
				delete(m.subs, sub)
				close(sub.ch)
			}
		})
	}
}

func (m *Messenger) Publish(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sub := range m.subs {
		select {
		case sub.ch <- e:
		default:
			m.log.Warn("dropping event for slow subscriber", "event", e.Kind.String())
			m.stats.EventDropped(e.Kind.String())
		}
	}
}

// Close closes every subscriber channel. Later publications are dropped.
func (m *Messenger) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for sub := range m.subs {
		close(sub.ch)
		delete(m.subs, sub)
	}
}
