// Package metrics exposes prometheus collectors for the playback pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stats holds pipeline statistics. A nil *Stats discards everything, so
// components may be built without metrics.
type Stats struct {
	reg *prometheus.Registry

	buffersScheduled prometheus.Counter
	buffersCompleted prometheus.Counter
	staleCompletions prometheus.Counter
	buffersInFlight  prometheus.Gauge
	samplesDecoded   prometheus.Counter
	decodeErrors     *prometheus.CounterVec
	loopRestarts     prometheus.Counter
	underruns        prometheus.Counter
	eventsDropped    *prometheus.CounterVec
	decodeSeconds    prometheus.Histogram
}

func New() *Stats {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return &Stats{
		reg: reg,

		buffersScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "aural_buffers_scheduled_total",
			Help: "Total PCM buffers handed to the playback node",
		}),
		buffersCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "aural_buffers_completed_total",
			Help: "Total completions handled for the current session",
		}),
		staleCompletions: f.NewCounter(prometheus.CounterOpts{
			Name: "aural_stale_completions_total",
			Help: "Completions ignored because their session was superseded",
		}),
		buffersInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "aural_buffers_in_flight",
			Help: "Buffers of the current session scheduled but not yet completed",
		}),
		samplesDecoded: f.NewCounter(prometheus.CounterOpts{
			Name: "aural_samples_decoded_total",
			Help: "Total sample frames decoded into playback buffers",
		}),
		decodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aural_decode_errors_total",
			Help: "Count of decode, seek and conversion failures",
		}, []string{"op"}),
		loopRestarts: f.NewCounter(prometheus.CounterOpts{
			Name: "aural_loop_restarts_total",
			Help: "Count of automatic loop restarts",
		}),
		underruns: f.NewCounter(prometheus.CounterOpts{
			Name: "aural_underruns_total",
			Help: "Count of render periods that ran out of scheduled audio while playing",
		}),
		eventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aural_events_dropped_total",
			Help: "Count of events dropped because a subscriber was not keeping up",
		}, []string{"kind"}),
		decodeSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "aural_decode_seconds",
			Help:    "Histogram of the time taken to decode one playback buffer",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// Handler serves the registry in the prometheus exposition format.
func (s *Stats) Handler() http.Handler {
	return promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})
}

func (s *Stats) Registry() *prometheus.Registry { return s.reg }

func (s *Stats) BufferScheduled() {
	if s == nil {
		return
	}
	s.buffersScheduled.Inc()
	s.buffersInFlight.Inc()
}

func (s *Stats) BufferCompleted() {
	if s == nil {
		return
	}
	s.buffersCompleted.Inc()
	s.buffersInFlight.Dec()
}

// StaleCompletion counts a completion of a superseded session. Its buffer
// is no longer in flight.
func (s *Stats) StaleCompletion() {
	if s == nil {
		return
	}
	s.staleCompletions.Inc()
	s.buffersInFlight.Dec()
}

func (s *Stats) Decoded(frames int, took time.Duration) {
	if s == nil {
		return
	}
	s.samplesDecoded.Add(float64(frames))
	s.decodeSeconds.Observe(took.Seconds())
}

func (s *Stats) DecodeError(op string) {
	if s == nil {
		return
	}
	s.decodeErrors.WithLabelValues(op).Inc()
}

func (s *Stats) LoopRestarted() {
	if s == nil {
		return
	}
	s.loopRestarts.Inc()
}

func (s *Stats) Underrun() {
	if s == nil {
		return
	}
	s.underruns.Inc()
}

func (s *Stats) EventDropped(kind string) {
	if s == nil {
		return
	}
	s.eventsDropped.WithLabelValues(kind).Inc()
}
