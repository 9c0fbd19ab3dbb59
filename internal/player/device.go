package player

import (
	"log/slog"
	"time"

	"github.com/aural-player/auralcore/internal/pcm"
)

// Device is an audio output that pulls samples from a render function on
// its own goroutine.
type Device interface {
	Name() string
	Start() error
	Stop() error
	Close()
}

// RenderFunc fills out with interleaved float32 samples.
type RenderFunc func(out []float32) int

type DeviceConfig struct {
	// ID selects the playback device. Empty means the system default.
	ID       string
	PeriodMS int
	Format   pcm.Format
	// NoAudio selects the null device even when a sound card is available.
	NoAudio bool
}

func (c DeviceConfig) periodFrames() int {
	ms := c.PeriodMS
	if ms <= 0 {
		ms = 10
	}
	return c.Format.SampleRate * ms / 1000
}

// newPlatformDevice is set by the build-specific device implementation.
var newPlatformDevice func(cfg DeviceConfig, render RenderFunc, log *slog.Logger) (Device, error)

// OpenDevice opens the configured output for render.
func OpenDevice(cfg DeviceConfig, render RenderFunc, log *slog.Logger) (Device, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.NoAudio || newPlatformDevice == nil {
		return NewNullDevice(cfg, render, log), nil
	}
	return newPlatformDevice(cfg, render, log)
}

// NullDevice renders into a scratch buffer at the real-time rate and
// throws the audio away. It drives playback on machines without audio
// hardware.
type NullDevice struct {
	log    *slog.Logger
	render RenderFunc
	period time.Duration
	buf    []float32

	stop chan struct{}
	done chan struct{}
}

func NewNullDevice(cfg DeviceConfig, render RenderFunc, log *slog.Logger) *NullDevice {
	frames := cfg.periodFrames()
	return &NullDevice{
		log:    log,
		render: render,
		period: time.Duration(frames) * time.Second / time.Duration(max(cfg.Format.SampleRate, 1)),
		buf:    make([]float32, frames*cfg.Format.Channels),
	}
}

func (d *NullDevice) Name() string { return "null" }

func (d *NullDevice) Start() error {
	if d.stop != nil {
		return nil
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(d.stop, d.done)
	return nil
}

func (d *NullDevice) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.render(d.buf)
		}
	}
}

func (d *NullDevice) Stop() error {
	if d.stop == nil {
		return nil
	}
	close(d.stop)
	<-d.done
	d.stop, d.done = nil, nil
	return nil
}

func (d *NullDevice) Close() { _ = d.Stop() }
