// Package track describes a playable file and the state needed to decode
// it while it is being played.
package track

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aural-player/auralcore/internal/decoder"
	"github.com/aural-player/auralcore/internal/pcm"
)

type Track struct {
	Path        string
	DisplayName string
	// Context is set while the track is prepared for playback.
	Context *PlaybackContext
}

// New returns a track for path, named after the file.
func New(path string) *Track {
	base := filepath.Base(path)
	return &Track{
		Path:        path,
		DisplayName: strings.TrimSuffix(base, filepath.Ext(base)),
	}
}

func (t *Track) String() string { return t.DisplayName }

// Duration is the track length in seconds, or 0 when not prepared.
func (t *Track) Duration() float64 {
	if t.Context == nil {
		return 0
	}
	return t.Context.Decoder.Duration()
}

// PlaybackContext binds a prepared track to its decoder and to the
// buffer sizes the scheduler requests from it.
type PlaybackContext struct {
	Decoder *decoder.Decoder
	// Format is the playback engine's format for this track.
	Format pcm.Format

	SampleCountForImmediatePlayback int
	SampleCountForDeferredPlayback  int
	// FrameCount is the track length in sample frames.
	FrameCount int64
}

// NewPlaybackContext sizes the immediate and deferred buffers from
// durations in seconds at the decoder's sample rate.
func NewPlaybackContext(dec *decoder.Decoder, immediateSeconds, deferredSeconds float64) (*PlaybackContext, error) {
	rate := dec.SampleRate()
	format := pcm.Format{SampleRate: rate, Channels: dec.Format().Channels}
	if !format.Valid() {
		return nil, fmt.Errorf("invalid playback format %d Hz / %d channels", format.SampleRate, format.Channels)
	}
	return &PlaybackContext{
		Decoder:                         dec,
		Format:                          format,
		SampleCountForImmediatePlayback: int(immediateSeconds * float64(rate)),
		SampleCountForDeferredPlayback:  int(deferredSeconds * float64(rate)),
		FrameCount:                      int64(dec.Duration() * float64(rate)),
	}, nil
}

// Close releases the decoder.
func (c *PlaybackContext) Close() {
	c.Decoder.Close()
}
