// Package pcm holds ready-to-play audio in the playback engine's native
// format: interleaved 32-bit float samples.
package pcm

import "time"

// Format is the playback engine's native stream format.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) Valid() bool { return f.SampleRate > 0 && f.Channels > 0 }

// Buffer is one block of converted samples scheduled on the playback node.
type Buffer struct {
	Format  Format
	Samples []float32
}

// NewBuffer returns an empty buffer with room for capacity frames.
func NewBuffer(format Format, capacity int) *Buffer {
	return &Buffer{
		Format:  format,
		Samples: make([]float32, 0, capacity*format.Channels),
	}
}

// AppendFrames appends interleaved samples. len(samples) must be a
// multiple of the channel count.
func (b *Buffer) AppendFrames(samples []float32) {
	b.Samples = append(b.Samples, samples...)
}

// FrameCount is the number of sample frames (one sample per channel).
func (b *Buffer) FrameCount() int {
	if b.Format.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Format.Channels
}

// Duration is the playback time of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.Format.SampleRate == 0 {
		return 0
	}
	return time.Duration(b.FrameCount()) * time.Second / time.Duration(b.Format.SampleRate)
}

// Seconds converts a frame count into seconds at the format's sample rate.
func (f Format) Seconds(frames int) float64 {
	if f.SampleRate == 0 {
		return 0
	}
	return float64(frames) / float64(f.SampleRate)
}
