package codec

// AudioFormat describes frames held by a FrameBuffer.
type AudioFormat struct {
	SampleRate    int
	Channels      int
	ChannelLayout ChannelLayout
	SampleFormat  SampleFormat
}

// FrameBuffer accumulates decoded frames, up to a maximum sample count,
// until they are converted into one playback buffer.
type FrameBuffer struct {
	Format         AudioFormat
	MaxSampleCount int

	frames      []*Frame
	sampleCount int
}

func NewFrameBuffer(format AudioFormat, maxSampleCount int) *FrameBuffer {
	return &FrameBuffer{Format: format, MaxSampleCount: maxSampleCount}
}

// AppendFrame appends f unless doing so would take the buffer past its
// maximum sample count. An empty buffer accepts any single frame so that
// an oversized frame cannot stall decoding.
func (b *FrameBuffer) AppendFrame(f *Frame) bool {
	if len(b.frames) > 0 && b.sampleCount+f.SampleCount() > b.MaxSampleCount {
		return false
	}
	b.frames = append(b.frames, f)
	b.sampleCount += f.SampleCount()
	return true
}

// AppendTerminalFrames appends the last frames of a stream or loop pass.
// They are never rejected.
func (b *FrameBuffer) AppendTerminalFrames(fs []*Frame) {
	for _, f := range fs {
		b.frames = append(b.frames, f)
		b.sampleCount += f.SampleCount()
	}
}

func (b *FrameBuffer) Frames() []*Frame { return b.frames }

func (b *FrameBuffer) SampleCount() int { return b.sampleCount }

func (b *FrameBuffer) IsFull() bool { return b.sampleCount >= b.MaxSampleCount }

func (b *FrameBuffer) NeedsFormatConversion() bool {
	return b.Format.SampleFormat.NeedsFormatConversion()
}

// Free releases all frames held by the buffer.
func (b *FrameBuffer) Free() {
	for _, f := range b.frames {
		f.Free()
	}
	b.frames = nil
	b.sampleCount = 0
}
