package codec

// Packet is one compressed chunk of audio data read from a container.
// Implementations are owned by the demuxer that produced them and are
// released with Free once the codec has consumed them.
type Packet interface {
	PTS() int64
	Free()
}

// FrameData holds the samples of one decoded frame in the codec's own
// sample format.
type FrameData interface {
	SampleCount() int
	PTS() int64
	Free()
}

// Frame wraps decoded frame data with truncation and timestamp
// bookkeeping used when seeking and when scheduling loops.
//
// Truncation keeps only a window of the underlying samples. KeepLastN
// drops samples from the start of the frame (used after a seek), and
// KeepFirstN drops samples from the end (used at a loop boundary).
type Frame struct {
	Data FrameData

	// StartSeconds and EndSeconds are set by the decoder when frames need
	// timestamps; they are -1 otherwise.
	StartSeconds float64
	EndSeconds   float64

	firstSample int
	truncated   int
}

// NewFrame wraps data in a Frame with no truncation and unset timestamps.
func NewFrame(data FrameData) *Frame {
	return &Frame{
		Data:         data,
		StartSeconds: -1,
		EndSeconds:   -1,
		truncated:    -1,
	}
}

// ActualSampleCount is the number of samples the codec produced.
func (f *Frame) ActualSampleCount() int { return f.Data.SampleCount() }

// SampleCount is the number of samples that will be used for playback.
func (f *Frame) SampleCount() int {
	if f.truncated >= 0 {
		return f.truncated
	}
	return f.Data.SampleCount()
}

// FirstSampleIndex is the offset of the first sample used for playback.
func (f *Frame) FirstSampleIndex() int { return f.firstSample }

// PTS is the presentation timestamp in stream time base units.
func (f *Frame) PTS() int64 { return f.Data.PTS() }

// IsTruncated reports whether only part of the frame will be played.
func (f *Frame) IsTruncated() bool { return f.truncated >= 0 }

// KeepFirstN keeps only the first n samples of the frame.
func (f *Frame) KeepFirstN(n int) {
	if n < 0 {
		n = 0
	}
	if n < f.ActualSampleCount() {
		f.firstSample = 0
		f.truncated = n
	}
}

// KeepLastN keeps only the last n samples of the frame.
func (f *Frame) KeepLastN(n int) {
	if n < 0 {
		n = 0
	}
	if actual := f.ActualSampleCount(); n < actual {
		f.firstSample = actual - n
		f.truncated = n
	}
}

// Free releases the underlying frame data.
func (f *Frame) Free() {
	if f.Data != nil {
		f.Data.Free()
	}
}

// PacketFrames is the ordered batch of frames produced by decoding one
// packet, or by draining the codec.
type PacketFrames struct {
	frames      []*Frame
	sampleCount int
}

func NewPacketFrames() *PacketFrames {
	return &PacketFrames{}
}

// Append adds a frame at the end of the batch.
func (pf *PacketFrames) Append(f *Frame) {
	pf.frames = append(pf.frames, f)
	pf.sampleCount += f.SampleCount()
}

// Frames returns the frames in decode order.
func (pf *PacketFrames) Frames() []*Frame { return pf.frames }

func (pf *PacketFrames) Len() int { return len(pf.frames) }

func (pf *PacketFrames) SampleCount() int { return pf.sampleCount }

// KeepLastN keeps only the last n samples of the whole batch, discarding
// leading frames entirely when needed.
func (pf *PacketFrames) KeepLastN(n int) {
	if n >= pf.sampleCount {
		return
	}
	drop := pf.sampleCount - n
	kept := pf.frames[:0]
	for _, f := range pf.frames {
		if drop == 0 {
			kept = append(kept, f)
			continue
		}
		sc := f.SampleCount()
		if sc <= drop {
			drop -= sc
			f.Free()
			continue
		}
		f.KeepLastN(sc - drop)
		drop = 0
		kept = append(kept, f)
	}
	pf.frames = kept
	pf.sampleCount = n
}

// Free releases every frame in the batch.
func (pf *PacketFrames) Free() {
	for _, f := range pf.frames {
		f.Free()
	}
	pf.frames = nil
	pf.sampleCount = 0
}
