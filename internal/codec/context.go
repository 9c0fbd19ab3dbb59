package codec

import "fmt"

// SampleFormat describes how the codec lays out decoded samples.
type SampleFormat struct {
	Name           string
	BytesPerSample int
	Planar         bool
	Float          bool
}

// IsZero reports whether the format is unknown.
func (f SampleFormat) IsZero() bool { return f.Name == "" && f.BytesPerSample == 0 }

// NeedsFormatConversion reports whether samples in this format have to be
// converted before they can be handed to the playback engine, whose
// native format is packed 32-bit float.
func (f SampleFormat) NeedsFormatConversion() bool {
	return !(f.Float && f.BytesPerSample == 4 && !f.Planar)
}

func (f SampleFormat) String() string { return f.Name }

// ChannelLayout describes the number and spatial arrangement of channels.
type ChannelLayout struct {
	Name     string
	Channels int
}

func (l ChannelLayout) String() string {
	if l.Name != "" {
		return l.Name
	}
	return fmt.Sprintf("%d channels", l.Channels)
}

// Params are the codec parameters read from a container stream.
//
// SampleFormat and ChannelLayout are provisional: some containers report
// them incorrectly or not at all, so AudioCodec.Open re-reads them from
// the live codec context.
type Params struct {
	CodecID       int
	CodecName     string
	BitRate       int64
	SampleRate    int
	Channels      int
	SampleFormat  SampleFormat
	ChannelLayout ChannelLayout
}

// ThreadType selects the kind of codec-internal parallelism.
type ThreadType int

const (
	ThreadTypeFrame ThreadType = 1 << iota
	ThreadTypeSlice
)

func (t ThreadType) String() string {
	switch t {
	case ThreadTypeFrame:
		return "frame"
	case ThreadTypeSlice:
		return "slice"
	default:
		return "unknown"
	}
}

// Context owns the decode state of one codec instance. A nil packet
// passed to SendPacket is the flush signal that asks the codec to emit
// any frames it buffers internally.
type Context interface {
	SetThreadCount(n int)
	SetThreadType(t ThreadType)
	Open() error
	SendPacket(p Packet) error
	ReceiveFrame() (FrameData, error)
	FlushBuffers()
	SampleFormat() SampleFormat
	ChannelLayout() ChannelLayout
	Free()
}

// AllocFunc allocates a Context for the given parameters and copies the
// parameters into it.
type AllocFunc func(Params) (Context, error)
