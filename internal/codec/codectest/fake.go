// Package codectest provides scripted codec contexts and packets for tests
// that exercise decoding without FFmpeg.
package codectest

import (
	"errors"
	"sync"

	"github.com/aural-player/auralcore/internal/codec"
)

// Packet is a scripted compressed packet. Decoding it yields Frames frames
// of SamplesPerFrame samples each, whose PTS values (in samples) start at
// Pts and advance by SamplesPerFrame.
type Packet struct {
	Pts             int64
	Frames          int
	SamplesPerFrame int
	// Fail makes SendPacket reject this packet with code -22.
	Fail bool

	freed bool
}

func (p *Packet) PTS() int64  { return p.Pts }
func (p *Packet) Free()       { p.freed = true }
func (p *Packet) Freed() bool { return p.freed }

// FrameData is a decoded frame whose samples are interleaved float32
// values. Sample i of channel c equals float32(pts+i) for easy checking.
type FrameData struct {
	Pts      int64
	Channels int
	Samples  []float32

	freed bool
}

func NewFrameData(pts int64, sampleCount, channels int) *FrameData {
	s := make([]float32, sampleCount*channels)
	for i := 0; i < sampleCount; i++ {
		for c := 0; c < channels; c++ {
			s[i*channels+c] = float32(pts + int64(i))
		}
	}
	return &FrameData{Pts: pts, Channels: channels, Samples: s}
}

func (f *FrameData) SampleCount() int {
	if f.Channels == 0 {
		return 0
	}
	return len(f.Samples) / f.Channels
}
func (f *FrameData) PTS() int64  { return f.Pts }
func (f *FrameData) Free()       { f.freed = true }
func (f *FrameData) Freed() bool { return f.freed }

// ErrSendFailed is the error returned for packets scripted to fail.
var ErrSendFailed = errors.New("invalid data found when processing input")

type sendError struct{ code int }

func (e sendError) Error() string { return ErrSendFailed.Error() }
func (e sendError) Code() int     { return e.code }
func (e sendError) Unwrap() error { return ErrSendFailed }

// Context is a scripted codec.Context. It holds back Lookahead frames
// internally until it is drained with a nil packet.
type Context struct {
	mu sync.Mutex

	Lookahead     int
	Channels      int
	Format        codec.SampleFormat
	Layout        codec.ChannelLayout
	OpenErr       error
	FailFlushSend bool

	ThreadCount int
	ThreadType  codec.ThreadType
	Opened      int
	Flushes     int
	Sent        []int64

	pending  []*FrameData
	draining bool
	drained  bool
	freed    bool
}

// NewContext returns a stereo float context with no lookahead.
func NewContext() *Context {
	return &Context{
		Channels: 2,
		Format:   codec.SampleFormat{Name: "flt", BytesPerSample: 4, Float: true},
		Layout:   codec.ChannelLayout{Name: "stereo", Channels: 2},
	}
}

// Alloc returns an AllocFunc handing out c.
func (c *Context) Alloc() codec.AllocFunc {
	return func(codec.Params) (codec.Context, error) { return c, nil }
}

func (c *Context) SetThreadCount(n int)             { c.ThreadCount = n }
func (c *Context) SetThreadType(t codec.ThreadType) { c.ThreadType = t }

func (c *Context) Open() error {
	c.Opened++
	return c.OpenErr
}

func (c *Context) SendPacket(p codec.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p == nil {
		if c.FailFlushSend {
			return sendError{code: -5}
		}
		if c.drained || c.draining {
			return codec.ErrEOF
		}
		c.draining = true
		return nil
	}
	if c.draining || c.drained {
		return codec.ErrEOF
	}

	sp := p.(*Packet)
	c.Sent = append(c.Sent, sp.Pts)
	if sp.Fail {
		return sendError{code: -22}
	}
	pts := sp.Pts
	for i := 0; i < sp.Frames; i++ {
		c.pending = append(c.pending, NewFrameData(pts, sp.SamplesPerFrame, c.Channels))
		pts += int64(sp.SamplesPerFrame)
	}
	return nil
}

func (c *Context) ReceiveFrame() (codec.FrameData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.draining {
		if len(c.pending) == 0 {
			c.draining = false
			c.drained = true
			return nil, codec.ErrEOF
		}
	} else if c.drained {
		return nil, codec.ErrEOF
	} else if len(c.pending) <= c.Lookahead {
		return nil, codec.ErrAgain
	}
	fd := c.pending[0]
	c.pending = c.pending[1:]
	return fd, nil
}

func (c *Context) FlushBuffers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Flushes++
	c.pending = nil
	c.draining = false
	c.drained = false
}

// Buffered returns the number of frames held inside the codec.
func (c *Context) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Context) SampleFormat() codec.SampleFormat   { return c.Format }
func (c *Context) ChannelLayout() codec.ChannelLayout { return c.Layout }
func (c *Context) Free()                              { c.freed = true }
func (c *Context) Freed() bool                        { return c.freed }
