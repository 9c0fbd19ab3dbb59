package stream

import (
	"errors"

	"github.com/asticode/go-astiav"

	"github.com/aural-player/auralcore/internal/codec"
)

// codecContext implements codec.Context over an FFmpeg codec context.
type codecContext struct {
	cc    *astiav.CodecContext
	codec *astiav.Codec
}

func (c *codecContext) SetThreadCount(n int) { c.cc.SetThreadCount(n) }

func (c *codecContext) SetThreadType(t codec.ThreadType) {
	switch t {
	case codec.ThreadTypeFrame:
		c.cc.SetThreadType(astiav.ThreadTypeFrame)
	case codec.ThreadTypeSlice:
		c.cc.SetThreadType(astiav.ThreadTypeSlice)
	}
}

func (c *codecContext) Open() error {
	return resultError(c.cc.Open(c.codec, nil))
}

// SendPacket sends p, or the flush signal when p is nil.
func (c *codecContext) SendPacket(p codec.Packet) error {
	var pkt *astiav.Packet
	if ap, ok := p.(*packet); ok && ap != nil {
		pkt = ap.pkt
	}
	return resultError(c.cc.SendPacket(pkt))
}

// ReceiveFrame returns a newly allocated frame owned by the caller.
func (c *codecContext) ReceiveFrame() (codec.FrameData, error) {
	f := astiav.AllocFrame()
	if err := c.cc.ReceiveFrame(f); err != nil {
		f.Free()
		return nil, resultError(err)
	}
	return &frameData{f: f}, nil
}

func (c *codecContext) FlushBuffers() { c.cc.FlushBuffers() }

func (c *codecContext) SampleFormat() codec.SampleFormat {
	return sampleFormatOf(c.cc.SampleFormat())
}

func (c *codecContext) ChannelLayout() codec.ChannelLayout {
	return channelLayoutOf(c.cc.ChannelLayout())
}

func (c *codecContext) Free() { c.cc.Free() }

// codeError carries the FFmpeg result code so codec.ResultCode can find it.
type codeError struct {
	code int
	err  error
}

func (e *codeError) Error() string { return e.err.Error() }
func (e *codeError) Unwrap() error { return e.err }
func (e *codeError) Code() int     { return e.code }

// resultError maps FFmpeg's EAGAIN and EOF onto the codec sentinels and
// keeps the numeric code of other failures.
func resultError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, astiav.ErrEagain) {
		return codec.ErrAgain
	}
	if errors.Is(err, astiav.ErrEof) {
		return codec.ErrEOF
	}
	var ae astiav.Error
	if errors.As(err, &ae) {
		return &codeError{code: int(ae), err: err}
	}
	return err
}

type frameData struct {
	f *astiav.Frame
}

func (d *frameData) SampleCount() int { return d.f.NbSamples() }
func (d *frameData) PTS() int64       { return d.f.Pts() }

func (d *frameData) Free() {
	if d.f != nil {
		d.f.Free()
		d.f = nil
	}
}

func sampleFormatOf(sf astiav.SampleFormat) codec.SampleFormat {
	if sf == astiav.SampleFormatNone {
		return codec.SampleFormat{}
	}
	var float bool
	switch sf {
	case astiav.SampleFormatFlt, astiav.SampleFormatFltp, astiav.SampleFormatDbl, astiav.SampleFormatDblp:
		float = true
	}
	return codec.SampleFormat{
		Name:           sf.Name(),
		BytesPerSample: sf.BytesPerSample(),
		Planar:         sf.IsPlanar(),
		Float:          float,
	}
}

func channelLayoutOf(l astiav.ChannelLayout) codec.ChannelLayout {
	if !l.Valid() {
		return codec.ChannelLayout{}
	}
	return codec.ChannelLayout{Name: l.String(), Channels: l.Channels()}
}
