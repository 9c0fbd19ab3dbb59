package codec

import (
	"errors"
	"log/slog"
	"runtime"
)

// DecodeThreadType is the kind of parallelism used inside the codec:
// slices of a single frame are decoded concurrently.
const DecodeThreadType = ThreadTypeSlice

// ThreadCountFor returns the number of codec threads to use on a machine
// with the given number of cores.
func ThreadCountFor(cores int) int {
	return max(2, cores/2)
}

// DecodeThreadCount is the number of codec threads used for decoding.
var DecodeThreadCount = ThreadCountFor(runtime.NumCPU())

// AudioCodec wraps a single codec instance and exposes packet level
// decode, drain and flush operations.
type AudioCodec struct {
	log    *slog.Logger
	ctx    Context
	params Params

	sampleFormat  SampleFormat
	channelLayout ChannelLayout

	isOpen  bool
	drained bool
}

// NewAudioCodec allocates a codec context for params and configures its
// threading. Allocation failures are reported as *InitializationError.
func NewAudioCodec(params Params, alloc AllocFunc, log *slog.Logger) (*AudioCodec, error) {
	if log == nil {
		log = slog.Default()
	}
	ctx, err := alloc(params)
	if err != nil {
		var ie *InitializationError
		if errors.As(err, &ie) {
			return nil, err
		}
		return nil, &InitializationError{
			Description: "unable to allocate context for codec '" + params.CodecName + "'",
			Err:         err,
		}
	}
	if ctx == nil {
		return nil, &InitializationError{Description: "nil context for codec '" + params.CodecName + "'"}
	}

	ctx.SetThreadCount(DecodeThreadCount)
	ctx.SetThreadType(DecodeThreadType)

	return &AudioCodec{
		log:           log,
		ctx:           ctx,
		params:        params,
		sampleFormat:  params.SampleFormat,
		channelLayout: params.ChannelLayout,
	}, nil
}

// Open finalizes codec negotiation. The sample format and channel layout
// reported by the live context replace the provisional values taken from
// the container.
func (c *AudioCodec) Open() error {
	if c.isOpen {
		return nil
	}
	if err := c.ctx.Open(); err != nil {
		c.log.Error("failed to open codec", "codec", c.params.CodecName, "err", err)
		return &InitializationError{Description: "unable to open codec '" + c.params.CodecName + "'", Err: err}
	}
	c.isOpen = true

	if sf := c.ctx.SampleFormat(); !sf.IsZero() {
		c.sampleFormat = sf
	}
	if cl := c.ctx.ChannelLayout(); cl.Channels > 0 {
		c.channelLayout = cl
	} else if c.channelLayout.Channels == 0 && c.params.Channels > 0 {
		c.channelLayout = ChannelLayout{Channels: c.params.Channels}
	}

	c.log.Debug("codec opened",
		"codec", c.params.CodecName,
		"sampleRate", c.params.SampleRate,
		"sampleFormat", c.sampleFormat.Name,
		"channelLayout", c.channelLayout.String(),
		"threads", DecodeThreadCount)
	return nil
}

// Decode sends one packet to the codec and returns every frame the codec
// emits for it, in order.
func (c *AudioCodec) Decode(p Packet) (*PacketFrames, error) {
	if err := c.ctx.SendPacket(p); err != nil {
		code := ResultCode(err)
		c.log.Warn("codec failed to send packet", "codec", c.params.CodecName, "code", code, "err", err)
		return nil, &DecoderError{Code: code, Err: err}
	}
	c.drained = false
	return c.receiveAll(), nil
}

// DecodeAndDrop sends one packet and discards the emitted frames. Used to
// fast-forward after a seek lands before the desired position.
func (c *AudioCodec) DecodeAndDrop(p Packet) {
	if err := c.ctx.SendPacket(p); err != nil {
		return
	}
	c.drained = false
	for {
		fd, err := c.ctx.ReceiveFrame()
		if err != nil {
			return
		}
		fd.Free()
	}
}

// Drain asks the codec to emit any frames it still holds. Call once when
// the stream reaches EOF.
func (c *AudioCodec) Drain() (*PacketFrames, error) {
	if c.drained {
		return NewPacketFrames(), nil
	}
	if err := c.ctx.SendPacket(nil); err != nil {
		if errors.Is(err, ErrEOF) {
			c.drained = true
			return NewPacketFrames(), nil
		}
		code := ResultCode(err)
		c.log.Warn("codec failed to send flush packet while draining", "codec", c.params.CodecName, "code", code, "err", err)
		return nil, &DecoderError{Code: code, Err: err}
	}
	c.drained = true
	return c.receiveAll(), nil
}

// FlushBuffers discards all internally buffered state. Call before seeking.
func (c *AudioCodec) FlushBuffers() {
	c.ctx.FlushBuffers()
	c.drained = false
}

func (c *AudioCodec) receiveAll() *PacketFrames {
	frames := NewPacketFrames()
	for {
		fd, err := c.ctx.ReceiveFrame()
		if err != nil {
			if !errors.Is(err, ErrAgain) && !errors.Is(err, ErrEOF) {
				c.log.Debug("codec receive frame", "codec", c.params.CodecName, "err", err)
			}
			return frames
		}
		frames.Append(NewFrame(fd))
	}
}

// Close frees the codec context.
func (c *AudioCodec) Close() {
	if c.ctx != nil {
		c.ctx.Free()
		c.ctx = nil
	}
	c.isOpen = false
}

func (c *AudioCodec) Name() string                 { return c.params.CodecName }
func (c *AudioCodec) BitRate() int64               { return c.params.BitRate }
func (c *AudioCodec) SampleRate() int              { return c.params.SampleRate }
func (c *AudioCodec) SampleFormat() SampleFormat   { return c.sampleFormat }
func (c *AudioCodec) ChannelLayout() ChannelLayout { return c.channelLayout }
func (c *AudioCodec) Channels() int                { return c.channelLayout.Channels }
func (c *AudioCodec) ThreadCount() int             { return DecodeThreadCount }
func (c *AudioCodec) ThreadType() ThreadType       { return DecodeThreadType }
func (c *AudioCodec) IsOpen() bool                 { return c.isOpen }
