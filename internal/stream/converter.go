package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/asticode/go-astiav"

	"github.com/aural-player/auralcore/internal/codec"
	"github.com/aural-player/auralcore/internal/pcm"
)

const bytesPerFloat = 4

// SampleConverter resamples decoded frames into packed 32-bit float at
// their own rate and channel count. It is not safe for concurrent use.
type SampleConverter struct {
	swr      *astiav.SoftwareResampleContext
	dstFrame *astiav.Frame
}

func NewSampleConverter() (*SampleConverter, error) {
	swr := astiav.AllocSoftwareResampleContext()
	if swr == nil {
		return nil, errors.New("alloc swr")
	}
	dst := astiav.AllocFrame()
	if dst == nil {
		swr.Free()
		return nil, errors.New("alloc frame")
	}
	return &SampleConverter{swr: swr, dstFrame: dst}, nil
}

// Convert appends the used samples of every frame in src to dst.
func (c *SampleConverter) Convert(src *codec.FrameBuffer, dst *pcm.Buffer) error {
	needsConversion := src.NeedsFormatConversion()
	for _, f := range src.Frames() {
		fd, ok := f.Data.(*frameData)
		if !ok {
			return fmt.Errorf("unexpected frame data %T", f.Data)
		}
		var (
			b   []byte
			err error
		)
		if needsConversion {
			b, err = c.convertFrame(fd.f, dst.Format.Channels)
		} else {
			b, err = fd.f.Data().Bytes(0)
		}
		if err != nil {
			return err
		}
		if err := appendFloats(dst, b, f.FirstSampleIndex(), f.SampleCount()); err != nil {
			return err
		}
	}
	return nil
}

func (c *SampleConverter) convertFrame(src *astiav.Frame, channels int) ([]byte, error) {
	c.dstFrame.Unref()
	c.dstFrame.SetNbSamples(src.NbSamples())
	c.dstFrame.SetChannelLayout(outputLayout(src.ChannelLayout(), channels))
	c.dstFrame.SetSampleRate(src.SampleRate())
	c.dstFrame.SetSampleFormat(astiav.SampleFormatFlt)
	if err := c.dstFrame.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("dst alloc buffer: %w", err)
	}

	if err := c.swr.ConvertFrame(src, c.dstFrame); err != nil {
		return nil, fmt.Errorf("swr convert: %w", err)
	}

	b, err := c.dstFrame.Data().Bytes(0)
	if err != nil {
		return nil, fmt.Errorf("dst bytes: %w", err)
	}
	return b, nil
}

func outputLayout(in astiav.ChannelLayout, channels int) astiav.ChannelLayout {
	if in.Valid() && in.Channels() == channels {
		return in
	}
	switch channels {
	case 1:
		return astiav.ChannelLayoutMono
	case 2:
		return astiav.ChannelLayoutStereo
	default:
		return in
	}
}

// appendFloats decodes count interleaved little-endian float frames,
// starting at frame first, from b into dst.
func appendFloats(dst *pcm.Buffer, b []byte, first, count int) error {
	ch := dst.Format.Channels
	start := first * ch * bytesPerFloat
	end := (first + count) * ch * bytesPerFloat
	if end > len(b) {
		return fmt.Errorf("frame holds %d bytes, need %d", len(b), end)
	}
	samples := make([]float32, 0, count*ch)
	for i := start; i < end; i += bytesPerFloat {
		samples = append(samples, math.Float32frombits(binary.LittleEndian.Uint32(b[i:])))
	}
	dst.AppendFrames(samples)
	return nil
}

func (c *SampleConverter) Close() {
	if c.dstFrame != nil {
		c.dstFrame.Free()
		c.dstFrame = nil
	}
	if c.swr != nil {
		c.swr.Free()
		c.swr = nil
	}
}
