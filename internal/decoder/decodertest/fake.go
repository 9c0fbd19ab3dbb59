// Package decodertest provides an in-memory demuxer and a converter for
// frames produced by codectest, so decoders can be built without FFmpeg.
package decodertest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/aural-player/auralcore/internal/codec"
	"github.com/aural-player/auralcore/internal/codec/codectest"
	"github.com/aural-player/auralcore/internal/decoder"
	"github.com/aural-player/auralcore/internal/pcm"
)

// ErrRead is returned for reads scripted to fail.
var ErrRead = errors.New("i/o error")

// Demuxer serves a fixed list of packets whose PTS values are sample
// offsets, so the time base is 1/SampleRate.
type Demuxer struct {
	mu sync.Mutex

	SampleRate int
	Packets    []*codectest.Packet
	Raw        bool
	// FailReads makes the next n reads return ErrRead.
	FailReads int
	SeekErr   error

	pos    int
	Seeks  []float64
	closed bool
}

// NewDemuxer returns a demuxer of n packets, each decoding to one frame of
// samplesPerPacket samples.
func NewDemuxer(sampleRate, n, samplesPerPacket int) *Demuxer {
	d := &Demuxer{SampleRate: sampleRate}
	for i := 0; i < n; i++ {
		d.Packets = append(d.Packets, &codectest.Packet{
			Pts:             int64(i * samplesPerPacket),
			Frames:          1,
			SamplesPerFrame: samplesPerPacket,
		})
	}
	return d
}

func (d *Demuxer) ReadPacket() (codec.Packet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.FailReads > 0 {
		d.FailReads--
		return nil, ErrRead
	}
	if d.pos >= len(d.Packets) {
		return nil, io.EOF
	}
	p := d.Packets[d.pos]
	d.pos++
	// Packets may be re-read after a seek.
	cp := *p
	return &cp, nil
}

// Seek positions the demuxer on the last packet starting at or before
// seconds, the way a container seeks to the preceding sync point.
func (d *Demuxer) Seek(seconds float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Seeks = append(d.Seeks, seconds)
	if d.SeekErr != nil {
		return d.SeekErr
	}
	if seconds >= d.duration() {
		d.pos = len(d.Packets)
		return decoder.ErrSeekEOF
	}
	target := int64(math.Floor(seconds * float64(d.SampleRate)))
	d.pos = 0
	for i, p := range d.Packets {
		if p.Pts <= target {
			d.pos = i
		}
	}
	return nil
}

func (d *Demuxer) TimeBase() float64 { return 1 / float64(d.SampleRate) }

func (d *Demuxer) Duration() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duration()
}

func (d *Demuxer) duration() float64 {
	if len(d.Packets) == 0 {
		return 0
	}
	last := d.Packets[len(d.Packets)-1]
	end := last.Pts + int64(last.Frames*last.SamplesPerFrame)
	return float64(end) / float64(d.SampleRate)
}

func (d *Demuxer) IsRawAudio() bool { return d.Raw }

func (d *Demuxer) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

func (d *Demuxer) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Converter copies codectest frames, which are already interleaved
// float32, into playback buffers.
type Converter struct{}

func (Converter) Convert(src *codec.FrameBuffer, dst *pcm.Buffer) error {
	for _, f := range src.Frames() {
		fd, ok := f.Data.(*codectest.FrameData)
		if !ok {
			return fmt.Errorf("unexpected frame data %T", f.Data)
		}
		ch := fd.Channels
		first := f.FirstSampleIndex() * ch
		dst.AppendFrames(fd.Samples[first : first+f.SampleCount()*ch])
	}
	return nil
}

// New builds an opened decoder over demux, decoding with ctx.
func New(demux *Demuxer, ctx *codectest.Context, log *slog.Logger) (*decoder.Decoder, error) {
	params := codec.Params{
		CodecName:  "test",
		SampleRate: demux.SampleRate,
		Channels:   ctx.Channels,
	}
	c, err := codec.NewAudioCodec(params, ctx.Alloc(), log)
	if err != nil {
		return nil, err
	}
	if err := c.Open(); err != nil {
		return nil, err
	}
	return decoder.New(demux, c, Converter{}, log), nil
}
