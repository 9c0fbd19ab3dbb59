package stream

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/asticode/go-astiav"

	"github.com/aural-player/auralcore/internal/codec"
	"github.com/aural-player/auralcore/internal/decoder"
)

// FileContext is an opened container positioned on its best audio
// stream. It supplies that stream's packets to a decoder.
type FileContext struct {
	log  *slog.Logger
	path string

	fc       *astiav.FormatContext
	stream   *astiav.Stream
	decCodec *astiav.Codec
	timeBase float64
	duration float64

	closeOnce sync.Once
}

// OpenFile opens path and selects its best audio stream.
func OpenFile(path string, log *slog.Logger) (*FileContext, error) {
	if log == nil {
		log = slog.Default()
	}

	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, errors.New("alloc format context")
	}

	if err := fc.OpenInput(path, nil, nil); err != nil {
		fc.Free()
		return nil, fmt.Errorf("open input %q: %w", path, err)
	}

	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		fc.Free()
		return nil, fmt.Errorf("find stream info: %w", err)
	}

	st, c, err := fc.FindBestStream(astiav.MediaTypeAudio, -1, -1)
	if err != nil || st == nil || c == nil {
		fc.CloseInput()
		fc.Free()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", decoder.ErrNoAudioStream, err)
		}
		return nil, decoder.ErrNoAudioStream
	}

	f := &FileContext{
		log:      log,
		path:     path,
		fc:       fc,
		stream:   st,
		decCodec: c,
		timeBase: st.TimeBase().Float64(),
	}
	f.duration = f.computeDuration()

	log.Debug("opened file",
		"path", path,
		"stream", st.Index(),
		"codec", c.Name(),
		"duration", f.duration)
	return f, nil
}

func (f *FileContext) computeDuration() float64 {
	if d := f.stream.Duration(); d > 0 && f.timeBase > 0 {
		return float64(d) * f.timeBase
	}
	// Container duration is in AV_TIME_BASE (microsecond) units.
	if d := f.fc.Duration(); d > 0 {
		return float64(d) / 1e6
	}
	return 0
}

// ReadPacket returns the next packet of the audio stream. Packets of
// other streams are skipped.
func (f *FileContext) ReadPacket() (codec.Packet, error) {
	pkt := astiav.AllocPacket()
	for {
		if err := f.fc.ReadFrame(pkt); err != nil {
			pkt.Free()
			if errors.Is(err, astiav.ErrEof) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read frame: %w", err)
		}
		if pkt.StreamIndex() == f.stream.Index() {
			return &packet{pkt: pkt}, nil
		}
		pkt.Unref()
	}
}

// Seek positions the container on the last keyframe at or before seconds.
// Seeking at or past the end of the stream returns decoder.ErrSeekEOF.
func (f *FileContext) Seek(seconds float64) error {
	if f.duration > 0 && seconds >= f.duration {
		return decoder.ErrSeekEOF
	}
	if seconds < 0 {
		seconds = 0
	}
	ts := int64(seconds / f.timeBase)
	if err := f.fc.SeekFrame(f.stream.Index(), ts, astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
		if errors.Is(err, astiav.ErrEof) {
			return decoder.ErrSeekEOF
		}
		return fmt.Errorf("seek frame: %w", err)
	}
	return nil
}

func (f *FileContext) TimeBase() float64 { return f.timeBase }
func (f *FileContext) Duration() float64 { return f.duration }
func (f *FileContext) Path() string      { return f.path }

// IsRawAudio reports whether the stream holds uncompressed PCM. Every PCM
// packet decodes independently, so seeks need no pre-roll.
func (f *FileContext) IsRawAudio() bool {
	return strings.HasPrefix(f.decCodec.Name(), "pcm_")
}

// Params returns the stream's codec parameters as reported by the
// container.
func (f *FileContext) Params() codec.Params {
	cp := f.stream.CodecParameters()
	layout := cp.ChannelLayout()
	return codec.Params{
		CodecID:       int(cp.CodecID()),
		CodecName:     f.decCodec.Name(),
		BitRate:       cp.BitRate(),
		SampleRate:    cp.SampleRate(),
		Channels:      layout.Channels(),
		SampleFormat:  sampleFormatOf(cp.SampleFormat()),
		ChannelLayout: channelLayoutOf(layout),
	}
}

// AllocCodecContext allocates a decoder context for the stream. It
// satisfies codec.AllocFunc.
func (f *FileContext) AllocCodecContext(p codec.Params) (codec.Context, error) {
	cc := astiav.AllocCodecContext(f.decCodec)
	if cc == nil {
		return nil, &codec.InitializationError{Description: "unable to allocate context for codec '" + p.CodecName + "'"}
	}
	if err := cc.FromCodecParameters(f.stream.CodecParameters()); err != nil {
		cc.Free()
		return nil, &codec.InitializationError{Description: "unable to copy parameters of codec '" + p.CodecName + "'", Err: err}
	}
	cc.SetTimeBase(f.stream.TimeBase())
	return &codecContext{cc: cc, codec: f.decCodec}, nil
}

// Close releases the container. It is safe to call twice.
func (f *FileContext) Close() {
	f.closeOnce.Do(func() {
		f.fc.CloseInput()
		f.fc.Free()
		f.log.Debug("closed file", "path", f.path)
	})
}

type packet struct {
	pkt *astiav.Packet
}

func (p *packet) PTS() int64 { return p.pkt.Pts() }

func (p *packet) Free() {
	if p.pkt != nil {
		p.pkt.Free()
		p.pkt = nil
	}
}
