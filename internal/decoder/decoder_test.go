package decoder_test

import (
	"errors"
	"testing"

	"github.com/aural-player/auralcore/internal/codec/codectest"
	"github.com/aural-player/auralcore/internal/decoder"
	"github.com/aural-player/auralcore/internal/decoder/decodertest"
	"github.com/aural-player/auralcore/internal/pcm"
)

var testFormat = pcm.Format{SampleRate: 1000, Channels: 2}

// newDecoder returns a decoder over ten 100-sample packets at 1 kHz, so
// each packet is 0.1s long and sample values equal their offset.
func newDecoder(t *testing.T, ctx *codectest.Context) (*decoder.Decoder, *decodertest.Demuxer) {
	t.Helper()
	demux := decodertest.NewDemuxer(1000, 10, 100)
	d, err := decodertest.New(demux, ctx, nil)
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	return d, demux
}

func firstSample(t *testing.T, buf *pcm.Buffer) float32 {
	t.Helper()
	if buf == nil || len(buf.Samples) == 0 {
		t.Fatal("empty buffer")
	}
	return buf.Samples[0]
}

func lastSample(buf *pcm.Buffer) float32 {
	return buf.Samples[len(buf.Samples)-1]
}

func TestDecodeRespectsMaxSampleCount(t *testing.T) {
	d, _ := newDecoder(t, codectest.NewContext())

	buf := d.Decode(250, testFormat)
	if buf.FrameCount() != 200 {
		t.Fatalf("frame count = %d, want 200", buf.FrameCount())
	}
	if firstSample(t, buf) != 0 || lastSample(buf) != 199 {
		t.Errorf("samples span %v..%v, want 0..199", buf.Samples[0], lastSample(buf))
	}

	// The frame that did not fit leads the next buffer.
	buf = d.Decode(250, testFormat)
	if firstSample(t, buf) != 200 {
		t.Errorf("second buffer starts at %v, want 200", buf.Samples[0])
	}
	if d.EOF() {
		t.Error("EOF set early")
	}
}

func TestDecodeToEOF(t *testing.T) {
	d, _ := newDecoder(t, codectest.NewContext())

	buf := d.Decode(100000, testFormat)
	if buf.FrameCount() != 1000 {
		t.Fatalf("frame count = %d, want 1000", buf.FrameCount())
	}
	if !d.EOF() {
		t.Error("EOF not set")
	}
	if buf := d.Decode(100000, testFormat); buf != nil {
		t.Errorf("decode after EOF returned %d frames", buf.FrameCount())
	}
}

func TestDecodeDrainsCodecAtEOF(t *testing.T) {
	ctx := codectest.NewContext()
	ctx.Lookahead = 2
	d, _ := newDecoder(t, ctx)

	buf := d.Decode(100000, testFormat)
	if buf.FrameCount() != 1000 {
		t.Fatalf("frame count = %d, want 1000 including drained frames", buf.FrameCount())
	}
	if lastSample(buf) != 999 {
		t.Errorf("last sample = %v, want 999", lastSample(buf))
	}
}

func TestTerminalFramesMayExceedMax(t *testing.T) {
	ctx := codectest.NewContext()
	ctx.Lookahead = 2
	d, _ := newDecoder(t, ctx)

	if err := d.Seek(0.85); err != nil {
		t.Fatal(err)
	}
	// Both usable frames are still held by the codec when EOF is reached.
	buf := d.Decode(60, testFormat)
	if !d.EOF() {
		t.Fatal("EOF not reached")
	}
	if buf.FrameCount() != 150 {
		t.Errorf("frame count = %d, want 150", buf.FrameCount())
	}
}

func TestSeekTruncatesFirstFrame(t *testing.T) {
	d, demux := newDecoder(t, codectest.NewContext())

	if err := d.Seek(0.25); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if len(demux.Seeks) != 1 || demux.Seeks[0] != 0.25 {
		t.Fatalf("demuxer seeks = %v", demux.Seeks)
	}

	buf := d.Decode(100, testFormat)
	if got := firstSample(t, buf); got != 250 {
		t.Errorf("first sample after seek = %v, want 250", got)
	}
	if buf.FrameCount() != 50 {
		t.Errorf("frame count = %d, want 50", buf.FrameCount())
	}

	buf = d.Decode(100, testFormat)
	if got := firstSample(t, buf); got != 300 {
		t.Errorf("next buffer starts at %v, want 300", got)
	}
}

func TestSeekOnPacketBoundary(t *testing.T) {
	d, _ := newDecoder(t, codectest.NewContext())

	if err := d.Seek(0.5); err != nil {
		t.Fatal(err)
	}
	buf := d.Decode(1000, testFormat)
	if got := firstSample(t, buf); got != 500 {
		t.Errorf("first sample = %v, want 500", got)
	}
	if buf.FrameCount() != 500 {
		t.Errorf("frame count = %d, want 500", buf.FrameCount())
	}
}

func TestSeekDiscardsStaleFrames(t *testing.T) {
	ctx := codectest.NewContext()
	ctx.Lookahead = 1
	d, _ := newDecoder(t, ctx)

	if buf := d.Decode(300, testFormat); buf == nil {
		t.Fatal("nothing decoded")
	}
	if err := d.Seek(0.7); err != nil {
		t.Fatal(err)
	}
	buf := d.Decode(100000, testFormat)
	if got := firstSample(t, buf); got < 700 {
		t.Errorf("first sample after seek = %v, want >= 700", got)
	}
	if ctx.Flushes == 0 {
		t.Error("codec not flushed before seek")
	}
}

func TestSeekToEndIsNotAnError(t *testing.T) {
	d, _ := newDecoder(t, codectest.NewContext())

	if err := d.Seek(1.0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if !d.EOF() {
		t.Fatal("EOF not set")
	}
	if buf := d.Decode(100, testFormat); buf != nil {
		t.Errorf("got %d frames past the end", buf.FrameCount())
	}

	// Seeking back clears EOF.
	if err := d.Seek(0); err != nil {
		t.Fatal(err)
	}
	if d.EOF() {
		t.Error("EOF still set after seeking back")
	}
}

func TestSeekFailure(t *testing.T) {
	d, demux := newDecoder(t, codectest.NewContext())
	demux.SeekErr = errors.New("not seekable")

	var reported []error
	d.SetErrorHandler(func(err error) { reported = append(reported, err) })

	err := d.Seek(0.3)
	var se *decoder.SeekError
	if !errors.As(err, &se) {
		t.Fatalf("want *SeekError, got %v", err)
	}
	if se.Time != 0.3 || !errors.Is(err, demux.SeekErr) {
		t.Errorf("unexpected seek error %v", se)
	}
	if len(reported) != 1 {
		t.Errorf("reported %d errors, want 1", len(reported))
	}
}

func TestRecurringErrorsAreFatal(t *testing.T) {
	d, demux := newDecoder(t, codectest.NewContext())
	demux.FailReads = 5

	var reported int
	d.SetErrorHandler(func(error) { reported++ })

	if buf := d.Decode(100, testFormat); buf != nil {
		t.Errorf("got %d frames from an unreadable track", buf.FrameCount())
	}
	if !d.FatalError() {
		t.Error("fatal error not set")
	}
	if reported != 5 {
		t.Errorf("reported %d errors, want 5", reported)
	}
}

func TestTransientErrorsAreSkipped(t *testing.T) {
	d, demux := newDecoder(t, codectest.NewContext())
	demux.FailReads = 4

	buf := d.Decode(100, testFormat)
	if buf == nil || buf.FrameCount() != 100 {
		t.Fatal("decode did not recover from transient errors")
	}
	if d.FatalError() {
		t.Error("fatal error set")
	}
}

func TestDecodeLoopStopsAtLoopEnd(t *testing.T) {
	d, _ := newDecoder(t, codectest.NewContext())
	d.SetFramesNeedTimestamps(true)

	if err := d.Seek(0.1); err != nil {
		t.Fatal(err)
	}
	buf := d.DecodeLoop(100000, 0.35, testFormat)
	if buf.FrameCount() != 250 {
		t.Fatalf("frame count = %d, want 250", buf.FrameCount())
	}
	if firstSample(t, buf) != 100 || lastSample(buf) != 349 {
		t.Errorf("samples span %v..%v, want 100..349", buf.Samples[0], lastSample(buf))
	}
	if !d.EndOfLoop() {
		t.Error("end of loop not set")
	}
	if d.EOF() {
		t.Error("EOF set inside the stream")
	}
	if buf := d.DecodeLoop(100000, 0.35, testFormat); buf != nil {
		t.Error("decoded past the end of the loop")
	}

	d.LoopCompleted()
	if d.EndOfLoop() {
		t.Error("end of loop still set after LoopCompleted")
	}
}

func TestDecodeLoopInChunks(t *testing.T) {
	d, _ := newDecoder(t, codectest.NewContext())
	d.SetFramesNeedTimestamps(true)

	if err := d.Seek(0); err != nil {
		t.Fatal(err)
	}
	var total int
	for i := 0; i < 10 && !d.EndOfLoop(); i++ {
		buf := d.DecodeLoop(150, 0.42, testFormat)
		if buf == nil {
			t.Fatal("nil buffer before end of loop")
		}
		total += buf.FrameCount()
	}
	if total != 420 {
		t.Errorf("loop pass decoded %d frames, want 420", total)
	}
}

func TestDecodeLoopToEndOfStream(t *testing.T) {
	ctx := codectest.NewContext()
	ctx.Lookahead = 1
	d, _ := newDecoder(t, ctx)
	d.SetFramesNeedTimestamps(true)

	if err := d.Seek(0.8); err != nil {
		t.Fatal(err)
	}
	buf := d.DecodeLoop(100000, 1.0, testFormat)
	if buf.FrameCount() != 200 {
		t.Fatalf("frame count = %d, want 200", buf.FrameCount())
	}
	if !d.EndOfLoop() {
		t.Error("end of loop not set")
	}
}

func TestCloseReleasesResources(t *testing.T) {
	ctx := codectest.NewContext()
	d, demux := newDecoder(t, ctx)

	d.Close()
	d.Close()
	if !demux.Closed() || !ctx.Freed() {
		t.Error("resources not released")
	}
}
