package stream

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/asticode/go-astiav"

	"github.com/aural-player/auralcore/internal/codec"
	"github.com/aural-player/auralcore/internal/pcm"
)

func floatBytes(vals ...float32) []byte {
	b := make([]byte, len(vals)*bytesPerFloat)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[i*bytesPerFloat:], math.Float32bits(v))
	}
	return b
}

func TestAppendFloatsHonorsTruncation(t *testing.T) {
	dst := pcm.NewBuffer(pcm.Format{SampleRate: 48000, Channels: 2}, 4)
	b := floatBytes(0, 0.5, 1, 1.5, 2, 2.5, 3, 3.5)

	if err := appendFloats(dst, b, 1, 2); err != nil {
		t.Fatal(err)
	}
	want := []float32{1, 1.5, 2, 2.5}
	if len(dst.Samples) != len(want) {
		t.Fatalf("got %d samples, want %d", len(dst.Samples), len(want))
	}
	for i := range want {
		if dst.Samples[i] != want[i] {
			t.Fatalf("sample %d: got %v, want %v", i, dst.Samples[i], want[i])
		}
	}
}

func TestAppendFloatsShortFrame(t *testing.T) {
	dst := pcm.NewBuffer(pcm.Format{SampleRate: 48000, Channels: 2}, 4)
	if err := appendFloats(dst, floatBytes(1, 2), 0, 2); err == nil {
		t.Fatal("expected error for short frame")
	}
	if len(dst.Samples) != 0 {
		t.Fatalf("short frame appended %d samples", len(dst.Samples))
	}
}

func TestResultErrorMapping(t *testing.T) {
	if err := resultError(nil); err != nil {
		t.Fatalf("nil mapped to %v", err)
	}
	if err := resultError(astiav.ErrEagain); !errors.Is(err, codec.ErrAgain) {
		t.Fatalf("EAGAIN mapped to %v", err)
	}
	if err := resultError(astiav.ErrEof); !errors.Is(err, codec.ErrEOF) {
		t.Fatalf("EOF mapped to %v", err)
	}
	err := resultError(astiav.ErrInvaliddata)
	if code := codec.ResultCode(err); code == -1 {
		t.Fatalf("result code lost for %v", err)
	}
}

func TestSampleFormatOf(t *testing.T) {
	tests := []struct {
		in         astiav.SampleFormat
		float      bool
		planar     bool
		conversion bool
	}{
		{astiav.SampleFormatFlt, true, false, false},
		{astiav.SampleFormatFltp, true, true, true},
		{astiav.SampleFormatS16, false, false, true},
		{astiav.SampleFormatDbl, true, false, true},
	}
	for _, tc := range tests {
		sf := sampleFormatOf(tc.in)
		if sf.Float != tc.float || sf.Planar != tc.planar {
			t.Errorf("%s: got float=%v planar=%v", tc.in.Name(), sf.Float, sf.Planar)
		}
		if sf.NeedsFormatConversion() != tc.conversion {
			t.Errorf("%s: NeedsFormatConversion = %v", tc.in.Name(), sf.NeedsFormatConversion())
		}
	}
	if !sampleFormatOf(astiav.SampleFormatNone).IsZero() {
		t.Error("none format should be zero")
	}
}

func TestOutputLayout(t *testing.T) {
	if got := outputLayout(astiav.ChannelLayoutStereo, 2); got.Channels() != 2 {
		t.Fatalf("stereo kept as %d channels", got.Channels())
	}
	if got := outputLayout(astiav.ChannelLayoutStereo, 1); got.Channels() != 1 {
		t.Fatalf("mono output got %d channels", got.Channels())
	}
}
