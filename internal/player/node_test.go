package player

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/aural-player/auralcore/internal/assert"
	"github.com/aural-player/auralcore/internal/pcm"
	"github.com/aural-player/auralcore/internal/session"
	"github.com/aural-player/auralcore/internal/track"
)

var testFormat = pcm.Format{SampleRate: 1000, Channels: 2}

// bufferOf returns a buffer of frames frames whose samples all equal v.
func bufferOf(frames int, v float32) *pcm.Buffer {
	b := pcm.NewBuffer(testFormat, frames)
	for i := 0; i < frames*testFormat.Channels; i++ {
		b.Samples = append(b.Samples, v)
	}
	return b
}

func newSession() *session.Session {
	return session.NewRegistry().Start(track.New("a.flac"))
}

func TestRenderPlaysBuffersInOrder(t *testing.T) {
	n := NewNode(testFormat, nil, nil)
	sess := newSession()

	var completed []float32
	for _, v := range []float32{1, 2, 3} {
		n.ScheduleBuffer(bufferOf(10, v), sess, func(*session.Session) {
			completed = append(completed, v)
		}, nil, false)
	}
	n.Play()

	out := make([]float32, 15*2)
	if got := n.Render(out); got != 15 {
		t.Fatalf("rendered %d frames, want 15", got)
	}
	if out[0] != 1 || out[19] != 1 || out[20] != 2 || out[29] != 2 {
		t.Errorf("unexpected samples %v", out)
	}
	if len(completed) != 1 || completed[0] != 1 {
		t.Fatalf("completed = %v, want [1]", completed)
	}

	n.Render(out)
	if len(completed) != 3 || completed[1] != 2 || completed[2] != 3 {
		t.Fatalf("completed = %v, want [1 2 3]", completed)
	}
	if n.Queued() != 0 {
		t.Errorf("queued = %d", n.Queued())
	}
}

func TestRenderPausedIsSilent(t *testing.T) {
	n := NewNode(testFormat, nil, nil)
	n.ScheduleBuffer(bufferOf(10, 1), newSession(), nil, nil, false)

	out := make([]float32, 20)
	for i := range out {
		out[i] = 9
	}
	if got := n.Render(out); got != 0 {
		t.Fatalf("paused node rendered %d frames", got)
	}
	for _, v := range out {
		if v != 0 {
			t.Fatal("paused output not silent")
		}
	}

	n.Play()
	n.Render(out[:10])
	n.Pause()
	if n.IsPlaying() {
		t.Fatal("node playing after Pause")
	}
	if pos := n.SeekPosition(); pos != 0.005 {
		t.Errorf("position = %v, want 0.005", pos)
	}
}

func TestRenderPadsWithSilenceWhenDry(t *testing.T) {
	n := NewNode(testFormat, nil, nil)
	n.ScheduleBuffer(bufferOf(4, 1), newSession(), nil, nil, false)
	n.Play()

	out := make([]float32, 20)
	if got := n.Render(out); got != 4 {
		t.Fatalf("rendered %d frames, want 4", got)
	}
	if out[7] != 1 || out[8] != 0 || out[19] != 0 {
		t.Errorf("unexpected padding %v", out)
	}
}

func TestStopFiresDiscardedCompletionsAsynchronously(t *testing.T) {
	n := NewNode(testFormat, nil, nil)
	sess := newSession()

	fired := make(chan float32, 3)
	block := make(chan struct{})
	for _, v := range []float32{1, 2} {
		n.ScheduleBuffer(bufferOf(10, v), sess, func(*session.Session) {
			<-block
			fired <- v
		}, nil, false)
	}
	n.Play()

	// Stop must return even though the completions block.
	n.Stop()
	if n.IsPlaying() || n.Queued() != 0 {
		t.Fatal("node not stopped")
	}
	assert.ChanNotWritten(t, fired, 20*time.Millisecond)
	close(block)
	if v := assert.ChanWritten(t, fired); v != 1 {
		t.Errorf("first discarded completion = %v, want 1", v)
	}
	if v := assert.ChanWritten(t, fired); v != 2 {
		t.Errorf("second discarded completion = %v, want 2", v)
	}
}

func TestImmediateBufferInterruptsQueue(t *testing.T) {
	n := NewNode(testFormat, nil, nil)
	sess := newSession()

	fired := make(chan struct{}, 1)
	n.ScheduleBuffer(bufferOf(10, 1), sess, func(*session.Session) { fired <- struct{}{} }, nil, false)
	start := 42.0
	n.ScheduleBuffer(bufferOf(10, 2), sess, nil, &start, true)
	assert.ChanWritten(t, fired)

	n.Play()
	out := make([]float32, 2)
	n.Render(out)
	if out[0] != 2 {
		t.Errorf("first sample = %v, want 2", out[0])
	}
	if pos := n.SeekPosition(); pos != 42.001 {
		t.Errorf("position = %v, want 42.001", pos)
	}
}

func TestSeekPositionTracksSegments(t *testing.T) {
	n := NewNode(testFormat, nil, nil)
	sess := newSession()

	start := 10.0
	n.ScheduleBuffer(bufferOf(100, 1), sess, nil, &start, false)
	restart := 3.0
	n.ScheduleBuffer(bufferOf(100, 2), sess, nil, &restart, false)
	n.Play()

	out := make([]float32, 50*2)
	n.Render(out)
	if pos := n.SeekPosition(); pos != 10.05 {
		t.Errorf("position = %v, want 10.05", pos)
	}
	n.Render(out)
	n.Render(out)
	if pos := n.SeekPosition(); pos != 3.05 {
		t.Errorf("position after loop back = %v, want 3.05", pos)
	}

	n.SeekToEndOfTrack(sess, 5000)
	if pos := n.SeekPosition(); pos != 5 {
		t.Errorf("position = %v, want 5", pos)
	}
}

func TestNullDeviceDrivesRender(t *testing.T) {
	var calls atomic.Int32
	cfg := DeviceConfig{Format: testFormat, PeriodMS: 5, NoAudio: true}
	dev, err := OpenDevice(cfg, func(out []float32) int {
		calls.Add(1)
		return len(out) / 2
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if dev.Name() != "null" {
		t.Fatalf("device = %s, want null", dev.Name())
	}
	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	dev.Close()

	if calls.Load() == 0 {
		t.Error("render never called")
	}
	stopped := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != stopped {
		t.Error("render called after Close")
	}
}
