//go:build cgo && !noaudio

package player

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"github.com/gen2brain/malgo"
)

func init() {
	newPlatformDevice = newMalgoDevice
}

type malgoDevice struct {
	log     *slog.Logger
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	scratch []float32
}

func newMalgoDevice(cfg DeviceConfig, render RenderFunc, log *slog.Logger) (Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug("malgo", "msg", message)
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	md := &malgoDevice{log: log, ctx: ctx}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	if cfg.ID != "" {
		var id malgo.DeviceID
		copy(id[:], cfg.ID)
		deviceConfig.Playback.DeviceID = id.Pointer()
	}
	deviceConfig.PeriodSizeInMilliseconds = uint32(cfg.PeriodMS)
	deviceConfig.SampleRate = uint32(cfg.Format.SampleRate)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(cfg.Format.Channels)
	deviceConfig.Alsa.NoMMap = 1

	channels := cfg.Format.Channels
	onData := func(out, _ []byte, frameCount uint32) {
		n := int(frameCount) * channels
		if cap(md.scratch) < n {
			md.scratch = make([]float32, n)
		}
		samples := md.scratch[:n]
		render(samples)
		for i, v := range samples {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onData,
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("init playback device: %w", err)
	}
	md.device = device
	return md, nil
}

func (d *malgoDevice) Name() string { return "malgo" }

func (d *malgoDevice) Start() error { return d.device.Start() }

func (d *malgoDevice) Stop() error { return d.device.Stop() }

func (d *malgoDevice) Close() {
	d.device.Uninit()
	if err := d.ctx.Uninit(); err != nil {
		d.log.Warn("failed to release audio context", "err", err)
	}
	d.ctx.Free()
}
