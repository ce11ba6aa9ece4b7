// Package device provides hardware implementations of [audio.CaptureDevice]
// and [audio.OutputDevice].
//
// Capture uses miniaudio through github.com/gen2brain/malgo, whose data
// callback runs on a dedicated audio thread. Output and device enumeration use
// PortAudio blocking streams through github.com/gordonklaus/portaudio.
package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/transrouter/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.CaptureDevice = (*Capture)(nil)

// Capture is a mono 16-bit microphone stream backed by malgo.
type Capture struct {
	cfg audio.DeviceConfig

	mu      sync.Mutex
	mctx    *malgo.AllocatedContext
	dev     *malgo.Device
	started bool
	closed  bool
}

// NewCapture initialises the malgo context. The device itself is opened by
// [Capture.Start].
func NewCapture(cfg audio.DeviceConfig) (*Capture, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.CaptureSampleRate
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = audio.CaptureBlockSize
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("device: init capture context: %w", err)
	}
	return &Capture{cfg: cfg, mctx: mctx}, nil
}

// Start implements [audio.CaptureDevice].
func (c *Capture) Start(cb audio.CaptureCallback) error {
	if cb == nil {
		return errors.New("device: capture callback must not be nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("device: capture is closed")
	}
	if c.started {
		return errors.New("device: capture already started")
	}

	dc := malgo.DefaultDeviceConfig(malgo.Capture)
	dc.Capture.Format = malgo.FormatS16
	dc.Capture.Channels = 1
	dc.SampleRate = uint32(c.cfg.SampleRate)
	dc.PeriodSizeInFrames = uint32(c.cfg.BlockSize)
	if c.cfg.Device != "" {
		id, err := c.findDevice(c.cfg.Device)
		if err != nil {
			return err
		}
		dc.Capture.DeviceID = id.Pointer()
	}

	dev, err := malgo.InitDevice(c.mctx.Context, dc, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			cb(in)
		},
	})
	if err != nil {
		return fmt.Errorf("device: open capture device %q: %w", c.cfg.Device, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("device: start capture device %q: %w", c.cfg.Device, err)
	}
	c.dev = dev
	c.started = true
	return nil
}

func (c *Capture) findDevice(name string) (malgo.DeviceID, error) {
	infos, err := c.mctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("device: enumerate capture devices: %w", err)
	}
	for _, info := range infos {
		if info.Name() == name {
			return info.ID, nil
		}
	}
	return malgo.DeviceID{}, fmt.Errorf("device: capture device %q not found", name)
}

// Stop implements [audio.CaptureDevice].
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

func (c *Capture) stopLocked() error {
	if !c.started {
		return nil
	}
	c.started = false
	err := c.dev.Stop()
	c.dev.Uninit()
	c.dev = nil
	if err != nil {
		return fmt.Errorf("device: stop capture: %w", err)
	}
	return nil
}

// Close implements [audio.CaptureDevice].
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.stopLocked()
	_ = c.mctx.Uninit()
	c.mctx.Free()
	return err
}
