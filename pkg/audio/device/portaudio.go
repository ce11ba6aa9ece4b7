package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/transrouter/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.OutputDevice = (*Output)(nil)

// Output is a mono 16-bit PortAudio blocking output stream.
type Output struct {
	format audio.Format

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

// OpenOutput initialises PortAudio and starts a blocking output stream on the
// configured device.
func OpenOutput(cfg audio.DeviceConfig) (*Output, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.PlaybackSampleRate
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = audio.PlaybackBlockSize
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("device: init portaudio: %w", err)
	}

	info, err := outputDevice(cfg.Device)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	params := portaudio.LowLatencyParameters(nil, info)
	params.Output.Channels = 1
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.BlockSize

	o := &Output{
		format: audio.Format{SampleRate: cfg.SampleRate, Channels: 1},
		buf:    make([]int16, 0, cfg.BlockSize),
	}
	// A pointer to the buffer lets every Write pass a chunk of any length.
	stream, err := portaudio.OpenStream(params, &o.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("device: open output device %q: %w", info.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("device: start output device %q: %w", info.Name, err)
	}
	o.stream = stream
	return o, nil
}

func outputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		info, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, fmt.Errorf("device: default output device: %w", err)
		}
		return info, nil
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("device: enumerate devices: %w", err)
	}
	for _, info := range infos {
		if info.Name == name && info.MaxOutputChannels > 0 {
			return info, nil
		}
	}
	return nil, fmt.Errorf("device: output device %q not found", name)
}

// Write implements [audio.OutputDevice]. It blocks until PortAudio has
// accepted all samples.
func (o *Output) Write(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errors.New("device: output is closed")
	}
	o.buf = append(o.buf[:0], samples...)
	if err := o.stream.Write(); err != nil {
		return fmt.Errorf("device: write %d samples: %w", len(samples), err)
	}
	return nil
}

// Format implements [audio.OutputDevice].
func (o *Output) Format() audio.Format { return o.format }

// Close implements [audio.OutputDevice].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	errStop := o.stream.Stop()
	errClose := o.stream.Close()
	errTerm := portaudio.Terminate()
	if err := errors.Join(errStop, errClose, errTerm); err != nil {
		return fmt.Errorf("device: close output: %w", err)
	}
	return nil
}

// List enumerates the host audio devices, marking the default input and output.
func List() ([]audio.DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("device: init portaudio: %w", err)
	}
	defer portaudio.Terminate()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("device: enumerate devices: %w", err)
	}
	var defIn, defOut string
	if d, err := portaudio.DefaultInputDevice(); err == nil {
		defIn = d.Name
	}
	if d, err := portaudio.DefaultOutputDevice(); err == nil {
		defOut = d.Name
	}

	out := make([]audio.DeviceInfo, 0, len(infos))
	for i, info := range infos {
		di := audio.DeviceInfo{
			Index:             i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			DefaultInput:      info.Name == defIn,
			DefaultOutput:     info.Name == defOut,
		}
		if info.HostApi != nil {
			di.HostAPI = info.HostApi.Name
		}
		out = append(out, di)
	}
	return out, nil
}
