//go:build silero

package silero

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/transrouter/pkg/provider/vad"
)

// Compile-time interface assertion.
var _ vad.Oracle = (*Oracle)(nil)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// Available reports whether the backend is compiled in.
func Available() bool { return true }

// Oracle wraps one ONNX Runtime session. Predict calls are serialised because
// the session's output tensors are reused.
type Oracle struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession

	output *ort.Tensor[float32] // [1, 1]
	hn     *ort.Tensor[float32] // [2, 1, 64]
	cn     *ort.Tensor[float32] // [2, 1, 64]
}

// New loads the model at modelPath. libPath overrides the ONNX Runtime shared
// library location; empty falls back to [resolveORTLibPath].
func New(modelPath, libPath string) (*Oracle, error) {
	if modelPath == "" {
		return nil, errors.New("silero: model path is required")
	}
	ortInitOnce.Do(func() {
		if libPath == "" {
			var err error
			if libPath, err = resolveORTLibPath(); err != nil {
				ortInitErr = err
				return
			}
		}
		ort.SetSharedLibraryPath(libPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("silero: init onnxruntime: %w", ortInitErr)
	}

	o := &Oracle{}
	var err error
	if o.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		return nil, fmt.Errorf("silero: create output tensor: %w", err)
	}
	if o.hn, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 64)); err != nil {
		o.Close()
		return nil, fmt.Errorf("silero: create hn tensor: %w", err)
	}
	if o.cn, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 64)); err != nil {
		o.Close()
		return nil, fmt.Errorf("silero: create cn tensor: %w", err)
	}
	o.session, err = ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input", "sr", "h", "c"},
		[]string{"output", "hn", "cn"},
		nil,
	)
	if err != nil {
		o.Close()
		return nil, fmt.Errorf("silero: load model %q: %w", modelPath, err)
	}
	return o, nil
}

// Predict implements [vad.Oracle].
func (o *Oracle) Predict(samples []float32, sampleRate int, in vad.State) (vad.Prediction, error) {
	if len(samples) == 0 {
		return vad.Prediction{}, errors.New("silero: empty frame")
	}
	if len(in.H) != vad.StateSize || len(in.C) != vad.StateSize {
		return vad.Prediction{}, fmt.Errorf("silero: state has wrong shape (h=%d c=%d, want %d)", len(in.H), len(in.C), vad.StateSize)
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(samples))), samples)
	if err != nil {
		return vad.Prediction{}, fmt.Errorf("silero: create input tensor: %w", err)
	}
	defer input.Destroy()
	sr, err := ort.NewTensor(ort.NewShape(1), []int64{int64(sampleRate)})
	if err != nil {
		return vad.Prediction{}, fmt.Errorf("silero: create sr tensor: %w", err)
	}
	defer sr.Destroy()
	h, err := ort.NewTensor(ort.NewShape(2, 1, 64), in.H)
	if err != nil {
		return vad.Prediction{}, fmt.Errorf("silero: create h tensor: %w", err)
	}
	defer h.Destroy()
	c, err := ort.NewTensor(ort.NewShape(2, 1, 64), in.C)
	if err != nil {
		return vad.Prediction{}, fmt.Errorf("silero: create c tensor: %w", err)
	}
	defer c.Destroy()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return vad.Prediction{}, errors.New("silero: oracle is closed")
	}
	if err := o.session.Run([]ort.Value{input, sr, h, c}, []ort.Value{o.output, o.hn, o.cn}); err != nil {
		return vad.Prediction{}, fmt.Errorf("silero: inference: %w", err)
	}

	out := o.output.GetData()
	next := vad.State{
		H: append([]float32(nil), o.hn.GetData()...),
		C: append([]float32(nil), o.cn.GetData()...),
	}
	return vad.Prediction{Probability: float64(out[len(out)-1]), State: next}, nil
}

// Close implements [vad.Oracle].
func (o *Oracle) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		o.session.Destroy()
		o.session = nil
	}
	for _, t := range []**ort.Tensor[float32]{&o.output, &o.hn, &o.cn} {
		if *t != nil {
			(*t).Destroy()
			*t = nil
		}
	}
	return nil
}
