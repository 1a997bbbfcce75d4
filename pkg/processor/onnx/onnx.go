// Package onnx implements processor.FrameProcessor on top of ONNX Runtime.
//
// The model is the streaming denoiser graph: input "mix" carries one
// spectral frame of shape [1, 257, 1, 2] (one-sided bins, single time step,
// real/imaginary split), the three cache inputs carry the recurrent state,
// and the outputs are the enhanced frame plus the updated caches. One
// Run call evaluates exactly one frame.
package onnx

import (
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/auralab/clarion/pkg/processor"
)

var inputNames = []string{"mix", "conv_cache", "tra_cache", "inter_cache"}
var outputNames = []string{"enh", "conv_cache_out", "tra_cache_out", "inter_cache_out"}

// ortInitOnce guards process-wide ONNX Runtime environment initialisation.
// The error is kept so later constructor calls surface the original failure
// instead of running against an uninitialised environment.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// Config configures the ONNX-backed processor.
type Config struct {
	// ModelPath is the path to the .onnx model file.
	ModelPath string

	// SharedLibrary optionally points at the onnxruntime shared library
	// (.so/.dylib). Empty means the platform default lookup.
	SharedLibrary string
}

// Processor wraps an ONNX Runtime session holding the streaming denoiser
// model. The session's input/output tensors are allocated once and reused
// for every frame; cache data is copied in and out around each Run so the
// caller's CacheState stays request-local.
type Processor struct {
	session *ort.AdvancedSession

	mixTensor   *ort.Tensor[float32]
	convTensor  *ort.Tensor[float32]
	traTensor   *ort.Tensor[float32]
	interTensor *ort.Tensor[float32]

	enhTensor      *ort.Tensor[float32]
	convOutTensor  *ort.Tensor[float32]
	traOutTensor   *ort.Tensor[float32]
	interOutTensor *ort.Tensor[float32]

	mu        sync.Mutex
	closed    bool
	modelPath string
}

// New loads the model at cfg.ModelPath and prepares a reusable inference
// session. The onnxruntime environment is initialised on first use.
func New(cfg Config) (*Processor, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx: ModelPath must not be empty")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("onnx: model file: %w", err)
	}

	ortInitOnce.Do(func() {
		if cfg.SharedLibrary != "" {
			ort.SetSharedLibraryPath(cfg.SharedLibrary)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("onnx: initialize environment: %w", ortInitErr)
	}

	p := &Processor{modelPath: cfg.ModelPath}
	if err := p.createTensors(); err != nil {
		p.destroyTensors()
		return nil, err
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		inputNames,
		outputNames,
		[]ort.Value{p.mixTensor, p.convTensor, p.traTensor, p.interTensor},
		[]ort.Value{p.enhTensor, p.convOutTensor, p.traOutTensor, p.interOutTensor},
		nil)
	if err != nil {
		p.destroyTensors()
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}
	p.session = session
	return p, nil
}

func (p *Processor) createTensors() error {
	var err error
	if p.mixTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 257, 1, 2)); err != nil {
		return fmt.Errorf("onnx: create mix tensor: %w", err)
	}
	if p.convTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 16, 16, 33)); err != nil {
		return fmt.Errorf("onnx: create conv_cache tensor: %w", err)
	}
	if p.traTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 3, 1, 1, 16)); err != nil {
		return fmt.Errorf("onnx: create tra_cache tensor: %w", err)
	}
	if p.interTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 33, 16)); err != nil {
		return fmt.Errorf("onnx: create inter_cache tensor: %w", err)
	}
	if p.enhTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 257, 1, 2)); err != nil {
		return fmt.Errorf("onnx: create enh tensor: %w", err)
	}
	if p.convOutTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 16, 16, 33)); err != nil {
		return fmt.Errorf("onnx: create conv_cache_out tensor: %w", err)
	}
	if p.traOutTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 3, 1, 1, 16)); err != nil {
		return fmt.Errorf("onnx: create tra_cache_out tensor: %w", err)
	}
	if p.interOutTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 33, 16)); err != nil {
		return fmt.Errorf("onnx: create inter_cache_out tensor: %w", err)
	}
	return nil
}

// ProcessFrame implements processor.FrameProcessor. The cache is consumed
// and updated in place: conv/tra/inter data is copied into the session's
// input tensors before Run and the updated values are copied back out after.
func (p *Processor) ProcessFrame(frame []complex64, cache *processor.CacheState) ([]complex64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, processor.ErrClosed
	}
	if len(frame) != 257 {
		return nil, fmt.Errorf("onnx: frame has %d bins, want 257", len(frame))
	}

	mix := p.mixTensor.GetData()
	for i, c := range frame {
		mix[i*2] = real(c)
		mix[i*2+1] = imag(c)
	}
	copy(p.convTensor.GetData(), cache.Conv)
	copy(p.traTensor.GetData(), cache.Recurrent)
	copy(p.interTensor.GetData(), cache.Inter)

	if err := p.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx: run: %w", err)
	}

	copy(cache.Conv, p.convOutTensor.GetData())
	copy(cache.Recurrent, p.traOutTensor.GetData())
	copy(cache.Inter, p.interOutTensor.GetData())

	enh := p.enhTensor.GetData()
	out := make([]complex64, 257)
	for i := range out {
		out[i] = complex(enh[i*2], enh[i*2+1])
	}
	return out, nil
}

// Info reports the model path, execution providers, and tensor names.
func (p *Processor) Info() processor.Info {
	return processor.Info{
		ModelPath:   p.modelPath,
		Providers:   []string{"CPUExecutionProvider"},
		InputNames:  append([]string(nil), inputNames...),
		OutputNames: append([]string(nil), outputNames...),
	}
}

// Close destroys the session and tensors. Safe to call more than once.
func (p *Processor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.session != nil {
		p.session.Destroy()
		p.session = nil
	}
	p.destroyTensors()
	return nil
}

func (p *Processor) destroyTensors() {
	tensors := []*ort.Tensor[float32]{
		p.mixTensor, p.convTensor, p.traTensor, p.interTensor,
		p.enhTensor, p.convOutTensor, p.traOutTensor, p.interOutTensor,
	}
	for _, t := range tensors {
		if t != nil {
			t.Destroy()
		}
	}
	p.mixTensor, p.convTensor, p.traTensor, p.interTensor = nil, nil, nil, nil
	p.enhTensor, p.convOutTensor, p.traOutTensor, p.interOutTensor = nil, nil, nil, nil
}
