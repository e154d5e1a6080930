// Package model owns the trained network: its metadata sidecar and the ONNX
// Runtime session that performs the forward pass.
package model

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	ort "github.com/yalue/onnxruntime_go"
)

// MissingArtifactError reports that the weights file is absent. The service
// must not start without it.
type MissingArtifactError struct {
	Path string
	Err  error
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("model weights %q not found: %v", e.Path, e.Err)
}

func (e *MissingArtifactError) Unwrap() error { return e.Err }

// Options locates the weights and the ONNX Runtime shared library.
type Options struct {
	ModelPath         string
	SharedLibraryPath string
	IntraOpThreads    int
}

// Session is a loaded network. It is read-only after NewSession and safe for
// concurrent Scores calls: tensors are allocated per call.
type Session struct {
	session *ort.DynamicAdvancedSession
	meta    Metadata
}

// NewSession checks the weights exist, initializes ONNX Runtime and loads
// the model described by meta.
func NewSession(opts Options, meta Metadata) (*Session, error) {
	if _, err := os.Stat(opts.ModelPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &MissingArtifactError{Path: opts.ModelPath, Err: err}
		}
		return nil, fmt.Errorf("failed to stat model weights: %w", err)
	}

	if opts.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(opts.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if opts.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			ort.DestroyEnvironment()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(opts.ModelPath,
		[]string{meta.InputName}, []string{meta.OutputName}, options)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Session{session: session, meta: meta}, nil
}

// Scores runs one forward pass over a single CHW tensor and returns the raw
// logits. The batch axis comes from the metadata input shape.
func (s *Session) Scores(ctx context.Context, input []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(s.meta.InputShape...), input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(s.meta.OutputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := s.session.Run([]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return append([]float32(nil), outputTensor.GetData()...), nil
}

// Metadata returns the sidecar the session was built from.
func (s *Session) Metadata() Metadata { return s.meta }

// Close releases the session and the runtime environment.
func (s *Session) Close() {
	if s.session != nil {
		s.session.Destroy()
	}
	ort.DestroyEnvironment()
}
