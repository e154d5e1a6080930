package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"go.uber.org/zap"

	"github.com/example/landcovernet/internal/preprocess"
)

// Metadata is the sidecar shipped next to the ONNX weights. It pins tensor
// names and shapes and the preprocessing the weights were trained with.
type Metadata struct {
	Architecture  string        `json:"architecture"`
	InputName     string        `json:"input_name"`
	OutputName    string        `json:"output_name"`
	InputShape    []int64       `json:"input_shape"`
	OutputShape   []int64       `json:"output_shape"`
	Preprocessing Preprocessing `json:"preprocessing"`
}

// Preprocessing mirrors preprocess.Pipeline in JSON form.
type Preprocessing struct {
	ResizeSize int       `json:"resize_size"`
	CropSize   int       `json:"crop_size"`
	Mean       []float32 `json:"mean"`
	Std        []float32 `json:"std"`
}

// LoadMetadata reads the sidecar at path. A missing file is not an error: the
// builtin ResNet-18 contract is used and a warning logged.
func LoadMetadata(path string, logger *zap.Logger) (Metadata, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("model metadata missing, using builtin preprocessing contract", zap.String("path", path))
		return Metadata{}, nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return meta, nil
}

// WithDefaults fills every unset field from the builtin contract for a model
// with the given number of classes.
func (m Metadata) WithDefaults(classes int) Metadata {
	if m.Architecture == "" {
		m.Architecture = "resnet18"
	}
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}

	d := preprocess.Default
	p := &m.Preprocessing
	if p.ResizeSize == 0 {
		p.ResizeSize = d.ResizeSize
	}
	if p.CropSize == 0 {
		p.CropSize = d.CropSize
	}
	if len(p.Mean) == 0 {
		p.Mean = d.Mean[:]
	}
	if len(p.Std) == 0 {
		p.Std = d.Std[:]
	}

	if len(m.InputShape) == 0 {
		m.InputShape = []int64{1, 3, int64(p.CropSize), int64(p.CropSize)}
	}
	if len(m.OutputShape) == 0 {
		m.OutputShape = []int64{1, int64(classes)}
	}
	return m
}

// Pipeline converts the preprocessing block into a validated pipeline.
func (m Metadata) Pipeline() (preprocess.Pipeline, error) {
	p := m.Preprocessing
	if len(p.Mean) != 3 || len(p.Std) != 3 {
		return preprocess.Pipeline{}, fmt.Errorf("mean and std need 3 entries, got %d and %d", len(p.Mean), len(p.Std))
	}
	pipe := preprocess.Pipeline{ResizeSize: p.ResizeSize, CropSize: p.CropSize}
	copy(pipe.Mean[:], p.Mean)
	copy(pipe.Std[:], p.Std)
	if err := pipe.Validate(); err != nil {
		return preprocess.Pipeline{}, err
	}
	return pipe, nil
}

// Validate checks that the tensor shapes agree with the preprocessing output
// and with the size of the label table.
func (m Metadata) Validate(classes int) error {
	pipe, err := m.Pipeline()
	if err != nil {
		return fmt.Errorf("invalid preprocessing: %w", err)
	}
	if !slices.Equal(m.InputShape, pipe.Shape()) {
		return fmt.Errorf("input shape %v does not match preprocessing output %v", m.InputShape, pipe.Shape())
	}
	if len(m.OutputShape) != 2 || m.OutputShape[0] != 1 {
		return fmt.Errorf("output shape %v must be [1, classes]", m.OutputShape)
	}
	if int(m.OutputShape[1]) != classes {
		return fmt.Errorf("model has %d outputs but the label table has %d classes", m.OutputShape[1], classes)
	}
	return nil
}

// OutputLen is the number of scores one forward pass produces.
func (m Metadata) OutputLen() int {
	n := 1
	for _, d := range m.OutputShape {
		n *= int(d)
	}
	return n
}
