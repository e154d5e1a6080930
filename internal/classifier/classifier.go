// Package classifier turns a normalized tensor into a single labelled
// prediction: forward pass, softmax, arg-max.
package classifier

import (
	"context"
	"fmt"
	"math"

	"github.com/example/landcovernet/internal/labels"
)

// Scorer runs the network over one tensor and returns one raw score per class.
type Scorer interface {
	Scores(ctx context.Context, input []float32) ([]float32, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, input []float32) ([]float32, error)

// Scores calls f.
func (f ScorerFunc) Scores(ctx context.Context, input []float32) ([]float32, error) {
	return f(ctx, input)
}

// Prediction is the top class for one input.
type Prediction struct {
	Label         string
	Index         int
	Confidence    float64
	Probabilities []float64
}

// Service is shared by all requests; it holds only read-only state.
type Service struct {
	scorer   Scorer
	labels   *labels.Table
	inputLen int
}

// NewService returns a classifier expecting tensors of exactly inputLen values.
func NewService(scorer Scorer, table *labels.Table, inputLen int) *Service {
	return &Service{scorer: scorer, labels: table, inputLen: inputLen}
}

// Classify scores tensor and returns the most probable class.
func (s *Service) Classify(ctx context.Context, tensor []float32) (*Prediction, error) {
	if len(tensor) != s.inputLen {
		return nil, fmt.Errorf("tensor has %d values, model expects %d", len(tensor), s.inputLen)
	}

	logits, err := s.scorer.Scores(ctx, tensor)
	if err != nil {
		return nil, err
	}
	if len(logits) != s.labels.Len() {
		return nil, fmt.Errorf("model returned %d scores for %d classes", len(logits), s.labels.Len())
	}

	probs := Softmax(logits)
	idx := ArgMax(probs)
	label, err := s.labels.Name(idx)
	if err != nil {
		return nil, err
	}
	return &Prediction{
		Label:         label,
		Index:         idx,
		Confidence:    probs[idx],
		Probabilities: probs,
	}, nil
}

// Labels returns the table predictions are resolved against.
func (s *Service) Labels() *labels.Table { return s.labels }

// Softmax converts logits into probabilities, shifting by the maximum logit
// so large scores do not overflow.
func Softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := math.Inf(-1)
	for _, l := range logits {
		maxLogit = math.Max(maxLogit, float64(l))
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(float64(l) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// ArgMax returns the index of the largest value; the first wins on ties.
func ArgMax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
