package usecase

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/example/landcovernet/internal/classifier"
	"github.com/example/landcovernet/internal/imagedecode"
	"github.com/example/landcovernet/internal/logging"
	"github.com/example/landcovernet/internal/metrics"
)

type stubDecoder struct {
	result *imagedecode.Result
	err    error
	calls  int
}

func (s *stubDecoder) Decode(data []byte) (*imagedecode.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubPipeline struct {
	tensor []float32
	seen   image.Image
}

func (s *stubPipeline) Normalize(img image.Image) []float32 {
	s.seen = img
	return s.tensor
}

type stubClassifier struct {
	pred  *classifier.Prediction
	err   error
	input []float32
}

func (s *stubClassifier) Classify(ctx context.Context, tensor []float32) (*classifier.Prediction, error) {
	s.input = tensor
	if s.err != nil {
		return nil, s.err
	}
	return s.pred, nil
}

func newMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m
}

func decodedImage() *imagedecode.Result {
	return &imagedecode.Result{
		Image:  image.NewRGBA(image.Rect(0, 0, 8, 8)),
		Source: imagedecode.SourceStandard,
		Format: "jpeg",
		MIME:   "image/jpeg",
	}
}

func TestPredictReturnsRoundedConfidence(t *testing.T) {
	decoder := &stubDecoder{result: decodedImage()}
	pipeline := &stubPipeline{tensor: []float32{1, 2, 3}}
	clf := &stubClassifier{pred: &classifier.Prediction{Label: "Forest", Index: 1, Confidence: 0.987654}}
	m := newMetrics(t)
	uc := NewPredictionUseCase(decoder, pipeline, clf, m, zap.NewNop())

	res, err := uc.Predict(context.Background(), "forest.jpg", []byte("image"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if res.PredictedClass != "Forest" || res.ClassIndex != 1 {
		t.Fatalf("unexpected prediction: %+v", res)
	}
	if res.Confidence != 0.9877 {
		t.Fatalf("expected confidence 0.9877, got %v", res.Confidence)
	}
	if res.Filename != "forest.jpg" {
		t.Fatalf("unexpected filename: %s", res.Filename)
	}
	if res.RequestID == "" {
		t.Fatal("expected request id to be set")
	}
	if pipeline.seen != decoder.result.Image {
		t.Fatal("expected decoded image to reach the pipeline")
	}
	if len(clf.input) != 3 {
		t.Fatalf("expected tensor to reach the classifier, got %v", clf.input)
	}
	if got := testutil.ToFloat64(m.Predictions.WithLabelValues(metrics.OutcomeSuccess)); got != 1 {
		t.Fatalf("expected one successful prediction, got %v", got)
	}
	if got := testutil.ToFloat64(m.PredictedClass.WithLabelValues("Forest")); got != 1 {
		t.Fatalf("expected Forest counter to be 1, got %v", got)
	}
	if got := testutil.CollectAndCount(m.StageDuration); got != 3 {
		t.Fatalf("expected 3 stage series, got %d", got)
	}
}

func TestPredictWrapsUnreadableImage(t *testing.T) {
	unreadable := &imagedecode.UnreadableImageError{
		MIME:       "application/octet-stream",
		Standard:   errors.New("image: unknown format"),
		Geospatial: errors.New("not a TIFF"),
	}
	clf := &stubClassifier{}
	m := newMetrics(t)
	uc := NewPredictionUseCase(&stubDecoder{err: unreadable}, &stubPipeline{}, clf, m, zap.NewNop())

	_, err := uc.Predict(context.Background(), "junk.bin", []byte("junk"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "usecase.decode_image" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	var target *imagedecode.UnreadableImageError
	if !errors.As(err, &target) || target != unreadable {
		t.Fatalf("expected UnreadableImageError to be reachable, got %v", err)
	}
	if clf.input != nil {
		t.Fatal("classifier must not run after a decode failure")
	}
	if got := testutil.ToFloat64(m.Predictions.WithLabelValues(metrics.OutcomeUnreadable)); got != 1 {
		t.Fatalf("expected one unreadable outcome, got %v", got)
	}
}

func TestPredictReturnsOperationErrorOnClassifyFailure(t *testing.T) {
	boom := errors.New("session failed")
	m := newMetrics(t)
	uc := NewPredictionUseCase(
		&stubDecoder{result: decodedImage()},
		&stubPipeline{tensor: []float32{0}},
		&stubClassifier{err: boom},
		m,
		zap.NewNop(),
	)

	_, err := uc.Predict(context.Background(), "a.png", []byte("image"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped classifier error, got %v", err)
	}
	if op := logging.OperationOf(err); op != "usecase.classify" {
		t.Fatalf("unexpected operation: %s", op)
	}
	var unreadable *imagedecode.UnreadableImageError
	if errors.As(err, &unreadable) {
		t.Fatal("classifier failures must not look like unreadable images")
	}
	if got := testutil.ToFloat64(m.Predictions.WithLabelValues(metrics.OutcomeError)); got != 1 {
		t.Fatalf("expected one error outcome, got %v", got)
	}
}

func TestPredictWithoutMetricsOrLogger(t *testing.T) {
	uc := NewPredictionUseCase(
		&stubDecoder{result: decodedImage()},
		&stubPipeline{tensor: []float32{0}},
		&stubClassifier{pred: &classifier.Prediction{Label: "SeaLake", Index: 9, Confidence: 0.5}},
		nil,
		nil,
	)

	res, err := uc.Predict(context.Background(), "lake.png", []byte("image"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if res.PredictedClass != "SeaLake" {
		t.Fatalf("unexpected prediction: %+v", res)
	}

	failing := NewPredictionUseCase(&stubDecoder{err: errors.New("boom")}, &stubPipeline{}, &stubClassifier{}, nil, nil)
	if _, err := failing.Predict(context.Background(), "x.png", nil); err == nil {
		t.Fatal("expected decode error, got nil")
	}
}

func TestRoundConfidence(t *testing.T) {
	cases := map[float64]float64{
		0.12344: 0.1234,
		0.99994: 0.9999,
		0.98766: 0.9877,
		1:       1,
		0:       0,
	}
	for in, want := range cases {
		if got := RoundConfidence(in); got != want {
			t.Fatalf("RoundConfidence(%v) = %v, want %v", in, got, want)
		}
	}
}
