package usecase

import (
	"context"
	"errors"
	"image"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/landcovernet/internal/classifier"
	"github.com/example/landcovernet/internal/imagedecode"
	"github.com/example/landcovernet/internal/logging"
	"github.com/example/landcovernet/internal/metrics"
)

// ImageDecoder turns uploaded bytes into a canonical RGB image.
type ImageDecoder interface {
	Decode(data []byte) (*imagedecode.Result, error)
}

// Preprocessor converts a canonical image into the model's input tensor.
type Preprocessor interface {
	Normalize(img image.Image) []float32
}

// Classifier scores a tensor and returns the top class.
type Classifier interface {
	Classify(ctx context.Context, tensor []float32) (*classifier.Prediction, error)
}

// Result is the outcome of one prediction request.
type Result struct {
	RequestID      string
	Filename       string
	PredictedClass string
	ClassIndex     int
	// Confidence is rounded to four decimal places.
	Confidence float64
	Source     imagedecode.Source
	Format     string
}

// PredictionUseCase runs decode, preprocess and classify for one upload.
type PredictionUseCase struct {
	decoder    ImageDecoder
	pipeline   Preprocessor
	classifier Classifier
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewPredictionUseCase constructs a new use case instance. m may be nil to
// disable metrics and logger may be nil to disable logging.
func NewPredictionUseCase(decoder ImageDecoder, pipeline Preprocessor, clf Classifier, m *metrics.Metrics, logger *zap.Logger) *PredictionUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PredictionUseCase{
		decoder:    decoder,
		pipeline:   pipeline,
		classifier: clf,
		metrics:    m,
		logger:     logger.Named("prediction_usecase"),
		now:        time.Now,
	}
}

// Predict classifies data. Decode failures wrap *imagedecode.UnreadableImageError.
func (uc *PredictionUseCase) Predict(ctx context.Context, filename string, data []byte) (*Result, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.predict", requestID).With(zap.String("filename", filename))

	start := uc.now()
	decoded, err := uc.decoder.Decode(data)
	uc.metrics.ObserveStage(metrics.StageDecode, uc.now().Sub(start))
	if err != nil {
		wrapped := logging.NewOperationError("usecase.decode_image", requestID, err)
		var unreadable *imagedecode.UnreadableImageError
		if errors.As(err, &unreadable) {
			uc.metrics.RecordPrediction(metrics.OutcomeUnreadable, "")
			opLogger.Warn("unreadable upload", zap.Int("bytes", len(data)), zap.String("mime", unreadable.MIME), zap.Error(err))
		} else {
			uc.metrics.RecordPrediction(metrics.OutcomeError, "")
			opLogger.Error("image decoding failed", zap.Error(wrapped))
		}
		return nil, wrapped
	}
	opLogger.Debug("image decoded",
		zap.String("source", string(decoded.Source)),
		zap.String("format", decoded.Format),
		zap.Int("width", decoded.Image.Bounds().Dx()),
		zap.Int("height", decoded.Image.Bounds().Dy()),
		zap.Int("bands", decoded.Bands),
	)

	start = uc.now()
	tensor := uc.pipeline.Normalize(decoded.Image)
	uc.metrics.ObserveStage(metrics.StagePreprocess, uc.now().Sub(start))

	start = uc.now()
	pred, err := uc.classifier.Classify(ctx, tensor)
	uc.metrics.ObserveStage(metrics.StageInference, uc.now().Sub(start))
	if err != nil {
		wrapped := logging.NewOperationError("usecase.classify", requestID, err)
		uc.metrics.RecordPrediction(metrics.OutcomeError, "")
		opLogger.Error("classification failed", zap.Error(wrapped))
		return nil, wrapped
	}

	uc.metrics.RecordPrediction(metrics.OutcomeSuccess, pred.Label)
	opLogger.Info("prediction complete",
		zap.String("predicted_class", pred.Label),
		zap.Int("class_index", pred.Index),
		zap.Float64("confidence", pred.Confidence),
		zap.Float64s("probabilities", pred.Probabilities),
	)

	return &Result{
		RequestID:      requestID,
		Filename:       filename,
		PredictedClass: pred.Label,
		ClassIndex:     pred.Index,
		Confidence:     RoundConfidence(pred.Confidence),
		Source:         decoded.Source,
		Format:         decoded.Format,
	}, nil
}

// RoundConfidence rounds p to four decimal places, half away from zero.
func RoundConfidence(p float64) float64 {
	return math.Round(p*1e4) / 1e4
}
