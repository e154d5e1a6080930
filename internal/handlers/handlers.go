package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/landcovernet/internal/imagedecode"
	"github.com/example/landcovernet/internal/logging"
	"github.com/example/landcovernet/internal/metrics"
	"github.com/example/landcovernet/internal/usecase"
)

// MaxUploadSize is the default upload limit in bytes.
const MaxUploadSize = 32 << 20

// FileField is the multipart field carrying the image.
const FileField = "file"

const welcomeMessage = "Welcome to LandCoverNet. POST an image to /predict or open /ui to classify a land cover patch."

// Predictor classifies one uploaded file.
type Predictor interface {
	Predict(ctx context.Context, filename string, data []byte) (*usecase.Result, error)
}

// Options configures RegisterRoutes.
type Options struct {
	// MaxUploadBytes caps the request body; zero means MaxUploadSize.
	MaxUploadBytes int64
	ModelPath      string
	Classes        int
	CORS           bool
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
}

// PredictResponse is the body of a successful /predict call.
type PredictResponse struct {
	Filename       string  `json:"filename"`
	PredictedClass string  `json:"predicted_class"`
	Confidence     float64 `json:"confidence"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, predictor Predictor, opts Options) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")
	limit := opts.MaxUploadBytes
	if limit <= 0 {
		limit = MaxUploadSize
	}

	router.Use(RequestLogger(logger))
	if opts.Metrics != nil {
		router.Use(Instrument(opts.Metrics))
	}
	if opts.CORS {
		router.Use(CORS())
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": welcomeMessage})
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"model":   opts.ModelPath,
			"classes": opts.Classes,
		})
	})

	router.GET("/ui", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})

	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	router.POST("/predict", func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			abortTooLarge(c, limit)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

		file, err := c.FormFile(FileField)
		if err != nil {
			var tooLarge *http.MaxBytesError
			switch {
			case errors.As(err, &tooLarge):
				abortTooLarge(c, limit)
			case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
				c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": fmt.Sprintf("multipart field %q with an image file is required", FileField)})
			default:
				c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("malformed multipart body: %v", err)})
			}
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "unable to open uploaded file"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to read uploaded file"})
			return
		}

		result, err := predictor.Predict(c.Request.Context(), file.Filename, data)
		if err != nil {
			var unreadable *imagedecode.UnreadableImageError
			if errors.As(err, &unreadable) {
				c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("Could not read the image file. Error: %v", unreadable)})
				return
			}
			logger.Error("prediction failed",
				zap.String("operation", logging.OperationOf(err)),
				zap.String("filename", file.Filename),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}

		c.Header("X-Request-ID", result.RequestID)
		c.JSON(http.StatusOK, PredictResponse{
			Filename:       result.Filename,
			PredictedClass: result.PredictedClass,
			Confidence:     result.Confidence,
		})
	})
}

func abortTooLarge(c *gin.Context, limit int64) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
		"detail": fmt.Sprintf("upload exceeds the %d byte limit", limit),
	})
}
