// Package client uploads images to a running LandCoverNet server.
package client

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const reqTimeout = 60 * time.Second

// Emojis decorate the builtin EuroSAT classes when printing predictions.
var Emojis = map[string]string{
	"AnnualCrop":           "🌾",
	"Forest":               "🌲",
	"HerbaceousVegetation": "🌿",
	"Highway":              "🛣️",
	"Industrial":           "🏭",
	"Pasture":              "🐄",
	"PermanentCrop":        "🍇",
	"Residential":          "🏘️",
	"River":                "💧",
	"SeaLake":              "🌊",
}

// Emoji returns the decoration for class, or a question mark.
func Emoji(class string) string {
	if e, ok := Emojis[class]; ok {
		return e
	}
	return "❓"
}

// Prediction mirrors the body of a successful /predict call.
type Prediction struct {
	Filename       string  `json:"filename"`
	PredictedClass string  `json:"predicted_class"`
	Confidence     float64 `json:"confidence"`
	RequestID      string  `json:"-"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status int    `json:"-"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Detail)
}

// Client talks to the prediction API.
type Client struct {
	*resty.Client
}

// New returns a client for the server at baseURL, e.g. http://127.0.0.1:8000.
func New(baseURL string, logger *zap.Logger) *Client {
	r := resty.New().
		SetLogger(logger.Sugar()).
		SetBaseURL(baseURL).
		SetTimeout(reqTimeout)
	return &Client{Client: r}
}

// PredictFile uploads the file at path.
func (c *Client) PredictFile(ctx context.Context, path string) (*Prediction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return c.Predict(ctx, filepath.Base(path), data)
}

// Predict uploads data as the multipart field "file".
func (c *Client) Predict(ctx context.Context, filename string, data []byte) (*Prediction, error) {
	var (
		result  Prediction
		failure APIError
	)
	resp, err := c.R().
		SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(data)).
		SetResult(&result).
		SetError(&failure).
		Post("/predict")
	if err != nil {
		return nil, fmt.Errorf("couldn't connect with prediction server: %w", err)
	}
	if resp.IsError() {
		failure.Status = resp.StatusCode()
		return nil, &failure
	}
	result.RequestID = resp.Header().Get("X-Request-ID")
	return &result, nil
}

// Format renders p the way the CLI prints it.
func Format(p *Prediction) string {
	return fmt.Sprintf("%s %s %s (%.2f%%)", p.Filename, Emoji(p.PredictedClass), p.PredictedClass, p.Confidence*100)
}
