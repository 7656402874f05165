// Package detector is a client for a remote object-detection service.
package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/okian/aidect/internal/domain/model"
	"github.com/okian/aidect/pkg/logger"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultInputSize = 256
	defaultQuality   = 90
	defaultThreshold = 0.5
	maxErrorBody     = 512
)

// Client sends frames to the service's /infer endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	timeout    time.Duration
	threshold  float64
	inputSize  int
	quality    int
	logger     logger.Logger
}

type inferRequest struct {
	Image               string  `json:"image"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	InputSize           int     `json:"input_size"`
}

type boundingBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
}

type inferResponse struct {
	BoundingBoxes []boundingBox `json:"bounding_boxes"`
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		endpoint:  strings.TrimRight(baseURL, "/") + "/infer",
		timeout:   defaultTimeout,
		threshold: defaultThreshold,
		inputSize: defaultInputSize,
		quality:   defaultQuality,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("detector")
	}
	return c
}

// Infer returns the detections in img at or above the threshold, in img
// coordinates relative to its bounds origin.
func (c *Client) Infer(ctx context.Context, img image.Image) ([]model.Detection, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodeFrame, err)
	}

	body, err := json.Marshal(inferRequest{
		Image:               base64.StdEncoding.EncodeToString(buf.Bytes()),
		ConfidenceThreshold: c.threshold,
		InputSize:           c.inputSize,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	detections := make([]model.Detection, 0, len(out.BoundingBoxes))
	for _, b := range out.BoundingBoxes {
		if b.Confidence < c.threshold {
			continue
		}
		detections = append(detections, model.Detection{
			ClassID:    b.ClassID,
			Confidence: b.Confidence,
			Box:        toBox(b),
		})
	}

	c.logger.Debug(ctx, "inference done",
		logger.Int("boxes", len(out.BoundingBoxes)),
		logger.Int("kept", len(detections)))
	return detections, nil
}

// toBox converts corner coordinates to an origin and size, rounding outward.
func toBox(b boundingBox) model.Box {
	x1, y1 := math.Floor(math.Min(b.X1, b.X2)), math.Floor(math.Min(b.Y1, b.Y2))
	x2, y2 := math.Ceil(math.Max(b.X1, b.X2)), math.Ceil(math.Max(b.Y1, b.Y2))
	return model.Box{
		X:      int(x1),
		Y:      int(y1),
		Width:  int(x2 - x1),
		Height: int(y2 - y1),
	}
}
