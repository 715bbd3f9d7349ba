// Package roboflow detects books with a hosted Roboflow instance
// segmentation model.
package roboflow

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/bookshelf-analyzer/pkg/processing"
	"github.com/menta2k/bookshelf-analyzer/pkg/types"
)

const (
	DefaultURL     = "https://detect.roboflow.com"
	DefaultModelID = "the-ultimate-bookshelf-fqvoz/3"
)

// Options tune the inference request
type Options struct {
	// Confidence is the minimum prediction confidence in [0,1], 0 uses the server default
	Confidence float64
	// MaxDim downscales the upload so its long side fits; predictions are scaled back
	MaxDim  int
	Quality int
	Timeout time.Duration
}

// Client calls the Roboflow hosted inference API
type Client struct {
	baseURL    string
	apiKey     string
	modelID    string
	opts       Options
	processor  *processing.Processor
	httpClient *http.Client
}

// Prediction is one entry of the inference response
type Prediction struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
	Class      string  `json:"class"`
	Points     []struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"points"`
}

// Response is the inference response body
type Response struct {
	Predictions []Prediction `json:"predictions"`
	Image       struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"image"`
}

// NewClient creates a Roboflow client for the given model id ("project/version")
func NewClient(baseURL, apiKey, modelID string, opts Options) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if modelID == "" {
		modelID = DefaultModelID
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid roboflow URL: %q", baseURL)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("roboflow API key is required")
	}
	if opts.Quality <= 0 {
		opts.Quality = 90
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		modelID:    strings.Trim(modelID, "/"),
		opts:       opts,
		processor:  processing.NewProcessor(),
		httpClient: &http.Client{Timeout: opts.Timeout},
	}, nil
}

// Detect runs the model on img and returns one detection per prediction,
// with masks in img's pixel coordinates
func (c *Client) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	payload, err := c.processor.PrepareImageForModel(img, "jpg", c.opts.MaxDim, c.opts.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	resp, err := c.infer(ctx, payload)
	if err != nil {
		return nil, err
	}

	sx, sy := 1.0, 1.0
	if resp.Image.Width > 0 && resp.Image.Height > 0 {
		sx = float64(w) / resp.Image.Width
		sy = float64(h) / resp.Image.Height
	}

	detections := make([]types.Detection, 0, len(resp.Predictions))
	for _, p := range resp.Predictions {
		detections = append(detections, p.toDetection(w, h, sx, sy))
	}

	log.Debug().
		Int("predictions", len(detections)).
		Str("model", c.modelID).
		Msg("detection finished")

	return detections, nil
}

func (p Prediction) toDetection(w, h int, sx, sy float64) types.Detection {
	box := types.Box{
		X1: (p.X - p.Width/2) * sx,
		Y1: (p.Y - p.Height/2) * sy,
		X2: (p.X + p.Width/2) * sx,
		Y2: (p.Y + p.Height/2) * sy,
	}

	var pts [][2]float64
	if len(p.Points) >= 3 {
		pts = make([][2]float64, len(p.Points))
		for i, pt := range p.Points {
			pts[i] = [2]float64{pt.X * sx, pt.Y * sy}
		}
	} else {
		pts = [][2]float64{{box.X1, box.Y1}, {box.X2, box.Y1}, {box.X2, box.Y2}, {box.X1, box.Y2}}
	}

	return types.Detection{
		Mask:       types.RasterizePolygon(w, h, pts),
		Box:        box,
		Class:      p.Class,
		Confidence: p.Confidence,
	}
}

func (c *Client) infer(ctx context.Context, payload string) (*Response, error) {
	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("format", "json")
	if c.opts.Confidence > 0 {
		q.Set("confidence", strconv.Itoa(int(math.Round(c.opts.Confidence * 100))))
	}
	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, c.modelID, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("roboflow returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &out, nil
}
