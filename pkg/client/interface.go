package client

import (
	"context"
	"encoding/json"
)

// Request is a single multi-image query to a vision model
type Request struct {
	Model       string
	System      string
	Prompt      string
	ImagesB64   []string
	Schema      json.RawMessage
	// Temperature is left to the backend default when nil
	Temperature *float64
	MaxTokens   int
}

// Temperature returns v as a Request temperature
func Temperature(v float64) *float64 {
	return &v
}

// VisionClient is implemented by every vision model backend
type VisionClient interface {
	// SimpleQuery asks a free-form question about one image
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	// Query sends all images in order and returns the raw model reply
	Query(ctx context.Context, req Request) (string, error)
}
