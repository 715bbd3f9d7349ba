// Package identify asks a vision model for the title and author of each
// book region in a batch.
package identify

import (
	"context"
	"encoding/json"
	"fmt"
	"image"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/bookshelf-analyzer/pkg/client"
	"github.com/menta2k/bookshelf-analyzer/pkg/processing"
	"github.com/menta2k/bookshelf-analyzer/pkg/types"
)

// ProbePrompt checks whether the model can see images at all
const ProbePrompt = `What do you see in this image? Describe it briefly.`

// DefaultSystem is the system instruction sent with every batch
const DefaultSystem = `You are an expert bibliographic assistant that reads images of books and book spines.
Each image shows one or more books. For every image identify exactly one prominent book.
If the title or author is not clearly readable, use "` + types.UnknownTitle + `" or "` + types.UnknownAuthor + `".
Return one entry per input image in the exact order the images were given.`

// DefaultPrompt is the user prompt that follows the images
const DefaultPrompt = `Analyze each of the images above and identify exactly one prominent book per image.
Give the title and author only when they are clearly readable on the spine or cover.
If either is unclear, use "` + types.UnknownTitle + `" or "` + types.UnknownAuthor + `".

Return JSON only: an array with exactly one {"title": "...", "author": "..."} object per image, in input order.
No markdown, no code fences, no comments, no trailing commas.`

// Schema constrains the reply to an array of title/author objects
var Schema = json.RawMessage(`{
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "title": {"type": "string"},
      "author": {"type": "string"}
    },
    "required": ["title", "author"]
  }
}`)

// Options control how regions are sent to the model
type Options struct {
	Model       string
	System      string
	Prompt      string
	Format      string
	MaxDim      int
	Quality     int
	// Temperature defaults to 0.2 when nil; zero is a valid setting
	Temperature *float64
	MaxTokens   int
}

// DefaultOptions returns the settings used when none are configured
func DefaultOptions() Options {
	return Options{
		System:      DefaultSystem,
		Prompt:      DefaultPrompt,
		Format:      "jpg",
		MaxDim:      1024,
		Quality:     90,
		Temperature: client.Temperature(0.2),
		MaxTokens:   2000,
	}
}

// Identifier identifies book regions with a vision model
type Identifier struct {
	client    client.VisionClient
	processor *processing.Processor
	opts      Options
}

// New creates an identifier. Empty option fields fall back to DefaultOptions.
func New(c client.VisionClient, processor *processing.Processor, opts Options) *Identifier {
	def := DefaultOptions()
	if opts.System == "" {
		opts.System = def.System
	}
	if opts.Prompt == "" {
		opts.Prompt = def.Prompt
	}
	if opts.Format == "" {
		opts.Format = def.Format
	}
	if opts.Quality <= 0 {
		opts.Quality = def.Quality
	}
	if opts.Temperature == nil {
		opts.Temperature = def.Temperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if processor == nil {
		processor = processing.NewProcessor()
	}
	return &Identifier{client: c, processor: processor, opts: opts}
}

// Identify sends all images in one request and parses the reply.
// The returned result always holds exactly len(images) books.
func (id *Identifier) Identify(ctx context.Context, images []image.Image) (types.IdentifyResult, error) {
	if len(images) == 0 {
		return types.IdentifyResult{Books: []types.IdentifiedBook{}, Status: types.IdentifyComplete}, nil
	}
	if id.client == nil {
		return types.IdentifyResult{}, fmt.Errorf("no vision client configured")
	}

	encoded := make([]string, 0, len(images))
	for i, img := range images {
		b64, err := id.processor.PrepareImageForModel(img, id.opts.Format, id.opts.MaxDim, id.opts.Quality)
		if err != nil {
			return types.IdentifyResult{}, fmt.Errorf("failed to encode region %d: %w", i, err)
		}
		encoded = append(encoded, b64)
	}

	raw, err := id.client.Query(ctx, client.Request{
		Model:       id.opts.Model,
		System:      id.opts.System,
		Prompt:      id.opts.Prompt,
		ImagesB64:   encoded,
		Schema:      Schema,
		Temperature: id.opts.Temperature,
		MaxTokens:   id.opts.MaxTokens,
	})
	if err != nil {
		return types.IdentifyResult{}, fmt.Errorf("vision query failed: %w", err)
	}

	result := ParseBooks(raw, len(images))
	if result.Status != types.IdentifyComplete {
		log.Debug().Str("status", result.Status.String()).Str("raw", raw).Msg("unexpected identification reply")
	}
	return result, nil
}

// Probe asks a free-form question about one image to check the model sees it
func (id *Identifier) Probe(ctx context.Context, img image.Image) (string, error) {
	if id.client == nil {
		return "", fmt.Errorf("no vision client configured")
	}
	b64, err := id.processor.PrepareImageForModel(img, id.opts.Format, id.opts.MaxDim, id.opts.Quality)
	if err != nil {
		return "", err
	}
	return id.client.SimpleQuery(ctx, id.opts.Model, ProbePrompt, b64)
}
