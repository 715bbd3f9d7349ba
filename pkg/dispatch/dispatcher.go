package dispatch

import (
	"context"
	"fmt"
	"image"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/bookshelf-analyzer/pkg/types"
)

// DefaultBatchSize is the number of regions sent per identification call
const DefaultBatchSize = 5

// Identifier reads title and author from an ordered batch of images.
// Implementations should return one result per image in input order.
type Identifier interface {
	Identify(ctx context.Context, images []image.Image) (types.IdentifyResult, error)
}

// IdentifierFunc adapts a function to the Identifier interface
type IdentifierFunc func(ctx context.Context, images []image.Image) (types.IdentifyResult, error)

// Identify calls f
func (f IdentifierFunc) Identify(ctx context.Context, images []image.Image) (types.IdentifyResult, error) {
	return f(ctx, images)
}

// Dispatcher splits regions into fixed-size batches and identifies them in order
type Dispatcher struct {
	identifier Identifier
	batchSize  int
}

// New creates a Dispatcher. A batch size below 1 falls back to DefaultBatchSize.
func New(identifier Identifier, batchSize int) *Dispatcher {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Dispatcher{identifier: identifier, batchSize: batchSize}
}

// BatchSize returns the configured batch size
func (d *Dispatcher) BatchSize() int {
	return d.batchSize
}

// Result holds the concatenated identifications and per-batch outcome counts
type Result struct {
	Books   []types.IdentifiedBook
	Batches int
	Partial int
	Failed  int
}

// Degraded reports whether any batch was padded, truncated or failed
func (r Result) Degraded() bool {
	return r.Partial > 0 || r.Failed > 0
}

// Dispatch identifies every region. The returned Books always has exactly
// len(regions) entries in region order: mis-sized batch responses are padded
// or truncated with unknown sentinels and failed calls become all-unknown.
func (d *Dispatcher) Dispatch(ctx context.Context, regions []types.Region) Result {
	res := Result{Books: make([]types.IdentifiedBook, 0, len(regions))}

	for start := 0; start < len(regions); start += d.batchSize {
		end := min(start+d.batchSize, len(regions))
		chunk := make([]image.Image, 0, end-start)
		for _, r := range regions[start:end] {
			chunk = append(chunk, r.Image)
		}

		res.Batches++
		log.Debug().
			Int("batch", res.Batches).
			Int("size", len(chunk)).
			Msg("identifying batch")

		out := d.identifyChunk(ctx, chunk)
		switch out.Status {
		case types.IdentifyPartial:
			res.Partial++
			log.Warn().Int("batch", res.Batches).Msg("identification response malformed, padded with unknowns")
		case types.IdentifyFailed:
			res.Failed++
		}

		res.Books = append(res.Books, out.Books...)
	}

	return res
}

// identifyChunk runs one identification call and conforms its result to the
// chunk length. Errors and panics degrade the chunk to unknown sentinels.
func (d *Dispatcher) identifyChunk(ctx context.Context, chunk []image.Image) (out types.IdentifyResult) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("panic", fmt.Sprint(p)).Msg("identifier panicked")
			out = types.FailedResult(len(chunk))
		}
	}()

	if d.identifier == nil {
		return types.FailedResult(len(chunk))
	}

	result, err := d.identifier.Identify(ctx, chunk)
	if err != nil {
		log.Warn().Err(err).Int("size", len(chunk)).Msg("identification failed, using unknowns")
		return types.FailedResult(len(chunk))
	}

	return result.Conform(len(chunk))
}
