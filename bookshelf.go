// Package bookshelf reads the books on a bookshelf photograph.
//
// A Scanner runs the full pipeline for one image:
//
//  1. an external Detector returns a mask and box for every candidate book
//  2. the extractor crops each mask, blacks out the background and rotates the crop
//  3. the dispatcher sends the regions in batches to a vision model for title and author
//  4. identified books are joined with their geometry and grouped into shelves
//  5. per-request and cumulative accuracy statistics are updated
//
// Basic usage:
//
//	detector, _ := roboflow.NewClient("", apiKey, "", roboflow.Options{})
//	vision, _ := ollama.NewClient("http://localhost:11434")
//	identifier := identify.New(vision, nil, identify.Options{Model: "qwen2.5vl"})
//
//	scanner := bookshelf.New(detector, identifier)
//	resp, err := scanner.DetectBooksFromBase64(ctx, payload)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(resp.Message)
//
// Errors are classified with errors.Is against ErrInvalidImage and
// ErrDetection. Identification failures never fail a request; the affected
// books are reported with the "Title Unknown" and "Author Unknown" sentinels.
package bookshelf

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/bookshelf-analyzer/pkg/dispatch"
	"github.com/menta2k/bookshelf-analyzer/pkg/extractor"
	"github.com/menta2k/bookshelf-analyzer/pkg/processing"
	"github.com/menta2k/bookshelf-analyzer/pkg/shelf"
	"github.com/menta2k/bookshelf-analyzer/pkg/stats"
	"github.com/menta2k/bookshelf-analyzer/pkg/types"
)

// Version of the bookshelf analyzer
const Version = "1.0.0"

var (
	// ErrInvalidImage marks input that cannot be decoded or is unusable
	ErrInvalidImage = errors.New("invalid image data")
	// ErrDetection marks a failure of the detection provider
	ErrDetection = errors.New("book detection failed")
)

// Detector finds candidate books in an image
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]types.Detection, error)
}

// DetectorFunc adapts a function to the Detector interface
type DetectorFunc func(ctx context.Context, img image.Image) ([]types.Detection, error)

// Detect calls f(ctx, img)
func (f DetectorFunc) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	return f(ctx, img)
}

// Config holds the optional collaborators of a Scanner
type Config struct {
	// BatchSize is the number of regions per identification call, default 5
	BatchSize int
	// DisableRotation keeps regions in their original orientation
	DisableRotation bool
	// Processor decodes and validates input images
	Processor *processing.Processor
	// Stats receives one record per completed request; a new aggregator is used when nil
	Stats *stats.Aggregator
	// Debug, when set, receives region crops and a shelf overlay for every request
	Debug *processing.DebugWriter
}

// Scanner runs the bookshelf pipeline. It is safe for concurrent use.
type Scanner struct {
	detector   Detector
	extractor  *extractor.Extractor
	dispatcher *dispatch.Dispatcher
	processor  *processing.Processor
	stats      *stats.Aggregator
	debug      *processing.DebugWriter
}

// DetectionResponse is the result returned to API callers
type DetectionResponse struct {
	Shelves []types.Shelf `json:"shelves"`
	Message string        `json:"message"`
}

// Result is the full outcome of one scan
type Result struct {
	Shelves []types.Shelf
	Message string
	Stats   stats.RequestStats
	// Batches is the number of identification calls made
	Batches int
	// Degraded reports that at least one batch fell back to unknown sentinels
	Degraded bool
	Elapsed  time.Duration
}

// Response converts the result to its API shape
func (r *Result) Response() *DetectionResponse {
	return &DetectionResponse{Shelves: r.Shelves, Message: r.Message}
}

// New creates a Scanner with default configuration
func New(detector Detector, identifier dispatch.Identifier) *Scanner {
	return NewWithConfig(detector, identifier, Config{})
}

// NewWithConfig creates a Scanner with custom configuration
func NewWithConfig(detector Detector, identifier dispatch.Identifier, cfg Config) *Scanner {
	if cfg.Processor == nil {
		cfg.Processor = processing.NewProcessor()
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewAggregator()
	}
	return &Scanner{
		detector:   detector,
		extractor:  extractor.NewWithRotation(!cfg.DisableRotation),
		dispatcher: dispatch.New(identifier, cfg.BatchSize),
		processor:  cfg.Processor,
		stats:      cfg.Stats,
		debug:      cfg.Debug,
	}
}

// DetectBooksFromBase64 decodes a base64 image, optionally prefixed with a
// data URL header, and scans it
func (s *Scanner) DetectBooksFromBase64(ctx context.Context, payload string) (*DetectionResponse, error) {
	img, err := s.processor.DecodeBase64Image(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return s.DetectBooks(ctx, img)
}

// DetectBooks scans a decoded image and returns its shelves
func (s *Scanner) DetectBooks(ctx context.Context, img image.Image) (*DetectionResponse, error) {
	res, err := s.Scan(ctx, img)
	if err != nil {
		return nil, err
	}
	return res.Response(), nil
}

// Scan runs the pipeline on img. Detection failures abort the request;
// identification failures only degrade the affected books.
func (s *Scanner) Scan(ctx context.Context, img image.Image) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("panic", fmt.Sprint(p)).Msg("scan panicked")
			res, err = nil, fmt.Errorf("internal error: %v", p)
		}
	}()

	if err := s.processor.ValidateImage(img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if s.detector == nil {
		return nil, fmt.Errorf("%w: no detector configured", ErrDetection)
	}

	start := time.Now()

	detections, err := s.detector.Detect(ctx, img)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("detection aborted: %w", ctxErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrDetection, err)
	}

	regions := s.extractor.Extract(img, detections)
	log.Debug().
		Int("detections", len(detections)).
		Int("regions", len(regions)).
		Msg("regions extracted")

	var tag string
	if s.debug != nil {
		tag = s.debug.NextTag()
		s.debug.SaveRegions(tag, regions)
	}

	identified := s.dispatcher.Dispatch(ctx, regions)
	// Cancelled requests are not recorded
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("identification aborted: %w", err)
	}
	annotations := annotate(regions, identified.Books)
	shelves := shelf.Group(annotations)

	reqStats := stats.Compute(annotations)
	s.stats.Record(reqStats)

	if s.debug != nil {
		s.debug.Save(tag+"_shelves", s.processor.RenderShelfOverlay(img, shelves))
	}

	res = &Result{
		Shelves:  shelves,
		Message:  fmt.Sprintf("Successfully detected %d books organized into %d shelves", shelf.CountBooks(shelves), len(shelves)),
		Stats:    reqStats,
		Batches:  identified.Batches,
		Degraded: identified.Degraded(),
		Elapsed:  time.Since(start),
	}

	log.Info().
		Int("books", reqStats.TotalBooksDetected).
		Int("valid", reqStats.ValidBooks).
		Float64("accuracy", reqStats.Accuracy).
		Int("shelves", len(shelves)).
		Int("batches", res.Batches).
		Bool("degraded", res.Degraded).
		Dur("elapsed", res.Elapsed).
		Msg("detection stats")

	return res, nil
}

// Stats returns the cumulative statistics since the scanner was created
func (s *Scanner) Stats() stats.Snapshot {
	return s.stats.Snapshot()
}

// Flush waits for pending debug image writes
func (s *Scanner) Flush() {
	if s.debug != nil {
		s.debug.Wait()
	}
}

// annotate joins identified books with the geometry of their regions.
// Both slices come from the same filtered region list and are index aligned.
func annotate(regions []types.Region, books []types.IdentifiedBook) []types.BookAnnotation {
	n := min(len(regions), len(books))
	out := make([]types.BookAnnotation, 0, n)
	for i := 0; i < n; i++ {
		polygons := regions[i].Polygons
		if polygons == nil {
			polygons = []types.Polygon{}
		}
		out = append(out, types.BookAnnotation{
			Title:    books[i].Title,
			Author:   books[i].Author,
			Polygons: polygons,
			XYXY:     regions[i].Box.XYXY(),
		})
	}
	return out
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
