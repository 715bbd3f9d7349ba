package processing

import (
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/bookshelf-analyzer/internal/utils"
	"github.com/menta2k/bookshelf-analyzer/pkg/types"
)

// DebugWriter saves intermediate images in the background. Failures are
// logged and never reported to the caller.
type DebugWriter struct {
	processor *Processor
	dir       string
	format    string
	quality   int
	lossless  bool

	seq atomic.Int64
	wg  sync.WaitGroup
}

// NewDebugWriter creates a writer that stores images under dir
func NewDebugWriter(processor *Processor, dir, format string, quality int, lossless bool) *DebugWriter {
	if processor == nil {
		processor = NewProcessor()
	}
	return &DebugWriter{
		processor: processor,
		dir:       dir,
		format:    FormatExtension(format),
		quality:   quality,
		lossless:  lossless,
	}
}

// NextTag returns a unique, increasing prefix for one request's files
func (w *DebugWriter) NextTag() string {
	return fmt.Sprintf("req%06d", w.seq.Add(1))
}

// SaveRegions writes region images as <tag>_region_<n>
func (w *DebugWriter) SaveRegions(tag string, regions []types.Region) {
	for i, r := range regions {
		w.Save(fmt.Sprintf("%s_region_%d", tag, i), r.Image)
	}
}

// Save writes img as <dir>/<name>.<ext> asynchronously
func (w *DebugWriter) Save(name string, img image.Image) {
	if img == nil {
		return
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%s.%s", utils.SanitizeFilename(name), w.format))

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := utils.EnsureDir(w.dir); err != nil {
			log.Warn().Err(err).Str("dir", w.dir).Msg("debug directory unavailable")
			return
		}
		if err := w.processor.SaveImage(img, path, w.format, w.quality, w.lossless); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("debug image save failed")
			return
		}
		log.Debug().Str("path", path).Msg("saved debug image")
	}()
}

// Wait blocks until all pending writes have finished
func (w *DebugWriter) Wait() {
	w.wg.Wait()
}

// Dir returns the output directory
func (w *DebugWriter) Dir() string {
	return w.dir
}
