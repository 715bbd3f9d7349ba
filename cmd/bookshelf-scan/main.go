package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	bookshelf "github.com/menta2k/bookshelf-analyzer"
	"github.com/menta2k/bookshelf-analyzer/internal/app"
	"github.com/menta2k/bookshelf-analyzer/internal/config"
	"github.com/menta2k/bookshelf-analyzer/internal/utils"
	"github.com/menta2k/bookshelf-analyzer/pkg/identify"
	"github.com/menta2k/bookshelf-analyzer/pkg/processing"
	"github.com/menta2k/bookshelf-analyzer/pkg/shelf"
	"github.com/menta2k/bookshelf-analyzer/pkg/stats"
)

// scanOutput is the JSON written next to each processed image
type scanOutput struct {
	Source   string                       `json:"source"`
	Response *bookshelf.DetectionResponse `json:"response"`
	Stats    stats.RequestStats           `json:"stats"`
	Batches  int                          `json:"batches"`
	Degraded bool                         `json:"degraded"`
}

func main() {
	var in, outDir, configPath, backend, url, model string
	var batch, workers int
	var debug, overlay, probe, verbose bool
	var dbgext string
	var dbgquality int

	flag.StringVar(&in, "in", "", "input image path, directory or URL (jpg/png/webp)")
	flag.StringVar(&outDir, "out", "out", "output directory")
	flag.StringVar(&configPath, "config", "", "config file (yaml or json)")
	flag.StringVar(&backend, "backend", "", "vision backend: ollama or llamacpp (default from config)")
	flag.StringVar(&url, "url", "", "vision server URL (default from config)")
	flag.StringVar(&model, "model", "", "vision model name (default from config)")
	flag.IntVar(&batch, "batch", 0, "regions per identification call (default from config)")
	flag.IntVar(&workers, "workers", 2, "images processed in parallel when -in is a directory")
	flag.BoolVar(&debug, "debug", false, "save region crops and shelf overlays under <out>/debug")
	flag.BoolVar(&overlay, "overlay", true, "write a shelf overlay image next to each result")
	flag.BoolVar(&probe, "probe", false, "only check that the vision model can see the input image")
	flag.BoolVar(&verbose, "v", false, "debug logging")
	flag.StringVar(&dbgext, "dbgext", "jpg", "overlay and debug image format: jpg|png|webp")
	flag.IntVar(&dbgquality, "dbgquality", 90, "overlay and debug image quality (jpg/webp)")
	flag.Parse()

	if in == "" {
		fmt.Fprintf(os.Stderr, "usage: %s -in shelf.jpg|dir|URL [-backend ollama|llamacpp] [-url server_url] [-model name] [-out outdir] [-debug]\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	applyFlags(cfg, backend, url, model, batch, verbose)
	if debug {
		cfg.Debug.SaveImages = true
		cfg.Debug.OutputDir = filepath.Join(outDir, "debug")
		cfg.Debug.Format = dbgext
		cfg.Debug.Quality = dbgquality
	}
	app.SetupLogging(cfg.Log, os.Stderr)

	if err := utils.EnsureDir(outDir); err != nil {
		log.Fatal().Err(err).Msg("create output directory")
	}

	processor := processing.NewProcessorWithMinSize(cfg.Processing.MinImageSize)

	if probe {
		if err := runProbe(cfg, processor, in); err != nil {
			log.Fatal().Err(err).Msg("probe")
		}
		return
	}

	agg := stats.NewAggregator()
	scanner, err := app.NewScanner(cfg, agg)
	if err != nil {
		log.Fatal().Err(err).Msg("create scanner")
	}

	inputs := []string{in}
	if !utils.IsURL(in) && utils.DirExists(in) {
		inputs, err = utils.ListImageFiles(in)
		if err != nil {
			log.Fatal().Err(err).Msg("list images")
		}
		log.Info().Int("images", len(inputs)).Str("dir", in).Msg("scanning directory")
	}

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(max(workers, 1))
	failed := make([]bool, len(inputs))
	for i, src := range inputs {
		g.Go(func() error {
			if err := scanOne(ctx, scanner, processor, src, outDir, overlay, dbgext, dbgquality); err != nil {
				log.Error().Err(err).Str("source", src).Msg("scan failed")
				failed[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()
	scanner.Flush()

	snap := agg.Snapshot()
	summary, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Println(string(summary))

	for _, f := range failed {
		if f {
			os.Exit(1)
		}
	}
}

func applyFlags(cfg *config.Config, backend, url, model string, batch int, verbose bool) {
	if backend != "" {
		cfg.Identifier.Backend = backend
	}
	if url != "" {
		cfg.Identifier.URL = url
	}
	if model != "" {
		cfg.Identifier.Model = model
	}
	if batch > 0 {
		cfg.Processing.BatchSize = batch
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	cfg.Log.Pretty = true
}

func scanOne(ctx context.Context, scanner *bookshelf.Scanner, processor *processing.Processor, src, outDir string, overlay bool, dbgext string, dbgquality int) error {
	img, err := processor.LoadImageSmart(src)
	if err != nil {
		return err
	}

	res, err := scanner.Scan(ctx, img)
	if err != nil {
		return err
	}

	out := scanOutput{
		Source:   src,
		Response: res.Response(),
		Stats:    res.Stats,
		Batches:  res.Batches,
		Degraded: res.Degraded,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	jsonPath := utils.GenerateOutputFilename(src, outDir, "", "_books", "json")
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	log.Info().Str("path", jsonPath).Msg(res.Message)

	for i, a := range shelf.Flatten(res.Shelves) {
		if !a.Book().IsValid() {
			log.Debug().Int("book", i).Interface("xyxy", a.XYXY).Msg("unreadable spine")
		}
	}

	if overlay && len(res.Shelves) > 0 {
		ext := processing.FormatExtension(dbgext)
		overlayPath := utils.GenerateOutputFilename(src, outDir, "", "_shelves", ext)
		if err := processor.SaveImage(processor.RenderShelfOverlay(img, res.Shelves), overlayPath, ext, dbgquality, false); err != nil {
			log.Warn().Err(err).Str("path", overlayPath).Msg("overlay save failed")
		} else {
			log.Info().Str("path", overlayPath).Msg("wrote overlay")
		}
	}

	for _, s := range res.Shelves {
		titles := make([]string, 0, len(s.Annotations))
		for _, a := range s.Annotations {
			titles = append(titles, fmt.Sprintf("%s / %s", a.Title, a.Author))
		}
		log.Debug().Int("shelf", s.ShelfID).Msg(strings.Join(titles, "; "))
	}

	return nil
}

// runProbe asks the vision model to describe the image
func runProbe(cfg *config.Config, processor *processing.Processor, src string) error {
	vision, err := app.NewVisionClient(cfg.Identifier)
	if err != nil {
		return err
	}
	img, err := processor.LoadImageSmart(src)
	if err != nil {
		return err
	}

	id := identify.New(vision, processor, identify.Options{Model: cfg.Identifier.Model})
	answer, err := id.Probe(context.Background(), img)
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}
