// Package extract turns uploaded answer sheets (images or PDFs) into plain
// text. PDFs are tried cheapest-first: the embedded text layer, then a
// render-and-recognize fallback for scanned documents. The OCR engine and
// page rasterizer are injected so tests can run with canned output.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/revisor/internal/textutil"
)

// DegradedText is the sentinel returned when no extraction path produced
// usable text. Downstream stages switch to filename heuristics on seeing it.
const DegradedText = "[texto no reconocible]"

var (
	// ErrEngineUnavailable means the OCR engine (or the rasterizer it
	// depends on) could not be run. Fatal for the current upload.
	ErrEngineUnavailable = errors.New("ocr engine unavailable")
	// ErrUnsupportedFormat means the upload is neither an image nor a PDF.
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Engine recognizes text in a single raster image.
type Engine interface {
	Recognize(ctx context.Context, image []byte, languages string) (string, error)
}

// Rasterizer renders the first pages of a PDF to bitmaps.
type Rasterizer interface {
	RenderPages(ctx context.Context, doc []byte, maxPages int, scale float64) ([][]byte, error)
}

// Upload is one file handed to the engine by the caller.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Result is the outcome of text extraction.
type Result struct {
	Text       string
	Confidence float64
	Degraded   bool
}

// Config holds the extraction tuning knobs.
type Config struct {
	// MaxPages bounds how many PDF pages are read or rendered.
	MaxPages int
	// Upscale is the render scale factor for the OCR fallback.
	Upscale float64
	// MinTextLen is the minimum normalized length for text to count as usable.
	MinTextLen int
	// Languages is the OCR language spec, e.g. "spa+eng".
	Languages string
	// Workers bounds concurrent per-page OCR calls.
	Workers int
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() Config {
	return Config{
		MaxPages:   3,
		Upscale:    1.8,
		MinTextLen: 40,
		Languages:  "spa+eng",
		Workers:    2,
	}
}

// Extractor is the text extraction stage. It keeps no mutable state, so a
// single instance may serve concurrent uploads.
type Extractor struct {
	engine Engine
	raster Rasterizer
	cfg    Config
	log    *slog.Logger
}

// New creates an Extractor. A nil logger falls back to slog.Default.
func New(engine Engine, raster Rasterizer, cfg Config, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{engine: engine, raster: raster, cfg: cfg, log: log.With("component", "extract")}
}

// Extract runs the layered extraction strategy for one upload.
func (e *Extractor) Extract(ctx context.Context, up Upload) (Result, error) {
	switch {
	case isImage(up):
		return e.extractImage(ctx, up)
	case isPDF(up):
		return e.extractPDF(ctx, up)
	default:
		return Result{}, fmt.Errorf("%w: %s (%s)", ErrUnsupportedFormat, up.Filename, up.ContentType)
	}
}

func (e *Extractor) extractImage(ctx context.Context, up Upload) (Result, error) {
	text, err := e.engine.Recognize(ctx, up.Data, e.cfg.Languages)
	if err != nil {
		if errors.Is(err, ErrEngineUnavailable) || ctx.Err() != nil {
			return Result{}, err
		}
		e.log.Warn("image OCR failed", "file", up.Filename, "error", err)
		return e.degraded(), nil
	}
	return e.finish(text, 0.7), nil
}

func (e *Extractor) extractPDF(ctx context.Context, up Upload) (Result, error) {
	// Cheap and exact path: the embedded text layer of a digital PDF.
	if text, err := nativeText(up.Data, e.cfg.MaxPages); err != nil {
		e.log.Debug("no usable text layer", "file", up.Filename, "error", err)
	} else if e.usable(text) {
		return Result{Text: text, Confidence: 1}, nil
	}

	// Scanned document: rasterize and recognize page by page.
	pages, err := e.raster.RenderPages(ctx, up.Data, e.cfg.MaxPages, e.cfg.Upscale)
	if err != nil {
		if errors.Is(err, ErrEngineUnavailable) || ctx.Err() != nil {
			return Result{}, err
		}
		e.log.Warn("page render failed", "file", up.Filename, "error", err)
		return e.degraded(), nil
	}

	text, err := e.recognizePages(ctx, pages)
	if err != nil {
		if errors.Is(err, ErrEngineUnavailable) || ctx.Err() != nil {
			return Result{}, err
		}
		e.log.Warn("page OCR failed", "file", up.Filename, "error", err)
		return e.degraded(), nil
	}
	return e.finish(text, 0.7), nil
}

// recognizePages runs OCR over each rendered page with a bounded worker
// pool. Results are reassembled in page order regardless of which worker
// finishes first.
func (e *Extractor) recognizePages(ctx context.Context, pages [][]byte) (string, error) {
	texts := make([]string, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	workers := e.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, img := range pages {
		g.Go(func() error {
			text, err := e.engine.Recognize(gctx, img, e.cfg.Languages)
			if err != nil {
				return err
			}
			texts[i] = strings.TrimSpace(text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	var parts []string
	for _, t := range texts {
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func (e *Extractor) finish(text string, confidence float64) Result {
	if !e.usable(text) {
		return e.degraded()
	}
	return Result{Text: text, Confidence: confidence}
}

func (e *Extractor) usable(text string) bool {
	return len(textutil.Normalize(text)) >= e.cfg.MinTextLen
}

func (e *Extractor) degraded() Result {
	return Result{Text: DegradedText, Degraded: true}
}

func isPDF(up Upload) bool {
	if strings.EqualFold(up.ContentType, "application/pdf") {
		return true
	}
	if strings.EqualFold(filepath.Ext(up.Filename), ".pdf") {
		return true
	}
	return len(up.Data) >= 4 && string(up.Data[:4]) == "%PDF"
}

func isImage(up Upload) bool {
	if strings.HasPrefix(strings.ToLower(up.ContentType), "image/") {
		return true
	}
	switch strings.ToLower(filepath.Ext(up.Filename)) {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".webp":
		return true
	}
	return false
}
