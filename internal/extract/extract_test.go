package extract

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

// fakeEngine returns canned text per page payload and counts calls.
type fakeEngine struct {
	mu    sync.Mutex
	texts map[string]string
	err   error
	calls int
}

func (f *fakeEngine) Recognize(_ context.Context, image []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.texts[string(image)], nil
}

type fakeRasterizer struct {
	pages   [][]byte
	err     error
	renders int
}

func (f *fakeRasterizer) RenderPages(_ context.Context, _ []byte, maxPages int, _ float64) ([][]byte, error) {
	f.renders++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.pages) > maxPages {
		return f.pages[:maxPages], nil
	}
	return f.pages, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinTextLen = 10
	return cfg
}

func TestExtractImage(t *testing.T) {
	engine := &fakeEngine{texts: map[string]string{"img": "Nombre: Ana Rojas, respuestas marcadas"}}
	e := New(engine, &fakeRasterizer{}, testConfig(), nil)

	res, err := e.Extract(context.Background(), Upload{Filename: "hoja.jpg", Data: []byte("img")})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Degraded {
		t.Fatal("unexpected degraded result")
	}
	if !strings.Contains(res.Text, "Ana Rojas") {
		t.Errorf("text = %q", res.Text)
	}
	if engine.calls != 1 {
		t.Errorf("engine calls = %d, want 1", engine.calls)
	}
}

func TestExtractUnsupportedFormat(t *testing.T) {
	e := New(&fakeEngine{}, &fakeRasterizer{}, testConfig(), nil)

	_, err := e.Extract(context.Background(), Upload{Filename: "notas.txt", ContentType: "text/plain", Data: []byte("hola")})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestExtractScannedPDFPageOrder(t *testing.T) {
	// A PDF without a text layer forces the render+OCR fallback; the final
	// text must follow page order even with concurrent workers, and empty
	// pages are skipped.
	engine := &fakeEngine{texts: map[string]string{
		"p1": "pagina uno con respuestas",
		"p2": "",
		"p3": "pagina tres con respuestas",
	}}
	raster := &fakeRasterizer{pages: [][]byte{[]byte("p1"), []byte("p2"), []byte("p3")}}
	e := New(engine, raster, testConfig(), nil)

	res, err := e.Extract(context.Background(), Upload{Filename: "scan.pdf", Data: []byte("%PDF-1.4 sin capa de texto")})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := "pagina uno con respuestas\npagina tres con respuestas"
	if res.Text != want {
		t.Errorf("text = %q, want %q", res.Text, want)
	}
	if raster.renders != 1 {
		t.Errorf("renders = %d, want 1", raster.renders)
	}
	if engine.calls != 3 {
		t.Errorf("engine calls = %d, want one per page (3)", engine.calls)
	}
}

func TestExtractDegraded(t *testing.T) {
	engine := &fakeEngine{texts: map[string]string{}} // every page comes back empty
	raster := &fakeRasterizer{pages: [][]byte{[]byte("p1")}}
	e := New(engine, raster, testConfig(), nil)

	res, err := e.Extract(context.Background(), Upload{Filename: "scan.pdf", Data: []byte("%PDF-1.4")})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !res.Degraded {
		t.Fatal("expected degraded result")
	}
	if res.Text != DegradedText {
		t.Errorf("text = %q, want sentinel", res.Text)
	}
}

func TestExtractEngineUnavailable(t *testing.T) {
	engine := &fakeEngine{err: ErrEngineUnavailable}
	raster := &fakeRasterizer{pages: [][]byte{[]byte("p1")}}
	e := New(engine, raster, testConfig(), nil)

	_, err := e.Extract(context.Background(), Upload{Filename: "scan.pdf", Data: []byte("%PDF-1.4")})
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("err = %v, want ErrEngineUnavailable", err)
	}
}

func TestExtractCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := &fakeEngine{err: context.Canceled}
	raster := &fakeRasterizer{pages: [][]byte{[]byte("p1")}}
	e := New(engine, raster, testConfig(), nil)

	_, err := e.Extract(ctx, Upload{Filename: "scan.pdf", Data: []byte("%PDF-1.4")})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
}

func TestFormatDetection(t *testing.T) {
	tests := []struct {
		name  string
		up    Upload
		pdf   bool
		image bool
	}{
		{name: "pdf by extension", up: Upload{Filename: "a.PDF"}, pdf: true},
		{name: "pdf by content type", up: Upload{ContentType: "application/pdf"}, pdf: true},
		{name: "pdf by magic bytes", up: Upload{Data: []byte("%PDF-1.7")}, pdf: true},
		{name: "jpeg by extension", up: Upload{Filename: "foto.jpeg"}, image: true},
		{name: "png by content type", up: Upload{ContentType: "image/png"}, image: true},
		{name: "plain text is neither", up: Upload{Filename: "a.txt", ContentType: "text/plain"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isPDF(tc.up); got != tc.pdf {
				t.Errorf("isPDF = %v, want %v", got, tc.pdf)
			}
			if got := isImage(tc.up); got != tc.image {
				t.Errorf("isImage = %v, want %v", got, tc.image)
			}
		})
	}
}
