package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
)

// Tesseract runs the tesseract binary over a single image. The binary path
// is configurable for non-standard installs.
type Tesseract struct {
	Path string
}

// Recognize feeds the image to tesseract on stdin and returns its stdout.
func (t *Tesseract) Recognize(ctx context.Context, image []byte, languages string) (string, error) {
	bin := t.Path
	if bin == "" {
		bin = "tesseract"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", fmt.Errorf("%w: %s not in PATH", ErrEngineUnavailable, bin)
	}

	args := []string{"stdin", "stdout"}
	if languages != "" {
		args = append(args, "-l", languages)
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = bytes.NewReader(image)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("tesseract: %w: %s", err, stderr.String())
	}
	return out.String(), nil
}

// Poppler rasterizes PDF pages with the pdftoppm binary.
type Poppler struct {
	Path string
}

// RenderPages renders up to maxPages pages as PNGs at scale times the base
// 72 dpi, returned in page order.
func (p *Poppler) RenderPages(ctx context.Context, doc []byte, maxPages int, scale float64) ([][]byte, error) {
	bin := p.Path
	if bin == "" {
		bin = "pdftoppm"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not in PATH", ErrEngineUnavailable, bin)
	}

	dir, err := os.MkdirTemp("", "revisor-pages-")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "scan.pdf")
	if err := os.WriteFile(in, doc, 0o600); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}

	dpi := int(72*scale + 0.5)
	cmd := exec.CommandContext(ctx, path,
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", "1",
		"-l", strconv.Itoa(maxPages),
		in, filepath.Join(dir, "page"))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, stderr.String())
	}

	// pdftoppm pads page numbers uniformly, so a lexical sort is page order.
	names, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	pages := make([][]byte, 0, len(names))
	for _, name := range names {
		img, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read rendered page: %w", err)
		}
		pages = append(pages, img)
	}
	return pages, nil
}
