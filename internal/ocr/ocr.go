package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/apperrors"
	"github.com/docqa/backend/pkg/logger"
)

type Options struct {
	PdftocairoPath string
	TesseractPath  string
	Languages      string
	DPI            int
	WorkDir        string
}

// Engine rasterizes PDFs with pdftocairo and reads page images with tesseract.
type Engine struct {
	opts Options
}

func NewEngine(opts Options) *Engine {
	if opts.PdftocairoPath == "" {
		opts.PdftocairoPath = "pdftocairo"
	}
	if opts.TesseractPath == "" {
		opts.TesseractPath = "tesseract"
	}
	if opts.Languages == "" {
		opts.Languages = "eng"
	}
	if opts.DPI <= 0 {
		opts.DPI = 400
	}
	return &Engine{opts: opts}
}

// Pages is the rasterized output of one PDF, ordered by page number.
type Pages struct {
	Dir    string
	Images []string
}

// Close removes the working directory and any images still in it.
func (p *Pages) Close() error {
	if p == nil || p.Dir == "" {
		return nil
	}
	return os.RemoveAll(p.Dir)
}

func toolErr(tool string, err error, stderr *bytes.Buffer) error {
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		return fmt.Errorf("%w: %s: %w", apperrors.ErrOCRTool, tool, err)
	}
	return fmt.Errorf("%w: %s: %w: %s", apperrors.ErrOCRTool, tool, err, msg)
}

func (e *Engine) Rasterize(ctx context.Context, pdfPath string) (*Pages, error) {
	dir, err := os.MkdirTemp(e.opts.WorkDir, "docqa-pages-")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create work dir: %w", apperrors.ErrOCRTool, err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.opts.PdftocairoPath,
		"-png",
		"-r", strconv.Itoa(e.opts.DPI),
		pdfPath,
		filepath.Join(dir, "page"),
	)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.RemoveAll(dir)
		return nil, toolErr("pdftocairo", err, &stderr)
	}

	images, err := listPageImages(dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: failed to list page images: %w", apperrors.ErrOCRTool, err)
	}

	logger.Debug("PDF rasterized", zap.String("file", pdfPath), zap.Int("pages", len(images)))

	return &Pages{Dir: dir, Images: images}, nil
}

var pageNumberRe = regexp.MustCompile(`(\d+)\.png$`)

// listPageImages returns the png files in dir sorted by their trailing page
// number, so page-10 follows page-9.
func listPageImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type page struct {
		path string
		num  int
	}
	var pages []page
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := pageNumberRe.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		num, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		pages = append(pages, page{path: filepath.Join(dir, entry.Name()), num: num})
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].num < pages[j].num })

	paths := make([]string, len(pages))
	for i, p := range pages {
		paths[i] = p.path
	}
	return paths, nil
}

func (e *Engine) Recognize(ctx context.Context, imagePath string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.opts.TesseractPath,
		imagePath,
		"stdout",
		"-l", e.opts.Languages,
		"hocr",
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", toolErr("tesseract", err, &stderr)
	}

	text, err := parseHOCR(&stdout)
	if err != nil {
		return "", fmt.Errorf("%w: failed to parse hocr: %w", apperrors.ErrOCRTool, err)
	}
	return text, nil
}

func parseHOCR(r *bytes.Buffer) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}

	var lines []string
	doc.Find(".ocr_line, .ocr_caption, .ocr_header, .ocr_textfloat").Each(func(_ int, line *goquery.Selection) {
		var words []string
		line.Find(".ocrx_word").Each(func(_ int, w *goquery.Selection) {
			if word := strings.TrimSpace(w.Text()); word != "" {
				words = append(words, word)
			}
		})
		if len(words) > 0 {
			lines = append(lines, strings.Join(words, " "))
		}
	})

	return strings.Join(lines, "\n"), nil
}
