// Package ingest turns files on disk into document text for the pipeline.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"
)

// DefaultExtensions are the file types picked up when none are configured.
var DefaultExtensions = []string{".pdf"}

// ErrUnsupported is returned for files whose extension has no extractor.
var ErrUnsupported = errors.New("unsupported file type")

// Document is one unit of input: an identifier and its extracted text.
type Document struct {
	ID      string
	Path    string
	Content string
}

// Config configures text acquisition.
type Config struct {
	Extensions    []string
	Workers       int
	PDFToTextPath string
	Logger        *slog.Logger
}

// Extractor reads text out of supported files.
type Extractor struct {
	exts      map[string]bool
	pdftotext string
	workers   int
	logger    *slog.Logger
}

// NewExtractor creates an extractor from cfg, filling defaults.
func NewExtractor(cfg Config) *Extractor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	extList := cfg.Extensions
	if len(extList) == 0 {
		extList = DefaultExtensions
	}
	exts := make(map[string]bool, len(extList))
	for _, e := range extList {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	if cfg.PDFToTextPath == "" {
		cfg.PDFToTextPath = "pdftotext"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Extractor{
		exts:      exts,
		pdftotext: cfg.PDFToTextPath,
		workers:   cfg.Workers,
		logger:    logger,
	}
}

// Accepts reports whether path has a configured extension.
func (e *Extractor) Accepts(path string) bool {
	return e.exts[strings.ToLower(filepath.Ext(path))]
}

// Scan lists the accepted files directly inside folder in processing order.
func (e *Extractor) Scan(folder string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("failed to read folder %s: %w", folder, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(folder, entry.Name())
		if e.Accepts(path) {
			paths = append(paths, path)
		}
	}
	return sortByNumber(paths), nil
}

// Extract returns the trimmed text content of one file.
func (e *Extractor) Extract(ctx context.Context, path string) (Document, error) {
	doc := Document{ID: filepath.Base(path), Path: path}

	var (
		text string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".txt", ".text", ".md":
		var data []byte
		data, err = os.ReadFile(path)
		text = string(data)
	case ".pdf":
		text, err = e.extractPDF(ctx, path)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
	if err != nil {
		return doc, err
	}

	doc.Content = strings.TrimSpace(strings.ToValidUTF8(text, ""))
	return doc, nil
}

func (e *Extractor) extractPDF(ctx context.Context, path string) (string, error) {
	pages, err := pageCount(path)
	if err != nil {
		return "", err
	}
	if pages == 0 {
		return "", nil
	}

	// -layout keeps label/value pairs on the same line, which rules rely on.
	cmd := exec.CommandContext(ctx, e.pdftotext, "-layout", "-enc", "UTF-8", path, "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftotext failed: %w (output: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func pageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF %s: %w", path, err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(f, conf)
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF %s: %w", path, err)
	}
	return n, nil
}

// LoadFolder extracts every accepted file in folder concurrently and returns
// the documents in scan order. Files that cannot be read are logged and
// left out.
func (e *Extractor) LoadFolder(ctx context.Context, folder string) ([]Document, error) {
	paths, err := e.Scan(folder)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, len(paths))
	ok := make([]bool, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, path := range paths {
		g.Go(func() error {
			doc, err := e.Extract(gctx, path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.logger.Warn("skipping unreadable file", "path", path, "error", err)
				return nil
			}
			docs[i] = doc
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Document, 0, len(docs))
	for i, doc := range docs {
		if ok[i] {
			out = append(out, doc)
		}
	}
	e.logger.Info("loaded documents", "folder", folder, "found", len(paths), "loaded", len(out))
	return out, nil
}

var numberSuffix = regexp.MustCompile(`^(.*?)[-_ ]?(\d+)$`)

// sortByNumber orders paths by name, comparing trailing numbers
// numerically so "doc-2.pdf" precedes "doc-10.pdf".
func sortByNumber(paths []string) []string {
	type key struct {
		stem string
		num  int
		path string
	}
	keys := make([]key, len(paths))
	for i, p := range paths {
		base := filepath.Base(p)
		name := strings.TrimSuffix(base, filepath.Ext(base))
		k := key{stem: strings.ToLower(name), num: -1, path: p}
		if m := numberSuffix.FindStringSubmatch(name); m != nil {
			if n, err := strconv.Atoi(m[2]); err == nil {
				k.stem = strings.ToLower(m[1])
				k.num = n
			}
		}
		keys[i] = k
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].stem != keys[j].stem {
			return keys[i].stem < keys[j].stem
		}
		if keys[i].num != keys[j].num {
			return keys[i].num < keys[j].num
		}
		return keys[i].path < keys[j].path
	})

	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.path
	}
	return out
}
