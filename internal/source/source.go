// Package source reads documents from a directory of text, markdown and
// HTML files.
package source

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/extract-cli/internal/model"
)

// DefaultMaxBytes caps the size of one source file.
const DefaultMaxBytes = 1 << 20

// DefaultExtensions are the file types read from a directory.
var DefaultExtensions = []string{".txt", ".md", ".html", ".htm"}

var whitespaceRun = regexp.MustCompile(`[ \t]*\n[ \t\n]*\n[ \t]*|[ \t]{2,}`)

// Options configures a directory read.
type Options struct {
	Dir        string
	Manifest   *Manifest
	MaxBytes   int64
	Extensions []string
	Logger     *zap.Logger
}

// ReadDir returns the documents in opts.Dir sorted by file name. Files
// larger than MaxBytes and empty files are skipped with a warning. Two
// files mapping to the same document ID are an error.
func ReadDir(ctx context.Context, opts Options) ([]model.Document, error) {
	if opts.Dir == "" {
		return nil, eris.New("source: directory is required")
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	log := opts.Logger
	if log == nil {
		log = zap.L()
	}
	log = log.Named("source")

	entries, err := os.ReadDir(opts.Dir)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read dir %s", opts.Dir)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var docs []model.Document
	seen := make(map[string]string)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "source: read cancelled")
		}
		if e.IsDir() || !hasExtension(e.Name(), exts) {
			continue
		}
		path := filepath.Join(opts.Dir, e.Name())
		id := DocumentID(e.Name())
		if prev, dup := seen[id]; dup {
			return nil, eris.Errorf("source: %s and %s share document id %q", prev, e.Name(), id)
		}
		seen[id] = e.Name()

		info, err := e.Info()
		if err != nil {
			return nil, eris.Wrapf(err, "source: stat %s", path)
		}
		if info.Size() > opts.MaxBytes {
			log.Warn("skipping oversized file",
				zap.String("path", path),
				zap.String("size", humanize.IBytes(uint64(info.Size()))),
				zap.String("limit", humanize.IBytes(uint64(opts.MaxBytes))),
			)
			continue
		}

		entry := opts.Manifest.entry(id)
		doc, err := ReadFile(path, entry.Encoding)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(doc.Text) == "" {
			log.Warn("skipping empty file", zap.String("path", path))
			continue
		}
		doc.SchemaHint = entry.Schema
		docs = append(docs, doc)
	}

	if opts.Manifest != nil {
		for id := range opts.Manifest.Documents {
			if _, ok := seen[id]; !ok {
				log.Warn("manifest entry has no file", zap.String("document_id", id))
			}
		}
	}
	log.Info("documents loaded", zap.String("dir", opts.Dir), zap.Int("count", len(docs)))
	return docs, nil
}

// ReadFile reads one document. encoding names a charset understood by
// HTML ("windows-1252", "shift_jis"); empty means UTF-8. HTML files are
// reduced to their visible text. Text is NFC-normalized.
func ReadFile(path, encoding string) (model.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Document{}, eris.Wrapf(err, "source: read %s", path)
	}
	text, err := decode(raw, encoding)
	if err != nil {
		return model.Document{}, eris.Wrapf(err, "source: decode %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		text, err = htmlText(text)
		if err != nil {
			return model.Document{}, eris.Wrapf(err, "source: parse html %s", path)
		}
	}
	return model.Document{
		ID:   DocumentID(filepath.Base(path)),
		Text: norm.NFC.String(text),
		Path: path,
	}, nil
}

// DocumentID is the file name without its extension.
func DocumentID(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func decode(raw []byte, encoding string) (string, error) {
	if encoding == "" || strings.EqualFold(encoding, "utf-8") || strings.EqualFold(encoding, "utf8") {
		raw = trimBOM(raw)
		if !utf8.Valid(raw) {
			return strings.ToValidUTF8(string(raw), "\uFFFD"), nil
		}
		return string(raw), nil
	}
	enc, err := htmlindex.Get(encoding)
	if err != nil {
		return "", eris.Wrapf(err, "unsupported encoding %q", encoding)
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", eris.Wrapf(err, "decode %s", encoding)
	}
	return string(out), nil
}

func trimBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

// htmlText returns the visible text of an HTML document, one block per
// paragraph.
func htmlText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, template").Remove()
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6, tr, br").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	body := doc.Find("body")
	text := body.Text()
	if body.Length() == 0 {
		text = doc.Text()
	}
	text = whitespaceRun.ReplaceAllStringFunc(text, func(m string) string {
		if strings.Contains(m, "\n") {
			return "\n\n"
		}
		return " "
	})
	return strings.TrimSpace(text), nil
}

func hasExtension(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}
