package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docfusion/docfusion/internal/store"
)

// Page is a logical unit of source text before chunking. Plain text files
// produce a single page; markdown files produce one page per top-level
// section so chunks carry a citation-worthy section heading.
type Page struct {
	Number   int    // 1-indexed
	Section  string // heading, empty for plain text
	Text     string
	Metadata map[string]string
}

// LoadedDocument pairs a document record with its pages.
type LoadedDocument struct {
	Document *store.Document
	Pages    []Page
}

// supportedExtensions lists the file types the loader accepts.
var supportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
}

// DocumentID derives a stable document ID from the file path.
func DocumentID(path string) string {
	hash := sha256.Sum256([]byte(path))
	return hex.EncodeToString(hash[:8])
}

// LoadFile reads a single file into a LoadedDocument.
func LoadFile(path string) (*LoadedDocument, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(abs))
	if !supportedExtensions[ext] {
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(abs)
	meta := map[string]string{"filename": name}

	var pages []Page
	switch ext {
	case ".md", ".markdown":
		pages = splitMarkdownSections(string(data), meta)
	default:
		pages = []Page{{Number: 1, Text: string(data), Metadata: meta}}
	}

	return &LoadedDocument{
		Document: &store.Document{
			ID:         DocumentID(abs),
			Name:       name,
			Path:       abs,
			SizeBytes:  info.Size(),
			IngestedAt: time.Now().UTC(),
		},
		Pages: pages,
	}, nil
}

// LoadDir walks a directory tree and loads every supported file. Hidden
// directories are skipped. Unsupported files are ignored rather than
// treated as errors.
func LoadDir(root string) ([]*LoadedDocument, error) {
	var docs []*LoadedDocument
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !supportedExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		doc, loadErr := LoadFile(path)
		if loadErr != nil {
			return loadErr
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// splitMarkdownSections splits markdown into pages at H1/H2 headings.
// Content before the first heading becomes an untitled first page.
func splitMarkdownSections(text string, meta map[string]string) []Page {
	lines := strings.Split(text, "\n")

	var pages []Page
	var current []string
	section := ""

	flush := func() {
		body := strings.TrimSpace(strings.Join(current, "\n"))
		if body == "" {
			return
		}
		pages = append(pages, Page{
			Number:   len(pages) + 1,
			Section:  section,
			Text:     body,
			Metadata: meta,
		})
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") || strings.HasPrefix(trimmed, "## ") {
			flush()
			current = current[:0]
			section = strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
			continue
		}
		current = append(current, line)
	}
	flush()

	if len(pages) == 0 {
		return []Page{{Number: 1, Text: strings.TrimSpace(text), Metadata: meta}}
	}
	return pages
}
