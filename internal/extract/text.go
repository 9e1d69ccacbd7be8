package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"docrag/internal/domain"
)

// File is one loaded document: a stable content-derived ID plus its pages.
type File struct {
	ID    string
	Path  string
	Pages []domain.Page
}

// LoadFiles reads plain-text documents into Page records, the minimal
// stand-in for the format-specific extraction collaborators (PDF, DOCX,
// OCR) that feed the pipeline in a full deployment. Form feeds mark page
// breaks; page numbers are 1-based. The file ID is a digest of the content,
// so re-loading unchanged files reproduces identical IDs.
func LoadFiles(paths []string) ([]File, error) {
	var files []File
	for _, p := range paths {
		matches, _ := filepath.Glob(p)
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			if !isTextFile(m) {
				continue
			}
			data, err := os.ReadFile(m)
			if err != nil {
				return nil, err
			}
			files = append(files, loadFile(m, string(data)))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no text documents found")
	}
	return files, nil
}

func loadFile(path, content string) File {
	sum := sha256.Sum256([]byte(content))
	id := hex.EncodeToString(sum[:8])
	f := File{ID: id, Path: path}
	for i, part := range strings.Split(content, "\f") {
		f.Pages = append(f.Pages, domain.Page{FileID: id, PageNo: i + 1, Text: part})
	}
	return f
}

func isTextFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		return true
	}
	return false
}

// Pages flattens the loaded files into one page sequence.
func Pages(files []File) []domain.Page {
	var pages []domain.Page
	for _, f := range files {
		pages = append(pages, f.Pages...)
	}
	return pages
}
