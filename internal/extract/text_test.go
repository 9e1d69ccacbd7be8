package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFilesPages(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "doc.txt", "page one\fpage two\fpage three")

	files, err := LoadFiles([]string{path})
	require.NoError(t, err)
	require.Len(t, files, 1)
	f := files[0]
	require.Len(t, f.Pages, 3)
	assert.Equal(t, 1, f.Pages[0].PageNo)
	assert.Equal(t, "page two", f.Pages[1].Text)
	assert.Equal(t, 3, f.Pages[2].PageNo)
	for _, p := range f.Pages {
		assert.Equal(t, f.ID, p.FileID)
	}
}

func TestLoadFilesDeterministicID(t *testing.T) {
	dir := t.TempDir()
	a := writeDoc(t, dir, "a.txt", "same content")
	b := writeDoc(t, dir, "b.txt", "same content")
	c := writeDoc(t, dir, "c.txt", "different content")

	files, err := LoadFiles([]string{a, b, c})
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, files[0].ID, files[1].ID, "identical content gives identical IDs")
	assert.NotEqual(t, files[0].ID, files[2].ID)
}

func TestLoadFilesGlob(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "one.md", "alpha")
	writeDoc(t, dir, "two.txt", "beta")
	writeDoc(t, dir, "skip.pdf", "binary")

	files, err := LoadFiles([]string{filepath.Join(dir, "*")})
	require.NoError(t, err)
	assert.Len(t, files, 2, "unsupported extensions are skipped")
}

func TestLoadFilesNoneFound(t *testing.T) {
	_, err := LoadFiles([]string{filepath.Join(t.TempDir(), "*.txt")})
	require.Error(t, err)
}

func TestPagesFlattens(t *testing.T) {
	dir := t.TempDir()
	a := writeDoc(t, dir, "a.txt", "one\ftwo")
	b := writeDoc(t, dir, "b.txt", "three")

	files, err := LoadFiles([]string{a, b})
	require.NoError(t, err)
	pages := Pages(files)
	require.Len(t, pages, 3)
	assert.Equal(t, "three", pages[2].Text)
}
