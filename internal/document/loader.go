package document

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

// supportedExtensions are the file types the loader can extract text from.
var supportedExtensions = map[string]bool{
	".txt": true,
	".md":  true,
	".pdf": true,
}

// Supported reports whether the loader can handle the file at path.
func Supported(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// ListDir returns the supported files directly inside dir, sorted by name,
// plus the count of entries skipped as unsupported. Subdirectories are not
// descended into; the corpus is a flat documents directory.
func ListDir(dir string) (paths []string, skipped int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("reading documents directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !Supported(entry.Name()) {
			skipped++
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}

	sort.Strings(paths)
	return paths, skipped, nil
}

// Load reads the file at path and extracts its plain text.
// Parse failures are returned to the caller, which reports and skips the
// file rather than aborting the batch.
func Load(path string) (Document, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Document{}, fmt.Errorf("resolving path: %w", err)
	}

	name := filepath.Base(absPath)
	ext := strings.ToLower(filepath.Ext(name))

	var text string
	switch ext {
	case ".txt", ".md":
		raw, err := os.ReadFile(absPath)
		if err != nil {
			return Document{}, fmt.Errorf("reading %s: %w", name, err)
		}
		text = string(raw)
	case ".pdf":
		text, err = extractPDF(absPath)
		if err != nil {
			return Document{}, fmt.Errorf("extracting %s: %w", name, err)
		}
	default:
		return Document{}, fmt.Errorf("unsupported file type %q", ext)
	}

	return Document{
		ID:         NewID(name),
		Name:       name,
		Path:       absPath,
		Text:       text,
		Hash:       HashText(text),
		IngestedAt: time.Now(),
	}, nil
}

// extractPDF pulls the plain text stream out of a PDF file.
func extractPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	r, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", fmt.Errorf("copying pdf text: %w", err)
	}

	return buf.String(), nil
}
