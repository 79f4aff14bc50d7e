// Package extract turns uploaded documents into plain text for review.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"docreview/internal/logging"
)

// MaxSize bounds how much of an upload is read.
const MaxSize = 20 << 20

var (
	// ErrUnsupportedFormat is returned for file extensions with no extractor.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrEmptyDocument is returned when a file yields only whitespace.
	ErrEmptyDocument = errors.New("document has no text")
	// ErrTooLarge is returned when an upload exceeds MaxSize.
	ErrTooLarge = errors.New("document too large")
	// ErrUnreadable is returned when a supported file cannot be decoded.
	ErrUnreadable = errors.New("could not extract text from document")
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
	trailingSpace       = regexp.MustCompile(`[ \t]+\n`)
)

type extractor func(data []byte) (string, error)

var extractors = map[string]extractor{
	".txt":  plainText,
	".md":   plainText,
	".docx": docxText,
	".pdf":  pdfText,
	".html": htmlText,
	".htm":  htmlText,
}

// Supported reports whether filename has an extractor.
func Supported(filename string) bool {
	_, ok := extractors[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Extensions lists the supported extensions.
func Extensions() []string {
	return []string{".txt", ".md", ".docx", ".pdf", ".html", ".htm"}
}

// Text reads r and extracts its text, choosing the format from filename's
// extension.
func Text(filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	fn, ok := extractors[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filename)
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filename, err)
	}
	if len(data) > MaxSize {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, filename, MaxSize)
	}

	text, err := fn(data)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnreadable, filename, err)
	}
	logging.ExtractDebug("extracted %d characters from %s (%s)", len(text), filename, ext)

	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyDocument, filename)
	}
	return text, nil
}

func plainText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("text is not valid UTF-8")
	}
	return string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))), nil
}

func clean(s string) string {
	s = multiSpacePattern.ReplaceAllString(s, " ")
	s = trailingSpace.ReplaceAllString(s, "\n")
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
