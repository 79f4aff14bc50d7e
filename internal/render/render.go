// Package render formats generated feedback for browsers and terminals.
package render

import (
	"bytes"
	"fmt"
	"regexp"
	"sync"

	"docreview/internal/logging"

	"github.com/charmbracelet/glamour"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

var (
	dividerPattern  = regexp.MustCompile(`(?m)^(---.*---)`)
	feedbackPattern = regexp.MustCompile(`(?mi)^(feedback:)`)
)

var (
	markdown = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
	)
	policy = bluemonday.UGCPolicy()
)

// FormatFeedback bolds divider lines and leading "Feedback:" labels so they
// survive markdown rendering as headings of their own.
func FormatFeedback(text string) string {
	text = dividerPattern.ReplaceAllString(text, "**$1**")
	return feedbackPattern.ReplaceAllString(text, "**$1**")
}

// HTML formats text and renders it to sanitized HTML.
func HTML(text string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(FormatFeedback(text)), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return string(policy.SanitizeBytes(buf.Bytes())), nil
}

// Terminal renders markdown for an ANSI terminal.
type Terminal struct {
	mu       sync.Mutex
	renderer *glamour.TermRenderer
}

// NewTerminal creates a terminal renderer. An empty style picks one from the
// terminal background; "notty" produces plain text.
func NewTerminal(style string, width int) (*Terminal, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, fmt.Errorf("create terminal renderer: %w", err)
	}
	return &Terminal{renderer: r}, nil
}

// Render formats text and renders it. On a renderer error the formatted
// markdown is returned unchanged.
func (t *Terminal) Render(text string) string {
	formatted := FormatFeedback(text)

	t.mu.Lock()
	defer t.mu.Unlock()
	out, err := t.renderer.Render(formatted)
	if err != nil {
		logging.Get(logging.CategoryRender).Warn("terminal render failed, printing raw markdown: %v", err)
		return formatted
	}
	return out
}
