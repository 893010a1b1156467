// Package extract turns downloaded rulebook bytes into normalized plain text.
package extract

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrInsufficientText  = errors.New("insufficient text")
)

const (
	DefaultMinChars    = 100
	DefaultMaxPDFPages = 50
)

type Extractor struct {
	minChars    int
	maxPDFPages int
}

type Option func(*Extractor)

// WithMinChars sets the shortest accepted extraction.
func WithMinChars(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.minChars = n
		}
	}
}

// WithMaxPDFPages caps how many PDF pages are read.
func WithMaxPDFPages(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxPDFPages = n
		}
	}
}

func New(opts ...Option) *Extractor {
	e := &Extractor{
		minChars:    DefaultMinChars,
		maxPDFPages: DefaultMaxPDFPages,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the plain text of data. Results shorter than the minimum
// length fail with ErrInsufficientText.
func (e *Extractor) Extract(data []byte, format Format) (string, error) {
	if format == FormatUnknown {
		format = Sniff(data)
	}

	var text string
	var err error
	switch format {
	case FormatPDF:
		text, err = extractPDF(data, e.maxPDFPages)
	case FormatDOCX:
		text, err = extractDOCX(data)
	case FormatHTML:
		text, err = htmltomarkdown.ConvertString(string(data))
	case FormatText:
		text = strings.ToValidUTF8(string(data), "")
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(format))
	}
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", format, err)
	}

	text = strings.TrimSpace(text)
	if err := e.CheckLength(text); err != nil {
		return "", fmt.Errorf("%s: %w", format, err)
	}
	return text, nil
}

// CheckLength fails with ErrInsufficientText when text is shorter than the
// minimum. Callers run it again after normalization shrank the text.
func (e *Extractor) CheckLength(text string) error {
	if n := utf8.RuneCountInString(strings.TrimSpace(text)); n < e.minChars {
		return fmt.Errorf("%w: %d characters, need %d", ErrInsufficientText, n, e.minChars)
	}
	return nil
}
