package extract

import (
	"bytes"
	"mime"
	"path"
	"strings"
)

type Format string

const (
	FormatUnknown Format = ""
	FormatPDF     Format = "pdf"
	FormatDOCX    Format = "docx"
	FormatHTML    Format = "html"
	FormatText    Format = "txt"
)

// Ext is the cache file extension for f.
func (f Format) Ext() string {
	if f == FormatUnknown {
		return "bin"
	}
	return string(f)
}

// DetectFormat resolves the declared content type or file name first and
// falls back to the leading signature bytes.
func DetectFormat(contentType, name string, data []byte) Format {
	if f := fromContentType(contentType); f != FormatUnknown {
		return f
	}
	if f := fromExtension(name); f != FormatUnknown {
		return f
	}
	return Sniff(data)
}

// Sniff inspects the leading bytes of data.
func Sniff(data []byte) Format {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	head = bytes.TrimLeft(head, "\xef\xbb\xbf \t\r\n")

	switch {
	case bytes.HasPrefix(head, []byte("%PDF")):
		return FormatPDF
	case bytes.HasPrefix(head, []byte("PK\x03\x04")):
		return FormatDOCX
	}

	lower := bytes.ToLower(head)
	if bytes.HasPrefix(lower, []byte("<!doctype html")) || bytes.HasPrefix(lower, []byte("<html")) {
		return FormatHTML
	}
	return FormatUnknown
}

func fromContentType(contentType string) Format {
	if contentType == "" {
		return FormatUnknown
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mediaType {
	case "application/pdf", "application/x-pdf":
		return FormatPDF
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return FormatDOCX
	case "text/html", "application/xhtml+xml":
		return FormatHTML
	case "text/plain", "text/markdown":
		return FormatText
	}
	return FormatUnknown
}

func fromExtension(name string) Format {
	if name == "" {
		return FormatUnknown
	}
	// Strip query strings from URLs.
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return FormatPDF
	case ".docx":
		return FormatDOCX
	case ".html", ".htm":
		return FormatHTML
	case ".txt", ".md":
		return FormatText
	}
	return FormatUnknown
}
