package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestNormalizeDropsRepeatedFooters(t *testing.T) {
	para := strings.Repeat("Players take turns building canals and railways. ", 4)
	var b strings.Builder
	for i := 0; i < 5; i++ {
		b.WriteString("Brass Rulebook v2\r\n")
		b.WriteString(para)
		b.WriteString("\n\n\n\n")
	}

	got := Normalize(b.String())

	assert.Equal(t, 1, strings.Count(got, "Brass Rulebook v2"))
	assert.Equal(t, 5, strings.Count(got, strings.TrimSpace(para)))
	assert.NotContains(t, got, "\r")
	assert.NotContains(t, got, "\n\n\n")
	assert.NotContains(t, got, "  ")
}

func TestNormalizeKeepsLongRepeatedLines(t *testing.T) {
	line := "Each player draws one card from the deck at the end of a turn."
	got := Normalize(line + "\n" + line)
	assert.Equal(t, line+"\n"+line, got)
}

func TestNormalizeTrimsTrailingSpace(t *testing.T) {
	assert.Equal(t, "a\nb", Normalize("  \na   \nb\t\n\n"))
}

func TestExtractTextThreshold(t *testing.T) {
	e := New()

	_, err := e.Extract([]byte(strings.Repeat("x", 99)), FormatText)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientText))

	got, err := e.Extract([]byte(strings.Repeat("y", 100)), FormatText)
	require.NoError(t, err)
	assert.Len(t, got, 100)
}

func TestExtractThresholdCountsRunes(t *testing.T) {
	e := New(WithMinChars(10))
	_, err := e.Extract([]byte("đường đi"), FormatText)
	assert.True(t, errors.Is(err, ErrInsufficientText))
}

func TestExtractUnsupported(t *testing.T) {
	_, err := New().Extract([]byte{0x00, 0x01, 0x02}, FormatUnknown)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestExtractHTML(t *testing.T) {
	body := "<html><body><h1>Setup</h1><p>" + strings.Repeat("Place the board in the middle of the table. ", 4) + "</p></body></html>"
	got, err := New().Extract([]byte(body), FormatHTML)
	require.NoError(t, err)
	assert.Contains(t, got, "# Setup")
	assert.Contains(t, got, "Place the board")
	assert.NotContains(t, got, "<p>")
}

func TestExtractDOCX(t *testing.T) {
	para := strings.Repeat("Discard a card to take an action. ", 4)
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>Overview</w:t></w:r></w:p>
<w:p><w:r><w:t>` + para + `</w:t></w:r><w:r><w:tab/><w:t>end</w:t></w:r></w:p>
</w:body></w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(doc))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	got, err := New().Extract(buf.Bytes(), FormatUnknown)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "Overview\n"))
	assert.Contains(t, got, "action. \tend")
}

func TestExtractCorruptPDF(t *testing.T) {
	_, err := New().Extract([]byte("%PDF-1.4\ngarbage without xref"), FormatPDF)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInsufficientText))
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		file        string
		data        []byte
		want        Format
	}{
		{name: "content type wins", contentType: "application/pdf; charset=binary", file: "x.docx", want: FormatPDF},
		{name: "extension with query", file: "https://cdn.example.com/rules.DOCX?sig=1", want: FormatDOCX},
		{name: "octet stream sniffed", contentType: "application/octet-stream", data: []byte("%PDF-1.7"), want: FormatPDF},
		{name: "html sniff", data: []byte("\n<!DOCTYPE html><html>"), want: FormatHTML},
		{name: "unknown", data: []byte("hello"), want: FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.contentType, tt.file, tt.data))
		})
	}
	assert.Equal(t, "bin", FormatUnknown.Ext())
	assert.Equal(t, "pdf", FormatPDF.Ext())
}

func TestDetectLanguage(t *testing.T) {
	en := "The first player to reach twenty victory points wins the game immediately.\n\n" +
		"Shuffle the deck and deal five cards to each player before starting."
	assert.Equal(t, language.English, DetectLanguage(en))
	assert.Equal(t, language.Und, DetectLanguage(""))
}
