// Package artifact assembles and stores the bilingual markdown rulebooks.
package artifact

import (
	"fmt"
	"strings"

	"github.com/MimeLyc/rulebook-translator/pkg/file"
)

// Meta is the provenance printed at the top of an artifact.
type Meta struct {
	GameName       string
	BGGID          int64
	RulebookID     int64
	Title          string
	SourceURL      string
	Provider       string
	Model          string
	SourceLanguage string
}

// providerLabels maps provider names to the label shown to readers.
var providerLabels = map[string]string{
	"local":          "Local model",
	"gemini":         "Google Gemini",
	"browser_gemini": "Google Gemini (web)",
	"openai":         "OpenAI",
}

// Render builds the markdown body: Vietnamese first, the English source
// second. The output depends only on its inputs so reruns are byte-identical.
func Render(meta Meta, vietnamese, english string) []byte {
	provider := providerLabels[meta.Provider]
	if provider == "" {
		provider = meta.Provider
	}
	if meta.Model != "" {
		provider += " (" + meta.Model + ")"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s - Luật Chơi / Rules\n\n", meta.GameName)
	fmt.Fprintf(&b, "**BGG ID:** %d  \n", meta.BGGID)
	fmt.Fprintf(&b, "**Nguồn / Source:** %s  \n", meta.Title)
	if meta.SourceURL != "" {
		fmt.Fprintf(&b, "**URL:** %s  \n", meta.SourceURL)
	}
	if meta.SourceLanguage != "" {
		fmt.Fprintf(&b, "**Ngôn ngữ gốc / Source language:** %s  \n", meta.SourceLanguage)
	}
	fmt.Fprintf(&b, "**Dịch bởi / Translated by:** %s\n", provider)
	b.WriteString("\n---\n\n## Tiếng Việt\n\n")
	b.WriteString(strings.TrimSpace(vietnamese))
	b.WriteString("\n\n---\n\n## English (Original)\n\n")
	b.WriteString(strings.TrimSpace(english))
	b.WriteString("\n")
	return []byte(b.String())
}

// FileName is the artifact file name. The rulebook id keeps two rulebooks of
// one game with the same title apart.
func FileName(meta Meta) string {
	name := file.SafeName(meta.GameName, 50)
	title := file.SafeName(meta.Title, 30)
	if title == "" {
		title = "rules"
	}
	return fmt.Sprintf("%d_%s_%d_%s.md", meta.BGGID, name, meta.RulebookID, title)
}
