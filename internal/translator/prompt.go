package translator

import (
	"fmt"
	"strings"
)

// systemPrompt builds the instructions shared by the API providers.
func systemPrompt(req ChunkRequest) string {
	var prompt strings.Builder

	prompt.WriteString("You are a professional board game localization expert. Translate board game texts from English to Vietnamese so that Vietnamese players can learn and play the game.\n\n")

	if req.Subject != "" {
		prompt.WriteString("=== GAME ===\n")
		prompt.WriteString(fmt.Sprintf("Title: %s\n", req.Subject))
		if req.Total > 1 {
			prompt.WriteString(fmt.Sprintf("Part: %d of %d\n", req.Index+1, req.Total))
		}
		prompt.WriteString("\n")
	}

	if len(req.Glossary) > 0 {
		prompt.WriteString("=== GLOSSARY ===\n")
		for _, e := range req.Glossary {
			if e.Source == e.Target {
				prompt.WriteString(fmt.Sprintf("- %s: keep in English\n", e.Source))
			} else {
				prompt.WriteString(fmt.Sprintf("- %s -> %s\n", e.Source, e.Target))
			}
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("=== TRANSLATION GUIDELINES ===\n")
	prompt.WriteString("1. Keep proper names in English: the game title, card names, character names and place names\n")
	prompt.WriteString("2. Apply the glossary consistently\n")
	prompt.WriteString("3. Preserve paragraphs, line breaks, list markers, numbers and markdown syntax\n")
	prompt.WriteString("4. Write natural Vietnamese that matches the rules context\n")

	prompt.WriteString("\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString("Return ONLY the Vietnamese translation.\n")
	prompt.WriteString("Do not include any explanations, notes, or additional text.\n")

	return prompt.String()
}

// browserPrompt is typed into the Gemini web chat, which has no separate
// system channel.
func browserPrompt(req ChunkRequest) string {
	var prompt strings.Builder
	prompt.WriteString("Hãy dịch văn bản board game sau sang tiếng Việt mượt mà. Chỉ giữ nguyên Tên Riêng (Proper Names) bằng tiếng Anh, còn lại hãy dịch hết sang tiếng Việt phù hợp ngữ cảnh")
	if len(req.Glossary) > 0 {
		terms := make([]string, 0, len(req.Glossary))
		for _, e := range req.Glossary {
			terms = append(terms, fmt.Sprintf("%s = %s", e.Source, e.Target))
		}
		prompt.WriteString(". Thuật ngữ: ")
		prompt.WriteString(strings.Join(terms, "; "))
	}
	prompt.WriteString(":\n\n")
	prompt.WriteString(req.Text)
	return prompt.String()
}
