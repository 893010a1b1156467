package translator

import (
	"strings"
	"unicode/utf8"
)

const (
	paragraphSep = "\n\n"
	lineSep      = "\n"
)

// Split cuts text into chunks of at most budget characters. It prefers
// paragraph boundaries, then line boundaries, then a hard cut. Joining the
// chunks with the returned separator reproduces text.
func Split(text string, budget int) ([]string, string) {
	if text == "" {
		return nil, paragraphSep
	}
	if budget <= 0 || utf8.RuneCountInString(text) <= budget {
		return []string{text}, paragraphSep
	}

	for _, sep := range []string{paragraphSep, lineSep} {
		if chunks, ok := pack(strings.Split(text, sep), sep, budget); ok {
			return chunks, sep
		}
	}
	return hardCut(text, budget), ""
}

// pack greedily joins parts while the result stays within budget. It fails if
// one part alone is too long.
func pack(parts []string, sep string, budget int) ([]string, bool) {
	sepLen := utf8.RuneCountInString(sep)
	var chunks []string
	var current []string
	currentLen := 0

	for _, part := range parts {
		partLen := utf8.RuneCountInString(part)
		if partLen > budget {
			return nil, false
		}
		if len(current) > 0 && currentLen+sepLen+partLen > budget {
			chunks = append(chunks, strings.Join(current, sep))
			current = current[:0]
			currentLen = 0
		}
		if len(current) > 0 {
			currentLen += sepLen
		}
		current = append(current, part)
		currentLen += partLen
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, sep))
	}
	return chunks, true
}

func hardCut(text string, budget int) []string {
	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/budget+1)
	for i := 0; i < len(runes); i += budget {
		end := min(i+budget, len(runes))
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
