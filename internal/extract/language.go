package extract

import (
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// DetectLanguage votes over the paragraphs of text and returns the most
// common language, or language.Und for empty input.
func DetectLanguage(text string) language.Tag {
	votes := make(map[string]int)
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if len(para) < 20 {
			continue
		}
		info := whatlanggo.Detect(para)
		if code := info.Lang.Iso6391(); code != "" {
			votes[code] += len(para)
		}
	}

	var top string
	var topWeight int
	for code, weight := range votes {
		if weight > topWeight || (weight == topWeight && code < top) {
			top = code
			topWeight = weight
		}
	}
	if top == "" {
		return language.Und
	}
	return language.Make(top)
}
