package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// ShortLineThreshold is the length below which repeated lines are treated as
// running headers, footers or page numbers.
const ShortLineThreshold = 30

var (
	blankRuns = regexp.MustCompile(`\n{3,}`)
	spaceRuns = regexp.MustCompile(` {2,}`)
)

// Normalize collapses runs of spaces and blank lines and keeps only the first
// occurrence of each short line.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = spaceRuns.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	seen := make(map[string]struct{})
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		key := strings.TrimSpace(line)
		if key != "" && utf8.RuneCountInString(key) < ShortLineThreshold {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, line)
	}

	text = strings.Join(out, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
