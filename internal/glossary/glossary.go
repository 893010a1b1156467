// Package glossary holds fixed board-game term translations injected into
// translation prompts.
package glossary

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/MimeLyc/rulebook-translator/pkg/file"
)

// Glossary maps English terms to their preferred target-language rendering.
// A term mapped to itself is kept verbatim.
type Glossary map[string]string

// Entry is one matched term.
type Entry struct {
	Source string
	Target string
}

// Filename returns the glossary filename for a language pair, e.g.
// "glossary.en-vi.yaml".
func Filename(sourceLang, targetLang string) string {
	return "glossary." + baseCode(sourceLang) + "-" + baseCode(targetLang) + ".yaml"
}

// Load reads a glossary from a YAML or JSON file, chosen by extension.
func Load(path string) (Glossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	g := make(Glossary)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &g)
	default:
		err = yaml.Unmarshal(data, &g)
	}
	if err != nil {
		return nil, fmt.Errorf("parse glossary %s: %w", path, err)
	}
	return g.clean(), nil
}

// Save writes g as YAML or JSON depending on the extension of path.
func Save(path string, g Glossary) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(g, "", "  ")
	default:
		data, err = yaml.Marshal(g)
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return file.WriteAtomic(path, data, 0o644)
}

// Merge returns a copy of g with other applied on top.
func (g Glossary) Merge(other Glossary) Glossary {
	out := make(Glossary, len(g)+len(other))
	for k, v := range g {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Match returns the terms that occur in any of texts, longest term first so
// "Victory Point Track" is listed before "Victory Point". Matching ignores
// case because rulebooks capitalize terms inconsistently.
func (g Glossary) Match(texts ...string) []Entry {
	lowered := make([]string, len(texts))
	for i, t := range texts {
		lowered[i] = strings.ToLower(t)
	}

	var ret []Entry
	for source, target := range g {
		needle := strings.ToLower(source)
		for _, text := range lowered {
			if strings.Contains(text, needle) {
				ret = append(ret, Entry{Source: source, Target: target})
				break
			}
		}
	}

	sort.Slice(ret, func(i, j int) bool {
		if len(ret[i].Source) != len(ret[j].Source) {
			return len(ret[i].Source) > len(ret[j].Source)
		}
		return ret[i].Source < ret[j].Source
	})
	return ret
}

func (g Glossary) clean() Glossary {
	out := make(Glossary, len(g))
	for k, v := range g {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			v = k
		}
		out[k] = v
	}
	return out
}

func baseCode(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return lang
	}
	base, _ := tag.Base()
	return base.String()
}
