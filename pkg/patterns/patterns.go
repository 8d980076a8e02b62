// Package patterns holds the language-specific phrase tables that drive
// reference resolution, intent classification and utterance splitting.
//
// Pattern classes (ordinal, temporal, demonstrative, relative, conjunction,
// intent keywords) are configuration data, not code paths: adding a
// language or phrasing means extending the YAML, never touching Go.
// A Library is immutable after load.
package patterns

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatternsYAML []byte

// Temporal anchors: which end of retained history a temporal superlative
// points at.
const (
	AnchorOldest = "oldest"
	AnchorNewest = "newest"
)

// OrdinalPattern maps a phrase to a 1-based position in chronological
// (oldest-first) history.
type OrdinalPattern struct {
	Pattern string `yaml:"pattern"`
	Index   int    `yaml:"index"`
}

// TemporalPattern maps a phrase to a history anchor.
type TemporalPattern struct {
	Pattern string `yaml:"pattern"`
	Anchor  string `yaml:"anchor"`
}

// LanguagePatterns is the full phrase table for one language tag.
type LanguagePatterns struct {
	Ordinals       []OrdinalPattern    `yaml:"ordinals"`
	Temporal       []TemporalPattern   `yaml:"temporal"`
	Demonstratives []string            `yaml:"demonstratives"`
	Relative       []string            `yaml:"relative"`
	Conjunctions   []string            `yaml:"conjunctions"`
	NumberWords    map[string]int      `yaml:"number_words"`
	IntentKeywords map[string][]string `yaml:"intent_keywords"`
	TableNouns     map[string]string   `yaml:"table_nouns"`
	SlotCues       map[string][]string `yaml:"slot_cues"`
	DateCues       []string            `yaml:"date_cues"`
}

type libraryFile struct {
	Languages map[string]*LanguagePatterns `yaml:"languages"`
}

// Library is an immutable set of per-language pattern tables.
type Library struct {
	languages map[string]*LanguagePatterns
}

// Default returns the library built from the embedded pattern tables.
func Default() (*Library, error) {
	return parse(defaultPatternsYAML)
}

// LoadFile reads pattern tables from path. An empty path falls back to the
// embedded default.
func LoadFile(path string) (*Library, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read patterns file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Library, error) {
	var file libraryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse patterns: %w", err)
	}
	if len(file.Languages) == 0 {
		return nil, fmt.Errorf("patterns define no languages")
	}
	for tag, lang := range file.Languages {
		if lang == nil {
			return nil, fmt.Errorf("language %q has no pattern tables", tag)
		}
		for _, t := range lang.Temporal {
			if t.Anchor != AnchorOldest && t.Anchor != AnchorNewest {
				return nil, fmt.Errorf("language %q: temporal pattern %q has unknown anchor %q", tag, t.Pattern, t.Anchor)
			}
		}
		for _, o := range lang.Ordinals {
			if o.Index < 1 {
				return nil, fmt.Errorf("language %q: ordinal pattern %q has invalid index %d", tag, o.Pattern, o.Index)
			}
		}
	}
	return &Library{languages: file.Languages}, nil
}

// Language returns the pattern table for tag, falling back to "en" when the
// tag is unknown or empty.
func (l *Library) Language(tag string) *LanguagePatterns {
	if lang, ok := l.languages[strings.ToLower(tag)]; ok {
		return lang
	}
	return l.languages["en"]
}

// Languages returns the configured language tags.
func (l *Library) Languages() []string {
	tags := make([]string, 0, len(l.languages))
	for tag := range l.languages {
		tags = append(tags, tag)
	}
	return tags
}
