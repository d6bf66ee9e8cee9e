// Package filter drops self-promotional and networking-bait posts before they
// reach the model.
package filter

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"draftdesk/internal/models"
)

const (
	DefaultMaxSymbols = 3
	DefaultMinPool    = 10
)

// DefaultPhrases are matched case-insensitively as substrings.
var DefaultPhrases = []string{
	"$",
	"🚀",
	"🔥",
	"👇",
	"1️⃣",
	"looking to connect",
	"let's connect",
	"dm me",
	"fellow devs",
	"what are you building",
	"share feedback",
}

// Filter drops posts that match a denylist phrase or carry too many symbols.
type Filter struct {
	phrases    []string
	maxSymbols int
	minPool    int
}

// Config is the YAML shape of a filter override file.
type Config struct {
	Phrases    []string `yaml:"phrases"`
	MaxSymbols *int     `yaml:"max_symbols"`
	MinPool    *int     `yaml:"min_pool"`
}

func New(cfg Config) *Filter {
	f := &Filter{
		phrases:    DefaultPhrases,
		maxSymbols: DefaultMaxSymbols,
		minPool:    DefaultMinPool,
	}
	if len(cfg.Phrases) > 0 {
		f.phrases = cfg.Phrases
	}
	if cfg.MaxSymbols != nil {
		f.maxSymbols = *cfg.MaxSymbols
	}
	if cfg.MinPool != nil {
		f.minPool = *cfg.MinPool
	}
	lowered := make([]string, 0, len(f.phrases))
	for _, p := range f.phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lowered = append(lowered, p)
		}
	}
	f.phrases = lowered
	return f
}

// Load reads a YAML override file. An empty path yields the defaults.
func Load(path string) (*Filter, error) {
	if path == "" {
		return New(Config{}), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read filter config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse filter config: %w", err)
	}
	return New(cfg), nil
}

// Promotional reports whether text should be dropped.
func (f *Filter) Promotional(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range f.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return SymbolCount(text) > f.maxSymbols
}

// Apply returns the posts that pass, or all posts when fewer than the minimum
// pool would survive. Order is preserved.
func (f *Filter) Apply(posts []models.CandidatePost) []models.CandidatePost {
	kept := make([]models.CandidatePost, 0, len(posts))
	for _, p := range posts {
		if !f.Promotional(p.BodyText) {
			kept = append(kept, p)
		}
	}
	if len(kept) < f.minPool {
		return posts
	}
	return kept
}

// SymbolCount counts non-ASCII runes other than the typographic apostrophe.
func SymbolCount(text string) int {
	n := 0
	for _, r := range text {
		if r > 127 && r != '’' {
			n++
		}
	}
	return n
}
