package supply

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// CCAEntry is one registered community-choice aggregator.
type CCAEntry struct {
	Key           string   `yaml:"key" json:"key"` // snapshot provider key
	CanonicalName string   `yaml:"canonical_name" json:"canonical_name"`
	Aliases       []string `yaml:"aliases" json:"aliases,omitempty"`
	Utility       string   `yaml:"utility" json:"utility"` // delivering utility
}

// Registry holds the known CCA providers for alias matching.
type Registry struct {
	entries []CCAEntry
}

// NewRegistry builds a registry from explicit entries.
func NewRegistry(entries []CCAEntry) *Registry {
	return &Registry{entries: entries}
}

// LoadRegistry reads a yaml registry file.
func LoadRegistry(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		CCAs []CCAEntry `yaml:"ccas"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse cca registry: %w", err)
	}
	return NewRegistry(doc.CCAs), nil
}

// DefaultRegistry covers the major California aggregators; callers
// with a registry file should prefer LoadRegistry.
func DefaultRegistry() *Registry {
	return NewRegistry([]CCAEntry{
		{Key: "cpa", CanonicalName: "Clean Power Alliance", Aliases: []string{"cpa", "clean power"}, Utility: "sce"},
		{Key: "mce", CanonicalName: "MCE Clean Energy", Aliases: []string{"mce", "marin clean energy"}, Utility: "pge"},
		{Key: "svce", CanonicalName: "Silicon Valley Clean Energy", Aliases: []string{"svce"}, Utility: "pge"},
		{Key: "cleanpowersf", CanonicalName: "CleanPowerSF", Aliases: []string{"clean power sf"}, Utility: "pge"},
		{Key: "sdcp", CanonicalName: "San Diego Community Power", Aliases: []string{"sdcp"}, Utility: "sdge"},
	})
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeText lowercases and collapses punctuation to single spaces.
func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = nonAlnum.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Match finds the CCA referenced by bill text: canonical-name exact
// match first, then alias substring match on whitespace-padded
// normalized text. Entry order in the registry breaks nothing; the
// first canonical hit wins, and alias hits are only consulted when no
// canonical name matched.
func (r *Registry) Match(billText string) (*CCAEntry, bool) {
	norm := normalizeText(billText)
	if norm == "" {
		return nil, false
	}

	for i := range r.entries {
		if norm == normalizeText(r.entries[i].CanonicalName) {
			return &r.entries[i], true
		}
	}

	padded := " " + norm + " "
	for i := range r.entries {
		names := append([]string{r.entries[i].CanonicalName}, r.entries[i].Aliases...)
		for _, name := range names {
			n := normalizeText(name)
			if n == "" {
				continue
			}
			if strings.Contains(padded, " "+n+" ") {
				return &r.entries[i], true
			}
		}
	}
	return nil, false
}

// Entries returns the registered CCAs.
func (r *Registry) Entries() []CCAEntry {
	return r.entries
}
