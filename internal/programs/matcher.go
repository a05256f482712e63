// Package programs matches a customer against demand-response and
// incentive programs. The catalog is static reference data (yaml or
// built-in); eligibility is a pure function of utility, supply type,
// and peak demand.
package programs

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Program is one catalog entry.
type Program struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Utility     string   `yaml:"utility" json:"utility"` // empty means any
	MinPeakKW   float64  `yaml:"min_peak_kw" json:"min_peak_kw"`
	SupplyTypes []string `yaml:"supply_types" json:"supply_types,omitempty"` // empty means any
	Description string   `yaml:"description" json:"description,omitempty"`
}

// Inputs is the narrow matching contract.
type Inputs struct {
	Utility      string  `json:"utility"`
	ProviderType string  `json:"provider_type"` // BUNDLED / CCA / DIRECT_ACCESS
	PeakKW       float64 `json:"peak_kw"`
}

// MatchResult lists eligible programs, sorted by id.
type MatchResult struct {
	Eligible []Program `json:"eligible"`
}

// Catalog is a fixed program list.
type Catalog struct {
	programs []Program
}

// NewCatalog builds a catalog from explicit programs.
func NewCatalog(programs []Program) *Catalog {
	return &Catalog{programs: programs}
}

// LoadCatalog reads a yaml catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Programs []Program `yaml:"programs"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse program catalog: %w", err)
	}
	return NewCatalog(doc.Programs), nil
}

// DefaultCatalog carries a small built-in set for when no catalog file
// is configured.
func DefaultCatalog() *Catalog {
	return NewCatalog([]Program{
		{ID: "cbp", Name: "Capacity Bidding Program", MinPeakKW: 100},
		{ID: "dbp-pge", Name: "Demand Bidding Program", Utility: "pge", MinPeakKW: 200},
		{ID: "elrp", Name: "Emergency Load Reduction Program", MinPeakKW: 25},
		{ID: "sgip", Name: "Self-Generation Incentive Program", MinPeakKW: 0},
	})
}

// Match returns the programs the customer is eligible for.
func (c *Catalog) Match(in Inputs) (*MatchResult, error) {
	var eligible []Program
	for _, p := range c.programs {
		if p.Utility != "" && p.Utility != in.Utility {
			continue
		}
		if in.PeakKW < p.MinPeakKW {
			continue
		}
		if len(p.SupplyTypes) > 0 && !containsString(p.SupplyTypes, in.ProviderType) {
			continue
		}
		eligible = append(eligible, p)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })
	return &MatchResult{Eligible: eligible}, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
