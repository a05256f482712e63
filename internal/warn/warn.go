// Package warn defines the two reporting channels every analysis run
// returns to its caller: engine warnings (component-level degradations
// converted to data) and missing-info items (inputs the run wanted but
// did not have). Both lists are deterministically ordered so that two
// identical runs serialize byte-identically.
package warn

import (
	"fmt"
	"sort"
)

// Code identifies a warning condition. The string values are wire-level
// and must stay stable across releases.
type Code string

const (
	CodePartial             Code = "PARTIAL"
	CodeRowsDropped         Code = "ROWS_DROPPED"
	CodeAddersOverlapDedupe Code = "adders_overlap_deduped"
	CodeOutliersClipped     Code = "OUTLIERS_CLIPPED"
	CodeLowCoverage         Code = "LOW_COVERAGE"
	CodeReconcileMismatch   Code = "RECONCILE_MISMATCH"
	CodeStepFailed          Code = "STEP_FAILED"
	CodeSnapshotNotFound    Code = "SNAPSHOT_NOT_FOUND"
	CodeUnsupported         Code = "UNSUPPORTED"
	CodeAmbiguous           Code = "AMBIGUOUS"
)

// Engine is a component-level warning surfaced in place of a failure.
// A run never aborts because of one; the affected output field is
// omitted instead.
type Engine struct {
	Code          Code   `json:"code"`
	Module        string `json:"module"`
	Operation     string `json:"operation"`
	ExceptionKind string `json:"exception_kind,omitempty"`
	ContextKey    string `json:"context_key,omitempty"`
}

func (e Engine) String() string {
	return fmt.Sprintf("%s/%s/%s[%s]", e.Code, e.Module, e.Operation, e.ContextKey)
}

// key is the identity used for set-union dedup.
func (e Engine) key() string {
	return string(e.Code) + "|" + e.Module + "|" + e.Operation + "|" + e.ExceptionKind + "|" + e.ContextKey
}

// Severity ranks missing-info items for final ordering.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// MarshalText renders the severity for JSON output.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the wire form back.
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "critical":
		*s = SeverityCritical
	case "warning":
		*s = SeverityWarning
	case "info":
		*s = SeverityInfo
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// Item is one missing-info entry. IDs are unique per run.
type Item struct {
	ID          string   `json:"id"`
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// MergeEngine performs an order-independent set union of engine
// warnings and returns them in the canonical final order.
func MergeEngine(lists ...[]Engine) []Engine {
	seen := make(map[string]Engine)
	for _, list := range lists {
		for _, w := range list {
			seen[w.key()] = w
		}
	}
	out := make([]Engine, 0, len(seen))
	for _, w := range seen {
		out = append(out, w)
	}
	SortEngine(out)
	return out
}

// SortEngine orders warnings by code, module, operation, then context
// key. The order carries no meaning beyond byte-stability.
func SortEngine(ws []Engine) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].Code != ws[j].Code {
			return ws[i].Code < ws[j].Code
		}
		if ws[i].Module != ws[j].Module {
			return ws[i].Module < ws[j].Module
		}
		if ws[i].Operation != ws[j].Operation {
			return ws[i].Operation < ws[j].Operation
		}
		return ws[i].ContextKey < ws[j].ContextKey
	})
}

// MergeItems set-unions missing-info items by id and sorts by severity
// rank (critical first) then id.
func MergeItems(lists ...[]Item) []Item {
	seen := make(map[string]Item)
	for _, list := range lists {
		for _, it := range list {
			if _, ok := seen[it.ID]; !ok {
				seen[it.ID] = it
			}
		}
	}
	out := make([]Item, 0, len(seen))
	for _, it := range seen {
		out = append(out, it)
	}
	SortItems(out)
	return out
}

// SortItems orders items by descending severity then ascending id.
func SortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Severity != items[j].Severity {
			return items[i].Severity > items[j].Severity
		}
		return items[i].ID < items[j].ID
	})
}
