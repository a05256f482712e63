package snapshots

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gridpulse/ratescan/internal/warn"
)

// aggregateTolerance is the absolute disagreement allowed between a
// declared total and its summed breakdown before a PARTIAL warning.
const aggregateTolerance = 1e-6

// LineItem is one breakdown component of an adders or exit-fees
// snapshot. Rates are $/kWh.
type LineItem struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	RatePerKWh float64 `json:"rate_per_kwh"`
}

// signedOK reports whether a line item may legitimately carry a
// negative rate. Indifference adjustments (PCIA true-ups) are the only
// signed components.
func (li LineItem) signedOK() bool {
	key := strings.ToLower(li.ID + " " + li.Label)
	return strings.Contains(key, "indifference")
}

// sortLineItems orders items by id, label, then rate so payloads are
// byte-stable regardless of file order.
func sortLineItems(items []LineItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].ID != items[j].ID {
			return items[i].ID < items[j].ID
		}
		if items[i].Label != items[j].Label {
			return items[i].Label < items[j].Label
		}
		return items[i].RatePerKWh < items[j].RatePerKWh
	})
}

// PriceWindow is a $/kWh generation price for one TOU period.
type PriceWindow struct {
	Period      string  `json:"period"`
	PricePerKWh float64 `json:"price_per_kwh"`
}

// RateEntry is one schedule in a utility's tariff book.
type RateEntry struct {
	Code            string  `json:"code"`
	Name            string  `json:"name"`
	CustomerClass   string  `json:"customer_class,omitempty"`
	DemandMethod    string  `json:"demand_method,omitempty"` // "max" or "ratchet"
	RatchetFloorPct float64 `json:"ratchet_floor_pct,omitempty"`
}

// TariffPayload is a utility's published rate book at one point in
// time.
type TariffPayload struct {
	Utility string      `json:"utility"`
	Rates   []RateEntry `json:"rates"`
}

// GenerationPayload carries a CCA's generation prices per TOU window.
type GenerationPayload struct {
	Provider     string        `json:"provider"`
	PriceWindows []PriceWindow `json:"price_windows"`
}

// AddersPayload carries per-kWh adders a CCA layers on top of
// generation. TotalPerKWh is the declared aggregate; Items the
// breakdown. Either may be absent.
type AddersPayload struct {
	TotalPerKWh *float64   `json:"total_per_kwh"`
	Items       []LineItem `json:"items"`
}

// ExitFeesPayload carries departing-load charges (PCIA, NBC and
// friends) owed to the incumbent utility.
type ExitFeesPayload struct {
	TotalPerKWh *float64   `json:"total_per_kwh"`
	Items       []LineItem `json:"items"`
}

// EffectiveTotal returns the authoritative per-kWh total: the declared
// aggregate when present, otherwise the summed breakdown.
func (p AddersPayload) EffectiveTotal() float64 {
	if p.TotalPerKWh != nil {
		return *p.TotalPerKWh
	}
	return sumItems(p.Items)
}

// EffectiveTotal mirrors AddersPayload.EffectiveTotal.
func (p ExitFeesPayload) EffectiveTotal() float64 {
	if p.TotalPerKWh != nil {
		return *p.TotalPerKWh
	}
	return sumItems(p.Items)
}

func sumItems(items []LineItem) float64 {
	total := 0.0
	for _, li := range items {
		total += li.RatePerKWh
	}
	return total
}

// DecodeTariff parses and normalizes a tariff payload. Rates are
// sorted by code; entries with empty codes are dropped.
func DecodeTariff(raw json.RawMessage, contextKey string) (*TariffPayload, []warn.Engine, error) {
	var p TariffPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil, fmt.Errorf("decode tariff payload: %w", err)
	}
	kept := p.Rates[:0]
	for _, r := range p.Rates {
		if strings.TrimSpace(r.Code) == "" {
			continue
		}
		kept = append(kept, r)
	}
	p.Rates = kept
	sort.Slice(p.Rates, func(i, j int) bool { return p.Rates[i].Code < p.Rates[j].Code })
	return &p, nil, nil
}

// DecodeGeneration parses and normalizes a CCA generation payload.
// Negative prices are rejected (window dropped) with a PARTIAL
// warning; windows are sorted by period.
func DecodeGeneration(raw json.RawMessage, contextKey string) (*GenerationPayload, []warn.Engine, error) {
	var p GenerationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil, fmt.Errorf("decode generation payload: %w", err)
	}
	var warns []warn.Engine
	kept := p.PriceWindows[:0]
	for _, w := range p.PriceWindows {
		if w.PricePerKWh < 0 || math.IsNaN(w.PricePerKWh) {
			warns = append(warns, warn.Engine{
				Code:       warn.CodePartial,
				Module:     "snapshots",
				Operation:  "decode_generation",
				ContextKey: contextKey + ":" + w.Period,
			})
			continue
		}
		kept = append(kept, w)
	}
	p.PriceWindows = kept
	sort.Slice(p.PriceWindows, func(i, j int) bool { return p.PriceWindows[i].Period < p.PriceWindows[j].Period })
	return &p, warns, nil
}

// DecodeAdders parses and normalizes a CCA adders payload.
func DecodeAdders(raw json.RawMessage, contextKey string) (*AddersPayload, []warn.Engine, error) {
	var p AddersPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil, fmt.Errorf("decode adders payload: %w", err)
	}
	warns := normalizeItems(&p.Items, p.TotalPerKWh, "decode_adders", contextKey)
	return &p, warns, nil
}

// DecodeExitFees parses and normalizes an exit-fees payload.
func DecodeExitFees(raw json.RawMessage, contextKey string) (*ExitFeesPayload, []warn.Engine, error) {
	var p ExitFeesPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil, fmt.Errorf("decode exit fees payload: %w", err)
	}
	warns := normalizeItems(&p.Items, p.TotalPerKWh, "decode_exit_fees", contextKey)
	return &p, warns, nil
}

// normalizeItems applies the shared breakdown rules: reject negative
// rates except signed indifference adjustments, sort
// deterministically, and cross-check the declared total against the
// summed breakdown. On disagreement beyond tolerance the declared
// total stays authoritative and a PARTIAL warning surfaces both.
func normalizeItems(items *[]LineItem, declaredTotal *float64, operation, contextKey string) []warn.Engine {
	var warns []warn.Engine

	kept := (*items)[:0]
	for _, li := range *items {
		if math.IsNaN(li.RatePerKWh) || (li.RatePerKWh < 0 && !li.signedOK()) {
			warns = append(warns, warn.Engine{
				Code:       warn.CodePartial,
				Module:     "snapshots",
				Operation:  operation,
				ContextKey: contextKey + ":negative_rate:" + li.ID,
			})
			continue
		}
		kept = append(kept, li)
	}
	*items = kept
	sortLineItems(*items)

	if declaredTotal != nil && len(*items) > 0 {
		if diff := math.Abs(*declaredTotal - sumItems(*items)); diff > aggregateTolerance {
			warns = append(warns, warn.Engine{
				Code:       warn.CodePartial,
				Module:     "snapshots",
				Operation:  operation,
				ContextKey: contextKey + ":total_breakdown_mismatch",
			})
		}
	}
	return warns
}
