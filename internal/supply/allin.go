package supply

import (
	"strings"

	"github.com/gridpulse/ratescan/internal/snapshots"
	"github.com/gridpulse/ratescan/internal/warn"
)

// Classification is the resolved supply structure for one customer.
type Classification struct {
	ProviderType ProviderType `json:"provider_type"`
	ProviderKey  string       `json:"provider_key,omitempty"`
	ProviderName string       `json:"provider_name,omitempty"`
	Confidence   float64      `json:"confidence"`
}

// Classify determines the supply structure from bill text. Direct
// access markers are checked first, then the CCA registry; the default
// is bundled utility service. Confidence reflects the strength of the
// evidence, not a probability model.
func Classify(billText string, reg *Registry) Classification {
	norm := normalizeText(billText)
	if strings.Contains(norm, "direct access") || strings.Contains(" "+norm+" ", " esp ") {
		return Classification{ProviderType: ProviderDirectAccess, Confidence: 0.9}
	}
	if entry, ok := reg.Match(billText); ok {
		conf := 0.8
		if norm == normalizeText(entry.CanonicalName) {
			conf = 1.0
		}
		return Classification{
			ProviderType: ProviderCCA,
			ProviderKey:  entry.Key,
			ProviderName: entry.CanonicalName,
			Confidence:   conf,
		}
	}
	if norm == "" {
		return Classification{ProviderType: ProviderBundled, Confidence: 0.5}
	}
	return Classification{ProviderType: ProviderBundled, Confidence: 0.7}
}

// AllInWindow is the composed generation-side price for one TOU
// period: generation + adders (deduped against exit-fee overlap) +
// exit fees.
type AllInWindow struct {
	Period           string  `json:"period"`
	GenerationPerKWh float64 `json:"generation_per_kwh"`
	AddersPerKWh     float64 `json:"adders_per_kwh"`
	ExitFeesPerKWh   float64 `json:"exit_fees_per_kwh"`
	AllInPerKWh      float64 `json:"all_in_per_kwh"`
}

// RateContext is the resolved supply pricing context handed to
// downstream economics. GenerationPriceWindows is only populated when
// a generation snapshot actually resolved; GenerationMissing is the
// explicit marker consumers must honor instead of assuming zero
// prices.
type RateContext struct {
	Classification    Classification          `json:"classification"`
	TariffMatch       TariffMatch             `json:"tariff_match"`
	GenerationMissing bool                    `json:"generation_missing"`
	GenerationWindows []snapshots.PriceWindow `json:"generation_price_windows,omitempty"`
	ExitFeeComponents []snapshots.LineItem    `json:"exit_fee_components,omitempty"`
	AllInWindows      []AllInWindow           `json:"all_in_windows,omitempty"`
}

// overlapsExitFees marks exit-fee charge families that CCAs sometimes
// restate inside their adders breakdown. The substring rule mirrors
// how the charges are labeled in published fee schedules; it is a
// heuristic pending confirmation that no other families overlap.
func overlapsExitFees(li snapshots.LineItem) bool {
	key := strings.ToLower(li.ID + " " + li.Label)
	return strings.Contains(key, "pcia") || strings.Contains(key, "nbc") ||
		strings.Contains(key, "non bypassable") || strings.Contains(key, "non-bypassable")
}

// ComposeAllIn builds per-window all-in prices from the three resolved
// snapshots. Adders and exit fees may each be nil (contribution 0).
// When the adders breakdown restates PCIA/NBC fields that the exit-fee
// snapshot already carries, the adders contribution is restricted to
// its non-overlapping component and adders_overlap_deduped is emitted.
func ComposeAllIn(gen *snapshots.GenerationPayload, adders *snapshots.AddersPayload, fees *snapshots.ExitFeesPayload, contextKey string) ([]AllInWindow, []warn.Engine) {
	if gen == nil || len(gen.PriceWindows) == 0 {
		return nil, nil
	}

	var warns []warn.Engine

	feesPerKWh := 0.0
	feesHaveOverlapFields := false
	if fees != nil {
		feesPerKWh = fees.EffectiveTotal()
		for _, li := range fees.Items {
			if overlapsExitFees(li) {
				feesHaveOverlapFields = true
				break
			}
		}
	}

	addersPerKWh := 0.0
	if adders != nil {
		addersPerKWh = adders.EffectiveTotal()
		if feesHaveOverlapFields && len(adders.Items) > 0 {
			other := 0.0
			deduped := false
			for _, li := range adders.Items {
				if overlapsExitFees(li) {
					deduped = true
					continue
				}
				other += li.RatePerKWh
			}
			if deduped {
				addersPerKWh = other
				warns = append(warns, warn.Engine{
					Code:       warn.CodeAddersOverlapDedupe,
					Module:     "supply",
					Operation:  "compose_all_in",
					ContextKey: contextKey,
				})
			}
		}
	}

	windows := make([]AllInWindow, 0, len(gen.PriceWindows))
	for _, w := range gen.PriceWindows {
		windows = append(windows, AllInWindow{
			Period:           w.Period,
			GenerationPerKWh: w.PricePerKWh,
			AddersPerKWh:     addersPerKWh,
			ExitFeesPerKWh:   feesPerKWh,
			AllInPerKWh:      w.PricePerKWh + addersPerKWh + feesPerKWh,
		})
	}
	return windows, warns
}
