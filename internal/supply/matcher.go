// Package supply classifies a customer's generation-supply structure
// (bundled, community choice aggregation, direct access), resolves the
// billing tariff code against a tariff snapshot, and composes all-in
// generation pricing per TOU window.
package supply

import (
	"regexp"
	"sort"
	"strings"

	"github.com/gridpulse/ratescan/internal/snapshots"
)

// ProviderType is the resolved supply structure.
type ProviderType string

const (
	ProviderBundled      ProviderType = "BUNDLED"
	ProviderCCA          ProviderType = "CCA"
	ProviderDirectAccess ProviderType = "DIRECT_ACCESS"
)

// MatchStatus classifies a tariff-match outcome.
type MatchStatus string

const (
	MatchFound       MatchStatus = "FOUND"
	MatchAmbiguous   MatchStatus = "AMBIGUOUS"
	MatchNotFound    MatchStatus = "NOT_FOUND"
	MatchUnsupported MatchStatus = "UNSUPPORTED"
)

var rateCodeSeparators = regexp.MustCompile(`[\s_/]+`)
var multiHyphen = regexp.MustCompile(`-{2,}`)

// NormalizeRateCode canonicalizes a rate-schedule code: uppercase with
// single hyphens between segments ("b 19", "B_19", "b-19" all become
// "B-19").
func NormalizeRateCode(s string) string {
	s = strings.TrimSpace(strings.ToUpper(s))
	s = rateCodeSeparators.ReplaceAllString(s, "-")
	s = multiHyphen.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// stripSuffix removes an optional single trailing letter suffix
// ("B-19R" matches "B-19"). Codes ending in a digit are returned
// unchanged.
func stripSuffix(code string) string {
	if len(code) < 2 {
		return code
	}
	last := code[len(code)-1]
	prev := code[len(code)-2]
	if last >= 'A' && last <= 'Z' && prev >= '0' && prev <= '9' {
		return code[:len(code)-1]
	}
	return code
}

// TariffMatch is the outcome of matching bill hints against a tariff
// snapshot's rate list. On AMBIGUOUS the candidate codes are surfaced
// for external disambiguation; no arbitrary tie-break is applied.
type TariffMatch struct {
	Status     MatchStatus          `json:"status"`
	Rate       *snapshots.RateEntry `json:"rate,omitempty"`
	Candidates []string             `json:"candidates,omitempty"`
}

// MatchTariff resolves free-text rate hints against the snapshot's
// rate list: exact normalized code match first, then suffix-tolerant
// match.
func MatchTariff(hints []string, rates []snapshots.RateEntry) TariffMatch {
	if len(rates) == 0 {
		return TariffMatch{Status: MatchNotFound}
	}

	byCode := make(map[string]snapshots.RateEntry, len(rates))
	byStripped := make(map[string][]string, len(rates))
	for _, r := range rates {
		code := NormalizeRateCode(r.Code)
		byCode[code] = r
		stripped := stripSuffix(code)
		byStripped[stripped] = append(byStripped[stripped], code)
	}

	matched := make(map[string]bool)
	for _, hint := range hints {
		h := NormalizeRateCode(hint)
		if h == "" {
			continue
		}
		if _, ok := byCode[h]; ok {
			matched[h] = true
			continue
		}
		for _, code := range byStripped[stripSuffix(h)] {
			matched[code] = true
		}
	}

	codes := make([]string, 0, len(matched))
	for code := range matched {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	switch len(codes) {
	case 0:
		return TariffMatch{Status: MatchNotFound}
	case 1:
		rate := byCode[codes[0]]
		return TariffMatch{Status: MatchFound, Rate: &rate, Candidates: codes}
	default:
		return TariffMatch{Status: MatchAmbiguous, Candidates: codes}
	}
}
