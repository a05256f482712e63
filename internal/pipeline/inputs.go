package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/gridpulse/ratescan/internal/battery"
	"github.com/gridpulse/ratescan/internal/determinants"
	"github.com/gridpulse/ratescan/internal/interval"
	"github.com/gridpulse/ratescan/internal/metrics"
	"github.com/gridpulse/ratescan/internal/programs"
	"github.com/gridpulse/ratescan/internal/snapshots"
	"github.com/gridpulse/ratescan/internal/supply"
	"github.com/gridpulse/ratescan/internal/telemetry"
	"github.com/gridpulse/ratescan/internal/weather"
)

var validate = validator.New()

// ErrInvalidInputs marks call-contract violations so transport layers
// can map them to a client error.
var ErrInvalidInputs = errors.New("invalid analysis inputs")

// TemperatureReading is one calendar day's average dry-bulb reading,
// joined against daily usage for the weather fit.
type TemperatureReading struct {
	Date     time.Time `json:"date" validate:"required"`
	AvgTempF float64   `json:"avg_temp_f"`
}

// Inputs is everything a single analysis run consumes. Utility is the
// only hard requirement; every other absence degrades the run to
// skipped steps and missing-info items rather than an error.
type Inputs struct {
	Utility             string                     `json:"utility" validate:"required"`
	MeterID             string                     `json:"meter_id,omitempty"`
	BillingDate         *time.Time                 `json:"billing_date,omitempty"`
	BillText            string                     `json:"bill_text,omitempty"`
	RateHints           []string                   `json:"rate_hints,omitempty"`
	Canonical           []interval.CanonicalPoint  `json:"canonical_points,omitempty"`
	RawKW               []interval.RawPoint        `json:"raw_kw_points,omitempty"`
	GranularityHint     int                        `json:"granularity_hint_minutes,omitempty" validate:"gte=0"`
	BillingCycles       []determinants.Cycle       `json:"billing_cycles,omitempty"`
	BilledCycles        []determinants.BilledCycle `json:"billed_cycles,omitempty"`
	DailyTemperatures   []TemperatureReading       `json:"daily_temperatures,omitempty"`
	RatchetHistoryMaxKW float64                    `json:"ratchet_history_max_kw,omitempty" validate:"gte=0"`
}

// Validate enforces the call contract. It runs before any snapshot or
// telemetry I/O so a malformed request never produces a partial run.
func (in Inputs) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInputs, err)
	}
	if !snapshots.ValidProviderKey(in.Utility) {
		return fmt.Errorf("%w: utility %q is not a valid provider key", ErrInvalidInputs, in.Utility)
	}
	return nil
}

// Dependencies is the injected environment for a run. Snapshots is
// required; everything else has a usable default. Now and NewID exist
// so two runs over the same inputs can be made byte-identical in
// tests.
type Dependencies struct {
	Snapshots *snapshots.Resolver
	Registry  *supply.Registry
	Telemetry *telemetry.Resolver
	Programs  *programs.Catalog
	Metrics   *metrics.Registry

	Now   time.Time
	NewID func() string

	// PriceSignals short-circuits the tariff-rate-context step with a
	// pre-resolved context, bypassing snapshot resolution entirely.
	PriceSignals *supply.RateContext

	Economics            battery.Overrides
	Weather              weather.Config
	TOULabel             determinants.TOULabelFunc
	LowCoverageThreshold float64
	Reconcile            determinants.ReconcileOptions
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Registry == nil {
		d.Registry = supply.DefaultRegistry()
	}
	if d.Programs == nil {
		d.Programs = programs.DefaultCatalog()
	}
	if d.Now.IsZero() {
		d.Now = time.Now().UTC()
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if d.Weather == (weather.Config{}) {
		d.Weather = weather.DefaultConfig()
	}
	return d
}
