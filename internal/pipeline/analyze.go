// Package pipeline runs the fixed analysis step sequence over one
// meter's inputs. Steps never retry, never run concurrently, and never
// abort the run: a failing step is converted to an engine warning and
// the steps downstream of its output skip with a recorded reason.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gridpulse/ratescan/internal/battery"
	"github.com/gridpulse/ratescan/internal/determinants"
	"github.com/gridpulse/ratescan/internal/interval"
	"github.com/gridpulse/ratescan/internal/programs"
	"github.com/gridpulse/ratescan/internal/snapshots"
	"github.com/gridpulse/ratescan/internal/supply"
	"github.com/gridpulse/ratescan/internal/warn"
	"github.com/gridpulse/ratescan/internal/weather"
)

// Result is the complete output of one analysis run. Absent analysis
// products are nil pointers paired with a skipped step record; the
// warning and missing-info lists are canonically ordered so identical
// runs serialize byte-identically.
type Result struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Utility     string    `json:"utility"`
	MeterID     string    `json:"meter_id,omitempty"`

	Steps []StepRecord `json:"steps"`

	Series          *interval.NormalizedSeries `json:"series,omitempty"`
	Classification  *supply.Classification     `json:"classification,omitempty"`
	RateContext     *supply.RateContext        `json:"rate_context,omitempty"`
	Determinants    *determinants.Pack         `json:"determinants,omitempty"`
	IntervalStats   *IntervalStats             `json:"interval_stats,omitempty"`
	Weather         *weather.Result            `json:"weather,omitempty"`
	Battery         *battery.Opportunity       `json:"battery,omitempty"`
	BatteryDecision *battery.Decision          `json:"battery_decision,omitempty"`
	Programs        *programs.MatchResult      `json:"programs,omitempty"`

	Recommendations []Recommendation  `json:"recommendations"`
	MissingInfo     []MissingInfoItem `json:"missing_info"`
	Warnings        []warn.Engine     `json:"warnings"`
}

type stepFunc func(ctx context.Context) (Delta, []warn.Engine, error)

// Analyze executes the full pipeline. It returns an error only for
// contract violations detected before any I/O: invalid inputs or a
// missing snapshot resolver. Everything after that degrades to
// warnings and skipped steps.
func Analyze(ctx context.Context, in Inputs, deps Dependencies) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if deps.Snapshots == nil {
		return nil, fmt.Errorf("pipeline: snapshot resolver is required")
	}
	deps = deps.withDefaults()

	state := &State{}
	res := &Result{
		RunID:       deps.NewID(),
		GeneratedAt: deps.Now,
		Utility:     in.Utility,
		MeterID:     in.MeterID,
	}
	var warnLists [][]warn.Engine

	run := func(name StepName, skipReason string, fn stepFunc) {
		rec := StepRecord{Name: name, Status: StatusNotRun}
		if skipReason != "" {
			rec.Status = StatusSkipped
			rec.Reason = skipReason
		} else {
			start := time.Now()
			delta, warns, err := runGuarded(ctx, fn)
			warnLists = append(warnLists, warns)
			var skip skipError
			if errors.As(err, &skip) {
				rec.Status = StatusSkipped
				rec.Reason = skip.reason
			} else if err != nil {
				kind := "error"
				if _, isPanic := err.(panicError); isPanic {
					kind = "panic"
				}
				log.Warn().Str("step", string(name)).Err(err).Msg("pipeline step failed")
				warnLists = append(warnLists, []warn.Engine{{
					Code:          warn.CodeStepFailed,
					Module:        "pipeline",
					Operation:     string(name),
					ExceptionKind: kind,
				}})
				rec.Status = StatusSkipped
				rec.Reason = ReasonComponentError
			} else if err := state.apply(name, delta); err != nil {
				log.Error().Str("step", string(name)).Err(err).Msg("state merge refused")
				warnLists = append(warnLists, []warn.Engine{{
					Code:          warn.CodeStepFailed,
					Module:        "pipeline",
					Operation:     string(name),
					ExceptionKind: "state_conflict",
				}})
				rec.Status = StatusSkipped
				rec.Reason = ReasonComponentError
			} else {
				rec.Status = StatusRan
			}
			if deps.Metrics != nil {
				deps.Metrics.StepDuration.WithLabelValues(string(name)).Observe(time.Since(start).Seconds())
			}
		}
		if deps.Metrics != nil {
			deps.Metrics.StepOutcomes.WithLabelValues(string(name), string(rec.Status)).Inc()
		}
		res.Steps = append(res.Steps, rec)
	}

	run(StepNormalize, "", func(ctx context.Context) (Delta, []warn.Engine, error) {
		input := interval.Input{Canonical: in.Canonical, RawKW: in.RawKW, GranularityHint: in.GranularityHint}
		var warns []warn.Engine
		if len(input.Canonical) == 0 && len(input.RawKW) == 0 && deps.Telemetry != nil && in.MeterID != "" {
			tres, tw := deps.Telemetry.Resolve(ctx, in.MeterID)
			warns = append(warns, tw...)
			if tres.Found {
				input.RawKW = tres.Points
			}
		}
		series, nw := interval.Normalize(input)
		return Delta{Series: series}, append(warns, nw...), nil
	})

	run(StepSupplyStructure, "", func(context.Context) (Delta, []warn.Engine, error) {
		cls := supply.Classify(in.BillText, deps.Registry)
		return Delta{Classification: &cls}, nil, nil
	})

	run(StepRateContext, "", func(ctx context.Context) (Delta, []warn.Engine, error) {
		if deps.PriceSignals != nil {
			return Delta{RateContext: deps.PriceSignals}, nil, nil
		}
		return resolveRateContext(ctx, in, deps, *state.Classification)
	})

	run(StepDeterminants, skipWhen(
		cond(state.Series.Empty(), ReasonNoIntervalData),
		cond(len(in.BillingCycles) == 0, ReasonNoBillingCycles),
	), func(context.Context) (Delta, []warn.Engine, error) {
		return buildDeterminants(in, deps, state)
	})

	run(StepIntervalIntelligence, skipWhen(
		cond(state.Series.Empty(), ReasonNoIntervalData),
	), func(context.Context) (Delta, []warn.Engine, error) {
		return Delta{IntervalStats: computeIntervalStats(state.Series)}, nil, nil
	})

	rows := dailyRows(state.Series, in.DailyTemperatures)
	run(StepWeatherRegression, skipWhen(
		cond(state.Series.Empty(), ReasonNoIntervalData),
		cond(len(rows) == 0, ReasonNoTemperatureData),
	), func(context.Context) (Delta, []warn.Engine, error) {
		fit := weather.Fit(rows, deps.Weather)
		return Delta{Weather: &fit}, fit.Warnings, nil
	})

	run(StepBatteryOpportunity, skipWhen(
		cond(state.IntervalStats == nil || state.IntervalStats.PeakKW == 0, ReasonNoIntervalData),
	), func(context.Context) (Delta, []warn.Engine, error) {
		st := state.IntervalStats
		bi := battery.Inputs{
			PeakKW:     st.PeakKW,
			AvgKW:      st.AvgKW,
			LoadFactor: st.LoadFactor,
		}
		if state.RateContext != nil {
			bi.TOUSpreadPerKWh = touSpread(state.RateContext.AllInWindows)
		}
		if state.Weather != nil && state.Weather.AnnualizedKWh != nil {
			bi.AnnualKWh = state.Weather.AnnualizedKWh
		}
		op, err := battery.Evaluate(bi, deps.Economics)
		if err != nil {
			return Delta{}, nil, err
		}
		return Delta{Battery: op}, nil, nil
	})

	run(StepBatteryDecision, skipWhen(
		cond(state.Battery == nil, ReasonNoBatteryOpportunity),
	), func(context.Context) (Delta, []warn.Engine, error) {
		return Delta{BatteryDecision: battery.Decide(state.Battery)}, nil, nil
	})

	run(StepProgramIntelligence, skipWhen(
		cond(state.IntervalStats == nil, ReasonNoIntervalData),
	), func(context.Context) (Delta, []warn.Engine, error) {
		match, err := deps.Programs.Match(programs.Inputs{
			Utility:      in.Utility,
			ProviderType: string(state.Classification.ProviderType),
			PeakKW:       state.IntervalStats.PeakKW,
		})
		if err != nil {
			return Delta{}, nil, err
		}
		return Delta{Programs: match}, nil, nil
	})

	run(StepRecommendations, "", func(context.Context) (Delta, []warn.Engine, error) {
		return Delta{Recommendations: buildRecommendations(state, deps.NewID)}, nil, nil
	})

	run(StepMissingInfo, "", func(context.Context) (Delta, []warn.Engine, error) {
		return Delta{MissingInfo: buildMissingInfo(in, state, deps.NewID)}, nil, nil
	})

	res.Series = state.Series
	res.Classification = state.Classification
	res.RateContext = state.RateContext
	res.Determinants = state.Determinants
	res.IntervalStats = state.IntervalStats
	res.Weather = state.Weather
	res.Battery = state.Battery
	res.BatteryDecision = state.BatteryDecision
	res.Programs = state.Programs
	res.Recommendations = state.Recommendations
	res.MissingInfo = state.MissingInfo
	res.Warnings = warn.MergeEngine(warnLists...)

	if deps.Metrics != nil {
		for _, w := range res.Warnings {
			deps.Metrics.Warnings.WithLabelValues(string(w.Code)).Inc()
		}
		deps.Metrics.RunsTotal.WithLabelValues(runOutcome(res.Steps)).Inc()
	}
	log.Info().Str("run_id", res.RunID).Str("utility", in.Utility).
		Int("warnings", len(res.Warnings)).Msg("analysis complete")
	return res, nil
}

// panicError wraps a recovered panic so the step runner can label the
// resulting warning.
type panicError struct{ value any }

func (p panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

// skipError lets a step declare mid-flight that its preconditions do
// not hold after all. It produces a SKIPPED record, not a warning.
type skipError struct{ reason string }

func (s skipError) Error() string { return "skipped: " + s.reason }

func runGuarded(ctx context.Context, fn stepFunc) (d Delta, warns []warn.Engine, err error) {
	defer func() {
		if r := recover(); r != nil {
			d = Delta{}
			err = panicError{value: r}
		}
	}()
	return fn(ctx)
}

// cond pairs a precondition with its skip reason.
func cond(failed bool, reason string) string {
	if failed {
		return reason
	}
	return ""
}

// skipWhen returns the first tripped skip reason, or "".
func skipWhen(reasons ...string) string {
	for _, r := range reasons {
		if r != "" {
			return r
		}
	}
	return ""
}

// touSpread is max minus min all-in price across TOU windows.
func touSpread(windows []supply.AllInWindow) float64 {
	if len(windows) == 0 {
		return 0
	}
	lo, hi := windows[0].AllInPerKWh, windows[0].AllInPerKWh
	for _, w := range windows[1:] {
		if w.AllInPerKWh < lo {
			lo = w.AllInPerKWh
		}
		if w.AllInPerKWh > hi {
			hi = w.AllInPerKWh
		}
	}
	return hi - lo
}

func runOutcome(steps []StepRecord) string {
	for _, s := range steps {
		if s.Reason == ReasonComponentError {
			return "degraded"
		}
	}
	return "ok"
}

// resolveRateContext assembles the effective rate context from
// snapshots. UNSUPPORTED territory returns a skipError so the step
// records SKIPPED rather than a failure.
func resolveRateContext(ctx context.Context, in Inputs, deps Dependencies, cls supply.Classification) (Delta, []warn.Engine, error) {
	var warns []warn.Engine

	tr, tw, err := deps.Snapshots.Tariff(ctx, in.Utility, in.BillingDate)
	warns = append(warns, tw...)
	if err != nil {
		return Delta{}, warns, err
	}
	if tr.Status == snapshots.StatusUnsupported {
		warns = append(warns, warn.Engine{
			Code:       warn.CodeUnsupported,
			Module:     "snapshots",
			Operation:  "tariff",
			ContextKey: in.Utility,
		})
		return Delta{}, warns, skipError{reason: ReasonUnsupportedTerritory}
	}

	rc := &supply.RateContext{Classification: cls}
	if tr.Status == snapshots.StatusFound {
		rc.TariffMatch = supply.MatchTariff(in.RateHints, tr.Payload.Rates)
		if rc.TariffMatch.Status == supply.MatchAmbiguous {
			warns = append(warns, warn.Engine{
				Code:       warn.CodeAmbiguous,
				Module:     "supply",
				Operation:  "match_tariff",
				ContextKey: in.Utility,
			})
		}
	} else {
		rc.TariffMatch = supply.TariffMatch{Status: supply.MatchNotFound}
		warns = append(warns, warn.Engine{
			Code:       warn.CodeSnapshotNotFound,
			Module:     "snapshots",
			Operation:  "tariff",
			ContextKey: in.Utility,
		})
	}

	switch cls.ProviderType {
	case supply.ProviderCCA:
		if cls.ProviderKey == "" {
			rc.GenerationMissing = true
			break
		}
		gr, gw, err := deps.Snapshots.CCAGeneration(ctx, cls.ProviderKey, in.BillingDate)
		warns = append(warns, gw...)
		if err != nil {
			return Delta{}, warns, err
		}
		ar, aw, err := deps.Snapshots.CCAAdders(ctx, cls.ProviderKey, in.BillingDate)
		warns = append(warns, aw...)
		if err != nil {
			return Delta{}, warns, err
		}
		fr, fw, err := deps.Snapshots.ExitFees(ctx, in.Utility, in.BillingDate)
		warns = append(warns, fw...)
		if err != nil {
			return Delta{}, warns, err
		}

		if gr.Status != snapshots.StatusFound {
			rc.GenerationMissing = true
			warns = append(warns, warn.Engine{
				Code:       warn.CodeSnapshotNotFound,
				Module:     "snapshots",
				Operation:  "cca_generation",
				ContextKey: cls.ProviderKey,
			})
			break
		}
		rc.GenerationWindows = gr.Payload.PriceWindows
		if fr.Status == snapshots.StatusFound {
			rc.ExitFeeComponents = fr.Payload.Items
		}
		var adders *snapshots.AddersPayload
		if ar.Status == snapshots.StatusFound {
			adders = ar.Payload
		}
		var fees *snapshots.ExitFeesPayload
		if fr.Status == snapshots.StatusFound {
			fees = fr.Payload
		}
		windows, cw := supply.ComposeAllIn(gr.Payload, adders, fees, in.Utility+"/"+cls.ProviderKey)
		warns = append(warns, cw...)
		rc.AllInWindows = windows

	case supply.ProviderDirectAccess:
		// ESP contract prices are not published; the marker tells
		// downstream economics not to assume zero generation cost.
		rc.GenerationMissing = true
	}

	return Delta{RateContext: rc}, warns, nil
}

// buildDeterminants derives per-cycle determinants and reconciles them
// against billed values when the bill provided any.
func buildDeterminants(in Inputs, deps Dependencies, state *State) (Delta, []warn.Engine, error) {
	opts := determinants.Options{
		TOULabel:             deps.TOULabel,
		DemandMethod:         determinants.DemandStraightMax,
		LowCoverageThreshold: deps.LowCoverageThreshold,
	}
	if state.RateContext != nil && state.RateContext.TariffMatch.Rate != nil {
		rate := state.RateContext.TariffMatch.Rate
		if rate.DemandMethod == string(determinants.DemandRatchet) {
			opts.DemandMethod = determinants.DemandRatchet
			opts.RatchetFloorPct = rate.RatchetFloorPct
			opts.RatchetHistoryMaxKW = in.RatchetHistoryMaxKW
		}
	}

	pack, warns := determinants.Build(state.Series, in.BillingCycles, opts)

	if len(in.BilledCycles) > 0 {
		ro := deps.Reconcile
		if ro.OverlapStart == nil && ro.OverlapEnd == nil && state.Series.Coverage.Points > 0 {
			start, end := state.Series.Coverage.Start, state.Series.Coverage.End
			ro.OverlapStart, ro.OverlapEnd = &start, &end
		}
		warns = append(warns, determinants.Reconcile(pack, in.BilledCycles, ro)...)
	}
	return Delta{Determinants: pack}, warns, nil
}
