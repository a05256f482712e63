package pipeline

// StepName identifies one pipeline stage. The order of StepOrder is
// the total execution order; steps never retry and never run out of
// sequence.
type StepName string

const (
	StepNormalize            StepName = "normalize"
	StepSupplyStructure      StepName = "supply-structure"
	StepRateContext          StepName = "tariff-rate-context"
	StepDeterminants         StepName = "determinants"
	StepIntervalIntelligence StepName = "interval-intelligence"
	StepWeatherRegression    StepName = "weather-regression"
	StepBatteryOpportunity   StepName = "battery-opportunity"
	StepBatteryDecision      StepName = "battery-decision"
	StepProgramIntelligence  StepName = "program-intelligence"
	StepRecommendations      StepName = "recommendations-assembly"
	StepMissingInfo          StepName = "missing-info-assembly"
)

// StepOrder is the fixed, total ordering of the pipeline.
var StepOrder = []StepName{
	StepNormalize,
	StepSupplyStructure,
	StepRateContext,
	StepDeterminants,
	StepIntervalIntelligence,
	StepWeatherRegression,
	StepBatteryOpportunity,
	StepBatteryDecision,
	StepProgramIntelligence,
	StepRecommendations,
	StepMissingInfo,
}

// StepStatus is the lifecycle of one step within a run.
type StepStatus string

const (
	StatusNotRun  StepStatus = "NOT_RUN"
	StatusRan     StepStatus = "RAN"
	StatusSkipped StepStatus = "SKIPPED"
)

// Skip reason codes.
const (
	ReasonNoIntervalData       = "no_interval_data"
	ReasonNoBillingCycles      = "no_billing_cycles"
	ReasonNoTemperatureData    = "no_temperature_data"
	ReasonNoRateContext        = "no_rate_context"
	ReasonNoDeterminants       = "no_determinants"
	ReasonNoBatteryOpportunity = "no_battery_opportunity"
	ReasonUnsupportedTerritory = "unsupported_territory"
	ReasonComponentError       = "component_error"
)

// StepRecord is the per-step outcome surfaced to callers.
type StepRecord struct {
	Name   StepName   `json:"name"`
	Status StepStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
}
