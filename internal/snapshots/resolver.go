package snapshots

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gridpulse/ratescan/internal/warn"
)

// Resolver is the typed front over a Store: one method per snapshot
// kind, each applying date selection and payload normalization.
type Resolver struct {
	store            Store
	supportedUtility map[string]bool // nil means no allowlist
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSupportedUtilities installs a territory allowlist for tariff
// lookups. Keys outside the list resolve as UNSUPPORTED without
// touching the store.
func WithSupportedUtilities(keys ...string) Option {
	return func(r *Resolver) {
		r.supportedUtility = make(map[string]bool, len(keys))
		for _, k := range keys {
			r.supportedUtility[k] = true
		}
	}
}

// NewResolver builds a Resolver over store.
func NewResolver(store Store, opts ...Option) *Resolver {
	r := &Resolver{store: store}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TariffResolution is a tariff lookup outcome.
type TariffResolution struct {
	Status         Status
	Reason         string
	SnapshotID     string
	EffectiveStart Date
	Payload        *TariffPayload
}

// Tariff resolves the utility's rate book as of the billing date.
func (r *Resolver) Tariff(ctx context.Context, utility string, asOf *time.Time) (TariffResolution, []warn.Engine, error) {
	if r.supportedUtility != nil && !r.supportedUtility[utility] {
		return TariffResolution{Status: StatusUnsupported, Reason: "territory_not_covered"}, nil, nil
	}
	res, raw, err := r.lookup(ctx, KindTariff, utility, asOf)
	if err != nil || res.Status != StatusFound {
		return TariffResolution{Status: res.Status, Reason: res.Reason}, nil, err
	}
	payload, warns, err := DecodeTariff(raw.Payload, utility)
	if err != nil {
		return TariffResolution{Status: StatusNotFound, Reason: "undecodable_payload"}, warns, err
	}
	return TariffResolution{
		Status:         StatusFound,
		SnapshotID:     raw.ID,
		EffectiveStart: raw.EffectiveStart,
		Payload:        payload,
	}, warns, nil
}

// GenerationResolution is a CCA generation-price lookup outcome.
type GenerationResolution struct {
	Status     Status
	Reason     string
	SnapshotID string
	Payload    *GenerationPayload
}

// CCAGeneration resolves a CCA's generation prices as of the billing
// date.
func (r *Resolver) CCAGeneration(ctx context.Context, provider string, asOf *time.Time) (GenerationResolution, []warn.Engine, error) {
	res, raw, err := r.lookup(ctx, KindCCAGeneration, provider, asOf)
	if err != nil || res.Status != StatusFound {
		return GenerationResolution{Status: res.Status, Reason: res.Reason}, nil, err
	}
	payload, warns, err := DecodeGeneration(raw.Payload, provider)
	if err != nil {
		return GenerationResolution{Status: StatusNotFound, Reason: "undecodable_payload"}, warns, err
	}
	return GenerationResolution{Status: StatusFound, SnapshotID: raw.ID, Payload: payload}, warns, nil
}

// AddersResolution is a CCA adders lookup outcome.
type AddersResolution struct {
	Status     Status
	Reason     string
	SnapshotID string
	Payload    *AddersPayload
}

// CCAAdders resolves a CCA's per-kWh adders as of the billing date.
func (r *Resolver) CCAAdders(ctx context.Context, provider string, asOf *time.Time) (AddersResolution, []warn.Engine, error) {
	res, raw, err := r.lookup(ctx, KindCCAAdders, provider, asOf)
	if err != nil || res.Status != StatusFound {
		return AddersResolution{Status: res.Status, Reason: res.Reason}, nil, err
	}
	payload, warns, err := DecodeAdders(raw.Payload, provider)
	if err != nil {
		return AddersResolution{Status: StatusNotFound, Reason: "undecodable_payload"}, warns, err
	}
	return AddersResolution{Status: StatusFound, SnapshotID: raw.ID, Payload: payload}, warns, nil
}

// ExitFeesResolution is an exit-fees lookup outcome.
type ExitFeesResolution struct {
	Status     Status
	Reason     string
	SnapshotID string
	Payload    *ExitFeesPayload
}

// ExitFees resolves the utility's departing-load charges as of the
// billing date.
func (r *Resolver) ExitFees(ctx context.Context, utility string, asOf *time.Time) (ExitFeesResolution, []warn.Engine, error) {
	res, raw, err := r.lookup(ctx, KindExitFees, utility, asOf)
	if err != nil || res.Status != StatusFound {
		return ExitFeesResolution{Status: res.Status, Reason: res.Reason}, nil, err
	}
	payload, warns, err := DecodeExitFees(raw.Payload, utility)
	if err != nil {
		return ExitFeesResolution{Status: StatusNotFound, Reason: "undecodable_payload"}, warns, err
	}
	return ExitFeesResolution{Status: StatusFound, SnapshotID: raw.ID, Payload: payload}, warns, nil
}

func (r *Resolver) lookup(ctx context.Context, kind Kind, key string, asOf *time.Time) (Resolution, *Snapshot, error) {
	snaps, err := r.store.List(ctx, kind, key)
	if err != nil {
		return Resolution{Status: StatusNotFound, Reason: "store_error"}, nil, err
	}
	res := Select(snaps, asOf)
	if res.Status != StatusFound {
		log.Debug().Str("kind", string(kind)).Str("key", key).Str("reason", res.Reason).
			Msg("snapshot lookup missed")
		return res, nil, nil
	}
	return res, res.Snapshot, nil
}
