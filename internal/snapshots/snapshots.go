// Package snapshots provides read-only access to versioned reference
// data (tariffs, CCA generation prices, adders, exit fees). A snapshot
// is immutable once loaded; selection by billing date is a pure
// function over the partition's snapshot list.
package snapshots

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind partitions the store by payload type.
type Kind string

const (
	KindTariff        Kind = "tariff"
	KindCCAGeneration Kind = "cca_generation"
	KindCCAAdders     Kind = "cca_adders"
	KindExitFees      Kind = "exit_fees"
)

// Date is a calendar date serialized as YYYY-MM-DD. Snapshot files use
// bare dates; RFC3339 timestamps are accepted on input for tolerance.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// NewDate builds a Date at UTC midnight.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		d.Time = t.UTC()
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	d.Time = t.UTC()
	return nil
}

// Snapshot is one versioned record. EffectiveEnd nil means open-ended.
type Snapshot struct {
	ID             string          `json:"snapshot_id"`
	EffectiveStart Date            `json:"effective_start_date"`
	EffectiveEnd   *Date           `json:"effective_end_date"`
	Payload        json.RawMessage `json:"payload"`
}

// covers reports whether the snapshot's effective range contains d.
func (s Snapshot) covers(d time.Time) bool {
	if d.Before(s.EffectiveStart.Time) {
		return false
	}
	return s.EffectiveEnd == nil || !d.After(s.EffectiveEnd.Time)
}

// Status classifies a resolution outcome. A miss is data, not an
// error.
type Status string

const (
	StatusFound       Status = "FOUND"
	StatusNotFound    Status = "NOT_FOUND"
	StatusUnsupported Status = "UNSUPPORTED"
)

// Resolution is the outcome of a snapshot lookup.
type Resolution struct {
	Status   Status
	Snapshot *Snapshot
	Reason   string
}

// Select picks the snapshot covering asOf: among snapshots whose range
// contains the date, the one with the greatest effective start wins.
// With a nil asOf the latest-published snapshot (greatest effective
// start overall) is returned. An empty partition yields NOT_FOUND.
func Select(snaps []Snapshot, asOf *time.Time) Resolution {
	if len(snaps) == 0 {
		return Resolution{Status: StatusNotFound, Reason: "empty_partition"}
	}

	var best *Snapshot
	for i := range snaps {
		s := &snaps[i]
		if asOf != nil && !s.covers(*asOf) {
			continue
		}
		if best == nil || s.EffectiveStart.After(best.EffectiveStart.Time) {
			best = s
		}
	}
	if best == nil {
		return Resolution{Status: StatusNotFound, Reason: "no_covering_snapshot"}
	}
	return Resolution{Status: StatusFound, Snapshot: best}
}
