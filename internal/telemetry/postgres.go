package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/gridpulse/ratescan/internal/interval"
)

// PostgresSource reads project interval telemetry from the
// interval_readings table.
type PostgresSource struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgresSource wraps an open connection pool.
func NewPostgresSource(db *sqlx.DB, timeout time.Duration) *PostgresSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PostgresSource{db: db, timeout: timeout}
}

// OpenPostgres dials the project telemetry database.
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect telemetry db: %w", err)
	}
	db.SetMaxOpenConns(4)
	return db, nil
}

// Name implements PointSource.
func (s *PostgresSource) Name() Source { return SourcePostgres }

type readingRow struct {
	Timestamp time.Time `db:"ts"`
	KW        float64   `db:"kw"`
}

// Fetch implements PointSource.
func (s *PostgresSource) Fetch(ctx context.Context, meterID string) ([]interval.RawPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []readingRow
	query := `SELECT ts, kw FROM interval_readings WHERE meter_id = $1 ORDER BY ts`
	if err := s.db.SelectContext(ctx, &rows, query, meterID); err != nil {
		return nil, fmt.Errorf("query interval readings for %s: %w", meterID, err)
	}

	points := make([]interval.RawPoint, len(rows))
	for i, r := range rows {
		points[i] = interval.RawPoint{
			TimestampISO: r.Timestamp.UTC().Format(time.RFC3339),
			KW:           r.KW,
		}
	}
	return points, nil
}
