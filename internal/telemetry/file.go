package telemetry

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gridpulse/ratescan/internal/interval"
)

// FileSource reads a CSV export with a timestamp,kw header. Rows that
// fail to parse are passed through to the normalizer, which counts
// them as dropped.
type FileSource struct {
	path string
}

// NewFileSource points at a CSV file.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Name implements PointSource.
func (s *FileSource) Name() Source { return SourceFile }

// Fetch implements PointSource.
func (s *FileSource) Fetch(ctx context.Context, _ string) ([]interval.RawPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	tsCol, kwCol := columnIndexes(header)
	if tsCol < 0 || kwCol < 0 {
		return nil, fmt.Errorf("csv %s missing timestamp/kw columns", s.path)
	}

	var points []interval.RawPoint
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		if len(record) <= tsCol || len(record) <= kwCol {
			continue
		}
		kw, err := strconv.ParseFloat(strings.TrimSpace(record[kwCol]), 64)
		if err != nil {
			continue
		}
		points = append(points, interval.RawPoint{
			TimestampISO: strings.TrimSpace(record[tsCol]),
			KW:           kw,
		})
	}
	return points, nil
}

func columnIndexes(header []string) (tsCol, kwCol int) {
	tsCol, kwCol = -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "timestamp", "ts", "datetime":
			tsCol = i
		case "kw", "demand_kw":
			kwCol = i
		}
	}
	return tsCol, kwCol
}
