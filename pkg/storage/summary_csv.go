package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/platinummonkey/traffic-stats/pkg/traffic"
)

// CSVSummaryStore keeps the summary table in a single CSV file that is rewritten in full
type CSVSummaryStore struct {
	path string
	mu   sync.Mutex
}

// NewCSVSummaryStore creates a store backed by the CSV file at path
func NewCSVSummaryStore(path string) *CSVSummaryStore {
	return &CSVSummaryStore{path: path}
}

// Path returns the CSV file path
func (s *CSVSummaryStore) Path() string {
	return s.path
}

// Upsert implements SummaryStore.Upsert
func (s *CSVSummaryStore) Upsert(ctx context.Context, rec *traffic.DailyRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	records = upsertRecords(records, rec)
	return s.save(records)
}

// Load implements SummaryStore.Load
func (s *CSVSummaryStore) Load(ctx context.Context) ([]traffic.DailyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Close implements SummaryStore.Close
func (s *CSVSummaryStore) Close() error {
	return nil
}

func (s *CSVSummaryStore) load() ([]traffic.DailyRecord, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open summary: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read summary header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, required := range []string{colDate, colRepository} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("summary header is missing column %q", required)
		}
	}

	var records []traffic.DailyRecord
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read summary line %d: %w", line, err)
		}

		rec, err := recordFromColumns(func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		})
		if err != nil {
			return nil, fmt.Errorf("summary line %d: %w", line, err)
		}
		records = append(records, *rec)
	}

	sortRecords(records)
	return records, nil
}

func (s *CSVSummaryStore) save(records []traffic.DailyRecord) error {
	columns := SummaryColumns()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return fmt.Errorf("failed to write summary header: %w", err)
	}
	for i := range records {
		values := recordValues(&records[i])
		row := make([]string, len(columns))
		for j, col := range columns {
			row[j] = formatCell(values[col])
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write summary row %s: %w", records[i].Key(), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	if err := writeFileAtomic(s.path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

func formatCell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case int:
		return strconv.Itoa(val)
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}
