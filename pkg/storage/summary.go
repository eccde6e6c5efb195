package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/platinummonkey/traffic-stats/pkg/traffic"
)

// Summary backends
const (
	BackendCSV      = "csv"
	BackendSQLite   = "sqlite3"
	BackendPostgres = "postgres"
)

// SummaryFileName is the CSV summary file name inside the output directory
const SummaryFileName = "summary.csv"

// SummaryStore persists daily records, at most one per (date, repository)
type SummaryStore interface {
	// Upsert inserts rec or overwrites the sections it carries on the existing row
	Upsert(ctx context.Context, rec *traffic.DailyRecord) error
	// Load returns every record sorted by (date, repository)
	Load(ctx context.Context) ([]traffic.DailyRecord, error)
	Close() error
}

// SummaryConfig selects and configures a summary backend
type SummaryConfig struct {
	Backend   string
	OutputDir string
	DSN       string
}

// OpenSummaryStore opens the configured backend
func OpenSummaryStore(ctx context.Context, cfg SummaryConfig) (SummaryStore, error) {
	switch cfg.Backend {
	case "", BackendCSV:
		return NewCSVSummaryStore(filepath.Join(cfg.OutputDir, SummaryFileName)), nil
	case BackendSQLite, BackendPostgres:
		return OpenSQLSummaryStore(ctx, cfg.Backend, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported summary backend: %s", cfg.Backend)
	}
}

// Column names, in the order they are written
const (
	colDate                 = "date"
	colRepository           = "repository"
	colViewsCount           = "views_count"
	colViewsUniques         = "views_uniques"
	colClonesCount          = "clones_count"
	colClonesUniques        = "clones_uniques"
	colTopReferrer          = "top_referrer"
	colTopReferrerCount     = "top_referrer_count"
	colTopReferrerUniques   = "top_referrer_uniques"
	colTotalReferrerCount   = "total_referrer_count"
	colTotalReferrerUniques = "total_referrer_uniques"
	colDistinctReferrers    = "distinct_referrers"
	colTopPath              = "top_path"
	colTopPathCount         = "top_path_count"
	colTopPathUniques       = "top_path_uniques"
	colTotalPathCount       = "total_path_count"
	colTotalPathUniques     = "total_path_uniques"
	colDistinctPaths        = "distinct_paths"
	colReadmeViews          = "readme_views"
	colReadmeUniques        = "readme_uniques"
)

// sectionColumns lists the columns owned by each metric section
var sectionColumns = map[traffic.Metric][]string{
	traffic.MetricViews:  {colViewsCount, colViewsUniques},
	traffic.MetricClones: {colClonesCount, colClonesUniques},
	traffic.MetricReferrers: {
		colTopReferrer, colTopReferrerCount, colTopReferrerUniques,
		colTotalReferrerCount, colTotalReferrerUniques, colDistinctReferrers,
	},
	traffic.MetricPaths: {
		colTopPath, colTopPathCount, colTopPathUniques,
		colTotalPathCount, colTotalPathUniques, colDistinctPaths,
		colReadmeViews, colReadmeUniques,
	},
}

// SummaryColumns returns the summary header in write order
func SummaryColumns() []string {
	cols := []string{colDate, colRepository}
	for _, m := range traffic.AllMetrics() {
		cols = append(cols, sectionColumns[m]...)
	}
	return cols
}

// presentColumns returns the columns rec carries values for
func presentColumns(rec *traffic.DailyRecord) []string {
	var cols []string
	for _, m := range traffic.AllMetrics() {
		if rec.Has(m) {
			cols = append(cols, sectionColumns[m]...)
		}
	}
	return cols
}

// recordValues flattens the present sections of rec into column values.
// Text columns hold strings and numeric columns hold ints.
func recordValues(rec *traffic.DailyRecord) map[string]interface{} {
	values := map[string]interface{}{
		colDate:       rec.Date,
		colRepository: rec.Repository,
	}
	if v := rec.Views; v != nil {
		values[colViewsCount] = v.Count
		values[colViewsUniques] = v.Uniques
	}
	if c := rec.Clones; c != nil {
		values[colClonesCount] = c.Count
		values[colClonesUniques] = c.Uniques
	}
	if r := rec.Referrers; r != nil {
		values[colTopReferrer] = r.TopReferrer
		values[colTopReferrerCount] = r.TopReferrerCount
		values[colTopReferrerUniques] = r.TopReferrerUniques
		values[colTotalReferrerCount] = r.TotalCount
		values[colTotalReferrerUniques] = r.TotalUniques
		values[colDistinctReferrers] = r.Distinct
	}
	if p := rec.Paths; p != nil {
		values[colTopPath] = p.TopPath
		values[colTopPathCount] = p.TopPathCount
		values[colTopPathUniques] = p.TopPathUniques
		values[colTotalPathCount] = p.TotalCount
		values[colTotalPathUniques] = p.TotalUniques
		values[colDistinctPaths] = p.Distinct
		values[colReadmeViews] = p.ReadmeViews
		values[colReadmeUniques] = p.ReadmeUniques
	}
	return values
}

// recordFromColumns rebuilds a record from textual column values. A section is present
// when any of its columns is non-empty; its missing numeric columns read as zero.
func recordFromColumns(get func(col string) string) (*traffic.DailyRecord, error) {
	rec := &traffic.DailyRecord{
		Date:       get(colDate),
		Repository: get(colRepository),
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	var parseErr error
	num := func(col string) int {
		s := get(col)
		if s == "" || parseErr != nil {
			return 0
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			parseErr = fmt.Errorf("invalid %s %q for %s: %w", col, s, rec.Key(), err)
		}
		return n
	}
	present := func(m traffic.Metric) bool {
		for _, col := range sectionColumns[m] {
			if get(col) != "" {
				return true
			}
		}
		return false
	}

	if present(traffic.MetricViews) {
		rec.Views = &traffic.CountSummary{Count: num(colViewsCount), Uniques: num(colViewsUniques)}
	}
	if present(traffic.MetricClones) {
		rec.Clones = &traffic.CountSummary{Count: num(colClonesCount), Uniques: num(colClonesUniques)}
	}
	if present(traffic.MetricReferrers) {
		rec.Referrers = &traffic.ReferrerSummary{
			TopReferrer:        get(colTopReferrer),
			TopReferrerCount:   num(colTopReferrerCount),
			TopReferrerUniques: num(colTopReferrerUniques),
			TotalCount:         num(colTotalReferrerCount),
			TotalUniques:       num(colTotalReferrerUniques),
			Distinct:           num(colDistinctReferrers),
		}
	}
	if present(traffic.MetricPaths) {
		rec.Paths = &traffic.PathSummary{
			TopPath:        get(colTopPath),
			TopPathCount:   num(colTopPathCount),
			TopPathUniques: num(colTopPathUniques),
			TotalCount:     num(colTotalPathCount),
			TotalUniques:   num(colTotalPathUniques),
			Distinct:       num(colDistinctPaths),
			ReadmeViews:    num(colReadmeViews),
			ReadmeUniques:  num(colReadmeUniques),
		}
	}

	if parseErr != nil {
		return nil, parseErr
	}
	return rec, nil
}

// upsertRecords applies rec to records column-wise and returns the sorted result
func upsertRecords(records []traffic.DailyRecord, rec *traffic.DailyRecord) []traffic.DailyRecord {
	found := false
	for i := range records {
		if records[i].Key() == rec.Key() {
			records[i].Merge(rec)
			found = true
			break
		}
	}
	if !found {
		row := traffic.DailyRecord{Date: rec.Date, Repository: rec.Repository}
		row.Merge(rec)
		records = append(records, row)
	}
	sortRecords(records)
	return records
}

func sortRecords(records []traffic.DailyRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Less(&records[j])
	})
}
