package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/platinummonkey/traffic-stats/pkg/traffic"
)

const summaryTable = "traffic_summary"

// SQLSummaryStore keeps the summary table in sqlite3 or postgres
type SQLSummaryStore struct {
	db      *sql.DB
	dialect string
}

// OpenSQLSummaryStore opens a database with the given driver and creates the schema
func OpenSQLSummaryStore(ctx context.Context, dialect, dsn string) (*SQLSummaryStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("a DSN is required for the %s backend", dialect)
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if dialect == BackendSQLite {
		// every connection to ":memory:" is a separate database
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", dialect, err)
	}

	store, err := NewSQLSummaryStore(ctx, db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLSummaryStore wraps an open database and creates the schema
func NewSQLSummaryStore(ctx context.Context, db *sql.DB, dialect string) (*SQLSummaryStore, error) {
	if dialect != BackendSQLite && dialect != BackendPostgres {
		return nil, fmt.Errorf("unsupported SQL dialect: %s", dialect)
	}
	s := &SQLSummaryStore{db: db, dialect: dialect}
	if _, err := db.ExecContext(ctx, s.schema()); err != nil {
		return nil, fmt.Errorf("failed to create %s table: %w", summaryTable, err)
	}
	return s, nil
}

func (s *SQLSummaryStore) schema() string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS " + summaryTable + " (\n")
	b.WriteString("\tdate TEXT NOT NULL,\n")
	b.WriteString("\trepository TEXT NOT NULL,\n")
	for _, col := range SummaryColumns()[2:] {
		typ := "INTEGER"
		if isTextColumn(col) {
			typ = "TEXT"
		}
		b.WriteString("\t" + col + " " + typ + ",\n")
	}
	b.WriteString("\tPRIMARY KEY (date, repository)\n)")
	return b.String()
}

func isTextColumn(col string) bool {
	return col == colTopReferrer || col == colTopPath
}

func (s *SQLSummaryStore) placeholder(n int) string {
	if s.dialect == BackendPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Upsert implements SummaryStore.Upsert. Only the columns of present sections are updated.
func (s *SQLSummaryStore) Upsert(ctx context.Context, rec *traffic.DailyRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	values := recordValues(rec)
	cols := append([]string{colDate, colRepository}, presentColumns(rec)...)

	placeholders := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, col := range cols {
		placeholders[i] = s.placeholder(i + 1)
		args[i] = values[col]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (date, repository) ",
		summaryTable, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	updates := make([]string, 0, len(cols)-2)
	for _, col := range cols[2:] {
		updates = append(updates, col+" = excluded."+col)
	}
	if len(updates) == 0 {
		query += "DO NOTHING"
	} else {
		query += "DO UPDATE SET " + strings.Join(updates, ", ")
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert summary %s: %w", rec.Key(), err)
	}
	return nil
}

// Load implements SummaryStore.Load
func (s *SQLSummaryStore) Load(ctx context.Context) ([]traffic.DailyRecord, error) {
	columns := SummaryColumns()
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY date, repository", strings.Join(columns, ", "), summaryTable)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	defer rows.Close()

	var records []traffic.DailyRecord
	for rows.Next() {
		cells := make([]sql.NullString, len(columns))
		dest := make([]interface{}, len(columns))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}

		byName := make(map[string]string, len(columns))
		for i, col := range columns {
			if cells[i].Valid {
				byName[col] = cells[i].String
			}
		}
		rec, err := recordFromColumns(func(col string) string { return byName[col] })
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summary rows: %w", err)
	}
	return records, nil
}

// Close implements SummaryStore.Close
func (s *SQLSummaryStore) Close() error {
	return s.db.Close()
}
