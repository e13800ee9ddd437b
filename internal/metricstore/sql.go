package metricstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"

	"predixaai-anomaly/internal/anomaly"
)

type dialect struct {
	name        string
	driver      string
	quote       func(string) string
	maxSegments int
	placeholder func(n int) string
	// limitOne wraps a single-row SELECT; body starts after SELECT.
	limitOne func(body string) string
}

var dialects = map[string]dialect{
	"postgres": {
		name:        "postgres",
		driver:      "postgres",
		quote:       func(s string) string { return `"` + s + `"` },
		maxSegments: 2,
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		limitOne:    func(body string) string { return "SELECT " + body + " LIMIT 1" },
	},
	"mysql": {
		name:        "mysql",
		driver:      "mysql",
		quote:       func(s string) string { return "`" + s + "`" },
		maxSegments: 2,
		placeholder: func(int) string { return "?" },
		limitOne:    func(body string) string { return "SELECT " + body + " LIMIT 1" },
	},
	"mssql": {
		name:        "mssql",
		driver:      "sqlserver",
		quote:       func(s string) string { return "[" + s + "]" },
		maxSegments: 2,
		placeholder: func(n int) string { return fmt.Sprintf("@p%d", n) },
		limitOne:    func(body string) string { return "SELECT TOP 1 " + body },
	},
}

func dialectFor(dbType string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "postgres", "postgresql":
		return dialects["postgres"], nil
	case "mysql":
		return dialects["mysql"], nil
	case "mssql", "sqlserver":
		return dialects["mssql"], nil
	default:
		return dialect{}, fmt.Errorf("unsupported database type %q", dbType)
	}
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

func splitIdentifier(ident string) ([]string, error) {
	trimmed := strings.TrimSpace(ident)
	if trimmed == "" {
		return nil, errors.New("identifier is empty")
	}
	parts := strings.Split(trimmed, ".")
	for _, part := range parts {
		if part == "" {
			return nil, errors.New("identifier contains empty segment")
		}
		if !identPattern.MatchString(part) {
			return nil, fmt.Errorf("identifier segment %q is invalid", part)
		}
	}
	return parts, nil
}

func quoteQualified(ident string, maxSegments int, quote func(string) string) (string, error) {
	parts, err := splitIdentifier(ident)
	if err != nil {
		return "", err
	}
	if maxSegments > 0 && len(parts) > maxSegments {
		return "", fmt.Errorf("identifier %q has too many segments", ident)
	}
	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = quote(part)
	}
	return strings.Join(quoted, "."), nil
}

func quoteColumn(name string, quote func(string) string) (string, error) {
	parts, err := splitIdentifier(name)
	if err != nil || len(parts) != 1 {
		return "", fmt.Errorf("invalid column name %q", name)
	}
	return quote(name), nil
}

// sampleQueries holds the three statements the store issues against a
// narrow (metric, timestamp, value) table.
type sampleQueries struct {
	latest       string
	latestBefore string
	window       string
}

func buildQueries(d dialect, table TableConfig, maxRows int) (sampleQueries, error) {
	tbl, err := quoteQualified(table.Name, d.maxSegments, d.quote)
	if err != nil {
		return sampleQueries{}, fmt.Errorf("invalid %s table: %w", d.name, err)
	}
	cols := make([]string, 3)
	for i, c := range []string{table.MetricColumn, table.TimestampColumn, table.ValueColumn} {
		if cols[i], err = quoteColumn(c, d.quote); err != nil {
			return sampleQueries{}, fmt.Errorf("invalid %s column: %w", d.name, err)
		}
	}
	metricCol, tsCol, valueCol := cols[0], cols[1], cols[2]
	sel := fmt.Sprintf("%s, %s FROM %s WHERE %s = %s", tsCol, valueCol, tbl, metricCol, d.placeholder(1))

	q := sampleQueries{
		latest:       d.limitOne(sel + fmt.Sprintf(" ORDER BY %s DESC", tsCol)),
		latestBefore: d.limitOne(sel + fmt.Sprintf(" AND %s <= %s ORDER BY %s DESC", tsCol, d.placeholder(2), tsCol)),
	}
	// Newest first so a row cap drops the oldest samples; the store
	// restores ascending order after the scan.
	windowBody := sel + fmt.Sprintf(" AND %s >= %s AND %s <= %s ORDER BY %s DESC", tsCol, d.placeholder(2), tsCol, d.placeholder(3), tsCol)
	if maxRows > 0 {
		if d.name == "mssql" {
			q.window = fmt.Sprintf("SELECT TOP %d %s", maxRows, windowBody)
		} else {
			q.window = fmt.Sprintf("SELECT %s LIMIT %d", windowBody, maxRows)
		}
	} else {
		q.window = "SELECT " + windowBody
	}
	return q, nil
}

func buildDSN(d dialect, cfg SourceConfig) string {
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	switch d.name {
	case "mysql":
		port := cfg.portOr(3306)
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", cfg.User, cfg.Password, cfg.Host, port, cfg.Database)
		if sslMode == "disable" {
			dsn += "&tls=false"
		} else if sslMode != "" {
			dsn += "&tls=true"
		}
		return dsn
	case "mssql":
		encrypt := "true"
		if sslMode == "disable" {
			encrypt = "disable"
		}
		return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s", url.QueryEscape(cfg.User), url.QueryEscape(cfg.Password), cfg.Host, cfg.portOr(1433), url.QueryEscape(cfg.Database), encrypt)
	default:
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", cfg.Host, cfg.portOr(5432), cfg.User, cfg.Password, cfg.Database, sslMode)
	}
}

// SQLStore reads samples from a relational table through database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	queries sampleQueries
	timeout time.Duration
	maxRows int
	logger  *slog.Logger
}

func NewSQLStore(cfg SourceConfig) (*SQLStore, error) {
	d, err := dialectFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	queries, err := buildQueries(d, cfg.Table, cfg.MaxRows)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driver, buildDSN(d, cfg))
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", d.name, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{db: db, dialect: d, queries: queries, timeout: cfg.QueryTimeout, maxRows: cfg.MaxRows, logger: logger}, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", s.dialect.name, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *SQLStore) LatestSample(ctx context.Context, metric string) (anomaly.MetricSample, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	sample, err := s.queryOne(ctx, metric, s.queries.latest, metric)
	if err != nil {
		return anomaly.MetricSample{}, unavailable("latest sample", err)
	}
	return sample, nil
}

func (s *SQLStore) LatestSampleBefore(ctx context.Context, metric string, at time.Time) (anomaly.MetricSample, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	sample, err := s.queryOne(ctx, metric, s.queries.latestBefore, metric, at.UTC())
	if err != nil {
		return anomaly.MetricSample{}, unavailable("latest sample before", err)
	}
	return sample, nil
}

func (s *SQLStore) HistoricalWindow(ctx context.Context, metric string, from, to time.Time) ([]anomaly.MetricSample, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, s.queries.window, metric, from.UTC(), to.UTC())
	if err != nil {
		return nil, unavailable("historical window", err)
	}
	defer rows.Close()
	out := []anomaly.MetricSample{}
	scanned := 0
	for rows.Next() {
		scanned++
		var ts, value any
		if err := rows.Scan(&ts, &value); err != nil {
			return nil, unavailable("scan window row", err)
		}
		f, at, err := sampleFields(value, ts)
		if err != nil {
			continue
		}
		out = append(out, anomaly.MetricSample{MetricName: metric, Timestamp: at, Value: f})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate window rows", err)
	}
	if s.maxRows > 0 && scanned >= s.maxRows {
		s.logger.Warn("historical window truncated to newest rows",
			slog.String("metric", metric),
			slog.Int("max_rows", s.maxRows),
			slog.Time("from", from),
			slog.Time("to", to),
		)
	}
	slices.Reverse(out)
	return out, nil
}

func (s *SQLStore) queryOne(ctx context.Context, metric, query string, args ...any) (anomaly.MetricSample, error) {
	var ts, value any
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&ts, &value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return anomaly.MetricSample{}, ErrNoData
		}
		return anomaly.MetricSample{}, err
	}
	f, at, err := sampleFields(value, ts)
	if err != nil {
		return anomaly.MetricSample{}, err
	}
	return anomaly.MetricSample{MetricName: metric, Timestamp: at, Value: f}, nil
}
