package metricstore

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func defaultTable(name string) TableConfig {
	return TableConfig{Name: name, MetricColumn: "metric_name", TimestampColumn: "ts", ValueColumn: "value"}
}

func TestQuoteQualified(t *testing.T) {
	quoted, err := quoteQualified("public.metric_samples", 2, func(s string) string { return "\"" + s + "\"" })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quoted != "\"public\".\"metric_samples\"" {
		t.Fatalf("unexpected quoted value: %s", quoted)
	}
	if _, err := quoteQualified("a.b.c", 2, func(s string) string { return s }); err == nil {
		t.Fatalf("expected error for too many segments")
	}
	if _, err := quoteQualified("samples; DROP TABLE x", 2, func(s string) string { return s }); err == nil {
		t.Fatalf("expected error for invalid identifier")
	}
}

func TestBuildQueriesPostgres(t *testing.T) {
	q, err := buildQueries(dialects["postgres"], defaultTable("public.metric_samples"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `SELECT "ts", "value" FROM "public"."metric_samples" WHERE "metric_name" = $1 ORDER BY "ts" DESC LIMIT 1`
	if q.latest != want {
		t.Fatalf("unexpected latest query:\n%s\n%s", q.latest, want)
	}
	if !strings.Contains(q.window, `"ts" >= $2 AND "ts" <= $3 ORDER BY "ts" DESC`) || strings.Contains(q.window, "LIMIT") {
		t.Fatalf("unexpected window query: %s", q.window)
	}
}

func TestBuildQueriesMySQL(t *testing.T) {
	q, err := buildQueries(dialects["mysql"], defaultTable("metric_samples"), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "SELECT `ts`, `value` FROM `metric_samples` WHERE `metric_name` = ? AND `ts` >= ? AND `ts` <= ? ORDER BY `ts` DESC LIMIT 100"
	if q.window != want {
		t.Fatalf("unexpected window query:\n%s\n%s", q.window, want)
	}
}

func TestBuildQueriesMSSQL(t *testing.T) {
	q, err := buildQueries(dialects["mssql"], defaultTable("dbo.metric_samples"), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "SELECT TOP 1 [ts], [value] FROM [dbo].[metric_samples] WHERE [metric_name] = @p1 AND [ts] <= @p2 ORDER BY [ts] DESC"
	if q.latestBefore != want {
		t.Fatalf("unexpected latest-before query:\n%s\n%s", q.latestBefore, want)
	}
	if !strings.HasPrefix(q.window, "SELECT TOP 50 [ts]") || !strings.HasSuffix(q.window, "ORDER BY [ts] DESC") {
		t.Fatalf("unexpected window query: %s", q.window)
	}
}

func TestBuildQueriesRejectsBadColumn(t *testing.T) {
	table := defaultTable("metric_samples")
	table.ValueColumn = "value, secret"
	if _, err := buildQueries(dialects["postgres"], table, 0); err == nil {
		t.Fatalf("expected invalid column error")
	}
}

func TestDialectFor(t *testing.T) {
	for in, want := range map[string]string{"postgresql": "postgres", "MySQL": "mysql", "sqlserver": "mssql"} {
		d, err := dialectFor(in)
		if err != nil || d.name != want {
			t.Fatalf("%s: got %q %v", in, d.name, err)
		}
	}
	if _, err := dialectFor("oracle"); err == nil {
		t.Fatalf("expected unsupported type error")
	}
}

func TestBuildDSN(t *testing.T) {
	cfg := SourceConfig{Host: "db", User: "u", Password: "p@ss", Database: "metrics", SSLMode: "disable"}
	if got := buildDSN(dialects["mysql"], cfg); got != "u:p@ss@tcp(db:3306)/metrics?parseTime=true&tls=false" {
		t.Fatalf("unexpected mysql dsn %s", got)
	}
	if got := buildDSN(dialects["mssql"], cfg); got != "sqlserver://u:p%40ss@db:1433?database=metrics&encrypt=disable" {
		t.Fatalf("unexpected mssql dsn %s", got)
	}
	if got := buildDSN(dialects["postgres"], cfg); !strings.Contains(got, "port=5432") || !strings.Contains(got, "sslmode=disable") {
		t.Fatalf("unexpected postgres dsn %s", got)
	}
}

func TestHistoricalWindowKeepsNewestRowsWhenCapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	queries, err := buildQueries(dialects["postgres"], defaultTable("metric_samples"), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store := &SQLStore{
		db:      db,
		dialect: dialects["postgres"],
		queries: queries,
		maxRows: 3,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	from, to := base.Add(-time.Hour), base
	rows := sqlmock.NewRows([]string{"ts", "value"}).
		AddRow(base, 3.0).
		AddRow(base.Add(-time.Minute), 2.0).
		AddRow(base.Add(-2*time.Minute), 1.0)
	mock.ExpectQuery(regexp.QuoteMeta(queries.window)).
		WithArgs("cpu", from, to).
		WillReturnRows(rows)

	got, err := store.HistoricalWindow(context.Background(), "cpu", from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	for i, want := range []float64{1, 2, 3} {
		if got[i].Value != want {
			t.Fatalf("sample %d: expected %v, got %v", i, want, got[i].Value)
		}
	}
	if !got[2].Timestamp.Equal(base) {
		t.Fatalf("expected newest sample last, got %v", got[2].Timestamp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
