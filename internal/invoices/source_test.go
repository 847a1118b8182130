package invoices

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func openTestSource(t *testing.T, rows int) *Source {
	t.Helper()
	s, err := Open(Config{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	_, err = s.DB().Exec(`CREATE TABLE ap_invoices (
		invoice_no TEXT NOT NULL,
		vendor     TEXT NOT NULL,
		amount     INTEGER NOT NULL,
		status     TEXT NOT NULL,
		date       TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("creating table: %v", err)
	}
	for i := 0; i < rows; i++ {
		_, err := s.DB().Exec(`INSERT INTO ap_invoices VALUES (?, ?, ?, ?, ?)`,
			"INV-"+string(rune('A'+i)), "Acme", 100*(i+1), "paid", "2026-01-0"+string(rune('1'+i)))
		if err != nil {
			t.Fatalf("inserting row: %v", err)
		}
	}
	return s
}

func TestQuery_RecentRowsInOrder(t *testing.T) {
	s := openTestSource(t, 7)
	q, err := RecentQuery(DefaultTable, DefaultLimit)
	if err != nil {
		t.Fatalf("RecentQuery: %v", err)
	}

	got, err := s.Query(context.Background(), q)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	wantCols := []string{"invoice_no", "vendor", "amount", "status", "date"}
	if diff := cmp.Diff(wantCols, got.Columns); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
	if got.Len() != 5 {
		t.Fatalf("got %d rows, want 5", got.Len())
	}
	want := Row{"invoice_no": "INV-G", "vendor": "Acme", "amount": int64(700), "status": "paid", "date": "2026-01-07"}
	if diff := cmp.Diff(want, got.Rows[0]); diff != "" {
		t.Errorf("first row mismatch (-want +got):\n%s", diff)
	}
	for i := 1; i < got.Len(); i++ {
		if got.Rows[i-1]["date"].(string) < got.Rows[i]["date"].(string) {
			t.Errorf("rows %d and %d are not in date descending order", i-1, i)
		}
	}
}

func TestQuery_Empty(t *testing.T) {
	s := openTestSource(t, 0)
	got, err := s.Query(context.Background(), "SELECT * FROM ap_invoices")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got.Len() != 0 {
		t.Errorf("got %d rows, want 0", got.Len())
	}
	if len(got.Columns) != 5 {
		t.Errorf("got %d columns, want 5", len(got.Columns))
	}
}

func TestQuery_Error(t *testing.T) {
	s := openTestSource(t, 0)
	if _, err := s.Query(context.Background(), "SELECT * FROM missing_table"); err == nil {
		t.Fatal("expected error for missing table")
	}
}

func TestRecentQuery(t *testing.T) {
	tests := []struct {
		table   string
		limit   int
		want    string
		wantErr bool
	}{
		{"ap_invoices", 5, "SELECT * FROM ap_invoices ORDER BY date DESC LIMIT 5", false},
		{"finance.ap_invoices", 10, "SELECT * FROM finance.ap_invoices ORDER BY date DESC LIMIT 10", false},
		{"ap_invoices; DROP TABLE x", 5, "", true},
		{"", 5, "", true},
		{"ap_invoices", 0, "", true},
	}
	for _, tt := range tests {
		got, err := RecentQuery(tt.table, tt.limit)
		if (err != nil) != tt.wantErr {
			t.Errorf("RecentQuery(%q, %d) err = %v, wantErr %v", tt.table, tt.limit, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("RecentQuery(%q, %d) = %q, want %q", tt.table, tt.limit, got, tt.want)
		}
	}
}

func TestDataSourceName(t *testing.T) {
	dsn, err := Config{Driver: "mysql", Host: "db.internal", Port: 3306, User: "fin", Password: "s3cret", Name: "erp"}.DataSourceName()
	if err != nil {
		t.Fatalf("DataSourceName: %v", err)
	}
	if !strings.HasPrefix(dsn, "fin:s3cret@tcp(db.internal:3306)/erp") {
		t.Errorf("dsn = %q", dsn)
	}
	if !strings.Contains(dsn, "parseTime=true") {
		t.Errorf("dsn %q does not enable parseTime", dsn)
	}

	if got, _ := (Config{Driver: "mysql", DSN: "raw"}).DataSourceName(); got != "raw" {
		t.Errorf("override dsn = %q, want raw", got)
	}
	if _, err := (Config{Driver: "sqlite"}).DataSourceName(); err == nil {
		t.Error("expected error for sqlite without dsn")
	}
	if _, err := (Config{Driver: "oracle"}).DataSourceName(); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestMarkdown(t *testing.T) {
	tbl := Table{
		Columns: []string{"vendor", "amount", "note"},
		Rows: []Row{
			{"vendor": "Acme", "amount": int64(120), "note": "a|b"},
			{"vendor": "Globex", "amount": 99.5, "note": nil},
		},
	}
	want := "| vendor | amount | note |\n" +
		"| --- | --- | --- |\n" +
		"| Acme | 120 | a\\|b |\n" +
		"| Globex | 99.50 |  |\n"
	if got := tbl.Markdown(); got != want {
		t.Errorf("Markdown mismatch:\n%s", cmp.Diff(want, got))
	}
	if (Table{}).Markdown() != "" {
		t.Error("empty table should render as empty string")
	}
}
