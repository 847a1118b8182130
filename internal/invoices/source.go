package invoices

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	_ "modernc.org/sqlite"
)

// Config holds the connection parameters of the relational data source.
type Config struct {
	Driver   string // "mysql" or "sqlite"
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	// DSN overrides the fields above. For sqlite it is the database path.
	DSN string
}

// DataSourceName returns the driver-specific connection string.
func (c Config) DataSourceName() (string, error) {
	switch c.Driver {
	case "", "mysql":
		if c.DSN != "" {
			return c.DSN, nil
		}
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		mc.DBName = c.Name
		mc.ParseTime = true
		return mc.FormatDSN(), nil
	case "sqlite":
		if c.DSN == "" {
			return "", fmt.Errorf("sqlite invoice source requires a dsn (database path)")
		}
		return c.DSN, nil
	default:
		return "", fmt.Errorf("unsupported invoice driver %q", c.Driver)
	}
}

// Source runs SQL against the invoice database.
type Source struct {
	db *sql.DB
}

// Open connects to the database described by cfg. The connection is verified
// lazily on first query.
func Open(cfg Config) (*Source, error) {
	dsn, err := cfg.DataSourceName()
	if err != nil {
		return nil, err
	}
	driver := cfg.Driver
	if driver == "" {
		driver = "mysql"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s invoice source: %w", driver, err)
	}
	if driver == "sqlite" {
		// Each in-memory connection would otherwise see its own database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	return &Source{db: db}, nil
}

// New wraps an existing *sql.DB.
func New(db *sql.DB) *Source {
	return &Source{db: db}
}

// DB returns the underlying database handle.
func (s *Source) DB() *sql.DB { return s.db }

// Ping verifies the database is reachable.
func (s *Source) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Source) Close() error {
	return s.db.Close()
}

// Query executes query and returns the columns and rows in the order the
// database returned them. Byte slices become strings and times are rendered
// as RFC 3339 so rows serialize cleanly.
func (s *Source) Query(ctx context.Context, query string) (Table, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return Table{}, fmt.Errorf("querying invoices: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Table{}, fmt.Errorf("reading columns: %w", err)
	}

	t := Table{Columns: cols, Rows: []Row{}}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return Table{}, fmt.Errorf("scanning row: %w", err)
		}
		r := make(Row, len(cols))
		for i, c := range cols {
			r[c] = normalize(values[i])
		}
		t.Rows = append(t.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return Table{}, fmt.Errorf("iterating rows: %w", err)
	}
	return t, nil
}

func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return v
	}
}
