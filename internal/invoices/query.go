package invoices

import (
	"fmt"
	"regexp"
)

const (
	DefaultTable = "ap_invoices"
	DefaultLimit = 5
)

// identifier matches a plain or schema-qualified table name.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// RecentQuery returns the fixed data-lookup statement: the most recent limit
// rows of table ordered by date descending. The table name is interpolated,
// so it must be a plain identifier.
func RecentQuery(table string, limit int) (string, error) {
	if !identifier.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	if limit <= 0 {
		return "", fmt.Errorf("invalid row limit %d", limit)
	}
	return fmt.Sprintf("SELECT * FROM %s ORDER BY date DESC LIMIT %d", table, limit), nil
}
