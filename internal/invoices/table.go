package invoices

import (
	"fmt"
	"strings"
	"time"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Table is a query result: the column names in source order and the rows in
// the order the database returned them.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// Markdown renders the table as a GitHub-flavoured Markdown table. It is the
// serialization handed to the answer generator and printed by the CLI.
func (t Table) Markdown() string {
	if len(t.Columns) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("|")
	for _, c := range t.Columns {
		sb.WriteString(" " + escapeCell(c) + " |")
	}
	sb.WriteString("\n|")
	for range t.Columns {
		sb.WriteString(" --- |")
	}
	sb.WriteString("\n")
	for _, r := range t.Rows {
		sb.WriteString("|")
		for _, c := range t.Columns {
			sb.WriteString(" " + escapeCell(FormatValue(r[c])) + " |")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatValue renders a single cell value as text.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case float64:
		return fmt.Sprintf("%.2f", x)
	default:
		return fmt.Sprint(x)
	}
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
