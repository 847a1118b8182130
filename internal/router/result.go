package router

import (
	"encoding/json"
	"fmt"

	"github.com/kalambet/finassist/internal/invoices"
)

// Kind is the tag of a Result.
type Kind string

const (
	KindTable Kind = "table"
	KindText  Kind = "text"
	KindInfo  Kind = "info"
	KindError Kind = "error"
)

// Result is the outcome of routing one query. Exactly one of Table, Text,
// Info or Error is produced per query.
type Result interface {
	Kind() Kind
	result()
}

// Table carries the invoice rows of the data-lookup path and a generated
// summary of them.
type Table struct {
	Columns []string       `json:"columns"`
	Rows    []invoices.Row `json:"rows"`
	Summary string         `json:"summary"`
}

// Text carries the generated answer of the general-knowledge path.
type Text struct {
	Content string `json:"content"`
}

// Info is an advisory outcome such as an empty result set.
type Info struct {
	Content string `json:"content"`
}

// Error describes a failure in a collaborator.
type Error struct {
	Content string `json:"content"`
}

func (Table) Kind() Kind { return KindTable }
func (Text) Kind() Kind  { return KindText }
func (Info) Kind() Kind  { return KindInfo }
func (Error) Kind() Kind { return KindError }

func (Table) result() {}
func (Text) result()  {}
func (Info) result()  {}
func (Error) result() {}

// Markdown renders the rows of t as a Markdown table.
func (t Table) Markdown() string {
	return invoices.Table{Columns: t.Columns, Rows: t.Rows}.Markdown()
}

func (t Table) MarshalJSON() ([]byte, error) {
	type alias Table
	return json.Marshal(struct {
		Type Kind `json:"type"`
		alias
	}{KindTable, alias(t)})
}

func (t Text) MarshalJSON() ([]byte, error)  { return marshalContent(KindText, t.Content) }
func (i Info) MarshalJSON() ([]byte, error)  { return marshalContent(KindInfo, i.Content) }
func (e Error) MarshalJSON() ([]byte, error) { return marshalContent(KindError, e.Content) }

func marshalContent(k Kind, content string) ([]byte, error) {
	return json.Marshal(struct {
		Type    Kind   `json:"type"`
		Content string `json:"content"`
	}{k, content})
}

// Decode parses a Result previously encoded with json.Marshal.
func Decode(data []byte) (Result, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	switch head.Type {
	case KindTable:
		var t Table
		err := json.Unmarshal(data, &t)
		return t, err
	case KindText:
		var t Text
		err := json.Unmarshal(data, &t)
		return t, err
	case KindInfo:
		var i Info
		err := json.Unmarshal(data, &i)
		return i, err
	case KindError:
		var e Error
		err := json.Unmarshal(data, &e)
		return e, err
	default:
		return nil, fmt.Errorf("decoding result: unknown type %q", head.Type)
	}
}

// Content returns the human-readable text of any Result: the summary for a
// table, the content otherwise.
func Content(r Result) string {
	switch v := r.(type) {
	case Table:
		return v.Summary
	case Text:
		return v.Content
	case Info:
		return v.Content
	case Error:
		return v.Content
	}
	return ""
}
