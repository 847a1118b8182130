package intent

import (
	"strings"
	"unicode"
)

// Route is the retrieval strategy chosen for a question.
type Route int

const (
	// RouteGeneral answers from the document index and the model's own knowledge.
	RouteGeneral Route = iota
	// RouteData answers from the invoice table.
	RouteData
)

func (r Route) String() string {
	switch r {
	case RouteData:
		return "data"
	default:
		return "general"
	}
}

// wordSignals are single tokens that mark a request for invoice rows.
var wordSignals = map[string]bool{
	"invoice":  true,
	"invoices": true,
	"paid":     true,
	"unpaid":   true,
	"overdue":  true,
	"payable":  true,
	"payables": true,
	"vendor":   true,
	"vendors":  true,
	"list":     true,
}

// phraseSignals are token sequences that mark a request for invoice rows.
var phraseSignals = [][]string{
	{"show", "all"},
	{"accounts", "payable"},
}

// Classify maps a question to a Route. Any table-intent signal selects
// RouteData; everything else, including empty input, selects RouteGeneral.
// Matching is on whole tokens, so "listen" does not match "list".
func Classify(query string) Route {
	if len(Signals(query)) > 0 {
		return RouteData
	}
	return RouteGeneral
}

// Signals returns the table-intent signals found in query, in order of
// appearance. Phrases are reported joined by a single space.
func Signals(query string) []string {
	tokens := Tokenize(query)
	var found []string
	for i, tok := range tokens {
		if wordSignals[tok] {
			found = append(found, tok)
		}
		for _, phrase := range phraseSignals {
			if hasPhraseAt(tokens, i, phrase) {
				found = append(found, strings.Join(phrase, " "))
			}
		}
	}
	return found
}

// Tokenize lowercases s and splits it on every rune that is not a letter or digit.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hasPhraseAt(tokens []string, i int, phrase []string) bool {
	if i+len(phrase) > len(tokens) {
		return false
	}
	for j, p := range phrase {
		if tokens[i+j] != p {
			return false
		}
	}
	return true
}
