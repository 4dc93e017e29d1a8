package query

import "strings"

// FullTextQuery is the parsed form of a $text.$search string (spec §6):
// space-separated terms (OR semantics), double-quoted phrases (exact
// match), and leading-minus terms (NOT).
type FullTextQuery struct {
	Positive []string // OR'd terms and phrases
	Negative []string // NOT terms
}

// ParseFullTextQuery parses MongoDB's $search syntax.
func ParseFullTextQuery(search string) FullTextQuery {
	var q FullTextQuery
	i := 0
	n := len(search)
	for i < n {
		for i < n && search[i] == ' ' {
			i++
		}
		if i >= n {
			break
		}
		negate := false
		if search[i] == '-' {
			negate = true
			i++
		}
		var term string
		if i < n && search[i] == '"' {
			end := strings.IndexByte(search[i+1:], '"')
			if end < 0 {
				term = search[i+1:]
				i = n
			} else {
				term = search[i+1 : i+1+end]
				i = i + 1 + end + 1
			}
		} else {
			start := i
			for i < n && search[i] != ' ' {
				i++
			}
			term = search[start:i]
		}
		if term == "" {
			continue
		}
		if negate {
			q.Negative = append(q.Negative, term)
		} else {
			q.Positive = append(q.Positive, term)
		}
	}
	return q
}

// Compile renders the query through the dialect's full-text boolean
// syntax. Per spec §6, NOT clauses apply "after an optional universal
// match if only negative terms are present" — that fallback is the
// dialect's responsibility since "universal match" syntax is backend
// specific.
func (q FullTextQuery) Compile(d Dialect) (string, error) {
	return d.CompileFullText(q.Positive, q.Negative)
}
