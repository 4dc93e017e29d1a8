package query

import (
	"fmt"
	"strings"

	"github.com/relaydb/relaydb/internal/mongoerr"
	"github.com/relaydb/relaydb/pkg/document"
)

// Statement is the compiled output of the query translator (spec §3
// "Compiled Statement"): SQL text, bound parameters, and optionally an FTS
// table reference when the filter used $text/$search.
type Statement struct {
	SQL      string
	Params   []interface{}
	FTSTable string
	usesFTS  bool
}

// UsesFullText reports whether the compiled statement references a
// full-text index table.
func (s Statement) UsesFullText() bool { return s.usesFTS }

// Translate compiles filter into a Statement. An empty filter yields "TRUE"
// and no params (spec §4.1). The generated SQL resolves field paths against
// the backend's document column, i.e. dialect.Column().
func Translate(filter document.M, namespace string, d Dialect) (Statement, error) {
	return TranslateWithSource(filter, namespace, d, d.Column())
}

// TranslateWithSource is Translate generalized to resolve field paths
// against an arbitrary SQL expression instead of dialect.Column(). The
// aggregation translator (C5) uses this to compile a $match against the
// document expression produced by an upstream pipeline stage rather than
// the physical table column.
func TranslateWithSource(filter document.M, namespace string, d Dialect, source string) (Statement, error) {
	node, err := Parse(filter)
	if err != nil {
		return Statement{}, err
	}
	tr := &translator{dialect: d, namespace: namespace}
	sql, err := tr.translate(node, source)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: sql, Params: tr.params, FTSTable: tr.ftsTable, usesFTS: tr.ftsTable != ""}, nil
}

type translator struct {
	dialect   Dialect
	namespace string
	params    []interface{}
	ftsTable  string
}

func (t *translator) bind(v interface{}) string {
	t.params = append(t.params, v)
	return t.dialect.Placeholder(len(t.params))
}

// translate compiles node to a boolean SQL expression. source is the JSON
// document expression the node's field paths are resolved against: the
// collection's document column at the top level, or the current array
// element's value expression inside a $elemMatch scope.
func (t *translator) translate(node Node, source string) (string, error) {
	switch n := node.(type) {
	case True:
		return "TRUE", nil
	case False:
		return "FALSE", nil
	case And:
		return t.translateConjunction(n.Children, source, " AND ")
	case Or:
		return t.translateConjunction(n.Children, source, " OR ")
	case Nor:
		inner, err := t.translateConjunction(n.Children, source, " OR ")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("NOT (%s)", inner), nil
	case Not:
		inner, err := t.translate(n.Sub, source)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("NOT (%s)", inner), nil
	case Compare:
		return t.translateCompare(n, source)
	case Exists:
		return t.translateExists(n, source), nil
	case TypeCheck:
		return t.translateTypeCheck(n, source)
	case Size:
		expand := t.dialect.ArrayExpand(source, document.FieldToJSONPath(n.Path))
		return fmt.Sprintf("(SELECT COUNT(*) FROM %s) = %s", expand, t.bind(n.Count)), nil
	case All:
		return t.translateAll(n, source)
	case ElemMatch:
		return t.translateElemMatch(n, source)
	case Text:
		return t.translateText(n)
	default:
		return "", mongoerr.BadValue("unsupported filter node %T", node)
	}
}

func (t *translator) translateConjunction(children []Node, source, joiner string) (string, error) {
	if len(children) == 0 {
		if joiner == " AND " {
			return "TRUE", nil
		}
		return "FALSE", nil
	}
	parts := make([]string, 0, len(children))
	for _, c := range children {
		s, err := t.translate(c, source)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+s+")")
	}
	return strings.Join(parts, joiner), nil
}

func (t *translator) translateCompare(n Compare, source string) (string, error) {
	extract := t.dialect.JSONExtract(source, document.FieldToJSONPath(n.Path))

	switch n.Op {
	case OpEq:
		if n.Value == nil {
			return extract + " IS NULL", nil
		}
		return fmt.Sprintf("%s = %s", extract, t.bind(coerce(n.Value))), nil
	case OpNe:
		if n.Value == nil {
			return extract + " IS NOT NULL", nil
		}
		return t.dialect.NotEqual(extract, t.bind(coerce(n.Value))), nil
	case OpGt:
		return fmt.Sprintf("%s > %s", extract, t.bind(coerce(n.Value))), nil
	case OpGte:
		return fmt.Sprintf("%s >= %s", extract, t.bind(coerce(n.Value))), nil
	case OpLt:
		return fmt.Sprintf("%s < %s", extract, t.bind(coerce(n.Value))), nil
	case OpLte:
		return fmt.Sprintf("%s <= %s", extract, t.bind(coerce(n.Value))), nil
	case OpIn:
		if len(n.Values) == 0 {
			// spec §8: "$in: [] matches nothing".
			return "FALSE", nil
		}
		return fmt.Sprintf("%s IN (%s)", extract, t.bindList(n.Values)), nil
	case OpNin:
		if len(n.Values) == 0 {
			// spec §8: "$nin: [] matches everything".
			return "TRUE", nil
		}
		return fmt.Sprintf("(%s IS NULL OR %s NOT IN (%s))", extract, extract, t.bindList(n.Values)), nil
	default:
		return "", mongoerr.BadValue("unsupported comparison operator")
	}
}

func (t *translator) bindList(values []interface{}) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = t.bind(coerce(v))
	}
	return strings.Join(placeholders, ", ")
}

// coerce applies spec §4.1's "booleans are coerced to 0/1" rule.
func coerce(v interface{}) interface{} {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

func (t *translator) translateExists(n Exists, source string) string {
	extract := t.dialect.JSONExtract(source, document.FieldToJSONPath(n.Path))
	if n.Value {
		return extract + " IS NOT NULL"
	}
	return extract + " IS NULL"
}

func (t *translator) translateTypeCheck(n TypeCheck, source string) (string, error) {
	tags := t.dialect.MongoTypeTag(n.MongoType)
	if len(tags) == 0 {
		return "", mongoerr.BadValue("unrecognized $type alias %q", n.MongoType)
	}
	typeExpr := t.dialect.JSONType(source, document.FieldToJSONPath(n.Path))
	parts := make([]string, len(tags))
	for i, tag := range tags {
		parts[i] = fmt.Sprintf("%s = %s", typeExpr, t.bind(tag))
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

func (t *translator) translateAll(n All, source string) (string, error) {
	if len(n.Values) == 0 {
		// An empty $all matches nothing, symmetric with $in: [].
		return "FALSE", nil
	}
	expand := t.dialect.ArrayExpand(source, document.FieldToJSONPath(n.Path))
	parts := make([]string, len(n.Values))
	for i, v := range n.Values {
		parts[i] = fmt.Sprintf("EXISTS (SELECT 1 FROM %s WHERE value = %s)", expand, t.bind(coerce(v)))
	}
	return strings.Join(parts, " AND "), nil
}

func (t *translator) translateElemMatch(n ElemMatch, source string) (string, error) {
	expand := t.dialect.ArrayExpand(source, document.FieldToJSONPath(n.Path))
	inner, err := t.translate(n.Sub, "value")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("EXISTS (SELECT 1 FROM %s WHERE %s)", expand, inner), nil
}

func (t *translator) translateText(n Text) (string, error) {
	table := t.dialect.FTSTable(t.namespace)
	t.ftsTable = table
	query := ParseFullTextQuery(n.Search)
	matchExpr, err := query.Compile(t.dialect)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s MATCH %s", table, matchExpr), nil
}
