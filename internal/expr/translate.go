package expr

import (
	"fmt"
	"strings"

	"github.com/relaydb/relaydb/internal/mongoerr"
	"github.com/relaydb/relaydb/pkg/document"
)

// Statement is a compiled scalar SQL expression plus its bound parameters.
// Functions carries, in encounter order, the descriptor for every $function
// call folded into the expression; the compiled SQL binds NULL at each of
// those sites rather than any encoded marker (spec §9 "carry placeholder
// descriptors out-of-band... rows never contain magic strings").
type Statement struct {
	SQL       string
	Params    []interface{}
	Functions []FunctionDescriptor
}

// Translate compiles an aggregation value expression to scalar SQL. Field
// references resolve against dialect.Column().
func Translate(value interface{}, d Dialect) (Statement, error) {
	return TranslateWithSource(value, d, d.Column())
}

// TranslateWithSource is Translate generalized to resolve "$path" field
// references against an arbitrary SQL document expression instead of
// dialect.Column(), for use when compiling stages downstream of a CTE.
func TranslateWithSource(value interface{}, d Dialect, source string) (Statement, error) {
	node, err := Parse(value)
	if err != nil {
		return Statement{}, err
	}
	t := &translator{dialect: d, source: source}
	sql, err := t.compile(node)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: sql, Params: t.params, Functions: t.functions}, nil
}

type translator struct {
	dialect   Dialect
	source    string
	params    []interface{}
	functions []FunctionDescriptor
}

func (t *translator) bind(v interface{}) string {
	t.params = append(t.params, v)
	return t.dialect.Placeholder(len(t.params))
}

var arithSymbol = map[ArithOp]string{
	ArithAdd:      "+",
	ArithSubtract: "-",
	ArithMultiply: "*",
	ArithDivide:   "/",
}

var compareSymbol = map[CompareOp]string{
	CmpEq:  "=",
	CmpNe:  "<>",
	CmpGt:  ">",
	CmpGte: ">=",
	CmpLt:  "<",
	CmpLte: "<=",
}

func (t *translator) compile(node Node) (string, error) {
	switch n := node.(type) {
	case FieldRef:
		return t.dialect.JSONExtract(t.source, document.FieldToJSONPath(n.Path)), nil
	case Literal:
		return t.bind(n.Value), nil
	case Arithmetic:
		return t.compileArithmetic(n)
	case StringExpr:
		return t.compileStringExpr(n)
	case Compare:
		left, err := t.compile(n.Left)
		if err != nil {
			return "", err
		}
		right, err := t.compile(n.Right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", left, compareSymbol[n.Op], right), nil
	case Logical:
		return t.compileLogical(n)
	case Cond:
		return t.compileCond(n)
	case IfNull:
		return t.compileIfNull(n)
	case Switch:
		return t.compileSwitch(n)
	case Object:
		return t.compileObject(n)
	case ArrayLit:
		return t.compileArray(n)
	case FunctionCall:
		return t.compileFunctionCall(n)
	default:
		return "", mongoerr.BadValue("unsupported expression node %T", node)
	}
}

func (t *translator) compileArithmetic(n Arithmetic) (string, error) {
	if n.Op == ArithMod {
		if len(n.Args) != 2 {
			return "", mongoerr.BadValue("$mod requires exactly 2 operands")
		}
		a, err := t.compile(n.Args[0])
		if err != nil {
			return "", err
		}
		b, err := t.compile(n.Args[1])
		if err != nil {
			return "", err
		}
		return t.dialect.Mod(a, b), nil
	}
	sym, ok := arithSymbol[n.Op]
	if !ok {
		return "", mongoerr.BadValue("unsupported arithmetic operator")
	}
	acc, err := t.compile(n.Args[0])
	if err != nil {
		return "", err
	}
	for _, arg := range n.Args[1:] {
		next, err := t.compile(arg)
		if err != nil {
			return "", err
		}
		acc = fmt.Sprintf("(%s %s %s)", acc, sym, next)
	}
	return acc, nil
}

func (t *translator) compileStringExpr(n StringExpr) (string, error) {
	switch n.Op {
	case StringConcat:
		parts := make([]string, len(n.Args))
		for i, a := range n.Args {
			s, err := t.compile(a)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return t.dialect.Concat(parts), nil
	case StringSubstr:
		if len(n.Args) != 3 {
			return "", mongoerr.BadValue("$substr requires exactly 3 operands")
		}
		str, err := t.compile(n.Args[0])
		if err != nil {
			return "", err
		}
		start, err := t.compile(n.Args[1])
		if err != nil {
			return "", err
		}
		length, err := t.compile(n.Args[2])
		if err != nil {
			return "", err
		}
		return t.dialect.Substr(str, start, length), nil
	case StringToLower:
		s, err := t.compile(n.Args[0])
		if err != nil {
			return "", err
		}
		return t.dialect.ToLower(s), nil
	case StringToUpper:
		s, err := t.compile(n.Args[0])
		if err != nil {
			return "", err
		}
		return t.dialect.ToUpper(s), nil
	default:
		return "", mongoerr.BadValue("unsupported string operator")
	}
}

func (t *translator) compileLogical(n Logical) (string, error) {
	if n.Op == LogicalNot {
		if len(n.Args) != 1 {
			return "", mongoerr.BadValue("$not requires exactly 1 operand")
		}
		s, err := t.compile(n.Args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("NOT (%s)", s), nil
	}
	joiner := " AND "
	if n.Op == LogicalOr {
		joiner = " OR "
	}
	parts := make([]string, len(n.Args))
	for i, a := range n.Args {
		s, err := t.compile(a)
		if err != nil {
			return "", err
		}
		parts[i] = "(" + s + ")"
	}
	return strings.Join(parts, joiner), nil
}

func (t *translator) compileCond(n Cond) (string, error) {
	ifSQL, err := t.compile(n.If)
	if err != nil {
		return "", err
	}
	thenSQL, err := t.compile(n.Then)
	if err != nil {
		return "", err
	}
	elseSQL, err := t.compile(n.Else)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CASE WHEN %s THEN %s ELSE %s END", ifSQL, thenSQL, elseSQL), nil
}

func (t *translator) compileIfNull(n IfNull) (string, error) {
	parts := make([]string, len(n.Args))
	for i, a := range n.Args {
		s, err := t.compile(a)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return fmt.Sprintf("COALESCE(%s)", strings.Join(parts, ", ")), nil
}

func (t *translator) compileSwitch(n Switch) (string, error) {
	var b strings.Builder
	b.WriteString("CASE")
	for _, branch := range n.Branches {
		caseSQL, err := t.compile(branch.Case)
		if err != nil {
			return "", err
		}
		thenSQL, err := t.compile(branch.Then)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, " WHEN %s THEN %s", caseSQL, thenSQL)
	}
	if n.Default != nil {
		defSQL, err := t.compile(n.Default)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, " ELSE %s", defSQL)
	} else {
		b.WriteString(" ELSE NULL")
	}
	b.WriteString(" END")
	return b.String(), nil
}

func (t *translator) compileObject(n Object) (string, error) {
	pairs := make([]string, 0, len(n.Keys)*2)
	for i, key := range n.Keys {
		valSQL, err := t.compile(n.Values[i])
		if err != nil {
			return "", err
		}
		pairs = append(pairs, t.bind(key), valSQL)
	}
	return t.dialect.JSONObject(pairs), nil
}

func (t *translator) compileArray(n ArrayLit) (string, error) {
	items := make([]string, len(n.Items))
	for i, item := range n.Items {
		s, err := t.compile(item)
		if err != nil {
			return "", err
		}
		items[i] = s
	}
	return t.dialect.JSONArray(items), nil
}

// compileFunctionCall records a $function call's descriptor out-of-band in
// t.functions (spec §9) and binds NULL in its place: the executor (C7)
// consumes Statement.Functions directly rather than scanning decoded rows
// for an encoded marker. Field reference arguments are recorded by path so
// the executor can re-extract them per row; literal arguments are captured
// by value and position.
func (t *translator) compileFunctionCall(n FunctionCall) (string, error) {
	desc := FunctionDescriptor{
		Body:        n.Body,
		FieldArgs:   make([]string, len(n.Args)),
		LiteralArgs: make(map[int]interface{}),
		ArgOrder:    make([]int, len(n.Args)),
	}
	for i, arg := range n.Args {
		desc.ArgOrder[i] = i
		switch a := arg.(type) {
		case FieldRef:
			desc.FieldArgs[i] = a.Path
		case Literal:
			desc.LiteralArgs[i] = a.Value
		default:
			return "", mongoerr.BadValue("$function arguments must be field references or literals")
		}
	}
	if len(desc.LiteralArgs) == 0 {
		desc.LiteralArgs = nil
	}
	t.functions = append(t.functions, desc)
	return t.bind(nil), nil
}
