package expr

import (
	"strings"

	"github.com/relaydb/relaydb/internal/mongoerr"
	"github.com/relaydb/relaydb/pkg/document"
)

// Parse turns an aggregation expression value into a Node tree. expr is one
// of: a "$path" string, a "$$var" string (rejected, let-bindings are out of
// scope), a literal scalar, an operator document (single $-prefixed key), or
// a plain document (built into an Object).
func Parse(value interface{}) (Node, error) {
	switch v := value.(type) {
	case string:
		if strings.HasPrefix(v, "$$") {
			return nil, mongoerr.BadValue("let-bindings (%q) are not supported by the expression translator", v)
		}
		if strings.HasPrefix(v, "$") {
			return FieldRef{Path: v[1:]}, nil
		}
		return Literal{Value: v}, nil
	case document.M:
		return parseDocument(v)
	case map[string]interface{}:
		return parseDocument(document.M(v))
	case document.Document:
		return parseDocument(document.ToMap(v))
	case document.A:
		return parseArray([]interface{}(v))
	case []interface{}:
		return parseArray(v)
	default:
		return Literal{Value: value}, nil
	}
}

func parseArray(items []interface{}) (Node, error) {
	nodes := make([]Node, 0, len(items))
	for _, item := range items {
		n, err := Parse(item)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return ArrayLit{Items: nodes}, nil
}

func parseDocument(m document.M) (Node, error) {
	if len(m) == 1 {
		for key, val := range m {
			if strings.HasPrefix(key, "$") {
				return parseOperator(key, val)
			}
		}
	}
	if !document.IsOperatorDocument(m) {
		return parseObjectLiteral(m)
	}
	// A multi-key document whose keys are all operators is ambiguous
	// (MongoDB itself only allows one operator per document); fail rather
	// than guess which one wins.
	for key := range m {
		return nil, mongoerr.BadValue("expression document has multiple operator keys, starting with %q", key)
	}
	return nil, mongoerr.BadValue("empty operator document")
}

func parseObjectLiteral(m document.M) (Node, error) {
	obj := Object{Keys: make([]string, 0, len(m)), Values: make([]Node, 0, len(m))}
	for key, val := range m {
		n, err := Parse(val)
		if err != nil {
			return nil, err
		}
		obj.Keys = append(obj.Keys, key)
		obj.Values = append(obj.Values, n)
	}
	return obj, nil
}

func parseOperator(op string, value interface{}) (Node, error) {
	switch op {
	case "$add":
		return parseArith(ArithAdd, value)
	case "$subtract":
		return parseArith(ArithSubtract, value)
	case "$multiply":
		return parseArith(ArithMultiply, value)
	case "$divide":
		return parseArith(ArithDivide, value)
	case "$mod":
		return parseArith(ArithMod, value)

	case "$concat":
		return parseStringOp(StringConcat, value)
	case "$substr", "$substrBytes", "$substrCP":
		return parseStringOp(StringSubstr, value)
	case "$toLower":
		return parseUnaryStringOp(StringToLower, value)
	case "$toUpper":
		return parseUnaryStringOp(StringToUpper, value)

	case "$eq":
		return parseCompare(CmpEq, value)
	case "$ne":
		return parseCompare(CmpNe, value)
	case "$gt":
		return parseCompare(CmpGt, value)
	case "$gte":
		return parseCompare(CmpGte, value)
	case "$lt":
		return parseCompare(CmpLt, value)
	case "$lte":
		return parseCompare(CmpLte, value)

	case "$and":
		return parseLogical(LogicalAnd, value)
	case "$or":
		return parseLogical(LogicalOr, value)
	case "$not":
		return parseLogical(LogicalNot, value)

	case "$cond":
		return parseCond(value)
	case "$ifNull":
		return parseIfNull(value)
	case "$switch":
		return parseSwitch(value)

	case "$function":
		return parseFunction(value)

	default:
		return nil, mongoerr.BadValue("unrecognized expression operator %q", op)
	}
}

func parseArith(op ArithOp, value interface{}) (Node, error) {
	items, err := asOperands(value)
	if err != nil {
		return nil, err
	}
	if len(items) < 2 {
		return nil, mongoerr.BadValue("arithmetic operator requires at least 2 operands")
	}
	return Arithmetic{Op: op, Args: items}, nil
}

func parseStringOp(op StringOp, value interface{}) (Node, error) {
	items, err := asOperands(value)
	if err != nil {
		return nil, err
	}
	return StringExpr{Op: op, Args: items}, nil
}

func parseUnaryStringOp(op StringOp, value interface{}) (Node, error) {
	n, err := Parse(value)
	if err != nil {
		return nil, err
	}
	return StringExpr{Op: op, Args: []Node{n}}, nil
}

func parseCompare(op CompareOp, value interface{}) (Node, error) {
	items, err := asOperands(value)
	if err != nil {
		return nil, err
	}
	if len(items) != 2 {
		return nil, mongoerr.BadValue("comparison operator requires exactly 2 operands")
	}
	return Compare{Op: op, Left: items[0], Right: items[1]}, nil
}

func parseLogical(op LogicalOp, value interface{}) (Node, error) {
	items, err := asOperands(value)
	if err != nil {
		return nil, err
	}
	return Logical{Op: op, Args: items}, nil
}

func parseCond(value interface{}) (Node, error) {
	m, ok := value.(document.M)
	if ok {
		ifN, err := requireKey(m, "if")
		if err != nil {
			return nil, err
		}
		thenN, err := requireKey(m, "then")
		if err != nil {
			return nil, err
		}
		elseN, err := requireKey(m, "else")
		if err != nil {
			return nil, err
		}
		return Cond{If: ifN, Then: thenN, Else: elseN}, nil
	}
	items, err := asOperands(value)
	if err != nil {
		return nil, err
	}
	if len(items) != 3 {
		return nil, mongoerr.BadValue("$cond expects 3 operands or an if/then/else document")
	}
	return Cond{If: items[0], Then: items[1], Else: items[2]}, nil
}

func requireKey(m document.M, key string) (Node, error) {
	v, ok := m[key]
	if !ok {
		return nil, mongoerr.BadValue("$cond is missing %q", key)
	}
	return Parse(v)
}

func parseIfNull(value interface{}) (Node, error) {
	items, err := asOperands(value)
	if err != nil {
		return nil, err
	}
	if len(items) < 2 {
		return nil, mongoerr.BadValue("$ifNull requires at least 2 operands")
	}
	return IfNull{Args: items}, nil
}

func parseSwitch(value interface{}) (Node, error) {
	m, ok := value.(document.M)
	if !ok {
		return nil, mongoerr.BadValue("$switch expects a document")
	}
	branchesRaw, ok := m["branches"]
	if !ok {
		return nil, mongoerr.BadValue("$switch requires a branches array")
	}
	arr, err := asArray(branchesRaw)
	if err != nil {
		return nil, err
	}
	sw := Switch{Branches: make([]SwitchCase, 0, len(arr))}
	for _, item := range arr {
		bm, ok := item.(document.M)
		if !ok {
			return nil, mongoerr.BadValue("$switch branch must be a document")
		}
		caseN, err := requireKey(bm, "case")
		if err != nil {
			return nil, err
		}
		thenN, err := requireKey(bm, "then")
		if err != nil {
			return nil, err
		}
		sw.Branches = append(sw.Branches, SwitchCase{Case: caseN, Then: thenN})
	}
	if def, ok := m["default"]; ok {
		defN, err := Parse(def)
		if err != nil {
			return nil, err
		}
		sw.Default = defN
	}
	return sw, nil
}

func parseFunction(value interface{}) (Node, error) {
	m, ok := value.(document.M)
	if !ok {
		return nil, mongoerr.BadValue("$function expects a document with body and args")
	}
	body, ok := m["body"].(string)
	if !ok {
		return nil, mongoerr.BadValue("$function requires a string body")
	}
	var args []Node
	if rawArgs, ok := m["args"]; ok {
		arr, err := asArray(rawArgs)
		if err != nil {
			return nil, err
		}
		for _, a := range arr {
			n, err := Parse(a)
			if err != nil {
				return nil, err
			}
			args = append(args, n)
		}
	}
	return FunctionCall{Body: body, Args: args}, nil
}

func asOperands(value interface{}) ([]Node, error) {
	arr, err := asArray(value)
	if err != nil {
		// A single non-array operand (common shorthand for unary forms).
		n, perr := Parse(value)
		if perr != nil {
			return nil, err
		}
		return []Node{n}, nil
	}
	nodes := make([]Node, 0, len(arr))
	for _, item := range arr {
		n, err := Parse(item)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func asArray(value interface{}) ([]interface{}, error) {
	switch v := value.(type) {
	case document.A:
		return []interface{}(v), nil
	case []interface{}:
		return v, nil
	default:
		return nil, mongoerr.BadValue("expected an array, got %T", value)
	}
}
