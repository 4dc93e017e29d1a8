package query

// Node is the sealed filter-expression IR. Every case the translator
// understands is listed in this file; there is no open extension point —
// per spec §9, extending the operator set means adding a case here and in
// translateNode, not registering into a map.
type Node interface {
	isNode()
}

// CompareOp is the closed set of comparison operators (spec §4.1, family
// "Comparison").
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
	OpIn
	OpNin
)

// Compare is a single-field comparison against a literal or a list (for
// $in/$nin).
type Compare struct {
	Path   string
	Op     CompareOp
	Value  interface{}   // for OpEq, OpNe, OpGt, OpGte, OpLt, OpLte
	Values []interface{} // for OpIn, OpNin
}

func (Compare) isNode() {}

// Exists is the $exists element operator.
type Exists struct {
	Path  string
	Value bool
}

func (Exists) isNode() {}

// TypeCheck is the $type element operator; MongoType is the raw alias as
// given by the client (e.g. "string", "number", "2").
type TypeCheck struct {
	Path      string
	MongoType string
}

func (TypeCheck) isNode() {}

// Size is the $size array operator.
type Size struct {
	Path  string
	Count int
}

func (Size) isNode() {}

// All is the $all array operator: every element of Values must appear in
// the array at Path.
type All struct {
	Path   string
	Values []interface{}
}

func (All) isNode() {}

// ElemMatch is the $elemMatch array operator. Sub is translated against the
// array element as the new scope root, not against the original document
// (spec §4.1: "the subject of further operators is the current array
// element, not the original path").
type ElemMatch struct {
	Path string
	Sub  Node
}

func (ElemMatch) isNode() {}

// Not negates a single field's operator sub-document.
type Not struct {
	Path string
	Sub  Node
}

func (Not) isNode() {}

// And, Or, Nor are the logical combinators over a list of sub-filters
// (spec §4.1 "Logical operators"). The parser flattens a nested $and into
// its parent And and a nested $or into its parent Or before emission; a
// nested $nor is kept as its own Nor node, since NOR does not associate.
type And struct{ Children []Node }

func (And) isNode() {}

type Or struct{ Children []Node }

func (Or) isNode() {}

type Nor struct{ Children []Node }

func (Nor) isNode() {}

// Text is the $text.$search full-text predicate (spec §6 "Full-text query
// syntax").
type Text struct {
	Search string
}

func (Text) isNode() {}

// True and False are the degenerate nodes produced by boundary cases like
// empty $and / $or / $in / $nin (spec §8 "Boundary behaviors").
type True struct{}

func (True) isNode() {}

type False struct{}

func (False) isNode() {}
