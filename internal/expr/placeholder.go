package expr

// FunctionDescriptor is the self-describing payload C7 needs to evaluate a
// compiled $function call (spec §4.2). FieldArgs records, for each argument
// position, the document field path it reads (empty string if that position
// is a literal instead, whose value lives in LiteralArgs). It travels
// out-of-band in Statement.Functions rather than inside the compiled SQL or
// a row's document data, so decoded rows never carry a magic marker that a
// downstream consumer would have to scan for.
type FunctionDescriptor struct {
	Body        string
	FieldArgs   []string
	LiteralArgs map[int]interface{}
	ArgOrder    []int
}
