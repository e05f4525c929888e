package interp

import "medsl/internal/dsltypes"

// ExprEngine is the external expression-evaluation collaborator the
// originating spec describes (§4.7): it owns uniform typing and
// scalar-to-block-width broadcasting. The interpreter only ever calls
// Eval once per lane, so a broadcasting engine can simply ignore the
// row argument's absent neighbors; the row passed here is this one
// lane's variable bindings.
type ExprEngine interface {
	// Eval evaluates exprText, casting the result to resultDtype the
	// way the code generator's trailing C cast does, given the
	// current row's variable bindings.
	Eval(exprText string, resultDtype dsltypes.Dtype, row map[string]Value) (Value, error)
}
