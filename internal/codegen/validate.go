package codegen

import "medsl/internal/ir"

// validateExpr scans e's text for tokens the C generator cannot
// faithfully lower: `**` and `%` are always rejected; `<<`, `>>`, `~`,
// `&`, `|`, `^` are rejected unless e's dtype is integral.
func validateExpr(e *ir.Expr) *GenError {
	for _, tok := range tokenize(e.Text) {
		if tok.kind != tokOp {
			continue
		}
		switch tok.text {
		case "**":
			return exprErr(e, "unsupported operator ** (exponentiation is not representable in JIT IR)")
		case "%":
			return exprErr(e, "unsupported operator %% (modulo is not representable in JIT IR)")
		case "<<", ">>", "~", "&", "|", "^":
			if !e.Dtype.Integral() {
				return exprErr(e, "bitwise/shift operator %q requires an integral dtype, got %s", tok.text, e.Dtype)
			}
		}
	}
	return nil
}

func exprErr(e *ir.Expr, format string, args ...interface{}) *GenError {
	return newGenError(e.Line, e.Col, format, args...)
}
