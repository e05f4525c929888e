// Package codegen lowers a typed ir.Program into a single C
// translation unit exposing a fixed C-ABI kernel symbol, per §4.4 of
// the originating JIT specification.
package codegen

import (
	"fmt"
	"sort"
	"strings"

	"medsl/internal/dsltypes"
	"medsl/internal/ir"
)

// DefaultSymbolName is the kernel entry point name used when Options
// doesn't override it.
const DefaultSymbolName = "me_dsl_jit_kernel"

// Version is mixed into the cache key (cgen_version_constant, §4.3)
// so a change to this generator's output forces every disk artifact
// to be rebuilt rather than trusted stale.
const Version uint32 = 1

// Options configures one Generate call.
type Options struct {
	SymbolName string
}

func (o Options) symbolName() string {
	if o.SymbolName == "" {
		return DefaultSymbolName
	}
	return o.SymbolName
}

// GenError is a structured codegen rejection.
type GenError struct {
	Line    int
	Column  int
	Message string
}

func (e *GenError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Message)
}

func newGenError(line, col int, format string, args ...interface{}) *GenError {
	return &GenError{Line: line, Column: col, Message: fmt.Sprintf(format, args...)}
}

// Generate emits the C source for prog producing outputDtype, or a
// structured error naming the offending token/expression.
func Generate(prog *ir.Program, outputDtype dsltypes.Dtype, opts Options) (string, error) {
	if !outputDtype.JITSupported() {
		return "", &GenError{Message: fmt.Sprintf("output dtype %s is not JIT-supported", outputDtype)}
	}

	returns := prog.Returns()
	if len(returns) == 0 {
		return "", &GenError{Message: "program has no return statement"}
	}
	for _, r := range returns {
		if r.Dtype != outputDtype {
			return "", newGenError(r.Line, r.Col,
				"return expression has dtype %s, requested output dtype is %s", r.Dtype, outputDtype)
		}
	}

	if err := validateBlock(prog.Body); err != nil {
		return "", err
	}

	locals := collectLocals(prog.Body, map[string]dsltypes.Dtype{})
	localNames := make([]string, 0, len(locals))
	for name := range locals {
		localNames = append(localNames, name)
	}
	sort.Strings(localNames)

	var sb strings.Builder
	sb.WriteString("#include <stdint.h>\n")
	sb.WriteString("#include <stdbool.h>\n\n")

	sym := opts.symbolName()
	fmt.Fprintf(&sb, "int %s(const void **inputs, void *output, int64_t nitems) {\n", sym)
	sb.WriteString("    if (output == NULL) return -1;\n")
	if len(prog.Params) > 0 {
		sb.WriteString("    if (inputs == NULL) return -1;\n")
	}
	sb.WriteString("    if (nitems < 0) return -1;\n\n")

	outCType := outputDtype.CType()
	fmt.Fprintf(&sb, "    %s *out = (%s *)output;\n", outCType, outCType)
	for i, p := range prog.Params {
		ct := p.Dtype.CType()
		fmt.Fprintf(&sb, "    const %s *in_%s = (const %s *)inputs[%d];\n", ct, p.Name, ct, i)
	}
	sb.WriteString("\n    for (int64_t idx = 0; idx < nitems; idx++) {\n")

	for _, p := range prog.Params {
		fmt.Fprintf(&sb, "        %s %s = in_%s[idx];\n", p.Dtype.CType(), p.Name, p.Name)
	}
	for _, name := range localNames {
		ct := locals[name].CType()
		fmt.Fprintf(&sb, "        %s %s = (%s)0;\n", ct, name, ct)
	}
	fmt.Fprintf(&sb, "        %s __me_out = (%s)0;\n", outCType, outCType)

	emitBlock(&sb, prog.Body, 2, outputDtype)

	sb.WriteString("        __me_return_idx: ;\n")
	sb.WriteString("        out[idx] = __me_out;\n")
	sb.WriteString("    }\n")
	sb.WriteString("    return 0;\n")
	sb.WriteString("}\n")

	return sb.String(), nil
}

func collectLocals(b ir.Block, into map[string]dsltypes.Dtype) map[string]dsltypes.Dtype {
	for i := range b {
		s := &b[i]
		switch s.Kind {
		case ir.StmtAssign:
			if _, ok := into[s.Assign.Name]; !ok {
				into[s.Assign.Name] = s.Assign.Dtype
			}
		case ir.StmtIf:
			collectLocals(s.If.Then, into)
			for _, e := range s.If.Elifs {
				collectLocals(e.Block, into)
			}
			if s.If.Else != nil {
				collectLocals(s.If.Else, into)
			}
		case ir.StmtFor:
			collectLocals(s.For.Body, into)
		}
	}
	return into
}

func validateBlock(b ir.Block) *GenError {
	for i := range b {
		s := &b[i]
		switch s.Kind {
		case ir.StmtAssign:
			if err := validateExpr(&s.Assign.Value); err != nil {
				return err
			}
		case ir.StmtReturn:
			if err := validateExpr(&s.Return.Value); err != nil {
				return err
			}
		case ir.StmtIf:
			if err := validateExpr(&s.If.Cond); err != nil {
				return err
			}
			if err := validateBlock(s.If.Then); err != nil {
				return err
			}
			for _, e := range s.If.Elifs {
				if err := validateExpr(&e.Cond); err != nil {
					return err
				}
				if err := validateBlock(e.Block); err != nil {
					return err
				}
			}
			if s.If.Else != nil {
				if err := validateBlock(s.If.Else); err != nil {
					return err
				}
			}
		case ir.StmtFor:
			if err := validateExpr(&s.For.Limit); err != nil {
				return err
			}
			if err := validateBlock(s.For.Body); err != nil {
				return err
			}
		}
	}
	return nil
}

func emitBlock(sb *strings.Builder, b ir.Block, indent int, outputDtype dsltypes.Dtype) {
	pad := strings.Repeat("    ", indent)
	for i := range b {
		s := &b[i]
		switch s.Kind {
		case ir.StmtAssign:
			fmt.Fprintf(sb, "%s%s = (%s)(%s);\n", pad, s.Assign.Name, s.Assign.Dtype.CType(), rewriteIdentifiers(s.Assign.Value.Text))
		case ir.StmtReturn:
			fmt.Fprintf(sb, "%s__me_out = (%s)(%s);\n", pad, outputDtype.CType(), rewriteIdentifiers(s.Return.Value.Text))
			fmt.Fprintf(sb, "%sgoto __me_return_idx;\n", pad)
		case ir.StmtIf:
			ct := s.If.Cond.Dtype.CType()
			fmt.Fprintf(sb, "%sif (((%s)(%s)) != (%s)0) {\n", pad, ct, rewriteIdentifiers(s.If.Cond.Text), ct)
			emitBlock(sb, s.If.Then, indent+1, outputDtype)
			fmt.Fprintf(sb, "%s}\n", pad)
			for _, elif := range s.If.Elifs {
				ect := elif.Cond.Dtype.CType()
				fmt.Fprintf(sb, "%selse if (((%s)(%s)) != (%s)0) {\n", pad, ect, rewriteIdentifiers(elif.Cond.Text), ect)
				emitBlock(sb, elif.Block, indent+1, outputDtype)
				fmt.Fprintf(sb, "%s}\n", pad)
			}
			if s.If.Else != nil {
				fmt.Fprintf(sb, "%selse {\n", pad)
				emitBlock(sb, s.If.Else, indent+1, outputDtype)
				fmt.Fprintf(sb, "%s}\n", pad)
			}
		case ir.StmtFor:
			fmt.Fprintf(sb, "%s{\n", pad)
			fmt.Fprintf(sb, "%s    int64_t __me_limit = (int64_t)(%s);\n", pad, rewriteIdentifiers(s.For.Limit.Text))
			fmt.Fprintf(sb, "%s    if (__me_limit > 0) {\n", pad)
			fmt.Fprintf(sb, "%s        for (int64_t %s = 0; %s < __me_limit; %s++) {\n", pad, s.For.Var, s.For.Var, s.For.Var)
			emitBlock(sb, s.For.Body, indent+3, outputDtype)
			fmt.Fprintf(sb, "%s        }\n", pad)
			fmt.Fprintf(sb, "%s    }\n", pad)
			fmt.Fprintf(sb, "%s}\n", pad)
		case ir.StmtBreak:
			fmt.Fprintf(sb, "%sbreak;\n", pad)
		case ir.StmtContinue:
			fmt.Fprintf(sb, "%scontinue;\n", pad)
		}
	}
}
