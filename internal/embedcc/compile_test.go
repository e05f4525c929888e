//go:build amd64 && (linux || darwin)

package embedcc

import (
	"testing"

	"medsl/internal/dsltypes"
	"medsl/internal/ir"
)

func simpleProgram() *ir.Program {
	return &ir.Program{
		Name:   "add_one",
		Params: []ir.Param{{Name: "x", Dtype: dsltypes.DtypeInt32}},
		Body: ir.Block{
			{
				Kind:   ir.StmtReturn,
				Return: &ir.Return{Value: ir.Expr{Text: "x + 1", Dtype: dsltypes.DtypeInt32}},
			},
		},
	}
}

func TestCompileProducesCode(t *testing.T) {
	code, err := Compile(simpleProgram(), dsltypes.DtypeInt32)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(code) == 0 {
		t.Fatal("expected non-empty machine code")
	}
	// A ret (0xC3) must appear somewhere in the epilogue.
	found := false
	for _, b := range code {
		if b == 0xC3 {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("expected a RET opcode in generated code")
	}
}

func TestCompileRejectsFloatOutput(t *testing.T) {
	if _, err := Compile(simpleProgram(), dsltypes.DtypeFloat64); err == nil {
		t.Fatal("expected error for float64 output dtype")
	}
}

func TestCompileRejectsFloatParam(t *testing.T) {
	prog := &ir.Program{
		Name:   "bad",
		Params: []ir.Param{{Name: "x", Dtype: dsltypes.DtypeFloat32}},
		Body: ir.Block{
			{Kind: ir.StmtReturn, Return: &ir.Return{Value: ir.Expr{Text: "x", Dtype: dsltypes.DtypeFloat32}}},
		},
	}
	if _, err := Compile(prog, dsltypes.DtypeFloat32); err == nil {
		t.Fatal("expected error for float32 param")
	}
}

func TestCompileWithLoopAndLocal(t *testing.T) {
	prog := &ir.Program{
		Name:   "sum_to_n",
		Params: []ir.Param{{Name: "n", Dtype: dsltypes.DtypeInt64}},
		Body: ir.Block{
			{Kind: ir.StmtAssign, Assign: &ir.Assign{Name: "acc", Dtype: dsltypes.DtypeInt64, Value: ir.Expr{Text: "0", Dtype: dsltypes.DtypeInt64}}},
			{Kind: ir.StmtFor, For: &ir.For{
				Var:   "i",
				Limit: ir.Expr{Text: "n", Dtype: dsltypes.DtypeInt64},
				Body: ir.Block{
					{Kind: ir.StmtAssign, Assign: &ir.Assign{Name: "acc", Dtype: dsltypes.DtypeInt64, Value: ir.Expr{Text: "acc + i", Dtype: dsltypes.DtypeInt64}}},
				},
			}},
			{Kind: ir.StmtReturn, Return: &ir.Return{Value: ir.Expr{Text: "acc", Dtype: dsltypes.DtypeInt64}}},
		},
	}
	code, err := Compile(prog, dsltypes.DtypeInt64)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(code) == 0 {
		t.Fatal("expected non-empty machine code")
	}
}
