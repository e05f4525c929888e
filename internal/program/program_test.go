package program

import (
	"context"
	"testing"

	"medsl/internal/config"
	"medsl/internal/dsltypes"
	"medsl/internal/interp"
	"medsl/internal/ir"
	"medsl/internal/jitengine"
)

func addOneProgram() *ir.Program {
	return &ir.Program{
		Name:   "add_one",
		Params: []ir.Param{{Name: "x", Dtype: dsltypes.DtypeInt32}},
		Body: ir.Block{
			{Kind: ir.StmtReturn, Return: &ir.Return{Value: ir.Expr{Text: "x + 1", Dtype: dsltypes.DtypeInt32}}},
		},
	}
}

func TestCompileWithoutKernelFallsBackToInterpreter(t *testing.T) {
	prog := addOneProgram()
	cfg := config.Config{JITEnabled: false, TmpDir: t.TempDir(), CC: "cc"}
	eng, err := jitengine.New(cfg)
	if err != nil {
		t.Fatalf("jitengine.New: %v", err)
	}
	defer eng.Close()

	cp, err := Compile(context.Background(), eng, nil, interp.DefaultEngine{}, prog, dsltypes.DtypeInt32)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer cp.Close()
	if cp.HasKernel() {
		t.Fatal("expected no kernel with JIT disabled")
	}

	in := NewColumn(dsltypes.DtypeInt32, 3)
	for i, v := range []int64{1, 2, 41} {
		in.Set(i, interp.Value{Dtype: dsltypes.DtypeInt32, I: v})
	}

	out, err := cp.EvalBlock(map[string]*Column{"x": in}, 3, nil)
	if err != nil {
		t.Fatalf("EvalBlock: %v", err)
	}
	want := []int64{2, 3, 42}
	for i, w := range want {
		if got := out.Get(i).I; got != w {
			t.Errorf("lane %d: got %d want %d", i, got, w)
		}
	}
}

func TestCompileRejectsDisagreeingReturns(t *testing.T) {
	prog := &ir.Program{
		Name:   "bad",
		Params: []ir.Param{{Name: "x", Dtype: dsltypes.DtypeInt32}},
		Body: ir.Block{
			{Kind: ir.StmtReturn, Return: &ir.Return{Value: ir.Expr{Text: "x", Dtype: dsltypes.DtypeFloat32}}},
		},
	}
	cfg := config.Config{JITEnabled: false, TmpDir: t.TempDir(), CC: "cc"}
	eng, err := jitengine.New(cfg)
	if err != nil {
		t.Fatalf("jitengine.New: %v", err)
	}
	defer eng.Close()

	if _, err := Compile(context.Background(), eng, nil, interp.DefaultEngine{}, prog, dsltypes.DtypeInt32); err == nil {
		t.Fatal("expected codegen rejection for disagreeing return dtype")
	}
}

func TestCompileRejectsElementDialectWhenDisabled(t *testing.T) {
	prog := addOneProgram()
	prog.Dialect = dsltypes.DialectElement
	cfg := config.Config{JITEnabled: false, ElementDialect: false, TmpDir: t.TempDir(), CC: "cc"}
	eng, err := jitengine.New(cfg)
	if err != nil {
		t.Fatalf("jitengine.New: %v", err)
	}
	defer eng.Close()

	if _, err := Compile(context.Background(), eng, nil, interp.DefaultEngine{}, prog, dsltypes.DtypeInt32); err == nil {
		t.Fatal("expected rejection of an element-dialect program when the dialect is disabled")
	}
}

func TestEvalBlockNDContextBindings(t *testing.T) {
	prog := &ir.Program{
		Name:   "scaled",
		Params: []ir.Param{{Name: "x", Dtype: dsltypes.DtypeInt64}},
		Body: ir.Block{
			{Kind: ir.StmtReturn, Return: &ir.Return{Value: ir.Expr{Text: "x + _i0", Dtype: dsltypes.DtypeInt64}}},
		},
	}
	cfg := config.Config{JITEnabled: false, TmpDir: t.TempDir(), CC: "cc"}
	eng, err := jitengine.New(cfg)
	if err != nil {
		t.Fatalf("jitengine.New: %v", err)
	}
	defer eng.Close()

	cp, err := Compile(context.Background(), eng, nil, interp.DefaultEngine{}, prog, dsltypes.DtypeInt64)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer cp.Close()

	in := NewColumn(dsltypes.DtypeInt64, 2)
	in.Set(0, interp.Value{Dtype: dsltypes.DtypeInt64, I: 10})
	in.Set(1, interp.Value{Dtype: dsltypes.DtypeInt64, I: 20})

	nd := &NDContext{Shape: []int64{3, 100}, Index: []int64{2}}
	out, err := cp.EvalBlock(map[string]*Column{"x": in}, 2, nd)
	if err != nil {
		t.Fatalf("EvalBlock: %v", err)
	}
	if out.Get(0).I != 12 || out.Get(1).I != 22 {
		t.Fatalf("got [%d %d], want [12 22]", out.Get(0).I, out.Get(1).I)
	}
}
