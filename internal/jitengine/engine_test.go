package jitengine

import (
	"context"
	"testing"

	"medsl/internal/config"
	"medsl/internal/dsltypes"
	"medsl/internal/ir"
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

func TestEngineForcedEmbeddedCompile(t *testing.T) {
	cfg := config.Config{JITEnabled: true, PositiveCache: true, ForceEmbedded: true, TmpDir: t.TempDir(), CC: "cc"}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	res, class, err := e.Compile(context.Background(), addOneProgram(), dsltypes.DtypeInt32)
	if err != nil {
		t.Skipf("embedded backend unavailable on this platform: %v (class=%s)", err, class)
	}
	if res.Backend != dsltypes.BackendEmbeddedTCC {
		t.Fatalf("expected embedded backend, got %v", res.Backend)
	}
	if res.Symbol == nil {
		t.Fatal("expected non-nil symbol")
	}
}

func TestEnginePositiveCacheHit(t *testing.T) {
	cfg := config.Config{JITEnabled: true, PositiveCache: true, ForceEmbedded: true, TmpDir: t.TempDir(), CC: "cc"}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	prog := addOneProgram()
	first, _, err := e.Compile(context.Background(), prog, dsltypes.DtypeInt32)
	if err != nil {
		t.Skipf("embedded backend unavailable: %v", err)
	}
	second, _, err := e.Compile(context.Background(), prog, dsltypes.DtypeInt32)
	if err != nil {
		t.Fatalf("second Compile: %v", err)
	}
	if first.Symbol != second.Symbol {
		t.Fatal("expected positive-cache hit to return the same symbol")
	}
}

func TestEngineJITDisabled(t *testing.T) {
	cfg := config.Config{JITEnabled: false, TmpDir: t.TempDir(), CC: "cc"}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if _, _, err := e.Compile(context.Background(), addOneProgram(), dsltypes.DtypeInt32); err == nil {
		t.Fatal("expected error when JIT disabled")
	}
}
