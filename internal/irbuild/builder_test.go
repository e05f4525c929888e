package irbuild

import (
	"testing"

	"medsl/internal/ast"
	"medsl/internal/dsltypes"
	"medsl/internal/ir"
)

// constResolver resolves every expression to a fixed dtype, enough for
// tests that only care about structural acceptance/rejection.
func constResolver(dt dsltypes.Dtype) Resolver {
	return func(ctx interface{}, e ast.Expr) (dsltypes.Dtype, error) {
		return dt, nil
	}
}

func pos(line, col int) ast.Pos { return ast.Pos{Line: line, Column: col} }

func buildOK(t *testing.T, prog *ast.Program, params []ir.Param, resolve Resolver) *ir.Program {
	t.Helper()
	out, err := Build(nil, prog, params, resolve)
	if err != nil {
		t.Fatalf("Build: unexpected error: %v", err)
	}
	return out
}

func buildErr(t *testing.T, prog *ast.Program, params []ir.Param, resolve Resolver) *BuildError {
	t.Helper()
	out, err := Build(nil, prog, params, resolve)
	if err == nil {
		t.Fatalf("Build: expected error, got IR %+v", out)
	}
	be, ok := err.(*BuildError)
	if !ok {
		t.Fatalf("Build: expected *BuildError, got %T (%v)", err, err)
	}
	return be
}

func TestBuildAcceptsScenario1(t *testing.T) {
	// def kernel(x): acc = x; for i in range(4): if i == 1: continue
	//   acc = acc + x; if i == 3: break
	// if acc: return acc
	// return x
	prog := &ast.Program{
		Name:    "kernel",
		Dialect: dsltypes.DialectVector,
		Params:  []ast.Param{{Name: "x"}},
		Block: []ast.Stmt{
			{Kind: ast.StmtAssign, Pos: pos(2, 3), Assign: &ast.AssignStmt{Name: "acc", Value: ast.Expr{Text: "x", Pos: pos(2, 9)}}},
			{Kind: ast.StmtFor, Pos: pos(3, 3), For: &ast.ForStmt{
				Var:   "i",
				Limit: ast.Expr{Text: "4", Pos: pos(3, 17)},
				Body: []ast.Stmt{
					{Kind: ast.StmtIf, Pos: pos(4, 5), If: &ast.IfStmt{
						Cond: ast.Expr{Text: "i == 1", Pos: pos(4, 8)},
						Then: []ast.Stmt{{Kind: ast.StmtContinue, Pos: pos(4, 20), Continue: &ast.ContinueStmt{}}},
					}},
					{Kind: ast.StmtAssign, Pos: pos(5, 5), Assign: &ast.AssignStmt{Name: "acc", Value: ast.Expr{Text: "acc + x", Pos: pos(5, 11)}}},
					{Kind: ast.StmtIf, Pos: pos(6, 5), If: &ast.IfStmt{
						Cond: ast.Expr{Text: "i == 3", Pos: pos(6, 8)},
						Then: []ast.Stmt{{Kind: ast.StmtBreak, Pos: pos(6, 20), Break: &ast.BreakStmt{}}},
					}},
				},
			}},
			{Kind: ast.StmtIf, Pos: pos(7, 1), If: &ast.IfStmt{
				Cond: ast.Expr{Text: "acc", Pos: pos(7, 4)},
				Then: []ast.Stmt{{Kind: ast.StmtReturn, Pos: pos(7, 9), Return: &ast.ReturnStmt{Value: ast.Expr{Text: "acc", Pos: pos(7, 16)}}}},
			}},
			{Kind: ast.StmtReturn, Pos: pos(8, 1), Return: &ast.ReturnStmt{Value: ast.Expr{Text: "x", Pos: pos(8, 8)}}},
		},
	}
	params := []ir.Param{{Name: "x", Dtype: dsltypes.DtypeInt32}}
	out := buildOK(t, prog, params, constResolver(dsltypes.DtypeInt32))
	if out.Name != "kernel" {
		t.Fatalf("name = %q, want kernel", out.Name)
	}
	if len(out.Body) != 4 {
		t.Fatalf("expected 4 top-level statements, got %d", len(out.Body))
	}
}

func TestBuildRejectsExpressionStatement(t *testing.T) {
	prog := &ast.Program{
		Params: []ast.Param{{Name: "x"}},
		Block:  []ast.Stmt{{Kind: ast.StmtExpr, Pos: pos(1, 1), ExprStmt: &ast.ExprStmt{Value: ast.Expr{Text: "x"}}}},
	}
	be := buildErr(t, prog, []ir.Param{{Name: "x", Dtype: dsltypes.DtypeInt32}}, constResolver(dsltypes.DtypeInt32))
	if be.Line != 1 || be.Column != 1 {
		t.Fatalf("expected position 1:1, got %d:%d", be.Line, be.Column)
	}
}

func TestBuildRejectsPrintStatement(t *testing.T) {
	prog := &ast.Program{
		Params: []ast.Param{{Name: "x"}},
		Block:  []ast.Stmt{{Kind: ast.StmtPrint, Pos: pos(1, 1), Print: &ast.PrintStmt{CallText: "print(x)"}}},
	}
	buildErr(t, prog, []ir.Param{{Name: "x", Dtype: dsltypes.DtypeInt32}}, constResolver(dsltypes.DtypeInt32))
}

func TestBuildRejectsWhile(t *testing.T) {
	prog := &ast.Program{
		Params: []ast.Param{{Name: "x"}},
		Block: []ast.Stmt{
			{Kind: ast.StmtWhile, Pos: pos(1, 1), While: &ast.WhileStmt{
				Cond: ast.Expr{Text: "x"},
				Body: []ast.Stmt{{Kind: ast.StmtReturn, Return: &ast.ReturnStmt{Value: ast.Expr{Text: "x"}}}},
			}},
		},
	}
	buildErr(t, prog, []ir.Param{{Name: "x", Dtype: dsltypes.DtypeInt32}}, constResolver(dsltypes.DtypeInt32))
}

func TestBuildRejectsConditionalBreak(t *testing.T) {
	cond := ast.Expr{Text: "x"}
	prog := &ast.Program{
		Params: []ast.Param{{Name: "x"}},
		Block: []ast.Stmt{
			{Kind: ast.StmtFor, For: &ast.ForStmt{
				Var:   "i",
				Limit: ast.Expr{Text: "4"},
				Body:  []ast.Stmt{{Kind: ast.StmtBreak, Pos: pos(2, 5), Break: &ast.BreakStmt{Cond: &cond}}},
			}},
		},
	}
	buildErr(t, prog, []ir.Param{{Name: "x", Dtype: dsltypes.DtypeInt32}}, constResolver(dsltypes.DtypeBool))
}

func TestBuildRejectsBreakOutsideLoop(t *testing.T) {
	prog := &ast.Program{
		Params: []ast.Param{{Name: "x"}},
		Block:  []ast.Stmt{{Kind: ast.StmtBreak, Pos: pos(1, 1), Break: &ast.BreakStmt{}}},
	}
	buildErr(t, prog, []ir.Param{{Name: "x", Dtype: dsltypes.DtypeInt32}}, constResolver(dsltypes.DtypeInt32))
}

func TestBuildRejectsContinueOutsideLoop(t *testing.T) {
	prog := &ast.Program{
		Params: []ast.Param{{Name: "x"}},
		Block:  []ast.Stmt{{Kind: ast.StmtContinue, Pos: pos(1, 1), Continue: &ast.ContinueStmt{}}},
	}
	buildErr(t, prog, []ir.Param{{Name: "x", Dtype: dsltypes.DtypeInt32}}, constResolver(dsltypes.DtypeInt32))
}

func TestBuildRejectsMultiArgRange(t *testing.T) {
	// for j in range(1, 10, 2)
	prog := &ast.Program{
		Params: []ast.Param{{Name: "x"}},
		Block: []ast.Stmt{
			{Kind: ast.StmtFor, Pos: pos(1, 1), For: &ast.ForStmt{
				Var:   "j",
				Limit: ast.Expr{Text: "1, 10, 2", Pos: pos(1, 11)},
				Body:  []ast.Stmt{{Kind: ast.StmtReturn, Return: &ast.ReturnStmt{Value: ast.Expr{Text: "x"}}}},
			}},
		},
	}
	be := buildErr(t, prog, []ir.Param{{Name: "x", Dtype: dsltypes.DtypeInt32}}, constResolver(dsltypes.DtypeInt32))
	if be.Line != 1 || be.Column != 11 {
		t.Fatalf("expected the for-limit's own position 1:11, got %d:%d", be.Line, be.Column)
	}
}

func TestBuildAllowsSingleArgRangeWithNestedComma(t *testing.T) {
	// A call nested inside the limit expression may itself contain a
	// comma; only a *top-level* comma should trip the rejection.
	prog := &ast.Program{
		Params: []ast.Param{{Name: "x"}},
		Block: []ast.Stmt{
			{Kind: ast.StmtFor, For: &ast.ForStmt{
				Var:   "j",
				Limit: ast.Expr{Text: "min(a, b)"},
				Body:  []ast.Stmt{{Kind: ast.StmtReturn, Return: &ast.ReturnStmt{Value: ast.Expr{Text: "x"}}}},
			}},
		},
	}
	buildOK(t, prog, []ir.Param{{Name: "x", Dtype: dsltypes.DtypeInt32}}, constResolver(dsltypes.DtypeInt32))
}

func TestBuildRejectsParameterShadowAssign(t *testing.T) {
	prog := &ast.Program{
		Params: []ast.Param{{Name: "x"}},
		Block: []ast.Stmt{
			{Kind: ast.StmtAssign, Pos: pos(1, 1), Assign: &ast.AssignStmt{Name: "x", Value: ast.Expr{Text: "1"}}},
			{Kind: ast.StmtReturn, Return: &ast.ReturnStmt{Value: ast.Expr{Text: "x"}}},
		},
	}
	buildErr(t, prog, []ir.Param{{Name: "x", Dtype: dsltypes.DtypeInt32}}, constResolver(dsltypes.DtypeInt32))
}

func TestBuildRejectsForLoopVariableShadow(t *testing.T) {
	prog := &ast.Program{
		Params: []ast.Param{{Name: "i"}},
		Block: []ast.Stmt{
			{Kind: ast.StmtFor, Pos: pos(1, 1), For: &ast.ForStmt{
				Var:   "i",
				Limit: ast.Expr{Text: "4"},
				Body:  []ast.Stmt{{Kind: ast.StmtReturn, Return: &ast.ReturnStmt{Value: ast.Expr{Text: "i"}}}},
			}},
		},
	}
	buildErr(t, prog, []ir.Param{{Name: "i", Dtype: dsltypes.DtypeInt32}}, constResolver(dsltypes.DtypeInt32))
}

func TestBuildRejectsDuplicateParams(t *testing.T) {
	prog := &ast.Program{Params: []ast.Param{{Name: "x"}, {Name: "x"}}}
	buildErr(t, prog, []ir.Param{{Name: "x", Dtype: dsltypes.DtypeInt32}, {Name: "x", Dtype: dsltypes.DtypeInt32}}, constResolver(dsltypes.DtypeInt32))
}

func TestBuildRejectsReassignmentDtypeMismatch(t *testing.T) {
	prog := &ast.Program{
		Params: []ast.Param{{Name: "x"}},
		Block: []ast.Stmt{
			{Kind: ast.StmtAssign, Assign: &ast.AssignStmt{Name: "acc", Value: ast.Expr{Text: "1"}}},
			{Kind: ast.StmtAssign, Pos: pos(2, 1), Assign: &ast.AssignStmt{Name: "acc", Value: ast.Expr{Text: "1.0"}}},
			{Kind: ast.StmtReturn, Return: &ast.ReturnStmt{Value: ast.Expr{Text: "acc"}}},
		},
	}
	callCount := 0
	resolve := func(ctx interface{}, e ast.Expr) (dsltypes.Dtype, error) {
		callCount++
		if callCount == 2 {
			return dsltypes.DtypeFloat64, nil
		}
		return dsltypes.DtypeInt32, nil
	}
	buildErr(t, prog, []ir.Param{{Name: "x", Dtype: dsltypes.DtypeInt32}}, resolve)
}

func TestBuildForLoopVariableIsAlwaysInt64(t *testing.T) {
	prog := &ast.Program{
		Params: []ast.Param{{Name: "x"}},
		Block: []ast.Stmt{
			{Kind: ast.StmtFor, For: &ast.ForStmt{
				Var:   "i",
				Limit: ast.Expr{Text: "4"},
				Body: []ast.Stmt{
					{Kind: ast.StmtAssign, Assign: &ast.AssignStmt{Name: "acc", Value: ast.Expr{Text: "i"}}},
				},
			}},
			{Kind: ast.StmtReturn, Return: &ast.ReturnStmt{Value: ast.Expr{Text: "x"}}},
		},
	}
	out := buildOK(t, prog, []ir.Param{{Name: "x", Dtype: dsltypes.DtypeInt64}}, constResolver(dsltypes.DtypeInt64))
	assign := out.Body[0].For.Body[0].Assign
	if assign.Dtype != dsltypes.DtypeInt64 {
		t.Fatalf("loop-body assign resolved to %s via the stub resolver, want int64", assign.Dtype)
	}
	if out.Body[0].For.Var != "i" {
		t.Fatalf("loop variable name not preserved")
	}

	// Reassigning the loop variable with an int32 value is rejected,
	// because the builder declared it as int64.
	reassign := &ast.Program{
		Params: []ast.Param{{Name: "x"}},
		Block: []ast.Stmt{
			{Kind: ast.StmtFor, For: &ast.ForStmt{
				Var:   "i",
				Limit: ast.Expr{Text: "4"},
				Body: []ast.Stmt{
					{Kind: ast.StmtAssign, Assign: &ast.AssignStmt{Name: "i", Value: ast.Expr{Text: "x"}}},
				},
			}},
			{Kind: ast.StmtReturn, Return: &ast.ReturnStmt{Value: ast.Expr{Text: "x"}}},
		},
	}
	be := buildErr(t, reassign, []ir.Param{{Name: "x", Dtype: dsltypes.DtypeInt32}}, constResolver(dsltypes.DtypeInt32))
	if want := `"i" redeclared with dtype int32, previously int64`; be.Message != want {
		t.Fatalf("loop-variable reassignment: got %q, want %q", be.Message, want)
	}
}

func TestBuildRejectsUnsupportedParamDtype(t *testing.T) {
	prog := &ast.Program{Params: []ast.Param{{Name: "x"}}}
	buildErr(t, prog, []ir.Param{{Name: "x", Dtype: dsltypes.DtypeAuto}}, constResolver(dsltypes.DtypeInt32))
}

func TestBuildAssignsAnonymousName(t *testing.T) {
	prog := &ast.Program{
		Params: []ast.Param{{Name: "x"}},
		Block:  []ast.Stmt{{Kind: ast.StmtReturn, Return: &ast.ReturnStmt{Value: ast.Expr{Text: "x"}}}},
	}
	out := buildOK(t, prog, []ir.Param{{Name: "x", Dtype: dsltypes.DtypeInt32}}, constResolver(dsltypes.DtypeInt32))
	if out.Name == "" {
		t.Fatal("expected a generated name for an anonymous program")
	}
}
