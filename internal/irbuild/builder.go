// Package irbuild walks a surface AST and a dtype-resolver callback
// into a typed ir.Program, enforcing every structural invariant the
// JIT backend depends on. It never returns a partially built IR: on
// error the caller gets only a BuildError.
package irbuild

import (
	"fmt"
	"strings"

	"medsl/internal/ast"
	"medsl/internal/dsltypes"
	"medsl/internal/ir"
)

// BuildError is a structured build-time rejection with the originating
// source position, following the line/column/message shape the
// originating spec requires throughout. Error renders it as
// "line:col: message"; no source snippet or caret is attached.
type BuildError struct {
	Line    int
	Column  int
	Message string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Message)
}

func errAt(pos ast.Pos, format string, args ...interface{}) *BuildError {
	return &BuildError{Line: pos.Line, Column: pos.Column, Message: fmt.Sprintf(format, args...)}
}

// Resolver resolves the dtype of a surface expression. ctx is opaque
// host state threaded through unchanged; the IR builder never
// inspects it.
type Resolver func(ctx interface{}, expr ast.Expr) (dsltypes.Dtype, error)

// symbolTable is the build-time-only flat, append-only table of names
// known to the program: parameters (added up front) and locals (added
// as Assign/For statements are discovered). Lookups go through a map
// keyed by name; order records first-definition order.
type symbolTable struct {
	order []string
	kind  map[string]symbolEntry
}

type symbolEntry struct {
	dtype   dsltypes.Dtype
	isParam bool
}

func newSymbolTable() *symbolTable {
	return &symbolTable{kind: make(map[string]symbolEntry)}
}

func (t *symbolTable) lookup(name string) (symbolEntry, bool) {
	e, ok := t.kind[name]
	return e, ok
}

func (t *symbolTable) define(name string, dtype dsltypes.Dtype, isParam bool) {
	if _, exists := t.kind[name]; !exists {
		t.order = append(t.order, name)
	}
	t.kind[name] = symbolEntry{dtype: dtype, isParam: isParam}
}

// anonCounter seeds deterministic names for unnamed surface programs.
// It is process-local. The generated name becomes the IR's Name, which
// the fingerprint hashes, so two builds of the same unnamed program get
// different names and therefore different fingerprints.
var anonCounter int

func nextAnonName() string {
	anonCounter++
	return fmt.Sprintf("me_dsl_anon_%d", anonCounter)
}

// Build lowers prog into a typed ir.Program, or returns a BuildError.
func Build(ctx interface{}, prog *ast.Program, params []ir.Param, resolve Resolver) (*ir.Program, error) {
	name := prog.Name
	if name == "" {
		name = nextAnonName()
	}

	syms := newSymbolTable()
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if seen[p.Name] {
			return nil, &BuildError{Message: fmt.Sprintf("duplicate parameter %q", p.Name)}
		}
		seen[p.Name] = true
		if !p.Dtype.JITSupported() {
			return nil, &BuildError{Message: fmt.Sprintf("parameter %q has unsupported dtype %s", p.Name, p.Dtype)}
		}
		syms.define(p.Name, p.Dtype, true)
	}

	b := &builder{ctx: ctx, resolve: resolve, syms: syms}
	body, err := b.buildBlock(prog.Block, false)
	if err != nil {
		return nil, err
	}

	return &ir.Program{
		Name:    name,
		Dialect: prog.Dialect,
		FPMode:  prog.FPMode,
		Params:  params,
		Body:    body,
	}, nil
}

type builder struct {
	ctx     interface{}
	resolve Resolver
	syms    *symbolTable
}

func (b *builder) resolveExpr(e ast.Expr) (ir.Expr, error) {
	dt, err := b.resolve(b.ctx, e)
	if err != nil {
		return ir.Expr{}, &BuildError{Line: e.Pos.Line, Column: e.Pos.Column, Message: err.Error()}
	}
	if !dt.JITSupported() {
		return ir.Expr{}, errAt(e.Pos, "expression has unsupported dtype %s", dt)
	}
	return ir.Expr{Text: e.Text, Dtype: dt, Line: e.Pos.Line, Col: e.Pos.Column}, nil
}

func (b *builder) buildBlock(stmts []ast.Stmt, inLoop bool) (ir.Block, error) {
	out := make(ir.Block, 0, len(stmts))
	for _, s := range stmts {
		stmt, err := b.buildStmt(s, inLoop)
		if err != nil {
			return nil, err
		}
		out = append(out, *stmt)
	}
	return out, nil
}

func (b *builder) buildStmt(s ast.Stmt, inLoop bool) (*ir.Stmt, error) {
	switch s.Kind {
	case ast.StmtAssign:
		return b.buildAssign(s)
	case ast.StmtReturn:
		expr, err := b.resolveExpr(s.Return.Value)
		if err != nil {
			return nil, err
		}
		return &ir.Stmt{Kind: ir.StmtReturn, Line: s.Pos.Line, Col: s.Pos.Column,
			Return: &ir.Return{Value: expr}}, nil
	case ast.StmtIf:
		return b.buildIf(s, inLoop)
	case ast.StmtFor:
		return b.buildFor(s)
	case ast.StmtBreak:
		if !inLoop {
			return nil, errAt(s.Pos, "break outside a loop")
		}
		if s.Break.Cond != nil {
			return nil, errAt(s.Pos, "conditional break is not representable in JIT IR")
		}
		return &ir.Stmt{Kind: ir.StmtBreak, Line: s.Pos.Line, Col: s.Pos.Column}, nil
	case ast.StmtContinue:
		if !inLoop {
			return nil, errAt(s.Pos, "continue outside a loop")
		}
		if s.Continue.Cond != nil {
			return nil, errAt(s.Pos, "conditional continue is not representable in JIT IR")
		}
		return &ir.Stmt{Kind: ir.StmtContinue, Line: s.Pos.Line, Col: s.Pos.Column}, nil
	case ast.StmtWhile:
		return nil, errAt(s.Pos, "while loops are not supported in JIT IR")
	case ast.StmtExpr:
		return nil, errAt(s.Pos, "expression statements are not supported in JIT IR")
	case ast.StmtPrint:
		return nil, errAt(s.Pos, "print statements are not supported in JIT IR")
	default:
		return nil, errAt(s.Pos, "unsupported statement kind %s", s.Kind)
	}
}

func (b *builder) buildAssign(s ast.Stmt) (*ir.Stmt, error) {
	a := s.Assign
	if existing, ok := b.syms.lookup(a.Name); ok && existing.isParam {
		return nil, errAt(s.Pos, "cannot assign to parameter %q", a.Name)
	}
	expr, err := b.resolveExpr(a.Value)
	if err != nil {
		return nil, err
	}
	if existing, ok := b.syms.lookup(a.Name); ok {
		if existing.dtype != expr.Dtype {
			return nil, errAt(s.Pos, "%q redeclared with dtype %s, previously %s", a.Name, expr.Dtype, existing.dtype)
		}
	} else {
		b.syms.define(a.Name, expr.Dtype, false)
	}
	return &ir.Stmt{Kind: ir.StmtAssign, Line: s.Pos.Line, Col: s.Pos.Column,
		Assign: &ir.Assign{Name: a.Name, Dtype: expr.Dtype, Value: expr}}, nil
}

func (b *builder) buildIf(s ast.Stmt, inLoop bool) (*ir.Stmt, error) {
	a := s.If
	cond, err := b.resolveExpr(a.Cond)
	if err != nil {
		return nil, err
	}
	then, err := b.buildBlock(a.Then, inLoop)
	if err != nil {
		return nil, err
	}
	out := &ir.If{Cond: cond, Then: then}
	for _, elif := range a.Elifs {
		econd, err := b.resolveExpr(elif.Cond)
		if err != nil {
			return nil, err
		}
		eblock, err := b.buildBlock(elif.Block, inLoop)
		if err != nil {
			return nil, err
		}
		out.Elifs = append(out.Elifs, ir.Elif{Cond: econd, Block: eblock})
	}
	if a.Else != nil {
		elseBlock, err := b.buildBlock(a.Else, inLoop)
		if err != nil {
			return nil, err
		}
		out.Else = elseBlock
	}
	return &ir.Stmt{Kind: ir.StmtIf, Line: s.Pos.Line, Col: s.Pos.Column, If: out}, nil
}

func (b *builder) buildFor(s ast.Stmt) (*ir.Stmt, error) {
	f := s.For
	if _, exists := b.syms.lookup(f.Var); exists {
		return nil, errAt(s.Pos, "for-loop variable %q shadows an existing name", f.Var)
	}
	if strings.Contains(topLevelCommaScan(f.Limit.Text), ",") {
		return nil, errAt(f.Limit.Pos, "multi-argument range() is not supported")
	}
	limit, err := b.resolveExpr(f.Limit)
	if err != nil {
		return nil, err
	}
	b.syms.define(f.Var, dsltypes.DtypeInt64, false)
	body, err := b.buildBlock(f.Body, true)
	if err != nil {
		return nil, err
	}
	return &ir.Stmt{Kind: ir.StmtFor, Line: s.Pos.Line, Col: s.Pos.Column,
		For: &ir.For{Var: f.Var, Limit: limit, Body: body}}, nil
}

// topLevelCommaScan returns text with every comma nested inside
// parentheses/brackets/braces removed, leaving only top-level commas
// for the caller to test for. This is the "rough test" the spec
// describes for excluding range(start, stop[, step]) forms without a
// full expression parser.
func topLevelCommaScan(text string) string {
	depth := 0
	var out strings.Builder
	for _, r := range text {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				out.WriteByte(',')
			}
			continue
		}
	}
	return out.String()
}
