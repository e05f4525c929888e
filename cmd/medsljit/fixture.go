// Test-fixture JSON decoding for the medsljit CLI. The real
// surface-language parser and dtype resolver are host collaborators
// out of scope for this core (see spec §1); this file stands in for
// both with an explicit, already-typed JSON representation so the CLI
// can drive the JIT pipeline end to end without reimplementing a
// parser.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"medsl/internal/ast"
	"medsl/internal/dsltypes"
	"medsl/internal/ir"
	"medsl/internal/irbuild"
)

type exprJSON struct {
	Text  string `json:"text"`
	Dtype string `json:"dtype"`
}

type elifJSON struct {
	Cond  exprJSON   `json:"cond"`
	Block []stmtJSON `json:"block"`
}

type stmtJSON struct {
	Kind  string     `json:"kind"`
	Name  string     `json:"name,omitempty"`
	Value *exprJSON  `json:"value,omitempty"`
	Cond  *exprJSON  `json:"cond,omitempty"`
	Then  []stmtJSON `json:"then,omitempty"`
	Elifs []elifJSON `json:"elifs,omitempty"`
	Else  []stmtJSON `json:"else,omitempty"`
	Var   string     `json:"var,omitempty"`
	Limit *exprJSON  `json:"limit,omitempty"`
	Body  []stmtJSON `json:"body,omitempty"`
}

type paramJSON struct {
	Name  string `json:"name"`
	Dtype string `json:"dtype"`
}

type programJSON struct {
	Name        string      `json:"name"`
	Dialect     string      `json:"dialect"`
	FPMode      string      `json:"fp_mode"`
	Params      []paramJSON `json:"params"`
	OutputDtype string      `json:"output_dtype"`
	Block       []stmtJSON  `json:"block"`
}

func parseDtype(s string) (dsltypes.Dtype, error) {
	switch s {
	case "bool":
		return dsltypes.DtypeBool, nil
	case "int8":
		return dsltypes.DtypeInt8, nil
	case "int16":
		return dsltypes.DtypeInt16, nil
	case "int32":
		return dsltypes.DtypeInt32, nil
	case "int64":
		return dsltypes.DtypeInt64, nil
	case "uint8":
		return dsltypes.DtypeUint8, nil
	case "uint16":
		return dsltypes.DtypeUint16, nil
	case "uint32":
		return dsltypes.DtypeUint32, nil
	case "uint64":
		return dsltypes.DtypeUint64, nil
	case "float32":
		return dsltypes.DtypeFloat32, nil
	case "float64":
		return dsltypes.DtypeFloat64, nil
	case "auto", "":
		return dsltypes.DtypeAuto, nil
	default:
		return dsltypes.DtypeAuto, fmt.Errorf("unknown dtype %q", s)
	}
}

func parseDialect(s string) dsltypes.Dialect {
	if s == "element" {
		return dsltypes.DialectElement
	}
	return dsltypes.DialectVector
}

func parseFPMode(s string) dsltypes.FPMode {
	switch s {
	case "contract":
		return dsltypes.FPContract
	case "fast":
		return dsltypes.FPFast
	default:
		return dsltypes.FPStrict
	}
}

// fixtureResolver assigns every expression it touches a fresh
// synthetic source position (used only as a lookup key, not a real
// line/column) and resolves it back to the dtype given alongside the
// expression's text in the fixture JSON.
type fixtureResolver struct {
	dtypes map[int]dsltypes.Dtype
	next   int
}

func newFixtureResolver() *fixtureResolver {
	return &fixtureResolver{dtypes: make(map[int]dsltypes.Dtype)}
}

func (r *fixtureResolver) expr(e exprJSON) (ast.Expr, error) {
	dt, err := parseDtype(e.Dtype)
	if err != nil {
		return ast.Expr{}, err
	}
	r.next++
	r.dtypes[r.next] = dt
	return ast.Expr{Text: e.Text, Pos: ast.Pos{Line: r.next, Column: 0}}, nil
}

func (r *fixtureResolver) resolve(_ interface{}, e ast.Expr) (dsltypes.Dtype, error) {
	dt, ok := r.dtypes[e.Pos.Line]
	if !ok {
		return dsltypes.DtypeAuto, fmt.Errorf("fixture: no recorded dtype for expression %q", e.Text)
	}
	return dt, nil
}

func (r *fixtureResolver) stmt(s stmtJSON) (ast.Stmt, error) {
	switch s.Kind {
	case "assign":
		v, err := r.expr(*s.Value)
		if err != nil {
			return ast.Stmt{}, err
		}
		return ast.Stmt{Kind: ast.StmtAssign, Assign: &ast.AssignStmt{Name: s.Name, Value: v}}, nil
	case "return":
		v, err := r.expr(*s.Value)
		if err != nil {
			return ast.Stmt{}, err
		}
		return ast.Stmt{Kind: ast.StmtReturn, Return: &ast.ReturnStmt{Value: v}}, nil
	case "if":
		cond, err := r.expr(*s.Cond)
		if err != nil {
			return ast.Stmt{}, err
		}
		then, err := r.block(s.Then)
		if err != nil {
			return ast.Stmt{}, err
		}
		out := &ast.IfStmt{Cond: cond, Then: then}
		for _, e := range s.Elifs {
			ec, err := r.expr(e.Cond)
			if err != nil {
				return ast.Stmt{}, err
			}
			eb, err := r.block(e.Block)
			if err != nil {
				return ast.Stmt{}, err
			}
			out.Elifs = append(out.Elifs, ast.ElifBranch{Cond: ec, Block: eb})
		}
		if s.Else != nil {
			eb, err := r.block(s.Else)
			if err != nil {
				return ast.Stmt{}, err
			}
			out.Else = eb
		}
		return ast.Stmt{Kind: ast.StmtIf, If: out}, nil
	case "for":
		limit, err := r.expr(*s.Limit)
		if err != nil {
			return ast.Stmt{}, err
		}
		body, err := r.block(s.Body)
		if err != nil {
			return ast.Stmt{}, err
		}
		return ast.Stmt{Kind: ast.StmtFor, For: &ast.ForStmt{Var: s.Var, Limit: limit, Body: body}}, nil
	case "break":
		return ast.Stmt{Kind: ast.StmtBreak, Break: &ast.BreakStmt{}}, nil
	case "continue":
		return ast.Stmt{Kind: ast.StmtContinue, Continue: &ast.ContinueStmt{}}, nil
	default:
		return ast.Stmt{}, fmt.Errorf("fixture: unknown statement kind %q", s.Kind)
	}
}

func (r *fixtureResolver) block(stmts []stmtJSON) ([]ast.Stmt, error) {
	out := make([]ast.Stmt, 0, len(stmts))
	for _, s := range stmts {
		as, err := r.stmt(s)
		if err != nil {
			return nil, err
		}
		out = append(out, as)
	}
	return out, nil
}

// loadProgram reads a fixture JSON file and builds the typed IR for
// it, returning the requested output dtype alongside.
func loadProgram(path string) (*ir.Program, dsltypes.Dtype, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dsltypes.DtypeAuto, err
	}
	var pj programJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return nil, dsltypes.DtypeAuto, fmt.Errorf("parse %s: %w", path, err)
	}

	outDtype, err := parseDtype(pj.OutputDtype)
	if err != nil {
		return nil, dsltypes.DtypeAuto, err
	}

	params := make([]ir.Param, len(pj.Params))
	for i, p := range pj.Params {
		dt, err := parseDtype(p.Dtype)
		if err != nil {
			return nil, dsltypes.DtypeAuto, err
		}
		params[i] = ir.Param{Name: p.Name, Dtype: dt}
	}

	r := newFixtureResolver()
	block, err := r.block(pj.Block)
	if err != nil {
		return nil, dsltypes.DtypeAuto, err
	}

	surface := &ast.Program{
		Name:    pj.Name,
		Dialect: parseDialect(pj.Dialect),
		FPMode:  parseFPMode(pj.FPMode),
		Block:   block,
	}

	prog, err := irbuild.Build(nil, surface, params, r.resolve)
	if err != nil {
		return nil, dsltypes.DtypeAuto, fmt.Errorf("build %s: %w", path, err)
	}
	return prog, outDtype, nil
}

// loadInputs reads a JSON object of {paramName: [numbers...]} and
// returns the raw float64 columns plus their shared length, after
// checking that every parameter of prog has a column of that length.
// Conversion to each parameter's dtype is left to the caller.
func loadInputs(path string, prog *ir.Program) (map[string][]float64, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	var raw map[string][]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("parse %s: %w", path, err)
	}
	nitems := -1
	for _, p := range prog.Params {
		vals, ok := raw[p.Name]
		if !ok {
			return nil, 0, fmt.Errorf("missing input column %q", p.Name)
		}
		if nitems == -1 {
			nitems = len(vals)
		} else if len(vals) != nitems {
			return nil, 0, fmt.Errorf("input column %q has %d items, want %d", p.Name, len(vals), nitems)
		}
	}
	if nitems == -1 {
		nitems = 0
	}
	return raw, nitems, nil
}
