package program

import (
	"context"
	"fmt"
	"strconv"

	"medsl/internal/codegen"
	"medsl/internal/diag"
	"medsl/internal/dsltypes"
	"medsl/internal/fingerprint"
	"medsl/internal/interp"
	"medsl/internal/ir"
	"medsl/internal/jitcache"
	"medsl/internal/jitengine"
)

// NDContext carries the N-d iteration position a block is being
// evaluated at, when the host is walking a multi-dimensional array one
// innermost-dimension block at a time. Shape is the full array shape;
// Index holds the current position in every dimension except the
// innermost (the one this block's nitems sweeps over), which is left
// zero and unused. Populated into the interpreter's row bindings as
// the reserved `_ndim`, `_n<d>`, `_i<d>` variables (§4.6 step 3); a
// compiled kernel only ever sees these if the surface program's own
// expressions reference them as ordinary identifiers baked into its
// body, since the kernel ABI itself has no channel for them.
type NDContext struct {
	Shape []int64
	Index []int64
}

func (c *NDContext) bindings() map[string]interp.Value {
	if c == nil {
		return nil
	}
	out := map[string]interp.Value{
		"_ndim": {Dtype: dsltypes.DtypeInt64, I: int64(len(c.Shape))},
	}
	for d, n := range c.Shape {
		out["_n"+strconv.Itoa(d)] = interp.Value{Dtype: dsltypes.DtypeInt64, I: n}
	}
	for d, i := range c.Index {
		out["_i"+strconv.Itoa(d)] = interp.Value{Dtype: dsltypes.DtypeInt64, I: i}
	}
	return out
}

// CompiledProgram is the runtime container described in §3: it owns
// the IR, its fingerprint, a reference C rendering of it, the kernel
// entry point (if a compile attempt succeeded), and the fallback
// interpreter state used whenever it didn't.
type CompiledProgram struct {
	IR          *ir.Program
	Fingerprint uint64
	Source      string // reference C rendering; Compile fails instead when codegen rejects the program
	OutputDtype dsltypes.Dtype
	ParamIndex  map[string]int // parameter name -> position in the kernel's inputs array
	Backend     dsltypes.BackendTag
	CacheKey    uint64

	kernel      jitcache.Symbol
	kernelOwned bool
	interp      *interp.Interp
	tracer      *diag.Tracer
}

// Compile builds a CompiledProgram for prog: it generates a reference
// C source for diagnostics regardless of which backend ultimately
// runs, then runs the full jitengine pipeline. A jitengine failure is
// not fatal here — per §4.5 step 8, the program simply keeps no
// kernel and evaluation falls back to the interpreter — so Compile
// only returns an error when prog uses the element dialect while it is
// disabled in this process, or when prog itself cannot be
// code-generated at all (an IR the generator structurally rejects,
// e.g. disagreeing return dtypes), since such a program could never
// evaluate correctly either way.
func Compile(ctx context.Context, eng *jitengine.Engine, tracer *diag.Tracer, exprEngine interp.ExprEngine, prog *ir.Program, outputDtype dsltypes.Dtype) (*CompiledProgram, error) {
	if prog.Dialect == dsltypes.DialectElement && !eng.ElementEnabled() {
		return nil, fmt.Errorf("program: element dialect is disabled in this process")
	}

	src, genErr := codegen.Generate(prog, outputDtype, codegen.Options{})
	if genErr != nil {
		return nil, fmt.Errorf("program: %w", genErr)
	}

	paramIndex := make(map[string]int, len(prog.Params))
	for i, p := range prog.Params {
		paramIndex[p.Name] = i
	}

	cp := &CompiledProgram{
		IR:          prog,
		Fingerprint: fingerprint.Fingerprint(prog),
		Source:      src,
		OutputDtype: outputDtype,
		ParamIndex:  paramIndex,
		interp:      interp.New(exprEngine),
		tracer:      tracer,
	}

	res, _, err := eng.Compile(ctx, prog, outputDtype)
	if err != nil {
		if tracer != nil {
			tracer.Fallback(0, err.Error())
		}
		return cp, nil
	}
	cp.kernel = res.Symbol
	cp.kernelOwned = res.Owned
	cp.Backend = res.Backend
	cp.CacheKey = res.Key.Value
	cp.Fingerprint = res.Key.Fingerprint
	return cp, nil
}

// Close releases the loaded kernel, unless the positive cache owns it
// (§3: "loaded artifact handle is closed on destruction unless the
// positive cache owns it").
func (cp *CompiledProgram) Close() error {
	if cp.kernel != nil && cp.kernelOwned {
		return cp.kernel.Close()
	}
	return nil
}

// HasKernel reports whether a compiled kernel is available; false
// means every EvalBlock call runs the fallback interpreter.
func (cp *CompiledProgram) HasKernel() bool {
	return cp.kernel != nil
}

// EvalBlock is the per-block entry point described in §4.6: it tries
// the compiled kernel first, and falls back to the tree-walking
// interpreter when no kernel is loaded or the kernel reports failure.
// inputs must contain exactly one Column per IR parameter, keyed by
// parameter name; every column must have the same Nitems as nitems.
func (cp *CompiledProgram) EvalBlock(inputs map[string]*Column, nitems int, nd *NDContext) (*Column, error) {
	for _, p := range cp.IR.Params {
		col, ok := inputs[p.Name]
		if !ok {
			return nil, fmt.Errorf("program: missing input column %q", p.Name)
		}
		if col.Nitems != nitems {
			return nil, fmt.Errorf("program: input column %q has %d items, want %d", p.Name, col.Nitems, nitems)
		}
	}

	out := NewColumn(cp.OutputDtype, nitems)

	if cp.kernel != nil && len(cp.ParamIndex) == len(cp.IR.Params) {
		status, err := cp.invokeKernel(inputs, out, nitems)
		if err == nil && status == 0 {
			return out, nil
		}
		if cp.tracer != nil {
			reason := fmt.Sprintf("kernel status=%d", status)
			if err != nil {
				reason = err.Error()
			}
			cp.tracer.Fallback(cp.CacheKey, reason)
		}
	}

	return out, cp.evalInterpreted(inputs, out, nitems, nd)
}

func (cp *CompiledProgram) evalInterpreted(inputs map[string]*Column, out *Column, nitems int, nd *NDContext) error {
	values := make(map[string][]interp.Value, len(inputs))
	for name, col := range inputs {
		vs := make([]interp.Value, nitems)
		for i := 0; i < nitems; i++ {
			vs[i] = col.Get(i)
		}
		values[name] = vs
	}
	if ndBindings := nd.bindings(); ndBindings != nil {
		for name, v := range ndBindings {
			col := make([]interp.Value, nitems)
			for i := range col {
				col[i] = v
			}
			values[name] = col
		}
	}

	results, err := cp.interp.Run(cp.IR, cp.OutputDtype, values, nitems)
	if err != nil {
		return err
	}
	for i, v := range results {
		out.Set(i, v)
	}
	return nil
}
