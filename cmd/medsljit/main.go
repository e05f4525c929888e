// Command medsljit is a small, direct driver over the JIT pipeline:
// given a fixture describing an already-typed program (see
// fixture.go) it can print the generated C, print the fingerprint and
// cache key, or compile-and-evaluate one block of inputs. It exists
// to exercise internal/irbuild through internal/program end to end
// from the command line and under testscript, the way the teacher's
// own cmd/sentra wraps its compiler/VM pipeline in a thin CLI shell.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"medsl/internal/codegen"
	"medsl/internal/config"
	"medsl/internal/diag"
	"medsl/internal/dsltypes"
	"medsl/internal/fingerprint"
	"medsl/internal/interp"
	"medsl/internal/jitcache"
	"medsl/internal/jitengine"
	"medsl/internal/program"
)

func main() {
	os.Exit(run())
}

// run is the shared entry point for both the real main() and
// testscript's in-process "medsljit" command.
func run() int {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: medsljit <gen|fingerprint|eval> ...")
		return 2
	}
	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "gen":
		err = runGen(args)
	case "fingerprint":
		err = runFingerprint(args)
	case "eval":
		err = runEval(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", cmd)
		return 2
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "medsljit:", err)
		return 1
	}
	return 0
}

func runGen(args []string) error {
	fs := flag.NewFlagSet("gen", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "override the emitted kernel symbol name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: medsljit gen <program.json>")
	}
	prog, outDtype, err := loadProgram(fs.Arg(0))
	if err != nil {
		return err
	}
	src, err := codegen.Generate(prog, outDtype, codegen.Options{SymbolName: *symbol})
	if err != nil {
		return err
	}
	fmt.Print(src)
	return nil
}

func runFingerprint(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: medsljit fingerprint <program.json>")
	}
	prog, outDtype, err := loadProgram(args[0])
	if err != nil {
		return err
	}
	fp := fingerprint.Fingerprint(prog)
	paramDtypes := make([]dsltypes.Dtype, len(prog.Params))
	for i, p := range prog.Params {
		paramDtypes[i] = p.Dtype
	}
	key := fingerprint.CacheKey(fp, fingerprint.KeyParams{
		OutputDtype: outDtype,
		FPMode:      prog.FPMode,
		ParamDtypes: paramDtypes,
		PointerSize: jitcache.PointerSize(),
		CgenVersion: codegen.Version,
		Platform:    jitcache.CurrentPlatform(),
		Backend:     1,
	})
	fmt.Printf("fingerprint=%016x cachekey=%016x\n", fp, key.Value)
	return nil
}

func runEval(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: medsljit eval <program.json> <inputs.json>")
	}
	prog, outDtype, err := loadProgram(args[0])
	if err != nil {
		return err
	}
	raw, nitems, err := loadInputs(args[1], prog)
	if err != nil {
		return err
	}

	cfg := config.Load()
	eng, err := jitengine.New(cfg)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Close()

	tracer := diag.NewStderr(cfg.Trace)
	cp, err := program.Compile(context.Background(), eng, tracer, interp.DefaultEngine{}, prog, outDtype)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	defer cp.Close()

	inputs := make(map[string]*program.Column, len(prog.Params))
	for _, p := range prog.Params {
		col := program.NewColumn(p.Dtype, nitems)
		for i, v := range raw[p.Name] {
			col.Set(i, floatToValue(v, p.Dtype))
		}
		inputs[p.Name] = col
	}

	out, err := cp.EvalBlock(inputs, nitems, nil)
	if err != nil {
		return fmt.Errorf("eval: %w", err)
	}

	result := make([]float64, nitems)
	for i := 0; i < nitems; i++ {
		result[i] = out.Get(i).AsFloat()
	}
	fmt.Fprintf(os.Stdout, "backend=%s kernel=%v\n", backendName(cp), cp.HasKernel())
	enc, err := json.Marshal(result)
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}

func floatToValue(f float64, dt dsltypes.Dtype) interp.Value {
	if dt == dsltypes.DtypeFloat32 || dt == dsltypes.DtypeFloat64 {
		return interp.Value{Dtype: dt, F: f}
	}
	return interp.Value{Dtype: dt, I: int64(f)}
}

func backendName(cp *program.CompiledProgram) string {
	switch cp.Backend {
	case dsltypes.BackendSharedObject:
		return "nativecc"
	case dsltypes.BackendEmbeddedTCC:
		return "embedcc"
	default:
		return "interpreter"
	}
}
