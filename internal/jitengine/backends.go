package jitengine

import (
	"context"
	"fmt"

	"medsl/internal/codegen"
	"medsl/internal/dsltypes"
	"medsl/internal/embedcc"
	"medsl/internal/fingerprint"
	"medsl/internal/ir"
	"medsl/internal/jitcache"
	"medsl/internal/nativecc"
)

// compileNative generates C for prog, shells out to the configured
// compiler, and loads the resulting shared object, writing the
// metadata sidecar — with a trailing signature section over the
// object bytes (§4.9) — so a future process can trust and reuse the
// artifact without recompiling.
func (e *Engine) compileNative(ctx context.Context, prog *ir.Program, outputDtype dsltypes.Dtype, key fingerprint.Key, meta jitcache.Metadata) (*Result, error) {
	if !nativecc.Available(e.cfg.CC) {
		return nil, wrapClass(dsltypes.FailureCompile, errNoCompiler(e.cfg.CC))
	}

	src, err := codegen.Generate(prog, outputDtype, codegen.Options{SymbolName: symbolName(key)})
	if err != nil {
		return nil, wrapClass(dsltypes.FailureCompile, err)
	}

	opts := nativecc.Options{CC: e.cfg.CC, ExtraCFlags: e.cfg.ExtraCFlags, FPMode: prog.FPMode}
	if err := nativecc.CompileToSharedObject(ctx, e.cacheDir, key.Value, src, opts); err != nil {
		return nil, wrapClass(dsltypes.FailureCompile, err)
	}

	paths := jitcache.Paths(e.cacheDir, key.Value)
	if data, rerr := readFileBytes(paths.Object); rerr == nil {
		meta.Signature = e.signer.Sign(data)
	}
	if err := jitcache.WriteMetadata(e.cacheDir, key.Value, meta); err != nil {
		return nil, wrapClass(dsltypes.FailureMetadata, err)
	}
	if info, serr := statSize(paths.Object); serr == nil {
		e.tracer.ArtifactWritten(key.Value, paths.Object, info)
	}

	sym, err := nativecc.LoadSymbol(paths.Object, symbolName(key))
	if err != nil {
		return nil, wrapClass(dsltypes.FailureLoad, err)
	}
	return &Result{Symbol: sym, Key: key, Backend: dsltypes.BackendSharedObject}, nil
}

// compileEmbedded runs the IR directly through the embedded tiny
// compiler, skipping the external toolchain and the disk cache
// entirely — its machine code lives only in this process's anonymous
// executable mapping, so there is nothing to write a sidecar for.
func (e *Engine) compileEmbedded(prog *ir.Program, outputDtype dsltypes.Dtype, key fingerprint.Key) (*Result, error) {
	if prog.FPMode != dsltypes.FPStrict {
		return nil, wrapClass(dsltypes.FailureCompile,
			fmt.Errorf("jitengine: embedded backend only supports fp_mode=strict, got %s", prog.FPMode))
	}
	code, err := embedcc.Compile(prog, outputDtype)
	if err != nil {
		return nil, wrapClass(dsltypes.FailureCompile, err)
	}
	sym, err := embedcc.New(code)
	if err != nil {
		return nil, wrapClass(dsltypes.FailureLoad, err)
	}
	return &Result{Symbol: sym, Key: key, Backend: dsltypes.BackendEmbeddedTCC}, nil
}
