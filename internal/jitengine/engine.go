// Package jitengine orchestrates the full compile pipeline described
// in §4.5 of the originating spec: positive cache, negative cache,
// on-disk artifact reuse, external-compiler compile, and the embedded
// backend fallback, in that fixed order, with concurrent compiles of
// the same cache key deduplicated via singleflight — the same pattern
// the teacher's internal/concurrency package uses to collapse
// duplicate module loads.
package jitengine

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/singleflight"

	"medsl/internal/codegen"
	"medsl/internal/config"
	"medsl/internal/diag"
	"medsl/internal/dsltypes"
	"medsl/internal/fingerprint"
	"medsl/internal/ir"
	"medsl/internal/jitcache"
	"medsl/internal/ledger"
	"medsl/internal/nativecc"
	"medsl/internal/traceserver"
)

// Engine holds every piece of state the compile pipeline needs across
// calls: the two in-process caches, the disk cache directory, the
// signer, the optional ledger, and a singleflight group keyed by cache
// key value so two goroutines racing to compile the same program share
// one toolchain invocation.
type Engine struct {
	cfg       config.Config
	pos       *jitcache.PositiveCache
	neg       *jitcache.NegativeCache
	signer    *jitcache.Signer
	tracer    *diag.Tracer
	ledger    *ledger.Ledger
	cacheDir  string
	group     singleflight.Group
	hub       *traceserver.Hub
	hubCancel context.CancelFunc
}

// New builds an Engine from cfg, creating the on-disk cache directory,
// an ed25519 signer and — if ME_DSL_JIT_LEDGER is set — the async
// compile-event ledger. If cfg.TraceWSAddr is set, it also starts the
// live trace-event websocket feed (§4.10) in the background and wires
// it as the tracer's Sink; this never gates compilation, since Sink
// publication is fire-and-forget.
func New(cfg config.Config) (*Engine, error) {
	dir, err := jitcache.CacheDir(cfg.TmpDir)
	if err != nil {
		return nil, err
	}
	signer, err := jitcache.NewSigner(cfg.SignKeyPath)
	if err != nil {
		return nil, err
	}
	var ledg *ledger.Ledger
	if cfg.LedgerPath != "" {
		ledg, err = ledger.Open(cfg.LedgerPath)
		if err != nil {
			return nil, err
		}
	}
	e := &Engine{
		cfg:      cfg,
		pos:      jitcache.NewPositiveCache(cfg.PositiveCache),
		neg:      jitcache.NewNegativeCache(),
		signer:   signer,
		tracer:   diag.NewStderr(cfg.Trace),
		ledger:   ledg,
		cacheDir: dir,
	}
	if cfg.TraceWSAddr != "" {
		hub := traceserver.NewHub()
		ctx, cancel := context.WithCancel(context.Background())
		e.hub = hub
		e.hubCancel = cancel
		e.tracer.SetSink(hub)
		go hub.Serve(ctx, cfg.TraceWSAddr)
	}
	return e, nil
}

// Close releases the ledger's background writer and shuts down the
// live trace feed, if either was opened.
func (e *Engine) Close() error {
	if e.hubCancel != nil {
		e.hubCancel()
	}
	if e.ledger == nil {
		return nil
	}
	return e.ledger.Close()
}

// Result is what a successful compile attempt produces. Owned
// reports whether the caller (package program) is responsible for
// closing Symbol when its compiled program is released: false
// whenever the positive cache has taken (or already holds) a
// reference, since the cache's own lifetime then governs it.
type Result struct {
	Symbol  jitcache.Symbol
	Key     fingerprint.Key
	Backend dsltypes.BackendTag
	Owned   bool
}

// Compile runs the full order-of-attempts pipeline for prog/outputDtype
// and returns a callable kernel symbol, or a classified failure the
// caller (package program) records and falls back from to the
// interpreter.
func (e *Engine) Compile(ctx context.Context, prog *ir.Program, outputDtype dsltypes.Dtype) (*Result, dsltypes.FailureClass, error) {
	if !e.cfg.JITEnabled {
		return nil, dsltypes.FailureNone, fmt.Errorf("jitengine: JIT disabled")
	}

	fp := fingerprint.Fingerprint(prog)
	paramDtypes := make([]dsltypes.Dtype, len(prog.Params))
	for i, p := range prog.Params {
		paramDtypes[i] = p.Dtype
	}
	kp := fingerprint.KeyParams{
		OutputDtype: outputDtype,
		FPMode:      prog.FPMode,
		ParamDtypes: paramDtypes,
		PointerSize: jitcache.PointerSize(),
		CgenVersion: codegen.Version,
		Platform:    jitcache.CurrentPlatform(),
	}

	backends := []dsltypes.BackendTag{dsltypes.BackendSharedObject, dsltypes.BackendEmbeddedTCC}
	if e.cfg.ForceEmbedded {
		backends = []dsltypes.BackendTag{dsltypes.BackendEmbeddedTCC}
	}

	var lastErr error
	lastClass := dsltypes.FailureUnclassified
	for _, backend := range backends {
		bkp := kp
		bkp.Backend = backend
		key := fingerprint.CacheKey(fp, bkp)

		if sym, ok := e.pos.Lookup(key.Value); ok {
			e.tracer.CacheHit(key.Value)
			e.neg.Clear(key.Value)
			return &Result{Symbol: sym, Key: key, Backend: backend, Owned: false}, dsltypes.FailureNone, nil
		}

		if class, retryAfter, ok := e.neg.Lookup(key.Value); ok && time.Now().Before(retryAfter) {
			e.tracer.Cooldown(key.Value, class.String(), time.Until(retryAfter))
			lastErr = fmt.Errorf("jitengine: %s backend in cooldown (%s)", backendName(backend), class)
			lastClass = class
			continue
		}

		v, err, _ := e.group.Do(fmt.Sprintf("%016x", key.Value), func() (interface{}, error) {
			return e.compileOne(ctx, prog, outputDtype, fp, key, backend)
		})
		if err != nil {
			lastErr = err
			lastClass = classify(err)
			e.neg.RecordFailure(key.Value, lastClass)
			e.tracer.CompileFailed(key.Value, lastClass.String(), err)
			if e.ledger != nil {
				e.ledger.Record(ledgerEvent(key.Value, fp, "failed", lastClass, backend, 0))
			}
			continue
		}
		res := v.(*Result)
		cached, callerOwns := e.pos.Bind(key.Value, res.Symbol)
		res.Symbol = cached
		res.Owned = callerOwns
		e.neg.Clear(key.Value)
		if e.ledger != nil {
			e.ledger.Record(ledgerEvent(key.Value, fp, "compiled", dsltypes.FailureNone, backend, 0))
		}
		return res, dsltypes.FailureNone, nil
	}

	return nil, lastClass, lastErr
}

func ledgerEvent(key, fp uint64, outcome string, class dsltypes.FailureClass, backend dsltypes.BackendTag, dur time.Duration) ledger.Event {
	return ledger.Event{
		CacheKey:      key,
		IRFingerprint: fp,
		Outcome:       outcome,
		FailureClass:  class,
		Backend:       backendName(backend),
		Duration:      dur,
		RecordedAt:    time.Now(),
	}
}

func backendName(b dsltypes.BackendTag) string {
	switch b {
	case dsltypes.BackendSharedObject:
		return "nativecc"
	case dsltypes.BackendEmbeddedTCC:
		return "embedcc"
	default:
		return "unknown"
	}
}

func classify(err error) dsltypes.FailureClass {
	if ce, ok := err.(classifiedError); ok {
		return ce.class
	}
	return dsltypes.FailureUnclassified
}

type classifiedError struct {
	class dsltypes.FailureClass
	err   error
}

func (e classifiedError) Error() string { return e.err.Error() }
func (e classifiedError) Unwrap() error { return e.err }

func wrapClass(class dsltypes.FailureClass, err error) error {
	if err == nil {
		return nil
	}
	return classifiedError{class: class, err: err}
}

// compileOne performs one backend's attempt: disk-artifact reuse when
// trustworthy metadata is present, otherwise a fresh compile through
// that backend's toolchain.
func (e *Engine) compileOne(ctx context.Context, prog *ir.Program, outputDtype dsltypes.Dtype, fp uint64, key fingerprint.Key, backend dsltypes.BackendTag) (*Result, error) {
	paramDtypes := make([]dsltypes.Dtype, len(prog.Params))
	for i, p := range prog.Params {
		paramDtypes[i] = p.Dtype
	}
	expected, err := jitcache.NewMetadata(key.Value, fp, outputDtype, prog.Dialect, prog.FPMode, paramDtypes,
		codegen.Version, e.compilerIdentity(prog.FPMode))
	if err != nil {
		return nil, wrapClass(dsltypes.FailureMetadata, err)
	}

	if backend == dsltypes.BackendSharedObject {
		if sym, err := e.reuseDiskArtifact(expected, key); err == nil {
			return &Result{Symbol: sym, Key: key, Backend: backend}, nil
		}
		return e.compileNative(ctx, prog, outputDtype, key, expected)
	}
	return e.compileEmbedded(prog, outputDtype, key)
}

// reuseDiskArtifact loads an already-compiled shared object from the
// cache directory if its metadata sidecar byte-for-byte matches what
// this process would itself produce, and — when the sidecar carries a
// trailing signature section (§4.9) — that signature verifies.
func (e *Engine) reuseDiskArtifact(expected jitcache.Metadata, key fingerprint.Key) (jitcache.Symbol, error) {
	if !jitcache.ObjectExists(e.cacheDir, key.Value) {
		return nil, fmt.Errorf("jitengine: no disk artifact for key %016x", key.Value)
	}
	actual, err := jitcache.ReadMetadataFile(e.cacheDir, key.Value)
	if err != nil || !actual.Matches(expected) {
		return nil, fmt.Errorf("jitengine: stale or missing metadata for key %016x", key.Value)
	}
	paths := jitcache.Paths(e.cacheDir, key.Value)
	if len(actual.Signature) > 0 {
		data, rerr := os.ReadFile(paths.Object)
		if rerr != nil || !e.signer.Verify(data, actual.Signature) {
			return nil, fmt.Errorf("jitengine: signature verification failed for %s", paths.Object)
		}
	}
	sym, err := nativecc.LoadSymbol(paths.Object, symbolName(key))
	if err != nil {
		return nil, wrapClass(dsltypes.FailureLoad, err)
	}
	return sym, nil
}

// ElementEnabled reports whether the element dialect is allowed at
// all in this process (ME_DSL_ELEMENT, default on).
func (e *Engine) ElementEnabled() bool {
	return e.cfg.ElementDialect
}

// compilerIdentity hashes the effective compiler command for fpMode.
// Computed per compile rather than once at New, since the fp-mode
// flags are part of the command identity (§9 open question).
func (e *Engine) compilerIdentity(fpMode dsltypes.FPMode) uint64 {
	return jitcache.CompilerIdentity(e.cfg.CC, e.cfg.ExtraCFlags, fpMode)
}

// symbolName derives a per-key symbol name so distinct cache keys
// never collide inside a process that somehow keeps multiple shared
// objects resident (the codegen default is otherwise fixed).
func symbolName(key fingerprint.Key) string {
	return fmt.Sprintf("%s_%016x", "me_dsl_jit_kernel", key.Value)
}
