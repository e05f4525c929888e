// Package nativecc is the external-C-compiler backend: it writes the
// generated C source to disk, shells out to $CC to produce a
// position-independent shared object, and dynamically loads the
// resulting kernel symbol.
package nativecc

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"medsl/internal/dsltypes"
	"medsl/internal/jitcache"
)

// Options configures one native compile.
type Options struct {
	CC          string
	ExtraCFlags []string
	FPMode      dsltypes.FPMode
}

// Available reports whether cc looks runnable at all (a cheap
// LookPath check; actual invocation failures are still classified
// normally).
func Available(cc string) bool {
	_, err := exec.LookPath(cc)
	return err == nil
}

// CompileToSharedObject invokes the configured compiler to produce a
// shared object for cacheKey in dir from source, writing it
// atomically (compile to a uuid-named temp output, then rename).
func CompileToSharedObject(ctx context.Context, dir string, cacheKey uint64, source string, opts Options) error {
	paths := jitcache.Paths(dir, cacheKey)
	if err := jitcache.WriteSource(dir, cacheKey, []byte(source)); err != nil {
		return err
	}

	tmpObj := filepath.Join(dir, "."+uuid.NewString()+".so.tmp")
	args := []string{"-shared", "-fPIC", "-O2"}
	args = append(args, opts.FPMode.CFlags()...)
	args = append(args, opts.ExtraCFlags...)
	args = append(args, "-o", tmpObj, paths.Source)

	cc := opts.CC
	if cc == "" {
		cc = "cc"
	}
	cmd := exec.CommandContext(ctx, cc, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(tmpObj)
		return errors.Wrapf(err, "compile %s: %s", paths.Source, string(out))
	}
	if err := os.Rename(tmpObj, paths.Object); err != nil {
		os.Remove(tmpObj)
		return errors.Wrapf(err, "install shared object %s", paths.Object)
	}
	return nil
}
