//go:build !amd64 || !(linux || darwin)

package embedcc

import (
	"runtime"
	"unsafe"

	"github.com/pkg/errors"

	"medsl/internal/dsltypes"
	"medsl/internal/ir"
)

// Compile is unavailable on this platform: the embedded backend only
// emits x86-64 and only maps executable memory the POSIX way. Callers
// fall through to package nativecc or the interpreter.
func Compile(prog *ir.Program, outputDtype dsltypes.Dtype) ([]byte, error) {
	return nil, errors.Errorf("embedcc: unavailable on %s/%s", runtime.GOOS, runtime.GOARCH)
}

// embeddedSymbol is an unreachable jitcache.Symbol implementation:
// New never succeeds on this platform, so no instance is ever
// constructed. It exists only so this package's exported shape
// matches the amd64/unix build.
type embeddedSymbol struct{}

func (*embeddedSymbol) Invoke(inputs []unsafe.Pointer, output unsafe.Pointer, nitems int64) int {
	return -1
}
func (*embeddedSymbol) Close() error { return nil }

// New is unavailable on this platform; see Compile.
func New(progCode []byte) (*embeddedSymbol, error) {
	return nil, errors.Errorf("embedcc: unavailable on %s/%s", runtime.GOOS, runtime.GOARCH)
}
