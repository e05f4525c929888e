//go:build !cgo || (!darwin && !linux)

package nativecc

import (
	"runtime"

	"github.com/pkg/errors"

	"medsl/internal/jitcache"
)

// LoadSymbol is unavailable on this build: no cgo, or a platform
// without a POSIX dynamic loader. Per spec §1 this backend is
// out-of-scope there; callers fall through to package embedcc or the
// interpreter.
func LoadSymbol(path, symbolName string) (jitcache.Symbol, error) {
	return nil, errors.Errorf("dynamic loading unavailable on %s without cgo", runtime.GOOS)
}
