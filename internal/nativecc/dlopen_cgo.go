//go:build cgo && (darwin || linux)

package nativecc

/*
#include <dlfcn.h>
#include <stdint.h>
#include <stdlib.h>

typedef int (*me_dsl_kernel_fn)(const void **inputs, void *output, int64_t nitems);

static int me_dsl_call_kernel(void *fn, const void **inputs, void *output, int64_t nitems) {
    return ((me_dsl_kernel_fn)fn)(inputs, output, nitems);
}
*/
import "C"

import (
	"unsafe"

	"github.com/pkg/errors"

	"medsl/internal/jitcache"
)

// LoadSymbol is the narrow unsafe boundary described in the
// originating spec's design notes: it exists only to open a freshly
// compiled shared object produced by our own codegen and resolve one
// symbol of a fixed C ABI. It must never be used to load arbitrary,
// untrusted code — callers are expected to only ever pass paths this
// package itself produced. It dlopens path and dlsym's symbolName,
// returning a Symbol that can be bound into the positive cache or
// owned directly by a compiled program.
func LoadSymbol(path, symbolName string) (jitcache.Symbol, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	lib := C.dlopen(cpath, C.RTLD_NOW|C.RTLD_LOCAL)
	if lib == nil {
		return nil, errors.Errorf("dlopen %s: %s", path, C.GoString(C.dlerror()))
	}

	csym := C.CString(symbolName)
	defer C.free(unsafe.Pointer(csym))
	fn := C.dlsym(lib, csym)
	if fn == nil {
		C.dlclose(lib)
		return nil, errors.Errorf("dlsym %s in %s: %s", symbolName, path, C.GoString(C.dlerror()))
	}

	return &nativeSymbol{lib: lib, fn: fn}, nil
}

type nativeSymbol struct {
	lib unsafe.Pointer
	fn  unsafe.Pointer
}

func (s *nativeSymbol) Invoke(inputs []unsafe.Pointer, output unsafe.Pointer, nitems int64) int {
	var inputsPtr *unsafe.Pointer
	if len(inputs) > 0 {
		inputsPtr = &inputs[0]
	}
	return int(C.me_dsl_call_kernel(s.fn, inputsPtr, output, C.int64_t(nitems)))
}

func (s *nativeSymbol) Close() error {
	if s.lib == nil {
		return nil
	}
	if C.dlclose(s.lib) != 0 {
		return errors.New(C.GoString(C.dlerror()))
	}
	s.lib = nil
	return nil
}
