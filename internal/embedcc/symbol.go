//go:build amd64 && (linux || darwin)

package embedcc

import "unsafe"

func unsafeSliceAddr(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}

// embeddedSymbol implements jitcache.Symbol over a machine-code buffer
// produced by Compile, invoked through the callKernel trampoline
// (call_amd64.s) rather than cgo.
type embeddedSymbol struct {
	buf *execBuffer
	fn  uintptr
}

// New compiles prog and maps it executable, returning a ready-to-call
// kernel symbol. Callers are expected to treat any error as a compile
// failure for the embedded backend and fall through to package
// nativecc or the interpreter.
func New(progCode []byte) (*embeddedSymbol, error) {
	buf, err := mapExecutable(progCode)
	if err != nil {
		return nil, err
	}
	return &embeddedSymbol{buf: buf, fn: buf.addr()}, nil
}

// Invoke calls the kernel with the fixed C-ABI signature
// int(const void**, void*, int64_t), satisfying jitcache.Symbol.
func (s *embeddedSymbol) Invoke(inputs []unsafe.Pointer, output unsafe.Pointer, nitems int64) int {
	var inputsPtr unsafe.Pointer
	if len(inputs) > 0 {
		inputsPtr = unsafe.Pointer(&inputs[0])
	}
	return int(callKernel(s.fn, inputsPtr, output, nitems))
}

func (s *embeddedSymbol) Close() error {
	return s.buf.Close()
}

//go:noescape
func callKernel(fn uintptr, inputs unsafe.Pointer, output unsafe.Pointer, nitems int64) int32
