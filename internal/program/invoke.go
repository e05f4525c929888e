package program

import (
	"fmt"
	"unsafe"
)

// invokeKernel builds the dense `const void **inputs` array the
// kernel ABI expects by indirecting through ParamIndex, then calls
// the loaded symbol (§4.6 step 1).
func (cp *CompiledProgram) invokeKernel(inputs map[string]*Column, out *Column, nitems int) (int, error) {
	ptrs := make([]unsafe.Pointer, len(cp.IR.Params))
	for _, p := range cp.IR.Params {
		idx, ok := cp.ParamIndex[p.Name]
		if !ok {
			return 0, fmt.Errorf("program: parameter %q has no input-index mapping", p.Name)
		}
		col, ok := inputs[p.Name]
		if !ok {
			return 0, fmt.Errorf("program: missing input column %q", p.Name)
		}
		ptrs[idx] = col.Ptr()
	}
	status := cp.kernel.Invoke(ptrs, out.Ptr(), int64(nitems))
	return status, nil
}
