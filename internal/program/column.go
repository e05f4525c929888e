// Package program owns the compiled-program runtime container
// described in §3 of the originating spec and its per-block
// evaluation entry point (§4.6): it is the thing a host actually
// holds on to between a successful Compile and eventual release,
// bundling the IR, its fingerprint, the generated reference C source,
// the output dtype, the parameter→host-input-index map, the loaded
// kernel (if one compiled), and the fallback interpreter used when it
// didn't.
package program

import (
	"unsafe"

	"medsl/internal/dsltypes"
	"medsl/internal/interp"
)

// Column is a host-owned, contiguous buffer of nitems elements of one
// dtype — exactly the layout the kernel ABI expects for inputs/output
// and the layout §4.6 step 2 describes for per-local scratch buffers.
// Native endianness is assumed throughout, matching the amd64-only
// compiled backends.
type Column struct {
	Dtype  dsltypes.Dtype
	Nitems int
	data   []byte
}

// NewColumn allocates a zeroed column of nitems elements of dtype.
func NewColumn(dtype dsltypes.Dtype, nitems int) *Column {
	size := dtype.Size()
	if size == 0 {
		size = 1
	}
	return &Column{Dtype: dtype, Nitems: nitems, data: make([]byte, size*nitems)}
}

// Ptr returns the address of the column's backing storage, suitable
// for passing directly to a Symbol.Invoke call, or nil for an empty
// column (a kernel given nitems=0 never dereferences its inputs).
func (c *Column) Ptr() unsafe.Pointer {
	if len(c.data) == 0 {
		return nil
	}
	return unsafe.Pointer(&c.data[0])
}

// Get reads the i-th element as an interp.Value.
func (c *Column) Get(i int) interp.Value {
	sz := elemSize(c.Dtype)
	off := i * sz
	switch c.Dtype {
	case dsltypes.DtypeFloat32:
		return interp.Value{Dtype: c.Dtype, F: float64(*(*float32)(unsafe.Pointer(&c.data[off])))}
	case dsltypes.DtypeFloat64:
		return interp.Value{Dtype: c.Dtype, F: *(*float64)(unsafe.Pointer(&c.data[off]))}
	case dsltypes.DtypeBool, dsltypes.DtypeUint8:
		return interp.Value{Dtype: c.Dtype, I: int64(c.data[off])}
	case dsltypes.DtypeInt8:
		return interp.Value{Dtype: c.Dtype, I: int64(int8(c.data[off]))}
	case dsltypes.DtypeInt16:
		return interp.Value{Dtype: c.Dtype, I: int64(*(*int16)(unsafe.Pointer(&c.data[off])))}
	case dsltypes.DtypeUint16:
		return interp.Value{Dtype: c.Dtype, I: int64(*(*uint16)(unsafe.Pointer(&c.data[off])))}
	case dsltypes.DtypeInt32:
		return interp.Value{Dtype: c.Dtype, I: int64(*(*int32)(unsafe.Pointer(&c.data[off])))}
	case dsltypes.DtypeUint32:
		return interp.Value{Dtype: c.Dtype, I: int64(*(*uint32)(unsafe.Pointer(&c.data[off])))}
	case dsltypes.DtypeUint64:
		return interp.Value{Dtype: c.Dtype, I: int64(*(*uint64)(unsafe.Pointer(&c.data[off])))}
	default: // int64
		return interp.Value{Dtype: c.Dtype, I: *(*int64)(unsafe.Pointer(&c.data[off]))}
	}
}

// Set writes v, cast to c's dtype, as the i-th element.
func (c *Column) Set(i int, v interp.Value) {
	v = interp.CastTo(v, c.Dtype)
	sz := elemSize(c.Dtype)
	off := i * sz
	switch c.Dtype {
	case dsltypes.DtypeFloat32:
		*(*float32)(unsafe.Pointer(&c.data[off])) = float32(v.F)
	case dsltypes.DtypeFloat64:
		*(*float64)(unsafe.Pointer(&c.data[off])) = v.F
	case dsltypes.DtypeBool, dsltypes.DtypeUint8:
		c.data[off] = byte(v.I)
	case dsltypes.DtypeInt8:
		c.data[off] = byte(int8(v.I))
	case dsltypes.DtypeInt16:
		*(*int16)(unsafe.Pointer(&c.data[off])) = int16(v.I)
	case dsltypes.DtypeUint16:
		*(*uint16)(unsafe.Pointer(&c.data[off])) = uint16(v.I)
	case dsltypes.DtypeInt32:
		*(*int32)(unsafe.Pointer(&c.data[off])) = int32(v.I)
	case dsltypes.DtypeUint32:
		*(*uint32)(unsafe.Pointer(&c.data[off])) = uint32(v.I)
	case dsltypes.DtypeUint64:
		*(*uint64)(unsafe.Pointer(&c.data[off])) = uint64(v.I)
	default: // int64
		*(*int64)(unsafe.Pointer(&c.data[off])) = v.I
	}
}

func elemSize(d dsltypes.Dtype) int {
	if s := d.Size(); s > 0 {
		return s
	}
	return 1
}
