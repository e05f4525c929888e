// Package interp is the fallback tree-walking interpreter used when a
// compiled kernel is unavailable, fails at runtime, or has never been
// attempted (spec §4.7). It delegates all expression evaluation to an
// external ExprEngine, mirroring how the teacher's internal/vm keeps
// operator evaluation (performAdd, performSub, ...) as small dedicated
// helpers a level below the bytecode dispatch loop — here the dispatch
// loop is the statement tree instead of a bytecode stream.
package interp

import "medsl/internal/dsltypes"

// Value is one scalar lane of a typed column. Integral dtypes (and
// bool) live in I; float32/float64 live in F. Dtype records which
// field is authoritative and how the value should be cast when
// crossing a statement boundary.
type Value struct {
	Dtype dsltypes.Dtype
	I     int64
	F     float64
}

// IsFloat reports whether v's dtype stores its payload in F.
func (v Value) IsFloat() bool {
	return v.Dtype == dsltypes.DtypeFloat32 || v.Dtype == dsltypes.DtypeFloat64
}

// AsFloat returns v's numeric value widened to float64 regardless of
// which field is authoritative.
func (v Value) AsFloat() float64 {
	if v.IsFloat() {
		return v.F
	}
	return float64(v.I)
}

// AsInt returns v's numeric value narrowed to int64 regardless of
// which field is authoritative (truncating any fractional part).
func (v Value) AsInt() int64 {
	if v.IsFloat() {
		return int64(v.F)
	}
	return v.I
}

// Truthy mirrors the C codegen's "(dtype)(expr) != 0" truthiness test.
func (v Value) Truthy() bool {
	if v.IsFloat() {
		return v.F != 0
	}
	return v.I != 0
}

// CastTo returns v's numeric payload reinterpreted as dtype, applying
// the same narrowing/widening the code generator's C casts would.
func CastTo(v Value, dtype dsltypes.Dtype) Value {
	if dtype == dsltypes.DtypeFloat32 || dtype == dsltypes.DtypeFloat64 {
		f := v.AsFloat()
		if dtype == dsltypes.DtypeFloat32 {
			f = float64(float32(f))
		}
		return Value{Dtype: dtype, F: f}
	}
	return Value{Dtype: dtype, I: maskInt(v.AsInt(), dtype)}
}

func maskInt(i int64, dtype dsltypes.Dtype) int64 {
	switch dtype {
	case dsltypes.DtypeBool:
		if i != 0 {
			return 1
		}
		return 0
	case dsltypes.DtypeInt8:
		return int64(int8(i))
	case dsltypes.DtypeInt16:
		return int64(int16(i))
	case dsltypes.DtypeInt32:
		return int64(int32(i))
	case dsltypes.DtypeUint8:
		return int64(uint8(i))
	case dsltypes.DtypeUint16:
		return int64(uint16(i))
	case dsltypes.DtypeUint32:
		return int64(uint32(i))
	default: // int64, uint64: no narrowing
		return i
	}
}

// ZeroValue returns dtype's zero, matching the codegen's "(dtype)0"
// local initializer.
func ZeroValue(dtype dsltypes.Dtype) Value {
	return CastTo(Value{Dtype: dtype}, dtype)
}
