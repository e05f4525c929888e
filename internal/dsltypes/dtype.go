// Package dsltypes holds the small closed enumerations shared by every
// stage of the JIT pipeline: dtypes, dialects, floating-point modes and
// the negative-cache failure taxonomy.
package dsltypes

// Dtype is the closed set of element types the JIT understands.
type Dtype int

const (
	DtypeAuto Dtype = iota
	DtypeBool
	DtypeInt8
	DtypeInt16
	DtypeInt32
	DtypeInt64
	DtypeUint8
	DtypeUint16
	DtypeUint32
	DtypeUint64
	DtypeFloat32
	DtypeFloat64
)

var dtypeNames = map[Dtype]string{
	DtypeAuto:    "auto",
	DtypeBool:    "bool",
	DtypeInt8:    "int8",
	DtypeInt16:   "int16",
	DtypeInt32:   "int32",
	DtypeInt64:   "int64",
	DtypeUint8:   "uint8",
	DtypeUint16:  "uint16",
	DtypeUint32:  "uint32",
	DtypeUint64:  "uint64",
	DtypeFloat32: "float32",
	DtypeFloat64: "float64",
}

func (d Dtype) String() string {
	if name, ok := dtypeNames[d]; ok {
		return name
	}
	return "unknown"
}

// Integral reports whether d is bool or any int/uint width — the set
// of dtypes on which bitwise and shift operators are permitted.
func (d Dtype) Integral() bool {
	switch d {
	case DtypeBool, DtypeInt8, DtypeInt16, DtypeInt32, DtypeInt64,
		DtypeUint8, DtypeUint16, DtypeUint32, DtypeUint64:
		return true
	default:
		return false
	}
}

// JITSupported reports whether d can appear in a JIT IR: everything
// except auto (must be resolved first) and anything outside the
// closed set (complex/string, rejected upstream by the resolver).
func (d Dtype) JITSupported() bool {
	_, known := dtypeNames[d]
	return known && d != DtypeAuto
}

// Size returns the in-memory width of one element in bytes.
func (d Dtype) Size() int {
	switch d {
	case DtypeBool, DtypeInt8, DtypeUint8:
		return 1
	case DtypeInt16, DtypeUint16:
		return 2
	case DtypeInt32, DtypeUint32, DtypeFloat32:
		return 4
	case DtypeInt64, DtypeUint64, DtypeFloat64:
		return 8
	default:
		return 0
	}
}

// CType returns the C type name used by the code generator for d.
func (d Dtype) CType() string {
	switch d {
	case DtypeBool:
		return "bool"
	case DtypeInt8:
		return "int8_t"
	case DtypeInt16:
		return "int16_t"
	case DtypeInt32:
		return "int32_t"
	case DtypeInt64:
		return "int64_t"
	case DtypeUint8:
		return "uint8_t"
	case DtypeUint16:
		return "uint16_t"
	case DtypeUint32:
		return "uint32_t"
	case DtypeUint64:
		return "uint64_t"
	case DtypeFloat32:
		return "float"
	case DtypeFloat64:
		return "double"
	default:
		return ""
	}
}
