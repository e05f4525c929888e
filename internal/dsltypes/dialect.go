package dsltypes

// Dialect selects how control flow diverges across the lanes of a
// block. Carried through the IR unchanged from the surface program.
type Dialect int

const (
	DialectVector Dialect = iota
	DialectElement
)

func (d Dialect) String() string {
	switch d {
	case DialectVector:
		return "vector"
	case DialectElement:
		return "element"
	default:
		return "unknown"
	}
}

// FPMode controls floating-point strictness of the native compile and
// participates in the cache key.
type FPMode int

const (
	FPStrict FPMode = iota
	FPContract
	FPFast
)

func (m FPMode) String() string {
	switch m {
	case FPStrict:
		return "strict"
	case FPContract:
		return "contract"
	case FPFast:
		return "fast"
	default:
		return "unknown"
	}
}

// CFlags returns the compiler flags this mode contributes to a native
// build. The embedded tiny-compiler backend only ever requests
// FPStrict (see package embedcc), so these only matter for nativecc.
func (m FPMode) CFlags() []string {
	switch m {
	case FPStrict:
		return []string{"-ffp-contract=off"}
	case FPContract:
		return []string{"-ffp-contract=fast"}
	case FPFast:
		return []string{"-ffast-math"}
	default:
		return nil
	}
}

// FailureClass classifies why a runtime JIT compile attempt failed.
// Stored in the negative cache alongside a cooldown.
type FailureClass int

const (
	FailureNone FailureClass = iota
	FailureCacheDir
	FailurePath
	FailureWrite
	FailureCompile
	FailureLoad
	FailureMetadata
	FailureUnclassified
)

func (f FailureClass) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureCacheDir:
		return "cache_dir"
	case FailurePath:
		return "path"
	case FailureWrite:
		return "write"
	case FailureCompile:
		return "compile"
	case FailureLoad:
		return "load"
	case FailureMetadata:
		return "metadata"
	default:
		return "unclassified"
	}
}

// PlatformTag identifies the host platform for cache-key separation
// and metadata-sidecar validation.
type PlatformTag int32

const (
	PlatformMac   PlatformTag = 1
	PlatformLinux PlatformTag = 2
	PlatformOther PlatformTag = 3
)

// BackendTag identifies which loader produced a kernel.
type BackendTag int32

const (
	BackendSharedObject BackendTag = 1
	BackendEmbeddedTCC  BackendTag = 2
)
