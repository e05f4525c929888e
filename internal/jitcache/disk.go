package jitcache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"medsl/internal/dsltypes"
)

// MetaMagic identifies a metadata sidecar file.
const MetaMagic uint64 = 0x4d454a49544d4554

// MetaVersion is the fixed-layout record version.
const MetaVersion uint32 = 3

// MaxParams bounds the param_dtypes array in the metadata record.
const MaxParams = 64

// Metadata is the fixed binary record written alongside every disk
// artifact, in the exact field order of spec §6. Signature is a
// trailing, optional section appended after the fixed layout (§4.9):
// it is never part of Encode/Matches, so its presence or content never
// affects whether a sidecar's core fields are trusted (§5's
// byte-for-byte comparison is over the fixed fields only).
type Metadata struct {
	Magic            uint64
	Version          uint32
	CgenVersion      uint32
	PlatformTag      int32
	PointerSize      int32
	CacheKey         uint64
	IRFingerprint    uint64
	OutputDtype      int32
	Dialect          int32
	FPMode           int32
	NParams          int32
	ParamDtypes      [MaxParams]int32
	CompilerIdentity uint64

	Signature []byte
}

// NewMetadata fills in a Metadata record for the given parameters,
// padding unused ParamDtypes entries with -1 as required.
func NewMetadata(cacheKey, irFingerprint uint64, outputDtype dsltypes.Dtype, dialect dsltypes.Dialect,
	fpMode dsltypes.FPMode, paramDtypes []dsltypes.Dtype, cgenVersion uint32, compilerIdentity uint64) (Metadata, error) {
	if len(paramDtypes) > MaxParams {
		return Metadata{}, fmt.Errorf("too many parameters (%d > %d)", len(paramDtypes), MaxParams)
	}
	m := Metadata{
		Magic:            MetaMagic,
		Version:          MetaVersion,
		CgenVersion:      cgenVersion,
		PlatformTag:      int32(CurrentPlatform()),
		PointerSize:      int32(PointerSize()),
		CacheKey:         cacheKey,
		IRFingerprint:    irFingerprint,
		OutputDtype:      int32(outputDtype),
		Dialect:          int32(dialect),
		FPMode:           int32(fpMode),
		NParams:          int32(len(paramDtypes)),
		CompilerIdentity: compilerIdentity,
	}
	for i := range m.ParamDtypes {
		m.ParamDtypes[i] = -1
	}
	for i, d := range paramDtypes {
		m.ParamDtypes[i] = int32(d)
	}
	return m, nil
}

// CurrentPlatform reports this process's platform tag.
func CurrentPlatform() dsltypes.PlatformTag {
	switch runtime.GOOS {
	case "darwin":
		return dsltypes.PlatformMac
	case "linux":
		return dsltypes.PlatformLinux
	default:
		return dsltypes.PlatformOther
	}
}

// PointerSize reports sizeof(void*) for this process.
func PointerSize() int {
	return int(unsafeSizeofPointer)
}

const unsafeSizeofPointer = 8 << (^uintptr(0) >> 63)

// SharedObjectExt returns the platform-appropriate shared object
// extension.
func SharedObjectExt() string {
	if runtime.GOOS == "darwin" {
		return "dylib"
	}
	return "so"
}

// Encode serializes m's fixed-layout core fields (§6), never the
// trailing Signature section — this is what Matches compares and what
// NewMetadata's caller reconstructs to check trust, so it must stay
// stable regardless of whether a signature is attached.
func (m Metadata) Encode() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, m.Magic)
	binary.Write(&buf, binary.LittleEndian, m.Version)
	binary.Write(&buf, binary.LittleEndian, m.CgenVersion)
	binary.Write(&buf, binary.LittleEndian, m.PlatformTag)
	binary.Write(&buf, binary.LittleEndian, m.PointerSize)
	binary.Write(&buf, binary.LittleEndian, m.CacheKey)
	binary.Write(&buf, binary.LittleEndian, m.IRFingerprint)
	binary.Write(&buf, binary.LittleEndian, m.OutputDtype)
	binary.Write(&buf, binary.LittleEndian, m.Dialect)
	binary.Write(&buf, binary.LittleEndian, m.FPMode)
	binary.Write(&buf, binary.LittleEndian, m.NParams)
	binary.Write(&buf, binary.LittleEndian, m.ParamDtypes)
	binary.Write(&buf, binary.LittleEndian, m.CompilerIdentity)
	return buf.Bytes()
}

// EncodeSidecar serializes the full sidecar file contents: the fixed
// core layout from Encode, plus — only when m.Signature is non-empty —
// a trailing `u32 length || signature bytes` section (§4.9). A reader
// that only understands the fixed core (or a sidecar written before
// signing was enabled) sees nothing past the core fields, which is
// exactly the "trailing optional section the fixed-layout reader
// tolerates being absent" shape.
func (m Metadata) EncodeSidecar() []byte {
	core := m.Encode()
	if len(m.Signature) == 0 {
		return core
	}
	var buf bytes.Buffer
	buf.Write(core)
	binary.Write(&buf, binary.LittleEndian, uint32(len(m.Signature)))
	buf.Write(m.Signature)
	return buf.Bytes()
}

// DecodeMetadata parses a Metadata record, including its optional
// trailing signature section if present. Any error in the fixed core
// (including a short read) means the sidecar must be treated as absent
// rather than trusted; a missing or truncated trailing section simply
// leaves Signature nil instead of failing the whole decode, since
// Matches never depends on it.
func DecodeMetadata(data []byte) (Metadata, error) {
	var m Metadata
	r := bytes.NewReader(data)
	fields := []interface{}{
		&m.Magic, &m.Version, &m.CgenVersion, &m.PlatformTag, &m.PointerSize,
		&m.CacheKey, &m.IRFingerprint, &m.OutputDtype, &m.Dialect, &m.FPMode,
		&m.NParams, &m.ParamDtypes, &m.CompilerIdentity,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return Metadata{}, errors.Wrap(err, "decode metadata sidecar")
		}
	}
	if r.Len() > 0 {
		var sigLen uint32
		if err := binary.Read(r, binary.LittleEndian, &sigLen); err == nil && int(sigLen) <= r.Len() {
			sig := make([]byte, sigLen)
			if _, err := io.ReadFull(r, sig); err == nil {
				m.Signature = sig
			}
		}
	}
	return m, nil
}

// Matches reports whether m is byte-for-byte identical to expected —
// the only condition under which a sidecar is trusted (spec §5).
func (m Metadata) Matches(expected Metadata) bool {
	return bytes.Equal(m.Encode(), expected.Encode())
}

// ArtifactPaths are the three sidecar file paths for a cache key.
type ArtifactPaths struct {
	Source string
	Object string
	Meta   string
}

// Paths returns the deterministic sidecar paths for key within dir.
func Paths(dir string, key uint64) ArtifactPaths {
	hex := fmt.Sprintf("%016x", key)
	return ArtifactPaths{
		Source: filepath.Join(dir, "kernel_"+hex+".c"),
		Object: filepath.Join(dir, "kernel_"+hex+"."+SharedObjectExt()),
		Meta:   filepath.Join(dir, "kernel_"+hex+".meta"),
	}
}

// CacheDir resolves and, if needed, creates the on-disk cache
// directory mode 0700 under tmpDir ($TMPDIR, default /tmp).
func CacheDir(tmpDir string) (string, error) {
	dir := filepath.Join(tmpDir, "miniexpr-jit")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", errors.Wrap(err, "create cache directory")
	}
	return dir, nil
}

// WriteSource atomically writes the generated C source for key.
func WriteSource(dir string, key uint64, src []byte) error {
	return atomicWrite(Paths(dir, key).Source, src, 0600)
}

// WriteMetadata atomically writes m's sidecar form (core fields plus
// m.Signature, if any) for key.
func WriteMetadata(dir string, key uint64, m Metadata) error {
	return atomicWrite(Paths(dir, key).Meta, m.EncodeSidecar(), 0600)
}

// atomicWrite writes data to a uuid-named temp file in the same
// directory as path, then renames it into place — avoiding any reader
// observing a partially written artifact (spec §5: concurrent readers
// must be tolerated).
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return errors.Wrapf(err, "write temp file for %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "rename into place %s", path)
	}
	return nil
}

// ReadMetadataFile reads and decodes the metadata sidecar for key, if
// it exists. A missing file is reported via os.IsNotExist(err).
func ReadMetadataFile(dir string, key uint64) (Metadata, error) {
	data, err := os.ReadFile(Paths(dir, key).Meta)
	if err != nil {
		return Metadata{}, err
	}
	return DecodeMetadata(data)
}

// ObjectExists reports whether the shared object sidecar for key is
// present on disk.
func ObjectExists(dir string, key uint64) bool {
	_, err := os.Stat(Paths(dir, key).Object)
	return err == nil
}
