package jitcache

import (
	"os"
	"path/filepath"
	"testing"

	"medsl/internal/dsltypes"
)

func sampleMetadata(t *testing.T) Metadata {
	t.Helper()
	m, err := NewMetadata(0x1234, 0x5678, dsltypes.DtypeInt32, dsltypes.DialectVector, dsltypes.FPStrict,
		[]dsltypes.Dtype{dsltypes.DtypeInt32}, 1, 0xabcd)
	if err != nil {
		t.Fatalf("NewMetadata: %v", err)
	}
	return m
}

// A byte-for-byte-matching metadata sidecar round-trips through
// Encode/DecodeMetadata and is accepted by Matches (spec §5/§6).
func TestMetadataRoundTrip(t *testing.T) {
	m := sampleMetadata(t)
	decoded, err := DecodeMetadata(m.Encode())
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	if !decoded.Matches(m) {
		t.Fatal("round-tripped metadata does not match the original")
	}
}

// A trailing signature section round-trips through
// EncodeSidecar/DecodeMetadata, and its presence never changes whether
// Matches accepts the core fields (§4.9: additive, never part of the
// fixed-layout comparison).
func TestMetadataSignatureRoundTrip(t *testing.T) {
	m := sampleMetadata(t)
	m.Signature = []byte{0x01, 0x02, 0x03, 0x04, 0x05}

	decoded, err := DecodeMetadata(m.EncodeSidecar())
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	if string(decoded.Signature) != string(m.Signature) {
		t.Fatalf("Signature = %x, want %x", decoded.Signature, m.Signature)
	}
	unsigned := sampleMetadata(t)
	if !decoded.Matches(unsigned) {
		t.Fatal("a signed sidecar must still match an unsigned expected record with the same core fields")
	}

	// A sidecar written before signing was ever enabled has no trailing
	// section at all; DecodeMetadata must read it as Signature == nil
	// rather than failing.
	plain, err := DecodeMetadata(m.Encode())
	if err != nil {
		t.Fatalf("DecodeMetadata (no trailing section): %v", err)
	}
	if plain.Signature != nil {
		t.Fatalf("Signature = %x, want nil for a core-only sidecar", plain.Signature)
	}
}

// A mismatching platform or pointer-size field causes the sidecar to
// be treated as not matching the locally expected metadata (spec §5
// law 4: "a mismatching platform/pointer-size field causes the
// sidecar to be treated as absent").
func TestMetadataMismatchRejected(t *testing.T) {
	expected := sampleMetadata(t)

	platformMismatch := expected
	platformMismatch.PlatformTag = expected.PlatformTag + 1
	if platformMismatch.Matches(expected) {
		t.Fatal("platform mismatch must not be treated as a match")
	}

	pointerMismatch := expected
	pointerMismatch.PointerSize = 4
	if pointerMismatch.Matches(expected) {
		t.Fatal("pointer-size mismatch must not be treated as a match")
	}

	cgenMismatch := expected
	cgenMismatch.CgenVersion = expected.CgenVersion + 1
	if cgenMismatch.Matches(expected) {
		t.Fatal("cgen version mismatch must not be treated as a match")
	}
}

// Corrupting the metadata sidecar's bytes on disk must not be trusted
// on read — DecodeMetadata errors, or Matches rejects the result
// (spec §8 law 4: "corrupting .meta produces a rebuild, not a stale
// load").
func TestCorruptedMetadataFileIsRejected(t *testing.T) {
	dir := t.TempDir()
	m := sampleMetadata(t)
	if err := WriteMetadata(dir, 0x1234, m); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	path := Paths(dir, 0x1234).Meta
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	corrupted := append([]byte(nil), data...)
	corrupted[0] ^= 0xff // flip a bit inside the magic field
	if err := os.WriteFile(path, corrupted, 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	read, err := ReadMetadataFile(dir, 0x1234)
	if err == nil && read.Matches(m) {
		t.Fatal("corrupted metadata must not be trusted as matching")
	}
}

// Deleting the shared object while keeping .c and .meta means
// ObjectExists reports false, so the loader must fall through to a
// rebuild rather than trusting a half-present artifact (spec §8 law
// 4: "deleting kernel_<k>.so ... produces a rebuild").
func TestDeletingSharedObjectForcesRebuildPath(t *testing.T) {
	dir := t.TempDir()
	key := uint64(0x1234)
	m := sampleMetadata(t)
	if err := WriteMetadata(dir, key, m); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
	if err := WriteSource(dir, key, []byte("/* source */")); err != nil {
		t.Fatalf("WriteSource: %v", err)
	}
	paths := Paths(dir, key)
	if err := os.WriteFile(paths.Object, []byte("not really a shared object"), 0600); err != nil {
		t.Fatalf("seed object: %v", err)
	}
	if !ObjectExists(dir, key) {
		t.Fatal("expected ObjectExists to report true before deletion")
	}

	if err := os.Remove(paths.Object); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ObjectExists(dir, key) {
		t.Fatal("expected ObjectExists to report false once the .so is deleted")
	}
	if _, err := os.Stat(paths.Meta); err != nil {
		t.Fatal("expected .meta sidecar to survive the .so deletion")
	}
}

// CacheDir creates the directory mode 0700 if missing, and is
// idempotent.
func TestCacheDirCreatesMode0700(t *testing.T) {
	base := t.TempDir()
	dir, err := CacheDir(base)
	if err != nil {
		t.Fatalf("CacheDir: %v", err)
	}
	if filepath.Base(dir) != "miniexpr-jit" {
		t.Fatalf("dir = %q, want a miniexpr-jit suffix", dir)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0700 {
		t.Fatalf("mode = %o, want 0700", info.Mode().Perm())
	}
	if _, err := CacheDir(base); err != nil {
		t.Fatalf("second CacheDir call: %v", err)
	}
}

// Atomic writes never leave a reader observing a partially written
// artifact: WriteSource/WriteMetadata always produce a complete file
// at the final path.
func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	if err := WriteSource(dir, 1, []byte("content")); err != nil {
		t.Fatalf("WriteSource: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("leftover temp file %s", e.Name())
		}
	}
}
