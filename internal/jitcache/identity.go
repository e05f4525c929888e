package jitcache

import (
	"encoding/binary"
	"strings"

	"golang.org/x/crypto/blake2b"

	"medsl/internal/dsltypes"
)

// CompilerIdentity resolves the §9 open question: a deterministic
// 64-bit hash of the resolved CC, extra CFLAGS and fp-mode flag
// strings, truncated from a blake2b-256 digest. Any change to the
// effective compiler command forces a distinct identity, and hence a
// distinct trusted metadata sidecar.
func CompilerIdentity(cc string, cflags []string, fpMode dsltypes.FPMode) uint64 {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(cc))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(cflags, " ")))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(fpMode.CFlags(), " ")))
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum[:8])
}
