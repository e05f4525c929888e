package jitcache

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"

	"github.com/pkg/errors"
)

// Signer produces and verifies ed25519 signatures over disk
// artifacts. A process with no configured key (ME_DSL_JIT_SIGN_KEY
// unset) generates an ephemeral one: signatures then only attest that
// the artifact wasn't modified since this process wrote it, which is
// enough to catch disk corruption without requiring cross-process key
// distribution.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner loads a 32-byte seed from keyPath, or generates an
// ephemeral key if keyPath is empty.
func NewSigner(keyPath string) (*Signer, error) {
	if keyPath == "" {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, errors.Wrap(err, "generate ephemeral signing key")
		}
		return &Signer{priv: priv, pub: pub}, nil
	}
	seed, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, errors.Wrapf(err, "read signing key %s", keyPath)
	}
	if len(seed) < ed25519.SeedSize {
		return nil, errors.Errorf("signing key %s is shorter than %d bytes", keyPath, ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// Sign returns the detached signature over data.
func (s *Signer) Sign(data []byte) []byte {
	return ed25519.Sign(s.priv, data)
}

// Verify reports whether sig is a valid signature over data under
// this signer's public key.
func (s *Signer) Verify(data, sig []byte) bool {
	return ed25519.Verify(s.pub, data, sig)
}
