package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/safeguard-project/safeguard/pkg/jsonutil"
	"github.com/safeguard-project/safeguard/pkg/model"
)

// SigningKeyEnv names the environment variable holding the trail's signing
// key. An empty or unset key degrades signatures to keyless digests.
const SigningKeyEnv = "SAFEGUARD_SIGNING_KEY"

// Signer computes and checks entry signatures. With a key the signature is
// HMAC-SHA256; without one it is a plain SHA-256 digest, which still detects
// corruption but not deliberate tampering.
type Signer struct {
	key []byte
}

// NewSigner creates a signer. key may be nil for keyless operation.
func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

// KeyFromEnv returns the signing key from the environment, or nil.
func KeyFromEnv() []byte {
	if v := os.Getenv(SigningKeyEnv); v != "" {
		return []byte(v)
	}
	return nil
}

// Keyed reports whether the signer holds an HMAC key.
func (s *Signer) Keyed() bool {
	return len(s.key) > 0
}

// Sign computes the signature over a canonical serialization of the entry
// with its Signature field zeroed.
func (s *Signer) Sign(entry *model.AuditEntry) (string, error) {
	unsigned := *entry
	unsigned.Signature = ""

	data, err := jsonutil.CanonicalMarshal(&unsigned)
	if err != nil {
		return "", fmt.Errorf("canonical marshal: %w", err)
	}

	if s.Keyed() {
		mac := hmac.New(sha256.New, s.key)
		mac.Write(data)
		return hex.EncodeToString(mac.Sum(nil)), nil
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the entry's signature and compares it in constant time.
func (s *Signer) Verify(entry *model.AuditEntry) (bool, error) {
	if entry.Signature == "" {
		return false, nil
	}
	want, err := s.Sign(entry)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(entry.Signature)) == 1, nil
}
