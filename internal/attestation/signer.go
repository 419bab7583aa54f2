// Package attestation signs verification outcomes and checks those signatures.
package attestation

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// KeySize is the length in bytes of a generated signing key.
const KeySize = 32

// ErrSignatureIntegrity reports a signature that does not match the attestation body.
var ErrSignatureIntegrity = errors.New("attestation signature integrity check failed")

// Signer produces HMAC-SHA256 signatures over the RFC 8785 canonical form of an attestation.
// The key lives only in process memory.
type Signer struct {
	key         []byte
	fingerprint string
	now         func() time.Time
}

// NewSigner creates a signer with a fresh random key.
func NewSigner() (*Signer, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return NewSignerWithKey(key)
}

// NewSignerWithKey creates a signer over key, which must be at least 16 bytes.
func NewSignerWithKey(key []byte) (*Signer, error) {
	if len(key) < 16 {
		return nil, fmt.Errorf("signing key too short: %d bytes", len(key))
	}
	sum := sha256.Sum256(key)
	return &Signer{
		key:         append([]byte(nil), key...),
		fingerprint: hex.EncodeToString(sum[:])[:16],
		now:         time.Now,
	}, nil
}

// Fingerprint identifies the signing key without revealing it.
func (s *Signer) Fingerprint() string { return s.fingerprint }

// Sign stamps the attestation with the signing time and key fingerprint, then signs it.
func (s *Signer) Sign(att models.Attestation) (models.Attestation, error) {
	att.SignedAt = s.now().UTC().Truncate(time.Microsecond)
	att.Timestamp = att.Timestamp.UTC()
	att.Readings.Timestamp = att.Readings.Timestamp.UTC()
	att.PublicKeyFingerprint = s.fingerprint
	att.Signature = ""

	mac, err := s.mac(att)
	if err != nil {
		return models.Attestation{}, err
	}
	att.Signature = mac
	return att, nil
}

// VerifySignature recomputes the signature. A mismatch returns false and an error wrapping
// ErrSignatureIntegrity.
func (s *Signer) VerifySignature(att models.Attestation) (bool, error) {
	if att.PublicKeyFingerprint != s.fingerprint {
		return false, fmt.Errorf("%w: signed by key %q, verifier holds %q", ErrSignatureIntegrity, att.PublicKeyFingerprint, s.fingerprint)
	}
	got, err := hex.DecodeString(att.Signature)
	if err != nil {
		return false, fmt.Errorf("%w: malformed signature", ErrSignatureIntegrity)
	}
	att.Signature = ""
	want, err := s.mac(att)
	if err != nil {
		return false, err
	}
	wantBytes, _ := hex.DecodeString(want)
	if !hmac.Equal(got, wantBytes) {
		return false, fmt.Errorf("%w: attestation %s", ErrSignatureIntegrity, att.ID)
	}
	return true, nil
}

func (s *Signer) mac(att models.Attestation) (string, error) {
	body, err := Canonical(att)
	if err != nil {
		return "", err
	}
	h := hmac.New(sha256.New, s.key)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Canonical returns the canonical JSON of att with the signature field cleared.
func Canonical(att models.Attestation) ([]byte, error) {
	att.Signature = ""
	raw, err := json.Marshal(att)
	if err != nil {
		return nil, fmt.Errorf("marshal attestation: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize attestation: %w", err)
	}
	return out, nil
}
