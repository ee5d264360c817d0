package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for derived identifiers.
// The version suffix allows a later algorithm change without collisions.
const (
	DomainFailure        = "healthledger/failure/v1"
	DomainFailureAlt     = "healthledger/failure-alt/v1"
	DomainCanonicalEvent = "healthledger/canonical-event/v1"
)

// Fingerprint returns the lowercase hex SHA-256 of Serialize(v).
func Fingerprint(v any) (string, error) {
	data, err := Serialize(v)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return FingerprintBytes(data), nil
}

// FingerprintBytes hashes bytes that are already canonical.
func FingerprintBytes(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// DomainHash computes SHA256(domain + 0x00 + Serialize(v)).
// The null separator keeps domain and data boundaries unambiguous.
func DomainHash(domain string, v any) (string, error) {
	data, err := Serialize(v)
	if err != nil {
		return "", fmt.Errorf("domain hash %s: %w", domain, err)
	}
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MustFingerprint panics on error. Only for tests and constant inputs.
func MustFingerprint(v any) string {
	fp, err := Fingerprint(v)
	if err != nil {
		panic(err)
	}
	return fp
}
