// Package canon provides the stable serializer and fingerprint hasher that every
// idempotency and snapshot-integrity check in healthledger is built on.
//
// Serialize turns an arbitrary Go value into canonical JSON bytes:
//   - Object keys sorted by UTF-16 code units (RFC 8785 ordering)
//   - Array order preserved
//   - nil, nil pointers, nil maps and nil slices become null
//   - time.Time becomes an RFC 3339 UTC string with trailing zeros trimmed
//   - Strings are NFC normalized and never HTML escaped
//   - Numbers use their shortest round-trip decimal form; NaN and Inf are rejected
//   - Structs are walked through their json tags
//   - Values reachable from themselves return ErrCycle
//
// Fingerprint hashes Serialize output with SHA-256. Two values share a
// fingerprint if and only if they are equal under the rules above.
//
// This package imports nothing internal.
package canon
