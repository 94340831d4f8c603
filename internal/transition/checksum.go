package transition

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainPayload separates payload digests from any other hash the log may hold.
// The version suffix allows a future algorithm change.
const DomainPayload = "beadwal/payload/v1"

// ChecksumSize is the digest length in bytes (128 bits).
// This is an integrity check against corruption and tampering between write
// and replay, not a cryptographic commitment.
const ChecksumSize = 16

// hashWithDomain computes SHA256(domain + 0x00 + data) truncated to ChecksumSize.
// The null byte keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)[:ChecksumSize])
}

// Checksum returns the hex digest of the canonical form of p.
// A nil payload hashes like an empty one.
func Checksum(p Payload) (string, error) {
	if p == nil {
		p = Payload{}
	}
	canonical, err := MarshalCanonical(p)
	if err != nil {
		return "", fmt.Errorf("checksum: failed to marshal payload: %w", err)
	}
	return hashWithDomain(DomainPayload, canonical), nil
}

// MustChecksum is like Checksum but panics on error.
// Use only in tests or when the payload is known to be valid.
func MustChecksum(p Payload) string {
	sum, err := Checksum(p)
	if err != nil {
		panic(err)
	}
	return sum
}
