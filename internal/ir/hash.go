package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashing. The version suffix enables future
// algorithm migration without colliding with old hashes.
const (
	HashDomainPatch    = "strand/patch/v1"
	HashDomainProgram  = "strand/program/v1"
	HashDomainSchedule = "strand/schedule/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashCanonical canonically marshals v and hashes it under the given
// domain prefix. This is the only hash entry point; callers never hash
// non-canonical bytes.
func HashCanonical(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// MustHashCanonical is like HashCanonical but panics on error. Use only in
// tests or when inputs are known to be valid.
func MustHashCanonical(domain string, v any) string {
	h, err := HashCanonical(domain, v)
	if err != nil {
		panic(err)
	}
	return h
}
