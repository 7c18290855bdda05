package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed hashes.
// The version suffix leaves room for algorithm migration.
const (
	DomainRequest     = "cadence/request/v1"
	DomainCondition   = "cadence/condition/v1"
	DomainFingerprint = "cadence/fingerprint/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashCanonical hashes the canonical JSON form of v under domain.
func HashCanonical(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// RequestKey computes the idempotency key for one run request.
//
// The key is stable across restarts: the same scope, target and generation
// always produce the same key, so a tick or backfill iteration re-run after a
// crash asks the launcher for runs it already holds and gets the existing ids back.
func RequestKey(scope string, asset AssetKey, partition PartitionKey, generation int64) (string, error) {
	obj := Object{
		"scope":      String(scope),
		"asset":      String(asset),
		"partition":  String(partition),
		"generation": Int(generation),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("RequestKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRequest, canonical), nil
}

// MustRequestKey is like RequestKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustRequestKey(scope string, asset AssetKey, partition PartitionKey, generation int64) string {
	key, err := RequestKey(scope, asset, partition, generation)
	if err != nil {
		panic(err)
	}
	return key
}
