// Package integrity provides tamper-evident hashing for the journal's event
// chain. All functions are pure and deterministic.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashita-ai/torii/internal/model"
)

// ComputeEventHash produces the SHA-256 hex digest chaining an event to its
// predecessor: H(prev_hash ‖ canonical(event minus hash)).
//
// Each field is encoded as a 4-byte big-endian length prefix followed by the
// field bytes, which avoids delimiter collisions when freeform payload text
// contains separator characters. The payload is canonicalized via
// CanonicalPayload before hashing.
func ComputeEventHash(prevHash string, e model.JournalEvent) (string, error) {
	payload, err := CanonicalPayload(e.Payload)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	writeField := func(b []byte) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b))) //nolint:gosec // field lengths are bounded by the journal's max entry size
		h.Write(lenBuf[:])
		h.Write(b)
	}
	writeField([]byte(prevHash))
	writeField([]byte(e.EventID.String()))
	writeField([]byte(e.SessionID))
	writeField([]byte(e.Timestamp.UTC().Format(time.RFC3339Nano)))
	writeField([]byte(e.Type))
	writeField(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyEventHash recomputes an event's hash from its fields and the given
// predecessor hash and compares it to the stored value.
func VerifyEventHash(prevHash string, e model.JournalEvent) (bool, error) {
	expected, err := ComputeEventHash(prevHash, e)
	if err != nil {
		return false, err
	}
	return expected == e.Hash, nil
}

// VerifyChain walks events in order, recomputing every hash without trusting
// the stored ones. It returns the index of the first invalid event, or -1 if
// the whole chain verifies. The chain is anchored at the empty string: the
// first event's prev_hash must be "".
func VerifyChain(events []model.JournalEvent) (int, error) {
	prev := ""
	for i, e := range events {
		if e.PrevHash != prev {
			return i, nil
		}
		ok, err := VerifyEventHash(prev, e)
		if err != nil {
			return i, fmt.Errorf("integrity: event %d: %w", i, err)
		}
		if !ok {
			return i, nil
		}
		prev = e.Hash
	}
	return -1, nil
}

// CanonicalPayload returns deterministic JSON bytes for a payload map.
// encoding/json sorts map keys, so a marshal of the map form is canonical;
// nested objects must also be maps (the journal normalizes payloads through
// a JSON round-trip before they reach this function).
func CanonicalPayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return []byte("null"), nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("integrity: marshal payload: %w", err)
	}
	return b, nil
}

// hashPair produces SHA-256(0x01 || a || b) as a hex string.
// The 0x01 prefix is a domain separator for internal Merkle tree nodes (per
// RFC 6962), ensuring internal node hashes can never collide with leaf hashes.
func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write([]byte(a))
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// MerkleRoot constructs a Merkle tree over event hashes and returns the root.
// Used by audit exports to commit to a journal snapshot with a single value.
// If hashes is empty, returns an empty string. Odd-length levels hash the
// last node with itself for structural binding.
func MerkleRoot(hashes []string) string {
	if len(hashes) == 0 {
		return ""
	}
	if len(hashes) == 1 {
		return hashes[0]
	}

	level := make([]string, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		var next []string
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}
