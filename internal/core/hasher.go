package core

import (
	"CDPLedger/internal/store"
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "CDPLedger:genesis:v1"

// GenesisHash is the prev_hash of the first journal entry.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// StateHasher chains journal entries: hash[N] = SHA-256(prev_hash || sequence || digest).
type StateHasher struct {
	prevHash [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: GenesisHash()}
}

// ComputeHash returns the hash for sequence without advancing the chain.
// Call Advance once the entry has been committed.
func (h *StateHasher) ComputeHash(sequence int64, digest []byte) [32]byte {
	return chainHash(h.prevHash, sequence, digest)
}

func (h *StateHasher) Advance(hash [32]byte) {
	h.prevHash = hash
}

// PrevHash returns the current chain tip.
func (h *StateHasher) PrevHash() [32]byte {
	return h.prevHash
}

// Resume continues the chain from a persisted tip.
func (h *StateHasher) Resume(tip [32]byte) {
	h.prevHash = tip
}

func chainHash(prev [32]byte, sequence int64, digest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(prev[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(digest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// EntryDigest is the canonical byte form of a journal entry's content.
// Variable-length fields are length-prefixed so field boundaries cannot shift.
func EntryDigest(e store.JournalEntry) []byte {
	digest := make([]byte, 0, 64+len(e.Payload))
	digest = appendField(digest, []byte(e.CommandType))
	digest = appendField(digest, []byte(e.IdempotencyKey))
	digest = appendField(digest, []byte(e.Caller))
	digest = appendField(digest, e.Payload)
	digest = appendInt64LE(digest, int64(e.IntentCount))
	digest = appendInt64LE(digest, e.Timestamp.UnixMicro())
	return digest
}

func appendField(buf, field []byte) []byte {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(field)))
	buf = append(buf, n[:]...)
	return append(buf, field...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}
