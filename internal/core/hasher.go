package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// ContentHash identifies a byte sequence, optionally qualified by the name of
// the operation that will be applied to it.
type ContentHash string

// String returns the string representation of the ContentHash.
func (h ContentHash) String() string {
	return string(h)
}

// HashFields computes a sha256 over length-prefixed fields so that
// ("ab", "c") and ("a", "bc") never collide.
func HashFields(fields ...[]byte) ContentHash {
	h := sha256.New()
	for _, f := range fields {
		writeField(h, f)
	}
	return ContentHash(hex.EncodeToString(h.Sum(nil)))
}

// HashBytes is HashFields with a single field.
func HashBytes(data []byte) ContentHash {
	return HashFields(data)
}

func writeField(h hash.Hash, data []byte) {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(data)))
	h.Write(prefix[:])
	h.Write(data)
}
