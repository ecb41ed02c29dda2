package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/blake3"
)

// jsonMarshal is a variable to allow testing of marshal errors.
var jsonMarshal = json.Marshal

// HashBytes computes the SHA-256 hash of bytes and returns it as a hex string.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashString computes the SHA-256 hash of a string and returns it as a hex string.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// FingerprintBytes computes the BLAKE3-256 hash of bytes as a hex string.
// Fingerprints are used where many hashes are taken per call, such as
// per-block comparison during round-trip testing.
func FingerprintBytes(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashDocument computes the SHA-256 hash of a Document by serializing to JSON.
func HashDocument(d *Document) (string, error) {
	data, err := jsonMarshal(d)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// FingerprintBlock computes a BLAKE3 fingerprint of a block's type and
// plain-text content. Ids and hints do not contribute.
func FingerprintBlock(b *Block) string {
	return FingerprintBytes([]byte(string(b.Type()) + "\x00" + BlockText(b)))
}

// EqualDocuments reports whether two documents encode to identical JSON.
func EqualDocuments(a, b *Document) bool {
	ha, err := HashDocument(a)
	if err != nil {
		return false
	}
	hb, err := HashDocument(b)
	if err != nil {
		return false
	}
	return ha == hb
}
