// Package item models a deduplicated, embeddable unit of work: one
// repository's README content, keyed by a UUID derived from its SHA-1
// content hash.
package item

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// MaxContentLen is the default truncation length applied before a README
// is handed to an embedding provider.
const MaxContentLen = 16000

// MinContentLen is the shortest trimmed content accepted into an Item.
// Content shorter than this is almost certainly a stub or placeholder
// file, not a usable README.
const MinContentLen = 10

// Item is a deduplicated unit of embeddable content.
type Item struct {
	ID          string
	Repo        string // "owner/repo"
	Content     string
	ContentHash string // hex SHA-1 of Content, pre-truncation
}

// New builds an Item from raw file bytes and a repo name. It trims the
// content, rejects anything shorter than MinContentLen, hashes the
// trimmed-but-untruncated content, and truncates to MaxContentLen before
// storing it for embedding. Returns ok=false for content that should be
// dropped rather than embedded.
func New(repo string, raw []byte) (Item, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if len(trimmed) < MinContentLen {
		return Item{}, false
	}

	hash := ContentHash(trimmed)
	id := UUIDFromHash(hash)

	content := trimmed
	if len(content) > MaxContentLen {
		content = content[:MaxContentLen]
	}

	return Item{
		ID:          id,
		Repo:        repo,
		Content:     content,
		ContentHash: hash,
	}, true
}

// ContentHash returns the hex-encoded SHA-1 of s.
func ContentHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// UUIDFromHash derives a canonical UUID string by laying the first 32 hex
// characters (16 bytes) of a SHA-1 content hash into the standard
// 8-4-4-4-12 grouping. Two distinct hashes collide only if their leading
// 16 bytes collide, which SHA-1 makes negligible; identical content always
// yields the identical UUID, which is the point: it is how the pipeline
// deduplicates across repos and across runs.
func UUIDFromHash(hexHash string) string {
	raw, err := hex.DecodeString(hexHash)
	if err != nil || len(raw) < 16 {
		// Callers always pass a valid SHA-1 hex digest (20 bytes); this
		// path exists only to keep the function total.
		var zero [16]byte
		return uuid.Must(uuid.FromBytes(zero[:])).String()
	}

	var b [16]byte
	copy(b[:], raw[:16])
	return uuid.Must(uuid.FromBytes(b[:])).String()
}
