package util

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// HashKey returns prefix + ":" + the first 16 hex chars of SHA-256 over the
// sorted, newline-joined parts. Input order does not matter and parts is not
// mutated.
func HashKey(prefix string, parts []string) string {
	s := make([]string, len(parts))
	copy(s, parts)
	sort.Strings(s)
	sum := sha256.Sum256([]byte(strings.Join(s, "\n")))
	return prefix + ":" + hex.EncodeToString(sum[:8])
}
