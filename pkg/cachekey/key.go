// Package cachekey derives deterministic cache keys for computed results.
// Keys are sha256 hashes of the normalized inputs so equivalent requests share an entry.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Key namespaces. Invalidation deletes by namespace prefix.
const (
	Prefix          = "rx:"
	NamespaceQuery  = Prefix + "query:"
	NamespaceFiles  = Prefix + "files:"
	NamespaceVolume = Prefix + "volume:"
)

// ForQuery keys a brand/generic code list pair. Order and duplicates do not matter.
func ForQuery(brandCodes, genericCodes []string) string {
	return NamespaceQuery + hash(
		"brand="+strings.Join(normalize(brandCodes), ","),
		"generic="+strings.Join(normalize(genericCodes), ","),
	)
}

// ForFiles keys a computation over data files by path, size and modification time,
// so rewriting a file yields a new key.
func ForFiles(namespace string, paths ...string) (string, error) {
	parts := make([]string, 0, len(paths))
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
		parts = append(parts, fmt.Sprintf("%s:%d:%d", p, st.Size(), st.ModTime().UnixNano()))
	}
	return namespace + hash(parts...), nil
}

// With appends extra discriminators (filters, options) to a key
func With(key string, parts ...string) string {
	if len(parts) == 0 {
		return key
	}
	return key + ":" + hash(parts...)[:16]
}

func normalize(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func hash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
