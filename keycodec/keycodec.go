// Package keycodec maps logical filesystem paths onto the two flat
// key namespaces the store exposes: one for metadata records, one for
// file payloads.
package keycodec

import (
	"strings"
)

const (
	metaPrefix = "meta/"
	dataPrefix = "data/"

	// MaxSegmentBytes is the segment length at which NAMETOOLONG
	// applies: every path segment must be strictly shorter.
	MaxSegmentBytes = 256
)

// MetaKey returns the store key holding the metadata record for path.
func MetaKey(path string) []byte {
	return append([]byte(metaPrefix), strings.TrimPrefix(path, "/")...)
}

// DataKey returns the store key holding the data payload for path.
func DataKey(path string) []byte {
	return append([]byte(dataPrefix), strings.TrimPrefix(path, "/")...)
}

// PathFromMetaKey recovers the logical path from a metadata key,
// inverting MetaKey. It panics if key does not carry the meta
// prefix; callers are expected to only pass keys obtained from a scan
// of the meta/ namespace.
func PathFromMetaKey(key []byte) string {
	if !strings.HasPrefix(string(key), metaPrefix) {
		panic("keycodec: not a metadata key: " + string(key))
	}
	return "/" + strings.TrimPrefix(string(key), metaPrefix)
}

// ValidatePath checks every segment of path is non-empty and shorter
// than MaxSegmentBytes. It is the first thing every adapter operation
// does, before any store interaction.
func ValidatePath(path string) error {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return nil // root
	}
	for _, seg := range strings.Split(trimmed, "/") {
		if seg == "" || len(seg) >= MaxSegmentBytes {
			return ErrNameTooLong
		}
	}
	return nil
}

// Split splits a path into its containing directory and its
// final segment, POSIX style ("/" has no parent and no base).
func Split(path string) (parent, base string) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "", ""
	}
	i := strings.LastIndexByte(trimmed, '/')
	if i < 0 {
		return "/", trimmed
	}
	return "/" + trimmed[:i], trimmed[i+1:]
}
