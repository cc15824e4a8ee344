// Package media stores profile picture objects on the local filesystem or in
// an S3-compatible bucket.
package media

import (
	"errors"
	"path"
	"strings"
)

// ErrInvalidKey is returned for keys that are empty or would escape the store.
var ErrInvalidKey = errors.New("invalid media key")

// checkKey accepts relative slash-separated keys without dot segments.
func checkKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return ErrInvalidKey
	}
	if path.Clean(key) != key || key == "." || strings.HasPrefix(key, "../") || key == ".." {
		return ErrInvalidKey
	}
	return nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
