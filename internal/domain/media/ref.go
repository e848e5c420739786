// Package media provides the MediaRef domain helpers.
package media

import (
	"path/filepath"
	"strings"
)

// Ref is a playlist entry: a local file path or a remote URL that is still
// waiting to be downloaded.
type Ref = string

// remotePrefix marks a Ref that must be downloaded before it can be played.
const remotePrefix = "http"

// VideoExtensions lists the file extensions played with a video window.
var VideoExtensions = []string{".mp4", ".mkv", ".avi", ".mov", ".webm"}

// IsRemote reports whether the ref is a URL pending resolution.
func IsRemote(ref Ref) bool {
	return strings.HasPrefix(ref, remotePrefix)
}

// IsVideo reports whether the ref points to a video file.
func IsVideo(ref Ref) bool {
	lower := strings.ToLower(ref)
	for _, ext := range VideoExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// DisplayName returns the label shown for a ref in a playlist.
// Remote refs are shown as-is, local paths by their base name.
func DisplayName(ref Ref) string {
	if ref == "" || IsRemote(ref) {
		return ref
	}
	return filepath.Base(ref)
}

// SplitInput splits a comma separated user input into refs.
// Entries are trimmed and empty entries are dropped.
func SplitInput(input string) []Ref {
	parts := strings.Split(input, ",")
	refs := make([]Ref, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		refs = append(refs, p)
	}
	return refs
}
