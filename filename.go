package main

import (
	"regexp"
	"strings"
)

const maxFilenameBytes = 120

var (
	filenameDropRe  = regexp.MustCompile(`[^A-Za-z0-9 _-]+`)
	filenameSpaceRe = regexp.MustCompile(` +`)
)

// sanitizeFilename turns a title into a filesystem-safe base name using
// only [a-z0-9_-]. Applying it twice gives the same result. Titles with
// nothing usable map to "".
func sanitizeFilename(title string) string {
	name := filenameDropRe.ReplaceAllString(title, "")
	name = strings.TrimSpace(name)
	name = filenameSpaceRe.ReplaceAllString(name, "_")
	name = strings.ToLower(name)
	if len(name) > maxFilenameBytes {
		// All bytes are ASCII here, so any cut is on a rune boundary.
		name = name[:maxFilenameBytes]
	}
	return name
}

// baseNameFor is sanitizeFilename with the "untitled" fallback.
func baseNameFor(title string) string {
	if name := sanitizeFilename(title); name != "" {
		return name
	}
	return "untitled"
}
