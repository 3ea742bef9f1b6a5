// Progress lines for batch runs. These are for people watching the
// terminal; structured diagnostics go through the slog logger instead.
package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"
)

// progressOut is the writer for progress indicators. It is io.Discard in
// silent mode.
var progressOut io.Writer = io.Discard

// progressMu serialises writes to progressOut so concurrent conversions
// don't interleave output lines.
var progressMu sync.Mutex

// maxDisplayWidth bounds URLs and titles in progress and summary lines,
// measured in terminal cells.
const maxDisplayWidth = 60

// pprintf writes a formatted progress line to progressOut, holding the
// mutex to prevent interleaving from concurrent goroutines.
func pprintf(format string, args ...any) {
	progressMu.Lock()
	defer progressMu.Unlock()
	fmt.Fprintf(progressOut, format, args...)
}

// shortURL returns a compact display form of a URL: host + trimmed path,
// no scheme, truncated to maxDisplayWidth cells.
func shortURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return truncateDisplay(rawURL)
	}
	display := strings.TrimSuffix(u.Host+u.Path, "/")
	return truncateDisplay(display)
}

// truncateDisplay shortens s to fit maxDisplayWidth terminal cells, so wide
// (CJK) titles line up with ASCII ones.
func truncateDisplay(s string) string {
	return runewidth.Truncate(s, maxDisplayWidth, "...")
}

// padDisplay right-pads s with spaces to width terminal cells.
func padDisplay(s string, width int) string {
	return runewidth.FillRight(s, width)
}
