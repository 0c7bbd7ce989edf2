package fetch

import "strings"

// Markers left behind by common client-side frameworks when the server
// ships only an app shell.
var shellMarkers = []string{
	"__next",
	`id="root"`,
	`id="app"`,
	"data-reactroot",
}

const shellBodyThreshold = 2048

// LooksRendered reports whether fetched HTML appears to be a
// client-side app shell whose real content only shows up after script
// execution. The coordinator uses it to upgrade a static fetch to the
// rendering transport.
func LooksRendered(html string) bool {
	if strings.TrimSpace(html) == "" {
		return true
	}
	if len(html) < shellBodyThreshold && scriptDensityHigh(html) {
		return true
	}
	for _, marker := range shellMarkers {
		if strings.Contains(html, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script tags cover at least a
// quarter of the document.
func scriptDensityHigh(html string) bool {
	lower := strings.ToLower(html)
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Malformed tag; count the rest of the document.
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			// Script tag never closes; count the rest.
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		coverage += nextSearch - start
		searchPos = nextSearch
	}

	if coverage == 0 {
		return false
	}
	return coverage*100/total >= 25
}
