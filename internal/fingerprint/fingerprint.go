// Package fingerprint maps error logs to stable grouping keys. Two errors
// that differ only in embedded identifiers (ids, addresses, literals) must
// produce the same key so they land in the same error group.
package fingerprint

import (
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
)

// Normalization regexes compiled once at package init.
var (
	reUUID    = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	reHex     = regexp.MustCompile(`\b0[xX][0-9a-fA-F]+\b`)
	reInt     = regexp.MustCompile(`\b\d+\b`)
	reSingleQ = regexp.MustCompile(`'[^']*'`)
	reDoubleQ = regexp.MustCompile(`"[^"]*"`)

	// A location marker: path-like token followed by a line (and optionally
	// column) number, e.g. "db.js:10:4" or "server/main.go:42".
	reLocation = regexp.MustCompile(`[\w$./\\-]+:\d+(?::\d+)?`)
	reLineCol  = regexp.MustCompile(`:\d+(?::\d+)?`)
)

// Components are joined with the unit separator, which cannot appear in a
// normalized message or frame.
const sep = "\x1f"

// Engine computes fingerprints. The zero value is not usable; construct with
// New.
type Engine struct {
	vendorMarkers []string
}

// DefaultVendorMarkers are path fragments identifying dependency frames that
// never qualify as the application frame.
func DefaultVendorMarkers() []string {
	return []string{
		"node_modules",
		"vendor/",
		"site-packages",
		"/usr/lib/",
		"internal/modules",
	}
}

// New returns an Engine using the given vendor markers, or the defaults when
// markers is empty.
func New(markers []string) *Engine {
	if len(markers) == 0 {
		markers = DefaultVendorMarkers()
	}
	return &Engine{vendorMarkers: markers}
}

// Key computes the grouping key for an error log. It is deterministic, does
// no I/O, and never fails: empty message and absent stack trace are valid
// inputs.
func (e *Engine) Key(message, stackTrace, appName string) string {
	msg := NormalizeMessage(message)
	frame := e.appFrame(stackTrace)

	h := fnv.New32a()
	h.Write([]byte(appName + sep + msg + sep + frame))
	return strconv.FormatUint(uint64(h.Sum32()), 36)
}

// NormalizeMessage collapses volatile substrings (UUIDs, hex literals,
// integers, quoted strings) to placeholders.
func NormalizeMessage(msg string) string {
	msg = reUUID.ReplaceAllString(msg, "<id>")
	msg = reHex.ReplaceAllString(msg, "<hex>")
	msg = reInt.ReplaceAllString(msg, "<n>")
	msg = reSingleQ.ReplaceAllString(msg, "<str>")
	msg = reDoubleQ.ReplaceAllString(msg, "<str>")
	return strings.TrimSpace(msg)
}

// appFrame returns the first stack-trace line that looks like an application
// frame, with line:column numbers normalized. Returns "" when no line
// qualifies.
func (e *Engine) appFrame(stackTrace string) string {
	if stackTrace == "" {
		return ""
	}
	for _, line := range strings.Split(stackTrace, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !reLocation.MatchString(line) {
			continue
		}
		if e.isVendorFrame(line) {
			continue
		}
		return reLineCol.ReplaceAllString(line, ":<n>")
	}
	return ""
}

func (e *Engine) isVendorFrame(line string) bool {
	for _, marker := range e.vendorMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// StackPreview returns the first n lines of a stack trace for display on an
// error group.
func StackPreview(stackTrace string, n int) string {
	if stackTrace == "" {
		return ""
	}
	lines := strings.Split(stackTrace, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
