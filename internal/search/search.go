// Package search parses the free-form search string accepted by log
// queries. The string may mix inline filters of the form key:value or
// key:"quoted value" with free text.
package search

import (
	"regexp"
	"strings"
)

// Recognized inline filter keys. Anything else becomes a metadata filter.
const (
	KeyLevel   = "level"
	KeyApp     = "app"
	KeySession = "session"
)

// MetaFilter matches logs whose metadata contains Value (under Key where the
// engine can express it, anywhere in metadata otherwise).
type MetaFilter struct {
	Key   string
	Value string
}

// Query is the parsed form of a search string.
type Query struct {
	Level    string
	App      string
	Session  string
	Meta     []MetaFilter
	FreeText string
}

// key:"quoted value" or key:bareword
var reInlineFilter = regexp.MustCompile(`(\w+):(?:"([^"]*)"|(\S+))`)

// Parse extracts inline filters from s. The remaining text, with whitespace
// collapsed, becomes FreeText.
func Parse(s string) Query {
	var q Query

	rest := reInlineFilter.ReplaceAllStringFunc(s, func(m string) string {
		sub := reInlineFilter.FindStringSubmatch(m)
		key := sub[1]
		value := sub[2]
		if value == "" {
			value = sub[3]
		}
		if value == "" {
			return ""
		}

		// Recognized keys match case-insensitively; metadata keys keep
		// their original case so engines that target the key exactly see
		// what the client stored.
		switch strings.ToLower(key) {
		case KeyLevel:
			if q.Level == "" {
				q.Level = strings.ToLower(value)
			}
		case KeyApp:
			if q.App == "" {
				q.App = value
			}
		case KeySession:
			if q.Session == "" {
				q.Session = value
			}
		default:
			q.Meta = append(q.Meta, MetaFilter{Key: key, Value: value})
		}
		return ""
	})

	q.FreeText = strings.Join(strings.Fields(rest), " ")
	return q
}

var reFTSSpecial = regexp.MustCompile(`[^\pL\pN_]+`)

// Tokens splits free text for full-text matching: special characters are
// stripped before tokenization and each token is intended as a prefix match.
func Tokens(freeText string) []string {
	cleaned := reFTSSpecial.ReplaceAllString(freeText, " ")
	return strings.Fields(cleaned)
}
