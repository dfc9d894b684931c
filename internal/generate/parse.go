package generate

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// arrayPattern spans the first '[' to the last ']' of the text.
var arrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// ExtractCandidate returns the substring of raw most likely to hold the JSON
// task array. Without any bracketed span the whole text is the candidate.
func ExtractCandidate(raw string) string {
	if m := arrayPattern.FindString(raw); m != "" {
		return m
	}
	return raw
}

// ParseTitles strictly parses candidate and returns the string titles of the
// array elements shaped like {"title": "..."}, in input order. Invalid JSON,
// a non-array document and elements of any other shape all contribute
// nothing; ok is false only when candidate is not a JSON array at all.
func ParseTitles(candidate string) (titles []string, ok bool) {
	candidate = strings.TrimSpace(candidate)
	if !gjson.Valid(candidate) {
		return nil, false
	}
	doc := gjson.Parse(candidate)
	if !doc.IsArray() {
		return nil, false
	}
	doc.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}
		// A repeated key takes its last value.
		var title gjson.Result
		item.ForEach(func(key, value gjson.Result) bool {
			if key.String() == "title" {
				title = value
			}
			return true
		})
		if title.Type == gjson.String {
			titles = append(titles, title.String())
		}
		return true
	})
	return titles, true
}
