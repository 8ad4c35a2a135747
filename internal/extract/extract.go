// Package extract recovers a well-typed field/value record from the
// unstructured, possibly truncated text produced by a text-generation
// service. Extraction is a layered pipeline of pure functions; every layer
// is tried until one yields a schema-valid record.
package extract

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/vkruglov/replyharvest/pkg/models"
)

var errNotObject = errors.New("parsed value is not an object")

// markers anchor a rescan of the text that follows them (layer 4).
// Matched case-insensitively on the original text; lowering a copy would
// shift byte offsets for runes whose case pair differs in UTF-8 length.
var markers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)json:`),
	regexp.MustCompile(`(?i)результат:`),
	regexp.MustCompile(`(?i)ответ:`),
	regexp.MustCompile(`(?i)извлеченные данные:`),
}

var (
	lineCommentRe  = regexp.MustCompile(`//[^\n]*`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
)

// Extract recovers a record conforming to schema from raw text. The text
// may be a full API response envelope; it is unwrapped first. Returns
// (nil, false) when every layer exhausts without a valid record — a
// normal outcome, not an error. Pure function of its inputs.
func Extract(raw string, schema models.FieldSchema) (models.ExtractedRecord, bool) {
	text := Unwrap(raw)
	if strings.TrimSpace(text) == "" || len(schema) == 0 {
		return nil, false
	}

	// Layer 1: brace-balanced scan, candidates in order of appearance.
	parsedAny := false
	for _, candidate := range scanObjects(text) {
		obj, err := parseObject(candidate)
		if err != nil {
			continue
		}
		parsedAny = true
		if rec, ok := project(obj, schema); ok {
			return rec, true
		}
	}

	// Layer 2: truncation repair, only when nothing parsed above.
	if !parsedAny {
		if fixed, ok := repairTruncated(text); ok {
			if obj, err := parseObject(fixed); err == nil {
				if rec, ok := project(obj, schema); ok {
					return rec, true
				}
			}
		}
	}

	// Layer 3: whole cleaned text as one object.
	if obj, err := parseObject(cleanText(text)); err == nil {
		if rec, ok := project(obj, schema); ok {
			return rec, true
		}
	}

	// Layer 4: keyword-anchored rescan.
	for _, candidate := range afterMarkers(text) {
		obj, err := parseObject(candidate)
		if err != nil {
			continue
		}
		if rec, ok := project(obj, schema); ok {
			return rec, true
		}
	}

	return nil, false
}

// scanObjects walks the text tracking brace nesting depth while respecting
// quoted strings: a quote toggles string state unless escaped, and an
// escape consumes the following character. Every time depth returns to
// zero the substring since the matching open brace is a candidate.
func scanObjects(text string) []string {
	var objs []string
	depth, start := 0, -1
	inString, escaped := false, false

	for i, r := range text {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '"':
			inString = !inString
		case '{':
			if !inString {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inString && depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					objs = append(objs, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return objs
}

// repairTruncated takes the text from the last unmatched open brace and
// attempts minimal repair: close an odd unescaped quote, then close one
// missing brace. The repaired candidate is accepted only if it parses.
func repairTruncated(text string) (string, bool) {
	start := lastUnmatchedBrace(text)
	if start < 0 {
		return "", false
	}

	candidate := strings.TrimRight(text[start:], " \t\r\n")
	if unescapedQuotes(candidate)%2 != 0 {
		candidate += `"`
	}
	if strings.Count(candidate, "{") > strings.Count(candidate, "}") {
		candidate += "}"
	}
	if _, err := parseObject(candidate); err != nil {
		return "", false
	}
	return candidate, true
}

func lastUnmatchedBrace(text string) int {
	var open []int
	inString, escaped := false, false
	for i, r := range text {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '"':
			inString = !inString
		case '{':
			if !inString {
				open = append(open, i)
			}
		case '}':
			if !inString && len(open) > 0 {
				open = open[:len(open)-1]
			}
		}
	}
	if len(open) == 0 {
		return strings.LastIndex(text, "{")
	}
	return open[len(open)-1]
}

func unescapedQuotes(s string) int {
	n := 0
	escaped := false
	for _, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '"':
			n++
		}
	}
	return n
}

// cleanText strips line and block comments and collapses whitespace.
func cleanText(text string) string {
	text = lineCommentRe.ReplaceAllString(text, "")
	text = blockCommentRe.ReplaceAllString(text, "")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// afterMarkers returns brace-balanced candidates found in the text
// following each known marker occurrence.
func afterMarkers(text string) []string {
	var out []string
	for _, marker := range markers {
		for _, loc := range marker.FindAllStringIndex(text, -1) {
			out = append(out, scanObjects(text[loc[1]:])...)
		}
	}
	return out
}

// parseObject parses s as structured data and requires a key/value object,
// not an array or scalar.
func parseObject(s string) (map[string]interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}

// project maps a parsed object onto the schema: missing keys default to
// empty strings, non-string values are stringified, foreign keys are
// dropped. The record is valid only if at least one field is non-blank.
func project(obj map[string]interface{}, schema models.FieldSchema) (models.ExtractedRecord, bool) {
	rec := make(models.ExtractedRecord, len(schema))
	blank := true
	for _, field := range schema {
		s := ""
		if v, ok := obj[field]; ok {
			s = stringify(v)
		}
		rec[field] = s
		if strings.TrimSpace(s) != "" {
			blank = false
		}
	}
	if blank {
		return nil, false
	}
	return rec, true
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
