package models

import (
	"regexp"
	"strings"
	"time"
)

// SentRecord is a normalized outbound message whose reply is being sought.
// Immutable once decoded.
type SentRecord struct {
	Recipient         string // normalized (lowercase, trimmed) To address
	Subject           string
	NormalizedSubject string
	MessageID         string // bare, without angle brackets
	References        string // bare ids, space separated
	SentAt            time.Time
	Body              string
}

// ReplyCandidate is an inbound message considered as a possible reply.
// Lives only for the duration of one correlation search.
type ReplyCandidate struct {
	From       string
	Subject    string
	MessageID  string
	InReplyTo  string // bare id
	References string // bare ids, space separated
	ReceivedAt time.Time
	Body       string
	Confidence int
}

// FieldSchema is the ordered set of field names an extracted record must
// project onto. Never mutated.
type FieldSchema []string

// ExtractedRecord maps every schema field to a string value. A record with
// all-blank values is never surfaced; absence is represented by a nil map.
type ExtractedRecord map[string]string

// Folder is a mailbox folder with its raw (wire) and decoded display name.
type Folder struct {
	Raw  string
	Name string
}

// NormalizeEmail lowercases and trims an email address for comparison.
func NormalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

var subjectPrefixRe = regexp.MustCompile(`(?i)^(re(\[\d+\])?:|fwd?:|\[external\])\s*`)

// NormalizeSubject strips reply/forward prefixes ("RE:", "RE[2]:", "FWD:",
// "[EXTERNAL]") repeatedly and lowercases the remainder.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		stripped := strings.TrimSpace(subjectPrefixRe.ReplaceAllString(s, ""))
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.ToLower(s)
}

// BareMessageID strips angle-bracket delimiters and whitespace from a
// Message-ID header value.
func BareMessageID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}
