package correlate

import (
	"strings"

	"github.com/vkruglov/replyharvest/pkg/models"
)

// Signal is an independent matching heuristic contributing a score delta.
// A direct signal establishes the reply relationship outright.
type Signal struct {
	Name   string
	Score  int
	Direct bool
	// NeedsID marks signals that are skipped, not failed, when the sent
	// message has no identifier.
	NeedsID bool
	Match   func(sent *models.SentRecord, cand *models.ReplyCandidate) bool
}

// Signals, in priority order. Confidence is accumulated as a fold over
// them so ranking is independent of scan order.
var Signals = []Signal{
	{
		Name: "in-reply-to", Score: 50, Direct: true, NeedsID: true,
		Match: func(s *models.SentRecord, c *models.ReplyCandidate) bool {
			return c.InReplyTo != "" && c.InReplyTo == s.MessageID
		},
	},
	{
		Name: "references", Score: 40, Direct: true, NeedsID: true,
		Match: func(s *models.SentRecord, c *models.ReplyCandidate) bool {
			return strings.Contains(c.References, s.MessageID)
		},
	},
	{
		Name: "sender", Score: 30,
		Match: func(s *models.SentRecord, c *models.ReplyCandidate) bool {
			return s.Recipient != "" &&
				strings.Contains(strings.ToLower(c.From), models.NormalizeEmail(s.Recipient))
		},
	},
	{
		Name: "reply-prefix", Score: 20,
		Match: func(s *models.SentRecord, c *models.ReplyCandidate) bool {
			subj := strings.ToLower(strings.TrimSpace(c.Subject))
			return strings.HasPrefix(subj, "re:") || strings.HasPrefix(subj, "ре:")
		},
	},
	{
		Name: "subject-similarity", Score: 15,
		Match: func(s *models.SentRecord, c *models.ReplyCandidate) bool {
			return subjectsMatch(c.Subject, s.Subject)
		},
	},
}

// Score folds the signal checks over one candidate and reports whether any
// direct signal matched. Identifier-based signals are skipped when the
// sent record carries no message id.
func Score(sent *models.SentRecord, cand *models.ReplyCandidate) (total int, direct bool) {
	for _, sig := range Signals {
		if sig.NeedsID && sent.MessageID == "" {
			continue
		}
		if sig.Match(sent, cand) {
			total += sig.Score
			if sig.Direct {
				direct = true
			}
		}
	}
	return total, direct
}

// subjectsMatch compares subjects after stripping reply/forward prefixes:
// exact case-insensitive equality, or word-set overlap covering at least
// 70% of the original subject's words.
func subjectsMatch(replySubject, originalSubject string) bool {
	reply := models.NormalizeSubject(replySubject)
	original := models.NormalizeSubject(originalSubject)
	if reply == "" || original == "" {
		return false
	}
	if reply == original {
		return true
	}

	replyWords := wordSet(reply)
	originalWords := wordSet(original)
	if len(originalWords) == 0 {
		return false
	}

	overlap := 0
	for w := range originalWords {
		if _, ok := replyWords[w]; ok {
			overlap++
		}
	}
	return float64(overlap)/float64(len(originalWords)) >= 0.7
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}
