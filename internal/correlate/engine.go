// Package correlate matches inbound replies to previously sent messages.
// Candidates are gathered from every eligible folder within a date window,
// scored by independent signals and ranked by confidence.
package correlate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/vkruglov/replyharvest/pkg/models"
)

// Mailbox is the narrow mail-store contract the engine searches over.
// Implementations own the connection and its retry/reconnect behaviour;
// the engine only sees records.
type Mailbox interface {
	// Folders lists all folders with decoded display names.
	Folders(ctx context.Context) ([]models.Folder, error)
	// Candidates returns decoded messages received in folder within
	// [since, before). The store-side query is bounded by that window.
	Candidates(ctx context.Context, folder string, since, before time.Time) ([]*models.ReplyCandidate, error)
	// FromSender returns decoded messages in folder whose From header
	// matches sender, received since the given time.
	FromSender(ctx context.Context, folder, sender string, since time.Time) ([]*models.ReplyCandidate, error)
}

// DefaultExcludePatterns filters sent/spam/trash folders out of the sweep.
// Matched case-insensitively as substrings of decoded folder names.
var DefaultExcludePatterns = []string{"sent", "отправ", "spam", "junk", "trash", "корзин", "удален"}

const (
	defaultWindow    = 30 * 24 * time.Hour
	defaultThreshold = 40
	inboxName        = "INBOX"
)

// Options tune the engine. Zero values fall back to defaults.
type Options struct {
	Window          time.Duration
	Threshold       int
	ExcludePatterns []string
}

// Engine finds the best-matching reply for a sent record.
type Engine struct {
	box    Mailbox
	opts   Options
	logger *slog.Logger
}

// New creates a correlation engine over the given mailbox.
func New(box Mailbox, logger *slog.Logger, opts Options) *Engine {
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.Threshold <= 0 {
		opts.Threshold = defaultThreshold
	}
	if opts.ExcludePatterns == nil {
		opts.ExcludePatterns = DefaultExcludePatterns
	}
	return &Engine{
		box:    box,
		opts:   opts,
		logger: logger.With("component", "correlate"),
	}
}

// FindReply scans all eligible folders, collects every accepted candidate
// and returns the top-ranked one, or nil when no reply is found. A nil
// result with a nil error is the normal "not found" outcome; an error is
// terminal for this sent record only.
func (e *Engine) FindReply(ctx context.Context, sent *models.SentRecord) (*models.ReplyCandidate, error) {
	if sent.MessageID == "" && sent.References == "" {
		return e.fallbackReply(ctx, sent)
	}

	folders, err := e.box.Folders(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}

	before := sent.SentAt.Add(e.opts.Window)
	var pool []*models.ReplyCandidate

	for _, folder := range e.sweepOrder(folders) {
		cands, err := e.box.Candidates(ctx, folder.Raw, sent.SentAt, before)
		if err != nil {
			// A failed folder degrades to "nothing found there"; the
			// sweep continues so one bad folder cannot hide a reply
			// sitting in another.
			e.logger.Warn("folder search failed", "folder", folder.Name, "error", err)
			continue
		}
		for _, cand := range cands {
			if !cand.ReceivedAt.After(sent.SentAt) {
				continue
			}
			total, direct := Score(sent, cand)
			if direct || total >= e.opts.Threshold {
				cand.Confidence = total
				pool = append(pool, cand)
			}
		}
	}

	if len(pool) == 0 {
		return nil, nil
	}
	rank(pool, sent.SentAt)
	best := pool[0]
	e.logger.Debug("reply selected",
		"recipient", sent.Recipient, "confidence", best.Confidence, "pool", len(pool))
	return best, nil
}

// sweepOrder puts the inbox first, then every other folder except those
// matching an exclusion pattern.
func (e *Engine) sweepOrder(folders []models.Folder) []models.Folder {
	order := []models.Folder{{Raw: inboxName, Name: inboxName}}
	for _, f := range folders {
		if strings.EqualFold(strings.TrimSpace(f.Raw), inboxName) {
			continue
		}
		if e.excluded(f.Name) {
			continue
		}
		order = append(order, f)
	}
	return order
}

func (e *Engine) excluded(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, pattern := range e.opts.ExcludePatterns {
		if strings.Contains(name, pattern) {
			return true
		}
	}
	return false
}

// rank sorts by confidence descending, breaking ties by absolute time
// distance from the sent timestamp.
func rank(pool []*models.ReplyCandidate, sentAt time.Time) {
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].Confidence != pool[j].Confidence {
			return pool[i].Confidence > pool[j].Confidence
		}
		di := absDuration(pool[i].ReceivedAt.Sub(sentAt))
		dj := absDuration(pool[j].ReceivedAt.Sub(sentAt))
		return di < dj
	})
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
