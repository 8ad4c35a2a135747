package correlate

import (
	"context"
	"fmt"

	"github.com/vkruglov/replyharvest/pkg/models"
)

// fallbackReply handles sent records carrying neither a message id nor a
// references chain, where the signal pipeline has nothing to anchor on.
// It searches the inbox for mail from the recipient inside the window,
// preferring subject equality (exact or prefix-stripped), then falls back
// to the most recent message from that sender.
func (e *Engine) fallbackReply(ctx context.Context, sent *models.SentRecord) (*models.ReplyCandidate, error) {
	sender := models.NormalizeEmail(sent.Recipient)
	if sender == "" {
		return nil, nil
	}

	cands, err := e.box.FromSender(ctx, inboxName, sender, sent.SentAt)
	if err != nil {
		return nil, fmt.Errorf("fallback search: %w", err)
	}

	before := sent.SentAt.Add(e.opts.Window)
	var inWindow []*models.ReplyCandidate
	for _, cand := range cands {
		if cand.ReceivedAt.After(sent.SentAt) && cand.ReceivedAt.Before(before) {
			inWindow = append(inWindow, cand)
		}
	}
	if len(inWindow) == 0 {
		return nil, nil
	}

	var bySubject *models.ReplyCandidate
	for _, cand := range inWindow {
		if !sameSubject(cand.Subject, sent.Subject) {
			continue
		}
		if bySubject == nil || cand.ReceivedAt.After(bySubject.ReceivedAt) {
			bySubject = cand
		}
	}
	if bySubject != nil {
		return bySubject, nil
	}

	// Last resort: the most recent message from the sender since the
	// sent date.
	latest := inWindow[0]
	for _, cand := range inWindow[1:] {
		if cand.ReceivedAt.After(latest.ReceivedAt) {
			latest = cand
		}
	}
	return latest, nil
}

func sameSubject(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return models.NormalizeSubject(a) == models.NormalizeSubject(b)
}
