package mail

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message/mail"

	"github.com/vkruglov/replyharvest/internal/parser"
	"github.com/vkruglov/replyharvest/pkg/models"
)

// decoded is the normalized view of one raw message: headers plus a plain
// text body (text/plain preferred, HTML stripped as fallback).
type decoded struct {
	From       string
	To         string
	Subject    string
	MessageID  string
	InReplyTo  string
	References string
	Date       time.Time
	Body       string
}

// decodeMessage extracts headers and body from a fetched message. The
// envelope supplies defaults; the parsed MIME header wins where available
// because it decodes encoded words and yields bare message ids.
func decodeMessage(msg *imap.Message, section *imap.BodySectionName, logger *slog.Logger) *decoded {
	d := &decoded{}

	if env := msg.Envelope; env != nil {
		d.Subject = env.Subject
		d.Date = env.Date
		d.MessageID = models.BareMessageID(env.MessageId)
		d.InReplyTo = models.BareMessageID(env.InReplyTo)
		if len(env.From) > 0 {
			d.From = env.From[0].Address()
		}
		if len(env.To) > 0 {
			d.To = env.To[0].Address()
		}
	}

	r := msg.GetBody(section)
	if r == nil {
		return d
	}
	mr, err := mail.CreateReader(r)
	if err != nil {
		logger.Debug("failed to create mail reader", "error", err)
		return d
	}

	h := mr.Header
	if subject, err := h.Subject(); err == nil && subject != "" {
		d.Subject = subject
	}
	if date, err := h.Date(); err == nil && !date.IsZero() {
		d.Date = date
	}
	if id, err := h.MessageID(); err == nil && id != "" {
		d.MessageID = id
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		d.InReplyTo = ids[0]
	}
	if ids, err := h.MsgIDList("References"); err == nil && len(ids) > 0 {
		d.References = strings.Join(ids, " ")
	}
	if addrs, err := h.AddressList("From"); err == nil && len(addrs) > 0 {
		d.From = addrs[0].Address
	}
	if addrs, err := h.AddressList("To"); err == nil && len(addrs) > 0 {
		d.To = addrs[0].Address
	}

	d.Body = readBody(mr, logger)
	return d
}

// readBody walks the inline MIME parts, preferring the first text/plain
// leaf and falling back to HTML-stripped text.
func readBody(mr *mail.Reader, logger *slog.Logger) string {
	var text, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Debug("failed to read part", "error", err)
			break
		}
		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := inline.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(ct, "text/plain") && text == "":
			text = string(body)
		case strings.HasPrefix(ct, "text/html") && html == "":
			html = string(body)
		}
	}

	if text != "" {
		return text
	}
	if html != "" {
		if stripped, err := parser.StripHTML(html); err == nil {
			return stripped
		}
	}
	return ""
}

func sentFromDecoded(d *decoded) *models.SentRecord {
	return &models.SentRecord{
		Recipient:         models.NormalizeEmail(d.To),
		Subject:           d.Subject,
		NormalizedSubject: models.NormalizeSubject(d.Subject),
		MessageID:         d.MessageID,
		References:        d.References,
		SentAt:            d.Date,
		Body:              d.Body,
	}
}

func candidateFromDecoded(d *decoded) *models.ReplyCandidate {
	return &models.ReplyCandidate{
		From:       d.From,
		Subject:    d.Subject,
		MessageID:  d.MessageID,
		InReplyTo:  d.InReplyTo,
		References: d.References,
		ReceivedAt: d.Date,
		Body:       d.Body,
	}
}
