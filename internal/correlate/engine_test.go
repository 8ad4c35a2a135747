package correlate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkruglov/replyharvest/pkg/models"
)

type fakeMailbox struct {
	folders    []models.Folder
	byFolder   map[string][]*models.ReplyCandidate
	scanned    []string
	foldersErr error
	searchErr  map[string]error
}

func (f *fakeMailbox) Folders(ctx context.Context) ([]models.Folder, error) {
	return f.folders, f.foldersErr
}

func (f *fakeMailbox) Candidates(ctx context.Context, folder string, since, before time.Time) ([]*models.ReplyCandidate, error) {
	f.scanned = append(f.scanned, folder)
	if err := f.searchErr[folder]; err != nil {
		return nil, err
	}
	var out []*models.ReplyCandidate
	for _, c := range f.byFolder[folder] {
		if c.ReceivedAt.Before(before) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeMailbox) FromSender(ctx context.Context, folder, sender string, since time.Time) ([]*models.ReplyCandidate, error) {
	f.scanned = append(f.scanned, folder)
	return f.byFolder[folder], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var sentAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func sentRecord() *models.SentRecord {
	return &models.SentRecord{
		Recipient:         "partner@example.com",
		Subject:           "Price request",
		NormalizedSubject: "price request",
		MessageID:         "abc123@mail.example.com",
		SentAt:            sentAt,
	}
}

func TestFindReplyDirectMatchConfidence(t *testing.T) {
	box := &fakeMailbox{
		byFolder: map[string][]*models.ReplyCandidate{
			"INBOX": {{
				From:       "partner@example.com",
				Subject:    "Re: Price request",
				InReplyTo:  "abc123@mail.example.com",
				ReceivedAt: sentAt.Add(2 * time.Hour),
			}},
		},
	}
	engine := New(box, testLogger(), Options{})

	reply, err := engine.FindReply(context.Background(), sentRecord())
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.GreaterOrEqual(t, reply.Confidence, 50)
}

func TestFindReplyTemporalInvariant(t *testing.T) {
	// Even a direct in-reply-to match is discarded when it was received
	// before the sent timestamp.
	box := &fakeMailbox{
		byFolder: map[string][]*models.ReplyCandidate{
			"INBOX": {{
				From:       "partner@example.com",
				InReplyTo:  "abc123@mail.example.com",
				ReceivedAt: sentAt.Add(-time.Hour),
			}},
		},
	}
	engine := New(box, testLogger(), Options{})

	reply, err := engine.FindReply(context.Background(), sentRecord())
	require.NoError(t, err)
	assert.Nil(t, reply)
}

func TestFindReplyRankingDeterminism(t *testing.T) {
	strong := &models.ReplyCandidate{
		From:       "other@example.com",
		InReplyTo:  "abc123@mail.example.com", // 50
		ReceivedAt: sentAt.Add(48 * time.Hour),
	}
	weak := &models.ReplyCandidate{
		From:       "partner@example.com", // 30
		Subject:    "Price request",       // 15
		ReceivedAt: sentAt.Add(time.Hour),
	}

	for name, order := range map[string][]*models.ReplyCandidate{
		"strong first": {strong, weak},
		"weak first":   {weak, strong},
	} {
		box := &fakeMailbox{byFolder: map[string][]*models.ReplyCandidate{"INBOX": order}}
		engine := New(box, testLogger(), Options{})

		reply, err := engine.FindReply(context.Background(), sentRecord())
		require.NoError(t, err, name)
		require.NotNil(t, reply, name)
		assert.Equal(t, "other@example.com", reply.From, name)
		assert.Equal(t, 50, reply.Confidence, name)
	}
}

func TestFindReplyTieBreakByTimeDistance(t *testing.T) {
	near := &models.ReplyCandidate{
		From:       "partner@example.com",
		Subject:    "Re: Price request",
		ReceivedAt: sentAt.Add(time.Hour),
	}
	far := &models.ReplyCandidate{
		From:       "partner@example.com",
		Subject:    "Re: Price request",
		ReceivedAt: sentAt.Add(20 * 24 * time.Hour),
	}
	box := &fakeMailbox{byFolder: map[string][]*models.ReplyCandidate{"INBOX": {far, near}}}
	engine := New(box, testLogger(), Options{})

	reply, err := engine.FindReply(context.Background(), sentRecord())
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, near.ReceivedAt, reply.ReceivedAt)
}

func TestFindReplyFolderExclusion(t *testing.T) {
	box := &fakeMailbox{
		folders: []models.Folder{
			{Raw: "INBOX", Name: "INBOX"},
			{Raw: "&BB4EQgQ,BEAEMAQyBDsENQQ9BD0ESwQ1-", Name: "Отправленные"},
			{Raw: "Spam", Name: "Spam"},
			{Raw: "Trash", Name: "Trash"},
			{Raw: "Archive", Name: "Archive"},
			{Raw: "&BBoEPgRABDcEOAQ9BDA-", Name: "Корзина"},
		},
		byFolder: map[string][]*models.ReplyCandidate{},
	}
	engine := New(box, testLogger(), Options{})

	_, err := engine.FindReply(context.Background(), sentRecord())
	require.NoError(t, err)
	assert.Equal(t, []string{"INBOX", "Archive"}, box.scanned)
}

func TestFindReplyScansAllFoldersBeforeRanking(t *testing.T) {
	// The better candidate sits in a later folder; the sweep must not
	// stop at the first folder with results.
	weak := &models.ReplyCandidate{
		From:       "partner@example.com",
		Subject:    "Re: Price request",
		ReceivedAt: sentAt.Add(time.Hour),
	}
	strong := &models.ReplyCandidate{
		From:       "partner@example.com",
		InReplyTo:  "abc123@mail.example.com",
		ReceivedAt: sentAt.Add(3 * time.Hour),
	}
	box := &fakeMailbox{
		folders: []models.Folder{{Raw: "Archive", Name: "Archive"}},
		byFolder: map[string][]*models.ReplyCandidate{
			"INBOX":   {weak},
			"Archive": {strong},
		},
	}
	engine := New(box, testLogger(), Options{})

	reply, err := engine.FindReply(context.Background(), sentRecord())
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.GreaterOrEqual(t, reply.Confidence, 50+30)
}

func TestFindReplyFolderFailureDegrades(t *testing.T) {
	good := &models.ReplyCandidate{
		From:       "partner@example.com",
		InReplyTo:  "abc123@mail.example.com",
		ReceivedAt: sentAt.Add(time.Hour),
	}
	box := &fakeMailbox{
		folders:   []models.Folder{{Raw: "Archive", Name: "Archive"}},
		byFolder:  map[string][]*models.ReplyCandidate{"Archive": {good}},
		searchErr: map[string]error{"INBOX": errors.New("connection reset")},
	}
	engine := New(box, testLogger(), Options{})

	reply, err := engine.FindReply(context.Background(), sentRecord())
	require.NoError(t, err)
	require.NotNil(t, reply)
}

func TestFindReplyFoldersErrorIsTerminal(t *testing.T) {
	box := &fakeMailbox{foldersErr: errors.New("unreachable")}
	engine := New(box, testLogger(), Options{})

	_, err := engine.FindReply(context.Background(), sentRecord())
	assert.Error(t, err)
}

func TestFindReplyBelowThresholdRejected(t *testing.T) {
	// Sender match alone scores 30, below the acceptance threshold.
	box := &fakeMailbox{
		byFolder: map[string][]*models.ReplyCandidate{
			"INBOX": {{
				From:       "partner@example.com",
				Subject:    "Completely different topic",
				ReceivedAt: sentAt.Add(time.Hour),
			}},
		},
	}
	engine := New(box, testLogger(), Options{})

	reply, err := engine.FindReply(context.Background(), sentRecord())
	require.NoError(t, err)
	assert.Nil(t, reply)
}

func TestFindReplyWindowBoundsSearch(t *testing.T) {
	late := &models.ReplyCandidate{
		From:       "partner@example.com",
		InReplyTo:  "abc123@mail.example.com",
		ReceivedAt: sentAt.Add(31 * 24 * time.Hour),
	}
	box := &fakeMailbox{byFolder: map[string][]*models.ReplyCandidate{"INBOX": {late}}}
	engine := New(box, testLogger(), Options{})

	reply, err := engine.FindReply(context.Background(), sentRecord())
	require.NoError(t, err)
	assert.Nil(t, reply)
}

func TestFallbackOnlyWithoutIdentifiers(t *testing.T) {
	reply := &models.ReplyCandidate{
		From:       "partner@example.com",
		Subject:    "Re: Price request",
		ReceivedAt: sentAt.Add(time.Hour),
	}
	box := &fakeMailbox{byFolder: map[string][]*models.ReplyCandidate{"INBOX": {reply}}}
	engine := New(box, testLogger(), Options{})

	sent := sentRecord()
	sent.MessageID = ""
	sent.References = ""

	got, err := engine.FindReply(context.Background(), sent)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, reply.From, got.From)
}

func TestFallbackPrefersSubjectMatch(t *testing.T) {
	offTopic := &models.ReplyCandidate{
		From:       "partner@example.com",
		Subject:    "Invoice #42",
		ReceivedAt: sentAt.Add(5 * time.Hour),
	}
	onTopic := &models.ReplyCandidate{
		From:       "partner@example.com",
		Subject:    "RE: Price request",
		ReceivedAt: sentAt.Add(time.Hour),
	}
	box := &fakeMailbox{byFolder: map[string][]*models.ReplyCandidate{"INBOX": {offTopic, onTopic}}}
	engine := New(box, testLogger(), Options{})

	sent := sentRecord()
	sent.MessageID = ""
	sent.References = ""

	got, err := engine.FindReply(context.Background(), sent)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "RE: Price request", got.Subject)
}

func TestFallbackLastResortMostRecent(t *testing.T) {
	older := &models.ReplyCandidate{
		From:       "partner@example.com",
		Subject:    "Invoice #41",
		ReceivedAt: sentAt.Add(time.Hour),
	}
	newer := &models.ReplyCandidate{
		From:       "partner@example.com",
		Subject:    "Invoice #42",
		ReceivedAt: sentAt.Add(6 * time.Hour),
	}
	box := &fakeMailbox{byFolder: map[string][]*models.ReplyCandidate{"INBOX": {older, newer}}}
	engine := New(box, testLogger(), Options{})

	sent := sentRecord()
	sent.MessageID = ""
	sent.References = ""

	got, err := engine.FindReply(context.Background(), sent)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Invoice #42", got.Subject)
}
