// Package mail owns the IMAP session: connection lifecycle, folder
// enumeration and selection, date-bounded searches and message decoding.
// Callers never touch the underlying connection; they get back normalized
// records.
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/vkruglov/replyharvest/internal/retry"
	"github.com/vkruglov/replyharvest/pkg/models"
)

// State of the session's connection machine. Transitions are guarded by
// the session; reconnect-after-drop replays the selected folder.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateFolderSelected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateFolderSelected:
		return "folder-selected"
	default:
		return "disconnected"
	}
}

var errNotConnected = errors.New("not connected")

// Config for an IMAP session.
type Config struct {
	Addr        string // host:port
	Username    string
	Password    string
	DialTimeout time.Duration
	BatchSize   int
	Retry       retry.Policy
}

// Session is an exclusively-owned, mutex-guarded IMAP connection with
// reconnect-on-drop semantics for long-running fetch loops.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	conn   *client.Client
	state  State
	folder string // raw name of the currently selected folder
}

// NewSession creates a disconnected session.
func NewSession(cfg Config, logger *slog.Logger) *Session {
	return &Session{
		cfg:    cfg,
		logger: logger.With("component", "mail", "server", cfg.Addr),
	}
}

// Connect dials the server over TLS and authenticates.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked()
}

func (s *Session) connectLocked() error {
	if s.state != StateDisconnected {
		return nil
	}

	timeout := s.cfg.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", s.cfg.Addr, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create IMAP client: %w", err)
	}
	imapClient.Timeout = timeout

	if err := imapClient.Login(s.cfg.Username, s.cfg.Password); err != nil {
		imapClient.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}

	s.conn = imapClient
	s.state = StateConnected
	s.logger.Info("connected to IMAP server")
	return nil
}

// Close logs out and resets the state machine.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.conn != nil {
		if err := s.conn.Logout(); err != nil {
			s.logger.Warn("logout failed", "error", err)
		}
		s.conn = nil
	}
	s.state = StateDisconnected
	s.folder = ""
}

// State reports the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// reconnectLocked rebuilds the connection and replays the previously
// selected folder, leaving the session usable for the next operation.
func (s *Session) reconnectLocked() error {
	folder := s.folder
	s.closeLocked()
	if err := s.connectLocked(); err != nil {
		return err
	}
	if folder != "" {
		return s.selectLocked(folder)
	}
	return nil
}

// withRetryLocked runs op under the session's retry policy, reconnecting
// before every attempt after the first. Caller must hold the mutex.
func (s *Session) withRetryLocked(ctx context.Context, op func() error) error {
	first := true
	return retry.Do(ctx, s.cfg.Retry, func() error {
		if !first {
			s.logger.Warn("retrying after connection failure", "state", s.state.String())
			if err := s.reconnectLocked(); err != nil {
				return err
			}
		}
		first = false
		return op()
	})
}

func (s *Session) selectLocked(raw string) error {
	if s.state == StateDisconnected {
		return errNotConnected
	}
	if s.state == StateFolderSelected && s.folder == raw {
		return nil
	}
	if _, err := s.conn.Select(raw, true); err != nil {
		return fmt.Errorf("failed to select folder %q: %w", raw, err)
	}
	s.state = StateFolderSelected
	s.folder = raw
	return nil
}

// selectAnyLocked selects the first folder whose decoded or raw name
// matches one of the wanted names after case and whitespace normalization.
func (s *Session) selectAnyLocked(wanted []string) (string, error) {
	folders, err := s.listLocked()
	if err != nil {
		return "", err
	}

	decoded := make(map[string]string, len(folders))
	raw := make(map[string]string, len(folders))
	for _, f := range folders {
		decoded[normalizeFolderName(f.Name)] = f.Raw
		raw[normalizeFolderName(f.Raw)] = f.Raw
	}

	for _, want := range wanted {
		norm := normalizeFolderName(want)
		target, ok := decoded[norm]
		if !ok {
			target, ok = raw[norm]
		}
		if !ok {
			continue
		}
		if err := s.selectLocked(target); err != nil {
			s.logger.Warn("failed to select folder", "folder", want, "error", err)
			continue
		}
		return target, nil
	}
	return "", fmt.Errorf("none of the folders %v found", wanted)
}

func normalizeFolderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// fetchLocked fetches whole messages for the given UIDs.
func (s *Session) fetchLocked(uids []uint32, section *imap.BodySectionName) ([]*imap.Message, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}
	ch := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- s.conn.UidFetch(seqset, items, ch)
	}()

	var msgs []*imap.Message
	for msg := range ch {
		msgs = append(msgs, msg)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	return msgs, nil
}

// Folders lists all folders with decoded display names.
func (s *Session) Folders(ctx context.Context) ([]models.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var folders []models.Folder
	err := s.withRetryLocked(ctx, func() error {
		var lerr error
		folders, lerr = s.listLocked()
		return lerr
	})
	return folders, err
}

// Candidates returns decoded messages received in folder within
// [since, before). The server-side query is bounded by that window.
func (s *Session) Candidates(ctx context.Context, folder string, since, before time.Time) ([]*models.ReplyCandidate, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	criteria.Before = before
	return s.searchCandidates(ctx, folder, criteria)
}

// FromSender returns decoded messages in folder from the given sender,
// received since the given time.
func (s *Session) FromSender(ctx context.Context, folder, sender string, since time.Time) ([]*models.ReplyCandidate, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	criteria.Header.Add("From", sender)
	return s.searchCandidates(ctx, folder, criteria)
}

func (s *Session) searchCandidates(ctx context.Context, folder string, criteria *imap.SearchCriteria) ([]*models.ReplyCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	section := &imap.BodySectionName{}
	var candidates []*models.ReplyCandidate
	err := s.withRetryLocked(ctx, func() error {
		candidates = candidates[:0]
		if err := s.selectLocked(folder); err != nil {
			return err
		}
		uids, err := s.conn.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("search in %q: %w", folder, err)
		}
		msgs, err := s.fetchLocked(uids, section)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			candidates = append(candidates, candidateFromDecoded(decodeMessage(msg, section, s.logger)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

// LoadSent loads all messages from the first matching sent folder since
// the given date, fetching in batches and reconnecting on drops mid-loop.
func (s *Session) LoadSent(ctx context.Context, sentFolders []string, since time.Time) ([]*models.SentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var uids []uint32
	err := s.withRetryLocked(ctx, func() error {
		if _, err := s.selectAnyLocked(sentFolders); err != nil {
			return err
		}
		criteria := imap.NewSearchCriteria()
		criteria.Since = since
		found, err := s.conn.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("search sent folder: %w", err)
		}
		uids = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	batch := s.cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}

	section := &imap.BodySectionName{}
	var sent []*models.SentRecord
	for start := 0; start < len(uids); start += batch {
		end := min(start+batch, len(uids))
		var msgs []*imap.Message
		err := s.withRetryLocked(ctx, func() error {
			var ferr error
			msgs, ferr = s.fetchLocked(uids[start:end], section)
			return ferr
		})
		if err != nil {
			return sent, fmt.Errorf("fetch sent batch: %w", err)
		}
		for _, msg := range msgs {
			rec := sentFromDecoded(decodeMessage(msg, section, s.logger))
			if rec.Recipient == "" {
				s.logger.Debug("skipping sent message without recipient", "subject", rec.Subject)
				continue
			}
			sent = append(sent, rec)
		}
	}

	s.logger.Info("loaded sent messages", "count", len(sent), "folder", s.folder)
	return sent, nil
}
