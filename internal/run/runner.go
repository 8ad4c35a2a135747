// Package run drives one harvesting pass: for every sent message, find
// the reply, extract structured data from it and hand the result to the
// record sink. Errors are contained per item so one bad message never
// aborts the pass.
package run

import (
	"context"
	"log/slog"
	"time"

	"github.com/vkruglov/replyharvest/pkg/models"
)

// ReplyFinder locates the most likely reply to a sent message.
// A (nil, nil) result means no reply was found.
type ReplyFinder interface {
	FindReply(ctx context.Context, sent *models.SentRecord) (*models.ReplyCandidate, error)
}

// Analyzer extracts schema fields from a reply body. A (nil, nil) result
// means the model answered but produced nothing usable.
type Analyzer interface {
	Analyze(ctx context.Context, body string, schema models.FieldSchema) (models.ExtractedRecord, error)
}

// RecordSink receives extracted records keyed by the normalized recipient
// address. It reports how many rows it updated; zero is not an error.
type RecordSink interface {
	Update(ctx context.Context, recipient string, record models.ExtractedRecord) (int, error)
}

// BadItem is a reply that was found but could not be processed.
type BadItem struct {
	Recipient string
	Reason    string
	Body      string
}

// Stats aggregates the outcome of one pass.
type Stats struct {
	StartedAt    time.Time
	FinishedAt   time.Time
	TotalSent    int
	RepliesFound int
	Extracted    int
	SinkUpdates  int
	Errors       map[string]int
	Bad          []BadItem
}

func newStats() *Stats {
	return &Stats{
		StartedAt: time.Now(),
		Errors:    map[string]int{},
	}
}

func (s *Stats) addBad(recipient, reason, body string) {
	s.Bad = append(s.Bad, BadItem{Recipient: recipient, Reason: reason, Body: body})
}

// LogSummary writes the pass totals to the logger.
func (s *Stats) LogSummary(logger *slog.Logger) {
	logger.Info("run finished",
		"duration", s.FinishedAt.Sub(s.StartedAt).Round(time.Second),
		"total_sent", s.TotalSent,
		"replies_found", s.RepliesFound,
		"extracted", s.Extracted,
		"sink_updates", s.SinkUpdates,
		"imap_errors", s.Errors["imap"],
		"llm_errors", s.Errors["llm"],
		"sink_errors", s.Errors["sink"],
		"bad_items", len(s.Bad),
	)
}

// Runner runs the correlate-extract-deliver loop.
type Runner struct {
	finder   ReplyFinder
	analyzer Analyzer
	sink     RecordSink
	schema   models.FieldSchema
	logger   *slog.Logger
}

// NewRunner wires the pass collaborators.
func NewRunner(finder ReplyFinder, analyzer Analyzer, sink RecordSink, schema models.FieldSchema, logger *slog.Logger) *Runner {
	return &Runner{
		finder:   finder,
		analyzer: analyzer,
		sink:     sink,
		schema:   schema,
		logger:   logger.With("component", "run"),
	}
}

// Run processes the sent records sequentially and returns the pass stats.
// It stops early only when the context is cancelled.
func (r *Runner) Run(ctx context.Context, sent []*models.SentRecord) (*Stats, error) {
	stats := newStats()
	stats.TotalSent = len(sent)
	defer func() { stats.FinishedAt = time.Now() }()

	for _, rec := range sent {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		r.processOne(ctx, rec, stats)
	}
	return stats, nil
}

func (r *Runner) processOne(ctx context.Context, sent *models.SentRecord, stats *Stats) {
	logger := r.logger.With("recipient", sent.Recipient)

	reply, err := r.finder.FindReply(ctx, sent)
	if err != nil {
		logger.Warn("reply search failed", "error", err)
		stats.Errors["imap"]++
		return
	}
	if reply == nil {
		logger.Info("no reply found")
		return
	}
	stats.RepliesFound++

	record, err := r.analyzer.Analyze(ctx, reply.Body, r.schema)
	if err != nil {
		logger.Error("analysis failed", "error", err)
		stats.addBad(sent.Recipient, err.Error(), reply.Body)
		stats.Errors["llm"]++
		return
	}
	if record == nil {
		stats.addBad(sent.Recipient, "no structured data in model response", reply.Body)
		stats.Errors["llm"]++
		return
	}
	stats.Extracted++

	updates, err := r.sink.Update(ctx, sent.Recipient, record)
	if err != nil {
		logger.Error("sink update failed", "error", err)
		stats.Errors["sink"]++
		return
	}
	if updates == 0 {
		logger.Warn("recipient not found in sink")
		return
	}
	stats.SinkUpdates += updates
}
