package run

import (
	"context"
	"log/slog"

	"github.com/vkruglov/replyharvest/pkg/models"
)

// LogSink is a RecordSink that only logs extracted records. It stands in
// when no downstream table is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a logging sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "sink")}
}

// Update logs the record and reports one update.
func (s *LogSink) Update(ctx context.Context, recipient string, record models.ExtractedRecord) (int, error) {
	attrs := make([]any, 0, 2+2*len(record))
	attrs = append(attrs, "recipient", recipient)
	for k, v := range record {
		attrs = append(attrs, k, v)
	}
	s.logger.Info("extracted record", attrs...)
	return 1, nil
}
