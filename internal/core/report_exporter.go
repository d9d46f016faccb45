package core

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"impulsesim.com/suture-feedback/internal/metrics"
	"impulsesim.com/suture-feedback/internal/report"
)

type ReportExporter struct {
	log    *FeedbackLog
	opts   report.Options
	logger zerolog.Logger
}

func NewReportExporter(log *FeedbackLog, opts report.Options, logger zerolog.Logger) *ReportExporter {
	return &ReportExporter{log: log, opts: opts, logger: logger}
}

// Export renders the entry with the given id as a PDF. Unknown ids yield ErrNotFound.
func (r *ReportExporter) Export(ctx context.Context, id string) ([]byte, error) {
	entry, err := r.log.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.ReportExported("not_found")
		} else {
			metrics.ReportExported("error")
		}
		return nil, err
	}
	b, err := report.Render(entry, r.opts)
	if err != nil {
		metrics.ReportExported("error")
		r.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to render report")
		return nil, err
	}
	metrics.ReportExported("ok")
	return b, nil
}
