package core

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impulsesim.com/suture-feedback/internal/report"
	"impulsesim.com/suture-feedback/internal/store"
)

func TestReportExporter(t *testing.T) {
	ctx := context.Background()
	log := NewFeedbackLog(store.NewMemoryStore(), zerolog.Nop())
	exporter := NewReportExporter(log, report.Options{Footer: "Test footer"}, zerolog.Nop())

	t.Run("unknown id", func(t *testing.T) {
		_, err := exporter.Export(ctx, "does-not-exist")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("known id renders pdf", func(t *testing.T) {
		e, err := log.Append(ctx, "Spacing 7/10\nTension 6/10", []store.DomainScore{{Domain: "Tissue handling", Score: 7}}, 7, "")
		require.NoError(t, err)

		b, err := exporter.Export(ctx, e.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, b)
		assert.True(t, bytes.HasPrefix(b, []byte("%PDF-")))
	})
}
