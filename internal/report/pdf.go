// Package report renders stored feedback entries as PDF documents.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"impulsesim.com/suture-feedback/internal/store"
)

const (
	DefaultTitle  = "Suture Technique Feedback Report"
	DefaultFooter = "Generated by Impulse Sim AI Feedback"

	pageMargin = 15.0
	lineHeight = 6.0
)

type Options struct {
	Title    string
	Footer   string
	MaxScore int // denominator shown in the score table, 10 when zero
}

// Render lays out one entry on A4 pages: title, metadata, score table,
// feedback text and a footer on every page.
func Render(e store.FeedbackEntry, opts Options) ([]byte, error) {
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	if opts.Footer == "" {
		opts.Footer = DefaultFooter
	}
	if opts.MaxScore <= 0 {
		opts.MaxScore = 10
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetTitle(opts.Title, true)
	pdf.SetCreator("suture-feedback", true)
	pdf.SetCreationDate(e.Timestamp)

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	text := func(s string) string { return tr(Latin1(s)) }

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 10, text(fmt.Sprintf("%s - page %d", opts.Footer, pdf.PageNo())), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, text(opts.Title), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(80, 80, 80)
	pdf.CellFormat(0, lineHeight, text("Date: "+e.Timestamp.UTC().Format(time.RFC1123)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, lineHeight, text("Entry ID: "+e.ID), "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(4)

	if len(e.Scores) > 0 {
		writeScoreTable(pdf, text, e, opts.MaxScore)
		pdf.Ln(6)
	}

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Feedback", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	for _, para := range strings.Split(strings.ReplaceAll(e.Feedback, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(para) == "" {
			pdf.Ln(lineHeight / 2)
			continue
		}
		pdf.MultiCell(0, lineHeight, text(para), "", "L", false)
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("failed to lay out report: %w", err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}
	return buf.Bytes(), nil
}

func writeScoreTable(pdf *fpdf.Fpdf, text func(string) string, e store.FeedbackEntry, maxScore int) {
	const (
		domainWidth = 140.0
		scoreWidth  = 40.0
		rowHeight   = 7.0
	)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetFillColor(230, 236, 242)
	pdf.CellFormat(domainWidth, rowHeight, "Domain", "1", 0, "L", true, 0, "")
	pdf.CellFormat(scoreWidth, rowHeight, "Score", "1", 1, "C", true, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	for _, s := range e.Scores {
		pdf.CellFormat(domainWidth, rowHeight, text(s.Domain), "1", 0, "L", false, 0, "")
		pdf.CellFormat(scoreWidth, rowHeight, fmt.Sprintf("%d/%d", s.Score, maxScore), "1", 1, "C", false, 0, "")
	}
	if e.Overall > 0 {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(domainWidth, rowHeight, "Overall", "1", 0, "L", true, 0, "")
		pdf.CellFormat(scoreWidth, rowHeight, fmt.Sprintf("%d/%d", e.Overall, maxScore), "1", 1, "C", true, 0, "")
	}
}

var latin1Replacer = strings.NewReplacer(
	"‘", "'", "’", "'",
	"“", `"`, "”", `"`,
	"–", "-", "—", "-",
	"…", "...", "•", "-",
	"⚠️", "!", "⚠", "!",
	"️", "",
)

// Latin1 maps common typographic runes to ASCII and replaces anything else
// outside Latin-1 with '?', since the core PDF fonts cannot encode it.
func Latin1(s string) string {
	s = latin1Replacer.Replace(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r > 0xFF {
			b.WriteByte('?')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
