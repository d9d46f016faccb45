package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"impulsesim.com/suture-feedback/internal/metrics"
	"impulsesim.com/suture-feedback/internal/store"
)

const (
	AdvisoryQuota          = "⚠️ AI feedback service is temporarily unavailable (usage limit reached). Please try again later."
	AdvisoryInvalidRequest = "⚠️ Invalid request. Please ensure your image file is a valid JPEG or PNG."
)

var acceptedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// ImageArchiver stores evaluated images and returns the object key.
type ImageArchiver interface {
	Archive(ctx context.Context, data []byte, contentType string) (string, error)
}

type Evaluation struct {
	Feedback string
	EntryID  string
	Scores   []store.DomainScore
	Overall  int
	// Advisory is set when the provider could not evaluate the image and
	// Feedback holds a user-facing notice instead. Nothing was logged.
	Advisory bool
}

type EvaluationService struct {
	provider VisionProvider
	log      *FeedbackLog
	rubric   *Rubric
	archiver ImageArchiver // nil disables archiving
	logger   zerolog.Logger
}

func NewEvaluationService(provider VisionProvider, log *FeedbackLog, rubric *Rubric, archiver ImageArchiver, logger zerolog.Logger) *EvaluationService {
	return &EvaluationService{
		provider: provider,
		log:      log,
		rubric:   rubric,
		archiver: archiver,
		logger:   logger,
	}
}

func (s *EvaluationService) Evaluate(ctx context.Context, image []byte, mimeType string) (Evaluation, error) {
	if len(image) == 0 {
		metrics.EvaluationFinished("error")
		return Evaluation{}, fmt.Errorf("%w: no image data", ErrMissingInput)
	}

	contentType := resolveImageType(image, mimeType)
	if !acceptedImageTypes[contentType] {
		s.logger.Info().Str("content_type", contentType).Int("bytes", len(image)).Msg("rejecting unsupported image type")
		return s.advisory(AdvisoryInvalidRequest), nil
	}

	s.logger.Info().Str("content_type", contentType).Int("bytes", len(image)).Str("provider", s.provider.Name()).Msg("image received, sending to vision provider")
	resp, err := s.provider.Evaluate(ctx, VisionRequest{
		Image:        image,
		MIMEType:     contentType,
		Instructions: s.rubric.Instructions(),
		Prompt:       s.rubric.UserPrompt,
	})
	if err != nil {
		switch providerErrorKind(err) {
		case KindQuota:
			s.logger.Warn().Err(err).Msg("vision provider quota exhausted")
			return s.advisory(AdvisoryQuota), nil
		case KindInvalidRequest:
			s.logger.Warn().Err(err).Msg("vision provider rejected the request")
			return s.advisory(AdvisoryInvalidRequest), nil
		}
		metrics.EvaluationFinished("error")
		return Evaluation{}, fmt.Errorf("vision provider failed: %w", err)
	}

	raw := resp.FeedbackText()
	if strings.TrimSpace(raw) == "" {
		metrics.EvaluationFinished("error")
		return Evaluation{}, errors.New("vision provider returned no feedback text")
	}
	text, scores, overall := s.rubric.interpret(raw)

	var imageKey string
	if s.archiver != nil {
		imageKey, err = s.archiver.Archive(ctx, image, contentType)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to archive evaluated image")
			imageKey = ""
		}
	}

	entry, err := s.log.Append(ctx, text, scores, overall, imageKey)
	if err != nil {
		metrics.EvaluationFinished("error")
		return Evaluation{}, err
	}

	metrics.EvaluationFinished("ok")
	s.logger.Info().Str("entry_id", entry.ID).Int("overall", overall).Int("domains", len(scores)).Msg("evaluation stored")
	return Evaluation{
		Feedback: entry.Feedback,
		EntryID:  entry.ID,
		Scores:   entry.Scores,
		Overall:  entry.Overall,
	}, nil
}

func (s *EvaluationService) advisory(msg string) Evaluation {
	metrics.EvaluationFinished("advisory")
	return Evaluation{Feedback: msg, Advisory: true}
}

// resolveImageType trusts a specific declared type and sniffs the bytes otherwise.
func resolveImageType(image []byte, declared string) string {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		mt = ""
	}
	mt = strings.ToLower(mt)
	if mt == "image/jpg" || mt == "image/pjpeg" {
		mt = "image/jpeg"
	}
	if mt == "" || mt == "application/octet-stream" || mt == "image/*" {
		sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(image))
		return sniffed
	}
	return mt
}

type structuredDomain struct {
	Domain  string  `json:"domain"`
	Score   float64 `json:"score"`
	Comment string  `json:"comment"`
}

type structuredFeedback struct {
	Domains     []structuredDomain `json:"domains"`
	Overall     float64            `json:"overall"`
	Summary     string             `json:"summary"`
	Suggestions []string           `json:"suggestions"`
}

// interpret turns the model output into display text plus structured scores.
// Output that is not the expected JSON object is kept verbatim without scores.
func (r *Rubric) interpret(raw string) (string, []store.DomainScore, int) {
	parsed, ok := parseStructuredFeedback(raw)
	if !ok {
		return strings.TrimSpace(raw), nil, 0
	}

	scores := make([]store.DomainScore, 0, len(parsed.Domains))
	sum := 0
	for _, d := range parsed.Domains {
		name := strings.TrimSpace(d.Domain)
		if name == "" {
			continue
		}
		score := r.clamp(int(math.Round(d.Score)))
		sum += score
		scores = append(scores, store.DomainScore{Domain: name, Score: score, Comment: strings.TrimSpace(d.Comment)})
	}
	if len(scores) == 0 {
		return strings.TrimSpace(raw), nil, 0
	}

	overall := int(math.Round(parsed.Overall))
	if overall == 0 {
		overall = int(math.Round(float64(sum) / float64(len(scores))))
	}
	overall = r.clamp(overall)

	return r.render(scores, overall, parsed.Summary, parsed.Suggestions), scores, overall
}

func (r *Rubric) render(scores []store.DomainScore, overall int, summary string, suggestions []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall score: %d/%d\n\n", overall, r.MaxScore)
	for _, s := range scores {
		fmt.Fprintf(&b, "%s: %d/%d", s.Domain, s.Score, r.MaxScore)
		if s.Comment != "" {
			b.WriteString(" - ")
			b.WriteString(s.Comment)
		}
		b.WriteString("\n")
	}
	if summary = strings.TrimSpace(summary); summary != "" {
		b.WriteString("\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}
	n := 0
	for _, s := range suggestions {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		if n == 0 {
			b.WriteString("\nSuggestions:\n")
		}
		n++
		fmt.Fprintf(&b, "%d. %s\n", n, s)
	}
	return strings.TrimRight(b.String(), "\n")
}

func parseStructuredFeedback(raw string) (structuredFeedback, bool) {
	body := strings.TrimSpace(raw)
	if strings.HasPrefix(body, "```") {
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end <= start {
		return structuredFeedback{}, false
	}

	var out structuredFeedback
	if err := json.Unmarshal([]byte(body[start:end+1]), &out); err != nil {
		return structuredFeedback{}, false
	}
	return out, len(out.Domains) > 0
}
