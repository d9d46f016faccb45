package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"impulsesim.com/suture-feedback/internal/core"
	"impulsesim.com/suture-feedback/internal/store"
)

const homeBanner = "Impulse Sim AI Feedback API is running! Use /evaluate to submit an image."

type APIHandler struct {
	ledger         *core.CodeLedger
	feedback       *core.FeedbackLog
	evaluator      *core.EvaluationService
	exporter       *core.ReportExporter
	maxUploadBytes int64
	adminSecret    string
	logger         zerolog.Logger
}

type Options struct {
	MaxUploadBytes int64
	AdminSecret    string // empty leaves code administration open
}

func NewAPIHandler(ledger *core.CodeLedger, feedback *core.FeedbackLog, evaluator *core.EvaluationService, exporter *core.ReportExporter, opts Options, logger zerolog.Logger) *APIHandler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	return &APIHandler{
		ledger:         ledger,
		feedback:       feedback,
		evaluator:      evaluator,
		exporter:       exporter,
		maxUploadBytes: opts.MaxUploadBytes,
		adminSecret:    opts.AdminSecret,
		logger:         logger,
	}
}

func (h *APIHandler) HomeHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, homeBanner)
}

type EvaluateResponse struct {
	Feedback string              `json:"feedback"`
	EntryID  string              `json:"entry_id,omitempty"`
	Scores   []store.DomainScore `json:"scores,omitempty"`
	Overall  int                 `json:"overall,omitempty"`
}

func (h *APIHandler) EvaluateHandler(w http.ResponseWriter, r *http.Request) {
	// Multipart framing adds a little on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+64<<10)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("File too large (limit %d bytes)", h.maxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadBytes {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("File too large (limit %d bytes)", h.maxUploadBytes))
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read uploaded file: "+err.Error())
		return
	}

	ev, err := h.evaluator.Evaluate(r.Context(), data, header.Header.Get("Content-Type"))
	if err != nil {
		h.logger.Error().Err(err).Str("filename", header.Filename).Msg("evaluation failed")
		writeError(w, statusFor(err), err.Error())
		return
	}
	if ev.Advisory {
		writeJSON(w, http.StatusOK, EvaluateResponse{Feedback: ev.Feedback})
		return
	}
	writeJSON(w, http.StatusOK, EvaluateResponse{
		Feedback: ev.Feedback,
		EntryID:  ev.EntryID,
		Scores:   ev.Scores,
		Overall:  ev.Overall,
	})
}

type AddCodeRequest struct {
	Code  string `json:"code"`
	Uses  *int   `json:"uses,omitempty"`
	Email string `json:"email,omitempty"`
	Plan  string `json:"plan,omitempty"`
}

func (h *APIHandler) AddCodeHandler(w http.ResponseWriter, r *http.Request) {
	var req AddCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	uses := h.ledger.DefaultUses()
	if req.Uses != nil {
		uses = *req.Uses
	}
	if _, err := h.ledger.AddUses(r.Context(), req.Code, uses, req.Email, req.Plan); err != nil {
		h.logger.Warn().Err(err).Msg("add code failed")
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type RegisterCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
	Plan  string `json:"plan,omitempty"`
	Uses  *int   `json:"uses,omitempty"`
}

type RegisterCodeResponse struct {
	Status string `json:"status"`
	Code   string `json:"code"`
	Email  string `json:"email"`
}

func (h *APIHandler) RegisterCodeHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	uses := h.ledger.DefaultUses()
	if req.Uses != nil {
		uses = *req.Uses
	}
	c, err := h.ledger.Register(r.Context(), req.Code, req.Email, req.Plan, uses)
	if err != nil {
		h.logger.Warn().Err(err).Msg("register code failed")
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, RegisterCodeResponse{Status: "registered", Code: c.Code, Email: c.Email})
}

type VerifyRequest struct {
	Code string `json:"code"`
}

// UsesLeft encodes as an integer, or "unlimited" for the owner code.
type UsesLeft int

func (u UsesLeft) MarshalJSON() ([]byte, error) {
	if int(u) == core.Unlimited {
		return []byte(`"unlimited"`), nil
	}
	return json.Marshal(int(u))
}

type VerifyResponse struct {
	Valid    bool      `json:"valid"`
	UsesLeft *UsesLeft `json:"uses_left,omitempty"`
}

func (h *APIHandler) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	res, err := h.ledger.Verify(r.Context(), req.Code)
	if err != nil {
		h.logger.Error().Err(err).Msg("verify failed")
		writeError(w, statusFor(err), err.Error())
		return
	}
	if !res.Valid {
		writeJSON(w, http.StatusOK, VerifyResponse{Valid: false})
		return
	}
	left := UsesLeft(res.UsesLeft)
	writeJSON(w, http.StatusOK, VerifyResponse{Valid: true, UsesLeft: &left})
}

func (h *APIHandler) ListCodesHandler(w http.ResponseWriter, r *http.Request) {
	codes, err := h.ledger.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list codes failed")
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, codes)
}

func (h *APIHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := h.feedback.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list feedback failed")
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *APIHandler) DownloadFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")

	pdf, err := h.exporter.Export(r.Context(), entryID)
	if err != nil {
		if statusFor(err) == http.StatusNotFound {
			writeError(w, http.StatusNotFound, "Feedback entry not found")
			return
		}
		h.logger.Error().Err(err).Str("entry_id", entryID).Msg("report export failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="feedback_%s.pdf"`, entryID))
	w.Header().Set("Content-Length", fmt.Sprint(len(pdf)))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}
