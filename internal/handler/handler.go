// Package handler exposes the marking pipeline as a JSON API.
package handler

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/i18n"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/model"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/ocr"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/pipeline"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/scheme"
	"github.com/binbakhsh/a-level-chemistry-marking-system/internal/store"
)

// maxUploadBytes caps submission and mark-scheme uploads.
const maxUploadBytes = 32 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store      *store.Store
	pipeline   *pipeline.Orchestrator
	structurer *scheme.Structurer
}

// New creates a new Handler.
func New(s *store.Store, p *pipeline.Orchestrator, st *scheme.Structurer) *Handler {
	return &Handler{store: s, pipeline: p, structurer: st}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Post("/papers", h.handleCreatePaper)
	r.Post("/papers/{paperID}/markscheme", h.handleUploadMarkScheme)
	r.Get("/papers/{paperID}/markscheme", h.handleGetMarkScheme)
	r.Post("/papers/{paperID}/submissions", h.handleCreateSubmission)
	r.Get("/papers/{paperID}/submissions", h.handleListSubmissions)
	r.Get("/submissions/{submissionID}/status", h.handleStatus)
	r.Get("/submissions/{submissionID}/results", h.handleResults)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case model.IsValidation(err) || errors.Is(err, model.ErrProviderRejected):
		status = http.StatusBadRequest
	case errors.Is(err, sql.ErrNoRows):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrProviderUnavailable), errors.Is(err, model.ErrProviderTimeout):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func urlID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, model.Validationf("invalid %s", name)
	}
	return id, nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleCreatePaper(w http.ResponseWriter, r *http.Request) {
	var p model.Paper
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(&p); err != nil {
		writeError(w, model.Validationf("decode paper: %v", err))
		return
	}
	if p.Title == "" {
		writeError(w, model.Validationf("paper title is required"))
		return
	}

	id, err := h.store.CreatePaper(p)
	if err != nil {
		writeError(w, err)
		return
	}
	p.ID = id
	writeJSON(w, http.StatusCreated, p)
}

// markSchemeRequest uploads a mark scheme either as pre-extracted raw text
// or as a document to run through extraction first.
type markSchemeRequest struct {
	RawText string           `json:"raw_text,omitempty"`
	DocName string           `json:"doc_name,omitempty"`
	DocMIME string           `json:"doc_mime,omitempty"`
	DocData []byte           `json:"doc_data,omitempty"`
	Hints   model.PaperHints `json:"hints"`
}

type markSchemeResponse struct {
	SchemeID  int64                     `json:"scheme_id"`
	Duplicate bool                      `json:"duplicate,omitempty"`
	Scheme    *model.MarkScheme         `json:"scheme"`
	Warnings  []model.ValidationWarning `json:"warnings,omitempty"`
}

func (h *Handler) handleUploadMarkScheme(w http.ResponseWriter, r *http.Request) {
	paperID, err := urlID(r, "paperID")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.store.GetPaper(paperID); err != nil {
		writeError(w, err)
		return
	}

	var req markSchemeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(&req); err != nil {
		writeError(w, model.Validationf("decode mark scheme request: %v", err))
		return
	}
	if req.RawText == "" && len(req.DocData) == 0 {
		writeError(w, model.Validationf("either raw_text or doc_data is required"))
		return
	}

	// A re-upload of the same source keeps the current active scheme.
	source := []byte(req.RawText)
	if len(req.DocData) > 0 {
		source = req.DocData
	}
	sum := sha256.Sum256(source)
	digest := hex.EncodeToString(sum[:])
	if prev, err := h.store.GetSchemeDigest(paperID); err == nil && prev == digest {
		ms, err := h.store.GetActiveMarkScheme(paperID)
		if err == nil && ms != nil {
			slog.Info("mark scheme unchanged, keeping active scheme", "paper", paperID, "scheme", ms.ID)
			writeJSON(w, http.StatusOK, markSchemeResponse{SchemeID: ms.ID, Duplicate: true, Scheme: ms})
			return
		}
	}

	var res *scheme.Result
	if req.RawText != "" {
		res, err = h.structurer.StructureText(r.Context(), req.RawText, req.Hints)
	} else {
		res, err = h.structurer.StructureDocument(r.Context(), ocr.Document{
			Name: req.DocName,
			MIME: req.DocMIME,
			Data: req.DocData,
		}, req.Hints)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	res.Scheme.PaperID = paperID
	schemeID, err := h.store.CreateMarkScheme(res.Scheme)
	if err != nil {
		writeError(w, err)
		return
	}
	res.Scheme.ID = schemeID
	if err := h.store.SetSchemeDigest(paperID, digest); err != nil {
		slog.Error("could not record scheme digest", "paper", paperID, "error", err)
	}

	writeJSON(w, http.StatusCreated, markSchemeResponse{
		SchemeID: schemeID,
		Scheme:   res.Scheme,
		Warnings: res.Warnings,
	})
}

func (h *Handler) handleGetMarkScheme(w http.ResponseWriter, r *http.Request) {
	paperID, err := urlID(r, "paperID")
	if err != nil {
		writeError(w, err)
		return
	}

	ms, err := h.store.GetActiveMarkScheme(paperID)
	if err != nil {
		writeError(w, err)
		return
	}
	if ms == nil {
		writeError(w, model.Validationf("paper %d has no active mark scheme", paperID))
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (h *Handler) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	paperID, err := urlID(r, "paperID")
	if err != nil {
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, model.Validationf("parse upload: %v", err))
		return
	}
	file, header, err := r.FormFile("document")
	if err != nil {
		writeError(w, model.Validationf("document file is required"))
		return
	}
	defer file.Close()

	doc, err := io.ReadAll(file)
	if err != nil {
		writeError(w, model.Validationf("read upload: %v", err))
		return
	}

	userID := int64(1)
	if v := r.FormValue("user_id"); v != "" {
		userID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, model.Validationf("invalid user_id"))
			return
		}
	}

	sub := model.Submission{
		PaperID: paperID,
		UserID:  userID,
		DocName: header.Filename,
		DocMIME: header.Header.Get("Content-Type"),
	}
	id, err := h.pipeline.Submit(r.Context(), sub, doc)
	if err != nil {
		writeError(w, err)
		return
	}

	// Processing outlives the request.
	go func() {
		if err := h.pipeline.Run(context.Background(), id); err != nil {
			slog.Error("pipeline run failed", "submission", id, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"submission_id": id,
		"status":        model.StatusUploaded,
	})
}

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	paperID, err := urlID(r, "paperID")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.store.GetPaper(paperID); err != nil {
		writeError(w, err)
		return
	}

	subs, err := h.store.ListSubmissions(paperID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": subs})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "submissionID")
	if err != nil {
		writeError(w, err)
		return
	}

	report, err := h.pipeline.GetStatus(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "submissionID")
	if err != nil {
		writeError(w, err)
		return
	}

	report, err := h.pipeline.GetResults(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !report.Available {
		writeJSON(w, http.StatusOK, map[string]any{
			"submission_id": report.SubmissionID,
			"status":        report.Status,
			"available":     false,
			"message":       i18n.T(r.Context(), "status_not_ready"),
		})
		return
	}
	writeJSON(w, http.StatusOK, report)
}
