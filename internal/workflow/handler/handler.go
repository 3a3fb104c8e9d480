// Package handler is the HTTP adapter of the curation workflow engine.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"genecuration/internal/platform/middleware"
	"genecuration/internal/workflow/models"
	id "genecuration/pkg/domain"
	dErrors "genecuration/pkg/domain-errors"
	"genecuration/pkg/platform/httputil"
	"genecuration/pkg/requestcontext"
)

const maxBodyBytes = 1 << 20

// Service defines the workflow operations exposed over HTTP.
type Service interface {
	Create(ctx context.Context, geneID id.GeneID, scopeID id.ScopeID, actor models.Actor, payload json.RawMessage) (*models.CurationRecord, error)
	Get(ctx context.Context, curationID id.CurationID) (*models.CurationRecord, error)
	History(ctx context.Context, curationID id.CurationID) ([]*models.AuditEntry, error)
	Transition(ctx context.Context, curationID id.CurationID, expectedVersion int64, target models.Stage, actor models.Actor, payload json.RawMessage) (*models.CurationRecord, error)
	UpdateEvidence(ctx context.Context, curationID id.CurationID, expectedVersion int64, actor models.Actor, payload json.RawMessage) (*models.CurationRecord, error)
}

// Handler handles curation endpoints.
type Handler struct {
	logger       *slog.Logger
	curations    Service
	jwtValidator middleware.JWTValidator
}

// New creates a new curation Handler.
func New(curations Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		curations:    curations,
		jwtValidator: jwtValidator,
	}
}

// Register registers the curation routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/curations", func(cr chi.Router) {
		cr.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		cr.Post("/", h.handleCreate)
		cr.Get("/{id}", h.handleGet)
		cr.Post("/{id}/transitions", h.handleTransition)
		cr.Put("/{id}/evidence", h.handleUpdateEvidence)
		cr.Get("/{id}/audit", h.handleAudit)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req CreateCurationRequest
	if !h.decode(w, r, &req) {
		return
	}
	geneID, scopeID, err := req.parse()
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	record, err := h.curations.Create(ctx, geneID, scopeID, actor, req.EvidencePayload)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/curations/"+record.ID.String())
	httputil.WriteJSON(w, http.StatusCreated, record)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	curationID, ok := h.curationID(w, r)
	if !ok {
		return
	}
	record, err := h.curations.Get(ctx, curationID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	curationID, ok := h.curationID(w, r)
	if !ok {
		return
	}

	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	expected, target, err := req.parse()
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	record, err := h.curations.Transition(ctx, curationID, expected, target, actor, req.EvidencePayload)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleUpdateEvidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	curationID, ok := h.curationID(w, r)
	if !ok {
		return
	}

	var req UpdateEvidenceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ExpectedVersion == nil {
		h.writeError(ctx, w, dErrors.New(dErrors.CodeValidation, "expected_version is required"))
		return
	}

	record, err := h.curations.UpdateEvidence(ctx, curationID, *req.ExpectedVersion, actor, req.EvidencePayload)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	curationID, ok := h.curationID(w, r)
	if !ok {
		return
	}
	entries, err := h.curations.History(ctx, curationID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	httputil.WriteJSON(w, http.StatusOK, AuditResponse{Entries: entries})
}

// actor builds the workflow actor from the authenticated principal.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	ctx := r.Context()
	principal, ok := requestcontext.Actor(ctx)
	if !ok {
		// This should never happen if RequireAuth middleware is configured correctly
		h.logger.ErrorContext(ctx, "actor missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return models.Actor{}, false
	}
	actor, err := models.NewActor(principal.ActorID, principal.Roles)
	if err != nil {
		h.writeError(ctx, w, err)
		return models.Actor{}, false
	}
	return actor, true
}

func (h *Handler) curationID(w http.ResponseWriter, r *http.Request) (id.CurationID, bool) {
	curationID, err := id.ParseCurationID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(r.Context(), w, err)
		return id.CurationID{}, false
	}
	return curationID, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.logger.WarnContext(ctx, "invalid request body",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return false
	}
	return true
}

// writeError maps engine errors to responses. Conflicts carry the current
// record so the caller can reconcile.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "request failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}

	var conflict *models.ConflictError
	if errors.As(err, &conflict) {
		httputil.WriteJSON(w, http.StatusConflict, ConflictResponse{
			Error:            string(dErrors.CodeConflict),
			ErrorDescription: conflict.Error(),
			ExpectedVersion:  conflict.ExpectedVersion,
			TheirVersion:     conflict.TheirVersion,
			TheirRecord:      conflict.TheirRecord,
		})
		return
	}
	httputil.WriteError(w, err)
}
