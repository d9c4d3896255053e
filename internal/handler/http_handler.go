package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mobilytix/be-templates-approvals/internal/errors"
	"github.com/mobilytix/be-templates-approvals/internal/logger"
	"github.com/mobilytix/be-templates-approvals/internal/repository"
	"github.com/mobilytix/be-templates-approvals/internal/service"
)

// ApprovalService is the workflow surface the HTTP layer depends on.
type ApprovalService interface {
	Submit(ctx context.Context, templateID string, req *service.SubmitRequest, actor service.Actor) (*repository.Approval, error)
	Approve(ctx context.Context, templateID string, actor service.Actor, notes string) error
	Reject(ctx context.Context, templateID string, actor service.Actor, notes string) error
	GetApproval(ctx context.Context, templateID string) (*repository.ApprovalWithStages, error)
	GetLogs(ctx context.Context, templateID string) ([]*repository.TemplateLogEntry, error)
}

// HTTPHandler handles approval workflow HTTP requests.
type HTTPHandler struct {
	service ApprovalService
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(service ApprovalService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{service: service, log: log}
}

// Routes returns the approval workflow router, mounted under /api/v1.
func (h *HTTPHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/templates/{templateID}", func(r chi.Router) {
		r.Route("/approval", func(r chi.Router) {
			r.Post("/", h.SubmitForApproval)
			r.Get("/", h.GetApproval)
			r.Post("/approve", h.ApproveTemplate)
			r.Post("/reject", h.RejectTemplate)
		})
		r.Get("/logs", h.GetLogs)
	})
	return r
}

type actionRequest struct {
	Notes string `json:"notes,omitempty"`
}

// SubmitForApproval starts an approval cycle for a template.
func (h *HTTPHandler) SubmitForApproval(w http.ResponseWriter, r *http.Request) {
	templateID, actor, err := h.requestContext(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req service.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "malformed JSON"))
		return
	}

	approval, err := h.service.Submit(r.Context(), templateID, &req, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, approval)
}

// ApproveTemplate approves the current stage.
func (h *HTTPHandler) ApproveTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, actor, err := h.requestContext(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req actionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.service.Approve(r.Context(), templateID, actor, req.Notes); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// RejectTemplate rejects the current stage and terminates the approval.
func (h *HTTPHandler) RejectTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, actor, err := h.requestContext(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req actionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.service.Reject(r.Context(), templateID, actor, req.Notes); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// GetApproval returns the active approval with its stages.
func (h *HTTPHandler) GetApproval(w http.ResponseWriter, r *http.Request) {
	templateID, err := h.templateID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	approval, err := h.service.GetApproval(r.Context(), templateID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, approval)
}

// GetLogs returns the template's audit trail.
func (h *HTTPHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	templateID, err := h.templateID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	entries, err := h.service.GetLogs(r.Context(), templateID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

// ── Request helpers ───────────────────────────────────────────────────────────

func (h *HTTPHandler) templateID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "templateID")
	if _, err := uuid.Parse(id); err != nil {
		return "", errors.InvalidInput("templateId", "must be a UUID")
	}
	return id, nil
}

// requestContext extracts the template id and the gateway-authenticated
// actor. Authentication itself happens upstream; the gateway forwards the
// verified identity in headers.
func (h *HTTPHandler) requestContext(r *http.Request) (string, service.Actor, error) {
	templateID, err := h.templateID(r)
	if err != nil {
		return "", service.Actor{}, err
	}

	actor := service.Actor{
		ID:    r.Header.Get("X-User-Id"),
		Email: r.Header.Get("X-User-Email"),
	}
	if actor.ID == "" || actor.Email == "" {
		return "", service.Actor{}, errors.InvalidInput("actor", "missing user identity headers")
	}
	return templateID, actor, nil
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	} else {
		h.log.Debug().Err(err).Str("path", r.URL.Path).Msg("Request rejected")
	}

	h.writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    string(errors.CodeOf(err)),
			"message": errors.MessageOf(err),
		},
	})
}
