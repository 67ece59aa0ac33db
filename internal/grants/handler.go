package grants

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/hospitalos/authz/internal/transport"
)

type ServiceAPI interface {
	GrantPermission(ctx context.Context, dto GrantPermissionDTO) (*Grant, error)
	GrantBreakGlassAccess(ctx context.Context, dto BreakGlassDTO) (*Grant, error)
	RevokePermission(ctx context.Context, grantID uuid.UUID) error
	RevokeAllForResource(ctx context.Context, resourceType string, resourceID uuid.UUID) (int64, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*Grant, error)
	ListBreakGlassGrants(ctx context.Context) ([]*Grant, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
	}
}

func (h *Handler) GrantPermission(w http.ResponseWriter, r *http.Request) {
	var dto GrantPermissionDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	grant, err := h.Service.GrantPermission(r.Context(), dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, ToGrantResponse(grant))
}

func (h *Handler) GrantBreakGlass(w http.ResponseWriter, r *http.Request) {
	var dto BreakGlassDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	grant, err := h.Service.GrantBreakGlassAccess(r.Context(), dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, ToGrantResponse(grant))
}

func (h *Handler) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	grantID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid grant id")
		return
	}

	if err := h.Service.RevokePermission(r.Context(), grantID); err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *Handler) RevokeAllForResource(w http.ResponseWriter, r *http.Request) {
	resourceType := chi.URLParam(r, "resourceType")
	resourceID, err := uuid.Parse(chi.URLParam(r, "resourceId"))
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid resource id")
		return
	}

	count, err := h.Service.RevokeAllForResource(r.Context(), resourceType, resourceID)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"revoked": count})
}

func (h *Handler) ListUserGrants(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userId"))
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	grants, err := h.Service.ListForUser(r.Context(), userID)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"grants": ToGrantResponses(grants)})
}

func (h *Handler) ListBreakGlassGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := h.Service.ListBreakGlassGrants(r.Context())
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"grants": ToGrantResponses(grants)})
}
