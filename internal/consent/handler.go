package consent

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/hospitalos/authz/internal/transport"
)

type ServiceAPI interface {
	GrantConsent(ctx context.Context, dto GrantConsentDTO) (*Consent, error)
	WithdrawConsent(ctx context.Context, consentID uuid.UUID, reason string) (*Consent, error)
	WithdrawAllConsents(ctx context.Context, patientID uuid.UUID, reason string) (int64, error)
	RenewConsent(ctx context.Context, consentID uuid.UUID, newExpiry *time.Time) (*Consent, error)
	HasValidConsent(ctx context.Context, patientID uuid.UUID, purpose Purpose) (bool, error)
	GetActiveConsents(ctx context.Context, patientID uuid.UUID) ([]*Consent, error)
	GetConsentHistory(ctx context.Context, patientID uuid.UUID) ([]*Consent, error)
	GetConsentByID(ctx context.Context, consentID uuid.UUID) (*Consent, error)
	GetAuditTrail(ctx context.Context, consentID uuid.UUID) ([]*AuditRecord, error)
	FindExpiringSoon(ctx context.Context, days int) ([]*Consent, error)
	GrantDefaultConsents(ctx context.Context, patientID uuid.UUID) ([]*Consent, error)
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

func (h *Handler) GrantConsent(w http.ResponseWriter, r *http.Request) {
	var dto GrantConsentDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if dto.IPAddress == "" {
		dto.IPAddress = r.RemoteAddr
	}
	if dto.UserAgent == "" {
		dto.UserAgent = r.UserAgent()
	}

	consent, err := h.Service.GrantConsent(r.Context(), dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, ToConsentResponse(consent))
}

func (h *Handler) WithdrawConsent(w http.ResponseWriter, r *http.Request) {
	consentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid consent id")
		return
	}

	var dto WithdrawConsentDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	consent, err := h.Service.WithdrawConsent(r.Context(), consentID, dto.Reason)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ToConsentResponse(consent))
}

func (h *Handler) WithdrawAllConsents(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuid.Parse(chi.URLParam(r, "patientId"))
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid patient id")
		return
	}

	var dto WithdrawConsentDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	count, err := h.Service.WithdrawAllConsents(r.Context(), patientID, dto.Reason)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"withdrawn": count})
}

func (h *Handler) RenewConsent(w http.ResponseWriter, r *http.Request) {
	consentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid consent id")
		return
	}

	var dto RenewConsentDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	consent, err := h.Service.RenewConsent(r.Context(), consentID, dto.NewExpiry)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ToConsentResponse(consent))
}

func (h *Handler) CheckConsent(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuid.Parse(chi.URLParam(r, "patientId"))
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid patient id")
		return
	}

	purpose := Purpose(chi.URLParam(r, "purpose"))
	if !purpose.Valid() {
		h.WriteError(w, http.StatusBadRequest, "unknown consent purpose")
		return
	}

	valid, err := h.Service.HasValidConsent(r.Context(), patientID, purpose)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"patient_id": patientID,
		"purpose":    purpose,
		"valid":      valid,
	})
}

func (h *Handler) GetConsent(w http.ResponseWriter, r *http.Request) {
	consentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid consent id")
		return
	}

	consent, err := h.Service.GetConsentByID(r.Context(), consentID)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ToConsentResponse(consent))
}

func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	consentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid consent id")
		return
	}

	records, err := h.Service.GetAuditTrail(r.Context(), consentID)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"audit_trail": ToAuditRecordResponses(records)})
}

func (h *Handler) ListActiveConsents(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuid.Parse(chi.URLParam(r, "patientId"))
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid patient id")
		return
	}

	consents, err := h.Service.GetActiveConsents(r.Context(), patientID)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"consents": ToConsentResponses(consents)})
}

func (h *Handler) ConsentHistory(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuid.Parse(chi.URLParam(r, "patientId"))
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid patient id")
		return
	}

	consents, err := h.Service.GetConsentHistory(r.Context(), patientID)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"consents": ToConsentResponses(consents)})
}

func (h *Handler) ExpiringSoon(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, "invalid days parameter")
			return
		}
		days = parsed
	}

	consents, err := h.Service.FindExpiringSoon(r.Context(), days)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"consents": ToConsentResponses(consents)})
}

func (h *Handler) GrantDefaultConsents(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuid.Parse(chi.URLParam(r, "patientId"))
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid patient id")
		return
	}

	consents, err := h.Service.GrantDefaultConsents(r.Context(), patientID)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, map[string]interface{}{"consents": ToConsentResponses(consents)})
}
