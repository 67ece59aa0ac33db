package consent

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hospitalos/authz/internal"
	"github.com/hospitalos/authz/internal/core/events"
	"github.com/hospitalos/authz/internal/metrics"
	"github.com/hospitalos/authz/internal/tenant"
)

// Service is the consent ledger. Every mutation flows through it so that each
// state transition lands in the audit trail atomically with the consent write.
type Service struct {
	repo     RepositoryAPI
	eventBus *events.EventBus
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo RepositoryAPI, eventBus *events.EventBus, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		eventBus: eventBus,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) actor(ctx context.Context) *uuid.UUID {
	if id := internal.ActorFromContext(ctx); id != uuid.Nil {
		return &id
	}
	return nil
}

// GrantConsent records a new ACTIVE consent. An existing ACTIVE consent for
// the same (patient, purpose) is superseded in the same transaction, so at no
// instant do two ACTIVE consents for one purpose coexist.
func (s *Service) GrantConsent(ctx context.Context, dto GrantConsentDTO) (*Consent, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	consent := &Consent{
		ID:             uuid.New(),
		TenantID:       tenantID,
		PatientID:      dto.PatientID,
		Purpose:        dto.Purpose,
		Status:         StatusActive,
		Method:         dto.Method,
		Description:    dto.Description,
		Notes:          dto.Notes,
		ConsentVersion: dto.ConsentVersion,
		GrantedAt:      now,
		ExpiresAt:      dto.ExpiresAt,
		RecordedBy:     s.actor(ctx),
		IPAddress:      dto.IPAddress,
		UserAgent:      dto.UserAgent,
	}

	superseded, err := s.repo.Grant(ctx, consent, AuditGranted, s.actor(ctx), now)
	if err != nil {
		s.logger.Error("failed to grant consent", "error", err, "patient_id", dto.PatientID, "purpose", dto.Purpose)
		return nil, err
	}

	if superseded != nil {
		s.logger.Info("consent superseded",
			"superseded_id", superseded.ID, "consent_id", consent.ID,
			"patient_id", consent.PatientID, "purpose", consent.Purpose)
	}
	s.logger.Info("consent granted",
		"consent_id", consent.ID, "patient_id", consent.PatientID, "purpose", consent.Purpose)

	if s.eventBus != nil {
		event := events.NewConsentGrantedEvent(consent.ID, tenantID, consent.PatientID, string(consent.Purpose))
		if err := s.eventBus.Publish(ctx, event); err != nil {
			s.logger.Error("failed to publish consent event", "error", err, "consent_id", consent.ID)
		}
	}

	return consent, nil
}

// WithdrawConsent transitions an ACTIVE consent to WITHDRAWN. Any other
// starting status is a validation error; terminal states stay terminal.
func (s *Service) WithdrawConsent(ctx context.Context, consentID uuid.UUID, reason string) (*Consent, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	consent, err := s.repo.GetByID(ctx, tenantID, consentID)
	if err != nil {
		return nil, err
	}
	if consent == nil {
		return nil, internal.ErrConsentNotFound
	}
	if consent.Status != StatusActive {
		return nil, internal.ErrConsentNotActive
	}

	now := s.now()
	previous := consent.Status
	consent.Withdraw(reason, now)

	if err := s.repo.Transition(ctx, consent, previous, AuditWithdrawn, reason, s.actor(ctx), now); err != nil {
		return nil, err
	}

	s.logger.Info("consent withdrawn",
		"consent_id", consent.ID, "patient_id", consent.PatientID, "purpose", consent.Purpose)

	if s.eventBus != nil {
		event := events.NewConsentWithdrawnEvent(consent.ID, tenantID, consent.PatientID, string(consent.Purpose), reason)
		if err := s.eventBus.Publish(ctx, event); err != nil {
			s.logger.Error("failed to publish consent event", "error", err, "consent_id", consent.ID)
		}
	}

	return consent, nil
}

// WithdrawAllConsents withdraws every ACTIVE consent of a patient, one audit
// row per consent. Supports right-to-be-forgotten requests.
func (s *Service) WithdrawAllConsents(ctx context.Context, patientID uuid.UUID, reason string) (int64, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return 0, err
	}

	count, err := s.repo.WithdrawAll(ctx, tenantID, patientID, reason, s.actor(ctx), s.now())
	if err != nil {
		return 0, err
	}

	s.logger.Info("withdrew all consents", "patient_id", patientID, "count", count)
	return count, nil
}

// RenewConsent supersedes an existing consent with a fresh ACTIVE one linked
// through ParentConsentID, forming an auditable renewal chain.
func (s *Service) RenewConsent(ctx context.Context, consentID uuid.UUID, newExpiry *time.Time) (*Consent, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	current, err := s.repo.GetByID(ctx, tenantID, consentID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, internal.ErrConsentNotFound
	}
	if current.Status != StatusActive {
		return nil, internal.ErrConsentNotActive
	}

	now := s.now()
	renewed := &Consent{
		ID:              uuid.New(),
		TenantID:        tenantID,
		PatientID:       current.PatientID,
		Purpose:         current.Purpose,
		Status:          StatusActive,
		Method:          current.Method,
		Description:     current.Description,
		ConsentVersion:  current.ConsentVersion,
		ParentConsentID: &current.ID,
		GrantedAt:       now,
		ExpiresAt:       newExpiry,
		RecordedBy:      s.actor(ctx),
	}

	if _, err := s.repo.Grant(ctx, renewed, AuditRenewed, s.actor(ctx), now); err != nil {
		return nil, err
	}

	s.logger.Info("consent renewed",
		"consent_id", renewed.ID, "parent_consent_id", current.ID, "patient_id", renewed.PatientID)
	return renewed, nil
}

// HasValidConsent is the read predicate; absence is false, never an error.
func (s *Service) HasValidConsent(ctx context.Context, patientID uuid.UUID, purpose Purpose) (bool, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return false, err
	}
	valid, err := s.repo.HasValid(ctx, tenantID, patientID, purpose, s.now())
	if err != nil {
		return false, err
	}
	metrics.ConsentCheck(valid)
	return valid, nil
}

// RequireConsent is the guard form: it fails with a generic forbidden error
// instead of returning false, for use before processing sensitive data.
func (s *Service) RequireConsent(ctx context.Context, patientID uuid.UUID, purpose Purpose) error {
	valid, err := s.HasValidConsent(ctx, patientID, purpose)
	if err != nil {
		return err
	}
	if !valid {
		s.logger.Warn("consent check failed", "patient_id", patientID, "purpose", purpose)
		return internal.ErrConsentRequired
	}
	return nil
}

// MarkExpiredConsents is the advisory sweep; read paths already treat past
// expiry as invalid.
func (s *Service) MarkExpiredConsents(ctx context.Context, tenantID string) (int64, error) {
	count, err := s.repo.MarkExpired(ctx, tenantID, s.now())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("marked expired consents", "tenant_id", tenantID, "count", count)
	}
	return count, nil
}

func (s *Service) GetActiveConsents(ctx context.Context, patientID uuid.UUID) ([]*Consent, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListActive(ctx, tenantID, patientID, s.now())
}

func (s *Service) GetConsentHistory(ctx context.Context, patientID uuid.UUID) ([]*Consent, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.History(ctx, tenantID, patientID)
}

func (s *Service) GetConsentByID(ctx context.Context, consentID uuid.UUID) (*Consent, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	consent, err := s.repo.GetByID(ctx, tenantID, consentID)
	if err != nil {
		return nil, err
	}
	if consent == nil {
		return nil, internal.ErrConsentNotFound
	}
	return consent, nil
}

func (s *Service) GetAuditTrail(ctx context.Context, consentID uuid.UUID) ([]*AuditRecord, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.AuditTrail(ctx, tenantID, consentID)
}

func (s *Service) FindExpiringSoon(ctx context.Context, days int) ([]*Consent, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, internal.NewValidationError("days must be positive", internal.ErrCodeInvalidDuration)
	}
	within := time.Duration(days) * 24 * time.Hour
	return s.repo.FindExpiringSoon(ctx, tenantID, s.now(), within)
}

// GrantDefaultConsents records the registration-time consent set. Failures on
// one purpose do not roll back the others; each purpose is its own grant.
func (s *Service) GrantDefaultConsents(ctx context.Context, patientID uuid.UUID) ([]*Consent, error) {
	granted := make([]*Consent, 0, len(DefaultPurposes))
	for _, purpose := range DefaultPurposes {
		consent, err := s.GrantConsent(ctx, GrantConsentDTO{
			PatientID:   patientID,
			Purpose:     purpose,
			Method:      MethodImplied,
			Description: "granted at patient registration",
		})
		if err != nil {
			return granted, err
		}
		granted = append(granted, consent)
	}
	return granted, nil
}

func (s *Service) GetStatistics(ctx context.Context) (*Statistics, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.Statistics(ctx, tenantID)
}
