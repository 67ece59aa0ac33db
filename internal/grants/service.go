package grants

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hospitalos/authz/internal"
	"github.com/hospitalos/authz/internal/core/events"
	"github.com/hospitalos/authz/internal/metrics"
	"github.com/hospitalos/authz/internal/tenant"
)

// Service manages per-resource grants, the third permission layer after token
// claims and role aggregation. It also implements rbac.GrantCheckerAPI so the
// resolver can fall back to it.
type Service struct {
	repo          RepositoryAPI
	eventBus      *events.EventBus
	logger        *slog.Logger
	breakGlassMax time.Duration
	now           func() time.Time
}

func NewService(repo RepositoryAPI, eventBus *events.EventBus, logger *slog.Logger, breakGlassMax time.Duration) *Service {
	return &Service{
		repo:          repo,
		eventBus:      eventBus,
		logger:        logger,
		breakGlassMax: breakGlassMax,
		now:           time.Now,
	}
}

// GrantPermission is idempotent: if an equivalent active grant already exists
// it is returned unchanged instead of stacking a duplicate.
func (s *Service) GrantPermission(ctx context.Context, dto GrantPermissionDTO) (*Grant, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	existing, err := s.repo.FindActive(ctx, tenantID, dto.UserID, dto.ResourceType, dto.ResourceID, dto.Action, now)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Debug("grant already active, returning existing",
			"grant_id", existing.ID, "user_id", dto.UserID, "resource_type", dto.ResourceType)
		return existing, nil
	}

	grantedBy := internal.ActorFromContext(ctx)
	grant := &Grant{
		ID:           uuid.New(),
		UserID:       dto.UserID,
		TenantID:     tenantID,
		ResourceType: dto.ResourceType,
		ResourceID:   dto.ResourceID,
		Action:       dto.Action,
		Reason:       dto.Reason,
		Active:       true,
		ValidFrom:    dto.ValidFrom,
		ValidUntil:   dto.ValidUntil,
		GrantedAt:    now,
	}
	if grantedBy != uuid.Nil {
		grant.GrantedBy = &grantedBy
	}

	if err := s.repo.Create(ctx, grant); err != nil {
		// lost a race against an equivalent grant; return the winner
		if errors.Is(err, internal.ErrGrantExists) {
			winner, findErr := s.repo.FindActive(ctx, tenantID, dto.UserID, dto.ResourceType, dto.ResourceID, dto.Action, now)
			if findErr != nil {
				return nil, findErr
			}
			if winner != nil {
				return winner, nil
			}
			return nil, err
		}
		s.logger.Error("failed to create grant", "error", err, "user_id", dto.UserID)
		return nil, err
	}

	s.logger.Info("resource grant created",
		"grant_id", grant.ID,
		"user_id", grant.UserID,
		"resource_type", grant.ResourceType,
		"resource_id", grant.ResourceID,
		"action", grant.Action)
	return grant, nil
}

// GrantBreakGlassAccess issues an emergency, time-boxed grant. The reason is
// mandatory and lands in the audit trail with the break-glass prefix.
func (s *Service) GrantBreakGlassAccess(ctx context.Context, dto BreakGlassDTO) (*Grant, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(dto.Reason) == "" {
		return nil, internal.ErrReasonRequired
	}

	duration := time.Duration(dto.DurationMinutes) * time.Minute
	if err := validateDuration(duration, s.breakGlassMax); err != nil {
		return nil, err
	}

	now := s.now()
	validUntil := now.Add(duration)
	grantedBy := internal.ActorFromContext(ctx)

	grant := &Grant{
		ID:           uuid.New(),
		UserID:       dto.UserID,
		TenantID:     tenantID,
		ResourceType: dto.ResourceType,
		ResourceID:   dto.ResourceID,
		Action:       dto.Action,
		Reason:       NormalizeReason(dto.Reason),
		IsBreakGlass: true,
		Active:       true,
		ValidUntil:   &validUntil,
		GrantedAt:    now,
	}
	if grantedBy != uuid.Nil {
		grant.GrantedBy = &grantedBy
	}

	if err := s.repo.Create(ctx, grant); err != nil {
		s.logger.Error("failed to create break-glass grant", "error", err, "user_id", dto.UserID)
		return nil, err
	}

	metrics.BreakGlassGranted()
	s.logger.Warn("break-glass access granted",
		"grant_id", grant.ID,
		"user_id", grant.UserID,
		"resource_type", grant.ResourceType,
		"resource_id", grant.ResourceID,
		"valid_until", validUntil,
		"granted_by", grantedBy)

	if s.eventBus != nil {
		event := events.NewBreakGlassGrantedEvent(grant.ID, tenantID, grant.UserID, grant.ResourceType, grant.ResourceID, grant.Reason, validUntil)
		if err := s.eventBus.Publish(ctx, event); err != nil {
			s.logger.Error("failed to publish break-glass event", "error", err, "grant_id", grant.ID)
		}
	}

	return grant, nil
}

// RevokePermission marks a grant revoked. Revocation is terminal: a revoked
// grant never becomes valid again regardless of its time window.
func (s *Service) RevokePermission(ctx context.Context, grantID uuid.UUID) error {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}

	grant, err := s.repo.GetByID(ctx, tenantID, grantID)
	if err != nil {
		return err
	}
	if grant == nil {
		return internal.ErrGrantNotFound
	}

	grant.Revoke(internal.ActorFromContext(ctx), s.now())
	if err := s.repo.Update(ctx, grant); err != nil {
		return err
	}

	s.logger.Info("resource grant revoked", "grant_id", grant.ID, "user_id", grant.UserID)
	return nil
}

// RevokeAllForResource revokes every active grant on a resource, used when a
// record is sealed or a patient is discharged.
func (s *Service) RevokeAllForResource(ctx context.Context, resourceType string, resourceID uuid.UUID) (int64, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return 0, err
	}

	count, err := s.repo.RevokeAllForResource(ctx, tenantID, resourceType, resourceID, internal.ActorFromContext(ctx), s.now())
	if err != nil {
		return 0, err
	}

	s.logger.Info("revoked all grants for resource",
		"resource_type", resourceType, "resource_id", resourceID, "count", count)
	return count, nil
}

// HasValidGrant implements rbac.GrantCheckerAPI. Not-found is a clean false.
func (s *Service) HasValidGrant(ctx context.Context, userID uuid.UUID, resourceType string, resourceID uuid.UUID, action string) (bool, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return false, err
	}
	return s.repo.HasValidGrant(ctx, tenantID, userID, resourceType, resourceID, action, s.now())
}

// AccessibleResources implements rbac.GrantCheckerAPI.
func (s *Service) AccessibleResources(ctx context.Context, userID uuid.UUID, resourceType, action string) ([]uuid.UUID, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.AccessibleResources(ctx, tenantID, userID, resourceType, action, s.now())
}

func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]*Grant, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListForUser(ctx, tenantID, userID)
}

func (s *Service) ListBreakGlassGrants(ctx context.Context) ([]*Grant, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListBreakGlass(ctx, tenantID)
}

// CleanupExpired is the sweeper entry point. It is advisory housekeeping; the
// validity predicate on read paths already excludes expired grants.
func (s *Service) CleanupExpired(ctx context.Context, tenantID string) (int64, error) {
	count, err := s.repo.DeactivateExpired(ctx, tenantID, s.now())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("deactivated expired grants", "tenant_id", tenantID, "count", count)
	}
	return count, nil
}
