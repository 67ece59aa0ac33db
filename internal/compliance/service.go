package compliance

import (
	"context"
	"log/slog"
	"time"

	"github.com/hospitalos/authz/internal/tenant"
)

const expiryWarningDays = 30

// Service assembles the read-side compliance view for the current tenant. It
// owns no storage of its own; everything derives from the consent ledger and
// the grant store.
type Service struct {
	consents ConsentReaderAPI
	grants   GrantReaderAPI
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(consents ConsentReaderAPI, grants GrantReaderAPI, logger *slog.Logger) *Service {
	return &Service{
		consents: consents,
		grants:   grants,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) GenerateReport(ctx context.Context) (*Report, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	stats, err := s.consents.GetStatistics(ctx)
	if err != nil {
		return nil, err
	}

	breakGlass, err := s.grants.ListBreakGlassGrants(ctx)
	if err != nil {
		return nil, err
	}

	expiring, err := s.consents.FindExpiringSoon(ctx, expiryWarningDays)
	if err != nil {
		return nil, err
	}

	entries := make([]BreakGlassEntry, 0, len(breakGlass))
	for _, g := range breakGlass {
		entries = append(entries, BreakGlassEntry{
			GrantID:      g.ID,
			UserID:       g.UserID,
			ResourceType: g.ResourceType,
			ResourceID:   g.ResourceID,
			Reason:       g.Reason,
			GrantedAt:    g.GrantedAt,
			GrantedBy:    g.GrantedBy,
			ValidUntil:   g.ValidUntil,
			Active:       g.IsValid(s.now()),
		})
	}

	s.logger.Info("compliance report generated",
		"tenant_id", tenantID,
		"active_consents", stats.Active,
		"break_glass_grants", len(entries))

	return &Report{
		TenantID:         tenantID,
		GeneratedAt:      s.now(),
		Consents:         stats,
		BreakGlassGrants: entries,
		ExpiringSoon:     len(expiring),
	}, nil
}
