package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hospitalos/authz/internal"
	"github.com/hospitalos/authz/internal/consent"
	"github.com/hospitalos/authz/internal/tenant"
	"gorm.io/gorm"
)

// ConsentRepository implements consent.RepositoryAPI. Every mutation commits
// the consent write and its audit rows in one transaction; the audit trail can
// never lag or miss a transition.
type ConsentRepository struct {
	db *gorm.DB
}

func NewConsentRepository(db *gorm.DB) consent.RepositoryAPI {
	return &ConsentRepository{db: db}
}

func auditRow(c *consent.Consent, previous *consent.Status, action consent.AuditAction, reason string, changedBy *uuid.UUID, now time.Time) *consent.AuditRecord {
	return &consent.AuditRecord{
		ID:             uuid.New(),
		ConsentID:      c.ID,
		TenantID:       c.TenantID,
		Action:         action,
		PreviousStatus: previous,
		NewStatus:      c.Status,
		Reason:         reason,
		ChangedBy:      changedBy,
		ChangedAt:      now,
	}
}

// Grant runs the supersede-before-insert sequence atomically. The partial
// unique index on (tenant_id, patient_id, purpose) WHERE status = 'ACTIVE' is
// the final arbiter when two grants race; the loser surfaces a duplicate key
// error and can be retried as a supersede.
func (r *ConsentRepository) Grant(ctx context.Context, c *consent.Consent, action consent.AuditAction, changedBy *uuid.UUID, now time.Time) (*consent.Consent, error) {
	var superseded *consent.Consent
	err := tenant.Transaction(ctx, r.db, c.TenantID, func(tx *gorm.DB) error {
		var existing consent.Consent
		err := tx.Where("tenant_id = ? AND patient_id = ? AND purpose = ? AND status = ?",
			c.TenantID, c.PatientID, c.Purpose, consent.StatusActive).
			First(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// a renewal is only valid while its parent is still the ACTIVE
		// consent; a parent withdrawn after the caller validated fails here
		if c.ParentConsentID != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) || existing.ID != *c.ParentConsentID {
				return internal.ErrConsentNotActive
			}
		}

		if err == nil {
			previous := existing.Status
			existing.Status = consent.StatusSuperseded
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			if err := tx.Create(auditRow(&existing, &previous, consent.AuditModified, "superseded by new consent", changedBy, now)).Error; err != nil {
				return err
			}
			superseded = &existing
		}

		if err := tx.Create(c).Error; err != nil {
			return err
		}
		return tx.Create(auditRow(c, nil, action, "", changedBy, now)).Error
	})
	if err != nil {
		return nil, err
	}
	return superseded, nil
}

// Transition re-reads the stored row and verifies it still holds the expected
// previous status before saving. A transition validated against a stale read
// fails here instead of overwriting a concurrent one and duplicating its
// audit row.
func (r *ConsentRepository) Transition(ctx context.Context, c *consent.Consent, previous consent.Status, action consent.AuditAction, reason string, changedBy *uuid.UUID, now time.Time) error {
	return tenant.Transaction(ctx, r.db, c.TenantID, func(tx *gorm.DB) error {
		var current consent.Consent
		err := tx.Where("id = ? AND tenant_id = ?", c.ID, c.TenantID).First(&current).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return internal.ErrConsentNotFound
			}
			return err
		}
		if current.Status != previous {
			return internal.ErrConsentNotActive
		}

		if err := tx.Save(c).Error; err != nil {
			return err
		}
		return tx.Create(auditRow(c, &previous, action, reason, changedBy, now)).Error
	})
}

// WithdrawAll withdraws each ACTIVE consent row by row so every one gets its
// own audit record.
func (r *ConsentRepository) WithdrawAll(ctx context.Context, tenantID string, patientID uuid.UUID, reason string, changedBy *uuid.UUID, now time.Time) (int64, error) {
	var count int64
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		var active []*consent.Consent
		if err := tx.Where("tenant_id = ? AND patient_id = ? AND status = ?",
			tenantID, patientID, consent.StatusActive).
			Find(&active).Error; err != nil {
			return err
		}

		for _, c := range active {
			previous := c.Status
			c.Withdraw(reason, now)
			if err := tx.Save(c).Error; err != nil {
				return err
			}
			if err := tx.Create(auditRow(c, &previous, consent.AuditWithdrawn, reason, changedBy, now)).Error; err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// MarkExpired transitions ACTIVE consents past their expiry, one audit row
// each.
func (r *ConsentRepository) MarkExpired(ctx context.Context, tenantID string, now time.Time) (int64, error) {
	var count int64
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		var expired []*consent.Consent
		if err := tx.Where("tenant_id = ? AND status = ? AND expires_at IS NOT NULL AND expires_at <= ?",
			tenantID, consent.StatusActive, now).
			Find(&expired).Error; err != nil {
			return err
		}

		for _, c := range expired {
			previous := c.Status
			c.Status = consent.StatusExpired
			if err := tx.Save(c).Error; err != nil {
				return err
			}
			if err := tx.Create(auditRow(c, &previous, consent.AuditExpired, "consent expired", nil, now)).Error; err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

func (r *ConsentRepository) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*consent.Consent, error) {
	var c consent.Consent
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Where("id = ? AND tenant_id = ?", id, tenantID).First(&c).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *ConsentRepository) FindActive(ctx context.Context, tenantID string, patientID uuid.UUID, purpose consent.Purpose) (*consent.Consent, error) {
	var c consent.Consent
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Where("tenant_id = ? AND patient_id = ? AND purpose = ? AND status = ?",
			tenantID, patientID, purpose, consent.StatusActive).
			First(&c).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *ConsentRepository) ListActive(ctx context.Context, tenantID string, patientID uuid.UUID, now time.Time) ([]*consent.Consent, error) {
	var out []*consent.Consent
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Where("tenant_id = ? AND patient_id = ? AND status = ? AND withdrawn_at IS NULL",
			tenantID, patientID, consent.StatusActive).
			Where("expires_at IS NULL OR expires_at > ?", now).
			Order("granted_at DESC").
			Find(&out).Error
	})
	return out, err
}

func (r *ConsentRepository) History(ctx context.Context, tenantID string, patientID uuid.UUID) ([]*consent.Consent, error) {
	var out []*consent.Consent
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Where("tenant_id = ? AND patient_id = ?", tenantID, patientID).
			Order("granted_at DESC").
			Find(&out).Error
	})
	return out, err
}

func (r *ConsentRepository) AuditTrail(ctx context.Context, tenantID string, consentID uuid.UUID) ([]*consent.AuditRecord, error) {
	var out []*consent.AuditRecord
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Where("tenant_id = ? AND consent_id = ?", tenantID, consentID).
			Order("changed_at ASC").
			Find(&out).Error
	})
	return out, err
}

// HasValid applies the consent validity predicate in SQL.
func (r *ConsentRepository) HasValid(ctx context.Context, tenantID string, patientID uuid.UUID, purpose consent.Purpose, now time.Time) (bool, error) {
	var count int64
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Model(&consent.Consent{}).
			Where("tenant_id = ? AND patient_id = ? AND purpose = ? AND status = ? AND withdrawn_at IS NULL",
				tenantID, patientID, purpose, consent.StatusActive).
			Where("expires_at IS NULL OR expires_at > ?", now).
			Count(&count).Error
	})
	return count > 0, err
}

func (r *ConsentRepository) FindExpiringSoon(ctx context.Context, tenantID string, now time.Time, within time.Duration) ([]*consent.Consent, error) {
	var out []*consent.Consent
	deadline := now.Add(within)
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Where("tenant_id = ? AND status = ? AND withdrawn_at IS NULL", tenantID, consent.StatusActive).
			Where("expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?", now, deadline).
			Order("expires_at ASC").
			Find(&out).Error
	})
	return out, err
}

func (r *ConsentRepository) Statistics(ctx context.Context, tenantID string) (*consent.Statistics, error) {
	stats := &consent.Statistics{
		TenantID:  tenantID,
		ByPurpose: make(map[consent.Purpose]int64),
	}
	err := tenant.Transaction(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		type statusCount struct {
			Status consent.Status
			Count  int64
		}
		var byStatus []statusCount
		if err := tx.Model(&consent.Consent{}).
			Select("status, count(*) as count").
			Where("tenant_id = ?", tenantID).
			Group("status").
			Scan(&byStatus).Error; err != nil {
			return err
		}
		for _, row := range byStatus {
			stats.Total += row.Count
			switch row.Status {
			case consent.StatusActive:
				stats.Active = row.Count
			case consent.StatusWithdrawn:
				stats.Withdrawn = row.Count
			case consent.StatusExpired:
				stats.Expired = row.Count
			case consent.StatusSuperseded:
				stats.Superseded = row.Count
			}
		}

		type purposeCount struct {
			Purpose consent.Purpose
			Count   int64
		}
		var byPurpose []purposeCount
		if err := tx.Model(&consent.Consent{}).
			Select("purpose, count(*) as count").
			Where("tenant_id = ? AND status = ?", tenantID, consent.StatusActive).
			Group("purpose").
			Scan(&byPurpose).Error; err != nil {
			return err
		}
		for _, row := range byPurpose {
			stats.ByPurpose[row.Purpose] = row.Count
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
