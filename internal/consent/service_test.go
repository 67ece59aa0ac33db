package consent_test

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/hospitalos/authz/internal"
	"github.com/hospitalos/authz/internal/consent"
	consentPostgres "github.com/hospitalos/authz/internal/consent/postgres"
	"github.com/hospitalos/authz/internal/core/events"
	"github.com/hospitalos/authz/internal/tenant"
)

var _ = Describe("Service", func() {
	var (
		db        *gorm.DB
		repo      consent.RepositoryAPI
		service   *consent.Service
		ctx       context.Context
		patientID uuid.UUID
		actorID   uuid.UUID
	)

	const tenantID = "hospital-north"

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(db.AutoMigrate(&consent.Consent{}, &consent.AuditRecord{})).To(Succeed())

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		repo = consentPostgres.NewConsentRepository(db)
		service = consent.NewService(repo, events.NewEventBus(logger), logger)

		patientID = uuid.New()
		actorID = uuid.New()
		ctx = internal.ContextWithActor(tenant.WithTenant(context.Background(), tenantID), actorID)
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		Expect(sqlDB.Close()).To(Succeed())
	})

	grantDTO := func(purpose consent.Purpose) consent.GrantConsentDTO {
		return consent.GrantConsentDTO{
			PatientID: patientID,
			Purpose:   purpose,
			Method:    consent.MethodWebForm,
		}
	}

	auditTrail := func(consentID uuid.UUID) []*consent.AuditRecord {
		trail, err := service.GetAuditTrail(ctx, consentID)
		Expect(err).NotTo(HaveOccurred())
		return trail
	}

	Describe("GrantConsent", func() {
		It("should create an active consent with exactly one GRANTED audit row", func() {
			granted, err := service.GrantConsent(ctx, grantDTO(consent.PurposeTreatment))
			Expect(err).NotTo(HaveOccurred())
			Expect(granted.Status).To(Equal(consent.StatusActive))
			Expect(granted.RecordedBy).To(HaveValue(Equal(actorID)))

			trail := auditTrail(granted.ID)
			Expect(trail).To(HaveLen(1))
			Expect(trail[0].Action).To(Equal(consent.AuditGranted))
			Expect(trail[0].NewStatus).To(Equal(consent.StatusActive))
			Expect(trail[0].PreviousStatus).To(BeNil())
			Expect(trail[0].ChangedBy).To(HaveValue(Equal(actorID)))
		})

		It("should supersede an earlier consent for the same purpose", func() {
			first, err := service.GrantConsent(ctx, grantDTO(consent.PurposeResearch))
			Expect(err).NotTo(HaveOccurred())

			second, err := service.GrantConsent(ctx, grantDTO(consent.PurposeResearch))
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).NotTo(Equal(first.ID))

			// only the new consent remains active
			active, err := service.GetActiveConsents(ctx, patientID)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(HaveLen(1))
			Expect(active[0].ID).To(Equal(second.ID))

			old, err := service.GetConsentByID(ctx, first.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(old.Status).To(Equal(consent.StatusSuperseded))

			oldTrail := auditTrail(first.ID)
			Expect(oldTrail).To(HaveLen(2))
			Expect(oldTrail[len(oldTrail)-1].Action).To(Equal(consent.AuditModified))
			Expect(oldTrail[len(oldTrail)-1].NewStatus).To(Equal(consent.StatusSuperseded))
		})

		It("should not supersede consents for a different purpose", func() {
			_, err := service.GrantConsent(ctx, grantDTO(consent.PurposeTreatment))
			Expect(err).NotTo(HaveOccurred())
			_, err = service.GrantConsent(ctx, grantDTO(consent.PurposeResearch))
			Expect(err).NotTo(HaveOccurred())

			active, err := service.GetActiveConsents(ctx, patientID)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(HaveLen(2))
		})

		It("should reject an unknown purpose", func() {
			dto := grantDTO("HOROSCOPES")
			_, err := service.GrantConsent(ctx, dto)
			Expect(err).To(HaveOccurred())
			_, isAppErr := internal.IsAppError(err)
			Expect(isAppErr).To(BeTrue())
		})

		It("should reject an expiry in the past", func() {
			dto := grantDTO(consent.PurposeTreatment)
			past := time.Now().Add(-time.Hour)
			dto.ExpiresAt = &past
			_, err := service.GrantConsent(ctx, dto)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("WithdrawConsent", func() {
		It("should withdraw and append one WITHDRAWN row carrying the prior status", func() {
			granted, err := service.GrantConsent(ctx, grantDTO(consent.PurposeTreatment))
			Expect(err).NotTo(HaveOccurred())

			withdrawn, err := service.WithdrawConsent(ctx, granted.ID, "patient request")
			Expect(err).NotTo(HaveOccurred())
			Expect(withdrawn.Status).To(Equal(consent.StatusWithdrawn))
			Expect(withdrawn.WithdrawnAt).NotTo(BeNil())
			Expect(withdrawn.WithdrawReason).To(Equal("patient request"))

			trail := auditTrail(granted.ID)
			Expect(trail).To(HaveLen(2))
			last := trail[len(trail)-1]
			Expect(last.Action).To(Equal(consent.AuditWithdrawn))
			Expect(last.PreviousStatus).To(HaveValue(Equal(consent.StatusActive)))
			Expect(last.NewStatus).To(Equal(consent.StatusWithdrawn))
			Expect(last.Reason).To(Equal("patient request"))
		})

		It("should refuse to withdraw a consent that is not active", func() {
			granted, err := service.GrantConsent(ctx, grantDTO(consent.PurposeTreatment))
			Expect(err).NotTo(HaveOccurred())
			_, err = service.WithdrawConsent(ctx, granted.ID, "first")
			Expect(err).NotTo(HaveOccurred())

			_, err = service.WithdrawConsent(ctx, granted.ID, "again")
			Expect(err).To(MatchError(internal.ErrConsentNotActive))

			// no extra audit row from the refused attempt
			Expect(auditTrail(granted.ID)).To(HaveLen(2))
		})

		It("should report a missing consent", func() {
			_, err := service.WithdrawConsent(ctx, uuid.New(), "nope")
			Expect(err).To(MatchError(internal.ErrConsentNotFound))
		})

		It("should reject a transition validated against a stale read", func() {
			granted, err := service.GrantConsent(ctx, grantDTO(consent.PurposeResearch))
			Expect(err).NotTo(HaveOccurred())

			// request A validates the consent is ACTIVE, then stalls
			stale, err := repo.GetByID(ctx, tenantID, granted.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stale.Status).To(Equal(consent.StatusActive))

			// request B completes its withdrawal first
			_, err = service.WithdrawConsent(ctx, granted.ID, "request B")
			Expect(err).NotTo(HaveOccurred())

			// request A resumes its write; the repository re-checks the
			// stored status inside the transaction and refuses it
			now := time.Now()
			stale.Withdraw("request A", now)
			err = repo.Transition(ctx, stale, consent.StatusActive, consent.AuditWithdrawn, "request A", nil, now)
			Expect(err).To(MatchError(internal.ErrConsentNotActive))

			trail := auditTrail(granted.ID)
			Expect(trail).To(HaveLen(2))
			Expect(trail[len(trail)-1].Action).To(Equal(consent.AuditWithdrawn))
			Expect(trail[len(trail)-1].Reason).To(Equal("request B"))
		})
	})

	Describe("WithdrawAllConsents", func() {
		It("should withdraw every active consent for the patient", func() {
			_, err := service.GrantConsent(ctx, grantDTO(consent.PurposeTreatment))
			Expect(err).NotTo(HaveOccurred())
			_, err = service.GrantConsent(ctx, grantDTO(consent.PurposeResearch))
			Expect(err).NotTo(HaveOccurred())

			count, err := service.WithdrawAllConsents(ctx, patientID, "patient leaving the hospital")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(2)))

			active, err := service.GetActiveConsents(ctx, patientID)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeEmpty())
		})
	})

	Describe("RenewConsent", func() {
		It("should chain the renewal to its parent with a RENEWED audit row", func() {
			granted, err := service.GrantConsent(ctx, grantDTO(consent.PurposeTreatment))
			Expect(err).NotTo(HaveOccurred())

			expiry := time.Now().Add(365 * 24 * time.Hour)
			renewed, err := service.RenewConsent(ctx, granted.ID, &expiry)
			Expect(err).NotTo(HaveOccurred())
			Expect(renewed.ID).NotTo(Equal(granted.ID))
			Expect(renewed.ParentConsentID).To(HaveValue(Equal(granted.ID)))
			Expect(renewed.Status).To(Equal(consent.StatusActive))

			trail := auditTrail(renewed.ID)
			Expect(trail).To(HaveLen(1))
			Expect(trail[0].Action).To(Equal(consent.AuditRenewed))

			old, err := service.GetConsentByID(ctx, granted.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(old.Status).To(Equal(consent.StatusSuperseded))
		})

		It("should refuse to renew a withdrawn consent", func() {
			granted, err := service.GrantConsent(ctx, grantDTO(consent.PurposeTreatment))
			Expect(err).NotTo(HaveOccurred())
			_, err = service.WithdrawConsent(ctx, granted.ID, "done")
			Expect(err).NotTo(HaveOccurred())

			_, err = service.RenewConsent(ctx, granted.ID, nil)
			Expect(err).To(MatchError(internal.ErrConsentNotActive))
		})

		It("should reject a renewal whose parent was withdrawn after validation", func() {
			granted, err := service.GrantConsent(ctx, grantDTO(consent.PurposeTreatment))
			Expect(err).NotTo(HaveOccurred())

			// a concurrent withdrawal lands between the renewal's ACTIVE
			// check and its write
			_, err = service.WithdrawConsent(ctx, granted.ID, "changed mind")
			Expect(err).NotTo(HaveOccurred())

			now := time.Now()
			renewal := &consent.Consent{
				ID:              uuid.New(),
				TenantID:        tenantID,
				PatientID:       patientID,
				Purpose:         consent.PurposeTreatment,
				Status:          consent.StatusActive,
				Method:          consent.MethodWebForm,
				ParentConsentID: &granted.ID,
				GrantedAt:       now,
			}
			_, err = repo.Grant(ctx, renewal, consent.AuditRenewed, nil, now)
			Expect(err).To(MatchError(internal.ErrConsentNotActive))

			// nothing active and no renewal audit trail was created
			active, err := service.GetActiveConsents(ctx, patientID)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeEmpty())
		})
	})

	Describe("HasValidConsent and RequireConsent", func() {
		It("should flip with the consent lifecycle", func() {
			ok, err := service.HasValidConsent(ctx, patientID, consent.PurposeTreatment)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(service.RequireConsent(ctx, patientID, consent.PurposeTreatment)).To(MatchError(internal.ErrConsentRequired))

			granted, err := service.GrantConsent(ctx, grantDTO(consent.PurposeTreatment))
			Expect(err).NotTo(HaveOccurred())

			ok, err = service.HasValidConsent(ctx, patientID, consent.PurposeTreatment)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(service.RequireConsent(ctx, patientID, consent.PurposeTreatment)).To(Succeed())

			_, err = service.WithdrawConsent(ctx, granted.ID, "changed mind")
			Expect(err).NotTo(HaveOccurred())

			ok, err = service.HasValidConsent(ctx, patientID, consent.PurposeTreatment)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("should not honour an expired consent even before the sweeper runs", func() {
			dto := grantDTO(consent.PurposeResearch)
			expiry := time.Now().Add(50 * time.Millisecond)
			dto.ExpiresAt = &expiry
			_, err := service.GrantConsent(ctx, dto)
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() bool {
				ok, err := service.HasValidConsent(ctx, patientID, consent.PurposeResearch)
				Expect(err).NotTo(HaveOccurred())
				return ok
			}).Should(BeFalse())
		})
	})

	Describe("MarkExpiredConsents", func() {
		It("should transition expired consents with an EXPIRED audit row", func() {
			dto := grantDTO(consent.PurposeResearch)
			expiry := time.Now().Add(time.Millisecond)
			dto.ExpiresAt = &expiry
			granted, err := service.GrantConsent(ctx, dto)
			Expect(err).NotTo(HaveOccurred())

			time.Sleep(5 * time.Millisecond)

			count, err := service.MarkExpiredConsents(ctx, tenantID)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(1)))

			expired, err := service.GetConsentByID(ctx, granted.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(expired.Status).To(Equal(consent.StatusExpired))

			trail := auditTrail(granted.ID)
			last := trail[len(trail)-1]
			Expect(last.Action).To(Equal(consent.AuditExpired))
			Expect(last.ChangedBy).To(BeNil())
		})
	})

	Describe("GrantDefaultConsents", func() {
		It("should grant the registration defaults as implied consents", func() {
			defaults, err := service.GrantDefaultConsents(ctx, patientID)
			Expect(err).NotTo(HaveOccurred())
			Expect(defaults).To(HaveLen(len(consent.DefaultPurposes)))

			var purposes []consent.Purpose
			for _, c := range defaults {
				purposes = append(purposes, c.Purpose)
				Expect(c.Method).To(Equal(consent.MethodImplied))
				Expect(c.Status).To(Equal(consent.StatusActive))
			}
			Expect(purposes).To(ConsistOf(consent.PurposeTreatment, consent.PurposeDataProcessing, consent.PurposeCommunication))
		})
	})

	Describe("FindExpiringSoon", func() {
		It("should surface consents expiring inside the window only", func() {
			soon := grantDTO(consent.PurposeTreatment)
			in10 := time.Now().Add(10 * 24 * time.Hour)
			soon.ExpiresAt = &in10
			expiring, err := service.GrantConsent(ctx, soon)
			Expect(err).NotTo(HaveOccurred())

			far := grantDTO(consent.PurposeResearch)
			in90 := time.Now().Add(90 * 24 * time.Hour)
			far.ExpiresAt = &in90
			_, err = service.GrantConsent(ctx, far)
			Expect(err).NotTo(HaveOccurred())

			found, err := service.FindExpiringSoon(ctx, 30)
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(HaveLen(1))
			Expect(found[0].ID).To(Equal(expiring.ID))
		})
	})

	Describe("GetStatistics", func() {
		It("should aggregate by status and purpose", func() {
			_, err := service.GrantConsent(ctx, grantDTO(consent.PurposeTreatment))
			Expect(err).NotTo(HaveOccurred())
			research, err := service.GrantConsent(ctx, grantDTO(consent.PurposeResearch))
			Expect(err).NotTo(HaveOccurred())
			_, err = service.WithdrawConsent(ctx, research.ID, "opted out")
			Expect(err).NotTo(HaveOccurred())

			stats, err := service.GetStatistics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TenantID).To(Equal(tenantID))
			Expect(stats.Total).To(Equal(int64(2)))
			Expect(stats.Active).To(Equal(int64(1)))
			Expect(stats.Withdrawn).To(Equal(int64(1)))
			Expect(stats.ByPurpose).To(HaveKeyWithValue(consent.PurposeTreatment, int64(1)))
			Expect(stats.ByPurpose).NotTo(HaveKey(consent.PurposeResearch))
		})
	})

	Describe("tenant isolation", func() {
		It("should keep consents invisible across tenants", func() {
			_, err := service.GrantConsent(ctx, grantDTO(consent.PurposeTreatment))
			Expect(err).NotTo(HaveOccurred())

			otherCtx := tenant.WithTenant(context.Background(), "hospital-south")
			ok, err := service.HasValidConsent(otherCtx, patientID, consent.PurposeTreatment)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			history, err := service.GetConsentHistory(otherCtx, patientID)
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(BeEmpty())
		})
	})
})
