package grants_test

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
	"github.com/hospitalos/authz/internal/core/events"
	"github.com/hospitalos/authz/internal/grants"
	grantsPostgres "github.com/hospitalos/authz/internal/grants/postgres"
	"github.com/hospitalos/authz/internal/tenant"
)

// racingGrantRepo misses its first lookup, standing in for a second request
// that passed the existence check before the first one committed.
type racingGrantRepo struct {
	grants.RepositoryAPI
	lookedUp bool
}

func (r *racingGrantRepo) FindActive(ctx context.Context, tenantID string, userID uuid.UUID, resourceType string, resourceID uuid.UUID, action grants.Action, now time.Time) (*grants.Grant, error) {
	if !r.lookedUp {
		r.lookedUp = true
		return nil, nil
	}
	return r.RepositoryAPI.FindActive(ctx, tenantID, userID, resourceType, resourceID, action, now)
}

var _ = Describe("Service", func() {
	var (
		db      *gorm.DB
		repo    grants.RepositoryAPI
		service *grants.Service
		logger  *slog.Logger
		ctx     context.Context
		userID  uuid.UUID
		actorID uuid.UUID
	)

	const tenantID = "hospital-north"
	const breakGlassMax = 4 * time.Hour

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(db.AutoMigrate(&grants.Grant{})).To(Succeed())
		// the live-grant uniqueness the schema migration enforces in postgres
		Expect(db.Exec(`CREATE UNIQUE INDEX urp_active_uniq
			ON user_resource_permissions (tenant_id, user_id, resource_type, resource_id, action)
			WHERE active AND revoked_at IS NULL`).Error).NotTo(HaveOccurred())

		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		repo = grantsPostgres.NewGrantRepository(db)
		service = grants.NewService(repo, events.NewEventBus(logger), logger, breakGlassMax)

		userID = uuid.New()
		actorID = uuid.New()
		ctx = internal.ContextWithActor(tenant.WithTenant(context.Background(), tenantID), actorID)
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		Expect(sqlDB.Close()).To(Succeed())
	})

	grantDTO := func(resourceID uuid.UUID, action grants.Action) grants.GrantPermissionDTO {
		return grants.GrantPermissionDTO{
			UserID:       userID,
			ResourceType: "medical_record",
			ResourceID:   resourceID,
			Action:       action,
			Reason:       "external consult",
		}
	}

	Describe("GrantPermission", func() {
		It("should persist an active grant attributed to the actor", func() {
			grant, err := service.GrantPermission(ctx, grantDTO(uuid.New(), grants.ActionRead))
			Expect(err).NotTo(HaveOccurred())
			Expect(grant.Active).To(BeTrue())
			Expect(grant.IsBreakGlass).To(BeFalse())
			Expect(grant.GrantedBy).To(HaveValue(Equal(actorID)))
		})

		It("should be idempotent for an equivalent active grant", func() {
			resourceID := uuid.New()
			first, err := service.GrantPermission(ctx, grantDTO(resourceID, grants.ActionRead))
			Expect(err).NotTo(HaveOccurred())

			second, err := service.GrantPermission(ctx, grantDTO(resourceID, grants.ActionRead))
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(Equal(first.ID))

			all, err := service.ListForUser(ctx, userID)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
		})

		It("should surface a conflict from storage when an equivalent live grant exists", func() {
			resourceID := uuid.New()
			_, err := service.GrantPermission(ctx, grantDTO(resourceID, grants.ActionRead))
			Expect(err).NotTo(HaveOccurred())

			duplicate := &grants.Grant{
				ID:           uuid.New(),
				UserID:       userID,
				TenantID:     tenantID,
				ResourceType: "medical_record",
				ResourceID:   resourceID,
				Action:       grants.ActionRead,
				Active:       true,
				GrantedAt:    time.Now(),
			}
			Expect(repo.Create(ctx, duplicate)).To(MatchError(internal.ErrGrantExists))
		})

		It("should return the winning grant when two equivalent grants race", func() {
			resourceID := uuid.New()
			winner, err := service.GrantPermission(ctx, grantDTO(resourceID, grants.ActionRead))
			Expect(err).NotTo(HaveOccurred())

			// a repo whose first lookup misses reproduces the window between
			// the existence check and the insert
			racing := grants.NewService(&racingGrantRepo{RepositoryAPI: repo}, events.NewEventBus(logger), logger, breakGlassMax)
			second, err := racing.GrantPermission(ctx, grantDTO(resourceID, grants.ActionRead))
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(Equal(winner.ID))

			all, err := service.ListForUser(ctx, userID)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
		})

		It("should allow a new grant once the previous one is revoked", func() {
			resourceID := uuid.New()
			first, err := service.GrantPermission(ctx, grantDTO(resourceID, grants.ActionRead))
			Expect(err).NotTo(HaveOccurred())
			Expect(service.RevokePermission(ctx, first.ID)).To(Succeed())

			second, err := service.GrantPermission(ctx, grantDTO(resourceID, grants.ActionRead))
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).NotTo(Equal(first.ID))
		})

		It("should stack a new grant for a different action on the same resource", func() {
			resourceID := uuid.New()
			_, err := service.GrantPermission(ctx, grantDTO(resourceID, grants.ActionRead))
			Expect(err).NotTo(HaveOccurred())
			_, err = service.GrantPermission(ctx, grantDTO(resourceID, grants.ActionWrite))
			Expect(err).NotTo(HaveOccurred())

			all, err := service.ListForUser(ctx, userID)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))
		})
	})

	Describe("GrantBreakGlassAccess", func() {
		breakGlassDTO := func(reason string, minutes int) grants.BreakGlassDTO {
			return grants.BreakGlassDTO{
				UserID:          userID,
				ResourceType:    "medical_record",
				ResourceID:      uuid.New(),
				Action:          grants.ActionRead,
				Reason:          reason,
				DurationMinutes: minutes,
			}
		}

		It("should issue a time-boxed grant with the break-glass prefix", func() {
			before := time.Now()
			grant, err := service.GrantBreakGlassAccess(ctx, breakGlassDTO("patient unconscious in ER", 60))
			Expect(err).NotTo(HaveOccurred())

			Expect(grant.IsBreakGlass).To(BeTrue())
			Expect(grant.Reason).To(Equal("BREAK-GLASS: patient unconscious in ER"))
			Expect(grant.ValidUntil).NotTo(BeNil())
			Expect(*grant.ValidUntil).To(BeTemporally("~", before.Add(time.Hour), 5*time.Second))
		})

		It("should not double the prefix when the caller already supplied it", func() {
			grant, err := service.GrantBreakGlassAccess(ctx, breakGlassDTO("BREAK-GLASS: cardiac arrest", 30))
			Expect(err).NotTo(HaveOccurred())
			Expect(grant.Reason).To(Equal("BREAK-GLASS: cardiac arrest"))
		})

		It("should refuse a blank reason", func() {
			_, err := service.GrantBreakGlassAccess(ctx, breakGlassDTO("   ", 60))
			Expect(err).To(MatchError(internal.ErrReasonRequired))
		})

		It("should refuse a duration beyond the configured maximum", func() {
			// 5 hours against a 4 hour cap
			_, err := service.GrantBreakGlassAccess(ctx, breakGlassDTO("mass casualty event", 300))
			Expect(err).To(HaveOccurred())
			_, isAppErr := internal.IsAppError(err)
			Expect(isAppErr).To(BeTrue())
		})

		It("should appear in the break-glass listing", func() {
			_, err := service.GrantBreakGlassAccess(ctx, breakGlassDTO("stroke protocol", 60))
			Expect(err).NotTo(HaveOccurred())
			_, err = service.GrantPermission(ctx, grantDTO(uuid.New(), grants.ActionRead))
			Expect(err).NotTo(HaveOccurred())

			listed, err := service.ListBreakGlassGrants(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(listed).To(HaveLen(1))
			Expect(listed[0].IsBreakGlass).To(BeTrue())
		})
	})

	Describe("HasValidGrant", func() {
		It("should honour the exact action", func() {
			resourceID := uuid.New()
			_, err := service.GrantPermission(ctx, grantDTO(resourceID, grants.ActionRead))
			Expect(err).NotTo(HaveOccurred())

			ok, err := service.HasValidGrant(ctx, userID, "medical_record", resourceID, "read")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			ok, err = service.HasValidGrant(ctx, userID, "medical_record", resourceID, "write")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("should treat a manage grant as covering every action", func() {
			resourceID := uuid.New()
			_, err := service.GrantPermission(ctx, grantDTO(resourceID, grants.ActionManage))
			Expect(err).NotTo(HaveOccurred())

			for _, action := range []string{"read", "write", "delete"} {
				ok, err := service.HasValidGrant(ctx, userID, "medical_record", resourceID, action)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue(), "manage should cover %s", action)
			}
		})

		It("should stop honouring a grant the moment its window closes", func() {
			resourceID := uuid.New()
			dto := grantDTO(resourceID, grants.ActionRead)
			past := time.Now().Add(-time.Minute)
			dto.ValidUntil = &past

			_, err := service.GrantPermission(ctx, dto)
			Expect(err).NotTo(HaveOccurred())

			ok, err := service.HasValidGrant(ctx, userID, "medical_record", resourceID, "read")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse(), "expired grants must fail reads even before the sweeper runs")
		})

		It("should ignore grants of another tenant", func() {
			resourceID := uuid.New()
			_, err := service.GrantPermission(ctx, grantDTO(resourceID, grants.ActionRead))
			Expect(err).NotTo(HaveOccurred())

			otherCtx := tenant.WithTenant(context.Background(), "hospital-south")
			ok, err := service.HasValidGrant(otherCtx, userID, "medical_record", resourceID, "read")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	Describe("RevokePermission", func() {
		It("should be terminal", func() {
			resourceID := uuid.New()
			grant, err := service.GrantPermission(ctx, grantDTO(resourceID, grants.ActionRead))
			Expect(err).NotTo(HaveOccurred())

			Expect(service.RevokePermission(ctx, grant.ID)).To(Succeed())

			ok, err := service.HasValidGrant(ctx, userID, "medical_record", resourceID, "read")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("should report a missing grant", func() {
			err := service.RevokePermission(ctx, uuid.New())
			Expect(err).To(MatchError(internal.ErrGrantNotFound))
		})
	})

	Describe("RevokeAllForResource", func() {
		It("should revoke every active grant on the resource and report the count", func() {
			resourceID := uuid.New()
			_, err := service.GrantPermission(ctx, grantDTO(resourceID, grants.ActionRead))
			Expect(err).NotTo(HaveOccurred())
			_, err = service.GrantPermission(ctx, grantDTO(resourceID, grants.ActionWrite))
			Expect(err).NotTo(HaveOccurred())
			_, err = service.GrantPermission(ctx, grantDTO(uuid.New(), grants.ActionRead))
			Expect(err).NotTo(HaveOccurred())

			count, err := service.RevokeAllForResource(ctx, "medical_record", resourceID)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(2)))

			ok, err := service.HasValidGrant(ctx, userID, "medical_record", resourceID, "read")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	Describe("AccessibleResources", func() {
		It("should list granted resource ids without duplicates", func() {
			resourceID := uuid.New()
			_, err := service.GrantPermission(ctx, grantDTO(resourceID, grants.ActionRead))
			Expect(err).NotTo(HaveOccurred())
			_, err = service.GrantPermission(ctx, grantDTO(resourceID, grants.ActionManage))
			Expect(err).NotTo(HaveOccurred())

			ids, err := service.AccessibleResources(ctx, userID, "medical_record", "read")
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(ConsistOf([]uuid.UUID{resourceID}))
		})
	})

	Describe("CleanupExpired", func() {
		It("should deactivate only grants past their window", func() {
			expired := grantDTO(uuid.New(), grants.ActionRead)
			past := time.Now().Add(-time.Minute)
			expired.ValidUntil = &past
			_, err := service.GrantPermission(ctx, expired)
			Expect(err).NotTo(HaveOccurred())

			liveResource := uuid.New()
			_, err = service.GrantPermission(ctx, grantDTO(liveResource, grants.ActionRead))
			Expect(err).NotTo(HaveOccurred())

			count, err := service.CleanupExpired(ctx, tenantID)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(1)))

			ok, err := service.HasValidGrant(ctx, userID, "medical_record", liveResource, "read")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})
	})
})
