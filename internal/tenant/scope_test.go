package tenant_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/hospitalos/authz/internal"
	"github.com/hospitalos/authz/internal/tenant"
)

type scopeRow struct {
	ID       int64  `gorm:"primaryKey"`
	TenantID string `gorm:"column:tenant_id"`
	Value    string
}

func (scopeRow) TableName() string {
	return "scope_rows"
}

var _ = Describe("Transaction", func() {
	var db *gorm.DB

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		Expect(err).NotTo(HaveOccurred())
		Expect(db.AutoMigrate(&scopeRow{})).To(Succeed())
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		Expect(sqlDB.Close()).To(Succeed())
	})

	It("should run the function inside a committed transaction", func() {
		err := tenant.Transaction(context.Background(), db, "hospital-north", func(tx *gorm.DB) error {
			return tx.Create(&scopeRow{TenantID: "hospital-north", Value: "x"}).Error
		})
		Expect(err).NotTo(HaveOccurred())

		var count int64
		Expect(db.Model(&scopeRow{}).Count(&count).Error).To(Succeed())
		Expect(count).To(Equal(int64(1)))
	})

	It("should roll back when the function fails", func() {
		boom := errors.New("boom")
		err := tenant.Transaction(context.Background(), db, "hospital-north", func(tx *gorm.DB) error {
			if err := tx.Create(&scopeRow{TenantID: "hospital-north", Value: "x"}).Error; err != nil {
				return err
			}
			return boom
		})
		Expect(err).To(MatchError(boom))

		var count int64
		Expect(db.Model(&scopeRow{}).Count(&count).Error).To(Succeed())
		Expect(count).To(BeZero())
	})

	It("should refuse to run without a tenant", func() {
		err := tenant.Transaction(context.Background(), db, "", func(tx *gorm.DB) error {
			return nil
		})
		Expect(err).To(MatchError(internal.ErrMissingTenant))
	})
})
