package gormstore

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"payroll-bnpl/internal/domain/contract"
	"payroll-bnpl/internal/domain/lender"
	"payroll-bnpl/internal/domain/party"
	"payroll-bnpl/pkg/id"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// openTestDB creates a private in-memory sqlite DB with the full schema.
// One connection keeps concurrent callers serialised on the same database.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:gormstore_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := Migrate(db); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}

func makeLender(lenderID string, limit, utilized float64) *lender.Lender {
	return &lender.Lender{
		LenderID:        lenderID,
		Name:            "Lender " + lenderID,
		CapitalLimit:    limit,
		CapitalUtilized: utilized,
		RiskAppetite:    lender.AppetiteModerate,
		IsActive:        true,
		Products: []lender.Product{{
			ProductID:           id.NewID32(),
			Name:                "salary advance",
			MinAmount:           1_000,
			MaxAmount:           1_000_000,
			TenorLimit:          180,
			RiskTierEligibility: []party.RiskTier{party.Tier1, party.Tier2},
			IsActive:            true,
		}},
	}
}

func makeContract(t *testing.T, idempKey string) *contract.Contract {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := &contract.Contract{
		ContractID:     id.NewID32(),
		EmployeeID:     id.NewID32(),
		EmployerID:     "employer-1",
		MerchantID:     "merchant-1",
		LenderID:       "lender-1",
		Principal:      300_000,
		TenorDays:      90,
		State:          contract.StatePreApproved,
		StateUpdatedAt: now,
		IdempotencyKey: idempKey,
		LedgerSync:     contract.LedgerSyncPending,
	}
	s, err := contract.BuildSchedule(c.Principal, 0.04, c.TenorDays, now)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	s.Apply(c)
	if err := contract.Transition(c, contract.StateOrderCreated, "checkout", "test", now); err != nil {
		t.Fatalf("transition: %v", err)
	}
	return c
}
