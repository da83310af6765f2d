package gormstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"payroll-bnpl/internal/domain/contract"
	"payroll-bnpl/pkg/id"
)

func TestContract_CreateAndGet(t *testing.T) {
	db := openTestDB(t)
	repo := NewContractRepository(db)
	ctx := context.Background()

	c := makeContract(t, "key-1")
	if err := repo.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.ID == 0 || c.Version != 1 {
		t.Fatalf("Create did not set id/version: id=%d version=%d", c.ID, c.Version)
	}

	got, err := repo.GetByContractID(ctx, c.ContractID)
	if err != nil {
		t.Fatalf("GetByContractID: %v", err)
	}
	if got.State != contract.StateOrderCreated || got.TotalPayable != c.TotalPayable {
		t.Fatalf("unexpected contract: %+v", got)
	}
	if len(got.Installments) != 3 || got.Installments[0].Number != 1 {
		t.Fatalf("installments not loaded in order: %+v", got.Installments)
	}
	if len(got.Transitions) != 1 || got.Transitions[0].To != contract.StateOrderCreated {
		t.Fatalf("transitions not loaded: %+v", got.Transitions)
	}

	byKey, err := repo.GetByIdempotencyKey(ctx, "key-1")
	if err != nil || byKey.ContractID != c.ContractID {
		t.Fatalf("GetByIdempotencyKey: %v %+v", err, byKey)
	}
}

func TestContract_NotFound(t *testing.T) {
	repo := NewContractRepository(openTestDB(t))
	if _, err := repo.GetByContractID(context.Background(), id.NewID32()); !errors.Is(err, contract.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestContract_DuplicateIdempotencyKey(t *testing.T) {
	db := openTestDB(t)
	repo := NewContractRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, makeContract(t, "dup")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := repo.Create(ctx, makeContract(t, "dup"))
	if !errors.Is(err, contract.ErrDuplicateIdempKey) {
		t.Fatalf("want ErrDuplicateIdempKey, got %v", err)
	}
}

func TestContract_UpdateOptimisticVersion(t *testing.T) {
	db := openTestDB(t)
	repo := NewContractRepository(db)
	ctx := context.Background()

	c := makeContract(t, "k")
	if err := repo.Create(ctx, c); err != nil {
		t.Fatal(err)
	}

	a, _ := repo.GetByContractID(ctx, c.ContractID)
	b, _ := repo.GetByContractID(ctx, c.ContractID)

	now := time.Now().UTC()
	if err := contract.Transition(a, contract.StateCustomerAuthorized, "ok", "customer", now); err != nil {
		t.Fatal(err)
	}
	a.Installments[0].Status = contract.InstallmentSentToEmployer
	if err := repo.Update(ctx, a); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if a.Version != 2 {
		t.Fatalf("version = %d, want 2", a.Version)
	}

	if err := contract.Transition(b, contract.StateCancelled, "late", "ops", now); err != nil {
		t.Fatal(err)
	}
	if err := repo.Update(ctx, b); !errors.Is(err, contract.ErrConcurrentUpdate) {
		t.Fatalf("stale update: want ErrConcurrentUpdate, got %v", err)
	}
	if b.Version != 1 {
		t.Fatalf("stale version must be restored, got %d", b.Version)
	}

	got, _ := repo.GetByContractID(ctx, c.ContractID)
	if got.State != contract.StateCustomerAuthorized {
		t.Fatalf("state = %s", got.State)
	}
	if len(got.Transitions) != 2 {
		t.Fatalf("transitions = %d, want 2", len(got.Transitions))
	}
	if got.Installments[0].Status != contract.InstallmentSentToEmployer {
		t.Fatalf("installment change not persisted: %s", got.Installments[0].Status)
	}
}

func TestContract_ListAndLedgerSync(t *testing.T) {
	db := openTestDB(t)
	repo := NewContractRepository(db)
	ctx := context.Background()

	c1 := makeContract(t, "a")
	c2 := makeContract(t, "b")
	c2.LenderID = "lender-2"
	for _, c := range []*contract.Contract{c1, c2} {
		if err := repo.Create(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	list, err := repo.List(ctx, contract.Filter{LenderID: "lender-1"})
	if err != nil || len(list) != 1 || list[0].ContractID != c1.ContractID {
		t.Fatalf("List by lender: %v %+v", err, list)
	}
	list, _ = repo.List(ctx, contract.Filter{States: []contract.State{contract.StateOrderCreated}})
	if len(list) != 2 {
		t.Fatalf("List by state = %d, want 2", len(list))
	}
	list, _ = repo.List(ctx, contract.Filter{FundedOnly: true})
	if len(list) != 0 {
		t.Fatalf("no contract is funded yet, got %d", len(list))
	}

	if err := repo.SetLedgerSync(ctx, c1.ContractID, contract.LedgerSyncConfirmed, "LN-1"); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.GetByContractID(ctx, c1.ContractID)
	if got.LedgerSync != contract.LedgerSyncConfirmed || got.ExternalLoanID != "LN-1" || got.Version != 1 {
		t.Fatalf("ledger sync not applied cleanly: %+v", got)
	}
	if err := repo.SetLedgerSync(ctx, "missing", contract.LedgerSyncFailed, ""); !errors.Is(err, contract.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestDeductions_Lifecycle(t *testing.T) {
	db := openTestDB(t)
	repo := NewDeductionRepository(db)
	ctx := context.Background()

	items := []contract.DeductionInstruction{
		{InstructionID: id.NewID32(), EmployerID: "e1", ContractID: "c1", InstallmentID: "i1", InstallmentNumber: 1, MonthlyAmount: 100, PayrollCycle: "2026-04", Status: contract.DeductionPendingPayroll},
		{InstructionID: id.NewID32(), EmployerID: "e1", ContractID: "c1", InstallmentID: "i2", InstallmentNumber: 2, MonthlyAmount: 100, PayrollCycle: "2026-05", Status: contract.DeductionPendingPayroll},
		{InstructionID: id.NewID32(), EmployerID: "e2", ContractID: "c2", InstallmentID: "i3", InstallmentNumber: 1, MonthlyAmount: 50, PayrollCycle: "2026-04", Status: contract.DeductionPendingPayroll},
	}
	if err := repo.CreateBatch(ctx, items); err != nil {
		t.Fatal(err)
	}

	n, err := repo.Transition(ctx, contract.DeductionFilter{
		EmployerID: "e1", PayrollCycle: "2026-04",
		Statuses: []contract.DeductionStatus{contract.DeductionPendingPayroll},
	}, contract.DeductionSent)
	if err != nil || n != 1 {
		t.Fatalf("Transition: n=%d err=%v", n, err)
	}

	if err := repo.SetStatusByInstallment(ctx, "i1", contract.DeductionExecuted); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.List(ctx, contract.DeductionFilter{ContractID: "c1"})
	if len(got) != 2 || got[0].Status != contract.DeductionExecuted || got[1].Status != contract.DeductionPendingPayroll {
		t.Fatalf("unexpected deductions: %+v", got)
	}
}
