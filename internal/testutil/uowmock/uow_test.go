package uowmock

import (
	"context"
	"errors"
	"testing"

	"payroll-bnpl/internal/domain/contract"
	"payroll-bnpl/internal/domain/uow"
	"payroll-bnpl/internal/testutil/contractmock"
	"payroll-bnpl/internal/testutil/lendermock"
)

func TestUoW_WithinTx_Happy(t *testing.T) {
	ctx := context.Background()

	contracts := &contractmock.Repo{}
	lenders := &lendermock.Repo{}
	repos := uow.Repos{Contracts: contracts, Lenders: lenders}

	innerCalled := false
	m := &UoW{
		WithinTxFn: func(gotCtx context.Context, fn func(r uow.Repos) error) error {
			if gotCtx != ctx {
				t.Fatalf("WithinTx: ctx mismatch")
			}
			return fn(repos)
		},
	}

	err := m.WithinTx(ctx, func(r uow.Repos) error {
		innerCalled = true
		if r.Contracts != contracts || r.Lenders != lenders {
			t.Fatalf("WithinTx: repos not forwarded")
		}
		return nil
	})
	if err != nil || !innerCalled {
		t.Fatalf("WithinTx: err=%v called=%v", err, innerCalled)
	}
}

func TestUoW_Default_Unimplemented(t *testing.T) {
	ctx := context.Background()
	m := &UoW{}
	if err := m.WithinTx(ctx, func(uow.Repos) error { return nil }); !errors.Is(err, errUnimplemented) {
		t.Fatalf("WithinTx default: want errUnimplemented, got %v", err)
	}
	if err := m.WithinContractTx(ctx, "C-X", func(uow.Repos, *contract.Contract) error { return nil }); !errors.Is(err, errUnimplemented) {
		t.Fatalf("WithinContractTx default: want errUnimplemented, got %v", err)
	}
}

func TestPassthrough_LoadsContract(t *testing.T) {
	ctx := context.Background()
	locked := &contract.Contract{ContractID: "C-7"}
	contracts := &contractmock.Repo{
		GetByContractIDForUpdateFn: func(_ context.Context, id string) (*contract.Contract, error) {
			if id != "C-7" {
				return nil, contract.ErrNotFound
			}
			return locked, nil
		},
	}
	m := Passthrough(uow.Repos{Contracts: contracts})

	var got *contract.Contract
	if err := m.WithinContractTx(ctx, "C-7", func(_ uow.Repos, c *contract.Contract) error {
		got = c
		return nil
	}); err != nil {
		t.Fatalf("WithinContractTx: %v", err)
	}
	if got != locked {
		t.Fatalf("contract not forwarded: %+v", got)
	}

	called := false
	err := m.WithinContractTx(ctx, "missing", func(uow.Repos, *contract.Contract) error { called = true; return nil })
	if !errors.Is(err, contract.ErrNotFound) || called {
		t.Fatalf("missing contract: err=%v called=%v", err, called)
	}
}

func TestUoW_FluentSetters_And_Reset(t *testing.T) {
	m := New()
	if m.WithinTxFn != nil || m.WithinContractTxFn != nil {
		t.Fatalf("New should start with nil funcs")
	}

	m.WithWithinTx(func(context.Context, func(uow.Repos) error) error { return nil }).
		WithWithinContractTx(func(context.Context, string, func(uow.Repos, *contract.Contract) error) error { return nil })
	if m.WithinTxFn == nil || m.WithinContractTxFn == nil {
		t.Fatalf("fluent setters didn't assign funcs")
	}

	m.Reset()
	if m.WithinTxFn != nil || m.WithinContractTxFn != nil {
		t.Fatalf("Reset should clear function fields")
	}
}
