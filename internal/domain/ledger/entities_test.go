package ledger

import (
	"errors"
	"testing"
	"time"
)

func TestNewEvent_SharedEventID(t *testing.T) {
	at := time.Now()
	es := NewEvent("c1", "c1:release", at,
		Posting{Type: TypeDisbursement, Account: AccountEscrow, Amount: -300_000},
		Posting{Type: TypeDisbursement, Account: MerchantAccount("m1"), Amount: 294_000},
		Posting{Type: TypeFee, Account: AccountPlatformFee, Amount: 6_000},
	)
	if len(es) != 3 {
		t.Fatalf("entries = %d", len(es))
	}
	for _, e := range es {
		if e.EventID != es[0].EventID || e.ContractID != "c1" || e.Reference != "c1:release" {
			t.Fatalf("inconsistent entry: %+v", e)
		}
	}
	if es[0].EntryID == es[1].EntryID {
		t.Fatal("entry ids must be unique")
	}
	if err := CheckBalanced(es); err != nil {
		t.Fatalf("balanced batch rejected: %v", err)
	}
}

func TestCheckBalanced(t *testing.T) {
	at := time.Now()
	ok := NewEvent("c1", "r", at,
		Posting{Type: TypeRepayment, Account: AccountPayrollClearing, Amount: -0.1},
		Posting{Type: TypeRepayment, Account: LenderAccount("l1"), Amount: 0.1},
	)
	if err := CheckBalanced(ok); err != nil {
		t.Fatalf("unexpected: %v", err)
	}

	bad := NewEvent("c1", "r", at,
		Posting{Type: TypeReversal, Account: AccountEscrow, Amount: -100},
		Posting{Type: TypeReversal, Account: LenderAccount("l1"), Amount: 99},
	)
	if err := CheckBalanced(append(ok, bad...)); !errors.Is(err, ErrUnbalanced) {
		t.Fatalf("want ErrUnbalanced, got %v", err)
	}
	if err := CheckBalanced(nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("want ErrEmptyBatch, got %v", err)
	}
}

func TestBalance(t *testing.T) {
	at := time.Now()
	es := append(
		NewEvent("c1", "hold", at,
			Posting{Type: TypeDisbursement, Account: LenderAccount("l1"), Amount: -500},
			Posting{Type: TypeDisbursement, Account: AccountEscrow, Amount: 500}),
		NewEvent("c1", "refund", at,
			Posting{Type: TypeReversal, Account: AccountEscrow, Amount: -500},
			Posting{Type: TypeReversal, Account: LenderAccount("l1"), Amount: 500})...,
	)
	if !Balance(es, AccountEscrow).IsZero() {
		t.Fatalf("escrow balance = %s", Balance(es, AccountEscrow))
	}
}
