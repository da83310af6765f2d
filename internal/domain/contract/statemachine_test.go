package contract

import (
	"errors"
	"testing"
	"time"

	"payroll-bnpl/internal/domain/apperr"
)

func TestTransitionTable_AllPairs(t *testing.T) {
	legal := map[State]map[State]bool{
		StatePreApproved:        {StateOrderCreated: true, StateDeductionRequested: true, StateCancelled: true},
		StateOrderCreated:       {StateCustomerAuthorized: true, StateCancelled: true},
		StateDeductionRequested: {StateCustomerAuthorized: true, StateCancelled: true},
		StateCustomerAuthorized: {StateEscrowHeld: true, StateCancelled: true},
		StateEscrowHeld:         {StateDisbursed: true, StateDisputed: true, StateCancelled: true},
		StateDisbursed:          {StateInRepayment: true, StateDisputed: true},
		StateInRepayment:        {StateClosed: true, StateDisputed: true, StateDefaulted: true},
		StateDisputed:           {StateInRepayment: true, StateCancelled: true, StateRefunded: true},
	}
	at := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	for _, from := range States() {
		for _, to := range States() {
			c := &Contract{ContractID: "c1", State: from}
			err := Transition(c, to, "test", "tester", at)
			if legal[from][to] {
				if err != nil {
					t.Fatalf("%s -> %s: unexpected error %v", from, to, err)
				}
				if c.State != to || len(c.Transitions) != 1 {
					t.Fatalf("%s -> %s: contract not advanced: %+v", from, to, c)
				}
				rec := c.Transitions[0]
				if rec.From != from || rec.To != to || rec.Actor != "tester" || !rec.OccurredAt.Equal(at) {
					t.Fatalf("bad transition record: %+v", rec)
				}
				continue
			}
			var ite *IllegalTransitionError
			if !errors.As(err, &ite) {
				t.Fatalf("%s -> %s: want IllegalTransitionError, got %v", from, to, err)
			}
			if c.State != from || len(c.Transitions) != 0 || c.ClosedAt != nil || c.FundedAt != nil {
				t.Fatalf("%s -> %s: rejected transition mutated contract: %+v", from, to, c)
			}
			if apperr.CodeOf(err) != apperr.CodeIllegalTransition {
				t.Fatalf("code = %s", apperr.CodeOf(err))
			}
		}
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	for _, s := range []State{StateClosed, StateCancelled, StateRefunded, StateDefaulted} {
		if !IsTerminal(s) {
			t.Fatalf("%s should be terminal", s)
		}
		if len(Allowed(s)) != 0 {
			t.Fatalf("%s has outgoing edges: %v", s, Allowed(s))
		}
	}
	if IsTerminal(StateDisputed) {
		t.Fatal("DISPUTED is not terminal")
	}
}

func TestTransition_Timestamps(t *testing.T) {
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	c := &Contract{ContractID: "c1", State: StateEscrowHeld}

	if err := Transition(c, StateDisbursed, "released", "settlement", at); err != nil {
		t.Fatal(err)
	}
	if c.FundedAt == nil || !c.FundedAt.Equal(at) {
		t.Fatalf("fundedAt not set: %v", c.FundedAt)
	}
	if c.ClosedAt != nil {
		t.Fatal("closedAt must stay nil for non-terminal state")
	}

	later := at.Add(90 * 24 * time.Hour)
	if err := Transition(c, StateInRepayment, "", "settlement", later); err != nil {
		t.Fatal(err)
	}
	if err := Transition(c, StateClosed, "paid", "settlement", later); err != nil {
		t.Fatal(err)
	}
	if c.ClosedAt == nil || !c.ClosedAt.Equal(later) {
		t.Fatalf("closedAt = %v, want %v", c.ClosedAt, later)
	}
	if len(c.Transitions) != 3 {
		t.Fatalf("transitions = %d, want 3", len(c.Transitions))
	}
}

func TestAllowed_ReturnsCopy(t *testing.T) {
	got := Allowed(StatePreApproved)
	got[0] = StateClosed
	if !CanTransition(StatePreApproved, StateOrderCreated) {
		t.Fatal("mutating Allowed result changed the table")
	}
}

func TestRequire(t *testing.T) {
	c := &Contract{ContractID: "c1", State: StateInRepayment}
	if err := Require(c, StateClosed, StateInRepayment); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	err := Require(c, StateEscrowHeld, StateCustomerAuthorized)
	var ite *IllegalTransitionError
	if !errors.As(err, &ite) || ite.From != StateInRepayment || ite.To != StateEscrowHeld {
		t.Fatalf("want illegal transition, got %v", err)
	}
}
