package contract

import (
	"fmt"
	"time"

	"payroll-bnpl/internal/domain/apperr"
)

// ORDER_CREATED and DEDUCTION_REQUESTED are two names for the same step.
var nextStep = []State{StateCustomerAuthorized, StateCancelled}

var transitions = map[State][]State{
	StatePreApproved:        {StateOrderCreated, StateDeductionRequested, StateCancelled},
	StateOrderCreated:       nextStep,
	StateDeductionRequested: nextStep,
	StateCustomerAuthorized: {StateEscrowHeld, StateCancelled},
	StateEscrowHeld:         {StateDisbursed, StateDisputed, StateCancelled},
	StateDisbursed:          {StateInRepayment, StateDisputed},
	StateInRepayment:        {StateClosed, StateDisputed, StateDefaulted},
	StateDisputed:           {StateInRepayment, StateCancelled, StateRefunded},
	StateClosed:             nil,
	StateCancelled:          nil,
	StateRefunded:           nil,
	StateDefaulted:          nil,
}

// States lists every lifecycle state.
func States() []State {
	return []State{
		StatePreApproved, StateOrderCreated, StateDeductionRequested, StateCustomerAuthorized,
		StateEscrowHeld, StateDisbursed, StateInRepayment, StateClosed,
		StateDisputed, StateCancelled, StateRefunded, StateDefaulted,
	}
}

func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Allowed returns the states reachable from s in one step.
func Allowed(from State) []State {
	out := make([]State, len(transitions[from]))
	copy(out, transitions[from])
	return out
}

func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminal(s State) bool {
	switch s {
	case StateClosed, StateCancelled, StateRefunded, StateDefaulted:
		return true
	}
	return false
}

// IsPreHold reports states in which no money has moved yet.
func IsPreHold(s State) bool {
	switch s {
	case StatePreApproved, StateOrderCreated, StateDeductionRequested, StateCustomerAuthorized:
		return true
	}
	return false
}

type IllegalTransitionError struct {
	ContractID string
	From       State
	To         State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("contract %s: illegal transition %s -> %s", e.ContractID, e.From, e.To)
}
func (e *IllegalTransitionError) Code() string { return apperr.CodeIllegalTransition }

// Transition moves c to the target state and appends an audit record.
// c is left untouched when the edge is not in the table.
func Transition(c *Contract, to State, reason, actor string, at time.Time) error {
	if !CanTransition(c.State, to) {
		return &IllegalTransitionError{ContractID: c.ContractID, From: c.State, To: to}
	}
	at = at.UTC()
	c.Transitions = append(c.Transitions, TransitionRecord{
		ContractID: c.ContractID,
		From:       c.State,
		To:         to,
		Reason:     reason,
		Actor:      actor,
		OccurredAt: at,
	})
	c.State = to
	c.StateUpdatedAt = at
	if to == StateDisbursed {
		c.FundedAt = &at
	}
	if IsTerminal(to) {
		c.ClosedAt = &at
	}
	return nil
}

// Require returns an IllegalTransitionError unless c is in one of the given states.
func Require(c *Contract, to State, states ...State) error {
	for _, s := range states {
		if c.State == s {
			return nil
		}
	}
	return &IllegalTransitionError{ContractID: c.ContractID, From: c.State, To: to}
}
