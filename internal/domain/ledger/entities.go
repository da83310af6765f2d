package ledger

import (
	"errors"
	"fmt"
	"time"

	"payroll-bnpl/pkg/id"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EntryType string

const (
	TypeDisbursement EntryType = "DISBURSEMENT"
	TypeRepayment    EntryType = "REPAYMENT"
	TypeFee          EntryType = "FEE"
	TypeReversal     EntryType = "REVERSAL"
)

const (
	AccountEscrow          = "escrow"
	AccountPlatformFee     = "platform_fee"
	AccountPayrollClearing = "payroll_clearing"
)

func LenderAccount(lenderID string) string     { return "lender:" + lenderID }
func MerchantAccount(merchantID string) string { return "merchant:" + merchantID }

var (
	ErrUnbalanced = errors.New("ledger entries do not net to zero")
	ErrEmptyBatch = errors.New("ledger batch is empty")
)

// Entry is append-only. Entries sharing an EventID describe one economic event.
type Entry struct {
	ID         uint64    `gorm:"primaryKey;column:id" json:"-"`
	EntryID    string    `gorm:"size:32;uniqueIndex" json:"entry_id"`
	EventID    string    `gorm:"size:36;index" json:"event_id"`
	ContractID string    `gorm:"size:32;index" json:"contract_id"`
	Type       EntryType `gorm:"size:16" json:"type"`
	Amount     float64   `gorm:"type:decimal(18,2)" json:"amount"`
	Account    string    `gorm:"size:64;index" json:"account"`
	Reference  string    `gorm:"size:128" json:"reference"`
	Timestamp  time.Time `json:"timestamp"`
}

func (Entry) TableName() string { return "ledger_entries" }

type Posting struct {
	Type    EntryType
	Account string
	Amount  float64
}

// NewEvent groups postings under one event id.
func NewEvent(contractID, reference string, at time.Time, postings ...Posting) []Entry {
	eventID := uuid.NewString()
	out := make([]Entry, 0, len(postings))
	for _, p := range postings {
		out = append(out, Entry{
			EntryID:    id.NewID32(),
			EventID:    eventID,
			ContractID: contractID,
			Type:       p.Type,
			Amount:     p.Amount,
			Account:    p.Account,
			Reference:  reference,
			Timestamp:  at.UTC(),
		})
	}
	return out
}

// CheckBalanced verifies that every event in the batch nets to zero.
func CheckBalanced(entries []Entry) error {
	if len(entries) == 0 {
		return ErrEmptyBatch
	}
	sums := map[string]decimal.Decimal{}
	for _, e := range entries {
		sums[e.EventID] = sums[e.EventID].Add(decimal.NewFromFloat(e.Amount))
	}
	for ev, sum := range sums {
		if !sum.IsZero() {
			return fmt.Errorf("%w: event %s off by %s", ErrUnbalanced, ev, sum.String())
		}
	}
	return nil
}

// Balance sums the signed amounts posted to account.
func Balance(entries []Entry, account string) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		if e.Account == account {
			sum = sum.Add(decimal.NewFromFloat(e.Amount))
		}
	}
	return sum
}
