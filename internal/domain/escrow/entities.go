package escrow

import (
	"context"
	"time"
)

type Kind string

const (
	KindHold    Kind = "HOLD"
	KindRelease Kind = "RELEASE"
	KindRefund  Kind = "REFUND"
)

// Transaction is the internal record of a confirmed escrow gateway call.
type Transaction struct {
	ID           uint64    `gorm:"primaryKey;column:id" json:"-"`
	TxnID        string    `gorm:"size:32;uniqueIndex" json:"txn_id"`
	ContractID   string    `gorm:"size:32;index" json:"contract_id"`
	Kind         Kind      `gorm:"size:16" json:"kind"`
	Amount       float64   `gorm:"type:decimal(18,2)" json:"amount"`
	GatewayTxnID string    `gorm:"size:64" json:"gateway_txn_id"`
	Reference    string    `gorm:"size:128;index" json:"reference"`
	PeriodKey    string    `gorm:"size:7;index" json:"period_key"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Transaction) TableName() string { return "escrow_transactions" }

type Repository interface {
	Create(ctx context.Context, t *Transaction) error
	ListByPeriod(ctx context.Context, periodKey string) ([]Transaction, error)
	ListByContract(ctx context.Context, contractID string) ([]Transaction, error)
}
