package contract

import (
	"time"
)

type State string

const (
	StatePreApproved        State = "PRE_APPROVED"
	StateOrderCreated       State = "ORDER_CREATED"
	StateDeductionRequested State = "DEDUCTION_REQUESTED"
	StateCustomerAuthorized State = "CUSTOMER_AUTHORIZED"
	StateEscrowHeld         State = "ESCROW_HELD"
	StateDisbursed          State = "DISBURSED"
	StateInRepayment        State = "IN_REPAYMENT"
	StateClosed             State = "CLOSED"
	StateDisputed           State = "DISPUTED"
	StateCancelled          State = "CANCELLED"
	StateRefunded           State = "REFUNDED"
	StateDefaulted          State = "DEFAULTED"
)

// LedgerSync tracks confirmation by the downstream loan ledger, independent of State.
type LedgerSync string

const (
	LedgerSyncPending   LedgerSync = "PENDING"
	LedgerSyncConfirmed LedgerSync = "CONFIRMED"
	LedgerSyncFailed    LedgerSync = "FAILED"
)

type InstallmentStatus string

const (
	InstallmentPending        InstallmentStatus = "PENDING"
	InstallmentSentToEmployer InstallmentStatus = "SENT_TO_EMPLOYER"
	InstallmentDeducted       InstallmentStatus = "DEDUCTED"
	InstallmentPaid           InstallmentStatus = "PAID"
	InstallmentOverdue        InstallmentStatus = "OVERDUE"
)

type DeductionStatus string

const (
	DeductionPendingPayroll DeductionStatus = "PENDING_PAYROLL"
	DeductionSent           DeductionStatus = "SENT"
	DeductionExecuted       DeductionStatus = "EXECUTED"
	DeductionFailed         DeductionStatus = "FAILED"
)

type Contract struct {
	ID                 uint64     `gorm:"primaryKey;column:id" json:"-"`
	ContractID         string     `gorm:"size:32;uniqueIndex" json:"contract_id"`
	EmployeeID         string     `gorm:"size:32;index" json:"employee_id"`
	EmployerID         string     `gorm:"size:32;index" json:"employer_id"`
	MerchantID         string     `gorm:"size:32;index" json:"merchant_id"`
	LenderID           string     `gorm:"size:32;index" json:"lender_id"`
	ProductID          string     `gorm:"size:32" json:"product_id"`
	CustomerPhone      string     `gorm:"size:20" json:"customer_phone"`
	Principal          float64    `gorm:"type:decimal(18,2)" json:"principal"`
	TenorDays          int        `json:"tenor_days"`
	InstallmentCount   int        `json:"installment_count"`
	InterestRate       float64    `gorm:"type:decimal(8,6)" json:"interest_rate"`
	ProcessingFee      float64    `gorm:"type:decimal(18,2)" json:"processing_fee"`
	TotalPayable       float64    `gorm:"type:decimal(18,2)" json:"total_payable"`
	InstallmentAmount  float64    `gorm:"type:decimal(18,2)" json:"installment_amount"`
	TotalPaid          float64    `gorm:"type:decimal(18,2)" json:"total_paid"`
	TotalDue           float64    `gorm:"type:decimal(18,2)" json:"total_due"`
	State              State      `gorm:"size:32;index" json:"state"`
	RiskTier           string     `gorm:"size:8" json:"risk_tier"`
	AffordabilityScore float64    `json:"affordability_score"`
	ConfidenceScore    float64    `json:"confidence_score"`
	DecisionReasoning  string     `gorm:"type:text" json:"decision_reasoning"`
	AllocationStrategy string     `gorm:"size:32" json:"allocation_strategy"`
	AllocationReason   string     `gorm:"type:text" json:"allocation_reason"`
	IdempotencyKey     string     `gorm:"size:128;uniqueIndex" json:"-"`
	LedgerSync         LedgerSync `gorm:"size:16;index" json:"ledger_sync"`
	ExternalLoanID     string     `gorm:"size:64" json:"external_loan_id,omitempty"`
	Version            int64      `gorm:"not null;default:1" json:"version"`
	StateUpdatedAt     time.Time  `json:"state_updated_at"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	FundedAt           *time.Time `json:"funded_at,omitempty"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`

	Installments []Installment      `gorm:"-" json:"installments,omitempty"`
	Transitions  []TransitionRecord `gorm:"-" json:"transitions,omitempty"`
}

func (Contract) TableName() string { return "contracts" }

// Funded reports whether money has left escrow for this contract.
func (c *Contract) Funded() bool { return c.FundedAt != nil }

// NextUnpaid returns the lowest-numbered installment that is not fully paid.
func (c *Contract) NextUnpaid() *Installment {
	for i := range c.Installments {
		if c.Installments[i].Status != InstallmentPaid {
			return &c.Installments[i]
		}
	}
	return nil
}

func (c *Contract) AllPaid() bool { return len(c.Installments) > 0 && c.NextUnpaid() == nil }

func (c *Contract) HasOverdue() bool {
	for _, in := range c.Installments {
		if in.Status == InstallmentOverdue {
			return true
		}
	}
	return false
}

type Installment struct {
	ID            uint64            `gorm:"primaryKey;column:id" json:"-"`
	InstallmentID string            `gorm:"size:32;uniqueIndex" json:"installment_id"`
	ContractID    string            `gorm:"size:32;index" json:"contract_id"`
	Number        int               `json:"number"`
	DueDate       time.Time         `json:"due_date"`
	AmountDue     float64           `gorm:"type:decimal(18,2)" json:"amount_due"`
	AmountPaid    float64           `gorm:"type:decimal(18,2)" json:"amount_paid"`
	Status        InstallmentStatus `gorm:"size:24;index" json:"status"`
	PayrollCycle  string            `gorm:"size:7;index" json:"payroll_cycle"`
	PaidAt        *time.Time        `json:"paid_at,omitempty"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"-"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"-"`
}

func (Installment) TableName() string { return "installments" }

func (i Installment) Outstanding() float64 { return i.AmountDue - i.AmountPaid }

// TransitionRecord is an immutable audit record of one state change.
type TransitionRecord struct {
	ID         uint64    `gorm:"primaryKey;column:id" json:"-"`
	ContractID string    `gorm:"size:32;index" json:"contract_id"`
	From       State     `gorm:"column:from_state;size:32" json:"from"`
	To         State     `gorm:"column:to_state;size:32" json:"to"`
	Reason     string    `gorm:"type:text" json:"reason"`
	Actor      string    `gorm:"size:64" json:"actor"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (TransitionRecord) TableName() string { return "contract_transitions" }

type DeductionInstruction struct {
	ID                uint64          `gorm:"primaryKey;column:id" json:"-"`
	InstructionID     string          `gorm:"size:32;uniqueIndex" json:"instruction_id"`
	EmployeeID        string          `gorm:"size:32;index" json:"employee_id"`
	EmployerID        string          `gorm:"size:32;index:idx_deductions_employer_cycle" json:"employer_id"`
	ContractID        string          `gorm:"size:32;index" json:"contract_id"`
	InstallmentID     string          `gorm:"size:32;index" json:"installment_id"`
	InstallmentNumber int             `json:"installment_number"`
	MonthlyAmount     float64         `gorm:"type:decimal(18,2)" json:"monthly_amount"`
	PayrollCycle      string          `gorm:"size:7;index:idx_deductions_employer_cycle" json:"payroll_cycle"`
	Status            DeductionStatus `gorm:"size:24;index" json:"status"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DeductionInstruction) TableName() string { return "deduction_instructions" }
