package spending

import (
	"github.com/shopspring/decimal"
)

// Batch describes a multi-recipient payment of which the validated amount is
// one item.
type Batch struct {
	// RecipientCount is the number of recipients in the batch.
	RecipientCount int `json:"recipient_count"`

	// Total is the aggregate value of the batch as a decimal string.
	Total string `json:"total"`
}

// Record is the spending of one token on one day.
type Record struct {
	Token  string          `json:"token"`
	Day    string          `json:"day"`
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"transaction_count"`
}

// Total is the aggregate spending across all tokens on one day.
type Total struct {
	Day    string          `json:"day"`
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"transaction_count"`
}

// Allowance is a projection of the limits that apply to a token today.
// Invalid (null) fields mean the corresponding ceiling is not configured.
type Allowance struct {
	Token string `json:"token"`
	Day   string `json:"day"`

	// PerTransaction is the per-payment ceiling. When null the token is denied.
	PerTransaction decimal.NullDecimal `json:"per_transaction"`

	// DailyLimit and DailyRemaining describe the per-token daily ceiling.
	DailyLimit     decimal.NullDecimal `json:"daily_limit"`
	DailyRemaining decimal.NullDecimal `json:"daily_remaining"`

	// TotalLimit and TotalRemaining describe the aggregate daily ceiling.
	TotalLimit     decimal.NullDecimal `json:"total_limit"`
	TotalRemaining decimal.NullDecimal `json:"total_remaining"`

	// Spent is the amount already charged to the token today.
	Spent decimal.Decimal `json:"spent"`
}

// Snapshot is a serializable copy of the ledger.
type Snapshot struct {
	Day    string   `json:"day"`
	Tokens []Record `json:"tokens"`
	Total  Total    `json:"total"`
}
