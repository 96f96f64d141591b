package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvestmentStatus string

const (
	InvestmentPending   InvestmentStatus = "PENDING"
	InvestmentConfirmed InvestmentStatus = "CONFIRMED"
	InvestmentFailed    InvestmentStatus = "FAILED"
)

// Investment é a posição (holding) de um endereço em um imóvel.
// Linhas PENDING vêm do escrow; liquidações off-chain criam CONFIRMED direto.
type Investment struct {
	ID              string           `db:"id" json:"id"`
	HolderAddress   string           `db:"holder_address" json:"holder_address"`
	PropertyAddress string           `db:"property_address" json:"property_address"`
	TokenAmount     decimal.Decimal  `db:"token_amount" json:"token_amount"`
	AmountPaid      decimal.Decimal  `db:"amount_paid" json:"amount_paid"` // DNR acumulado
	Status          InvestmentStatus `db:"status" json:"status"`
	TxHash          string           `db:"tx_hash" json:"tx_hash"`
	EscrowID        *string          `db:"escrow_id" json:"escrow_id,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// SumTokens soma os tokens de um conjunto de posições.
func SumTokens(invs []Investment) decimal.Decimal {
	total := decimal.Zero
	for _, inv := range invs {
		total = total.Add(inv.TokenAmount)
	}
	return total
}
