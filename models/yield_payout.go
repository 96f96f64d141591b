package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutSuccess PayoutStatus = "SUCCESS"
	PayoutFailed  PayoutStatus = "FAILED"
)

// YieldPayout registra uma tentativa de pagamento de rendimento. Nunca é alterado.
type YieldPayout struct {
	ID              string          `db:"id" json:"id"`
	RunID           string          `db:"run_id" json:"run_id"`
	PropertyAddress string          `db:"property_address" json:"property_address"`
	HolderAddress   string          `db:"holder_address" json:"holder_address"`
	Amount          decimal.Decimal `db:"amount" json:"amount"` // Em DNR
	Status          PayoutStatus    `db:"status" json:"status"`
	TxHash          *string         `db:"tx_hash" json:"tx_hash,omitempty"` // Somente em SUCCESS
	DistributedAt   time.Time       `db:"distributed_at" json:"distributed_at"`
}

// PayoutTotals agrega estatísticas para o painel admin.
type PayoutTotals struct {
	Properties   int             `db:"properties" json:"active_properties"`
	TotalTVL     decimal.Decimal `db:"total_tvl" json:"total_tvl"`
	Investors    int             `db:"investors" json:"total_investors"`
	TotalPaidDNR decimal.Decimal `db:"total_paid" json:"total_yield_paid"`
}
