package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TokenDecimals é a escala (10^18) usada pelos contratos de token dos imóveis.
const TokenDecimals = 18

var (
	ErrNegativeValuation = errors.New("avaliação do imóvel não pode ser negativa")
	ErrNegativeYieldRate = errors.New("taxa de rendimento não pode ser negativa")
)

// Property representa um imóvel tokenizado.
type Property struct {
	ID           string          `db:"id" json:"id"`
	Address      string          `db:"address" json:"address"` // Endereço do contrato do token
	Title        string          `db:"title" json:"title"`
	Symbol       string          `db:"symbol" json:"symbol"`
	ValuationUSD decimal.Decimal `db:"valuation_usd" json:"valuation_usd"`
	TotalSupply  decimal.Decimal `db:"total_supply" json:"total_supply"` // Em unidades base (18 casas)
	YieldRate    decimal.Decimal `db:"yield_rate" json:"yield_rate"`     // Percentual anual
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Validate verifica os campos mutáveis pelo admin.
func (p Property) Validate() error {
	if p.ValuationUSD.IsNegative() {
		return ErrNegativeValuation
	}
	if p.YieldRate.IsNegative() {
		return ErrNegativeYieldRate
	}
	return nil
}

// SupplyUnits devolve o supply total em tokens inteiros (supply / 10^18).
func (p Property) SupplyUnits() decimal.Decimal {
	return p.TotalSupply.Shift(-TokenDecimals)
}

// MonthlyYieldPool calcula o pool mensal: avaliação * (taxa / 100) / 12.
// Considera 1 USD = 1 DNR.
func (p Property) MonthlyYieldPool() decimal.Decimal {
	annual := p.ValuationUSD.Mul(p.YieldRate).Div(decimal.NewFromInt(100))
	return annual.Div(decimal.NewFromInt(12))
}
