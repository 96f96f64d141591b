package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

func (s OrderSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

type OrderStatus string

const (
	OrderOpen   OrderStatus = "OPEN"
	OrderFilled OrderStatus = "FILLED"
)

// Order representa uma intenção de compra ou venda de tokens de um imóvel.
// O status muda apenas uma vez: OPEN -> FILLED.
type Order struct {
	ID              string          `db:"id" json:"id"`
	MakerAddress    string          `db:"maker_address" json:"maker_address"`
	PropertyAddress string          `db:"property_address" json:"property_address"`
	Side            OrderSide       `db:"side" json:"side"`
	Price           decimal.Decimal `db:"price" json:"price"`   // Preço por token em DNR
	Amount          decimal.Decimal `db:"amount" json:"amount"` // Quantidade de tokens
	FilledAmount    decimal.Decimal `db:"filled_amount" json:"filled_amount"`
	Status          OrderStatus     `db:"status" json:"status"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Parties devolve vendedor e comprador de uma execução contra esta ordem.
func (o Order) Parties(taker string) (seller, buyer string) {
	if o.Side == SideSell {
		return o.MakerAddress, taker
	}
	return taker, o.MakerAddress
}

// Notional é o valor pago pelo comprador (quantidade * preço).
func (o Order) Notional() decimal.Decimal {
	return o.Amount.Mul(o.Price)
}

// OrderFilter filtra a listagem do livro de ordens.
type OrderFilter struct {
	PropertyAddress string
	Side            OrderSide
	Status          OrderStatus
}
