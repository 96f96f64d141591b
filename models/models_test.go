package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestProperty_MonthlyYieldPool(t *testing.T) {
	p := Property{
		ValuationUSD: decimal.NewFromInt(1_000_000),
		YieldRate:    decimal.NewFromInt(12),
		TotalSupply:  decimal.NewFromInt(1000).Shift(TokenDecimals),
	}
	assert.True(t, decimal.NewFromInt(10_000).Equal(p.MonthlyYieldPool()))
	assert.True(t, decimal.NewFromInt(1000).Equal(p.SupplyUnits()))
}

func TestProperty_Validate(t *testing.T) {
	assert.NoError(t, Property{}.Validate())
	assert.ErrorIs(t, Property{ValuationUSD: decimal.NewFromInt(-1)}.Validate(), ErrNegativeValuation)
	assert.ErrorIs(t, Property{YieldRate: decimal.NewFromInt(-1)}.Validate(), ErrNegativeYieldRate)
}

func TestOrder_Parties(t *testing.T) {
	sell := Order{MakerAddress: "maker", Side: SideSell, Price: decimal.NewFromInt(10), Amount: decimal.NewFromInt(5)}
	seller, buyer := sell.Parties("taker")
	assert.Equal(t, "maker", seller)
	assert.Equal(t, "taker", buyer)
	assert.True(t, decimal.NewFromInt(50).Equal(sell.Notional()))

	buy := Order{MakerAddress: "maker", Side: SideBuy}
	seller, buyer = buy.Parties("taker")
	assert.Equal(t, "taker", seller)
	assert.Equal(t, "maker", buyer)

	assert.False(t, OrderSide("HOLD").Valid())
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "0xabcdef", NormalizeAddress("  0xAbCdEf "))
}

func TestSumTokens(t *testing.T) {
	invs := []Investment{{TokenAmount: decimal.NewFromInt(3)}, {TokenAmount: decimal.RequireFromString("0.5")}}
	assert.Equal(t, "3.5", SumTokens(invs).String())
	assert.True(t, SumTokens(nil).IsZero())
}
