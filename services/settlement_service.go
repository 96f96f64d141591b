package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ferreirogomes/aether/metrics"
	"github.com/ferreirogomes/aether/models"
	"github.com/ferreirogomes/aether/storage"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrOrderUnavailable     = errors.New("ordem não encontrada ou já executada")
	ErrInsufficientHoldings = errors.New("vendedor não possui tokens suficientes")
	ErrSelfTrade            = errors.New("comprador e vendedor não podem ser o mesmo endereço")
	ErrInvalidAddress       = errors.New("endereço inválido")
)

// TradeResult é o resultado de uma execução: ordem preenchida e posições alteradas.
type TradeResult struct {
	Order          models.Order        `json:"order"`
	SellerHoldings []models.Investment `json:"seller_holdings"`
	BuyerHolding   models.Investment   `json:"buyer_holding"`
}

// SettlementService executa ordens casadas contra o ledger, sem tocar a rede:
// as posições negociadas já foram confirmadas pelo escrow.
type SettlementService struct {
	Store   storage.Store
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewSettlementService(store storage.Store, log *zap.SugaredLogger, m *metrics.Metrics) *SettlementService {
	return &SettlementService{Store: store, log: log, metrics: m, now: time.Now}
}

// ExecuteTrade preenche a ordem orderID com takerAddress como contraparte.
// Tudo roda em uma única transação: qualquer falha desfaz débito, crédito e ordem.
func (s *SettlementService) ExecuteTrade(ctx context.Context, orderID, takerAddress string) (TradeResult, error) {
	if !common.IsHexAddress(takerAddress) {
		return TradeResult{}, fmt.Errorf("%w: %q", ErrInvalidAddress, takerAddress)
	}
	taker := models.NormalizeAddress(takerAddress)

	var result TradeResult
	err := s.Store.InTx(ctx, func(q storage.Queries) error {
		order, found, err := q.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !found || order.Status != models.OrderOpen {
			return ErrOrderUnavailable
		}
		if order.MakerAddress == taker {
			return ErrSelfTrade
		}

		seller, buyer := order.Parties(taker)
		property := order.PropertyAddress
		qty := order.Amount
		now := s.now().UTC()

		// Trava as posições sempre na mesma ordem de endereço para evitar deadlock
		// entre execuções opostas do mesmo par.
		holdings := map[string][]models.Investment{}
		for _, addr := range lockOrder(seller, buyer) {
			rows, err := q.GetHoldingsForUpdate(ctx, addr, property)
			if err != nil {
				return err
			}
			holdings[addr] = rows
		}

		sellerRows := holdings[seller]
		if models.SumTokens(sellerRows).LessThan(qty) {
			return ErrInsufficientHoldings
		}

		debited, err := debitHoldings(ctx, q, sellerRows, qty, now)
		if err != nil {
			return err
		}

		credited, err := creditHolding(ctx, q, holdings[buyer], buyer, property, qty, order.Notional(), now)
		if err != nil {
			return err
		}

		order.Status = models.OrderFilled
		order.FilledAmount = qty
		order.UpdatedAt = now
		if err := q.UpdateOrder(ctx, order); err != nil {
			return err
		}

		result = TradeResult{Order: order, SellerHoldings: debited, BuyerHolding: credited}
		return nil
	})
	if err != nil {
		s.metrics.Trade(tradeResultLabel(err))
		s.log.Warnw("falha na execução da ordem", "order_id", orderID, "taker", taker, "error", err)
		return TradeResult{}, err
	}

	s.metrics.Trade("filled")
	s.log.Infow("ordem executada",
		"order_id", orderID,
		"property", result.Order.PropertyAddress,
		"side", result.Order.Side,
		"amount", result.Order.FilledAmount.String(),
		"price", result.Order.Price.String(),
		"taker", taker)
	return result, nil
}

// debitHoldings consome qty das posições do vendedor, da mais antiga para a mais nova.
func debitHoldings(ctx context.Context, q storage.Queries, rows []models.Investment, qty decimal.Decimal, now time.Time) ([]models.Investment, error) {
	remaining := qty
	var touched []models.Investment
	for _, row := range rows {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(row.TokenAmount, remaining)
		if !take.IsPositive() {
			continue
		}
		row.TokenAmount = row.TokenAmount.Sub(take)
		row.UpdatedAt = now
		if err := q.UpdateInvestment(ctx, row); err != nil {
			return nil, err
		}
		remaining = remaining.Sub(take)
		touched = append(touched, row)
	}
	if remaining.IsPositive() {
		return nil, ErrInsufficientHoldings
	}
	return touched, nil
}

// creditHolding credita o comprador na posição mais antiga, ou cria uma nova.
func creditHolding(ctx context.Context, q storage.Queries, rows []models.Investment, buyer, property string,
	qty, paid decimal.Decimal, now time.Time) (models.Investment, error) {
	if len(rows) > 0 {
		row := rows[0]
		row.TokenAmount = row.TokenAmount.Add(qty)
		row.AmountPaid = row.AmountPaid.Add(paid)
		row.UpdatedAt = now
		return row, q.UpdateInvestment(ctx, row)
	}

	row := models.Investment{
		ID:              uuid.New().String(),
		HolderAddress:   buyer,
		PropertyAddress: property,
		TokenAmount:     qty,
		AmountPaid:      paid,
		Status:          models.InvestmentConfirmed,
		TxHash:          "offchain:" + uuid.New().String(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return row, q.CreateInvestment(ctx, row)
}

func lockOrder(a, b string) []string {
	if a < b {
		return []string{a, b}
	}
	return []string{b, a}
}

func tradeResultLabel(err error) string {
	switch {
	case errors.Is(err, ErrOrderUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInsufficientHoldings):
		return "insufficient"
	case errors.Is(err, ErrSelfTrade):
		return "self_trade"
	default:
		return "error"
	}
}
