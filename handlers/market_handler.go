package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ferreirogomes/aether/models"
	"github.com/ferreirogomes/aether/services"
	"github.com/ferreirogomes/aether/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const recentFillsLimit = 10

// TradeExecutor executa uma ordem aberta contra um taker.
type TradeExecutor interface {
	ExecuteTrade(ctx context.Context, orderID, takerAddress string) (services.TradeResult, error)
}

// MarketHandler lida com o livro de ordens do mercado secundário.
type MarketHandler struct {
	Store  storage.Store
	Trades TradeExecutor
	log    *zap.SugaredLogger
}

func NewMarketHandler(store storage.Store, trades TradeExecutor, log *zap.SugaredLogger) *MarketHandler {
	return &MarketHandler{Store: store, Trades: trades, log: log}
}

type ExecuteTradeRequest struct {
	OrderID      string `json:"orderId"`
	TakerAddress string `json:"takerAddress"`
}

func (r *ExecuteTradeRequest) Validate() error {
	if strings.TrimSpace(r.OrderID) == "" || strings.TrimSpace(r.TakerAddress) == "" {
		return validationError("orderId e takerAddress são obrigatórios")
	}
	return validAddress("takerAddress", r.TakerAddress)
}

// ExecuteTrade executa uma ordem aberta.
// POST /market/execute
func (h *MarketHandler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req ExecuteTradeRequest
	if err := decodeRequest(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.Trades.ExecuteTrade(r.Context(), req.OrderID, req.TakerAddress)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message": "Ordem executada com sucesso",
			"order":   result.Order,
		})
	case errors.Is(err, services.ErrOrderUnavailable):
		writeMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrInsufficientHoldings):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrSelfTrade), errors.Is(err, services.ErrInvalidAddress):
		writeMessage(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Errorw("erro ao executar ordem", "order_id", req.OrderID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Falha ao executar ordem")
	}
}

type CreateOrderRequest struct {
	MakerAddress    string           `json:"userAddress"`
	PropertyAddress string           `json:"propertyAddress"`
	Side            models.OrderSide `json:"type"`
	Price           decimal.Decimal  `json:"price"`
	Amount          decimal.Decimal  `json:"amount"`
}

func (r *CreateOrderRequest) Validate() error {
	if err := validAddress("userAddress", r.MakerAddress); err != nil {
		return err
	}
	if err := validAddress("propertyAddress", r.PropertyAddress); err != nil {
		return err
	}
	r.Side = models.OrderSide(strings.ToUpper(string(r.Side)))
	if !r.Side.Valid() {
		return validationError("type deve ser BUY ou SELL")
	}
	if err := positive("price", r.Price); err != nil {
		return err
	}
	return positive("amount", r.Amount)
}

// CreateOrder publica uma nova ordem aberta.
// POST /market/orders
func (h *MarketHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decodeRequest(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	order := models.Order{
		ID:              uuid.New().String(),
		MakerAddress:    models.NormalizeAddress(req.MakerAddress),
		PropertyAddress: models.NormalizeAddress(req.PropertyAddress),
		Side:            req.Side,
		Price:           req.Price,
		Amount:          req.Amount,
		FilledAmount:    decimal.Zero,
		Status:          models.OrderOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var propertyFound bool
	err := h.Store.InTx(r.Context(), func(q storage.Queries) error {
		var err error
		if _, propertyFound, err = q.GetProperty(r.Context(), order.PropertyAddress); err != nil || !propertyFound {
			return err
		}
		return q.CreateOrder(r.Context(), order)
	})
	if err != nil {
		h.log.Errorw("erro ao criar ordem", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Falha ao criar ordem")
		return
	}
	if !propertyFound {
		writeMessage(w, http.StatusNotFound, "Imóvel não encontrado")
		return
	}

	h.log.Infow("ordem criada", "order_id", order.ID, "side", order.Side, "property", order.PropertyAddress)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Ordem criada com sucesso",
		"order":   order,
	})
}

// ListOrders lista o livro de ordens. Sem status, lista as abertas.
// GET /market/orders?propertyAddress=&type=&status=
func (h *MarketHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.OrderFilter{
		PropertyAddress: models.NormalizeAddress(query.Get("propertyAddress")),
		Side:            models.OrderSide(strings.ToUpper(query.Get("type"))),
		Status:          models.OrderStatus(strings.ToUpper(query.Get("status"))),
	}
	if filter.Status == "" {
		filter.Status = models.OrderOpen
	}
	if filter.Side != "" && !filter.Side.Valid() {
		writeMessage(w, http.StatusBadRequest, "type deve ser BUY ou SELL")
		return
	}

	var orders []models.Order
	err := h.Store.InTx(r.Context(), func(q storage.Queries) error {
		var err error
		orders, err = q.ListOrders(r.Context(), filter)
		return err
	})
	if err != nil {
		h.log.Errorw("erro ao listar ordens", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Falha ao listar ordens")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

// RecentActivity devolve as últimas execuções.
// GET /market/activity
func (h *MarketHandler) RecentActivity(w http.ResponseWriter, r *http.Request) {
	var fills []models.Order
	err := h.Store.InTx(r.Context(), func(q storage.Queries) error {
		var err error
		fills, err = q.ListRecentFills(r.Context(), recentFillsLimit)
		return err
	})
	if err != nil {
		h.log.Errorw("erro ao listar atividade do mercado", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Falha ao listar atividade")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"activity": fills})
}
