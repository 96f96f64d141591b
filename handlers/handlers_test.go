package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ferreirogomes/aether/handlers"
	"github.com/ferreirogomes/aether/models"
	"github.com/ferreirogomes/aether/services"
	"github.com/ferreirogomes/aether/storage"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	addrA    = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	addrB    = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	property = "0x1111111111111111111111111111111111111111"
)

type MockTradeExecutor struct {
	mock.Mock
}

func (m *MockTradeExecutor) ExecuteTrade(ctx context.Context, orderID, takerAddress string) (services.TradeResult, error) {
	args := m.Called(orderID, takerAddress)
	return args.Get(0).(services.TradeResult), args.Error(1)
}

type MockYieldDistributor struct {
	mock.Mock
}

func (m *MockYieldDistributor) Trigger(propertyAddress string) { m.Called(propertyAddress) }
func (m *MockYieldDistributor) TriggerAll()                     { m.Called() }

type testServer struct {
	store   *storage.MemoryStore
	trades  handlers.TradeExecutor
	yield   *MockYieldDistributor
	handler http.Handler
}

func newTestServer(t *testing.T, trades handlers.TradeExecutor) *testServer {
	t.Helper()
	log := zap.NewNop().Sugar()
	store := storage.NewMemoryStore()
	if trades == nil {
		trades = services.NewSettlementService(store, log, nil)
	}
	yield := new(MockYieldDistributor)
	reg := prometheus.NewRegistry()
	return &testServer{
		store:  store,
		trades: trades,
		yield:  yield,
		handler: handlers.NewRouter(handlers.RouterConfig{
			Market:         handlers.NewMarketHandler(store, trades, log),
			Properties:     handlers.NewPropertyHandler(store, yield, log),
			Investments:    handlers.NewInvestmentHandler(store, log),
			Gatherer:       reg,
			AllowedOrigins: []string{"*"},
		}),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) seedProperty(t *testing.T) {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/properties", map[string]interface{}{
		"address":      property,
		"title":        "Edifício Aurora",
		"symbol":       "AUR",
		"valuationUSD": "1000000",
		"totalSupply":  "1000000000000000000000",
		"yieldRate":    "12",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

func (s *testServer) seedHolding(t *testing.T, holder, amount string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, s.store.InTx(context.Background(), func(q storage.Queries) error {
		return q.CreateInvestment(context.Background(), models.Investment{
			ID:              uuid.New().String(),
			HolderAddress:   holder,
			PropertyAddress: property,
			TokenAmount:     decimal.RequireFromString(amount),
			Status:          models.InvestmentConfirmed,
			TxHash:          "0x" + uuid.New().String(),
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)
	rr := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	rr := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestExecuteTrade_EndToEnd(t *testing.T) {
	s := newTestServer(t, nil)
	s.seedProperty(t)
	s.seedHolding(t, addrA, "100")

	rr := s.do(t, http.MethodPost, "/market/orders", map[string]interface{}{
		"userAddress":     addrA,
		"propertyAddress": property,
		"type":            "sell",
		"price":           "10",
		"amount":          "50",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var order models.Order
	require.NoError(t, json.Unmarshal(decodeBody(t, rr)["order"], &order))
	assert.Equal(t, models.SideSell, order.Side)

	rr = s.do(t, http.MethodPost, "/market/execute", map[string]string{"orderId": order.ID, "takerAddress": addrB})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var filled models.Order
	require.NoError(t, json.Unmarshal(decodeBody(t, rr)["order"], &filled))
	assert.Equal(t, models.OrderFilled, filled.Status)
	assert.True(t, decimal.NewFromInt(50).Equal(filled.FilledAmount))

	rr = s.do(t, http.MethodPost, "/market/execute", map[string]string{"orderId": order.ID, "takerAddress": addrB})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(t, http.MethodGet, "/market/activity", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var fills []models.Order
	require.NoError(t, json.Unmarshal(decodeBody(t, rr)["activity"], &fills))
	require.Len(t, fills, 1)
	assert.Equal(t, order.ID, fills[0].ID)

	rr = s.do(t, http.MethodGet, "/investments/user/"+addrB, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var invs []models.Investment
	require.NoError(t, json.Unmarshal(decodeBody(t, rr)["investments"], &invs))
	require.Len(t, invs, 1)
	assert.True(t, decimal.NewFromInt(500).Equal(invs[0].AmountPaid))
}

func TestExecuteTrade_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"indisponível", services.ErrOrderUnavailable, http.StatusNotFound},
		{"saldo insuficiente", services.ErrInsufficientHoldings, http.StatusConflict},
		{"auto-negociação", services.ErrSelfTrade, http.StatusBadRequest},
		{"erro interno", errors.New("conexão perdida"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trades := new(MockTradeExecutor)
			trades.On("ExecuteTrade", "ordem-1", addrB).Return(services.TradeResult{}, tc.err)
			s := newTestServer(t, trades)

			rr := s.do(t, http.MethodPost, "/market/execute", map[string]string{"orderId": "ordem-1", "takerAddress": addrB})
			assert.Equal(t, tc.code, rr.Code)
			assert.Contains(t, decodeBody(t, rr), "message")
		})
	}
}

func TestExecuteTrade_ValidationHappensBeforeExecution(t *testing.T) {
	trades := new(MockTradeExecutor)
	s := newTestServer(t, trades)

	for _, body := range []interface{}{
		map[string]string{"orderId": "ordem-1"},
		map[string]string{"takerAddress": addrB},
		map[string]string{"orderId": "ordem-1", "takerAddress": "não-é-endereço"},
		"lixo",
	} {
		rr := s.do(t, http.MethodPost, "/market/execute", body)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	}
	trades.AssertNotCalled(t, "ExecuteTrade", mock.Anything, mock.Anything)
}

func TestListOrders_FiltersAndSorts(t *testing.T) {
	s := newTestServer(t, nil)
	s.seedProperty(t)
	for _, price := range []string{"12", "8", "10"} {
		rr := s.do(t, http.MethodPost, "/market/orders", map[string]interface{}{
			"userAddress": addrA, "propertyAddress": property, "type": "BUY", "price": price, "amount": "1",
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}
	rr := s.do(t, http.MethodPost, "/market/orders", map[string]interface{}{
		"userAddress": addrA, "propertyAddress": property, "type": "SELL", "price": "20", "amount": "1",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = s.do(t, http.MethodGet, "/market/orders?type=BUY&propertyAddress="+property, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var orders []models.Order
	require.NoError(t, json.Unmarshal(decodeBody(t, rr)["orders"], &orders))
	require.Len(t, orders, 3)
	assert.Equal(t, "12", orders[0].Price.String())
	assert.Equal(t, "10", orders[1].Price.String())
	assert.Equal(t, "8", orders[2].Price.String())

	rr = s.do(t, http.MethodGet, "/market/orders?type=HOLD", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateOrder_UnknownPropertyAndBadInput(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.do(t, http.MethodPost, "/market/orders", map[string]interface{}{
		"userAddress": addrA, "propertyAddress": property, "type": "SELL", "price": "1", "amount": "1",
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(t, http.MethodPost, "/market/orders", map[string]interface{}{
		"userAddress": addrA, "propertyAddress": property, "type": "SELL", "price": "1", "amount": "-1",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDistributeYield_TriggersInBackground(t *testing.T) {
	s := newTestServer(t, nil)
	s.yield.On("Trigger", property).Return()
	s.yield.On("TriggerAll").Return()

	rr := s.do(t, http.MethodPost, "/properties/yield-distribute", map[string]string{"propertyAddress": property})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, decodeBody(t, rr), "message")

	rr = s.do(t, http.MethodPost, "/properties/yield-distribute", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, "/properties/yield-distribute-all", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	s.yield.AssertNumberOfCalls(t, "Trigger", 1)
	s.yield.AssertNumberOfCalls(t, "TriggerAll", 1)
}

func TestProperties_GetUpdateAndStats(t *testing.T) {
	s := newTestServer(t, nil)
	s.seedProperty(t)

	rr := s.do(t, http.MethodPost, "/properties", map[string]interface{}{
		"address": property, "title": "Outro", "symbol": "OUT", "totalSupply": "1",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, http.MethodGet, "/properties/"+property, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodGet, "/properties/0x9999999999999999999999999999999999999999", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(t, http.MethodPatch, "/properties/"+property, map[string]string{"yieldRate": "-1"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPatch, "/properties/"+property, map[string]string{"valuationUSD": "2000000"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var p models.Property
	require.NoError(t, json.Unmarshal(decodeBody(t, rr)["property"], &p))
	assert.Equal(t, "2000000", p.ValuationUSD.String())
	assert.Equal(t, "12", p.YieldRate.String())

	s.seedHolding(t, addrA, "10")
	rr = s.do(t, http.MethodGet, "/properties/admin/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stats models.PayoutTotals
	require.NoError(t, json.Unmarshal(decodeBody(t, rr)["stats"], &stats))
	assert.Equal(t, 1, stats.Properties)
	assert.Equal(t, 1, stats.Investors)
	assert.Equal(t, "2000000", stats.TotalTVL.String())
}

func TestRecordInvestment_DuplicateTxHash(t *testing.T) {
	s := newTestServer(t, nil)
	body := map[string]string{
		"userAddress":     addrA,
		"propertyAddress": property,
		"tokenAmount":     "5",
		"dinarPaid":       "50",
		"txHash":          "0xdeadbeef",
	}

	rr := s.do(t, http.MethodPost, "/investments/record", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var inv models.Investment
	require.NoError(t, json.Unmarshal(decodeBody(t, rr)["investment"], &inv))
	assert.Equal(t, models.InvestmentPending, inv.Status)

	rr = s.do(t, http.MethodPost, "/investments/record", body)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, http.MethodGet, "/investments/payouts/user/"+addrA, nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRecordInvestment_ConflictsWithEscrowRow(t *testing.T) {
	s := newTestServer(t, nil)
	escrowID := "42"
	now := time.Now().UTC()
	require.NoError(t, s.store.InTx(context.Background(), func(q storage.Queries) error {
		return q.CreateInvestment(context.Background(), models.Investment{
			ID:              uuid.New().String(),
			HolderAddress:   addrA,
			PropertyAddress: property,
			TokenAmount:     decimal.NewFromInt(5),
			AmountPaid:      decimal.NewFromInt(50),
			Status:          models.InvestmentPending,
			TxHash:          "0xcafe",
			EscrowID:        &escrowID,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}))

	rr := s.do(t, http.MethodPost, "/investments/record", map[string]string{
		"userAddress":     addrA,
		"propertyAddress": property,
		"tokenAmount":     "5",
		"dinarPaid":       "50",
		"txHash":          "0xcafe",
	})
	assert.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())
}
