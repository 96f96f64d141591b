package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/ferreirogomes/aether/models"

	"github.com/shopspring/decimal"
)

// MemoryStore é um ledger em memória com transações serializáveis: uma
// transação por vez, aplicada sobre uma cópia do estado e publicada no commit.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	properties  map[string]models.Property // por endereço
	orders      map[string]models.Order
	investments map[string]models.Investment
	payouts     []models.YieldPayout
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		properties:  map[string]models.Property{},
		orders:      map[string]models.Order{},
		investments: map[string]models.Investment{},
	}}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(work); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (m *memState) clone() *memState {
	c := &memState{
		properties:  make(map[string]models.Property, len(m.properties)),
		orders:      make(map[string]models.Order, len(m.orders)),
		investments: make(map[string]models.Investment, len(m.investments)),
		payouts:     append([]models.YieldPayout(nil), m.payouts...),
	}
	for k, v := range m.properties {
		c.properties[k] = v
	}
	for k, v := range m.orders {
		c.orders[k] = v
	}
	for k, v := range m.investments {
		c.investments[k] = v
	}
	return c
}

func (m *memState) GetProperty(_ context.Context, address string) (models.Property, bool, error) {
	p, ok := m.properties[address]
	return p, ok, nil
}

func (m *memState) SaveProperty(_ context.Context, p models.Property) error {
	if existing, ok := m.properties[p.Address]; ok {
		p.ID = existing.ID
		p.TotalSupply = existing.TotalSupply
		p.CreatedAt = existing.CreatedAt
	}
	m.properties[p.Address] = p
	return nil
}

func (m *memState) ListProperties(_ context.Context) ([]models.Property, error) {
	props := make([]models.Property, 0, len(m.properties))
	for _, p := range m.properties {
		props = append(props, p)
	}
	sort.Slice(props, func(i, j int) bool { return props[i].CreatedAt.Before(props[j].CreatedAt) })
	return props, nil
}

func (m *memState) CreateOrder(_ context.Context, o models.Order) error {
	m.orders[o.ID] = o
	return nil
}

func (m *memState) GetOrderForUpdate(_ context.Context, id string) (models.Order, bool, error) {
	o, ok := m.orders[id]
	return o, ok, nil
}

func (m *memState) UpdateOrder(_ context.Context, o models.Order) error {
	existing, ok := m.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	existing.FilledAmount = o.FilledAmount
	existing.Status = o.Status
	existing.UpdatedAt = o.UpdatedAt
	m.orders[o.ID] = existing
	return nil
}

func (m *memState) ListOrders(_ context.Context, f models.OrderFilter) ([]models.Order, error) {
	orders := []models.Order{}
	for _, o := range m.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.PropertyAddress != "" && o.PropertyAddress != f.PropertyAddress {
			continue
		}
		if f.Side != "" && o.Side != f.Side {
			continue
		}
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].Price.Equal(orders[j].Price) {
			if f.Side == models.SideBuy {
				return orders[i].Price.GreaterThan(orders[j].Price)
			}
			return orders[i].Price.LessThan(orders[j].Price)
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}

func (m *memState) ListRecentFills(_ context.Context, limit int) ([]models.Order, error) {
	orders := []models.Order{}
	for _, o := range m.orders {
		if o.Status == models.OrderFilled {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].UpdatedAt.After(orders[j].UpdatedAt) })
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (m *memState) GetHoldingsForUpdate(_ context.Context, holder, property string) ([]models.Investment, error) {
	invs := m.filterInvestments(func(inv models.Investment) bool {
		return inv.HolderAddress == holder && inv.PropertyAddress == property && inv.Status == models.InvestmentConfirmed
	})
	return invs, nil
}

func (m *memState) CreateInvestment(_ context.Context, inv models.Investment) error {
	for _, existing := range m.investments {
		if conflicts(existing, inv) {
			return ErrDuplicateTxHash
		}
	}
	m.investments[inv.ID] = inv
	return nil
}

// conflicts espelha as chaves únicas da tabela investments:
// (tx_hash, escrow_id) e escrow_id quando presente.
func conflicts(a, b models.Investment) bool {
	if a.ID == b.ID {
		return false
	}
	if a.EscrowID != nil && b.EscrowID != nil && *a.EscrowID == *b.EscrowID {
		return true
	}
	return a.TxHash == b.TxHash && escrowKey(a) == escrowKey(b)
}

func escrowKey(inv models.Investment) string {
	if inv.EscrowID == nil {
		return ""
	}
	return *inv.EscrowID
}

func (m *memState) UpdateInvestment(_ context.Context, inv models.Investment) error {
	existing, ok := m.investments[inv.ID]
	if !ok {
		return ErrNotFound
	}
	existing.TokenAmount = inv.TokenAmount
	existing.AmountPaid = inv.AmountPaid
	existing.Status = inv.Status
	existing.EscrowID = inv.EscrowID
	existing.UpdatedAt = inv.UpdatedAt
	for _, other := range m.investments {
		if conflicts(other, existing) {
			return ErrDuplicateTxHash
		}
	}
	m.investments[inv.ID] = existing
	return nil
}

func (m *memState) FindPendingInvestment(_ context.Context, holder, property, escrowID string) (models.Investment, bool, error) {
	pending := m.filterInvestments(func(inv models.Investment) bool {
		return inv.HolderAddress == holder && inv.PropertyAddress == property && inv.Status == models.InvestmentPending
	})
	if len(pending) == 0 {
		return models.Investment{}, false, nil
	}
	for _, inv := range pending {
		if inv.EscrowID != nil && *inv.EscrowID == escrowID {
			return inv, true, nil
		}
	}
	return pending[0], true, nil
}

func (m *memState) FindInvestmentByEscrow(_ context.Context, escrowID string) (models.Investment, bool, error) {
	for _, inv := range m.investments {
		if inv.EscrowID != nil && *inv.EscrowID == escrowID {
			return inv, true, nil
		}
	}
	return models.Investment{}, false, nil
}

func (m *memState) ListInvestmentsByTxHash(_ context.Context, txHash string) ([]models.Investment, error) {
	return m.filterInvestments(func(inv models.Investment) bool { return inv.TxHash == txHash }), nil
}

func (m *memState) ListInvestments(_ context.Context, property string, status models.InvestmentStatus) ([]models.Investment, error) {
	invs := m.filterInvestments(func(inv models.Investment) bool {
		return inv.PropertyAddress == property && inv.Status == status
	})
	sort.SliceStable(invs, func(i, j int) bool { return invs[i].HolderAddress < invs[j].HolderAddress })
	return invs, nil
}

func (m *memState) ListInvestmentsByHolder(_ context.Context, holder string) ([]models.Investment, error) {
	invs := m.filterInvestments(func(inv models.Investment) bool { return inv.HolderAddress == holder })
	for i, j := 0, len(invs)-1; i < j; i, j = i+1, j-1 {
		invs[i], invs[j] = invs[j], invs[i]
	}
	return invs, nil
}

func (m *memState) AppendPayout(_ context.Context, p models.YieldPayout) error {
	m.payouts = append(m.payouts, p)
	return nil
}

func (m *memState) ListPayoutsByHolder(_ context.Context, holder string) ([]models.YieldPayout, error) {
	payouts := []models.YieldPayout{}
	for i := len(m.payouts) - 1; i >= 0; i-- {
		if m.payouts[i].HolderAddress == holder {
			payouts = append(payouts, m.payouts[i])
		}
	}
	return payouts, nil
}

func (m *memState) PayoutTotals(_ context.Context) (models.PayoutTotals, error) {
	t := models.PayoutTotals{Properties: len(m.properties), TotalTVL: decimal.Zero, TotalPaidDNR: decimal.Zero}
	for _, p := range m.properties {
		t.TotalTVL = t.TotalTVL.Add(p.ValuationUSD)
	}
	holders := map[string]struct{}{}
	for _, inv := range m.investments {
		holders[inv.HolderAddress] = struct{}{}
	}
	t.Investors = len(holders)
	for _, p := range m.payouts {
		if p.Status == models.PayoutSuccess {
			t.TotalPaidDNR = t.TotalPaidDNR.Add(p.Amount)
		}
	}
	return t, nil
}

// filterInvestments devolve as linhas em ordem de criação.
func (m *memState) filterInvestments(keep func(models.Investment) bool) []models.Investment {
	invs := []models.Investment{}
	for _, inv := range m.investments {
		if keep(inv) {
			invs = append(invs, inv)
		}
	}
	sort.Slice(invs, func(i, j int) bool {
		if !invs[i].CreatedAt.Equal(invs[j].CreatedAt) {
			return invs[i].CreatedAt.Before(invs[j].CreatedAt)
		}
		return invs[i].ID < invs[j].ID
	})
	return invs
}
