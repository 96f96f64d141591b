package storage

import (
	"context"
	"errors"

	"github.com/ferreirogomes/aether/models"
)

var (
	// ErrDuplicateTxHash indica que o investimento já existe: mesmo tx_hash e
	// escrow, ou o mesmo escrow em outra transação.
	ErrDuplicateTxHash = errors.New("transação já registrada")
	ErrNotFound        = errors.New("registro não encontrado")
)

// Queries reúne as operações por entidade do ledger. Dentro de InTx todas
// participam da mesma transação.
type Queries interface {
	GetProperty(ctx context.Context, address string) (models.Property, bool, error)
	SaveProperty(ctx context.Context, p models.Property) error
	ListProperties(ctx context.Context) ([]models.Property, error)

	CreateOrder(ctx context.Context, o models.Order) error
	// GetOrderForUpdate carrega a ordem e a trava até o fim da transação.
	GetOrderForUpdate(ctx context.Context, id string) (models.Order, bool, error)
	UpdateOrder(ctx context.Context, o models.Order) error
	ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error)
	ListRecentFills(ctx context.Context, limit int) ([]models.Order, error)

	// GetHoldingsForUpdate devolve as posições CONFIRMED de um holder em um
	// imóvel, travadas, da mais antiga para a mais nova.
	GetHoldingsForUpdate(ctx context.Context, holder, property string) ([]models.Investment, error)
	CreateInvestment(ctx context.Context, inv models.Investment) error
	UpdateInvestment(ctx context.Context, inv models.Investment) error
	// FindPendingInvestment procura o investimento PENDING do par (holder, imóvel),
	// preferindo o do mesmo escrow.
	FindPendingInvestment(ctx context.Context, holder, property, escrowID string) (models.Investment, bool, error)
	// FindInvestmentByEscrow busca o investimento criado por um escrow, travado.
	FindInvestmentByEscrow(ctx context.Context, escrowID string) (models.Investment, bool, error)
	// ListInvestmentsByTxHash devolve, travadas, as linhas de uma transação.
	// Uma transação pode iniciar mais de um escrow.
	ListInvestmentsByTxHash(ctx context.Context, txHash string) ([]models.Investment, error)
	ListInvestments(ctx context.Context, property string, status models.InvestmentStatus) ([]models.Investment, error)
	ListInvestmentsByHolder(ctx context.Context, holder string) ([]models.Investment, error)

	AppendPayout(ctx context.Context, p models.YieldPayout) error
	ListPayoutsByHolder(ctx context.Context, holder string) ([]models.YieldPayout, error)
	PayoutTotals(ctx context.Context) (models.PayoutTotals, error)
}

// Store é o ledger persistente. InTx executa fn atomicamente: qualquer erro
// desfaz todas as alterações feitas dentro dela.
type Store interface {
	InTx(ctx context.Context, fn func(q Queries) error) error
	Close() error
}
