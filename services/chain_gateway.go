package services

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ferreirogomes/aether/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrUnconfirmed indica que a transação não foi incluída dentro do prazo.
	// Não é falha: o estado fica como está para reconciliação posterior.
	ErrUnconfirmed             = errors.New("transação não confirmada dentro do prazo")
	ErrTxReverted              = errors.New("transação revertida pela rede")
	ErrSubscriptionUnsupported = errors.New("endpoint RPC não suporta assinaturas de eventos")
)

// EscrowAction é uma função do contrato EscrowManager que o admin pode chamar.
type EscrowAction string

const (
	ConfirmBySeller EscrowAction = "confirmEscrowBySeller"
	ConfirmByAdmin  EscrowAction = "confirmEscrowByAdmin"
)

// ChainGateway encapsula as chamadas ao nó da rede (RPC JSON).
type ChainGateway interface {
	GetEscrowRecord(ctx context.Context, escrowID *big.Int) (models.EscrowRecord, error)
	SubmitEscrowAction(ctx context.Context, action EscrowAction, escrowID *big.Int) (common.Hash, error)
	// WaitForConfirmation devolve ErrUnconfirmed quando o timeout expira.
	WaitForConfirmation(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error)
	TransferNative(ctx context.Context, to common.Address, amountWei *big.Int) (common.Hash, error)
	SubscribeEscrowEvents(ctx context.Context, sink chan<- models.EscrowEvent) (ethereum.Subscription, error)
	FilterEscrowEvents(ctx context.Context, fromBlock, toBlock uint64) ([]models.EscrowEvent, error)
	LatestBlock(ctx context.Context) (uint64, error)
}
