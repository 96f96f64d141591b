package mocks

import (
	"context"
	"math/big"
	"time"

	"github.com/ferreirogomes/aether/models"
	"github.com/ferreirogomes/aether/services"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"
)

// ChainGateway é uma implementação mock de services.ChainGateway.
type ChainGateway struct {
	mock.Mock
}

var _ services.ChainGateway = (*ChainGateway)(nil)

func (m *ChainGateway) GetEscrowRecord(ctx context.Context, escrowID *big.Int) (models.EscrowRecord, error) {
	args := m.Called(ctx, escrowID)
	return args.Get(0).(models.EscrowRecord), args.Error(1)
}

func (m *ChainGateway) SubmitEscrowAction(ctx context.Context, action services.EscrowAction, escrowID *big.Int) (common.Hash, error) {
	args := m.Called(ctx, action, escrowID)
	return args.Get(0).(common.Hash), args.Error(1)
}

func (m *ChainGateway) WaitForConfirmation(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	args := m.Called(ctx, txHash, timeout)
	receipt, _ := args.Get(0).(*types.Receipt)
	return receipt, args.Error(1)
}

func (m *ChainGateway) TransferNative(ctx context.Context, to common.Address, amountWei *big.Int) (common.Hash, error) {
	args := m.Called(ctx, to, amountWei)
	return args.Get(0).(common.Hash), args.Error(1)
}

func (m *ChainGateway) SubscribeEscrowEvents(ctx context.Context, sink chan<- models.EscrowEvent) (ethereum.Subscription, error) {
	args := m.Called(ctx, sink)
	sub, _ := args.Get(0).(ethereum.Subscription)
	return sub, args.Error(1)
}

func (m *ChainGateway) FilterEscrowEvents(ctx context.Context, fromBlock, toBlock uint64) ([]models.EscrowEvent, error) {
	args := m.Called(ctx, fromBlock, toBlock)
	evts, _ := args.Get(0).([]models.EscrowEvent)
	return evts, args.Error(1)
}

func (m *ChainGateway) LatestBlock(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}
