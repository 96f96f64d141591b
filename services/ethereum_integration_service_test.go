package services_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ferreirogomes/aether/models"
	"github.com/ferreirogomes/aether/services"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	adminKey      = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	escrowAddress = "0x2222222222222222222222222222222222222222"
)

var testChainID = big.NewInt(1337)

// fakeBackend simula um nó EVM em memória.
type fakeBackend struct {
	mu       sync.Mutex
	nonce    uint64
	sent     []*types.Transaction
	sendErr  error
	receipts map[common.Hash]*types.Receipt
	logs     []types.Log
	callOut  []byte
	block    uint64
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return f.callOut, nil
}

func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return f.logs, nil
}

func (f *fakeBackend) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, rpc.ErrNotificationsUnsupported
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		err := f.sendErr
		f.sendErr = nil
		return err
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(params.GWei), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 50_000, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	return f.block, nil
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return testChainID, nil
}

func newGateway(t *testing.T, backend *fakeBackend) *services.EthereumIntegrationService {
	t.Helper()
	gw, err := services.NewEthereumIntegrationServiceWithBackend(backend, testChainID, adminKey, escrowAddress, zap.NewNop().Sugar(), nil)
	require.NoError(t, err)
	return gw
}

func initiatedLog(t *testing.T, id int64, buyer, seller common.Address, tokens, dinar *big.Int) types.Log {
	t.Helper()
	contract := services.EscrowABI()
	ev := contract.Events[string(models.EscrowInitiated)]
	data, err := ev.Inputs.NonIndexed().Pack(tokens, dinar)
	require.NoError(t, err)
	return types.Log{
		Address: common.HexToAddress(escrowAddress),
		Topics: []common.Hash{
			ev.ID,
			common.BigToHash(big.NewInt(id)),
			common.BytesToHash(buyer.Bytes()),
			common.BytesToHash(seller.Bytes()),
		},
		Data:        data,
		BlockNumber: 10,
		TxHash:      common.HexToHash("0xabc"),
		Index:       2,
	}
}

func releasedLog(id int64, removed bool) types.Log {
	ev := services.EscrowABI().Events[string(models.EscrowReleased)]
	return types.Log{
		Address:     common.HexToAddress(escrowAddress),
		Topics:      []common.Hash{ev.ID, common.BigToHash(big.NewInt(id))},
		BlockNumber: 11,
		TxHash:      common.HexToHash("0xdef"),
		Removed:     removed,
	}
}

func TestNewGateway_RejectsBadInput(t *testing.T) {
	_, err := services.NewEthereumIntegrationServiceWithBackend(&fakeBackend{}, testChainID, "zz", escrowAddress, zap.NewNop().Sugar(), nil)
	assert.Error(t, err)

	_, err = services.NewEthereumIntegrationServiceWithBackend(&fakeBackend{}, testChainID, adminKey, "escrow", zap.NewNop().Sugar(), nil)
	assert.Error(t, err)
}

func TestGetEscrowRecord_DecodesTuple(t *testing.T) {
	buyer := common.HexToAddress(addrB)
	seller := common.HexToAddress(addrA)
	token := common.HexToAddress(property)
	out, err := services.EscrowABI().Methods["escrows"].Outputs.Pack(
		buyer, seller, token, big.NewInt(10), big.NewInt(500), true, false, false, uint8(models.EscrowStateInitiated))
	require.NoError(t, err)

	gw := newGateway(t, &fakeBackend{callOut: out})
	rec, err := gw.GetEscrowRecord(context.Background(), big.NewInt(1))
	require.NoError(t, err)

	assert.Equal(t, addrB, rec.Buyer)
	assert.Equal(t, addrA, rec.Seller)
	assert.Equal(t, property, rec.PropertyToken)
	assert.Equal(t, int64(10), rec.TokenAmount.Int64())
	assert.Equal(t, int64(500), rec.DinarAmount.Int64())
	assert.True(t, rec.BuyerConfirmed)
	assert.False(t, rec.SellerConfirmed)
	assert.Equal(t, models.EscrowStateInitiated, rec.State)
}

func TestFilterEscrowEvents_DecodesAndSkipsRemoved(t *testing.T) {
	backend := &fakeBackend{logs: []types.Log{
		initiatedLog(t, 7, common.HexToAddress(addrB), common.HexToAddress(addrA), big.NewInt(3), big.NewInt(30)),
		releasedLog(7, false),
		releasedLog(8, true),
	}}
	gw := newGateway(t, backend)

	evts, err := gw.FilterEscrowEvents(context.Background(), 1, 20)
	require.NoError(t, err)
	require.Len(t, evts, 2)

	assert.Equal(t, models.EscrowInitiated, evts[0].Kind)
	assert.Equal(t, int64(7), evts[0].EscrowID.Int64())
	assert.Equal(t, addrB, evts[0].Buyer)
	assert.Equal(t, addrA, evts[0].Seller)
	assert.Equal(t, int64(3), evts[0].TokenAmount.Int64())
	assert.Equal(t, int64(30), evts[0].DinarAmount.Int64())
	assert.Equal(t, uint64(10), evts[0].BlockNumber)

	assert.Equal(t, models.EscrowReleased, evts[1].Kind)
	assert.Equal(t, int64(7), evts[1].EscrowID.Int64())
}

func TestTransferNative_SignsAndTracksNonce(t *testing.T) {
	backend := &fakeBackend{nonce: 7}
	gw := newGateway(t, backend)
	to := common.HexToAddress(addrA)

	h1, err := gw.TransferNative(context.Background(), to, big.NewInt(1000))
	require.NoError(t, err)
	h2, err := gw.TransferNative(context.Background(), to, big.NewInt(2000))
	require.NoError(t, err)

	require.Len(t, backend.sent, 2)
	assert.Equal(t, h1, backend.sent[0].Hash())
	assert.Equal(t, h2, backend.sent[1].Hash())
	assert.Equal(t, uint64(7), backend.sent[0].Nonce())
	assert.Equal(t, uint64(8), backend.sent[1].Nonce(), "nonce local avança mesmo com o nó atrasado")
	assert.Equal(t, params.TxGas, backend.sent[0].Gas())
	assert.Equal(t, &to, backend.sent[0].To())

	sender, err := types.Sender(types.LatestSignerForChainID(testChainID), backend.sent[0])
	require.NoError(t, err)
	assert.Equal(t, gw.AdminAddress(), sender)

	_, err = gw.TransferNative(context.Background(), to, big.NewInt(0))
	assert.Error(t, err)
}

func TestSend_ErrorResetsNonce(t *testing.T) {
	backend := &fakeBackend{nonce: 3}
	gw := newGateway(t, backend)
	to := common.HexToAddress(addrA)

	_, err := gw.TransferNative(context.Background(), to, big.NewInt(1))
	require.NoError(t, err)

	backend.sendErr = errors.New("nonce too low")
	_, err = gw.TransferNative(context.Background(), to, big.NewInt(1))
	require.Error(t, err)

	_, err = gw.TransferNative(context.Background(), to, big.NewInt(1))
	require.NoError(t, err)
	require.Len(t, backend.sent, 2)
	assert.Equal(t, uint64(3), backend.sent[1].Nonce(), "após erro o nonce volta a ser lido do nó")
}

func TestSubmitEscrowAction_CallsContract(t *testing.T) {
	backend := &fakeBackend{}
	gw := newGateway(t, backend)

	_, err := gw.SubmitEscrowAction(context.Background(), services.ConfirmBySeller, big.NewInt(9))
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, common.HexToAddress(escrowAddress), *tx.To())
	assert.Equal(t, uint64(50_000), tx.Gas())
	method := services.EscrowABI().Methods[string(services.ConfirmBySeller)]
	assert.Equal(t, method.ID, tx.Data()[:4])
}

func TestWaitForConfirmation(t *testing.T) {
	ok := common.HexToHash("0x01")
	reverted := common.HexToHash("0x02")
	backend := &fakeBackend{receipts: map[common.Hash]*types.Receipt{
		ok:       {Status: types.ReceiptStatusSuccessful},
		reverted: {Status: types.ReceiptStatusFailed},
	}}
	gw := newGateway(t, backend)

	receipt, err := gw.WaitForConfirmation(context.Background(), ok, time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)

	_, err = gw.WaitForConfirmation(context.Background(), reverted, time.Second)
	assert.ErrorIs(t, err, services.ErrTxReverted)

	_, err = gw.WaitForConfirmation(context.Background(), common.HexToHash("0x03"), 50*time.Millisecond)
	assert.ErrorIs(t, err, services.ErrUnconfirmed)
}

func TestSubscribeEscrowEvents_Unsupported(t *testing.T) {
	gw := newGateway(t, &fakeBackend{})
	_, err := gw.SubscribeEscrowEvents(context.Background(), make(chan models.EscrowEvent))
	assert.ErrorIs(t, err, services.ErrSubscriptionUnsupported)
}
