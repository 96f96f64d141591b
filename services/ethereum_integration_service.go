package services

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ferreirogomes/aether/metrics"
	"github.com/ferreirogomes/aether/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// EthBackend é o subconjunto do ethclient.Client usado pelo serviço.
type EthBackend interface {
	ethereum.ContractCaller
	ethereum.LogFilterer
	ethereum.TransactionSender
	ethereum.GasPricer
	ethereum.GasEstimator
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// EthereumIntegrationService é o ChainGateway sobre um nó EVM. A carteira
// admin é única, por isso todos os envios passam por sendMu.
type EthereumIntegrationService struct {
	backend      EthBackend
	closer       func()
	escrow       common.Address
	contract     abi.ABI
	key          *ecdsa.PrivateKey
	from         common.Address
	signer       types.Signer
	pollInterval time.Duration
	log          *zap.SugaredLogger
	metrics      *metrics.Metrics

	sendMu    sync.Mutex
	nextNonce *uint64
}

// NewEthereumIntegrationService conecta ao RPC e carrega a chave do admin.
// chainID 0 significa consultar o nó.
func NewEthereumIntegrationService(ctx context.Context, rpcURL, privateKeyHex, escrowAddress string, chainID int64,
	log *zap.SugaredLogger, m *metrics.Metrics) (*EthereumIntegrationService, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("falha ao conectar ao RPC %s: %w", rpcURL, err)
	}

	var id *big.Int
	if chainID > 0 {
		id = big.NewInt(chainID)
	} else if id, err = client.ChainID(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("falha ao obter chain id: %w", err)
	}

	s, err := NewEthereumIntegrationServiceWithBackend(client, id, privateKeyHex, escrowAddress, log, m)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.closer = client.Close
	return s, nil
}

// NewEthereumIntegrationServiceWithBackend monta o serviço sobre um backend já criado.
func NewEthereumIntegrationServiceWithBackend(backend EthBackend, chainID *big.Int, privateKeyHex, escrowAddress string,
	log *zap.SugaredLogger, m *metrics.Metrics) (*EthereumIntegrationService, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("falha ao carregar chave privada do admin: %w", err)
	}
	if !common.IsHexAddress(escrowAddress) {
		return nil, fmt.Errorf("endereço do EscrowManager inválido: %q", escrowAddress)
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	log.Infow("carteira admin carregada", "address", from.Hex(), "chain_id", chainID.String())

	return &EthereumIntegrationService{
		backend:      backend,
		escrow:       common.HexToAddress(escrowAddress),
		contract:     EscrowABI(),
		key:          key,
		from:         from,
		signer:       types.LatestSignerForChainID(chainID),
		pollInterval: time.Second,
		log:          log,
		metrics:      m,
	}, nil
}

// AdminAddress é o endereço que assina as transações.
func (s *EthereumIntegrationService) AdminAddress() common.Address {
	return s.from
}

func (s *EthereumIntegrationService) Close() {
	if s.closer != nil {
		s.closer()
	}
}

// GetEscrowRecord lê escrows(id) no contrato.
func (s *EthereumIntegrationService) GetEscrowRecord(ctx context.Context, escrowID *big.Int) (models.EscrowRecord, error) {
	data, err := s.contract.Pack("escrows", escrowID)
	if err != nil {
		return models.EscrowRecord{}, fmt.Errorf("falha ao codificar escrows(): %w", err)
	}
	out, err := s.backend.CallContract(ctx, ethereum.CallMsg{To: &s.escrow, Data: data}, nil)
	if err != nil {
		return models.EscrowRecord{}, fmt.Errorf("falha ao consultar escrow %s: %w", escrowID, err)
	}
	values, err := s.contract.Unpack("escrows", out)
	if err != nil {
		return models.EscrowRecord{}, fmt.Errorf("falha ao decodificar escrow %s: %w", escrowID, err)
	}
	return decodeEscrowRecord(values)
}

// SubmitEscrowAction envia confirmEscrowBySeller/confirmEscrowByAdmin. Não espera inclusão.
func (s *EthereumIntegrationService) SubmitEscrowAction(ctx context.Context, action EscrowAction, escrowID *big.Int) (common.Hash, error) {
	data, err := s.contract.Pack(string(action), escrowID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("falha ao codificar %s: %w", action, err)
	}
	return s.send(ctx, string(action), s.escrow, big.NewInt(0), data)
}

// TransferNative envia DNR (moeda nativa) da carteira admin.
func (s *EthereumIntegrationService) TransferNative(ctx context.Context, to common.Address, amountWei *big.Int) (common.Hash, error) {
	if amountWei == nil || amountWei.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("valor de transferência inválido: %v", amountWei)
	}
	return s.send(ctx, "transfer", to, amountWei, nil)
}

// send monta, assina e envia uma transação. A trava cobre nonce até o envio
// para que duas transações nunca usem o mesmo nonce.
func (s *EthereumIntegrationService) send(ctx context.Context, action string, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	hash, err := s.sendLocked(ctx, to, value, data)
	if err != nil {
		// Força releitura do nonce no próximo envio.
		s.nextNonce = nil
		s.metrics.ChainTx(action, "error")
		return common.Hash{}, fmt.Errorf("%s: %w", action, err)
	}
	s.metrics.ChainTx(action, "sent")
	s.log.Infow("transação enviada", "action", action, "tx", hash.Hex(), "to", to.Hex())
	return hash, nil
}

func (s *EthereumIntegrationService) sendLocked(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("falha ao obter nonce: %w", err)
	}
	if s.nextNonce != nil && *s.nextNonce > nonce {
		nonce = *s.nextNonce
	}

	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("falha ao obter gas price: %w", err)
	}

	gas := params.TxGas
	if len(data) > 0 {
		gas, err = s.backend.EstimateGas(ctx, ethereum.CallMsg{From: s.from, To: &to, GasPrice: gasPrice, Value: value, Data: data})
		if err != nil {
			return common.Hash{}, fmt.Errorf("falha ao estimar gas: %w", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	})
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("falha ao assinar transação: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("falha ao enviar transação: %w", err)
	}

	next := nonce + 1
	s.nextNonce = &next
	return signed.Hash(), nil
}

// WaitForConfirmation consulta o recibo até a inclusão ou até o timeout.
func (s *EthereumIntegrationService) WaitForConfirmation(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%s: %w", txHash.Hex(), ErrTxReverted)
			}
			return receipt, nil
		case errors.Is(err, ethereum.NotFound):
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
		default:
			s.log.Debugw("falha ao consultar recibo", "tx", txHash.Hex(), "error", err)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%s: %w", txHash.Hex(), ErrUnconfirmed)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *EthereumIntegrationService) filterQuery() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{s.escrow},
		Topics:    [][]common.Hash{escrowTopics(s.contract)},
	}
}

// SubscribeEscrowEvents assina os logs do EscrowManager e entrega os eventos
// decodificados em sink. Logs removidos por reorg são descartados.
func (s *EthereumIntegrationService) SubscribeEscrowEvents(ctx context.Context, sink chan<- models.EscrowEvent) (ethereum.Subscription, error) {
	logs := make(chan types.Log, 64)
	sub, err := s.backend.SubscribeFilterLogs(ctx, s.filterQuery(), logs)
	if errors.Is(err, rpc.ErrNotificationsUnsupported) {
		return nil, ErrSubscriptionUnsupported
	}
	if err != nil {
		return nil, fmt.Errorf("falha ao assinar eventos do escrow: %w", err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case lg := <-logs:
				if lg.Removed {
					s.log.Warnw("log de escrow removido por reorg", "tx", lg.TxHash.Hex())
					continue
				}
				evt, err := decodeEscrowLog(s.contract, lg)
				if err != nil {
					s.log.Warnw("log de escrow ignorado", "tx", lg.TxHash.Hex(), "error", err)
					continue
				}
				select {
				case sink <- evt:
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

// FilterEscrowEvents busca os eventos de escrow já emitidos no intervalo de blocos.
func (s *EthereumIntegrationService) FilterEscrowEvents(ctx context.Context, fromBlock, toBlock uint64) ([]models.EscrowEvent, error) {
	q := s.filterQuery()
	q.FromBlock = new(big.Int).SetUint64(fromBlock)
	q.ToBlock = new(big.Int).SetUint64(toBlock)

	logs, err := s.backend.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("falha ao buscar logs %d-%d: %w", fromBlock, toBlock, err)
	}
	events := make([]models.EscrowEvent, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		evt, err := decodeEscrowLog(s.contract, lg)
		if err != nil {
			s.log.Warnw("log de escrow ignorado", "tx", lg.TxHash.Hex(), "error", err)
			continue
		}
		events = append(events, evt)
	}
	return events, nil
}

func (s *EthereumIntegrationService) LatestBlock(ctx context.Context) (uint64, error) {
	return s.backend.BlockNumber(ctx)
}
