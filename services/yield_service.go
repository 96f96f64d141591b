package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ferreirogomes/aether/metrics"
	"github.com/ferreirogomes/aether/models"
	"github.com/ferreirogomes/aether/storage"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrPropertyNotFound = errors.New("imóvel não encontrado")

// DistributionRun resume uma rodada de distribuição de rendimentos.
type DistributionRun struct {
	RunID       string
	Property    string
	MonthlyPool decimal.Decimal
	Payouts     []models.YieldPayout
	Unconfirmed []string // holders cuja transferência não confirmou no prazo
}

// YieldService distribui o rendimento mensal de um imóvel entre os holders
// confirmados, proporcionalmente aos tokens de cada um.
type YieldService struct {
	Store          storage.Store
	Chain          ChainGateway
	ConfirmTimeout time.Duration
	log            *zap.SugaredLogger
	metrics        *metrics.Metrics
	now            func() time.Time

	// rodadas disparadas por Trigger/TriggerAll
	runs sync.WaitGroup
}

func NewYieldService(store storage.Store, chain ChainGateway, confirmTimeout time.Duration,
	log *zap.SugaredLogger, m *metrics.Metrics) *YieldService {
	return &YieldService{
		Store:          store,
		Chain:          chain,
		ConfirmTimeout: confirmTimeout,
		log:            log,
		metrics:        m,
		now:            time.Now,
	}
}

// Trigger dispara a distribuição em segundo plano. O chamador só sabe que
// ela começou; o resultado fica nos registros de YieldPayout.
func (s *YieldService) Trigger(propertyAddress string) {
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if _, err := s.DistributeYield(context.Background(), propertyAddress); err != nil {
			s.log.Errorw("erro na distribuição de rendimentos", "property", propertyAddress, "error", err)
		}
	}()
}

// TriggerAll dispara a distribuição para todos os imóveis.
func (s *YieldService) TriggerAll() {
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if err := s.DistributeAll(context.Background()); err != nil {
			s.log.Errorw("erro na distribuição global de rendimentos", "error", err)
		}
	}()
}

// Wait bloqueia até as distribuições disparadas em segundo plano terminarem.
// Uma transferência já enviada sempre ganha seu registro de YieldPayout.
func (s *YieldService) Wait() {
	s.runs.Wait()
}

// DistributeAll roda a distribuição de cada imóvel em sequência.
func (s *YieldService) DistributeAll(ctx context.Context) error {
	var props []models.Property
	err := s.Store.InTx(ctx, func(q storage.Queries) error {
		var err error
		props, err = q.ListProperties(ctx)
		return err
	})
	if err != nil {
		return err
	}
	for _, p := range props {
		if p.Address == "" {
			continue
		}
		if _, err := s.DistributeYield(ctx, p.Address); err != nil {
			s.log.Errorw("erro na distribuição de rendimentos", "property", p.Address, "error", err)
		}
	}
	return nil
}

type holderShare struct {
	address string
	tokens  decimal.Decimal
}

// DistributeYield paga o rendimento mensal do imóvel para cada holder.
// Falha de um holder vira um registro FAILED e não interrompe os demais.
// Não há proteção contra rodar duas vezes no mesmo período.
func (s *YieldService) DistributeYield(ctx context.Context, propertyAddress string) (*DistributionRun, error) {
	propertyAddress = models.NormalizeAddress(propertyAddress)
	s.log.Infow("iniciando distribuição de rendimentos", "property", propertyAddress)

	var (
		property  models.Property
		found     bool
		confirmed []models.Investment
	)
	err := s.Store.InTx(ctx, func(q storage.Queries) error {
		var err error
		property, found, err = q.GetProperty(ctx, propertyAddress)
		if err != nil || !found {
			return err
		}
		confirmed, err = q.ListInvestments(ctx, propertyAddress, models.InvestmentConfirmed)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("falha ao carregar dados da distribuição: %w", err)
	}
	if !found {
		s.log.Warnw("imóvel não encontrado para distribuição", "property", propertyAddress)
		return nil, ErrPropertyNotFound
	}

	run := &DistributionRun{
		RunID:       uuid.New().String(),
		Property:    propertyAddress,
		MonthlyPool: property.MonthlyYieldPool(),
	}
	s.metrics.YieldRun()

	if len(confirmed) == 0 {
		s.log.Infow("nenhum investimento confirmado para o imóvel", "property", propertyAddress)
		return run, nil
	}

	supplyUnits := property.SupplyUnits()
	if !supplyUnits.IsPositive() {
		return run, fmt.Errorf("supply total inválido para %s: %s", propertyAddress, property.TotalSupply)
	}
	s.log.Infow("pool mensal calculado", "property", propertyAddress, "pool_dnr", run.MonthlyPool.StringFixed(2), "run_id", run.RunID)

	for _, h := range aggregateHolders(confirmed) {
		payout := run.MonthlyPool.Mul(h.tokens).Div(supplyUnits).Truncate(models.TokenDecimals)
		if !payout.IsPositive() {
			continue
		}
		record, ok := s.pay(ctx, run, h.address, payout)
		if !ok {
			run.Unconfirmed = append(run.Unconfirmed, h.address)
			continue
		}
		run.Payouts = append(run.Payouts, record)
	}

	s.log.Infow("distribuição de rendimentos concluída",
		"property", propertyAddress, "run_id", run.RunID,
		"payouts", len(run.Payouts), "unconfirmed", len(run.Unconfirmed))
	return run, nil
}

// pay transfere o valor e registra o resultado. Devolve ok=false quando a
// transferência não confirmou no prazo: nesse caso nada é gravado.
func (s *YieldService) pay(ctx context.Context, run *DistributionRun, holder string, amount decimal.Decimal) (models.YieldPayout, bool) {
	record := models.YieldPayout{
		ID:              uuid.New().String(),
		RunID:           run.RunID,
		PropertyAddress: run.Property,
		HolderAddress:   holder,
		Amount:          amount,
		Status:          models.PayoutSuccess,
	}

	s.log.Infow("enviando rendimento", "holder", holder, "amount_dnr", amount.StringFixed(4))
	txHash, err := s.transfer(ctx, holder, amount)
	if errors.Is(err, ErrUnconfirmed) {
		s.log.Warnw("transferência de rendimento não confirmada no prazo",
			"holder", holder, "tx", txHash.Hex(), "amount_dnr", amount.String(), "run_id", run.RunID)
		return models.YieldPayout{}, false
	}
	if err != nil {
		s.log.Errorw("falha ao pagar rendimento", "holder", holder, "amount_dnr", amount.String(), "error", err)
		record.Status = models.PayoutFailed
	} else {
		hash := txHash.Hex()
		record.TxHash = &hash
	}
	record.DistributedAt = s.now().UTC()

	if err := s.Store.InTx(ctx, func(q storage.Queries) error {
		return q.AppendPayout(ctx, record)
	}); err != nil {
		s.log.Errorw("falha ao registrar pagamento de rendimento",
			"holder", holder, "status", record.Status, "tx", txHash.Hex(), "error", err)
	}

	f, _ := amount.Float64()
	s.metrics.Payout(string(record.Status), f)
	return record, true
}

func (s *YieldService) transfer(ctx context.Context, holder string, amount decimal.Decimal) (common.Hash, error) {
	if !common.IsHexAddress(holder) {
		return common.Hash{}, fmt.Errorf("%w: %q", ErrInvalidAddress, holder)
	}
	wei := amount.Shift(models.TokenDecimals).BigInt()
	txHash, err := s.Chain.TransferNative(ctx, common.HexToAddress(holder), wei)
	if err != nil {
		return common.Hash{}, err
	}
	if _, err := s.Chain.WaitForConfirmation(ctx, txHash, s.ConfirmTimeout); err != nil {
		return txHash, err
	}
	return txHash, nil
}

// aggregateHolders soma as posições confirmadas por endereço, em ordem de endereço.
func aggregateHolders(invs []models.Investment) []holderShare {
	byHolder := map[string]decimal.Decimal{}
	for _, inv := range invs {
		byHolder[inv.HolderAddress] = byHolder[inv.HolderAddress].Add(inv.TokenAmount)
	}
	shares := make([]holderShare, 0, len(byHolder))
	for addr, tokens := range byHolder {
		shares = append(shares, holderShare{address: addr, tokens: tokens})
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].address < shares[j].address })
	return shares
}
