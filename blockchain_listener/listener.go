package blockchain_listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ferreirogomes/aether/metrics"
	"github.com/ferreirogomes/aether/models"
	"github.com/ferreirogomes/aether/services"
	"github.com/ferreirogomes/aether/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultQueueSize        = 256
	DefaultPollInterval     = 5 * time.Second
	defaultResubscribeDelay = 5 * time.Second
)

// EscrowListener mantém o ledger sincronizado com o EscrowManager. Os eventos
// decodificados entram numa fila limitada e são reconciliados um a um por Run.
type EscrowListener struct {
	Store            storage.Store
	Chain            services.ChainGateway
	ConfirmTimeout   time.Duration
	PollInterval     time.Duration
	ResubscribeDelay time.Duration

	events  chan models.EscrowEvent
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	now     func() time.Time

	// confirmações automáticas em andamento
	confirms sync.WaitGroup
}

// NewEscrowListener cria o listener com uma fila de queueSize eventos.
func NewEscrowListener(store storage.Store, chain services.ChainGateway, log *zap.SugaredLogger, m *metrics.Metrics,
	queueSize int, confirmTimeout time.Duration) *EscrowListener {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &EscrowListener{
		Store:            store,
		Chain:            chain,
		ConfirmTimeout:   confirmTimeout,
		PollInterval:     DefaultPollInterval,
		ResubscribeDelay: defaultResubscribeDelay,
		events:           make(chan models.EscrowEvent, queueSize),
		log:              log,
		metrics:          m,
		now:              time.Now,
	}
}

// Enqueue coloca um evento na fila. Bloqueia enquanto a fila estiver cheia.
func (l *EscrowListener) Enqueue(ctx context.Context, evt models.EscrowEvent) error {
	select {
	case l.events <- evt:
		l.metrics.QueueLen(len(l.events))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consome a fila até ctx ser cancelado. Erros de um evento são logados e
// não param o loop.
func (l *EscrowListener) Run(ctx context.Context) error {
	l.log.Infow("iniciando reconciliação de eventos de escrow", "queue_size", cap(l.events))
	for {
		select {
		case <-ctx.Done():
			l.log.Info("reconciliação de escrow encerrada")
			return nil
		case evt := <-l.events:
			l.metrics.QueueLen(len(l.events))
			if err := l.HandleEvent(ctx, evt); err != nil {
				l.log.Errorw("erro ao processar evento de escrow",
					"kind", evt.Kind, "escrow_id", escrowIDString(evt), "tx", evt.TxHash, "error", err)
			}
		}
	}
}

// Wait bloqueia até todas as confirmações automáticas em andamento terminarem.
func (l *EscrowListener) Wait() {
	l.confirms.Wait()
}

// HandleEvent reconcilia um único evento. Um panic no handler vira erro.
func (l *EscrowListener) HandleEvent(ctx context.Context, evt models.EscrowEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic ao processar %s: %v", evt.Kind, r)
		}
		result := "ok"
		if err != nil {
			result = "error"
		}
		l.metrics.EscrowEvent(string(evt.Kind), result)
	}()

	if evt.EscrowID == nil {
		return errors.New("evento sem escrowId")
	}

	switch evt.Kind {
	case models.EscrowInitiated:
		return l.handleInitiated(ctx, evt)
	case models.EscrowReleased:
		return l.settle(ctx, evt, models.InvestmentConfirmed)
	case models.EscrowRefunded:
		return l.settle(ctx, evt, models.InvestmentFailed)
	default:
		l.log.Warnw("evento de escrow não tratado", "kind", evt.Kind)
		return nil
	}
}

func (l *EscrowListener) handleInitiated(ctx context.Context, evt models.EscrowEvent) error {
	id := evt.EscrowID.String()
	l.log.Infow("novo investimento detectado", "escrow_id", id, "buyer", evt.Buyer, "tx", evt.TxHash)

	if evt.TokenAmount == nil || evt.DinarAmount == nil {
		return fmt.Errorf("EscrowInitiated %s sem valores", id)
	}

	rec, err := l.Chain.GetEscrowRecord(ctx, evt.EscrowID)
	if err != nil {
		return fmt.Errorf("falha ao consultar escrow %s: %w", id, err)
	}

	now := l.now().UTC()
	inv := models.Investment{
		ID:              uuid.New().String(),
		HolderAddress:   models.NormalizeAddress(evt.Buyer),
		PropertyAddress: models.NormalizeAddress(rec.PropertyToken),
		TokenAmount:     decimal.NewFromBigInt(evt.TokenAmount, -models.TokenDecimals),
		AmountPaid:      decimal.NewFromBigInt(evt.DinarAmount, -models.TokenDecimals),
		Status:          models.InvestmentPending,
		TxHash:          evt.TxHash,
		EscrowID:        &id,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	var (
		known   bool
		claimed bool
	)
	err = l.Store.InTx(ctx, func(q storage.Queries) error {
		if _, found, err := q.FindInvestmentByEscrow(ctx, id); err != nil || found {
			known = found
			return err
		}
		// O frontend pode ter registrado a transação antes do evento chegar:
		// a linha PENDING sem escrow passa a ser a deste escrow.
		rows, err := q.ListInvestmentsByTxHash(ctx, evt.TxHash)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if row.Status != models.InvestmentPending || row.EscrowID != nil ||
				row.HolderAddress != inv.HolderAddress || row.PropertyAddress != inv.PropertyAddress {
				continue
			}
			row.EscrowID = &id
			row.TokenAmount = inv.TokenAmount
			row.AmountPaid = inv.AmountPaid
			row.UpdatedAt = now
			inv = row
			claimed = true
			return q.UpdateInvestment(ctx, row)
		}
		return q.CreateInvestment(ctx, inv)
	})
	if known || errors.Is(err, storage.ErrDuplicateTxHash) {
		l.log.Infow("investimento já registrado, evento ignorado", "escrow_id", id, "tx", evt.TxHash)
		return nil
	}
	if err != nil {
		return fmt.Errorf("falha ao registrar investimento do escrow %s: %w", id, err)
	}
	if claimed {
		l.log.Infow("investimento registrado manualmente vinculado ao escrow", "escrow_id", id, "investment_id", inv.ID)
	} else {
		l.log.Infow("investimento registrado como PENDING", "escrow_id", id, "investment_id", inv.ID)
	}

	l.confirms.Add(1)
	go func() {
		defer l.confirms.Done()
		l.autoConfirm(context.WithoutCancel(ctx), evt)
	}()
	return nil
}

// autoConfirm confirma o escrow como vendedor e depois como admin. Qualquer
// falha é logada e encerra a tentativa; não há nova tentativa automática.
func (l *EscrowListener) autoConfirm(ctx context.Context, evt models.EscrowEvent) {
	id := evt.EscrowID.String()
	l.log.Infow("confirmando escrow automaticamente", "escrow_id", id)

	for _, action := range []services.EscrowAction{services.ConfirmBySeller, services.ConfirmByAdmin} {
		txHash, err := l.Chain.SubmitEscrowAction(ctx, action, evt.EscrowID)
		if err != nil {
			l.log.Errorw("falha ao enviar confirmação do escrow", "escrow_id", id, "action", action, "error", err)
			return
		}
		if _, err := l.Chain.WaitForConfirmation(ctx, txHash, l.ConfirmTimeout); err != nil {
			l.log.Errorw("confirmação do escrow não concluída",
				"escrow_id", id, "action", action, "tx", txHash.Hex(), "error", err)
			return
		}
		l.log.Infow("confirmação do escrow enviada", "escrow_id", id, "action", action, "tx", txHash.Hex())
	}
}

// settle move o investimento PENDING do escrow para o status final. Sem
// investimento pendente o evento é um no-op, o que torna a reentrega segura.
func (l *EscrowListener) settle(ctx context.Context, evt models.EscrowEvent, status models.InvestmentStatus) error {
	id := evt.EscrowID.String()
	rec, err := l.Chain.GetEscrowRecord(ctx, evt.EscrowID)
	if err != nil {
		return fmt.Errorf("falha ao consultar escrow %s: %w", id, err)
	}
	buyer := models.NormalizeAddress(rec.Buyer)
	property := models.NormalizeAddress(rec.PropertyToken)

	var updated bool
	err = l.Store.InTx(ctx, func(q storage.Queries) error {
		inv, found, err := q.FindPendingInvestment(ctx, buyer, property, id)
		if err != nil || !found {
			return err
		}
		inv.Status = status
		inv.UpdatedAt = l.now().UTC()
		updated = true
		return q.UpdateInvestment(ctx, inv)
	})
	if err != nil {
		return fmt.Errorf("falha ao atualizar investimento do escrow %s: %w", id, err)
	}
	if !updated {
		l.log.Infow("nenhum investimento pendente para o escrow", "kind", evt.Kind, "escrow_id", id)
		return nil
	}
	l.log.Infow("investimento atualizado", "escrow_id", id, "status", status)
	return nil
}

func escrowIDString(evt models.EscrowEvent) string {
	if evt.EscrowID == nil {
		return ""
	}
	return evt.EscrowID.String()
}
