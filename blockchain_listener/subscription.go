package blockchain_listener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ferreirogomes/aether/models"
	"github.com/ferreirogomes/aether/services"
)

// Subscribe alimenta a fila com os eventos da rede a partir de fromBlock até
// ctx ser cancelado. A cada (re)assinatura os blocos desde o último evento
// visto são reprocessados, então nada emitido durante uma queda se perde.
// Sem suporte a assinaturas no endpoint, cai para polling.
func (l *EscrowListener) Subscribe(ctx context.Context, fromBlock uint64) error {
	next := fromBlock
	for {
		err := l.subscribeOnce(ctx, &next)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, services.ErrSubscriptionUnsupported) {
			l.log.Warnw("assinatura de eventos indisponível, usando polling",
				"interval", l.PollInterval.String(), "from_block", next)
			return l.poll(ctx, next)
		}

		delay := l.ResubscribeDelay
		if delay <= 0 {
			delay = defaultResubscribeDelay
		}
		l.log.Errorw("assinatura de eventos encerrada, reconectando",
			"error", err, "delay", delay.String(), "from_block", next)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// subscribeOnce assina os eventos e, já com a assinatura ativa, reprocessa os
// blocos a partir de *next. *next avança conforme os eventos chegam.
func (l *EscrowListener) subscribeOnce(ctx context.Context, next *uint64) error {
	sink := make(chan models.EscrowEvent, cap(l.events))
	sub, err := l.Chain.SubscribeEscrowEvents(ctx, sink)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	l.log.Infow("escutando eventos do EscrowManager", "from_block", *next)

	if err := l.catchUp(ctx, next); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("assinatura encerrada")
			}
			return err
		case evt := <-sink:
			if err := l.Enqueue(ctx, evt); err != nil {
				return err
			}
			// O bloco do último evento é reprocessado na próxima assinatura:
			// ela pode ter caído no meio dele.
			if evt.BlockNumber > *next {
				*next = evt.BlockNumber
			}
		}
	}
}

// catchUp enfileira os eventos de *next até o bloco atual.
func (l *EscrowListener) catchUp(ctx context.Context, next *uint64) error {
	latest, err := l.Chain.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("falha ao obter último bloco: %w", err)
	}
	if latest < *next {
		return nil
	}
	if _, err := l.Backfill(ctx, *next, latest); err != nil {
		return err
	}
	*next = latest + 1
	return nil
}

// poll consulta os logs do contrato a cada PollInterval.
func (l *EscrowListener) poll(ctx context.Context, next uint64) error {
	interval := l.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := l.catchUp(ctx, &next); err != nil {
			l.log.Warnw("falha no polling de eventos", "from", next, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Backfill reprocessa os eventos do intervalo [from, to] pela mesma fila.
// Devolve quantos eventos foram enfileirados.
func (l *EscrowListener) Backfill(ctx context.Context, from, to uint64) (int, error) {
	if to < from {
		return 0, nil
	}
	evts, err := l.Chain.FilterEscrowEvents(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("falha ao buscar eventos dos blocos %d-%d: %w", from, to, err)
	}
	for i, evt := range evts {
		if err := l.Enqueue(ctx, evt); err != nil {
			return i, err
		}
	}
	if len(evts) > 0 {
		l.log.Infow("eventos passados enfileirados", "from", from, "to", to, "count", len(evts))
	}
	return len(evts), nil
}
