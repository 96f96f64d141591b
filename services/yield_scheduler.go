package services

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// YieldRunner executa uma rodada de distribuição sobre todos os imóveis.
type YieldRunner interface {
	DistributeAll(ctx context.Context) error
}

// RunYieldSchedule dispara runner.DistributeAll conforme a expressão cron até
// ctx ser cancelado. Rodadas não se sobrepõem, e a rodada em andamento
// termina antes do retorno.
func RunYieldSchedule(ctx context.Context, schedule string, runner YieldRunner, log *zap.SugaredLogger) error {
	logger := cronLogger{log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	jobCtx := context.WithoutCancel(ctx)
	_, err := c.AddFunc(schedule, func() {
		log.Infow("distribuição mensal automática iniciada")
		if err := runner.DistributeAll(jobCtx); err != nil {
			log.Errorw("distribuição automática falhou", "error", err)
			return
		}
		log.Infow("distribuição automática concluída")
	})
	if err != nil {
		return fmt.Errorf("agenda de rendimentos inválida %q: %w", schedule, err)
	}

	c.Start()
	log.Infow("agenda de rendimentos ativa", "schedule", schedule)
	<-ctx.Done()
	<-c.Stop().Done()
	log.Infow("agenda de rendimentos encerrada")
	return nil
}

// cronLogger adapta o zap ao cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
