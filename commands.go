package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ferreirogomes/aether/blockchain_listener"
	"github.com/ferreirogomes/aether/config"
	"github.com/ferreirogomes/aether/handlers"
	"github.com/ferreirogomes/aether/metrics"
	"github.com/ferreirogomes/aether/services"
	"github.com/ferreirogomes/aether/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Sobe a API HTTP e o listener de eventos do escrow",
	RunE:  runServe,
}

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Aplica as migrações do banco de dados",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.Sugar()
		db, err := storage.NewDB(cmd.Context(), cfg.DatabaseURL, false, log)
		if err != nil {
			return err
		}
		defer db.Close()

		dir := migrate.Up
		if migrateDown {
			dir = migrate.Down
		}
		_, err = db.Migrate(dir)
		return err
	},
}

var distributeAll bool

var distributeYieldCmd = &cobra.Command{
	Use:   "distribute-yield [endereço-do-imóvel]",
	Short: "Distribui o rendimento mensal de um imóvel (ou de todos com --all)",
	Args: func(cmd *cobra.Command, args []string) error {
		if distributeAll {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: runDistributeYield,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "Desfaz as migrações em vez de aplicar")
	distributeYieldCmd.Flags().BoolVar(&distributeAll, "all", false, "Distribui para todos os imóveis")
}

func openStore(ctx context.Context, log *zap.SugaredLogger) (storage.Store, error) {
	if cfg.LedgerDriver == config.DriverMemory {
		log.Warnw("usando ledger em memória: os dados não sobrevivem ao restart")
		return storage.NewMemoryStore(), nil
	}
	db, err := storage.NewDB(ctx, cfg.DatabaseURL, cfg.MigrateOnStart, log.Named("storage"))
	if err != nil {
		return nil, err
	}
	return db, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logger.Sugar()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, err := openStore(ctx, log)
	if err != nil {
		return fmt.Errorf("falha ao abrir o ledger: %w", err)
	}
	defer store.Close()

	chain, err := services.NewEthereumIntegrationService(ctx, cfg.RPCURL, cfg.AdminPrivateKey,
		cfg.EscrowManagerAddress, cfg.ChainID, log.Named("chain"), m)
	if err != nil {
		return fmt.Errorf("falha ao inicializar serviço da rede: %w", err)
	}
	defer chain.Close()
	log.Infow("conectado à rede", "rpc", cfg.RPCURL, "admin", chain.AdminAddress().Hex())

	settlement := services.NewSettlementService(store, log.Named("settlement"), m)
	yield := services.NewYieldService(store, chain, cfg.ConfirmTimeout, log.Named("yield"), m)
	listener := blockchain_listener.NewEscrowListener(store, chain, log.Named("escrow"), m,
		cfg.EventQueueSize, cfg.ConfirmTimeout)
	listener.PollInterval = cfg.EventPollInterval

	router := handlers.NewRouter(handlers.RouterConfig{
		Market:         handlers.NewMarketHandler(store, settlement, log.Named("http")),
		Properties:     handlers.NewPropertyHandler(store, yield, log.Named("http")),
		Investments:    handlers.NewInvestmentHandler(store, log.Named("http")),
		Gatherer:       reg,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listener.Run(gctx)
	})
	g.Go(func() error {
		from := cfg.EventStartBlock
		if from == 0 {
			latest, err := chain.LatestBlock(gctx)
			if err != nil {
				return fmt.Errorf("falha ao obter último bloco: %w", err)
			}
			from = latest + 1
		}
		return listener.Subscribe(gctx, from)
	})
	if cfg.YieldSchedule != "" {
		g.Go(func() error {
			return services.RunYieldSchedule(gctx, cfg.YieldSchedule, yield, log.Named("yield-cron"))
		})
	} else {
		log.Warnw("distribuição automática de rendimentos desativada")
	}
	g.Go(func() error {
		log.Infow("servidor backend rodando", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("aguardando confirmações de escrow e distribuições em andamento")
	listener.Wait()
	yield.Wait()
	return err
}

func runDistributeYield(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logger.Sugar()

	store, err := openStore(ctx, log)
	if err != nil {
		return err
	}
	defer store.Close()

	chain, err := services.NewEthereumIntegrationService(ctx, cfg.RPCURL, cfg.AdminPrivateKey,
		cfg.EscrowManagerAddress, cfg.ChainID, log.Named("chain"), nil)
	if err != nil {
		return err
	}
	defer chain.Close()

	yield := services.NewYieldService(store, chain, cfg.ConfirmTimeout, log.Named("yield"), nil)
	if distributeAll {
		return yield.DistributeAll(ctx)
	}

	run, err := yield.DistributeYield(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: pool %s DNR, %d pagamentos, %d não confirmados\n",
		run.RunID, run.MonthlyPool.StringFixed(2), len(run.Payouts), len(run.Unconfirmed))
	return nil
}
