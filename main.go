package main

import (
	"fmt"
	"os"

	"github.com/ferreirogomes/aether/config"
	"github.com/ferreirogomes/aether/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	envFile string
	cfg     config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "aether",
	Short: "Backend de liquidação e rendimentos de imóveis tokenizados",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.LoadFromEnv(envFile)
		var err error
		logger, err = logging.New(cfg.LogLevel, cfg.LogFile)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Arquivo .env (padrão: .env no diretório atual)")
	rootCmd.AddCommand(serveCmd, migrateCmd, distributeYieldCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
