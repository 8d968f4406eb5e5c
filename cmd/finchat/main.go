// FinChat - conversational finance assistant
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ashureev/finchat/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configFile string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "finchat",
	Short: "Conversational assistant for questions about your transactions",
	Long: `FinChat answers natural-language questions about your financial
transactions. A per-session memory keeps preferences and recent turns, and an
LLM agent answers by querying the transactions database.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := godotenv.Load(); err != nil {
			slog.Debug("No .env file found, using environment variables")
		}
		if configFile != "" {
			if err := os.Setenv("CONFIG_FILE", configFile); err != nil {
				return fmt.Errorf("set CONFIG_FILE: %w", err)
			}
		}
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (overrides CONFIG_FILE)")
	rootCmd.AddCommand(serveCmd, chatCmd, askCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the JSON logger and installs it as the default.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
