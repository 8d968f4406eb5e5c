package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/ashureev/finchat/internal/repl"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive prompt that sends each line straight to the agent",
	Long: `Starts a manual test loop: each line is forwarded to the agent as-is,
with no session memory. Type 'exit' or 'quit' to leave.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the agent a single question and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func runChat(cmd *cobra.Command, _ []string) error {
	logger := newLogger(os.Stderr, cfg.SlogLevel())
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	deps, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	return repl.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), deps.builder, deps.convLogger, "repl-"+uuid.NewString())
}

func runAsk(cmd *cobra.Command, args []string) error {
	logger := newLogger(os.Stderr, cfg.SlogLevel())
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	deps, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	reply, err := repl.Ask(ctx, deps.builder, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply)
	return nil
}
