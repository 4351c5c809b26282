package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/botflow/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "botflow",
		Short:         "Compile and run conversational bot workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCmd())
	root.AddCommand(newChatCmd())
	root.AddCommand(newGraphCmd())
	root.AddCommand(newSessionsCmd())
	return root
}

// newLogger builds the process logger: a text handler wrapped so session
// correlation values flow in from the context.
func newLogger(cfg Config) *slog.Logger {
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.logLevel()})
	return slog.New(logging.NewCorrelationHandler(inner))
}
