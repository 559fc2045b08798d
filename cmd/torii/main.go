// Command torii is the CLI for the Torii execution trust layer: it serves
// registered tools over MCP and inspects or verifies journal files.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "torii",
		Short:         "Execution trust layer for autonomous agents",
		Long:          "Torii gates agent tool calls behind schema validation, graduated\npermissions, policy enforcement, and an append-only hash-chained journal.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newVerifyCmd(), newEventsCmd())
	return root
}

// newLogger builds the CLI logger. Logs go to stderr: stdout belongs to
// command output, and in serve mode to the MCP protocol stream.
func newLogger() *slog.Logger {
	_ = godotenv.Load()
	level := slog.LevelInfo
	if os.Getenv("TORII_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
