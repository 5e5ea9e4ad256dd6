package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/huddle/internal/client"
	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/Alexander-D-Karpov/huddle/internal/common/logging"
	"github.com/Alexander-D-Karpov/huddle/internal/version"
)

type globalFlags struct {
	server   string
	token    string
	logLevel string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "huddle-cli",
		Short:         "Talk to a huddle chat server and run maintenance tasks",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.server, "server", envOr("HUDDLE_SERVER", "http://localhost:5001"), "server base URL")
	root.PersistentFlags().StringVar(&flags.token, "token", os.Getenv("HUDDLE_TOKEN"), "JWT sent as a bearer token")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level for diagnostics on stderr")

	root.AddCommand(
		newHistoryCmd(flags),
		newSendCmd(flags),
		newDeleteCmd(flags),
		newTailCmd(flags),
		newOutboxCmd(),
		newClearRateLimitCmd(),
	)
	return root
}

func (f *globalFlags) api() (*client.API, error) {
	var opts []client.Option
	if f.token != "" {
		opts = append(opts, client.WithToken(f.token))
	}
	return client.NewAPI(f.server, opts...)
}

func (f *globalFlags) logger() (*zap.Logger, error) {
	return logging.Init(config.LoggingConfig{
		Level:  f.logLevel,
		Format: "console",
		Output: "stderr",
	})
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid message id %q", s)
	}
	return id, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
