package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/Alexander-D-Karpov/huddle/internal/infra"
	"github.com/Alexander-D-Karpov/huddle/internal/infra/cache"
	"github.com/Alexander-D-Karpov/huddle/internal/infra/db"
	"github.com/Alexander-D-Karpov/huddle/internal/messages"
	"github.com/Alexander-D-Karpov/huddle/internal/ratelimit"
)

func newOutboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and maintain the event outbox",
	}

	var olderThan time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete dispatched outbox records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			outbox, closeOutbox, err := openOutbox(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeOutbox()

			n, err := outbox.PurgeDispatched(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return fmt.Errorf("purge outbox: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d dispatched records\n", n)
			return nil
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "keep records dispatched more recently than this")

	cmd.AddCommand(purge)
	return cmd
}

// openOutbox connects to the durable store without running migrations; the
// server owns the schema.
func openOutbox(ctx context.Context, cfg *config.Config) (messages.Outbox, func(), error) {
	gen := infra.NewSnowflakeGenerator(cfg.Server.WorkerID)

	switch cfg.Store.Driver {
	case config.StoreDriverMongo:
		store, err := messages.ConnectMongo(ctx, cfg.Mongo, gen)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to mongo: %w", err)
		}
		return store, store.Close, nil
	case config.StoreDriverPostgres:
		database, err := db.New(ctx, cfg.Database, zap.NewNop())
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		return messages.NewRepository(database.Pool, gen), database.Close, nil
	default:
		return nil, nil, fmt.Errorf("store driver %q has no durable outbox", cfg.Store.Driver)
	}
}

func newClearRateLimitCmd() *cobra.Command {
	var (
		all    bool
		client string
		class  string
	)

	cmd := &cobra.Command{
		Use:   "clear-ratelimit",
		Short: "Reset rate limit counters held in Redis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !all && client == "" {
				return fmt.Errorf("must specify either --all or --client")
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Redis.Enabled {
				return fmt.Errorf("redis is not enabled in config")
			}

			cacheClient, err := cache.New(cfg.Redis)
			if err != nil {
				return fmt.Errorf("connect to redis: %w", err)
			}
			defer func() {
				if err := cacheClient.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "error closing cache client: %v\n", err)
				}
			}()

			limiter := ratelimit.NewLimiter(cacheClient, cfg.RateLimit)
			defer limiter.Close()

			if all {
				n, err := limiter.ClearAll(cmd.Context())
				if err != nil {
					return fmt.Errorf("clear all rate limits: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d rate limit keys\n", n)
				return nil
			}

			classes := []ratelimit.Class{ratelimit.ClassRead, ratelimit.ClassSend, ratelimit.ClassDelete}
			if class != "" {
				classes = []ratelimit.Class{ratelimit.Class(class)}
			}
			for _, c := range classes {
				if err := limiter.Reset(cmd.Context(), c, client); err != nil {
					return fmt.Errorf("reset %s limit: %w", c, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared rate limits for %s\n", client)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "clear all rate limits")
	cmd.Flags().StringVar(&client, "client", "", "client IP to clear")
	cmd.Flags().StringVar(&class, "class", "", "only this class (read, send, delete)")
	return cmd
}
