package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/coinmesh/marketbroker/broker"
	"github.com/coinmesh/marketbroker/cache"
	"github.com/coinmesh/marketbroker/config"
	"github.com/coinmesh/marketbroker/eventing"
	"github.com/coinmesh/marketbroker/logger"
	"github.com/coinmesh/marketbroker/marketdata"
)

func newLogger() logger.Logger {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return logger.NewConsoleLogger(logger.GetLevelFromEnv())
	}
	return logger.NewJSONLogger(logger.GetLevelFromEnv())
}

func newRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr(), err)
	}
	return rdb, nil
}

// newStore assembles the cache tiers: always a local in-process cache,
// wrapped by the redis tier when enabled. The redis tier degrades to the
// local cache on backend failures.
func newStore(ctx context.Context, log logger.Logger, cfg config.Config, rdb *redis.Client) cache.Store {
	local := cache.NewInMemory(ctx,
		cache.WithExpires(cfg.Cache.TTL),
		cache.WithMaxSize(cfg.Cache.MaxSize),
	)
	if rdb == nil {
		return local
	}
	return cache.NewRedis(rdb, local, log,
		cache.WithExpires(cfg.Cache.TTL),
		cache.WithPrefix(cfg.Cache.Prefix),
	)
}

func workerCmd() *cobra.Command {
	var seed int64
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a market data worker that serves tool requests from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			log := newLogger()
			cfg := config.FromEnv()

			var rdb *redis.Client
			if cfg.Cache.UseRedis {
				var err error
				if rdb, err = newRedisClient(ctx, cfg.Redis); err != nil {
					return err
				}
				defer rdb.Close()
			} else {
				return fmt.Errorf("the worker requires redis for request delivery")
			}

			events, err := eventing.NewRedisClient(ctx, log, rdb)
			if err != nil {
				return err
			}
			defer events.Close()

			store := newStore(ctx, log, cfg, rdb)
			defer store.Close()

			co := cache.NewCoordinator(store, log,
				cache.WithDataTTL(cfg.Cache.TTL),
				cache.WithLockTTL(cfg.Cache.LockTTL),
			)
			dispatcher := broker.NewDispatcher()
			broker.RegisterMarketTools(dispatcher, co, marketdata.NewSimProvider(seed))

			w := broker.NewWorker(events, dispatcher, log, cfg.Broker, cfg.Worker)
			return w.Run(ctx)
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "seed for the simulated market data provider")
	return cmd
}

func requestCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "request <tool> [json-args]",
		Short: "Send one tool request over the queue and print the response",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			toolArgs := map[string]interface{}{}
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &toolArgs); err != nil {
					return fmt.Errorf("arguments must be a JSON object: %w", err)
				}
			}

			log := newLogger()
			cfg := config.FromEnv()

			rdb, err := newRedisClient(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			defer rdb.Close()

			events, err := eventing.NewRedisClient(ctx, log, rdb)
			if err != nil {
				return err
			}
			defer events.Close()

			client := broker.NewClient(events, log, cfg.Broker)
			if err := client.Start(ctx); err != nil {
				return err
			}
			defer client.Close()

			result, err := client.CallWithTimeout(ctx, args[0], toolArgs, timeout)
			if err != nil {
				return err
			}

			var pretty json.RawMessage = result
			out, err := json.MarshalIndent(pretty, "", "  ")
			if err != nil {
				out = result
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for a worker response")
	return cmd
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools a worker built from this binary serves",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			store := cache.NewInMemory(ctx)
			defer store.Close()
			dispatcher := broker.NewDispatcher()
			broker.RegisterMarketTools(dispatcher, cache.NewCoordinator(store, newLogger()), marketdata.NewSimProvider(0))
			for _, tool := range dispatcher.Tools() {
				fmt.Fprintln(cmd.OutOrStdout(), tool)
			}
		},
	}
}

func main() {
	root := &cobra.Command{
		Use:           "marketbroker",
		Short:         "Cache backed market data request broker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(workerCmd(), requestCmd(), toolsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
