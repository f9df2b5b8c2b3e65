package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/millipede/config"
	"github.com/arloliu/millipede/engine"
	"github.com/arloliu/millipede/stats"
)

var fuzzCmd = &cobra.Command{
	Use:   "fuzz",
	Short: "Fuzz the target",
	Long: `Runs shards [first_shard_index, first_shard_index+num_threads) of the
campaign in this process until each has executed num_runs inputs.

Interrupting the process stops every shard; inputs already written to the
working directory stay valid.`,
	RunE: runFuzz,
}

func runFuzz(cmd *cobra.Command, _ []string) error {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if env.MetricsAddr != "" {
		shutdown := serveMetrics(env.MetricsAddr, reg)
		defer shutdown()
	}

	earlyExit := &engine.EarlyExit{}
	var shardLoadLock sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i := range env.NumThreads {
		shardEnv := env.ForShard(env.FirstShardIndex + i)
		g.Go(func() error {
			return runShard(gctx, shardEnv,
				engine.WithLogger(logger),
				engine.WithStats(stats.New(reg, shardEnv.MyShardIndex)),
				engine.WithEarlyExit(earlyExit),
				engine.WithShardLoadLock(&shardLoadLock),
			)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if earlyExit.Requested() && earlyExit.Code() != 0 {
		return fmt.Errorf("fuzzing stopped early with code %d", earlyExit.Code())
	}

	return nil
}

// runShard fuzzes one shard with its own executor and mutator.
func runShard(ctx context.Context, env *config.Environment, opts ...engine.Option) error {
	seed := env.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	callbacks, err := engine.NewDefaultCallbacks(env, seed+uint64(env.MyShardIndex))
	if err != nil {
		return fmt.Errorf("shard %d: %w", env.MyShardIndex, err)
	}
	defer callbacks.Close()

	e, err := engine.New(env, callbacks, opts...)
	if err != nil {
		return fmt.Errorf("shard %d: %w", env.MyShardIndex, err)
	}
	if err := e.FuzzingLoop(ctx); err != nil {
		return fmt.Errorf("shard %d: %w", env.MyShardIndex, err)
	}

	return nil
}

// serveMetrics exposes reg on addr and returns a function stopping the
// server.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
