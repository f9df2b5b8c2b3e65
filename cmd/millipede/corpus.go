package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/millipede/engine"
)

var localDir string

var distillCmd = &cobra.Command{
	Use:   "distill",
	Short: "Write distilled corpora for the shards of this process",
	Long: `Loads every shard of the working directory in a random order and writes
distilled.NNNNNN for each shard in [first_shard_index,
first_shard_index+num_threads). Different seeds give different, equally
valid distilled corpora.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := loadEnv(cmd)
		if err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		for i := range env.NumThreads {
			shardEnv := env.ForShard(env.FirstShardIndex + i)
			g.Go(func() error {
				callbacks, err := engine.NewDefaultCallbacks(shardEnv, shardEnv.Seed)
				if err != nil {
					return err
				}
				defer callbacks.Close()

				e, err := engine.New(shardEnv, callbacks, engine.WithLogger(logger))
				if err != nil {
					return err
				}

				return e.Distill(ctx)
			})
		}

		return g.Wait()
	},
}

var saveCorpusCmd = &cobra.Command{
	Use:   "save-corpus",
	Short: "Copy every shard's inputs into a local directory",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := loadEnv(cmd)
		if err != nil {
			return err
		}

		n, err := engine.SaveCorpusToLocalDir(env.Layout(), env.TotalShards, localDir)
		if err != nil {
			return fmt.Errorf("failed to save corpus: %w", err)
		}
		logger.Info("corpus saved", zap.String("dir", localDir), zap.Int("inputs", n))

		return nil
	},
}

var exportCorpusCmd = &cobra.Command{
	Use:   "export-corpus",
	Short: "Add the files of a local directory to the shards' corpora",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := loadEnv(cmd)
		if err != nil {
			return err
		}

		n, err := engine.ExportCorpusFromLocalDir(env.Layout(), env.TotalShards, localDir, env.GetCompression())
		if err != nil {
			return fmt.Errorf("failed to export corpus: %w", err)
		}
		logger.Info("corpus exported", zap.String("dir", localDir), zap.Int("added", n))

		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{saveCorpusCmd, exportCorpusCmd} {
		cmd.Flags().StringVar(&localDir, "dir", "", "Local directory holding one input per file")
		_ = cmd.MarkFlagRequired("dir")
	}
}
