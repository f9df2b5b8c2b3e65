package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arloliu/millipede/blobfile"
	"github.com/arloliu/millipede/corpus"
)

// FuzzingLoop runs the shard for num_runs executions.
//
// It loads the shard's own files (all shards with full_sync), merges from
// merge_from, then repeatedly mutates corpus inputs and runs them, loading a
// random peer shard every load_other_shard_frequency batches and pruning
// the corpus every time it grew by prune_frequency inputs. With distill set
// it finally writes the distilled corpus.
//
// The loop stops early when ctx is done or an early exit is requested.
// Errors are I/O failures on the shard files.
func (e *Engine) FuzzingLoop(ctx context.Context) error {
	e.logger.Info("starting shard",
		zap.Int("total_shards", e.env.TotalShards),
		zap.Uint64("seed", e.seed),
		zap.String("workdir", e.env.Workdir))

	if result, ok := e.callbacks.Execute(ctx, e.env.Binary, [][]byte{e.callbacks.DummyValidInput()}); !ok {
		e.logger.Warn("target failed on the dummy input",
			zap.Int("exit_code", result.ExitCode),
			zap.String("failure", result.FailureDescription))
	}
	e.logStats("begin-fuzz")

	var err error
	if e.env.FullSync {
		err = e.LoadAllShardsInRandomOrder(ctx, e.layout, true)
	} else {
		err = e.LoadShard(ctx, e.layout, e.env.MyShardIndex, true)
	}
	if err != nil {
		return err
	}
	if e.env.MergeFrom != "" {
		if err := e.MergeFromOtherCorpus(ctx, e.env.MergeFrom, e.env.MyShardIndex); err != nil {
			return err
		}
	}

	corpusW, err := blobfile.Create(e.layout.CorpusPath(e.env.MyShardIndex), blobfile.WithCompression(e.compression))
	if err != nil {
		return err
	}
	defer corpusW.Close()
	featuresW, err := blobfile.Create(e.layout.FeaturesPath(e.env.MyShardIndex), blobfile.WithCompression(e.compression))
	if err != nil {
		return err
	}
	defer featuresW.Close()

	if e.corpus.NumTotal() == 0 {
		e.corpus.Add(e.callbacks.DummyValidInput(), nil, nil, e.fs, e.frontier)
	}
	e.logStats("init-done")
	e.writeCorpusStats("initial")

	// Work done before this point is not part of the fuzzing rate.
	e.numRuns = 0
	e.fuzzStart = time.Now()

	if err := e.fuzz(ctx, corpusW, featuresW); err != nil {
		return err
	}
	e.logStats("end-fuzz")
	e.writeCorpusStats("latest")

	if err := corpusW.Close(); err != nil {
		return err
	}
	if err := featuresW.Close(); err != nil {
		return err
	}

	if e.env.Distill && !e.shouldStop(ctx) {
		if err := e.Distill(ctx); err != nil {
			return err
		}
		e.writeCorpusStats("distilled")
	}

	return nil
}

func (e *Engine) fuzz(ctx context.Context, corpusW, featuresW RecordWriter) error {
	numBatches := (e.env.NumRuns + e.env.BatchSize - 1) / e.env.BatchSize
	newRuns := 0
	lastPruneSize := e.corpus.NumActive()

	for batchIndex := range numBatches {
		if e.shouldStop(ctx) {
			break
		}

		batchSize := min(e.env.BatchSize, e.env.NumRuns-newRuns)
		seeds := make([][]byte, 0, e.env.MutateBatchSize)
		for i := range e.env.MutateBatchSize {
			var rec corpus.Record
			if e.env.UseCorpusWeights {
				rec = e.corpus.WeightedRandom(e.rng)
			} else {
				rec = e.corpus.UniformRandom(e.rng)
			}
			if i == 0 {
				e.callbacks.SetCmpDictionary(rec.CmpArgs)
			}
			seeds = append(seeds, rec.Data)
		}

		mutants := e.callbacks.Mutate(seeds, batchSize)
		gained, err := e.RunBatch(ctx, mutants, corpusW, featuresW, nil)
		if err != nil {
			return err
		}
		newRuns += batchSize
		e.stats.Batches.Inc()

		if gained {
			e.logStats("new-feature")
		} else if (batchIndex-1)&batchIndex == 0 {
			e.logStats("pulse")
		}

		if e.env.LoadOtherShardFrequency != 0 && batchIndex != 0 &&
			batchIndex%e.env.LoadOtherShardFrequency == 0 && e.env.TotalShards > 1 {
			other := (e.env.MyShardIndex + 1 + e.rng.IntN(e.env.TotalShards-1)) % e.env.TotalShards
			if err := e.LoadShard(ctx, e.layout, other, false); err != nil {
				return err
			}
		}

		if e.env.PruneFrequency != 0 && e.corpus.NumActive() > lastPruneSize+e.env.PruneFrequency {
			e.prune()
			lastPruneSize = e.corpus.NumActive()
		}
	}

	return nil
}

func (e *Engine) prune() {
	if e.env.UseCoverageFrontier {
		e.frontier.Compute(e.corpus)
		e.stats.FrontierFuncs.Set(float64(e.frontier.NumFunctionsInFrontier()))
	}
	evicted := e.corpus.Prune(e.fs, e.frontier, e.env.MaxCorpusSize, e.rng)
	e.stats.PrunedInputs.Add(float64(evicted))
}
