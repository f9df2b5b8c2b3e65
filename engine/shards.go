package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/arloliu/millipede/blobfile"
	"github.com/arloliu/millipede/errs"
	"github.com/arloliu/millipede/feature"
	"github.com/arloliu/millipede/shard"
)

// LoadShard reads shard of the working directory described by layout.
//
// Inputs with known features that are novel go into the corpus. Inputs with
// unknown features are rerun when rerun is set and dropped otherwise.
func (e *Engine) LoadShard(ctx context.Context, layout shard.Layout, shardIndex int, rerun bool) error {
	var toRerun [][]byte
	numAdded := 0
	err := e.readShard(layout, shardIndex, func(input []byte, fv feature.Vec) {
		if e.shouldStop(ctx) {
			return
		}
		if len(fv) == 0 {
			if rerun {
				toRerun = append(toRerun, input)
			}
			return
		}

		fv = slices.Clone(fv)
		if e.fs.CountUnseenAndPruneFrequentFeatures(&fv) == 0 {
			return
		}
		e.fs.IncrementFrequencies(fv)
		e.corpus.Add(input, fv, nil, e.fs, e.frontier)
		numAdded++
	})
	switch {
	case errors.Is(err, errs.ErrCorruptShard):
		// A writer killed mid-append leaves a torn record; keep what came before it.
		e.logger.Warn("shard is corrupt, using the records read before the corruption",
			zap.String("workdir", layout.Workdir),
			zap.Int("from_shard", shardIndex),
			zap.Int("added", numAdded),
			zap.Error(err))
		e.stats.CorruptShardReads.Inc()
	case err != nil:
		return fmt.Errorf("failed to load shard %d of %s: %w", shardIndex, layout.Workdir, err)
	}
	e.logger.Debug("load-shard",
		zap.String("workdir", layout.Workdir),
		zap.Int("from_shard", shardIndex),
		zap.Int("added", numAdded),
		zap.Int("to_rerun", len(toRerun)))

	return e.Rerun(ctx, toRerun)
}

// readShard reads a shard, holding the shard load lock around the read only
// when shard loads are serialized.
func (e *Engine) readShard(layout shard.Layout, shardIndex int, fn shard.Callback) error {
	if e.env.SerializeShardLoads {
		e.shardLoadLock.Lock()
		defer e.shardLoadLock.Unlock()
	}

	return shard.Read(layout.CorpusPath(shardIndex), layout.FeaturesPath(shardIndex), fn)
}

// Rerun executes inputs whose features are unknown, in batches of
// batch_size taken from the end, and appends their features to this shard's
// features file.
func (e *Engine) Rerun(ctx context.Context, inputs [][]byte) error {
	if len(inputs) == 0 {
		return nil
	}

	w, err := blobfile.Create(e.layout.FeaturesPath(e.env.MyShardIndex), blobfile.WithCompression(e.compression))
	if err != nil {
		return err
	}
	defer w.Close()

	e.logger.Info("inputs to rerun", zap.Int("count", len(inputs)))
	e.stats.RerunInputs.Add(float64(len(inputs)))
	for len(inputs) > 0 {
		if e.shouldStop(ctx) {
			break
		}
		n := min(len(inputs), e.env.BatchSize)
		batch := inputs[len(inputs)-n:]
		inputs = inputs[:len(inputs)-n]

		gained, err := e.RunBatch(ctx, batch, nil, nil, w)
		if err != nil {
			return err
		}
		if gained {
			e.logStats("rerun-old")
		}
	}

	return w.Close()
}

// LoadAllShardsInRandomOrder loads every shard of layout in a shuffled
// order. Only this shard is rerun, and only when rerunMine is set.
func (e *Engine) LoadAllShardsInRandomOrder(ctx context.Context, layout shard.Layout, rerunMine bool) error {
	order := make([]int, e.env.TotalShards)
	for i := range order {
		order[i] = i
	}
	e.rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})

	for n, idx := range order {
		if e.shouldStop(ctx) {
			break
		}
		rerun := rerunMine && idx == e.env.MyShardIndex
		if err := e.LoadShard(ctx, layout, idx, rerun); err != nil {
			return err
		}
		if (n+1)%100 == 0 {
			e.logger.Info("loading shards", zap.Int("num_shards_loaded", n+1))
		}
	}

	return nil
}

// MergeFromOtherCorpus loads shardIndex of the working directory dir and
// appends the inputs it added to the corpus to this shard's corpus file.
//
// It panics if the corpus shrinks while loading.
func (e *Engine) MergeFromOtherCorpus(ctx context.Context, dir string, shardIndex int) error {
	e.logger.Info("merging", zap.String("from", dir), zap.Int("from_shard", shardIndex))

	before := e.corpus.NumActive()
	if err := e.LoadShard(ctx, shard.NewLayout(dir), shardIndex, true); err != nil {
		return err
	}
	after := e.corpus.NumActive()
	if after < before {
		panic(fmt.Errorf("%w: %d -> %d", errs.ErrCorpusShrankDuringMerge, before, after))
	}
	if after == before {
		return nil
	}

	w, err := blobfile.Create(e.layout.CorpusPath(e.env.MyShardIndex), blobfile.WithCompression(e.compression))
	if err != nil {
		return err
	}
	for idx := before; idx < after; idx++ {
		if err := w.Write(e.corpus.Get(idx)); err != nil {
			w.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	e.logger.Info("merge done", zap.Int("new_inputs", after-before))

	return nil
}

// Distill reloads every shard in random order and overwrites this shard's
// distilled file with the resulting corpus. Loading drops every input whose
// features were all seen already, so no two distilled inputs share a
// feature set.
func (e *Engine) Distill(ctx context.Context) error {
	if err := e.LoadAllShardsInRandomOrder(ctx, e.layout, false); err != nil {
		return err
	}

	path := e.layout.DistilledPath(e.env.MyShardIndex)
	e.logger.Info("distilling",
		zap.String("output", path),
		zap.Int("distilled_size", e.corpus.NumActive()))

	w, err := blobfile.Create(path, blobfile.WithCompression(e.compression), blobfile.WithOverwrite())
	if err != nil {
		return err
	}
	for i := range e.corpus.NumActive() {
		input := e.corpus.Get(i)
		if err := w.Write(input); err != nil {
			w.Close()
			return err
		}
		if err := writeToHashedFileInDir(e.env.CorpusDir, input); err != nil {
			w.Close()
			return err
		}
	}

	return w.Close()
}
