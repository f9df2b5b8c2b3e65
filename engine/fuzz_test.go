package engine

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arloliu/millipede/stats"
)

func TestFuzzingLoop(t *testing.T) {
	ctx := context.Background()

	t.Run("fuzz and resume", func(t *testing.T) {
		env := testEnv(t, "")
		env.NumRuns = 100
		env.PruneFrequency = 5
		env.Distill = true

		reg := prometheus.NewRegistry()
		cb := &fakeCallbacks{}
		e := newTestEngine(t, env, cb, WithLogger(zap.NewNop()), WithStats(stats.New(reg, 0)))
		require.NoError(t, e.FuzzingLoop(ctx))

		require.Equal(t, 100, e.NumRuns())
		require.Len(t, cb.dicts, 10)
		require.LessOrEqual(t, e.Corpus().NumActive(), e.Corpus().NumTotal())

		layout := env.Layout()
		inputs := readStrings(t, layout.CorpusPath(0))
		features, err := os.ReadFile(layout.FeaturesPath(0))
		require.NoError(t, err)
		require.NotEmpty(t, inputs)
		require.NotEmpty(t, features)
		require.FileExists(t, layout.DistilledPath(0))

		data, err := os.ReadFile(layout.CorpusStatsPath("latest", 0))
		require.NoError(t, err)
		var corpusStats map[string]any
		require.NoError(t, json.Unmarshal(data, &corpusStats))
		require.Contains(t, corpusStats, "num_inputs")

		families, err := reg.Gather()
		require.NoError(t, err)
		require.NotEmpty(t, families)

		resumeEnv := testEnv(t, env.Workdir)
		cb2 := &fakeCallbacks{}
		e2 := newTestEngine(t, resumeEnv, cb2)
		require.NoError(t, e2.FuzzingLoop(ctx))

		require.Equal(t, len(inputs), e2.Corpus().NumActive())
		// Only the canary ran: every stored input had its features.
		require.Len(t, cb2.executed, 1)
	})

	t.Run("uniform sampling", func(t *testing.T) {
		env := testEnv(t, "")
		env.NumRuns = 25
		env.UseCorpusWeights = false

		cb := &fakeCallbacks{}
		e := newTestEngine(t, env, cb)
		require.NoError(t, e.FuzzingLoop(ctx))

		require.Equal(t, 25, e.NumRuns())
		// Three batches: 10, 10 and the remaining 5.
		require.Len(t, cb.executed, 1+3)
		require.Len(t, cb.executed[3], 5)
	})

	t.Run("loads other shards", func(t *testing.T) {
		env := testEnv(t, "")
		env.TotalShards = 2
		env.NumRuns = 30
		env.LoadOtherShardFrequency = 1
		writeShard(t, env.Layout(), 1, []string{"\xff\xfe"}, "\xff\xfe")

		e := newTestEngine(t, env, &fakeCallbacks{})
		require.NoError(t, e.FuzzingLoop(ctx))
		require.Contains(t, corpusInputs(e), "\xff\xfe")
	})

	t.Run("torn record in another shard", func(t *testing.T) {
		env := testEnv(t, "")
		env.TotalShards = 2
		env.NumRuns = 30
		env.LoadOtherShardFrequency = 1
		writeShard(t, env.Layout(), 1, []string{"\xff\xfe"}, "\xff\xfe")
		appendTornRecord(t, env.Layout().CorpusPath(1))
		writeShard(t, env.Layout(), 1, []string{"\xfd"}, "\xfd")

		e := newTestEngine(t, env, &fakeCallbacks{})
		require.NoError(t, e.FuzzingLoop(ctx))
		require.Equal(t, 30, e.NumRuns())
		require.Contains(t, corpusInputs(e), "\xff\xfe")
	})

	t.Run("merge from other workdir", func(t *testing.T) {
		other := testEnv(t, "")
		writeShard(t, other.Layout(), 0, []string{"\xf0"}, "\xf0")

		env := testEnv(t, "")
		env.MergeFrom = other.Workdir
		e := newTestEngine(t, env, &fakeCallbacks{})
		require.NoError(t, e.FuzzingLoop(ctx))

		require.Contains(t, readStrings(t, env.Layout().CorpusPath(0)), "\xf0")
	})

	t.Run("early exit", func(t *testing.T) {
		env := testEnv(t, "")
		env.NumRuns = 100
		env.Distill = true
		ee := &EarlyExit{}
		ee.Request(0)

		cb := &fakeCallbacks{}
		e := newTestEngine(t, env, cb, WithEarlyExit(ee))
		require.NoError(t, e.FuzzingLoop(ctx))

		require.Zero(t, e.NumRuns())
		require.Len(t, cb.executed, 1)
		require.NoFileExists(t, env.Layout().DistilledPath(0))
	})

	t.Run("canceled context", func(t *testing.T) {
		env := testEnv(t, "")
		env.NumRuns = 100
		ctx, cancel := context.WithCancel(ctx)
		cancel()

		e := newTestEngine(t, env, &fakeCallbacks{})
		require.NoError(t, e.FuzzingLoop(ctx))
		require.Zero(t, e.NumRuns())
	})
}
