package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/millipede/errs"
	"github.com/arloliu/millipede/format"
)

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		env, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)
		require.Equal(t, Default(), env)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "millipede.yaml")
		data := "workdir: /tmp/wd\nbinary: ./target --flag\ntotal_shards: 4\nmy_shard_index: 3\nbatch_size: 0\nuse_corpus_weights: false\ncompression: zstd\ntimeout_per_batch: 30s\n"
		require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

		env, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, "/tmp/wd", env.Workdir)
		require.Equal(t, "./target --flag", env.Binary)
		require.Equal(t, 4, env.TotalShards)
		require.Equal(t, 3, env.MyShardIndex)
		require.Equal(t, 1000, env.BatchSize, "zero batch size falls back to the default")
		require.False(t, env.UseCorpusWeights)
		require.Equal(t, format.CompressionZstd, env.GetCompression())
		require.Equal(t, 30*time.Second, env.GetTimeoutPerBatch())
		require.Equal(t, 100, env.PruneFrequency)
		require.NoError(t, env.Validate())
	})

	t.Run("env overrides file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "millipede.yaml")
		require.NoError(t, os.WriteFile(path, []byte("workdir: /from/file\n"), 0o644))
		t.Setenv("MILLIPEDE_WORKDIR", "/from/env")

		env, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, "/from/env", env.Workdir)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("batch_size: [1\n"), 0o644))

		_, err := Load(path)
		require.Error(t, err)
	})
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "millipede.yaml")
	env := Default()
	env.Workdir = "/wd"
	env.Seed = 1234
	env.ExtraBinaries = "./asan, ./ubsan"
	require.NoError(t, env.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, env, loaded)
	require.Equal(t, []string{"./asan", "./ubsan"}, loaded.ExtraBinaryList())
}

func TestValidate(t *testing.T) {
	valid := func() *Environment {
		env := Default()
		env.Workdir = "/wd"

		return env
	}

	tests := []struct {
		name   string
		mutate func(*Environment)
	}{
		{"no workdir", func(e *Environment) { e.Workdir = "" }},
		{"shard index out of range", func(e *Environment) { e.MyShardIndex = 1 }},
		{"threads exceed shards", func(e *Environment) { e.TotalShards = 2; e.FirstShardIndex = 1; e.NumThreads = 2 }},
		{"threshold too large", func(e *Environment) { e.FeatureFrequencyThreshold = 300 }},
		{"negative runs", func(e *Environment) { e.NumRuns = -1 }},
		{"unknown compression", func(e *Environment) { e.Compression = "brotli" }},
		{"bad timeout", func(e *Environment) { e.TimeoutPerBatch = "soon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := valid()
			tt.mutate(env)
			require.ErrorIs(t, env.Validate(), errs.ErrInvalidConfig)
		})
	}

	require.NoError(t, valid().Validate())
}

func TestHelpers(t *testing.T) {
	env := Default()
	env.Workdir = "/wd"
	env.FunctionFilter = "foo,,bar "
	env.ShmemSizeMB = 2

	require.Equal(t, []string{"foo", "bar"}, env.FunctionFilterList())
	require.Nil(t, env.ExtraBinaryList())
	require.Equal(t, 2<<20, env.ShmemSize())
	require.Equal(t, "/wd/corpus.000000", env.Layout().CorpusPath(0))

	cp := env.ForShard(3)
	require.Equal(t, 3, cp.MyShardIndex)
	require.Zero(t, env.MyShardIndex)

	env.TimeoutPerBatch = "bogus"
	require.Equal(t, 10*time.Minute, env.GetTimeoutPerBatch())
	env.Compression = "bogus"
	require.Equal(t, format.CompressionNone, env.GetCompression())
}
