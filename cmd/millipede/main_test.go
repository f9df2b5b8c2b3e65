package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoadEnv(t *testing.T) {
	t.Setenv("MILLIPEDE_WORKDIR", "")
	t.Setenv("MILLIPEDE_BINARY", "")
	t.Setenv("MILLIPEDE_LOG_LEVEL", "")

	dir := t.TempDir()
	configPath = filepath.Join(dir, "millipede.yaml")
	yaml := "workdir: /from/yaml\nbatch_size: 7\nnum_runs: 100\nlog_level: warn\n"
	require.NoError(t, os.WriteFile(configPath, []byte(yaml), 0o644))

	require.NoError(t, fuzzCmd.ParseFlags([]string{"--workdir", dir, "--num_runs", "5", "--exit_on_crash"}))

	env, err := loadEnv(fuzzCmd)
	require.NoError(t, err)
	require.Equal(t, dir, env.Workdir)
	require.Equal(t, 5, env.NumRuns)
	require.True(t, env.ExitOnCrash)
	require.Equal(t, 7, env.BatchSize)
	// Flags left alone keep the file's or the default value.
	require.Equal(t, 1, env.TotalShards)
	require.Equal(t, zapcore.WarnLevel, logLevel.Level())
}
