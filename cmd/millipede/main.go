// Command millipede runs and maintains distributed fuzzing campaigns.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arloliu/millipede/config"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// flagEnv receives the values of configuration flags. Only flags set on
	// the command line are copied into the loaded configuration.
	flagEnv      = config.Default()
	envOverrides = map[string]func(env *config.Environment){}

	logger   *zap.Logger
	logLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

var rootCmd = &cobra.Command{
	Use:   "millipede",
	Short: "Distributed coverage-guided fuzzing engine",
	Long: `millipede fuzzes a target with many independent shards that share
nothing but a working directory.

Settings come from the YAML file given by --config, then from environment
variables (MILLIPEDE_WORKDIR, MILLIPEDE_BINARY, MILLIPEDE_LOG_LEVEL), then
from command line flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapConfig := zap.NewProductionConfig()
		if verbose {
			logLevel.SetLevel(zapcore.DebugLevel)
		}
		zapConfig.Level = logLevel
		var err error
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	flags.StringVarP(&configPath, "config", "c", "millipede.yaml", "Path to the YAML configuration")

	bindEnvFlag(flags, flags.StringVar, "workdir", "Working directory shared by all shards",
		func(e *config.Environment) *string { return &e.Workdir })
	bindEnvFlag(flags, flags.StringVar, "binary", "Command line of the target",
		func(e *config.Environment) *string { return &e.Binary })
	bindEnvFlag(flags, flags.StringVar, "extra_binaries", "Comma separated command lines of target variants",
		func(e *config.Environment) *string { return &e.ExtraBinaries })
	bindEnvFlag(flags, flags.StringVar, "binary_info", "YAML file with the target's PC table, symbols and call graph",
		func(e *config.Environment) *string { return &e.BinaryInfo })
	bindEnvFlag(flags, flags.IntVar, "total_shards", "Number of shards of the campaign",
		func(e *config.Environment) *int { return &e.TotalShards })
	bindEnvFlag(flags, flags.IntVar, "first_shard_index", "First shard run by this process",
		func(e *config.Environment) *int { return &e.FirstShardIndex })
	bindEnvFlag(flags, flags.IntVar, "num_threads", "Number of shards run by this process",
		func(e *config.Environment) *int { return &e.NumThreads })
	bindEnvFlag(flags, flags.IntVar, "num_runs", "Number of executions per shard",
		func(e *config.Environment) *int { return &e.NumRuns })
	bindEnvFlag(flags, flags.IntVar, "batch_size", "Number of inputs per batch",
		func(e *config.Environment) *int { return &e.BatchSize })
	bindEnvFlag(flags, flags.IntVar, "max_corpus_size", "Corpus size pruning aims for",
		func(e *config.Environment) *int { return &e.MaxCorpusSize })
	bindEnvFlag(flags, flags.IntVar, "max_len", "Maximal length of a mutant",
		func(e *config.Environment) *int { return &e.MaxLen })
	bindEnvFlag(flags, flags.BoolVar, "use_coverage_frontier", "Favor inputs near uncovered code",
		func(e *config.Environment) *bool { return &e.UseCoverageFrontier })
	bindEnvFlag(flags, flags.BoolVar, "use_pcpair_features", "Add features for pairs of covered PCs",
		func(e *config.Environment) *bool { return &e.UsePCPairFeatures })
	bindEnvFlag(flags, flags.BoolVar, "exit_on_crash", "Stop all shards on the first crash",
		func(e *config.Environment) *bool { return &e.ExitOnCrash })
	bindEnvFlag(flags, flags.Uint64Var, "seed", "Random seed; 0 derives one from the clock",
		func(e *config.Environment) *uint64 { return &e.Seed })
	bindEnvFlag(flags, flags.BoolVar, "full_sync", "Load every shard on start",
		func(e *config.Environment) *bool { return &e.FullSync })
	bindEnvFlag(flags, flags.StringVar, "merge_from", "Working directory to merge inputs from",
		func(e *config.Environment) *string { return &e.MergeFrom })
	bindEnvFlag(flags, flags.BoolVar, "distill", "Write a distilled corpus after fuzzing",
		func(e *config.Environment) *bool { return &e.Distill })
	bindEnvFlag(flags, flags.StringVar, "corpus_dir", "Directory receiving every added input",
		func(e *config.Environment) *string { return &e.CorpusDir })
	bindEnvFlag(flags, flags.StringVar, "timeout_per_batch", "Time limit of one target run",
		func(e *config.Environment) *string { return &e.TimeoutPerBatch })
	bindEnvFlag(flags, flags.StringVar, "compression", "Shard file compression: none, zstd, s2, lz4 or snappy",
		func(e *config.Environment) *string { return &e.Compression })
	bindEnvFlag(flags, flags.StringVar, "metrics_addr", "Address serving Prometheus metrics",
		func(e *config.Environment) *string { return &e.MetricsAddr })
	bindEnvFlag(flags, flags.StringVar, "log_level", "Log level: debug, info, warn or error",
		func(e *config.Environment) *string { return &e.LogLevel })

	rootCmd.AddCommand(fuzzCmd, distillCmd, saveCorpusCmd, exportCorpusCmd)
}

// bindEnvFlag defines a flag backed by a field of flagEnv and records how
// to copy it into a loaded configuration.
func bindEnvFlag[T any](flags *pflag.FlagSet, define func(*T, string, T, string), name, usage string,
	field func(*config.Environment) *T,
) {
	p := field(flagEnv)
	define(p, name, *p, usage)
	envOverrides[name] = func(env *config.Environment) {
		*field(env) = *field(flagEnv)
	}
}

// loadEnv loads the configuration and applies the flags set on cmd.
func loadEnv(cmd *cobra.Command) (*config.Environment, error) {
	env, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if apply, ok := envOverrides[f.Name]; ok {
			apply(env)
		}
	})
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if !verbose {
		level, err := zapcore.ParseLevel(env.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log_level %q: %w", env.LogLevel, err)
		}
		logLevel.SetLevel(level)
	}

	return env, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
