// Package config holds the settings of a fuzzing run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/millipede/errs"
	"github.com/arloliu/millipede/format"
	"github.com/arloliu/millipede/shard"
)

// Environment is the configuration shared by every shard of a run.
type Environment struct {
	// Workdir is the working directory shared by all shards.
	Workdir string `yaml:"workdir"`
	// Binary is the command line of the target.
	Binary string `yaml:"binary"`
	// ExtraBinaries are comma separated command lines of additional target
	// variants (e.g. sanitizer builds) run on every batch.
	ExtraBinaries string `yaml:"extra_binaries"`
	// BinaryInfo is an optional YAML file with the target's PC table,
	// symbols and call graph.
	BinaryInfo string `yaml:"binary_info"`

	TotalShards     int `yaml:"total_shards"`
	MyShardIndex    int `yaml:"my_shard_index"`
	FirstShardIndex int `yaml:"first_shard_index"`
	NumThreads      int `yaml:"num_threads"`

	NumRuns                 int  `yaml:"num_runs"`
	BatchSize               int  `yaml:"batch_size"`
	MutateBatchSize         int  `yaml:"mutate_batch_size"`
	LoadOtherShardFrequency int  `yaml:"load_other_shard_frequency"`
	PruneFrequency          int  `yaml:"prune_frequency"`
	MaxCorpusSize           int  `yaml:"max_corpus_size"`
	MaxLen                  int  `yaml:"max_len"`
	UseCorpusWeights        bool `yaml:"use_corpus_weights"`
	UseCoverageFrontier     bool `yaml:"use_coverage_frontier"`
	UsePCPairFeatures       bool `yaml:"use_pcpair_features"`

	FeatureFrequencyThreshold int `yaml:"feature_frequency_threshold"`

	ExitOnCrash        bool `yaml:"exit_on_crash"`
	MaxNumCrashReports int  `yaml:"max_num_crash_reports"`

	// Seed seeds every random choice of a shard; 0 derives one from the clock.
	Seed uint64 `yaml:"seed"`

	FullSync            bool   `yaml:"full_sync"`
	MergeFrom           string `yaml:"merge_from"`
	Distill             bool   `yaml:"distill"`
	SerializeShardLoads bool   `yaml:"serialize_shard_loads"`

	// FunctionFilter is a comma separated list of function names; when set,
	// only inputs reaching one of them are kept.
	FunctionFilter string `yaml:"function_filter"`
	// InputFilter is a command run on every novel input, passed as a file
	// path argument; a nonzero exit rejects the input.
	InputFilter string `yaml:"input_filter"`
	// CorpusDir receives a copy of every added input named by its hash.
	CorpusDir string `yaml:"corpus_dir"`

	TimeoutPerBatch string `yaml:"timeout_per_batch"`
	ShmemSizeMB     int    `yaml:"shmem_size_mb"`
	Compression     string `yaml:"compression"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the defaults used for any setting left unset.
func Default() *Environment {
	return &Environment{
		TotalShards:               1,
		NumThreads:                1,
		BatchSize:                 1000,
		MutateBatchSize:           2,
		LoadOtherShardFrequency:   10,
		PruneFrequency:            100,
		MaxCorpusSize:             100000,
		MaxLen:                    4000,
		UseCorpusWeights:          true,
		FeatureFrequencyThreshold: 100,
		MaxNumCrashReports:        5,
		TimeoutPerBatch:           "10m",
		ShmemSizeMB:               1024,
		Compression:               "none",
		LogLevel:                  "info",
	}
}

// Load reads the YAML file at path on top of the defaults. A missing file
// yields the defaults. Environment variables override file settings.
func Load(path string) (*Environment, error) {
	env := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			env.applyEnvOverrides()
			return env, nil
		}

		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	env.applyEnvOverrides()
	env.applyDefaults()

	return env, nil
}

// Save writes env as YAML to path.
func (e *Environment) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (e *Environment) applyEnvOverrides() {
	if dir := os.Getenv("MILLIPEDE_WORKDIR"); dir != "" {
		e.Workdir = dir
	}
	if bin := os.Getenv("MILLIPEDE_BINARY"); bin != "" {
		e.Binary = bin
	}
	if level := os.Getenv("MILLIPEDE_LOG_LEVEL"); level != "" {
		e.LogLevel = level
	}
}

// applyDefaults restores defaults for numeric settings explicitly set to zero
// where zero is meaningless.
func (e *Environment) applyDefaults() {
	def := Default()
	if e.TotalShards <= 0 {
		e.TotalShards = def.TotalShards
	}
	if e.NumThreads <= 0 {
		e.NumThreads = def.NumThreads
	}
	if e.BatchSize <= 0 {
		e.BatchSize = def.BatchSize
	}
	if e.MutateBatchSize <= 0 {
		e.MutateBatchSize = def.MutateBatchSize
	}
	if e.MaxLen <= 0 {
		e.MaxLen = def.MaxLen
	}
	if e.FeatureFrequencyThreshold <= 0 {
		e.FeatureFrequencyThreshold = def.FeatureFrequencyThreshold
	}
	if e.TimeoutPerBatch == "" {
		e.TimeoutPerBatch = def.TimeoutPerBatch
	}
	if e.ShmemSizeMB <= 0 {
		e.ShmemSizeMB = def.ShmemSizeMB
	}
	if e.Compression == "" {
		e.Compression = def.Compression
	}
	if e.LogLevel == "" {
		e.LogLevel = def.LogLevel
	}
}

// Validate checks settings that would make a run meaningless.
func (e *Environment) Validate() error {
	e.applyDefaults()

	if e.Workdir == "" {
		return fmt.Errorf("%w: workdir is required", errs.ErrInvalidConfig)
	}
	if e.MyShardIndex < 0 || e.MyShardIndex >= e.TotalShards {
		return fmt.Errorf("%w: my_shard_index %d out of [0, %d)", errs.ErrInvalidConfig, e.MyShardIndex, e.TotalShards)
	}
	if e.FirstShardIndex < 0 || e.FirstShardIndex+e.NumThreads > e.TotalShards {
		return fmt.Errorf("%w: shards [%d, %d) exceed total_shards %d",
			errs.ErrInvalidConfig, e.FirstShardIndex, e.FirstShardIndex+e.NumThreads, e.TotalShards)
	}
	if e.FeatureFrequencyThreshold > 255 {
		return fmt.Errorf("%w: feature_frequency_threshold %d exceeds 255", errs.ErrInvalidConfig, e.FeatureFrequencyThreshold)
	}
	if e.NumRuns < 0 || e.MaxCorpusSize < 0 || e.PruneFrequency < 0 || e.LoadOtherShardFrequency < 0 {
		return fmt.Errorf("%w: negative counts are not allowed", errs.ErrInvalidConfig)
	}
	if _, ok := format.ParseCompressionType(e.Compression); !ok {
		return fmt.Errorf("%w: unknown compression %q", errs.ErrInvalidConfig, e.Compression)
	}
	if d, err := time.ParseDuration(e.TimeoutPerBatch); err != nil || d < 0 {
		return fmt.Errorf("%w: timeout_per_batch %q", errs.ErrInvalidConfig, e.TimeoutPerBatch)
	}

	return nil
}

// Layout returns the working directory layout.
func (e *Environment) Layout() shard.Layout {
	return shard.NewLayout(e.Workdir)
}

// ForShard returns a copy of e for the given shard index.
func (e *Environment) ForShard(shardIndex int) *Environment {
	cp := *e
	cp.MyShardIndex = shardIndex

	return &cp
}

// GetTimeoutPerBatch returns the per-batch timeout as a duration.
func (e *Environment) GetTimeoutPerBatch() time.Duration {
	d, err := time.ParseDuration(e.TimeoutPerBatch)
	if err != nil {
		return 10 * time.Minute
	}

	return d
}

// GetCompression returns the configured record compression.
func (e *Environment) GetCompression() format.CompressionType {
	c, ok := format.ParseCompressionType(e.Compression)
	if !ok {
		return format.CompressionNone
	}

	return c
}

// ShmemSize returns the size of each shared-memory segment in bytes.
func (e *Environment) ShmemSize() int {
	return e.ShmemSizeMB << 20
}

// ExtraBinaryList splits ExtraBinaries.
func (e *Environment) ExtraBinaryList() []string {
	return splitList(e.ExtraBinaries)
}

// FunctionFilterList splits FunctionFilter.
func (e *Environment) FunctionFilterList() []string {
	return splitList(e.FunctionFilter)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}

	return out
}
