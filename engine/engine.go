package engine

import (
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arloliu/millipede/config"
	"github.com/arloliu/millipede/corpus"
	"github.com/arloliu/millipede/coverage"
	"github.com/arloliu/millipede/featureset"
	"github.com/arloliu/millipede/format"
	"github.com/arloliu/millipede/internal/options"
	"github.com/arloliu/millipede/shard"
	"github.com/arloliu/millipede/stats"
)

// Engine fuzzes one shard. It is not safe for concurrent use; run one
// Engine per goroutine.
type Engine struct {
	env         *config.Environment
	callbacks   Callbacks
	logger      *zap.Logger
	stats       *stats.Stats
	rng         *rand.Rand
	seed        uint64
	layout      shard.Layout
	compression format.CompressionType

	fs             *featureset.FeatureSet
	corpus         *corpus.Corpus
	binaryInfo     *coverage.BinaryInfo
	frontier       *coverage.Frontier
	functionFilter *coverage.FunctionFilter

	earlyExit     *EarlyExit
	shardLoadLock *sync.Mutex

	numRuns    int
	numCrashes int
	fuzzStart  time.Time
}

// Option configures an Engine.
type Option = options.Option[*Engine]

// WithLogger sets the logger. The engine adds a "shard" field to it.
func WithLogger(logger *zap.Logger) Option {
	return options.NoError(func(e *Engine) {
		e.logger = logger
	})
}

// WithBinaryInfo supplies the target's PC table, symbols and call graph
// instead of loading them from the configured binary_info file.
func WithBinaryInfo(info *coverage.BinaryInfo) Option {
	return options.NoError(func(e *Engine) {
		e.binaryInfo = info
	})
}

// WithStats sets the metrics of the shard.
func WithStats(s *stats.Stats) Option {
	return options.NoError(func(e *Engine) {
		e.stats = s
	})
}

// WithEarlyExit shares a stop request between engines.
func WithEarlyExit(ee *EarlyExit) Option {
	return options.NoError(func(e *Engine) {
		e.earlyExit = ee
	})
}

// WithShardLoadLock shares the lock that serializes shard loads when
// serialize_shard_loads is set.
func WithShardLoadLock(mu *sync.Mutex) Option {
	return options.NoError(func(e *Engine) {
		e.shardLoadLock = mu
	})
}

// New creates the engine of shard env.MyShardIndex and the working
// directory if it does not exist yet.
func New(env *config.Environment, callbacks Callbacks, opts ...Option) (*Engine, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(env.Workdir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workdir: %w", err)
	}

	e := &Engine{
		env:         env,
		callbacks:   callbacks,
		layout:      env.Layout(),
		compression: env.GetCompression(),
		fs:          featureset.New(uint8(env.FeatureFrequencyThreshold)),
		corpus:      corpus.New(),
	}
	if err := options.Apply(e, opts...); err != nil {
		return nil, err
	}

	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.Int("shard", env.MyShardIndex))
	if e.stats == nil {
		e.stats = stats.New(nil, env.MyShardIndex)
	}
	if e.earlyExit == nil {
		e.earlyExit = &EarlyExit{}
	}
	if e.shardLoadLock == nil {
		e.shardLoadLock = &sync.Mutex{}
	}

	if e.binaryInfo == nil && env.BinaryInfo != "" {
		info, err := coverage.LoadBinaryInfo(env.BinaryInfo)
		if err != nil {
			return nil, fmt.Errorf("failed to load binary info: %w", err)
		}
		e.binaryInfo = info
	}
	var symbols coverage.SymbolTable
	if e.binaryInfo != nil {
		symbols = e.binaryInfo.Symbols
	}
	e.frontier = coverage.NewFrontier(e.binaryInfo)
	e.functionFilter = coverage.NewFunctionFilter(env.FunctionFilterList(), symbols)

	e.seed = env.Seed
	if e.seed == 0 {
		e.seed = uint64(time.Now().UnixNano())
	}
	e.rng = rand.New(rand.NewPCG(e.seed, uint64(env.MyShardIndex)))

	return e, nil
}

// Env returns the configuration of the shard.
func (e *Engine) Env() *config.Environment {
	return e.env
}

// Corpus returns the in-memory corpus.
func (e *Engine) Corpus() *corpus.Corpus {
	return e.corpus
}

// FeatureSet returns the features observed so far.
func (e *Engine) FeatureSet() *featureset.FeatureSet {
	return e.fs
}

// NumRuns returns the number of inputs executed since fuzzing started.
func (e *Engine) NumRuns() int {
	return e.numRuns
}

// NumCrashes returns the number of failed batches seen.
func (e *Engine) NumCrashes() int {
	return e.numCrashes
}

// EarlyExit returns the stop request the engine honors.
func (e *Engine) EarlyExit() *EarlyExit {
	return e.earlyExit
}
