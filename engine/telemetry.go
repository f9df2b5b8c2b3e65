package engine

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/arloliu/millipede/feature"
)

// logStats updates the shard metrics and logs a one-line progress report
// of the given kind.
func (e *Engine) logStats(kind string) {
	covered := e.fs.CountFeatures(feature.PCs)
	e.stats.SetCorpus(e.corpus.NumActive(), e.corpus.NumTotal(), e.fs.Size(), covered)

	cmp := 0
	for _, d := range feature.CMPDomains {
		cmp += e.fs.CountFeatures(d)
	}

	fields := []zap.Field{
		zap.Int("runs", e.numRuns),
		zap.Int("ft", e.fs.Size()),
		zap.Int("cov", covered),
		zap.Int("cnt", e.fs.CountFeatures(feature.EightBitCounters)),
		zap.Int("df", e.fs.CountFeatures(feature.DataFlow)),
		zap.Int("cmp", cmp),
		zap.Int("path", e.fs.CountFeatures(feature.BoundedPath)),
		zap.Int("pair", e.fs.CountFeatures(feature.PCPair)),
		zap.Int("stk", e.fs.CountFeatures(feature.CallStack)),
	}
	for _, d := range feature.UserDomains {
		if n := e.fs.CountFeatures(d); n != 0 {
			fields = append(fields, zap.Int(d.Name(), n))
		}
	}

	maxSize, avgSize := e.corpus.MaxAndAvgSize()
	fields = append(fields,
		zap.String("corp", fmt.Sprintf("%d/%d", e.corpus.NumActive(), e.corpus.NumTotal())),
		zap.Int("fr", e.frontier.NumFunctionsInFrontier()),
		zap.Int("crash", e.numCrashes),
		zap.String("max/avg", fmt.Sprintf("%d/%d", maxSize, avgSize)),
		zap.String("mem", e.corpus.MemoryUsageString()),
		zap.Float64("exec/s", e.execsPerSecond()),
	)

	e.logger.Info(kind, fields...)
}

func (e *Engine) execsPerSecond() float64 {
	if e.fuzzStart.IsZero() {
		return 0
	}
	elapsed := time.Since(e.fuzzStart).Seconds()
	if elapsed <= 0 {
		return 0
	}

	return float64(e.numRuns) / elapsed
}

// writeCorpusStats dumps corpus statistics to the working directory. Only
// shard 0 writes them, and only once something ran.
func (e *Engine) writeCorpusStats(annotation string) {
	if e.env.MyShardIndex != 0 || e.numRuns == 0 {
		return
	}

	path := e.layout.CorpusStatsPath(annotation, e.env.MyShardIndex)
	f, err := os.Create(path)
	if err != nil {
		e.logger.Warn("failed to create corpus stats", zap.String("path", path), zap.Error(err))
		return
	}
	err = e.corpus.PrintStats(f, e.fs)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		e.logger.Warn("failed to write corpus stats", zap.String("path", path), zap.Error(err))
	}
}
