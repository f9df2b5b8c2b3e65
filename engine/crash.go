package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/arloliu/millipede/execution"
	"github.com/arloliu/millipede/internal/hash"
)

// ReportCrash triages a failed batch of inputs run on binary and saves the
// evidence under the crash directory.
//
// Inputs are retried one at a time, starting with the suspect: the first
// input whose result was never read. The first input that fails alone is
// saved as a reproducer named by its hash. If none does, inputs up to and
// including the suspect are saved as an unreliable batch. A batch that timed
// out as a whole is not retried.
//
// Once max_num_crash_reports is exceeded the failure is no longer logged in
// detail, but it is still triaged and saved.
func (e *Engine) ReportCrash(ctx context.Context, binary string, inputs [][]byte, result execution.BatchResult) {
	if len(inputs) == 0 {
		return
	}
	e.numCrashes++
	e.stats.Crashes.Inc()

	verbose := e.numCrashes <= e.env.MaxNumCrashReports
	suspect := min(result.NumOutputsRead, len(inputs)-1)
	logger := e.logger.With(zap.String("binary", binary))

	if verbose {
		logger.Info("batch execution failed",
			zap.Int("exit_code", result.ExitCode),
			zap.String("failure", result.FailureDescription),
			zap.Int("num_inputs", len(inputs)),
			zap.Int("num_outputs_read", result.NumOutputsRead),
			zap.Int("suspect_index", suspect))
		for _, line := range strings.Split(strings.TrimSpace(result.Log), "\n") {
			logger.Info("CRASH LOG: " + line)
		}
		if e.numCrashes == e.env.MaxNumCrashReports {
			logger.Info("reached max_num_crash_reports: further reports will be suppressed")
		}
	}

	if result.IsPerBatchTimeout() {
		if verbose {
			logger.Info("failure applies to the entire batch: not executing inputs one by one")
		}
		return
	}

	order := make([]int, 0, len(inputs)+1)
	order = append(order, suspect)
	for i := range inputs {
		order = append(order, i)
	}

	for _, idx := range order {
		if e.shouldStop(ctx) {
			break
		}
		if _, ok := e.callbacks.Execute(ctx, binary, inputs[idx:idx+1]); ok {
			continue
		}

		path := e.layout.CrashReproducerPath(hash.Hex(inputs[idx]))
		if err := saveInput(path, inputs[idx]); err != nil {
			logger.Error("failed to save crash reproducer", zap.Error(err))
			return
		}
		if verbose {
			logger.Info("detected crash-reproducing input",
				zap.Int("input_index", idx),
				zap.Int("input_size", len(inputs[idx])),
				zap.String("path", path))
		}

		return
	}

	dir := e.layout.UnreliableBatchDir(hash.Hex(inputs[suspect]))
	if verbose {
		logger.Info("crash was not observed when running inputs one by one; saving the batch",
			zap.String("dir", dir))
	}
	for i, input := range inputs[:suspect+1] {
		name := fmt.Sprintf("input-%010d-%s", i, hash.Hex(input))
		if err := saveInput(filepath.Join(dir, name), input); err != nil {
			logger.Error("failed to save unreliable batch", zap.Error(err))
			return
		}
	}
}

func saveInput(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create crash dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save input: %w", err)
	}

	return nil
}
