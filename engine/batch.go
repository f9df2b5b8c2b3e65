package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arloliu/millipede/errs"
	"github.com/arloliu/millipede/execution"
	"github.com/arloliu/millipede/feature"
	"github.com/arloliu/millipede/internal/hash"
	"github.com/arloliu/millipede/shard"
)

// RecordWriter is a sink for shard file records. *blobfile.Writer
// implements it.
type RecordWriter interface {
	Write(record []byte) error
}

// RunBatch executes inputs and keeps those that produce new features.
//
// Novel inputs that pass the input filter go into the feature set. Those
// that also pass the function filter are added to the corpus and appended
// to corpusW and featuresW. unconditionalW, if not nil, receives the
// features of every executed input. Any writer may be nil.
//
// RunBatch reports whether any input was kept. It returns false without
// looking at the results when the batch failed and exit_on_crash is set.
func (e *Engine) RunBatch(ctx context.Context, inputs [][]byte, corpusW, featuresW, unconditionalW RecordWriter) (bool, error) {
	start := time.Now()
	result, success := e.execute(ctx, e.env.Binary, inputs)
	for _, extra := range e.env.ExtraBinaryList() {
		if e.shouldStop(ctx) {
			break
		}
		// Extra binaries only report crashes; their features are ignored.
		if _, ok := e.execute(ctx, extra, inputs); !ok {
			success = false
		}
	}
	e.stats.ObserveBatch(len(inputs), time.Since(start))

	if !success && e.env.ExitOnCrash {
		e.logger.Info("exit_on_crash is enabled; exiting soon")
		e.earlyExit.Request(1)

		return false, nil
	}
	e.numRuns += len(inputs)

	gained := false
	for i, input := range inputs {
		if e.shouldStop(ctx) {
			break
		}

		fv := result.Results[i].Features
		functionFilterPassed := e.functionFilter.Filter(fv)
		novel := e.fs.CountUnseenAndPruneFrequentFeatures(&fv) != 0
		if e.env.UsePCPairFeatures && e.addPCPairFeatures(&fv) != 0 {
			novel = true
		}

		if unconditionalW != nil {
			if err := unconditionalW.Write(shard.PackFeaturesAndHash(input, fv)); err != nil {
				return gained, fmt.Errorf("failed to write features: %w", err)
			}
		}
		if !novel || !e.inputPassesFilter(ctx, input) {
			continue
		}

		e.fs.IncrementFrequencies(fv)
		e.logger.Debug("new input",
			zap.String("hash", hash.Hex(input)),
			zap.Int("features", len(fv)),
			zap.Bool("function_filter_passed", functionFilterPassed))
		if !functionFilterPassed {
			continue
		}

		e.corpus.Add(input, fv, result.Results[i].CmpArgs, e.fs, e.frontier)
		if corpusW != nil {
			if err := corpusW.Write(input); err != nil {
				return gained, fmt.Errorf("failed to write corpus: %w", err)
			}
		}
		if featuresW != nil {
			if err := featuresW.Write(shard.PackFeaturesAndHash(input, fv)); err != nil {
				return gained, fmt.Errorf("failed to write features: %w", err)
			}
		}
		if err := writeToHashedFileInDir(e.env.CorpusDir, input); err != nil {
			return gained, err
		}
		gained = true
	}

	return gained, nil
}

// execute runs inputs on binary and triages a failure.
func (e *Engine) execute(ctx context.Context, binary string, inputs [][]byte) (execution.BatchResult, bool) {
	result, ok := e.callbacks.Execute(ctx, binary, inputs)
	if len(result.Results) != len(inputs) {
		panic(fmt.Errorf("%w: %d results for %d inputs", errs.ErrBatchResultMismatch, len(result.Results), len(inputs)))
	}
	if !ok {
		e.ReportCrash(ctx, binary, inputs, result)
	}

	return result, ok
}

// addPCPairFeatures appends a feature for every pair of PCs in fv whose
// pair feature was never seen, and returns how many it added.
//
// The number of pairs is quadratic in the number of PCs of one input.
func (e *Engine) addPCPairFeatures(fv *feature.Vec) int {
	numPCs := uint64(e.binaryInfo.NumPCs())
	if numPCs == 0 {
		return 0
	}

	var pcs []uint64
	for _, f := range *fv {
		if feature.PCs.Contains(f) {
			pcs = append(pcs, feature.FeatureToPCIndex(f))
		}
	}

	added := 0
	for i, pc1 := range pcs {
		for _, pc2 := range pcs[i+1:] {
			lo, hi := min(pc1, pc2), max(pc1, pc2)
			f := feature.PCPair.ConvertToMe(feature.PCPairToNumber(lo, hi, numPCs))
			if e.fs.Frequency(f) != 0 {
				continue
			}
			*fv = append(*fv, f)
			added++
		}
	}

	return added
}

// inputPassesFilter runs the input_filter command with a file holding input
// as its last argument. The input passes if the command exits with 0.
func (e *Engine) inputPassesFilter(ctx context.Context, input []byte) bool {
	argv := strings.Fields(e.env.InputFilter)
	if len(argv) == 0 {
		return true
	}

	f, err := os.CreateTemp("", "millipede-input-*")
	if err != nil {
		e.logger.Warn("failed to create input filter file", zap.Error(err))
		return false
	}
	path := f.Name()
	defer os.Remove(path)

	_, err = f.Write(input)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		e.logger.Warn("failed to write input filter file", zap.Error(err))
		return false
	}

	cmd := exec.CommandContext(ctx, argv[0], append(argv[1:], path)...)

	return cmd.Run() == nil
}

// writeToHashedFileInDir saves data to dir under its content hash. An empty
// dir disables it.
func writeToHashedFileInDir(dir string, data []byte) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create corpus dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, hash.Hex(data)), data, 0o644); err != nil {
		return fmt.Errorf("failed to write corpus dir input: %w", err)
	}

	return nil
}
