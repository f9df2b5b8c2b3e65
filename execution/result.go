// Package execution defines the result of running a batch of inputs against
// a target, the shared-memory wire protocol used to exchange batches with an
// out-of-process target, and a subprocess-based executor.
package execution

import (
	"github.com/arloliu/millipede/feature"
)

// FailurePerBatchTimeout is the failure description of a batch killed
// because it ran past its deadline as a whole. No single input can be
// blamed for it.
const FailurePerBatchTimeout = "per-batch-timeout-exceeded"

// Result is what one execution of one input produced.
type Result struct {
	Features feature.Vec
	CmpArgs  []byte
}

// BatchResult is the outcome of executing a batch of inputs.
//
// Results always has one entry per input of the batch. Entries at and after
// NumOutputsRead were never reported by the target and are empty.
type BatchResult struct {
	Results            []Result
	ExitCode           int
	FailureDescription string
	Log                string
	// NumOutputsRead is the number of inputs whose results were completely
	// read before the batch ended or failed.
	NumOutputsRead int
}

// NewBatchResult returns an empty result for a batch of n inputs.
func NewBatchResult(n int) BatchResult {
	return BatchResult{Results: make([]Result, n)}
}

// ClearAndResize empties r and sizes it for n inputs, reusing the storage of
// Results when it is large enough.
func (r *BatchResult) ClearAndResize(n int) {
	results := r.Results
	if cap(results) < n {
		results = make([]Result, n)
	} else {
		results = results[:n]
		clear(results)
	}
	*r = BatchResult{Results: results}
}

// IsPerBatchTimeout reports whether the batch failed as a whole by timing out.
func (r *BatchResult) IsPerBatchTimeout() bool {
	return r.FailureDescription == FailurePerBatchTimeout
}
