// Package runner is the target side of the execution protocol. A target
// program calls Run from main with a function that executes one input and
// reports the features it observed.
package runner

import (
	"errors"
	"fmt"
	"os"

	"github.com/arloliu/millipede/execution"
	"github.com/arloliu/millipede/internal/pool"
	"github.com/arloliu/millipede/shmem"
)

// TestOneInput executes one input. data aliases shared memory and must not
// be retained after the call returns.
type TestOneInput func(data []byte) execution.Result

// ErrNotUnderEngine is returned by Run when the process was not started by
// an executor.
var ErrNotUnderEngine = errors.New("runner: shared memory environment variables are not set")

// Run attaches to the segments named by the environment and serves one batch.
func Run(fn TestOneInput) error {
	inName, outName := os.Getenv(execution.EnvShmemIn), os.Getenv(execution.EnvShmemOut)
	if inName == "" || outName == "" {
		return ErrNotUnderEngine
	}

	in := shmem.Attach(inName)
	out := shmem.Attach(outName)
	served := Serve(in, out, fn)

	return errors.Join(served, in.Close(), out.Close())
}

// Serve executes every input found in the inputs segment and writes the
// results to the outputs segment, stopping early when it fills up.
func Serve(in, out *shmem.Sequence, fn TestOneInput) error {
	in.Reset()
	inputs := execution.ReadInputs(in)

	out.Reset()
	scratch := pool.GetBatchBuffer()
	defer pool.PutBatchBuffer(scratch)

	for i, data := range inputs {
		res := fn(data)
		scratch.Reset()
		scratch.Grow(len(res.Features) * 8)
		if !execution.WriteOutput(out, res, scratch.Bytes()) {
			// The executor reruns the remaining inputs.
			if i == 0 {
				return fmt.Errorf("output of the first input does not fit into %d bytes", out.Size())
			}

			return nil
		}
	}

	return nil
}
