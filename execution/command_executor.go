package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/millipede/internal/options"
	"github.com/arloliu/millipede/shmem"
)

const (
	// DefaultShmemSize is the arena size of each of the two segments.
	DefaultShmemSize = 1 << 30
	// DefaultTimeoutPerBatch bounds one run of the target.
	DefaultTimeoutPerBatch = 10 * time.Minute
	// DefaultShmemReleaseThreshold is the high-water mark past which a
	// segment's pages are returned to the system after a batch.
	DefaultShmemReleaseThreshold = 64 << 20

	maxLogSize = 16 << 10
)

// CommandExecutor runs a target binary once per batch, exchanging inputs and
// results through two shared-memory segments it owns.
//
// The target finds the segments through the MILLIPEDE_SHMEM_IN and
// MILLIPEDE_SHMEM_OUT environment variables. When not all inputs fit into
// the inputs segment, or not all results fit into the outputs segment, the
// target is run again for the remaining inputs.
//
// A CommandExecutor serves one engine at a time.
type CommandExecutor struct {
	shmemSize        int
	releaseThreshold int
	timeout          time.Duration
	env              []string

	inputs  *shmem.Sequence
	outputs *shmem.Sequence
	chunk   BatchResult
}

// CommandExecutorOption configures a CommandExecutor.
type CommandExecutorOption = options.Option[*CommandExecutor]

// WithShmemSize sets the arena size of each segment.
func WithShmemSize(size int) CommandExecutorOption {
	return options.New(func(e *CommandExecutor) error {
		if size < shmem.MinSize {
			return fmt.Errorf("shared memory size %d is too small", size)
		}
		e.shmemSize = size

		return nil
	})
}

// WithShmemReleaseThreshold sets the number of used bytes past which a
// segment's pages are released after a batch.
func WithShmemReleaseThreshold(n int) CommandExecutorOption {
	return options.NoError(func(e *CommandExecutor) {
		e.releaseThreshold = n
	})
}

// WithTimeoutPerBatch bounds a single run of the target. Zero disables the limit.
func WithTimeoutPerBatch(timeout time.Duration) CommandExecutorOption {
	return options.NoError(func(e *CommandExecutor) {
		e.timeout = timeout
	})
}

// WithEnv adds KEY=VALUE entries to the target's environment.
func WithEnv(env ...string) CommandExecutorOption {
	return options.NoError(func(e *CommandExecutor) {
		e.env = append(e.env, env...)
	})
}

// NewCommandExecutor creates the executor and its two segments.
func NewCommandExecutor(opts ...CommandExecutorOption) (*CommandExecutor, error) {
	e := &CommandExecutor{
		shmemSize:        DefaultShmemSize,
		releaseThreshold: DefaultShmemReleaseThreshold,
		timeout:          DefaultTimeoutPerBatch,
	}
	if err := options.Apply(e, opts...); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	e.inputs = shmem.Create("/millipede-in-"+id, e.shmemSize)
	e.outputs = shmem.Create("/millipede-out-"+id, e.shmemSize)

	return e, nil
}

// Close removes both segments.
func (e *CommandExecutor) Close() error {
	return errors.Join(e.inputs.Close(), e.outputs.Close())
}

// Execute runs binary on inputs. binary is a command line split on white space.
//
// It returns false when the target failed. The result then describes the
// failure and NumOutputsRead counts the inputs, from the start of the batch,
// whose results were read before it. Inputs too large for the inputs segment
// are skipped and get empty results.
func (e *CommandExecutor) Execute(ctx context.Context, binary string, inputs [][]byte) (BatchResult, bool) {
	result := NewBatchResult(len(inputs))
	defer e.releaseLargeSegments()

	argv := strings.Fields(binary)
	if len(argv) == 0 {
		result.ExitCode = -1
		result.FailureDescription = "empty target command"

		return result, false
	}

	for result.NumOutputsRead < len(inputs) {
		offset := result.NumOutputsRead
		numWritten := WriteInputs(e.inputs, inputs[offset:])
		if numWritten == 0 {
			result.NumOutputsRead++

			continue
		}

		chunk := &e.chunk
		chunk.ClearAndResize(numWritten)
		ok := e.runOnce(ctx, argv, chunk)
		copy(result.Results[offset:], chunk.Results)
		result.NumOutputsRead += chunk.NumOutputsRead
		result.Log += chunk.Log
		if !ok {
			result.ExitCode = chunk.ExitCode
			result.FailureDescription = chunk.FailureDescription

			return result, false
		}
		if chunk.NumOutputsRead == 0 {
			result.ExitCode = chunk.ExitCode
			result.FailureDescription = "target exited without reporting any result"

			return result, false
		}
	}

	return result, true
}

// releaseLargeSegments returns the pages of every segment whose high-water
// mark passed the release threshold.
func (e *CommandExecutor) releaseLargeSegments() {
	for _, seq := range []*shmem.Sequence{e.inputs, e.outputs} {
		if seq.NumBytesUsed() > e.releaseThreshold {
			seq.ReleaseSharedMemory()
		}
	}
}

// runOnce runs the target on the inputs already written to the inputs segment.
func (e *CommandExecutor) runOnce(ctx context.Context, argv []string, chunk *BatchResult) bool {
	e.outputs.Truncate()

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var log bytes.Buffer
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), e.env...)
	cmd.Env = append(cmd.Env,
		EnvShmemIn+"="+e.inputs.Name(),
		EnvShmemOut+"="+e.outputs.Name(),
	)
	cmd.Stdout = &log
	cmd.Stderr = &log
	runErr := cmd.Run()

	chunk.Log = tail(log.Bytes(), maxLogSize)

	e.outputs.Reset()
	if err := ReadOutputs(e.outputs, chunk); err != nil {
		chunk.ExitCode = -1
		chunk.FailureDescription = err.Error()

		return false
	}

	switch {
	case runErr == nil:
		return true
	case ctx.Err() != nil:
		chunk.ExitCode = -1
		chunk.FailureDescription = "canceled"
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		chunk.ExitCode = -1
		chunk.FailureDescription = FailurePerBatchTimeout
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			chunk.ExitCode = exitErr.ExitCode()
		} else {
			chunk.ExitCode = -1
		}
		chunk.FailureDescription = runErr.Error()
	}

	return false
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}

	return string(b)
}
