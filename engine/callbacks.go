package engine

import (
	"context"

	"github.com/arloliu/millipede/config"
	"github.com/arloliu/millipede/execution"
	"github.com/arloliu/millipede/mutator"
)

// Executor runs a batch of inputs against a target binary.
//
// It returns false when the batch failed. The BatchResult must hold one
// Result per input either way.
type Executor interface {
	Execute(ctx context.Context, binary string, inputs [][]byte) (execution.BatchResult, bool)
}

// Mutator produces new inputs from corpus elements.
type Mutator interface {
	// Mutate returns n mutants of inputs.
	Mutate(inputs [][]byte, n int) [][]byte
	// SetCmpDictionary primes the mutator with comparison operands recorded
	// for a corpus element and reports whether it used any.
	SetCmpDictionary(cmpArgs []byte) bool
}

// Callbacks is everything the engine needs from the outside world.
type Callbacks interface {
	Executor
	Mutator
	// DummyValidInput returns an input the target accepts, used to seed an
	// empty corpus.
	DummyValidInput() []byte
}

// DefaultCallbacks runs the target as a subprocess per batch and mutates
// inputs as byte arrays.
type DefaultCallbacks struct {
	*execution.CommandExecutor
	*mutator.ByteArray
}

var _ Callbacks = (*DefaultCallbacks)(nil)

// NewDefaultCallbacks creates callbacks for env. seed drives the mutator.
func NewDefaultCallbacks(env *config.Environment, seed uint64) (*DefaultCallbacks, error) {
	executor, err := execution.NewCommandExecutor(
		execution.WithShmemSize(env.ShmemSize()),
		execution.WithTimeoutPerBatch(env.GetTimeoutPerBatch()),
	)
	if err != nil {
		return nil, err
	}

	return &DefaultCallbacks{
		CommandExecutor: executor,
		ByteArray:       mutator.NewByteArray(seed, mutator.WithMaxLen(env.MaxLen)),
	}, nil
}

// DummyValidInput returns a single zero byte.
func (c *DefaultCallbacks) DummyValidInput() []byte {
	return []byte{0}
}

// Close releases the executor's shared memory.
func (c *DefaultCallbacks) Close() error {
	return c.CommandExecutor.Close()
}
