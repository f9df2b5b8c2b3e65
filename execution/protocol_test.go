package execution

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/millipede/errs"
	"github.com/arloliu/millipede/feature"
	"github.com/arloliu/millipede/shmem"
)

func newSegment(t *testing.T, size int) *shmem.Sequence {
	t.Helper()
	s := shmem.Create("/millipede-execution-test-"+uuid.NewString(), size)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	return s
}

func TestWriteInputs(t *testing.T) {
	seq := newSegment(t, 64)
	inputs := [][]byte{make([]byte, 10), make([]byte, 10), make([]byte, 10)}

	require.Equal(t, 2, WriteInputs(seq, inputs))

	seq.Reset()
	got := ReadInputs(seq)
	require.Len(t, got, 2)
	require.Len(t, got[1], 10)
}

func TestPackFeatures(t *testing.T) {
	fv := feature.Vec{1, 1 << 40, feature.PCIndexToFeature(7)}
	packed := PackFeatures(nil, fv)
	require.Len(t, packed, 24)
	require.Equal(t, byte(1), packed[0])

	got, err := UnpackFeatures(packed)
	require.NoError(t, err)
	require.Equal(t, fv, got)

	_, err = UnpackFeatures(packed[:5])
	require.ErrorIs(t, err, errs.ErrInvalidExecutionOutput)
}

func TestReadOutputs(t *testing.T) {
	t.Run("complete outputs", func(t *testing.T) {
		seq := newSegment(t, 1024)
		require.True(t, WriteOutput(seq, Result{Features: feature.Vec{1, 2}}, nil))
		require.True(t, WriteOutput(seq, Result{Features: feature.Vec{3}, CmpArgs: []byte{9, 9}}, nil))

		seq.Reset()
		result := NewBatchResult(3)
		require.NoError(t, ReadOutputs(seq, &result))
		require.Equal(t, 2, result.NumOutputsRead)
		require.Equal(t, feature.Vec{1, 2}, result.Results[0].Features)
		require.Equal(t, []byte{9, 9}, result.Results[1].CmpArgs)
		require.Empty(t, result.Results[2].Features)
	})

	t.Run("interrupted input is not counted", func(t *testing.T) {
		seq := newSegment(t, 1024)
		require.True(t, WriteOutput(seq, Result{Features: feature.Vec{1}}, nil))
		require.True(t, seq.Write(shmem.Blob{Tag: TagInputBegin}))
		require.True(t, seq.Write(shmem.Blob{Tag: TagFeatures, Data: PackFeatures(nil, feature.Vec{5})}))

		seq.Reset()
		result := NewBatchResult(2)
		require.NoError(t, ReadOutputs(seq, &result))
		require.Equal(t, 1, result.NumOutputsRead)
		require.Empty(t, result.Results[1].Features)
	})

	t.Run("more outputs than inputs", func(t *testing.T) {
		seq := newSegment(t, 1024)
		require.True(t, WriteOutput(seq, Result{}, nil))
		require.True(t, WriteOutput(seq, Result{}, nil))

		seq.Reset()
		result := NewBatchResult(1)
		require.ErrorIs(t, ReadOutputs(seq, &result), errs.ErrInvalidExecutionOutput)
	})

	t.Run("unmatched end", func(t *testing.T) {
		seq := newSegment(t, 1024)
		require.True(t, seq.Write(shmem.Blob{Tag: TagInputEnd}))

		seq.Reset()
		result := NewBatchResult(1)
		require.ErrorIs(t, ReadOutputs(seq, &result), errs.ErrInvalidExecutionOutput)
	})

	t.Run("output does not fit", func(t *testing.T) {
		seq := newSegment(t, 40)
		require.False(t, WriteOutput(seq, Result{Features: feature.Vec{1}}, nil))
	})
}

func TestBatchResult(t *testing.T) {
	r := NewBatchResult(2)
	r.ExitCode = 1
	r.FailureDescription = FailurePerBatchTimeout
	require.True(t, r.IsPerBatchTimeout())

	r.ClearAndResize(3)
	require.Len(t, r.Results, 3)
	require.Zero(t, r.ExitCode)
	require.False(t, r.IsPerBatchTimeout())

	r.Results[0].Features = feature.Vec{1}
	r.NumOutputsRead = 1
	backing := &r.Results[0]
	r.ClearAndResize(2)
	require.Len(t, r.Results, 2)
	require.Same(t, backing, &r.Results[0])
	require.Empty(t, r.Results[0].Features)
	require.Zero(t, r.NumOutputsRead)
}
