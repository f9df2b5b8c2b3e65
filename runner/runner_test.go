package runner

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/millipede/execution"
	"github.com/arloliu/millipede/feature"
	"github.com/arloliu/millipede/shmem"
)

func segmentPair(t *testing.T, size int) (owner, peer *shmem.Sequence) {
	t.Helper()
	name := "/millipede-runner-test-" + uuid.NewString()
	owner = shmem.Create(name, size)
	peer = shmem.Attach(name)
	t.Cleanup(func() {
		require.NoError(t, peer.Close())
		require.NoError(t, owner.Close())
	})

	return owner, peer
}

func byteFeatures(data []byte) execution.Result {
	fv := make(feature.Vec, 0, len(data))
	for _, b := range data {
		fv = append(fv, feature.PCIndexToFeature(uint64(b)))
	}

	return execution.Result{Features: fv}
}

func TestServe(t *testing.T) {
	inOwner, inPeer := segmentPair(t, 1024)
	outOwner, outPeer := segmentPair(t, 1024)

	inputs := [][]byte{{1, 2}, {3}, {}}
	require.Equal(t, 3, execution.WriteInputs(inOwner, inputs))
	require.NoError(t, Serve(inPeer, outPeer, byteFeatures))

	outOwner.Reset()
	result := execution.NewBatchResult(len(inputs))
	require.NoError(t, execution.ReadOutputs(outOwner, &result))
	require.Equal(t, 3, result.NumOutputsRead)
	require.Equal(t, byteFeatures([]byte{1, 2}).Features, result.Results[0].Features)
	require.Empty(t, result.Results[2].Features)
}

func TestServe_OutputsFull(t *testing.T) {
	inOwner, inPeer := segmentPair(t, 1024)
	_, outPeer := segmentPair(t, 60)

	t.Run("later inputs are left to the executor", func(t *testing.T) {
		require.Equal(t, 2, execution.WriteInputs(inOwner, [][]byte{{1}, {2}}))
		require.NoError(t, Serve(inPeer, outPeer, byteFeatures))
	})

	t.Run("first output too large", func(t *testing.T) {
		require.Equal(t, 1, execution.WriteInputs(inOwner, [][]byte{make([]byte, 10)}))
		require.Error(t, Serve(inPeer, outPeer, byteFeatures))
	})
}

func TestRun_NotUnderEngine(t *testing.T) {
	t.Setenv(execution.EnvShmemIn, "")
	t.Setenv(execution.EnvShmemOut, "")
	require.ErrorIs(t, Run(byteFeatures), ErrNotUnderEngine)
}
