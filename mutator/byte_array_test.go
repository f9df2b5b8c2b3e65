package mutator

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestByteArray_Mutate(t *testing.T) {
	inputs := [][]byte{[]byte("hello"), []byte("world!"), {0}}
	original := make([][]byte, len(inputs))
	for i, in := range inputs {
		original[i] = bytes.Clone(in)
	}

	m := NewByteArray(1, WithMaxLen(8))
	mutants := m.Mutate(inputs, 500)
	require.Len(t, mutants, 500)
	for _, mu := range mutants {
		require.NotEmpty(t, mu)
		require.LessOrEqual(t, len(mu), 8)
	}
	require.Equal(t, original, inputs, "inputs must not be modified")

	distinct := map[string]struct{}{}
	for _, mu := range mutants {
		distinct[string(mu)] = struct{}{}
	}
	require.Greater(t, len(distinct), 50)
}

func TestByteArray_Deterministic(t *testing.T) {
	inputs := [][]byte{[]byte("seed input")}
	a := NewByteArray(42).Mutate(inputs, 50)
	b := NewByteArray(42).Mutate(inputs, 50)
	require.Equal(t, a, b)

	c := NewByteArray(43).Mutate(inputs, 50)
	require.NotEqual(t, a, c)
}

func TestByteArray_NoInputs(t *testing.T) {
	mutants := NewByteArray(3).Mutate(nil, 10)
	require.Len(t, mutants, 10)
	for _, mu := range mutants {
		require.NotEmpty(t, mu)
	}
}

func TestByteArray_SetCmpDictionary(t *testing.T) {
	m := NewByteArray(5)

	require.False(t, m.SetCmpDictionary(nil))
	require.False(t, m.SetCmpDictionary([]byte{2, 'a', 'b', 'a', 'b'}), "equal operands are useless")
	require.False(t, m.SetCmpDictionary([]byte{3, 'a'}), "truncated entry")

	cmpArgs := []byte{4, 'F', 'U', 'Z', 'Z', 'M', 'A', 'G', 'C', 1, 'x', 'y', 9}
	require.True(t, m.SetCmpDictionary(cmpArgs))
	require.Len(t, m.dict, 4)
	require.Equal(t, []byte("MAGC"), m.dict[0].to)

	found := false
	for _, mu := range m.Mutate([][]byte{[]byte("..FUZZ..")}, 2000) {
		if bytes.Contains(mu, []byte("MAGC")) {
			found = true
			break
		}
	}
	require.True(t, found, "dictionary entries must be used")

	require.False(t, m.SetCmpDictionary(nil))
	require.Empty(t, m.dict)
}
