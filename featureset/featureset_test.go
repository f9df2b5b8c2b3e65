package featureset

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/millipede/feature"
)

func pcs(idx ...uint64) feature.Vec {
	fv := make(feature.Vec, 0, len(idx))
	for _, i := range idx {
		fv = append(fv, feature.PCIndexToFeature(i))
	}

	return fv
}

func TestCountUnseen_FirstSightings(t *testing.T) {
	fs := New(DefaultFrequencyThreshold)

	fv := pcs(1, 2, 3)
	require.Equal(t, 3, fs.CountUnseenAndPruneFrequentFeatures(&fv))
	require.Len(t, fv, 3)

	// Counting alone never changes frequencies.
	again := pcs(1, 2, 3)
	require.Equal(t, 3, fs.CountUnseenAndPruneFrequentFeatures(&again))
	require.Equal(t, 0, fs.Size())
}

func TestCountThenIncrement_IsIdempotent(t *testing.T) {
	fs := New(DefaultFrequencyThreshold)

	fv := pcs(10, 11, 12)
	require.Equal(t, 3, fs.CountUnseenAndPruneFrequentFeatures(&fv))
	fs.IncrementFrequencies(fv)

	same := pcs(10, 11, 12)
	require.Equal(t, 0, fs.CountUnseenAndPruneFrequentFeatures(&same))
	require.Equal(t, 3, fs.Size())
}

func TestCountUnseen_PrunesFrequentFeatures(t *testing.T) {
	const threshold = 3
	fs := New(threshold)

	hot := feature.PCIndexToFeature(7)
	for range threshold {
		fv := feature.Vec{hot}
		fs.CountUnseenAndPruneFrequentFeatures(&fv)
		fs.IncrementFrequencies(fv)
	}
	require.Equal(t, uint8(threshold), fs.Frequency(hot))

	cold := feature.PCIndexToFeature(8)
	fv := feature.Vec{hot, cold, hot}
	require.Equal(t, 1, fs.CountUnseenAndPruneFrequentFeatures(&fv))
	require.NotContains(t, fv, hot)
	if diff := cmp.Diff(feature.Vec{cold}, fv); diff != "" {
		t.Fatalf("pruned vector mismatch (-want +got):\n%s", diff)
	}
}

func TestCountUnseen_DeduplicatesAndDropsSentinel(t *testing.T) {
	fs := New(DefaultFrequencyThreshold)

	a, b := feature.PCIndexToFeature(1), feature.CMP.ConvertToMe(9)
	fv := feature.Vec{a, feature.NoFeatureSentinel, b, a, b}
	require.Equal(t, 2, fs.CountUnseenAndPruneFrequentFeatures(&fv))
	require.Equal(t, feature.Vec{a, b}, fv)
}

func TestIncrementFrequencies_Saturates(t *testing.T) {
	fs := New(255)
	f := feature.DataFlow.ConvertToMe(1)
	for range 300 {
		fs.IncrementFrequencies(feature.Vec{f})
	}
	require.Equal(t, uint8(255), fs.Frequency(f))
	require.Equal(t, 1, fs.Size())
}

func TestCountFeaturesPerDomain(t *testing.T) {
	fs := New(DefaultFrequencyThreshold)
	fv := feature.Vec{
		feature.PCIndexToFeature(1),
		feature.PCIndexToFeature(2),
		feature.CMPEq.ConvertToMe(5),
		feature.UserDomains[3].ConvertToMe(77),
	}
	fs.IncrementFrequencies(fv)

	require.Equal(t, 2, fs.CountFeatures(feature.PCs))
	require.Equal(t, 1, fs.CountFeatures(feature.CMPEq))
	require.Equal(t, 1, fs.CountFeatures(feature.UserDomains[3]))
	require.Equal(t, 0, fs.CountFeatures(feature.CallStack))
	require.Equal(t, 4, fs.Size())
}

func TestSizeNeverDecreases(t *testing.T) {
	fs := New(2)
	prev := 0
	for i := range 50 {
		fv := pcs(uint64(i%7), uint64(i%11), uint64(i%13))
		fs.CountUnseenAndPruneFrequentFeatures(&fv)
		fs.IncrementFrequencies(fv)
		require.GreaterOrEqual(t, fs.Size(), prev)
		prev = fs.Size()
	}
}

func TestComputeWeight(t *testing.T) {
	fs := New(DefaultFrequencyThreshold)
	a, b := feature.PCIndexToFeature(1), feature.PCIndexToFeature(2)
	fs.IncrementFrequencies(feature.Vec{a, b})
	fs.IncrementFrequencies(feature.Vec{b})

	// size=2, 2 features in PCs => domain weight 1.
	require.Equal(t, uint64(256), fs.ComputeWeight(feature.Vec{a}))
	require.Equal(t, uint64(128), fs.ComputeWeight(feature.Vec{b}))
	require.Equal(t, uint64(384), fs.ComputeWeight(feature.Vec{a, b}))
	require.Zero(t, fs.ComputeWeight(feature.Vec{feature.PCIndexToFeature(99)}))
	require.Zero(t, fs.ComputeWeight(nil))
}

func TestToCoveragePCs(t *testing.T) {
	fs := New(DefaultFrequencyThreshold)
	fs.IncrementFrequencies(feature.Vec{
		feature.PCIndexToFeature(30),
		feature.CMP.ConvertToMe(1),
		feature.PCIndexToFeature(4),
		feature.PCIndexToFeature(17),
	})
	require.Equal(t, []uint64{4, 17, 30}, fs.ToCoveragePCs())
}

func TestNew_ZeroThreshold(t *testing.T) {
	fs := New(0)
	require.Equal(t, uint8(1), fs.Threshold())
}

func TestPruneFeaturesAndComputeWeight(t *testing.T) {
	fs := New(2)
	hot := feature.PCIndexToFeature(1)
	cold := feature.PCIndexToFeature(2)

	fs.IncrementFrequencies(feature.Vec{hot, cold})
	fs.IncrementFrequencies(feature.Vec{hot})

	fv := feature.Vec{hot, cold}
	weight := fs.PruneFeaturesAndComputeWeight(&fv)
	require.Equal(t, feature.Vec{cold}, fv)
	require.Equal(t, uint64(256), weight)

	fs.IncrementFrequencies(feature.Vec{cold})
	weight = fs.PruneFeaturesAndComputeWeight(&fv)
	require.Empty(t, fv)
	require.Zero(t, weight)
}
