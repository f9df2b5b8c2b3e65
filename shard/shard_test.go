package shard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/millipede/blobfile"
	"github.com/arloliu/millipede/errs"
	"github.com/arloliu/millipede/feature"
)

type pair struct {
	input string
	fv    feature.Vec
}

func collect(t *testing.T, l Layout, shard int) []pair {
	t.Helper()
	var got []pair
	require.NoError(t, Read(l.CorpusPath(shard), l.FeaturesPath(shard), func(input []byte, fv feature.Vec) {
		got = append(got, pair{string(input), fv})
	}))

	return got
}

func appendRecords(t *testing.T, path string, records ...[]byte) {
	t.Helper()
	w, err := blobfile.Create(path)
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
}

func TestLayout(t *testing.T) {
	l := NewLayout("/work")
	require.Equal(t, "/work/corpus.000007", l.CorpusPath(7))
	require.Equal(t, "/work/features.000007", l.FeaturesPath(7))
	require.Equal(t, "/work/distilled.123456", l.DistilledPath(123456))
	require.Equal(t, "/work/crashes", l.CrashDir())
	require.Equal(t, "/work/crashes/abc", l.CrashReproducerPath("abc"))
	require.Equal(t, "/work/crashes/unreliable_batch-abc", l.UnreliableBatchDir("abc"))
	require.Equal(t, "/work/corpus-stats-init.000002.json", l.CorpusStatsPath("init", 2))
	require.Equal(t, "/work/corpus-stats.000002.json", l.CorpusStatsPath("", 2))
}

func TestPackFeaturesAndHash(t *testing.T) {
	fv := feature.Vec{feature.PCIndexToFeature(3), feature.CMP.ConvertToMe(9)}
	packed := PackFeaturesAndHash([]byte("input"), fv)
	require.Len(t, packed, 24)

	got, h, err := UnpackFeaturesAndHash(packed)
	require.NoError(t, err)
	require.Equal(t, fv, got)
	require.NotZero(t, h)

	_, other, err := UnpackFeaturesAndHash(PackFeaturesAndHash([]byte("other"), fv))
	require.NoError(t, err)
	require.NotEqual(t, h, other)

	t.Run("empty vector keeps the sentinel", func(t *testing.T) {
		got, _, err := UnpackFeaturesAndHash(PackFeaturesAndHash([]byte("x"), nil))
		require.NoError(t, err)
		require.Equal(t, feature.Vec{feature.NoFeatureSentinel}, got)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, n := range []int{0, 8, 12, 17} {
			_, _, err := UnpackFeaturesAndHash(make([]byte, n))
			require.ErrorIs(t, err, errs.ErrInvalidFeaturesRecord, "length %d", n)
		}
	})
}

func TestRead(t *testing.T) {
	t.Run("missing files are empty", func(t *testing.T) {
		require.Empty(t, collect(t, NewLayout(t.TempDir()), 0))
	})

	t.Run("features matched by hash", func(t *testing.T) {
		l := NewLayout(t.TempDir())
		fvA := feature.Vec{feature.PCIndexToFeature(1)}
		fvC := feature.Vec{feature.PCIndexToFeature(3)}

		appendRecords(t, l.CorpusPath(0), []byte("a"), []byte("b"), []byte("c"))
		// Out of order, and "b" has no features yet.
		appendRecords(t, l.FeaturesPath(0),
			PackFeaturesAndHash([]byte("c"), fvC),
			PackFeaturesAndHash([]byte("a"), fvA),
		)

		require.Equal(t, []pair{{"a", fvA}, {"b", nil}, {"c", fvC}}, collect(t, l, 0))
	})

	t.Run("features without corpus", func(t *testing.T) {
		l := NewLayout(t.TempDir())
		appendRecords(t, l.FeaturesPath(1), PackFeaturesAndHash([]byte("a"), feature.Vec{1}))
		require.Empty(t, collect(t, l, 1))
	})

	t.Run("truncated tails are ignored", func(t *testing.T) {
		l := NewLayout(t.TempDir())
		appendRecords(t, l.CorpusPath(0), []byte("a"), []byte("b"))
		appendRecords(t, l.FeaturesPath(0),
			PackFeaturesAndHash([]byte("a"), feature.Vec{1}),
			PackFeaturesAndHash([]byte("b"), feature.Vec{2}),
		)
		for _, path := range []string{l.CorpusPath(0), l.FeaturesPath(0)} {
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o644))
		}

		require.Equal(t, []pair{{"a", feature.Vec{1}}}, collect(t, l, 0))
	})

	t.Run("corrupt features record", func(t *testing.T) {
		l := NewLayout(t.TempDir())
		appendRecords(t, l.CorpusPath(0), []byte("a"), []byte("b"))
		appendRecords(t, l.FeaturesPath(0), PackFeaturesAndHash([]byte("a"), feature.Vec{7}), []byte("short"))

		var got []pair
		err := Read(l.CorpusPath(0), l.FeaturesPath(0), func(input []byte, fv feature.Vec) {
			got = append(got, pair{string(input), fv})
		})
		require.ErrorIs(t, err, errs.ErrCorruptShard)
		require.ErrorIs(t, err, errs.ErrInvalidFeaturesRecord)
		require.Equal(t, []pair{{"a", feature.Vec{7}}, {"b", nil}}, got)
	})

	t.Run("corrupt corpus record", func(t *testing.T) {
		l := NewLayout(t.TempDir())
		appendRecords(t, l.CorpusPath(0), []byte("a"), []byte("b"))
		data, err := os.ReadFile(l.CorpusPath(0))
		require.NoError(t, err)
		data[len(data)-1] ^= 1
		require.NoError(t, os.WriteFile(filepath.Join(l.Workdir, "corpus.000000"), data, 0o644))

		var seen []string
		err = Read(l.CorpusPath(0), l.FeaturesPath(0), func(input []byte, _ feature.Vec) {
			seen = append(seen, string(input))
		})
		require.ErrorIs(t, err, errs.ErrCorruptShard)
		require.ErrorIs(t, err, errs.ErrChecksumMismatch)
		require.Equal(t, []string{"a"}, seen)
	})
}
