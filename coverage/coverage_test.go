package coverage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/millipede/feature"
)

type fakeCorpus []feature.Vec

func (c fakeCorpus) NumActive() int               { return len(c) }
func (c fakeCorpus) Features(idx int) feature.Vec { return c[idx] }

func pcs(indices ...uint64) feature.Vec {
	fv := make(feature.Vec, 0, len(indices))
	for _, i := range indices {
		fv = append(fv, feature.PCIndexToFeature(i))
	}

	return fv
}

// testBinary has three functions:
//
//	f0: PCs 0..3, PC 1 calls f1, PC 2 calls f2
//	f1: PCs 4..5
//	f2: PCs 6..8
func testBinary() *BinaryInfo {
	table := make(PCTable, 9)
	for i := range table {
		table[i].PC = uint64(0x1000 + i*4)
	}
	table[0].Flags = PCFlagFuncEntry
	table[4].Flags = PCFlagFuncEntry
	table[6].Flags = PCFlagFuncEntry

	symbols := make(SymbolTable, 9)
	for i := range symbols {
		switch {
		case i < 4:
			symbols[i].Func = "f0"
		case i < 6:
			symbols[i].Func = "f1"
		default:
			symbols[i].Func = "f2"
		}
	}

	return &BinaryInfo{
		PCTable:   table,
		Symbols:   symbols,
		CallGraph: CallGraph{1: {4}, 2: {6}},
	}
}

func TestBinaryInfo_Functions(t *testing.T) {
	bi := testBinary()
	require.Equal(t, []Function{{0, 4}, {4, 6}, {6, 9}}, bi.Functions())
	require.Equal(t, 9, bi.NumPCs())

	var nilInfo *BinaryInfo
	require.Nil(t, nilInfo.Functions())
	require.Zero(t, nilInfo.NumPCs())
}

func TestLoadBinaryInfo(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(dir, "ok.yaml")
		data := "pc_table:\n  - {pc: 16, flags: 1}\n  - {pc: 20, flags: 0}\nsymbols:\n  - {func: main, file: a.c}\n  - {func: main, file: a.c}\ncall_graph:\n  1: [0]\n"
		require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

		bi, err := LoadBinaryInfo(path)
		require.NoError(t, err)
		require.Len(t, bi.PCTable, 2)
		require.True(t, bi.PCTable[0].IsFunctionEntry())
		require.Equal(t, "main", bi.Symbols[1].Func)
		require.Equal(t, []uint64{0}, bi.CallGraph[1])
	})

	t.Run("symbol count mismatch", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		data := "pc_table:\n  - {pc: 16, flags: 1}\nsymbols:\n  - {func: a}\n  - {func: b}\n"
		require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

		_, err := LoadBinaryInfo(path)
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadBinaryInfo(filepath.Join(dir, "nope.yaml"))
		require.Error(t, err)
	})
}

func TestFrontier_Compute(t *testing.T) {
	t.Run("nothing covered", func(t *testing.T) {
		f := NewFrontier(testBinary())
		f.Compute(fakeCorpus{})
		require.True(t, f.Computed())
		require.Zero(t, f.NumFunctionsInFrontier())
	})

	t.Run("partial function with uncovered callee", func(t *testing.T) {
		f := NewFrontier(testBinary())
		// f0 fully covered except PC 3; PC 1 calls uncovered f1 (size 2).
		// PC 2 is covered and calls f2, which is fully covered.
		f.Compute(fakeCorpus{pcs(0, 1, 2), pcs(6, 7, 8)})

		require.Equal(t, 1, f.NumFunctionsInFrontier())
		require.Equal(t, uint64(1+2), f.FrontierWeight(0))
		require.True(t, f.PCIndexIsFrontier(3))
		require.False(t, f.PCIndexIsFrontier(4))
		require.False(t, f.PCIndexIsFrontier(6))
	})

	t.Run("uncovered call site does not count", func(t *testing.T) {
		f := NewFrontier(testBinary())
		f.Compute(fakeCorpus{pcs(0, 3)})

		// Uncovered PCs 1 and 2 only; their callees are ignored.
		require.Equal(t, uint64(2), f.FrontierWeight(0))
	})

	t.Run("full coverage leaves empty frontier", func(t *testing.T) {
		f := NewFrontier(testBinary())
		f.Compute(fakeCorpus{pcs(0, 1, 2, 3, 4, 5, 6, 7, 8)})
		require.Zero(t, f.NumFunctionsInFrontier())
	})

	t.Run("recompute replaces previous result", func(t *testing.T) {
		f := NewFrontier(testBinary())
		f.Compute(fakeCorpus{pcs(6)})
		require.Equal(t, 1, f.NumFunctionsInFrontier())

		f.Compute(fakeCorpus{pcs(6, 7, 8)})
		require.Zero(t, f.NumFunctionsInFrontier())
	})
}

func TestFrontier_Score(t *testing.T) {
	f := NewFrontier(testBinary())
	require.Zero(t, f.Score(pcs(0)), "score before compute")

	f.Compute(fakeCorpus{pcs(0, 1, 2), pcs(6)})
	// f0 weight 1+2, f2 weight 2.
	require.Equal(t, uint64(3), f.Score(pcs(0, 1, 2)), "each function counted once")
	require.Equal(t, uint64(5), f.Score(pcs(0, 6)))
	require.Zero(t, f.Score(pcs(4, 5)))

	fv := feature.Vec{feature.EightBitCounters.ConvertToMe(0), feature.PCIndexToFeature(100)}
	require.Zero(t, f.Score(fv), "non-PC and out of range features are ignored")

	var nilFrontier *Frontier
	require.Zero(t, nilFrontier.Score(pcs(0)))
	require.False(t, nilFrontier.Computed())
	require.False(t, nilFrontier.PCIndexIsFrontier(0))
	nilFrontier.Compute(fakeCorpus{})
}

func TestFunctionFilter(t *testing.T) {
	bi := testBinary()

	t.Run("disabled without names", func(t *testing.T) {
		ff := NewFunctionFilter(nil, bi.Symbols)
		require.False(t, ff.Enabled())
		require.True(t, ff.Filter(nil))
	})

	t.Run("disabled without symbols", func(t *testing.T) {
		ff := NewFunctionFilter([]string{"f1"}, nil)
		require.False(t, ff.Enabled())
		require.True(t, ff.Filter(pcs(0)))
	})

	t.Run("matches named functions", func(t *testing.T) {
		ff := NewFunctionFilter([]string{"f1", "missing"}, bi.Symbols)
		require.True(t, ff.Enabled())
		require.True(t, ff.Filter(pcs(0, 5)))
		require.False(t, ff.Filter(pcs(0, 6)))
		require.False(t, ff.Filter(nil))
	})
}
