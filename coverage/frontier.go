package coverage

import (
	"github.com/arloliu/millipede/feature"
)

// CorpusView is the read-only corpus access needed to compute a frontier.
type CorpusView interface {
	NumActive() int
	Features(idx int) feature.Vec
}

// Frontier is the set of functions at the edge of current coverage.
//
// A function is in the frontier when it is covered but still has uncovered
// PCs, or when one of its covered call sites may call a function that is not
// covered at all. Each frontier function gets a weight equal to its
// uncovered PCs plus the sizes of its uncovered callees; corpus elements
// touching heavy frontier functions are oversampled and kept longer.
//
// The frontier is recomputed from scratch by Compute and never updated
// incrementally. A nil *Frontier behaves as an empty, never computed one.
type Frontier struct {
	info    *BinaryInfo
	funcs   []Function
	funcOf  []int32 // PC index -> index into funcs, -1 when outside any function
	weights []uint64

	numInFrontier int
	computed      bool

	covered []bool // scratch, one per PC
	touched map[int32]struct{}
}

// NewFrontier prepares a frontier for the given binary.
func NewFrontier(info *BinaryInfo) *Frontier {
	f := &Frontier{
		info:    info,
		funcs:   info.Functions(),
		touched: make(map[int32]struct{}),
	}

	numPCs := info.NumPCs()
	f.funcOf = make([]int32, numPCs)
	for i := range f.funcOf {
		f.funcOf[i] = -1
	}
	for fi, fn := range f.funcs {
		for pc := fn.Entry; pc < fn.End; pc++ {
			f.funcOf[pc] = int32(fi)
		}
	}
	f.weights = make([]uint64, len(f.funcs))
	f.covered = make([]bool, numPCs)

	return f
}

// Compute recomputes the frontier from every active corpus element.
//
// Its cost is O(corpus features + PC table + call graph), so callers run it
// only before pruning.
func (f *Frontier) Compute(view CorpusView) {
	if f == nil {
		return
	}

	clear(f.covered)
	for i := range view.NumActive() {
		for _, ft := range view.Features(i) {
			if !feature.PCs.Contains(ft) {
				continue
			}
			if pc := feature.FeatureToPCIndex(ft); pc < uint64(len(f.covered)) {
				f.covered[pc] = true
			}
		}
	}

	f.numInFrontier = 0
	for fi, fn := range f.funcs {
		f.weights[fi] = 0
		if !f.covered[fn.Entry] {
			continue
		}

		var uncovered uint64
		for pc := fn.Entry; pc < fn.End; pc++ {
			if !f.covered[pc] {
				uncovered++
			}
		}

		var uncoveredCallees uint64
		for pc := fn.Entry; pc < fn.End; pc++ {
			if !f.covered[pc] {
				continue
			}
			for _, callee := range f.info.CallGraph[pc] {
				if callee >= uint64(len(f.funcOf)) || f.covered[callee] {
					continue
				}
				if ci := f.funcOf[callee]; ci >= 0 {
					uncoveredCallees += f.funcs[ci].Size()
				}
			}
		}

		if w := uncovered + uncoveredCallees; w > 0 {
			f.weights[fi] = w
			f.numInFrontier++
		}
	}
	f.computed = true
}

// Computed reports whether Compute has run at least once.
func (f *Frontier) Computed() bool {
	return f != nil && f.computed
}

// NumFunctionsInFrontier returns the number of frontier functions.
func (f *Frontier) NumFunctionsInFrontier() int {
	if f == nil {
		return 0
	}

	return f.numInFrontier
}

// PCIndexIsFrontier reports whether the PC belongs to a frontier function.
func (f *Frontier) PCIndexIsFrontier(pc uint64) bool {
	return f.FrontierWeight(pc) > 0
}

// FrontierWeight returns the weight of the frontier function containing pc, or 0.
func (f *Frontier) FrontierWeight(pc uint64) uint64 {
	if f == nil || pc >= uint64(len(f.funcOf)) {
		return 0
	}
	fi := f.funcOf[pc]
	if fi < 0 {
		return 0
	}

	return f.weights[fi]
}

// Score sums the weights of the distinct frontier functions fv touches.
func (f *Frontier) Score(fv feature.Vec) uint64 {
	if !f.Computed() {
		return 0
	}

	clear(f.touched)
	var score uint64
	for _, ft := range fv {
		if !feature.PCs.Contains(ft) {
			continue
		}
		pc := feature.FeatureToPCIndex(ft)
		if pc >= uint64(len(f.funcOf)) {
			continue
		}
		fi := f.funcOf[pc]
		if fi < 0 || f.weights[fi] == 0 {
			continue
		}
		if _, ok := f.touched[fi]; ok {
			continue
		}
		f.touched[fi] = struct{}{}
		score += f.weights[fi]
	}

	return score
}
