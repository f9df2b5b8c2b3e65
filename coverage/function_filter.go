package coverage

import (
	"github.com/arloliu/millipede/feature"
)

// FunctionFilter keeps only inputs that reach at least one of a set of functions.
type FunctionFilter struct {
	pcs map[uint64]struct{}
}

// NewFunctionFilter builds a filter for the named functions.
//
// The filter passes everything when names is empty or when no symbols are
// available to resolve them.
func NewFunctionFilter(names []string, symbols SymbolTable) *FunctionFilter {
	ff := &FunctionFilter{}
	if len(names) == 0 || len(symbols) == 0 {
		return ff
	}

	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n != "" {
			wanted[n] = struct{}{}
		}
	}
	if len(wanted) == 0 {
		return ff
	}

	ff.pcs = make(map[uint64]struct{})
	for i, sym := range symbols {
		if _, ok := wanted[sym.Func]; ok {
			ff.pcs[uint64(i)] = struct{}{}
		}
	}

	return ff
}

// Enabled reports whether the filter rejects anything at all.
func (ff *FunctionFilter) Enabled() bool {
	return ff != nil && ff.pcs != nil
}

// Filter reports whether fv covers a PC of one of the filtered functions.
func (ff *FunctionFilter) Filter(fv feature.Vec) bool {
	if !ff.Enabled() {
		return true
	}
	for _, f := range fv {
		if !feature.PCs.Contains(f) {
			continue
		}
		if _, ok := ff.pcs[feature.FeatureToPCIndex(f)]; ok {
			return true
		}
	}

	return false
}
