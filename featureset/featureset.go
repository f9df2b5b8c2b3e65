// Package featureset tracks how often each coverage feature has been observed
// and decides whether an execution found anything new.
package featureset

import (
	"slices"

	"github.com/arloliu/millipede/feature"
)

// DefaultFrequencyThreshold is the frequency at which a feature stops being
// passed back to callers.
const DefaultFrequencyThreshold = 100

// maxFrequency is the saturation point of a frequency counter.
const maxFrequency = 255

// FeatureSet maps features to saturating observation counters.
//
// Only first sightings grow the corpus. Once a feature has been committed
// threshold times it is considered fully seen and is pruned from vectors
// handed to CountUnseenAndPruneFrequentFeatures, so a hot feature cannot
// dominate corpus weights forever.
//
// A FeatureSet is owned by one engine and is not safe for concurrent use.
type FeatureSet struct {
	threshold   uint8
	frequencies map[feature.Feature]uint8
	perDomain   [feature.NumDomains + 1]int
	size        int

	seen map[feature.Feature]struct{} // scratch for deduplication
}

// New creates an empty FeatureSet. A zero threshold is treated as 1.
func New(threshold uint8) *FeatureSet {
	if threshold == 0 {
		threshold = 1
	}

	return &FeatureSet{
		threshold:   threshold,
		frequencies: make(map[feature.Feature]uint8),
		seen:        make(map[feature.Feature]struct{}),
	}
}

// Threshold returns the configured frequency threshold.
func (fs *FeatureSet) Threshold() uint8 {
	return fs.threshold
}

// CountUnseenAndPruneFrequentFeatures prunes fv in place and returns the
// number of distinct features in fv that were never seen before.
//
// Pruning removes duplicate entries, the NoFeature sentinel, and every
// feature whose frequency has reached the threshold. The relative order of
// the surviving features is preserved. Frequencies are not modified.
func (fs *FeatureSet) CountUnseenAndPruneFrequentFeatures(fv *feature.Vec) int {
	features := *fv
	clear(fs.seen)

	numUnseen := 0
	kept := 0
	for _, f := range features {
		if feature.NoFeature.Contains(f) {
			continue
		}
		if _, dup := fs.seen[f]; dup {
			continue
		}
		fs.seen[f] = struct{}{}

		freq := fs.frequencies[f]
		if freq == 0 {
			numUnseen++
		}
		if freq < fs.threshold {
			features[kept] = f
			kept++
		}
	}
	*fv = features[:kept]

	return numUnseen
}

// IncrementFrequencies bumps the frequency of every feature in fv.
//
// It must only be called for vectors already passed through
// CountUnseenAndPruneFrequentFeatures and being committed to the corpus.
func (fs *FeatureSet) IncrementFrequencies(fv feature.Vec) {
	for _, f := range fv {
		freq := fs.frequencies[f]
		if freq == 0 {
			fs.size++
			fs.perDomain[feature.DomainID(f)]++
		}
		if freq < maxFrequency {
			fs.frequencies[f] = freq + 1
		}
	}
}

// Frequency returns how many times f has been committed, saturated at 255.
func (fs *FeatureSet) Frequency(f feature.Feature) uint8 {
	return fs.frequencies[f]
}

// CountFeatures returns the number of distinct features seen in domain d.
func (fs *FeatureSet) CountFeatures(d feature.Domain) int {
	return fs.perDomain[feature.DomainID(d.Begin())]
}

// Size returns the number of distinct features seen.
func (fs *FeatureSet) Size() int {
	return fs.size
}

// ComputeWeight returns the sampling weight of a corpus element with features fv.
//
// Rarer features weigh more: a feature seen once weighs 256, seen twice 128,
// and so on. Features of sparsely populated domains are scaled up by
// Size()/CountFeatures(domain). Features with zero frequency do not count.
func (fs *FeatureSet) ComputeWeight(fv feature.Vec) uint64 {
	var weight uint64
	for _, f := range fv {
		freq := fs.frequencies[f]
		if freq == 0 {
			continue
		}
		inDomain := fs.perDomain[feature.DomainID(f)]
		if inDomain == 0 {
			continue
		}
		domainWeight := uint64(fs.size / inDomain)
		weight += domainWeight * uint64(256/int(freq))
	}

	return weight
}

// PruneFeaturesAndComputeWeight drops from fv, in place, every feature whose
// frequency has reached the threshold and returns the weight of what remains.
//
// Corpus pruning uses it to refresh stored feature vectors; a record left
// with no features weighs zero.
func (fs *FeatureSet) PruneFeaturesAndComputeWeight(fv *feature.Vec) uint64 {
	*fv = slices.DeleteFunc(*fv, func(f feature.Feature) bool {
		return fs.frequencies[f] >= fs.threshold
	})

	return fs.ComputeWeight(*fv)
}

// ToCoveragePCs returns the sorted PC-table indices of every covered PC.
func (fs *FeatureSet) ToCoveragePCs() []uint64 {
	pcs := make([]uint64, 0, fs.CountFeatures(feature.PCs))
	for f := range fs.frequencies {
		if feature.PCs.Contains(f) {
			pcs = append(pcs, feature.FeatureToPCIndex(f))
		}
	}
	slices.Sort(pcs)

	return pcs
}
