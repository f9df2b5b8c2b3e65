// Package corpus holds the inputs that grew coverage, together with their
// features, and decides which of them to mutate next and which to evict.
package corpus

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/arloliu/millipede/coverage"
	"github.com/arloliu/millipede/errs"
	"github.com/arloliu/millipede/feature"
	"github.com/arloliu/millipede/featureset"
)

// Record is one corpus element.
type Record struct {
	// Data is the input itself.
	Data []byte
	// Features are the features retained for this input after frequency pruning.
	Features feature.Vec
	// CmpArgs is the comparison-operand dictionary observed while executing Data.
	CmpArgs []byte
}

// Corpus is an ordered collection of records.
//
// Pruning compacts the record slice in place, keeping the insertion order of
// the survivors, so indices are only stable between two Prune calls.
// A Corpus is owned by one engine and is not safe for concurrent use.
type Corpus struct {
	records []Record
	weights []uint64

	// cumulative holds prefix sums of weights; nil when stale.
	cumulative []uint64
	numTotal   int
}

// New creates an empty corpus.
func New() *Corpus {
	return &Corpus{}
}

// Add appends a record.
//
// The caller must already have established that fv is novel; Add performs
// no novelty check. fv should be the vector left by
// CountUnseenAndPruneFrequentFeatures and committed with IncrementFrequencies.
// Adding an empty input panics.
func (c *Corpus) Add(data []byte, fv feature.Vec, cmpArgs []byte, fs *featureset.FeatureSet, frontier *coverage.Frontier) {
	if len(data) == 0 {
		panic(errs.ErrEmptyInput)
	}

	c.records = append(c.records, Record{Data: data, Features: fv, CmpArgs: cmpArgs})
	c.weights = append(c.weights, recordWeight(fs.ComputeWeight(fv), fv, frontier))
	c.cumulative = nil
	c.numTotal++
}

// recordWeight scales a feature-set weight by the record's frontier score.
func recordWeight(weight uint64, fv feature.Vec, frontier *coverage.Frontier) uint64 {
	if weight == 0 || !frontier.Computed() {
		return weight
	}

	return weight * (1 + frontier.Score(fv))
}

// NumActive returns the number of records currently in the corpus.
func (c *Corpus) NumActive() int {
	return len(c.records)
}

// NumTotal returns the number of records ever added.
func (c *Corpus) NumTotal() int {
	return c.numTotal
}

// Get returns the input at idx.
func (c *Corpus) Get(idx int) []byte {
	return c.records[idx].Data
}

// Record returns the record at idx.
func (c *Corpus) Record(idx int) Record {
	return c.records[idx]
}

// Features returns the retained features of the record at idx.
func (c *Corpus) Features(idx int) feature.Vec {
	return c.records[idx].Features
}

// Weight returns the sampling weight of the record at idx as of the last Add or Prune.
func (c *Corpus) Weight(idx int) uint64 {
	return c.weights[idx]
}

// UniformRandom returns a record chosen uniformly at random.
// It panics if the corpus is empty.
func (c *Corpus) UniformRandom(rng *rand.Rand) Record {
	return c.records[rng.IntN(len(c.records))]
}

// WeightedRandom returns a record chosen with probability proportional to its weight.
//
// Prefix sums are rebuilt lazily on the first call after an Add or Prune.
// When every weight is zero it falls back to uniform sampling.
// It panics if the corpus is empty.
func (c *Corpus) WeightedRandom(rng *rand.Rand) Record {
	if c.cumulative == nil {
		c.cumulative = make([]uint64, len(c.weights))
		var sum uint64
		for i, w := range c.weights {
			sum += w
			c.cumulative[i] = sum
		}
	}

	total := c.cumulative[len(c.cumulative)-1]
	if total == 0 {
		return c.UniformRandom(rng)
	}

	x := rng.Uint64N(total)
	idx := sort.Search(len(c.cumulative), func(i int) bool {
		return c.cumulative[i] > x
	})

	return c.records[idx]
}

// Prune recomputes all weights and evicts records, returning how many were evicted.
//
// Every record first drops the features that became frequent since it was
// added. Records left with zero weight are evicted. Then, while NumActive
// exceeds maxSize, the lightest record that is not protected is evicted.
// A record is protected while it holds a feature no other remaining record
// holds, so the corpus may stay above maxSize. Ties between equally light
// records are broken by keys drawn from rng, one per record in index order,
// which makes the outcome deterministic for a given rng state. The last
// record is never evicted.
func (c *Corpus) Prune(fs *featureset.FeatureSet, frontier *coverage.Frontier, maxSize int, rng *rand.Rand) int {
	if len(c.records) == 0 {
		return 0
	}

	for i := range c.records {
		w := fs.PruneFeaturesAndComputeWeight(&c.records[i].Features)
		c.weights[i] = recordWeight(w, c.records[i].Features, frontier)
	}

	evicted := make([]bool, len(c.records))
	numActive := len(c.records)

	for i, w := range c.weights {
		if numActive == 1 {
			break
		}
		if w == 0 {
			evicted[i] = true
			numActive--
		}
	}

	if numActive > maxSize {
		holders := make(map[feature.Feature]int)
		for i, r := range c.records {
			if evicted[i] {
				continue
			}
			for _, f := range r.Features {
				holders[f]++
			}
		}

		type candidate struct {
			idx    int
			weight uint64
			key    uint64
		}
		candidates := make([]candidate, 0, numActive)
		for i := range c.records {
			if !evicted[i] {
				candidates = append(candidates, candidate{idx: i, weight: c.weights[i], key: rng.Uint64()})
			}
		}
		slices.SortFunc(candidates, func(a, b candidate) int {
			return cmp.Or(cmp.Compare(a.weight, b.weight), cmp.Compare(a.key, b.key))
		})

		// Evicting a record can only make others protected, so a single
		// pass in eviction order is enough.
		for _, cand := range candidates {
			if numActive <= maxSize || numActive == 1 {
				break
			}
			features := c.records[cand.idx].Features
			if isProtected(features, holders) {
				continue
			}
			for _, f := range features {
				holders[f]--
			}
			evicted[cand.idx] = true
			numActive--
		}
	}

	numEvicted := len(c.records) - numActive
	if numEvicted > 0 {
		c.compact(evicted)
	}
	c.cumulative = nil

	return numEvicted
}

func isProtected(features feature.Vec, holders map[feature.Feature]int) bool {
	for _, f := range features {
		if holders[f] == 1 {
			return true
		}
	}

	return false
}

// compact removes evicted records, keeping the order of the rest.
func (c *Corpus) compact(evicted []bool) {
	kept := 0
	for i := range c.records {
		if evicted[i] {
			continue
		}
		c.records[kept] = c.records[i]
		c.weights[kept] = c.weights[i]
		kept++
	}
	clear(c.records[kept:])
	c.records = c.records[:kept]
	c.weights = c.weights[:kept]
}

// MaxAndAvgSize returns the largest and the average input size in bytes.
func (c *Corpus) MaxAndAvgSize() (maxSize int, avgSize int) {
	if len(c.records) == 0 {
		return 0, 0
	}

	total := 0
	for _, r := range c.records {
		total += len(r.Data)
		maxSize = max(maxSize, len(r.Data))
	}

	return maxSize, total / len(c.records)
}

// MemoryUsageString returns a human readable estimate of the memory held by
// inputs, features and comparison dictionaries.
func (c *Corpus) MemoryUsageString() string {
	var data, features, cmpArgs uint64
	for _, r := range c.records {
		data += uint64(len(r.Data))
		features += uint64(len(r.Features)) * 8
		cmpArgs += uint64(len(r.CmpArgs))
	}

	return fmt.Sprintf("d%s/f%s/c%s", humanize.IBytes(data), humanize.IBytes(features), humanize.IBytes(cmpArgs))
}
