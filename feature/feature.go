// Package feature defines coverage features and the domains that partition them.
//
// A Feature is an opaque integer signal produced by one execution of one
// input: a PC hit, a counter bucket, a comparison outcome, a call stack
// hash and so on. The 64-bit id space is split into fixed-size, disjoint
// domains so the origin of any feature can be recovered from its value.
package feature

import "strconv"

// Feature is a single coverage signal.
type Feature = uint64

// Vec is the ordered sequence of features produced by executing one input once.
// It may contain duplicates; deduplication is the feature set's job.
type Vec = []Feature

// DomainBits is the log2 of the number of features in one domain.
const DomainBits = 27

// DomainSize is the number of distinct features in one domain.
const DomainSize = uint64(1) << DomainBits

// Domain is a contiguous range of feature ids.
type Domain struct {
	id   uint64
	name string
}

// ID returns the domain's index.
func (d Domain) ID() uint64 { return d.id }

// Name returns the short domain name used in logs.
func (d Domain) Name() string { return d.name }

// Begin returns the first feature of the domain.
func (d Domain) Begin() Feature { return d.id << DomainBits }

// End returns one past the last feature of the domain.
func (d Domain) End() Feature { return (d.id + 1) << DomainBits }

// Contains reports whether f belongs to the domain.
func (d Domain) Contains(f Feature) bool {
	return f >= d.Begin() && f < d.End()
}

// ConvertToMe maps a domain-local value to a global feature id.
// Values at or above DomainSize wrap around.
func (d Domain) ConvertToMe(n uint64) Feature {
	return d.Begin() + n%DomainSize
}

// ConvertFromMe maps a feature of this domain back to its domain-local value.
func (d Domain) ConvertFromMe(f Feature) uint64 {
	return f - d.Begin()
}

// NumUserDomains is the number of domains reserved for target-defined features.
const NumUserDomains = 16

var (
	// NoFeature holds the single sentinel feature that marks "executed, but
	// produced no features", as opposed to "features not known yet".
	NoFeature        = Domain{0, "none"}
	PCs              = Domain{1, "cov"}
	EightBitCounters = Domain{2, "cnt"}
	DataFlow         = Domain{3, "df"}
	CMP              = Domain{4, "cmp"}
	CMPEq            = Domain{5, "cmpeq"}
	CMPModDiff       = Domain{6, "cmpmd"}
	CMPHamming       = Domain{7, "cmphm"}
	CMPDiffLog       = Domain{8, "cmpdl"}
	CallStack        = Domain{9, "stk"}
	BoundedPath      = Domain{10, "path"}
	PCPair           = Domain{11, "pair"}

	UserDomains = func() [NumUserDomains]Domain {
		var ds [NumUserDomains]Domain
		for i := range ds {
			ds[i] = Domain{uint64(12 + i), "usr" + strconv.Itoa(i)}
		}

		return ds
	}()
)

// NumDomains is the total number of domains, including user domains.
const NumDomains = 12 + NumUserDomains

// CMPDomains lists the comparison-operand domains.
var CMPDomains = []Domain{CMP, CMPEq, CMPModDiff, CMPHamming, CMPDiffLog}

// DomainID returns the index of the domain f belongs to.
// Features past the last domain report NumDomains.
func DomainID(f Feature) uint64 {
	id := f >> DomainBits
	if id >= NumDomains {
		return NumDomains
	}

	return id
}

// AllDomains returns every defined domain in id order.
func AllDomains() []Domain {
	ds := []Domain{
		NoFeature, PCs, EightBitCounters, DataFlow, CMP, CMPEq, CMPModDiff,
		CMPHamming, CMPDiffLog, CallStack, BoundedPath, PCPair,
	}

	return append(ds, UserDomains[:]...)
}

// NoFeatureSentinel is the feature written for inputs that produced no features.
var NoFeatureSentinel = NoFeature.Begin()

// PCIndexToFeature converts a PC-table index into a PC feature.
func PCIndexToFeature(pcIndex uint64) Feature {
	return PCs.ConvertToMe(pcIndex)
}

// FeatureToPCIndex converts a PC feature back into a PC-table index.
func FeatureToPCIndex(f Feature) uint64 {
	return PCs.ConvertFromMe(f)
}

// PCPairToNumber maps an ordered pair of PC indices to a single number.
// Callers pass pc1 < pc2 so every unordered pair has one representation.
func PCPairToNumber(pc1, pc2, numPCs uint64) uint64 {
	return pc1*numPCs + pc2
}
