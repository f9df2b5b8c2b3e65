// Package shard defines the working directory layout shared by all shards
// and reads a shard's corpus and features files back as matched pairs.
package shard

import (
	"fmt"
	"path/filepath"
)

// Layout names the files of one working directory.
//
//	workdir/corpus.NNNNNN      inputs, appended by shard NNNNNN
//	workdir/features.NNNNNN    features of those inputs, appended
//	workdir/distilled.NNNNNN   distilled inputs, overwritten
//	workdir/crashes/           crash reproducers
type Layout struct {
	Workdir string
}

// NewLayout returns the layout rooted at workdir.
func NewLayout(workdir string) Layout {
	return Layout{Workdir: workdir}
}

func (l Layout) shardFile(prefix string, shard int) string {
	return filepath.Join(l.Workdir, fmt.Sprintf("%s.%06d", prefix, shard))
}

// CorpusPath returns the corpus file of shard.
func (l Layout) CorpusPath(shard int) string {
	return l.shardFile("corpus", shard)
}

// FeaturesPath returns the features file of shard.
func (l Layout) FeaturesPath(shard int) string {
	return l.shardFile("features", shard)
}

// DistilledPath returns the distilled corpus file of shard.
func (l Layout) DistilledPath(shard int) string {
	return l.shardFile("distilled", shard)
}

// CrashDir returns the directory holding crash reproducers.
func (l Layout) CrashDir() string {
	return filepath.Join(l.Workdir, "crashes")
}

// CrashReproducerPath returns where a single reproducing input named by its
// content hash is saved.
func (l Layout) CrashReproducerPath(inputHash string) string {
	return filepath.Join(l.CrashDir(), inputHash)
}

// UnreliableBatchDir returns the directory holding the inputs of a batch
// whose failure no single input reproduced, named after the suspect input.
func (l Layout) UnreliableBatchDir(suspectHash string) string {
	return filepath.Join(l.CrashDir(), "unreliable_batch-"+suspectHash)
}

// CorpusStatsPath returns the corpus statistics file written by shard.
func (l Layout) CorpusStatsPath(annotation string, shard int) string {
	name := "corpus-stats"
	if annotation != "" {
		name += "-" + annotation
	}

	return l.shardFile(name, shard) + ".json"
}
