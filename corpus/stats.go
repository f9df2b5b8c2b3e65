package corpus

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/arloliu/millipede/featureset"
)

type recordStats struct {
	Size        int    `json:"size"`
	Weight      uint64 `json:"weight"`
	Frequencies []int  `json:"frequencies"`
}

type corpusStats struct {
	NumInputs   int           `json:"num_inputs"`
	NumTotal    int           `json:"num_total"`
	CorpusStats []recordStats `json:"corpus_stats"`
}

// PrintStats writes a JSON document describing every active record: its
// size, weight, and the current frequency of each retained feature.
func (c *Corpus) PrintStats(w io.Writer, fs *featureset.FeatureSet) error {
	doc := corpusStats{
		NumInputs:   len(c.records),
		NumTotal:    c.numTotal,
		CorpusStats: make([]recordStats, 0, len(c.records)),
	}
	for i, r := range c.records {
		freqs := make([]int, len(r.Features))
		for j, f := range r.Features {
			freqs[j] = int(fs.Frequency(f))
		}
		doc.CorpusStats = append(doc.CorpusStats, recordStats{
			Size:        len(r.Data),
			Weight:      c.weights[i],
			Frequencies: freqs,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to write corpus stats: %w", err)
	}

	return nil
}
