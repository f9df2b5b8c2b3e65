package shard

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/arloliu/millipede/blobfile"
	"github.com/arloliu/millipede/errs"
	"github.com/arloliu/millipede/feature"
	"github.com/arloliu/millipede/internal/hash"
)

// Callback receives one input of a shard with its features. An empty fv
// means the input's features are not known yet; the input may be rerun.
type Callback func(input []byte, fv feature.Vec)

// Read streams the inputs of a shard with their features, in corpus order.
//
// Features are matched to inputs by the input hash stored in each features
// record; if several records carry the same hash the last one wins. Missing
// files are treated as empty and truncated trailing records as absent.
//
// A corrupt record ends the read of its file, but everything before it is
// still used: fn sees every input read before a corrupt corpus record, and
// features read before a corrupt features record stay matched. The returned
// error then wraps errs.ErrCorruptShard.
func Read(corpusPath, featuresPath string, fn Callback) error {
	features, featuresErr := readFeatures(featuresPath)
	if featuresErr != nil && !errors.Is(featuresErr, errs.ErrCorruptShard) {
		return featuresErr
	}

	inputs, err := blobfile.Open(corpusPath)
	if errors.Is(err, fs.ErrNotExist) {
		return featuresErr
	}
	if err != nil {
		return err
	}
	defer inputs.Close()

	for input, err := range inputs.Records() {
		if err != nil {
			return errors.Join(featuresErr, fmt.Errorf("%w: corpus: %w", errs.ErrCorruptShard, err))
		}
		fn(input, features[hash.Sum64(input)])
	}

	return featuresErr
}

func readFeatures(path string) (map[uint64]feature.Vec, error) {
	features := make(map[uint64]feature.Vec)

	r, err := blobfile.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return features, nil
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()

	for record, err := range r.Records() {
		if err != nil {
			return features, fmt.Errorf("%w: features: %w", errs.ErrCorruptShard, err)
		}
		fv, inputHash, err := UnpackFeaturesAndHash(record)
		if err != nil {
			return features, fmt.Errorf("%w: features %s: %w", errs.ErrCorruptShard, path, err)
		}
		features[inputHash] = fv
	}

	return features, nil
}
