package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/arloliu/millipede/blobfile"
	"github.com/arloliu/millipede/format"
	"github.com/arloliu/millipede/internal/hash"
	"github.com/arloliu/millipede/shard"
)

// SaveCorpusToLocalDir copies the inputs of the first totalShards corpus
// files of layout into dir, one file per input named by its hash. It
// returns the number of inputs read.
func SaveCorpusToLocalDir(layout shard.Layout, totalShards int, dir string) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	n := 0
	for i := range totalShards {
		inputs, err := blobfile.ReadAll(layout.CorpusPath(i))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return n, err
		}
		for _, input := range inputs {
			if err := writeToHashedFileInDir(dir, input); err != nil {
				return n, err
			}
			n++
		}
	}

	return n, nil
}

// ExportCorpusFromLocalDir distributes the regular files found under dir
// among the first totalShards corpus files of layout. A file goes to the
// shard selected by the hash of its name and is skipped if it is empty or
// that shard already holds the same input. It returns the number of inputs
// added.
func ExportCorpusFromLocalDir(layout shard.Layout, totalShards int, dir string, compression format.CompressionType) (int, error) {
	sharded := make([][]string, totalShards)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			idx := hash.ID(d.Name()) % uint64(totalShards)
			sharded[idx] = append(sharded[idx], path)
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	added := 0
	for i, paths := range sharded {
		if len(paths) == 0 {
			continue
		}
		n, err := exportToShard(layout.CorpusPath(i), paths, compression)
		added += n
		if err != nil {
			return added, err
		}
	}

	return added, nil
}

func exportToShard(corpusPath string, paths []string, compression format.CompressionType) (int, error) {
	existing := make(map[uint64]struct{})
	inputs, err := blobfile.ReadAll(corpusPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, err
	}
	for _, input := range inputs {
		existing[hash.Sum64(input)] = struct{}{}
	}

	w, err := blobfile.Create(corpusPath, blobfile.WithCompression(compression))
	if err != nil {
		return 0, err
	}
	defer w.Close()

	added := 0
	for _, path := range paths {
		input, err := os.ReadFile(path)
		if err != nil {
			return added, fmt.Errorf("failed to read %s: %w", path, err)
		}
		h := hash.Sum64(input)
		if _, ok := existing[h]; ok || len(input) == 0 {
			continue
		}
		if err := w.Write(input); err != nil {
			return added, err
		}
		existing[h] = struct{}{}
		added++
	}

	return added, w.Close()
}
