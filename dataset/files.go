package dataset

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yargevad/filepathx"
)

const (
	SplitTrain = "train"
	SplitVal   = "val"
)

// ValidateSplit returns ErrInvalidSplit for anything but train or val.
func ValidateSplit(split string) error {
	if split != SplitTrain && split != SplitVal {
		return fmt.Errorf("%w: got %q", ErrInvalidSplit, split)
	}
	return nil
}

// ListShardFiles
// Returns the complete shard files in dir, sorted by name. Temporary files
// from interrupted downloads are never listed.
func ListShardFiles(dir string) ([]string, error) {
	matches, globErr := filepathx.Glob(filepath.Join(dir, "*.parquet"))
	if globErr != nil {
		return nil, globErr
	}
	paths := make([]string, 0, len(matches))
	for _, match := range matches {
		if strings.HasSuffix(match, ".tmp") {
			continue
		}
		paths = append(paths, match)
	}
	sort.Strings(paths)
	return paths, nil
}

// SplitFiles
// Applies the split policy to sorted shard paths. Validation gets the last
// shard and training gets every other one. When valShard names a file, the
// validation shard is pinned to it instead of to the last position.
func SplitFiles(paths []string, split string, valShard string) (
	[]string, error) {
	if splitErr := ValidateSplit(split); splitErr != nil {
		return nil, splitErr
	}
	if valShard != "" {
		selected := make([]string, 0, len(paths))
		for _, path := range paths {
			isVal := filepath.Base(path) == filepath.Base(valShard)
			if isVal == (split == SplitVal) {
				selected = append(selected, path)
			}
		}
		return selected, nil
	}
	if len(paths) == 0 {
		return nil, nil
	}
	last := len(paths) - 1
	if split == SplitTrain {
		return append([]string(nil), paths[:last]...), nil
	}
	return []string{paths[last]}, nil
}
