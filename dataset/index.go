package dataset

import (
	"os"

	lru "github.com/hashicorp/golang-lru"
)

const indexCacheSize = 4096

type indexKey struct {
	path    string
	size    int64
	modTime int64
}

// RowGroupIndex
// Caches each shard's row group layout, keyed by path, size and mtime, so
// later passes can skip shards that hold no row groups for a rank without
// mapping them again.
type RowGroupIndex struct {
	cache *lru.ARCCache
}

func NewRowGroupIndex(size int) *RowGroupIndex {
	cache, _ := lru.NewARC(size)
	return &RowGroupIndex{cache: cache}
}

// sharedIndex is used by readers that are not given their own index.
var sharedIndex = NewRowGroupIndex(indexCacheSize)

func keyFor(path string) (indexKey, bool) {
	stat, statErr := os.Stat(path)
	if statErr != nil {
		return indexKey{}, false
	}
	return indexKey{path, stat.Size(), stat.ModTime().UnixNano()}, true
}

// Lookup returns the cached rows per row group of path.
func (idx *RowGroupIndex) Lookup(path string) ([]int64, bool) {
	key, ok := keyFor(path)
	if !ok {
		return nil, false
	}
	if rows, found := idx.cache.Get(key); found {
		return rows.([]int64), true
	}
	return nil, false
}

func (idx *RowGroupIndex) Add(path string, rows []int64) {
	if key, ok := keyFor(path); ok {
		idx.cache.Add(key, append([]int64(nil), rows...))
	}
}

// RowGroups returns the layout of path, opening it on a cache miss.
func (idx *RowGroupIndex) RowGroups(path string, open Opener) (
	[]int64, error) {
	if rows, ok := idx.Lookup(path); ok {
		return rows, nil
	}
	shard, openErr := open(path)
	if openErr != nil {
		return nil, openErr
	}
	defer shard.Close()
	rows := shard.RowGroupRows()
	idx.Add(path, rows)
	return rows, nil
}

// Assignment identifies one row group of one shard.
type Assignment struct {
	Path     string
	RowGroup int
}

// Assignments
// Lists, in visiting order, the row groups a rank reads from files: groups
// `rank, rank+world, ...` of each file, file by file.
func (idx *RowGroupIndex) Assignments(files []string, rank int, world int,
	open Opener) ([]Assignment, error) {
	if rankErr := validateRank(rank, world); rankErr != nil {
		return nil, rankErr
	}
	assigned := make([]Assignment, 0)
	for _, path := range files {
		rows, rowsErr := idx.RowGroups(path, open)
		if rowsErr != nil {
			return nil, rowsErr
		}
		for rowGroup := rank; rowGroup < len(rows); rowGroup += world {
			assigned = append(assigned, Assignment{path, rowGroup})
		}
	}
	return assigned, nil
}
