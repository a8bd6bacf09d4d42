package dataset

import (
	"context"
	"fmt"
	"io"
)

// DocumentBatch is the text column of one row group of one shard.
type DocumentBatch struct {
	Shard    string
	RowGroup int
	Texts    []string
}

// ReaderOptions
// Configures a single pass over the cached shards of one split, as seen by
// one rank of `WorldSize`.
type ReaderOptions struct {
	Dir       string
	Split     string
	Rank      int
	WorldSize int
	// ValShard pins the validation shard by file name instead of taking
	// the last shard.
	ValShard string
	// Open overrides the parquet opener, mostly for tests.
	Open  Opener
	Index *RowGroupIndex
}

func validateRank(rank int, world int) error {
	if world < 1 || rank < 0 || rank >= world {
		return fmt.Errorf("%w: need 0 <= rank < world size, got rank %d "+
			"of %d", ErrInvalidRank, rank, world)
	}
	return nil
}

// ShardReader
// Streams DocumentBatches for one rank. Rank r of world size w visits row
// groups r, r+w, r+2w, ... within each shard, shard by shard, so for a fixed
// w every row group is read by exactly one rank. A reader makes a single
// pass and then returns io.EOF.
type ShardReader struct {
	files    []string
	rank     int
	world    int
	open     Opener
	index    *RowGroupIndex
	fileIdx  int
	current  ShardFile
	rowGroup int
}

// NewShardReader
// Lists and splits the shard files of opts.Dir. Unknown splits and ranks
// outside the world are rejected here; a missing parquet reader is only
// reported by the first Next.
func NewShardReader(opts ReaderOptions) (*ShardReader, error) {
	if splitErr := ValidateSplit(opts.Split); splitErr != nil {
		return nil, splitErr
	}
	if rankErr := validateRank(opts.Rank, opts.WorldSize); rankErr != nil {
		return nil, rankErr
	}
	paths, listErr := ListShardFiles(opts.Dir)
	if listErr != nil {
		return nil, listErr
	}
	files, splitErr := SplitFiles(paths, opts.Split, opts.ValShard)
	if splitErr != nil {
		return nil, splitErr
	}
	reader := &ShardReader{
		files: files,
		rank:  opts.Rank,
		world: opts.WorldSize,
		open:  opts.Open,
		index: opts.Index,
	}
	if reader.open == nil {
		reader.open = parquetOpener
	}
	if reader.index == nil {
		reader.index = sharedIndex
	}
	return reader, nil
}

// Files returns the shards this reader will visit, in order.
func (reader *ShardReader) Files() []string {
	return reader.files
}

// Next
// Returns the next row group assigned to this rank, or io.EOF when the
// pass is over.
func (reader *ShardReader) Next(ctx context.Context) (DocumentBatch, error) {
	if reader.open == nil {
		return DocumentBatch{}, fmt.Errorf(
			"%w: no parquet reader is available", ErrMissingCapability)
	}
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return DocumentBatch{}, ctxErr
		}
		if reader.current == nil {
			if reader.fileIdx >= len(reader.files) {
				return DocumentBatch{}, io.EOF
			}
			path := reader.files[reader.fileIdx]
			if rows, ok := reader.index.Lookup(path); ok &&
				len(rows) <= reader.rank {
				reader.fileIdx++
				continue
			}
			shard, openErr := reader.open(path)
			if openErr != nil {
				return DocumentBatch{}, openErr
			}
			reader.index.Add(path, shard.RowGroupRows())
			reader.current = shard
			reader.rowGroup = reader.rank
		}
		if reader.rowGroup >= len(reader.current.RowGroupRows()) {
			if closeErr := reader.closeCurrent(); closeErr != nil {
				return DocumentBatch{}, closeErr
			}
			reader.fileIdx++
			continue
		}
		texts, readErr := reader.current.ReadRowGroup(reader.rowGroup)
		if readErr != nil {
			return DocumentBatch{}, readErr
		}
		batch := DocumentBatch{
			Shard:    reader.files[reader.fileIdx],
			RowGroup: reader.rowGroup,
			Texts:    texts,
		}
		reader.rowGroup += reader.world
		return batch, nil
	}
}

func (reader *ShardReader) closeCurrent() error {
	if reader.current == nil {
		return nil
	}
	closeErr := reader.current.Close()
	reader.current = nil
	return closeErr
}

// Close releases the shard being read, if any.
func (reader *ShardReader) Close() error {
	return reader.closeCurrent()
}

// ReadAll drains the remaining pass. Handy for small validation splits.
func (reader *ShardReader) ReadAll(ctx context.Context) (
	[]DocumentBatch, error) {
	batches := make([]DocumentBatch, 0)
	for {
		batch, nextErr := reader.Next(ctx)
		if nextErr == io.EOF {
			return batches, nil
		} else if nextErr != nil {
			return batches, nextErr
		}
		batches = append(batches, batch)
	}
}
