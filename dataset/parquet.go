package dataset

import (
	"fmt"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/common"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
)

// TextColumn is the only column decoded from a shard.
const TextColumn = "text"

// Document is the schema shards are written with. Readers accept any schema
// with a top-level BYTE_ARRAY `text` column, REQUIRED or OPTIONAL; other
// columns are ignored.
type Document struct {
	Text *string `parquet:"name=text, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}

// ShardFile is an open shard that can read its row groups independently.
type ShardFile interface {
	// RowGroupRows returns the number of rows in each row group.
	RowGroupRows() []int64
	// ReadRowGroup returns the text column of row group idx.
	ReadRowGroup(idx int) ([]string, error)
	Close() error
}

// Opener opens a shard file for reading.
type Opener func(path string) (ShardFile, error)

// parquetOpener is the default Opener; nil means no columnar reader is
// available.
var parquetOpener Opener = OpenParquetShard

type parquetShard struct {
	path    string
	release func() error
	pr      *reader.ParquetReader
	column  string
	rows    []int64
	offsets []int64
	pos     int64
}

// OpenParquetShard
// Maps a shard into memory and reads its footer. Pages are only faulted in
// as row groups are read, so a shard is never loaded whole.
func OpenParquetShard(path string) (ShardFile, error) {
	data, release, mapErr := mapFile(path)
	if mapErr != nil {
		return nil, fmt.Errorf("cannot map %s: %w", path, mapErr)
	}
	bf := buffer.NewBufferFileFromBytesNoAlloc(data)
	pr, readerErr := reader.NewParquetColumnReader(bf, 1)
	if readerErr != nil {
		release()
		return nil, fmt.Errorf("cannot read parquet footer of %s: %w", path,
			readerErr)
	}
	column, columnErr := textColumnPath(pr)
	if columnErr != nil {
		release()
		return nil, fmt.Errorf("%s: %w", path, columnErr)
	}
	shard := &parquetShard{
		path:    path,
		release: release,
		pr:      pr,
		column:  column,
		rows:    make([]int64, len(pr.Footer.RowGroups)),
		offsets: make([]int64, len(pr.Footer.RowGroups)),
	}
	var offset int64
	for idx, rowGroup := range pr.Footer.RowGroups {
		shard.rows[idx] = rowGroup.NumRows
		shard.offsets[idx] = offset
		offset += rowGroup.NumRows
	}
	return shard, nil
}

// textColumnPath resolves the internal path of the top-level text column and
// checks that it holds one string per row.
func textColumnPath(pr *reader.ParquetReader) (string, error) {
	handler := pr.SchemaHandler
	exPath := common.PathToStr([]string{handler.GetRootExName(), TextColumn})
	inPath, pathErr := handler.ConvertToInPathStr(exPath)
	if pathErr != nil {
		return "", fmt.Errorf("%w: %q", ErrMissingColumn, TextColumn)
	}
	idx, ok := handler.MapIndex[inPath]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrMissingColumn, TextColumn)
	}
	element := handler.SchemaElements[idx]
	switch {
	case element.GetNumChildren() > 0 || element.Type == nil:
		return "", fmt.Errorf("%w: %q is a group", ErrUnsupportedColumn,
			TextColumn)
	case element.GetType() != parquet.Type_BYTE_ARRAY:
		return "", fmt.Errorf("%w: %q has physical type %s",
			ErrUnsupportedColumn, TextColumn, element.GetType())
	case element.GetRepetitionType() == parquet.FieldRepetitionType_REPEATED:
		return "", fmt.Errorf("%w: %q is repeated", ErrUnsupportedColumn,
			TextColumn)
	}
	return inPath, nil
}

func (shard *parquetShard) RowGroupRows() []int64 {
	return shard.rows
}

// ReadRowGroup
// Row groups must be requested in increasing order; rows between the
// previous group and this one are skipped without decoding them. A null
// text reads as the empty string.
func (shard *parquetShard) ReadRowGroup(idx int) ([]string, error) {
	if idx < 0 || idx >= len(shard.rows) {
		return nil, fmt.Errorf("%s: row group %d out of range [0, %d)",
			shard.path, idx, len(shard.rows))
	}
	start := shard.offsets[idx]
	if start < shard.pos {
		return nil, fmt.Errorf("%s: row group %d already consumed",
			shard.path, idx)
	}
	if start > shard.pos {
		skipErr := shard.pr.SkipRowsByPath(shard.column, start-shard.pos)
		if skipErr != nil {
			return nil, fmt.Errorf("%s: skipping to row group %d: %w",
				shard.path, idx, skipErr)
		}
	}
	numRows := shard.rows[idx]
	texts := make([]string, numRows)
	if numRows == 0 {
		shard.pos = start
		return texts, nil
	}
	values, _, _, readErr := shard.pr.ReadColumnByPath(shard.column, numRows)
	if readErr != nil {
		return nil, fmt.Errorf("%s: reading row group %d: %w", shard.path,
			idx, readErr)
	}
	if int64(len(values)) != numRows {
		return nil, fmt.Errorf("%s: row group %d: read %d of %d rows",
			shard.path, idx, len(values), numRows)
	}
	shard.pos = start + numRows
	for rowIdx, value := range values {
		switch text := value.(type) {
		case nil:
		case string:
			texts[rowIdx] = text
		default:
			return nil, fmt.Errorf("%s: row group %d: %w: %T in %q",
				shard.path, idx, ErrUnsupportedColumn, value, TextColumn)
		}
	}
	return texts, nil
}

func (shard *parquetShard) Close() error {
	shard.pr.ReadStop()
	return shard.release()
}
