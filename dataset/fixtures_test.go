package dataset

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"
)

// writeShard writes a parquet file with one row group per entry of groups.
func writeShard(t testing.TB, path string, groups [][]string) {
	rowGroups := make([][]interface{}, len(groups))
	for g, group := range groups {
		for _, text := range group {
			text := text
			rowGroups[g] = append(rowGroups[g], Document{Text: &text})
		}
	}
	writeRows(t, path, new(Document), rowGroups)
}

// writeRows writes rows of an arbitrary schema, one row group per entry.
func writeRows(t testing.TB, path string, schema interface{},
	groups [][]interface{}) {
	fw, err := local.NewLocalFileWriter(path)
	require.NoError(t, err)
	pw, err := writer.NewParquetWriter(fw, schema, 1)
	require.NoError(t, err)
	for _, group := range groups {
		for _, row := range group {
			require.NoError(t, pw.Write(row))
		}
		require.NoError(t, pw.Flush(true))
	}
	require.NoError(t, pw.WriteStop())
	require.NoError(t, fw.Close())
}

// requiredDoc has a non-nullable text column after another column.
type requiredDoc struct {
	ID   int64  `parquet:"name=id, type=INT64"`
	Text string `parquet:"name=text, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type idOnlyDoc struct {
	ID int64 `parquet:"name=id, type=INT64"`
}

type intTextDoc struct {
	Text int64 `parquet:"name=text, type=INT64"`
}

// docText names document d of row group g of shard s.
func docText(s, g, d int) string {
	return fmt.Sprintf("s%d-g%d-d%d", s, g, d)
}

// writeCorpus writes `len(groupsPerShard)` shards into dir; shard s has
// groupsPerShard[s] row groups of docsPerGroup documents.
func writeCorpus(t testing.TB, dir string, groupsPerShard []int,
	docsPerGroup int) []string {
	paths := make([]string, len(groupsPerShard))
	for s, numGroups := range groupsPerShard {
		groups := make([][]string, numGroups)
		for g := range groups {
			for d := 0; d < docsPerGroup; d++ {
				groups[g] = append(groups[g], docText(s, g, d))
			}
		}
		paths[s] = filepath.Join(dir, fmt.Sprintf("shard_%05d.parquet", s))
		writeShard(t, paths[s], groups)
	}
	return paths
}
