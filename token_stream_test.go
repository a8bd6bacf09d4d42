package token_stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/token_stream/dataset"
	"github.com/wbrown/token_stream/types"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/goleak"
)

const bos = types.Token(0)

// runeTokenizer encodes every rune as its code point.
type runeTokenizer struct {
	mu      sync.Mutex
	calls   [][]string
	threads []int
}

func (tok *runeTokenizer) BosTokenID() types.Token {
	return bos
}

func (tok *runeTokenizer) Encode(texts []string, prepend *types.Token,
	threads int) ([]types.Tokens, error) {
	tok.mu.Lock()
	tok.calls = append(tok.calls, append([]string(nil), texts...))
	tok.threads = append(tok.threads, threads)
	tok.mu.Unlock()
	runs := make([]types.Tokens, len(texts))
	for idx, text := range texts {
		if prepend != nil {
			runs[idx] = append(runs[idx], *prepend)
		}
		for _, r := range text {
			runs[idx] = append(runs[idx], types.Token(r))
		}
	}
	return runs, nil
}

func (tok *runeTokenizer) factory(built *int) TokenizerFactory {
	return func() (Tokenizer, error) {
		if built != nil {
			*built++
		}
		return tok, nil
	}
}

// sliceReader replays fixed batches once.
type sliceReader struct {
	batches [][]string
	pos     int
	closed  bool
}

func (reader *sliceReader) Next(ctx context.Context) (
	dataset.DocumentBatch, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return dataset.DocumentBatch{}, ctxErr
	}
	if reader.pos >= len(reader.batches) {
		return dataset.DocumentBatch{}, io.EOF
	}
	batch := dataset.DocumentBatch{RowGroup: reader.pos,
		Texts: reader.batches[reader.pos]}
	reader.pos++
	return batch, nil
}

func (reader *sliceReader) Close() error {
	reader.closed = true
	return nil
}

func replaying(opened *int, batches ...[]string) func() (BatchReader, error) {
	return func() (BatchReader, error) {
		if opened != nil {
			*opened++
		}
		return &sliceReader{batches: batches}, nil
	}
}

// expectedStream is the token stream for `passes` passes over docs.
func expectedStream(docs []string, passes int) types.Tokens {
	stream := make(types.Tokens, 0)
	for pass := 0; pass < passes; pass++ {
		for _, doc := range docs {
			stream = append(stream, bos)
			for _, r := range doc {
				stream = append(stream, types.Token(r))
			}
		}
	}
	return stream
}

func writeShard(t *testing.T, path string, groups ...[]string) {
	fw, err := local.NewLocalFileWriter(path)
	require.NoError(t, err)
	pw, err := writer.NewParquetWriter(fw, new(dataset.Document), 1)
	require.NoError(t, err)
	for _, group := range groups {
		for _, text := range group {
			text := text
			require.NoError(t, pw.Write(dataset.Document{Text: &text}))
		}
		require.NoError(t, pw.Flush(true))
	}
	require.NoError(t, pw.WriteStop())
	require.NoError(t, fw.Close())
}

// Three shards of two row groups, world size 2, B=1, T=3: rank 0 trains on
// row group 0 of shards 0 and 1 and loops over them forever.
func TestTokenStreamFromShards(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, filepath.Join(dir, "shard_00000.parquet"),
		[]string{"ab"}, []string{"zz"})
	writeShard(t, filepath.Join(dir, "shard_00001.parquet"),
		[]string{"cd"}, []string{"yy"})
	writeShard(t, filepath.Join(dir, "shard_00002.parquet"),
		[]string{"vv"}, []string{"ww"})

	tok := &runeTokenizer{}
	ts, err := NewTokenStream(StreamOptions{
		BatchSize: 1, SeqLen: 3, Split: dataset.SplitTrain,
		Rank: 0, WorldSize: 2, Dir: dir,
		TokenizerFactory: tok.factory(nil),
	})
	require.NoError(t, err)
	defer ts.Close()

	ctx := context.Background()
	first, err := ts.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Tokens{bos, 'a', 'b'}, first.Inputs)
	assert.Equal(t, types.Tokens{'a', 'b', bos}, first.Targets)

	second, err := ts.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Tokens{'c', 'd', bos}, second.Inputs)
	assert.Equal(t, types.Tokens{'d', bos, 'a'}, second.Targets)

	want := expectedStream([]string{"ab", "cd"}, 6)
	got := append(first.Draw(), second.Draw()...)
	for idx := 0; idx < 4; idx++ {
		window, nextErr := ts.Next(ctx)
		require.NoError(t, nextErr)
		got = append(got, window.Draw()...)
	}
	if diff := cmp.Diff(want[:len(got)], got); diff != "" {
		t.Errorf("token stream mismatch (-want +got):\n%s", diff)
	}
	for _, call := range tok.calls {
		for _, text := range call {
			assert.NotContains(t, []string{"zz", "yy", "vv", "ww"}, text)
		}
	}
}

func TestWindowsAreDisjointAndContiguous(t *testing.T) {
	docs := []string{"hello", "", "a", "tokens stream", "xyz"}
	tok := &runeTokenizer{}
	opened := 0
	ts, err := NewTokenStream(StreamOptions{
		BatchSize: 3, SeqLen: 4,
		TokenizerFactory: tok.factory(nil),
		NewReader:        replaying(&opened, docs[:2], docs[2:]),
	})
	require.NoError(t, err)
	assert.Equal(t, 13, ts.WindowTokens())

	got := make(types.Tokens, 0)
	for idx := 0; idx < 20; idx++ {
		window, nextErr := ts.Next(context.Background())
		require.NoError(t, nextErr)
		require.Len(t, window.Inputs, 12)
		require.Len(t, window.Targets, 12)
		for row := 0; row < window.BatchSize; row++ {
			inputs, targets := window.Row(row)
			assert.Equal(t, inputs[1:], targets[:len(targets)-1])
		}
		got = append(got, window.Draw()...)
	}
	assert.Equal(t, 20, ts.Windows())
	want := expectedStream(docs, 20)
	if diff := cmp.Diff(want[:len(got)], got); diff != "" {
		t.Errorf("windows are not contiguous (-want +got):\n%s", diff)
	}
	assert.Greater(t, opened, 1, "reader restarts for every pass")
}

func TestWindowsDoNotAliasTheBuffer(t *testing.T) {
	tok := &runeTokenizer{}
	ts, err := NewTokenStream(StreamOptions{
		BatchSize: 1, SeqLen: 2,
		TokenizerFactory: tok.factory(nil),
		NewReader:        replaying(nil, []string{"abcdefghij"}),
	})
	require.NoError(t, err)
	first, err := ts.Next(context.Background())
	require.NoError(t, err)
	for idx := range first.Inputs {
		first.Inputs[idx] = 9999
	}
	second, err := ts.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.Tokens{'c', 'd'}, second.Inputs)
}

func TestTokenizerIsBuiltLazilyOnce(t *testing.T) {
	tok := &runeTokenizer{}
	built := 0
	ts, err := NewTokenStream(StreamOptions{
		BatchSize: 2, SeqLen: 2,
		TokenizerFactory: tok.factory(&built),
		NewReader:        replaying(nil, []string{"abc", "de"}),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, built)
	for idx := 0; idx < 5; idx++ {
		_, nextErr := ts.Next(context.Background())
		require.NoError(t, nextErr)
	}
	assert.Equal(t, 1, built)
}

func TestTokenizerBatches(t *testing.T) {
	tok := &runeTokenizer{}
	ts, err := NewTokenStream(StreamOptions{
		BatchSize: 1, SeqLen: 10,
		TokenizerFactory:   tok.factory(nil),
		TokenizerBatchSize: 2,
		NewReader: replaying(nil,
			[]string{"a", "b", "c", "d", "e"}),
	})
	require.NoError(t, err)
	_, err = ts.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}, {"a", "b"}},
		tok.calls)
	assert.Equal(t, []int{4, 4, 4, 4}, tok.threads)
	assert.Equal(t, 3, ts.Buffered())
}

func TestEmptySplitReturnsNoData(t *testing.T) {
	tok := &runeTokenizer{}
	ts, err := NewTokenStream(StreamOptions{
		BatchSize: 1, SeqLen: 1,
		TokenizerFactory: tok.factory(nil),
		NewReader:        replaying(nil, []string{}),
	})
	require.NoError(t, err)
	_, err = ts.Next(context.Background())
	assert.ErrorIs(t, err, ErrNoData)

	dir := t.TempDir()
	ts, err = NewTokenStream(StreamOptions{
		BatchSize: 1, SeqLen: 1, Split: dataset.SplitVal,
		Rank: 0, WorldSize: 1, Dir: dir,
		TokenizerFactory: tok.factory(nil),
	})
	require.NoError(t, err)
	_, err = ts.Next(context.Background())
	assert.ErrorIs(t, err, ErrNoData)
}

func TestNewTokenStreamValidates(t *testing.T) {
	tok := &runeTokenizer{}
	valid := StreamOptions{
		BatchSize: 1, SeqLen: 1, Split: dataset.SplitTrain,
		Rank: 0, WorldSize: 1, TokenizerFactory: tok.factory(nil),
	}
	_, err := NewTokenStream(valid)
	require.NoError(t, err)

	for name, tc := range map[string]struct {
		mutate func(*StreamOptions)
		want   error
	}{
		"zero batch": {func(o *StreamOptions) { o.BatchSize = 0 },
			ErrInvalidOptions},
		"zero seq": {func(o *StreamOptions) { o.SeqLen = 0 },
			ErrInvalidOptions},
		"no tokenizer": {func(o *StreamOptions) { o.TokenizerFactory = nil },
			ErrInvalidOptions},
		"bad split": {func(o *StreamOptions) { o.Split = "test" },
			dataset.ErrInvalidSplit},
		"bad rank": {func(o *StreamOptions) { o.Rank = 1 },
			dataset.ErrInvalidRank},
	} {
		opts := valid
		tc.mutate(&opts)
		_, err = NewTokenStream(opts)
		assert.ErrorIs(t, err, tc.want, name)
	}
}

func TestTokenizerErrorsSurface(t *testing.T) {
	boom := errors.New("no vocabulary")
	ts, err := NewTokenStream(StreamOptions{
		BatchSize: 1, SeqLen: 1,
		TokenizerFactory: func() (Tokenizer, error) { return nil, boom },
		NewReader:        replaying(nil, []string{"a"}),
	})
	require.NoError(t, err)
	_, err = ts.Next(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestStreamHandsOverWindows(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	tok := &runeTokenizer{}
	ts, err := NewTokenStream(StreamOptions{
		BatchSize: 2, SeqLen: 3,
		TokenizerFactory: tok.factory(nil),
		NewReader:        replaying(nil, []string{"stream", "me"}),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	results := ts.Stream(ctx, 2)
	got := make(types.Tokens, 0)
	for idx := 0; idx < 5; idx++ {
		result, ok := <-results
		require.True(t, ok)
		require.NoError(t, result.Err)
		got = append(got, result.Window.Draw()...)
	}
	cancel()
	for range results {
	}
	want := expectedStream([]string{"stream", "me"}, 5)
	if diff := cmp.Diff(want[:len(got)], got); diff != "" {
		t.Errorf("streamed windows mismatch (-want +got):\n%s", diff)
	}
}

func TestStreamStopsAtFirstError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	tok := &runeTokenizer{}
	ts, err := NewTokenStream(StreamOptions{
		BatchSize: 1, SeqLen: 1,
		TokenizerFactory: tok.factory(nil),
		NewReader:        replaying(nil),
	})
	require.NoError(t, err)

	results := make([]StreamResult, 0)
	for result := range ts.Stream(context.Background(), 4) {
		results = append(results, result)
	}
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrNoData)
	assert.Nil(t, results[0].Window)
}

func ExampleTokenStream_Next() {
	ts, _ := NewTokenStream(StreamOptions{
		BatchSize:        1,
		SeqLen:           3,
		TokenizerFactory: (&runeTokenizer{}).factory(nil),
		NewReader:        replaying(nil, []string{"ab", "cd"}),
	})
	window, _ := ts.Next(context.Background())
	fmt.Println(window.Inputs, window.Targets)
	// Output: [0 97 98] [97 98 0]
}
