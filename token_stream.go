package token_stream

import (
	"context"
	"fmt"
	"io"

	"github.com/wbrown/token_stream/dataset"
	"github.com/wbrown/token_stream/resources"
	"github.com/wbrown/token_stream/types"
)

const (
	DefaultTokenizerThreads   = 4
	DefaultTokenizerBatchSize = 128
)

// BatchReader is one finite pass over a split. `*dataset.ShardReader`
// satisfies it.
type BatchReader interface {
	Next(ctx context.Context) (dataset.DocumentBatch, error)
	Close() error
}

// StreamOptions
// Configures a TokenStream. Dir, ValShard, Split, Rank and WorldSize are
// passed to the default shard reader; NewReader replaces it entirely.
type StreamOptions struct {
	BatchSize int
	SeqLen    int
	Split     string
	Rank      int
	WorldSize int
	Dir       string
	ValShard  string

	TokenizerFactory   TokenizerFactory
	TokenizerThreads   int
	TokenizerBatchSize int

	NewReader func() (BatchReader, error)
	Reporter  resources.Reporter
}

// TokenStream
// Turns an endless loop of document passes into fixed-shape windows. Each
// window consumes the next `BatchSize*SeqLen+1` tokens of the stream, so
// consecutive windows cover disjoint, contiguous stretches of it. A
// TokenStream is not safe for concurrent use.
type TokenStream struct {
	opts      StreamOptions
	tokenizer Tokenizer
	bos       types.Token
	reader    BatchReader
	pending   []string
	passDocs  int
	passes    int
	buffer    types.Tokens
	windows   int
}

func (opts *StreamOptions) validate() error {
	if opts.BatchSize < 1 || opts.SeqLen < 1 {
		return fmt.Errorf("%w: batch size %d and sequence length %d "+
			"must be positive", ErrInvalidOptions, opts.BatchSize,
			opts.SeqLen)
	}
	if opts.TokenizerFactory == nil {
		return fmt.Errorf("%w: no tokenizer", ErrInvalidOptions)
	}
	if opts.NewReader != nil {
		return nil
	}
	if splitErr := dataset.ValidateSplit(opts.Split); splitErr != nil {
		return splitErr
	}
	if opts.WorldSize < 1 || opts.Rank < 0 || opts.Rank >= opts.WorldSize {
		return fmt.Errorf("%w: need 0 <= rank < world size, got rank %d "+
			"of %d", dataset.ErrInvalidRank, opts.Rank, opts.WorldSize)
	}
	return nil
}

// NewTokenStream
// Validates opts and fills in defaults. Nothing is read or tokenized until
// the first Next.
func NewTokenStream(opts StreamOptions) (*TokenStream, error) {
	if optsErr := opts.validate(); optsErr != nil {
		return nil, optsErr
	}
	if opts.TokenizerThreads <= 0 {
		opts.TokenizerThreads = DefaultTokenizerThreads
	}
	if opts.TokenizerBatchSize <= 0 {
		opts.TokenizerBatchSize = DefaultTokenizerBatchSize
	}
	if opts.Reporter == nil {
		opts.Reporter = resources.NopReporter()
	}
	if opts.NewReader == nil {
		readerOpts := dataset.ReaderOptions{
			Dir:       opts.Dir,
			Split:     opts.Split,
			Rank:      opts.Rank,
			WorldSize: opts.WorldSize,
			ValShard:  opts.ValShard,
		}
		opts.NewReader = func() (BatchReader, error) {
			return dataset.NewShardReader(readerOpts)
		}
	}
	return &TokenStream{opts: opts}, nil
}

// WindowTokens is the number of tokens a single window consumes.
func (ts *TokenStream) WindowTokens() int {
	return ts.opts.BatchSize*ts.opts.SeqLen + 1
}

// Windows returns how many windows have been produced.
func (ts *TokenStream) Windows() int {
	return ts.windows
}

// Buffered returns how many tokenized tokens are waiting in the buffer.
func (ts *TokenStream) Buffered() int {
	return len(ts.buffer)
}

func (ts *TokenStream) initTokenizer() error {
	if ts.tokenizer != nil {
		return nil
	}
	tokenizer, tokErr := ts.opts.TokenizerFactory()
	if tokErr != nil {
		return tokErr
	}
	ts.tokenizer = tokenizer
	ts.bos = tokenizer.BosTokenID()
	return nil
}

// nextDocuments
// Returns up to TokenizerBatchSize documents, starting a new pass whenever
// the current reader is exhausted.
func (ts *TokenStream) nextDocuments(ctx context.Context) ([]string, error) {
	for len(ts.pending) == 0 {
		if ts.reader == nil {
			reader, readerErr := ts.opts.NewReader()
			if readerErr != nil {
				return nil, readerErr
			}
			ts.reader = reader
			ts.passDocs = 0
		}
		batch, nextErr := ts.reader.Next(ctx)
		if nextErr == io.EOF {
			closeErr := ts.reader.Close()
			ts.reader = nil
			if closeErr != nil {
				return nil, closeErr
			}
			if ts.passDocs == 0 {
				return nil, fmt.Errorf("%w: rank %d of %d, split %q",
					ErrNoData, ts.opts.Rank, ts.opts.WorldSize,
					ts.opts.Split)
			}
			ts.passes++
			ts.opts.Reporter.Infof("Rank %d finished pass %d over %d "+
				"documents", ts.opts.Rank, ts.passes, ts.passDocs)
			continue
		} else if nextErr != nil {
			return nil, nextErr
		}
		ts.pending = batch.Texts
		ts.passDocs += len(batch.Texts)
	}
	count := len(ts.pending)
	if count > ts.opts.TokenizerBatchSize {
		count = ts.opts.TokenizerBatchSize
	}
	docs := ts.pending[:count]
	ts.pending = ts.pending[count:]
	return docs, nil
}

// Next
// Returns the next window, tokenizing documents until the buffer holds
// enough tokens for it.
func (ts *TokenStream) Next(ctx context.Context) (*types.Window, error) {
	if tokErr := ts.initTokenizer(); tokErr != nil {
		return nil, tokErr
	}
	need := ts.WindowTokens()
	for len(ts.buffer) < need {
		docs, docsErr := ts.nextDocuments(ctx)
		if docsErr != nil {
			return nil, docsErr
		}
		runs, encErr := ts.tokenizer.Encode(docs, &ts.bos,
			ts.opts.TokenizerThreads)
		if encErr != nil {
			return nil, encErr
		}
		for _, run := range runs {
			ts.buffer = append(ts.buffer, run...)
		}
	}
	window := types.NewWindow(ts.buffer, ts.opts.BatchSize, ts.opts.SeqLen)
	remaining := copy(ts.buffer, ts.buffer[need:])
	ts.buffer = ts.buffer[:remaining]
	ts.windows++
	return window, nil
}

// Close releases the reader of the current pass.
func (ts *TokenStream) Close() error {
	if ts.reader == nil {
		return nil
	}
	closeErr := ts.reader.Close()
	ts.reader = nil
	return closeErr
}

// StreamResult carries a window, or the error that ended the stream.
type StreamResult struct {
	Window *types.Window
	Err    error
}

// Stream
// Produces windows on a single goroutine and hands them over a channel
// holding up to depth windows, so the next window is tokenized while the
// caller works on the current one. The channel is closed after the first
// error, or once ctx is done. The TokenStream must not be used directly
// while a Stream is running.
func (ts *TokenStream) Stream(ctx context.Context, depth int) <-chan StreamResult {
	if depth < 1 {
		depth = 1
	}
	results := make(chan StreamResult, depth)
	go func() {
		defer close(results)
		for ctx.Err() == nil {
			window, nextErr := ts.Next(ctx)
			select {
			case results <- StreamResult{Window: window, Err: nextErr}:
			case <-ctx.Done():
				return
			}
			if nextErr != nil {
				return
			}
		}
	}()
	return results
}
