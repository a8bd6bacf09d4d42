package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/wbrown/token_stream"
	"github.com/wbrown/token_stream/config"
	"github.com/wbrown/token_stream/dataset"
	"github.com/wbrown/token_stream/resources"
	"go.uber.org/zap"
)

type streamFlags struct {
	configFiles []string
	overrides   []string
	dataDir     string
	split       string
	valShard    string
	batchSize   int
	seqLen      int
	tokenizer   string
	threads     int
	tokBatch    int
	windows     int
	output      string
	uint32      bool
	sanitize    bool
	depth       int
	verbose     bool
}

func newRootCmd() *cobra.Command {
	flags := &streamFlags{}
	cmd := &cobra.Command{
		Use:   "dataset_streamer",
		Short: "Stream tokenized training windows from cached shards",
		Long: `Reads this rank's row groups of the cached parquet shards, tokenizes
them and writes fixed-shape windows to a binary chunk file. Each window is
stored as its BatchSize*SeqLen+1 token draw, little-endian.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, flags)
		},
	}
	defaults := config.Defaults()
	fs := cmd.Flags()
	fs.StringSliceVar(&flags.configFiles, "config", nil,
		"YAML or JSON config file, may be repeated")
	fs.StringArrayVar(&flags.overrides, "set", nil,
		"key=value config override, may be repeated")
	fs.StringVar(&flags.dataDir, "data-dir", "", "shard cache directory")
	fs.StringVar(&flags.split, "split", defaults.Split, "train or val")
	fs.StringVar(&flags.valShard, "val-shard", "",
		"pin the validation shard by file name")
	fs.IntVarP(&flags.batchSize, "batch-size", "b", defaults.BatchSize,
		"rows per window")
	fs.IntVarP(&flags.seqLen, "seq-len", "t", defaults.SeqLen,
		"tokens per row")
	fs.StringVar(&flags.tokenizer, "tokenizer", defaults.Tokenizer,
		"tokenizer to use [gpt2, pile, huggingface-id]")
	fs.IntVar(&flags.threads, "tokenizer-threads", defaults.TokenizerThreads,
		"documents encoded in parallel")
	fs.IntVar(&flags.tokBatch, "tokenizer-batch-size",
		defaults.TokenizerBatchSize, "documents per tokenizer call")
	fs.IntVarP(&flags.windows, "windows", "n", defaults.Windows,
		"windows to write, 0 to run until interrupted")
	fs.StringVar(&flags.output, "output", defaults.Output,
		"tokenized output file")
	fs.BoolVar(&flags.uint32, "uint32", false,
		"write 32-bit tokens instead of 16-bit")
	fs.BoolVar(&flags.sanitize, "sanitize", false,
		"sanitize documents of whitespace issues")
	fs.IntVar(&flags.depth, "prefetch", 2,
		"windows tokenized ahead of the writer")
	fs.BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func loadConfig(cmd *cobra.Command, flags *streamFlags) (
	config.RunConfig, error) {
	cfg, loadErr := config.Load(config.Defaults(), flags.configFiles,
		flags.overrides)
	if loadErr != nil {
		return cfg, loadErr
	}
	changed := cmd.Flags().Changed
	if changed("data-dir") {
		cfg.DataDir = flags.dataDir
	}
	if changed("split") {
		cfg.Split = flags.split
	}
	if changed("val-shard") {
		cfg.ValShard = flags.valShard
	}
	if changed("batch-size") {
		cfg.BatchSize = flags.batchSize
	}
	if changed("seq-len") {
		cfg.SeqLen = flags.seqLen
	}
	if changed("tokenizer") {
		cfg.Tokenizer = flags.tokenizer
	}
	if changed("tokenizer-threads") {
		cfg.TokenizerThreads = flags.threads
	}
	if changed("tokenizer-batch-size") {
		cfg.TokenizerBatchSize = flags.tokBatch
	}
	if changed("windows") {
		cfg.Windows = flags.windows
	}
	if changed("output") {
		cfg.Output = flags.output
	}
	if changed("uint32") {
		cfg.Uint32 = flags.uint32
	}
	return cfg, cfg.Validate()
}

// WriteWindows
// Consumes windows from results and appends each window's draw to outPath,
// stopping after limit windows, or at the end of the stream when limit is
// not positive. Returns the number of tokens written.
func WriteWindows(outPath string, results <-chan token_stream.StreamResult,
	limit int, useUint32 bool) (int, error) {
	totalTokens := 0
	outFile, err := os.OpenFile(outPath, os.O_TRUNC|os.O_RDWR|os.O_CREATE,
		0644)
	if err != nil {
		return 0, err
	}
	defer outFile.Close()
	writer := bufio.NewWriterSize(outFile, 1<<20)

	written := 0
	for limit <= 0 || written < limit {
		result, more := <-results
		if !more {
			break
		}
		if result.Err != nil {
			if errors.Is(result.Err, context.Canceled) {
				break
			}
			writer.Flush()
			return totalTokens, result.Err
		}
		binWindow, binErr := result.Window.ToBin(useUint32)
		if binErr != nil {
			return totalTokens, binErr
		}
		if _, err := writer.Write(*binWindow); err != nil {
			return totalTokens, err
		}
		totalTokens += len(result.Window.Inputs) + 1
		written++
	}
	if err := writer.Flush(); err != nil {
		return totalTokens, err
	}
	return totalTokens, outFile.Sync()
}

func runStream(cmd *cobra.Command, flags *streamFlags) error {
	logger, logErr := resources.NewConsoleLogger(flags.verbose)
	if logErr != nil {
		return fmt.Errorf("failed to initialize logger: %w", logErr)
	}
	defer logger.Sync()

	cfg, cfgErr := loadConfig(cmd, flags)
	if cfgErr != nil {
		logger.Error("Invalid configuration", zap.Error(cfgErr))
		return cfgErr
	}
	dist, distErr := token_stream.GetDistInfo()
	if distErr != nil {
		logger.Error("Invalid distributed environment", zap.Error(distErr))
		return distErr
	}
	reporter := resources.RankReporter(logger, dist.Rank)

	dir, dirErr := cfg.ShardConfig().ResolveCacheDir()
	if dirErr != nil {
		return dirErr
	}
	outPath := cfg.Output
	if dist.WorldSize > 1 {
		outPath = fmt.Sprintf("%s.rank%d", cfg.Output, dist.Rank)
	}
	reporter.Infof("Tokenizer definition: %s", cfg.Tokenizer)
	reporter.Infof("Streaming %s split of %s as %d ranks", cfg.Split, dir,
		dist.WorldSize)
	reporter.Infof("Tokenizer output: %s", outPath)

	readerOpts := dataset.ReaderOptions{
		Dir:       dir,
		Split:     cfg.Split,
		Rank:      dist.Rank,
		WorldSize: dist.WorldSize,
		ValShard:  cfg.ValShard,
	}
	stream, streamErr := token_stream.NewTokenStream(
		token_stream.StreamOptions{
			BatchSize:          cfg.BatchSize,
			SeqLen:             cfg.SeqLen,
			Split:              cfg.Split,
			Rank:               dist.Rank,
			WorldSize:          dist.WorldSize,
			TokenizerFactory:   token_stream.GPTTokenizerFactory(cfg.Tokenizer),
			TokenizerThreads:   cfg.TokenizerThreads,
			TokenizerBatchSize: cfg.TokenizerBatchSize,
			Reporter:           reporter,
			NewReader: func() (token_stream.BatchReader, error) {
				reader, readerErr := dataset.NewShardReader(readerOpts)
				if readerErr != nil || !flags.sanitize {
					return reader, readerErr
				}
				return sanitizingReader{reader}, nil
			},
		})
	if streamErr != nil {
		return streamErr
	}
	defer stream.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt,
		syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	results := stream.Stream(ctx, flags.depth)

	begin := time.Now()
	total, writeErr := WriteWindows(outPath, results, cfg.Windows, cfg.Uint32)
	cancel()
	for range results {
	}
	if writeErr != nil {
		logger.Error("Streaming failed", zap.Error(writeErr))
		return writeErr
	}
	duration := time.Since(begin).Seconds()
	reporter.Infof("%s tokens in %0.2fs, %s tokens/s",
		humanize.Comma(int64(total)), duration,
		humanize.Comma(int64(float64(total)/duration)))
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
