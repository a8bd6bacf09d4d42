package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"github.com/wbrown/token_stream"
	"github.com/wbrown/token_stream/config"
	"github.com/wbrown/token_stream/resources"
	"go.uber.org/zap"
)

var errDeficit = errors.New("some shards could not be downloaded")

type downloadFlags struct {
	configFiles []string
	overrides   []string
	numFiles    int
	numWorkers  int
	dataDir     string
	baseURL     string
	maxAttempts int
	backoff     time.Duration
	cleanTmp    bool
	progress    bool
	verbose     bool
}

func newRootCmd() *cobra.Command {
	flags := &downloadFlags{}
	cmd := &cobra.Command{
		Use:   "shard_downloader",
		Short: "Download dataset shards into the local cache",
		Long: `Fetches shards 0..N-1 of a sharded parquet corpus into the local
cache directory. Shards already present are skipped, so the command can be
rerun to fill in anything a previous run missed.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd, flags)
		},
	}
	cmd.Flags().StringSliceVar(&flags.configFiles, "config", nil,
		"YAML or JSON config file, may be repeated")
	cmd.Flags().StringArrayVar(&flags.overrides, "set", nil,
		"key=value config override, may be repeated")
	cmd.Flags().IntVarP(&flags.numFiles, "num-files", "n", -1,
		"number of shards to download, -1 for all")
	cmd.Flags().IntVarP(&flags.numWorkers, "num-workers", "w", 4,
		"number of parallel download workers")
	cmd.Flags().StringVar(&flags.dataDir, "data-dir", "",
		"shard cache directory")
	cmd.Flags().StringVar(&flags.baseURL, "base-url", "",
		"http(s), s3 or file URL shards are fetched from")
	cmd.Flags().IntVar(&flags.maxAttempts, "max-attempts",
		resources.DefaultMaxAttempts, "attempts per shard")
	cmd.Flags().DurationVar(&flags.backoff, "backoff", time.Second,
		"backoff unit, attempt k waits 2^k units")
	cmd.Flags().BoolVar(&flags.cleanTmp, "clean-tmp", false,
		"remove temporary files of interrupted downloads first")
	cmd.Flags().BoolVar(&flags.progress, "progress", true,
		"show a progress bar")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false,
		"debug logging")
	return cmd
}

// loadConfig layers defaults, config files, --set overrides and finally
// the dedicated flags the user actually passed.
func loadConfig(cmd *cobra.Command, flags *downloadFlags) (
	config.RunConfig, error) {
	cfg, loadErr := config.Load(config.Defaults(), flags.configFiles,
		flags.overrides)
	if loadErr != nil {
		return cfg, loadErr
	}
	changed := cmd.Flags().Changed
	if changed("num-files") {
		cfg.NumFiles = flags.numFiles
	}
	if changed("num-workers") {
		cfg.NumWorkers = flags.numWorkers
	}
	if changed("data-dir") {
		cfg.DataDir = flags.dataDir
	}
	if changed("base-url") {
		cfg.BaseURL = flags.baseURL
	}
	return cfg, cfg.ShardConfig().Validate()
}

func runDownload(cmd *cobra.Command, flags *downloadFlags) error {
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

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt,
		syscall.SIGTERM)
	defer stop()

	shards := cfg.ShardConfig()
	dl := resources.NewDownloader(shards, reporter)
	dl.MaxAttempts = flags.maxAttempts
	dl.BackoffUnit = flags.backoff
	manager := resources.NewManager(dl)
	requested := manager.Requested(cfg.NumFiles)

	dir, dirErr := shards.ResolveCacheDir()
	if dirErr != nil {
		logger.Error("Cannot create cache directory", zap.Error(dirErr))
		return dirErr
	}
	if flags.cleanTmp {
		removed, cleanErr := resources.RemoveStaleTemps(dir)
		if cleanErr != nil {
			return cleanErr
		}
		reporter.Infof("Removed %d stale temporary files from %s", removed,
			dir)
	}

	var progress *mpb.Progress
	if flags.progress && dist.IsMaster() {
		progress = mpb.NewWithContext(ctx, mpb.WithWidth(60),
			mpb.WithOutput(cmd.ErrOrStderr()))
		bar := progress.AddBar(int64(requested),
			mpb.PrependDecorators(
				decor.Name("Shards: "),
				decor.CountersNoUnit("%d / %d", decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO),
					"done!"),
			),
		)
		manager.OnResult = func(index int, ok bool) {
			bar.Increment()
		}
		defer func() {
			if !bar.Completed() {
				bar.Abort(false)
			}
			progress.Wait()
		}()
	}

	succeeded, fetchErr := manager.FetchAll(ctx, cfg.NumFiles,
		cfg.NumWorkers)
	if fetchErr != nil {
		logger.Error("Download failed", zap.Error(fetchErr))
		return fetchErr
	}
	if dist.IsMaster() {
		fmt.Fprintf(cmd.OutOrStdout(), "Done! Downloaded %d/%d shards to %s\n",
			succeeded, requested, dir)
	}
	if succeeded < requested {
		return fmt.Errorf("%w: %d of %d missing", errDeficit,
			requested-succeeded, requested)
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
