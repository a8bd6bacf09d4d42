package resources

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	DefaultMaxAttempts = 5
	copyBufferSize     = 1024 * 1024
	reportInterval     = 10 * time.Second
)

// WriteCounter counts the number of bytes written to it, and every 10
// seconds, it reports the number of bytes written so far.
type WriteCounter struct {
	Total    uint64
	Last     time.Time
	Reported bool
	Path     string
	Size     int64
	Reporter Reporter
}

func (wc *WriteCounter) Write(p []byte) (int, error) {
	n := len(p)
	wc.Total += uint64(n)
	if time.Since(wc.Last) > reportInterval {
		wc.Reported = true
		wc.Last = time.Now()
		size := "?"
		if wc.Size >= 0 {
			size = humanize.Bytes(uint64(wc.Size))
		}
		wc.Reporter.Infof("Downloading %s... %s / %s completed.",
			wc.Path, humanize.Bytes(wc.Total), size)
	}
	return n, nil
}

// Downloader
// Fetches single shards into the local cache. A shard is streamed into a
// temporary sibling and only renamed to its final name once complete, so
// the final name never holds a partial file.
type Downloader struct {
	Config      ShardConfig
	Source      ShardSource
	Reporter    Reporter
	MaxAttempts int
	BackoffUnit time.Duration
	// Sleep waits between attempts; it returns early with ctx's error.
	Sleep func(ctx context.Context, d time.Duration) error

	sourceErr error
}

// NewDownloader
// Builds a Downloader with the source implied by the config's base URL.
// An unusable base URL is not an error here; FetchOne reports it on first
// use.
func NewDownloader(cfg ShardConfig, reporter Reporter) *Downloader {
	dl := &Downloader{
		Config:      cfg,
		Reporter:    reporter,
		MaxAttempts: DefaultMaxAttempts,
		BackoffUnit: time.Second,
		Sleep:       sleepContext,
	}
	if reporter == nil {
		dl.Reporter = NopReporter()
	}
	source, sourceErr := NewSource(cfg.BaseURL)
	if sourceErr != nil {
		dl.sourceErr = sourceErr
		dl.Reporter.Warnf("No shard source for %s: %v", cfg.BaseURL,
			sourceErr)
	} else {
		dl.Source = source
	}
	return dl
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff returns the wait after failed attempt `attempt`, `2^attempt`
// backoff units.
func (dl *Downloader) Backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * dl.BackoffUnit
}

// checkReady reports configuration and capability errors, which are fatal.
func (dl *Downloader) checkReady() error {
	if cfgErr := dl.Config.Validate(); cfgErr != nil {
		return cfgErr
	}
	if dl.Source == nil && dl.sourceErr != nil {
		return dl.sourceErr
	}
	if dl.Source == nil {
		return fmt.Errorf("%w: network fetch is unavailable for %q",
			ErrMissingCapability, dl.Config.BaseURL)
	}
	return nil
}

// FetchOne
// Makes shard `index` present in the cache. An already cached shard
// succeeds without touching the network. Transient failures are retried
// with exponential backoff up to MaxAttempts and then reported as `false`;
// only configuration and capability problems return an error.
func (dl *Downloader) FetchOne(ctx context.Context, index int) (bool, error) {
	if readyErr := dl.checkReady(); readyErr != nil {
		return false, readyErr
	}
	if index < 0 || index > dl.Config.MaxShard {
		return false, fmt.Errorf("%w: shard %d outside [0, %d]",
			ErrInvalidConfig, index, dl.Config.MaxShard)
	}
	dir, dirErr := dl.Config.ResolveCacheDir()
	if dirErr != nil {
		return false, dirErr
	}
	filename := dl.Config.Filename(index)
	targetPath := dl.Config.Path(dir, index)
	if _, statErr := os.Stat(targetPath); statErr == nil {
		dl.Reporter.Infof("Skipping %s (already exists)", targetPath)
		return true, nil
	}

	dl.Reporter.Infof("Downloading %s -> %s", filename, targetPath)
	maxAttempts := dl.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if _, statErr := os.Stat(targetPath); statErr == nil {
			// Another worker or process installed it meanwhile.
			return true, nil
		}
		written, fetchErr := dl.fetchAttempt(ctx, dir, filename, targetPath)
		if fetchErr == nil {
			dl.Reporter.Infof("Successfully downloaded %s (%s)", filename,
				humanize.Bytes(uint64(written)))
			return true, nil
		}
		dl.Reporter.Warnf("Attempt %d/%d failed for %s: %v", attempt,
			maxAttempts, filename, fetchErr)
		if rmErr := os.Remove(targetPath); rmErr != nil &&
			!os.IsNotExist(rmErr) {
			dl.Reporter.Warnf("Cannot remove %s: %v", targetPath, rmErr)
		}
		if attempt == maxAttempts {
			break
		}
		wait := dl.Backoff(attempt)
		dl.Reporter.Infof("Waiting %v before retry...", wait)
		if sleepErr := dl.Sleep(ctx, wait); sleepErr != nil {
			dl.Reporter.Warnf("Giving up on %s: %v", filename, sleepErr)
			return false, nil
		}
	}
	dl.Reporter.Warnf("Failed to download %s after %d attempts", filename,
		maxAttempts)
	return false, nil
}

// fetchAttempt streams one shard into a temporary sibling of targetPath and
// renames it into place. On error no temporary file is left behind.
func (dl *Downloader) fetchAttempt(ctx context.Context, dir string,
	filename string, targetPath string) (written int64, err error) {
	body, size, openErr := dl.Source.Open(ctx, filename)
	if openErr != nil {
		return 0, openErr
	}
	defer body.Close()

	tmpFile, tmpErr := os.CreateTemp(dir, filename+".*"+tempExt)
	if tmpErr != nil {
		return 0, tmpErr
	}
	tmpPath := tmpFile.Name()
	installed := false
	defer func() {
		if !installed {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	counter := &WriteCounter{
		Last:     time.Now(),
		Path:     filename,
		Size:     size,
		Reporter: dl.Reporter,
	}
	buf := make([]byte, copyBufferSize)
	written, err = io.CopyBuffer(struct{ io.Writer }{tmpFile},
		io.TeeReader(body, counter), buf)
	if err != nil {
		return written, fmt.Errorf("error downloading '%s': %w", filename,
			err)
	}
	if size >= 0 && written != size {
		return written, fmt.Errorf("short download of '%s': %d of %d bytes",
			filename, written, size)
	}
	if syncErr := tmpFile.Sync(); syncErr != nil {
		return written, syncErr
	}
	if closeErr := tmpFile.Close(); closeErr != nil {
		return written, closeErr
	}
	if chmodErr := os.Chmod(tmpPath, 0644); chmodErr != nil {
		return written, chmodErr
	}
	if renameErr := os.Rename(tmpPath, targetPath); renameErr != nil {
		return written, renameErr
	}
	installed = true
	return written, nil
}
