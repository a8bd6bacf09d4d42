package resources

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"github.com/yargevad/filepathx"
)

// Manager
// Drives a Downloader over many shard indexes with a fixed pool of
// workers. Workers share nothing but the cache directory, which is safe
// because shards are installed by an atomic, idempotent rename.
type Manager struct {
	Downloader *Downloader
	// OnResult, if set, is called once per index from the worker that
	// fetched it.
	OnResult func(index int, ok bool)
}

func NewManager(dl *Downloader) *Manager {
	return &Manager{Downloader: dl}
}

// Requested
// Returns how many shards FetchAll will attempt for `count`: all of them
// when count is negative, otherwise at most MaxShard+1.
func (m *Manager) Requested(count int) int {
	total := m.Downloader.Config.NumShards()
	if count >= 0 && count < total {
		return count
	}
	return total
}

// FetchAll
// Fetches shards `0..count-1` and returns how many are present afterwards.
// A shard that fails all its attempts only shows up as a deficit; errors
// are returned for configuration or capability problems, which are
// detected before any attempt starts.
func (m *Manager) FetchAll(ctx context.Context, count int, workers int) (
	int, error) {
	dl := m.Downloader
	if readyErr := dl.checkReady(); readyErr != nil {
		return 0, readyErr
	}
	dir, dirErr := dl.Config.ResolveCacheDir()
	if dirErr != nil {
		return 0, dirErr
	}
	total := m.Requested(count)
	dl.Reporter.Infof("Downloading %d shards into %s", total, dir)

	if workers <= 1 {
		succeeded := 0
		for index := 0; index < total; index++ {
			ok, fetchErr := dl.FetchOne(ctx, index)
			if fetchErr != nil {
				return succeeded, fetchErr
			}
			m.report(index, ok)
			if ok {
				succeeded++
			}
		}
		return succeeded, nil
	}

	var succeeded atomic.Int64
	var firstErr error
	var errOnce sync.Once
	jobs := make(chan int, workers*2)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				ok, fetchErr := dl.FetchOne(ctx, index)
				if fetchErr != nil {
					errOnce.Do(func() { firstErr = fetchErr })
				}
				m.report(index, ok)
				if ok {
					succeeded.Add(1)
				}
			}
		}()
	}

feed:
	for index := 0; index < total; index++ {
		select {
		case jobs <- index:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	return int(succeeded.Load()), firstErr
}

func (m *Manager) report(index int, ok bool) {
	if m.OnResult != nil {
		m.OnResult(index, ok)
	}
}

// RemoveStaleTemps
// Deletes `*.tmp` files left in dir by interrupted downloads and returns
// how many were removed. Only call it when no other process is fetching
// into the same directory.
func RemoveStaleTemps(dir string) (int, error) {
	matches, globErr := filepathx.Glob(dir + "/*" + tempExt)
	if globErr != nil {
		return 0, globErr
	}
	removed := 0
	for _, match := range matches {
		if rmErr := os.Remove(match); rmErr != nil {
			if os.IsNotExist(rmErr) {
				continue
			}
			return removed, rmErr
		}
		removed++
	}
	return removed, nil
}
