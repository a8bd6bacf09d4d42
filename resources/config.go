package resources

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultBaseURL = "https://huggingface.co/datasets/karpathy/" +
		"fineweb-edu-100b-shuffle/resolve/main"
	DefaultMaxShard = 1822

	// BaseDirEnv overrides the process-wide cache root.
	BaseDirEnv = "TOKEN_STREAM_BASE_DIR"

	shardExt = ".parquet"
	tempExt  = ".tmp"
)

// ShardConfig
// Addressing scheme for a sharded dataset: where shards live remotely, how
// many there are, and where they are cached locally. A ShardConfig is built
// once per run and never mutated.
type ShardConfig struct {
	BaseURL  string
	MaxShard int // inclusive
	DataDir  string
}

// DefaultShardConfig returns the FineWeb-Edu layout.
func DefaultShardConfig() ShardConfig {
	return ShardConfig{
		BaseURL:  DefaultBaseURL,
		MaxShard: DefaultMaxShard,
	}
}

func (cfg ShardConfig) Validate() error {
	if cfg.MaxShard < 0 {
		return fmt.Errorf("%w: max shard %d is negative",
			ErrInvalidConfig, cfg.MaxShard)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return fmt.Errorf("%w: empty base url", ErrInvalidConfig)
	}
	return nil
}

// NumShards is the number of addressable shards, `MaxShard+1`.
func (cfg ShardConfig) NumShards() int {
	return cfg.MaxShard + 1
}

// Filename
// Returns the cache and remote name of shard `index`. Zero padding never
// truncates, so distinct indexes always map to distinct names.
func (cfg ShardConfig) Filename(index int) string {
	return fmt.Sprintf("shard_%05d%s", index, shardExt)
}

// URL returns `{BaseURL}/{Filename(index)}`.
func (cfg ShardConfig) URL(index int) string {
	return strings.TrimSuffix(cfg.BaseURL, "/") + "/" + cfg.Filename(index)
}

// BaseDir
// Returns the process-wide cache root, `$TOKEN_STREAM_BASE_DIR` or
// `~/.cache/token_stream`, creating it if needed.
func BaseDir() (string, error) {
	dir := os.Getenv(BaseDirEnv)
	if dir == "" {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return "", fmt.Errorf("cannot resolve home directory: %w",
				homeErr)
		}
		dir = filepath.Join(home, ".cache", "token_stream")
	}
	if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
		return "", mkErr
	}
	return dir, nil
}

// ResolveCacheDir
// Returns the local shard directory, creating it if absent. Safe to call
// repeatedly and from concurrent processes.
func (cfg ShardConfig) ResolveCacheDir() (string, error) {
	dir := cfg.DataDir
	if dir == "" {
		base, baseErr := BaseDir()
		if baseErr != nil {
			return "", baseErr
		}
		dir = filepath.Join(base, "base_data")
	}
	if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
		return "", fmt.Errorf("cannot create cache dir %s: %w", dir, mkErr)
	}
	return dir, nil
}

// Path joins the cache directory and the shard's file name.
func (cfg ShardConfig) Path(dir string, index int) string {
	return filepath.Join(dir, cfg.Filename(index))
}
