package token_stream

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	EnvRank      = "RANK"
	EnvLocalRank = "LOCAL_RANK"
	EnvWorldSize = "WORLD_SIZE"
)

// DistInfo describes this process's place in a distributed launch.
type DistInfo struct {
	DDP       bool
	Rank      int
	LocalRank int
	WorldSize int
}

// GetDistInfo
// Reads the launcher's environment. Without `RANK` the process is a single
// non-distributed worker, `{false, 0, 0, 1}`. With `RANK` set, `LOCAL_RANK`
// and `WORLD_SIZE` are required too.
func GetDistInfo() (DistInfo, error) {
	return distInfoFrom(os.LookupEnv)
}

func distInfoFrom(lookup func(string) (string, bool)) (DistInfo, error) {
	if _, ok := lookup(EnvRank); !ok {
		return DistInfo{DDP: false, Rank: 0, LocalRank: 0, WorldSize: 1}, nil
	}
	names := []string{EnvRank, EnvLocalRank, EnvWorldSize}
	values := make([]int, len(names))
	missing := make([]string, 0)
	for idx, name := range names {
		raw, ok := lookup(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		value, parseErr := strconv.Atoi(strings.TrimSpace(raw))
		if parseErr != nil {
			return DistInfo{}, fmt.Errorf("%w: %s=%q is not an integer",
				ErrDistributedEnv, name, raw)
		}
		values[idx] = value
	}
	if len(missing) > 0 {
		return DistInfo{}, fmt.Errorf("%w: RANK is set but %s missing",
			ErrDistributedEnv, strings.Join(missing, ", "))
	}
	info := DistInfo{
		DDP:       true,
		Rank:      values[0],
		LocalRank: values[1],
		WorldSize: values[2],
	}
	if info.WorldSize < 1 || info.Rank < 0 || info.Rank >= info.WorldSize {
		return DistInfo{}, fmt.Errorf("%w: rank %d outside world size %d",
			ErrDistributedEnv, info.Rank, info.WorldSize)
	}
	if info.LocalRank < 0 {
		return DistInfo{}, fmt.Errorf("%w: negative local rank %d",
			ErrDistributedEnv, info.LocalRank)
	}
	return info, nil
}

// IsMaster is true for the process that reports progress.
func (info DistInfo) IsMaster() bool {
	return info.Rank == 0
}
