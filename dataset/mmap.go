//go:build !wasip1 && !js

package dataset

import (
	"os"

	"github.com/edsrzf/mmap-go"
)

// mapFile maps path read-only. The returned release func unmaps it.
func mapFile(path string) ([]byte, func() error, error) {
	file, openErr := os.Open(path)
	if openErr != nil {
		return nil, nil, openErr
	}
	defer file.Close()
	fileMmap, mmapErr := mmap.Map(file, mmap.RDONLY, 0)
	if mmapErr != nil {
		return nil, nil, mmapErr
	}
	return fileMmap, fileMmap.Unmap, nil
}
