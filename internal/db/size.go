package db

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// DBTotalSize returns the combined size of the SQLite file and its -wal and -shm companions.
// Missing files count as zero.
func DBTotalSize(dbPath string) (int64, error) {
	var total int64

	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		total += info.Size()
	}

	return total, nil
}
