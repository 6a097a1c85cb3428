package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// DiskUsage is the on-disk footprint of each persistent store, in bytes.
type DiskUsage struct {
	Database     int64 `json:"database"`
	KeywordIndex int64 `json:"keyword_index"`
	VectorIndex  int64 `json:"vector_index"`
}

// Total sums every store.
func (u DiskUsage) Total() int64 {
	return u.Database + u.KeywordIndex + u.VectorIndex
}

// MeasureDiskUsage sizes the SQLite database, the Bleve index directory and
// the vector index file. In-memory or unset paths and paths that do not exist
// yet count as zero.
func MeasureDiskUsage(dbPath, keywordPath, vectorPath string) (DiskUsage, error) {
	var u DiskUsage
	var err error
	if u.Database, err = pathSize(dbPath); err != nil {
		return DiskUsage{}, err
	}
	// SQLite keeps uncheckpointed pages beside the main file.
	for _, suffix := range []string{"-wal", "-shm"} {
		if dbPath == "" || dbPath == ":memory:" {
			break
		}
		n, err := pathSize(dbPath + suffix)
		if err != nil {
			return DiskUsage{}, err
		}
		u.Database += n
	}
	if u.KeywordIndex, err = pathSize(keywordPath); err != nil {
		return DiskUsage{}, err
	}
	if u.VectorIndex, err = pathSize(vectorPath); err != nil {
		return DiskUsage{}, err
	}
	return u, nil
}

func pathSize(p string) (int64, error) {
	if p == "" || p == ":memory:" {
		return 0, nil
	}
	var total int64
	err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	return total, err
}
