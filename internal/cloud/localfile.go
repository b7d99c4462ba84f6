package cloud

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalFileDownloader serves ranged reads from a local directory,
// standing in for S3Downloader in main_fuse_local/main_hbee_local
// (spec §6's object-store ranged GET, without a real object store).
type LocalFileDownloader struct {
	root string
}

// NewLocalFileDownloader roots every key under dir.
func NewLocalFileDownloader(dir string) *LocalFileDownloader {
	return &LocalFileDownloader{root: dir}
}

func (d *LocalFileDownloader) Download(ctx context.Context, key string, start uint64, length int) ([]byte, error) {
	f, err := os.Open(filepath.Join(d.root, key))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", key, err)
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, int64(start))
	if err != nil && n != length {
		return nil, fmt.Errorf("reading %s at %d+%d: %w", key, start, length, err)
	}
	return buf, nil
}
