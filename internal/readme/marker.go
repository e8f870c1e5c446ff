package readme

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Bucket names for error markers outside the numbered 404_<N> family.
const (
	BucketTooSmall = "tooSmall"
	BucketNetwork  = "0"
	BucketBlocked  = "451"
)

// NotFoundBucket renders the 404_<N> bucket name, where N is the number
// of raw-host candidates tested before giving up (the API fallback is not
// counted, so the bucket stays stable as the candidate list grows).
func NotFoundBucket(candidatesTested int) string {
	return fmt.Sprintf("404_%d", candidatesTested)
}

// Markers manages the <errors>/<bucket>/<owner>_<repo> empty-file tree.
// Bucket directories are created lazily, once per process, to avoid a
// redundant mkdir on every marker write.
type Markers struct {
	root string

	mu      sync.Mutex
	made    map[string]bool
	skipSet map[string]bool // owner_repo keys with a marker already on disk
}

// NewMarkers opens (and lazily creates) the error marker tree rooted at
// <readmesDir>/.errors.
func NewMarkers(readmesDir string) (*Markers, error) {
	root := filepath.Join(readmesDir, ".errors")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("readme: create error root: %w", err)
	}
	return &Markers{root: root, made: make(map[string]bool), skipSet: make(map[string]bool)}, nil
}

// Preload scans the marker tree and records every owner_repo key with a
// marker already present, for the in-memory existing-error set. Every
// fetch engine calls it once at start-up, parallel instances included;
// markers another process writes after that are not seen.
func (m *Markers) Preload() error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("readme: read error root: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, bucket := range entries {
		if !bucket.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(m.root, bucket.Name()))
		if err != nil {
			return fmt.Errorf("readme: read bucket %s: %w", bucket.Name(), err)
		}
		m.made[bucket.Name()] = true
		for _, f := range files {
			m.skipSet[f.Name()] = true
		}
	}
	return nil
}

// Has reports whether any marker already exists for owner_repo, from the
// preloaded in-memory set.
func (m *Markers) Has(repoKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.skipSet[repoKey]
}

// HasOnDisk checks the filesystem directly rather than the in-memory set,
// for parallel instances that never preloaded the full tree. bucket is
// typically tried across the fixed small set a caller cares about (e.g.
// every 404_<N> bucket seen plus tooSmall, 451, and 0) since buckets are
// not otherwise enumerable without a directory scan.
func (m *Markers) HasOnDisk(bucket, repoKey string) bool {
	_, err := os.Stat(filepath.Join(m.root, bucket, repoKey))
	return err == nil
}

// Write creates an empty marker file under <errors>/<bucket>/<repoKey>,
// creating the bucket directory on first use.
func (m *Markers) Write(bucket, repoKey string) error {
	m.mu.Lock()
	if !m.made[bucket] {
		if err := os.MkdirAll(filepath.Join(m.root, bucket), 0o755); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("readme: mkdir bucket %s: %w", bucket, err)
		}
		m.made[bucket] = true
	}
	m.skipSet[repoKey] = true
	m.mu.Unlock()

	f, err := os.Create(filepath.Join(m.root, bucket, repoKey))
	if err != nil {
		return fmt.Errorf("readme: write marker %s/%s: %w", bucket, repoKey, err)
	}
	return f.Close()
}
