package item

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/ghsemantic/ingest/internal/readme"
)

// DefaultFileReaders is the default concurrent-read fan-out for LoadChunk.
const DefaultFileReaders = 16

// Loader turns README filenames into deduplicated, embeddable Items.
type Loader struct {
	dir          string
	fileReaders  int64
	existingIDs  func(id string) bool
}

// NewLoader creates a Loader that reads README files from dir. existingIDs
// is consulted per item and should report whether an ID is already present
// in the vector store (or in this run's growing in-memory set); a nil
// function treats every ID as new.
func NewLoader(dir string, fileReaders int, existingIDs func(id string) bool) *Loader {
	if fileReaders <= 0 {
		fileReaders = DefaultFileReaders
	}
	if existingIDs == nil {
		existingIDs = func(string) bool { return false }
	}
	return &Loader{dir: dir, fileReaders: int64(fileReaders), existingIDs: existingIDs}
}

// LoadChunk reads every filename in names, drops duplicates, empties, and
// already-indexed items, and returns the unique items in the order of
// names, keeping the first of several files with the same content. Reads
// fan out across up to fileReaders goroutines; a read error
// for one file is logged to the returned slice's sibling error count via
// failed, not propagated, since one bad file should not abort the chunk.
func (l *Loader) LoadChunk(names []string) (items []Item, failed int, err error) {
	sem := semaphore.NewWeighted(l.fileReaders)

	var mu sync.Mutex
	loaded := make([]*Item, len(names))
	var wg sync.WaitGroup
	var failCount int

	ctx := context.Background()
	for i, name := range names {
		i, name := i, name
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, failCount, fmt.Errorf("item: acquire reader slot: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			it, ok := l.loadOne(name)
			if !ok {
				mu.Lock()
				failCount++
				mu.Unlock()
				return
			}
			loaded[i] = &it
		}()
	}
	wg.Wait()

	seen := make(map[string]bool, len(names))
	for _, it := range loaded {
		if it == nil || seen[it.ID] || l.existingIDs(it.ID) {
			continue
		}
		seen[it.ID] = true
		items = append(items, *it)
	}

	return items, failCount, nil
}

// loadOne reads and converts a single README file. ok is false for read
// failures and for content New rejects (too short after trimming).
func (l *Loader) loadOne(name string) (Item, bool) {
	parsed, err := readme.Parse(name)
	if err != nil {
		return Item{}, false
	}

	raw, err := os.ReadFile(filepath.Join(l.dir, name))
	if err != nil {
		return Item{}, false
	}

	repo := parsed.Owner + "/" + parsed.Repo
	return New(repo, raw)
}
