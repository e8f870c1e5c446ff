// Package readme models the on-disk README artifacts and error markers
// produced by the fetch engine, and recovers (owner, repo, branch) from
// their filenames.
package readme

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// MaxFilenameLen is the longest filename the fetch engine will write.
// Filesystems choke well before this on most platforms; repos whose
// derived filename would exceed it are skipped instead of fetched.
const MaxFilenameLen = 200

// branchTokens lists the branch markers the fetch engine can emit. Parse
// takes the first segment matching any of them by position, so their
// order here does not matter. "default" is reserved for
// documents recovered through the GitHub Contents API fallback, which does
// not know which branch served the content.
var branchTokens = []string{"main", "master", "default"}

// File is a parsed README filename: <owner>_<repo>_<branch>_<filename>.
type File struct {
	Owner    string
	Repo     string
	Branch   string
	Filename string
}

// BuildName renders the canonical on-disk filename for a fetched README.
func BuildName(owner, repo, branch, filename string) string {
	return fmt.Sprintf("%s_%s_%s_%s", owner, repo, branch, filename)
}

// RepoKey renders the <owner>_<repo> key used for error markers and the
// parallel-instance filesystem skip check.
func RepoKey(owner, repo string) string {
	return owner + "_" + repo
}

// ErrTooLong is returned when the derived filename would exceed MaxFilenameLen.
var ErrTooLong = errors.New("readme: filename exceeds maximum length")

// ErrNoBranchToken is returned when no recognized branch token appears in
// the filename, so owner/repo cannot be recovered reliably.
var ErrNoBranchToken = errors.New("readme: no branch token found in filename")

// Parse recovers (owner, repo, branch, filename) from a stored README
// filename. It first consults a sidecar metadata file (see Meta) if one
// was registered via UseSidecar, falling back to the underscore-split
// heuristic described in the branch-token design note.
//
// The heuristic locates the first underscore-delimited segment matching a
// known branch token at position >= 2 (owner occupies position 0, so repo
// must span at least one segment). owner = parts[0], repo =
// join(parts[1:branchIdx], "_"), branch = parts[branchIdx], filename =
// join(parts[branchIdx+1:], "_"). This mis-splits when the repo name
// itself contains a branch token (e.g. "docs_main"); the sidecar
// avoids that ambiguity whenever the writer recorded it.
func Parse(name string) (File, error) {
	if len(name) > MaxFilenameLen {
		return File{}, ErrTooLong
	}

	if m, ok := lookupSidecar(name); ok {
		return m, nil
	}

	parts := strings.Split(name, "_")
	for idx := 2; idx < len(parts); idx++ {
		if isBranchToken(parts[idx]) {
			return File{
				Owner:    parts[0],
				Repo:     strings.Join(parts[1:idx], "_"),
				Branch:   parts[idx],
				Filename: strings.Join(parts[idx+1:], "_"),
			}, nil
		}
	}

	return File{}, fmt.Errorf("%w: %s", ErrNoBranchToken, name)
}

func isBranchToken(s string) bool {
	for _, b := range branchTokens {
		if s == b {
			return true
		}
	}
	return false
}

// Meta is the sidecar record persisted alongside ambiguous filenames.
type Meta struct {
	File   string `json:"file"`
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
}

// sidecar is the in-memory index loaded from the .meta.jsonl file.
// Writes append; reads take the mutex only to protect the map, since the
// file itself is append-only and never rewritten in place.
type sidecar struct {
	mu      sync.RWMutex
	path    string
	entries map[string]File
}

var activeSidecar *sidecar

// UseSidecar loads (or creates) the sidecar metadata file at path and
// activates it for subsequent Parse and RecordMeta calls. Call once at
// process startup; safe to call with an empty path to disable the sidecar.
func UseSidecar(path string) error {
	if path == "" {
		activeSidecar = nil
		return nil
	}

	s := &sidecar{path: path, entries: make(map[string]File)}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		activeSidecar = s
		return nil
	}
	if err != nil {
		return fmt.Errorf("readme: open sidecar: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	for dec.More() {
		var m Meta
		if err := dec.Decode(&m); err != nil {
			return fmt.Errorf("readme: decode sidecar: %w", err)
		}
		s.entries[m.File] = File{Owner: m.Owner, Repo: m.Repo, Branch: m.Branch}
	}

	activeSidecar = s
	return nil
}

func lookupSidecar(name string) (File, bool) {
	if activeSidecar == nil {
		return File{}, false
	}
	activeSidecar.mu.RLock()
	defer activeSidecar.mu.RUnlock()
	f, ok := activeSidecar.entries[name]
	if !ok {
		return File{}, false
	}
	f.Filename = filenameSuffix(name, f)
	return f, true
}

func filenameSuffix(name string, f File) string {
	prefix := BuildName(f.Owner, f.Repo, f.Branch, "")
	if strings.HasPrefix(name, prefix) {
		return name[len(prefix):]
	}
	return ""
}

// RecordMeta appends a sidecar entry for a filename whose owner/repo
// contains a branch token and would otherwise mis-parse. Do not call for
// the common case; only the fetch engine knows when a repo name collides
// with a branch token and should opt in explicitly.
func RecordMeta(m Meta) error {
	if activeSidecar == nil {
		return nil
	}

	activeSidecar.mu.Lock()
	defer activeSidecar.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(activeSidecar.path), 0o755); err != nil {
		return fmt.Errorf("readme: mkdir sidecar dir: %w", err)
	}

	f, err := os.OpenFile(activeSidecar.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("readme: open sidecar for append: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("readme: append sidecar: %w", err)
	}

	activeSidecar.entries[m.File] = File{Owner: m.Owner, Repo: m.Repo, Branch: m.Branch}
	return nil
}

// ContainsBranchToken reports whether repo itself contains a literal
// branch token, the ambiguous case RecordMeta exists to resolve.
func ContainsBranchToken(repo string) bool {
	for _, seg := range strings.Split(repo, "_") {
		if isBranchToken(seg) {
			return true
		}
	}
	return false
}

// ListSuccessFiles lists every successfully fetched README filename
// under dir, skipping the dotfiles and directories the fetch engine also
// keeps there (.errors, .fetch-cache.db and its WAL sidecars, .meta.jsonl).
func ListSuccessFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("readme: list %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
