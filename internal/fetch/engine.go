// Package fetch implements the high-concurrency README crawler: per-repo
// candidate resolution against raw.githubusercontent.com with proxy
// rotation and retry, a GitHub Contents API fallback, and durable
// success/error outcomes so a restart never redoes completed work.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ghsemantic/ingest/internal/githubapi"
	"github.com/ghsemantic/ingest/internal/proxypool"
	"github.com/ghsemantic/ingest/internal/readme"
)

// MinSize is the shortest successful README body, in bytes. Shorter
// content is filed under the tooSmall marker instead of being saved.
const MinSize = 500

// MaxChars is the longest README body kept; longer content is truncated
// with an appended marker.
const MaxChars = 50000

// TruncatedSuffix is appended to content truncated at MaxChars.
const TruncatedSuffix = "\n\n[TRUNCATED]"

// MaxRetries is the per-request retry budget for transient failures.
const MaxRetries = 3

var repoURLPattern = regexp.MustCompile(`github\.com/([^/]+)/([^/]+)`)

// ParseOrigin extracts (owner, repo) from a GitHub origin URL, stripping
// a trailing ".git" from the repo name.
func ParseOrigin(originURL string) (owner, repo string, ok bool) {
	m := repoURLPattern.FindStringSubmatch(originURL)
	if m == nil {
		return "", "", false
	}
	owner = m[1]
	repo = strings.TrimSuffix(m[2], ".git")
	return owner, repo, true
}

// Outcome describes the durable result of fetching one origin.
type Outcome struct {
	Repo     string
	Skipped  bool
	Success  bool
	Bucket   string // set when !Success && !Skipped
	Filename string // set when Success
}

// Engine resolves README files for a stream of origins.
type Engine struct {
	cfg     Config
	proxies *proxypool.Pool
	markers *readme.Markers
	ghapi   *githubapi.Client

	httpClient *http.Client
	sem        *semaphore.Weighted
}

// Config configures an Engine.
type Config struct {
	ReadmesDir  string
	Concurrency int64 // default 1000
	Branches    []string
	READMENames []string
	Timeout     time.Duration // per-request timeout, default 30s
	RawBaseURL  string        // default "https://raw.githubusercontent.com"; overridable for tests
}

func (c *Config) setDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 1000
	}
	if c.Branches == nil {
		c.Branches = Branches
	}
	if c.READMENames == nil {
		c.READMENames = READMENames
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RawBaseURL == "" {
		c.RawBaseURL = "https://raw.githubusercontent.com"
	}
}

// New creates an Engine. ghapi may be nil to disable the GitHub Contents
// API fallback (e.g. in tests, or when no token/quota is configured).
func New(cfg Config, proxies *proxypool.Pool, ghapi *githubapi.Client) (*Engine, error) {
	cfg.setDefaults()

	markers, err := readme.NewMarkers(cfg.ReadmesDir)
	if err != nil {
		return nil, err
	}
	if err := markers.Preload(); err != nil {
		return nil, fmt.Errorf("fetch: preload error markers: %w", err)
	}

	return &Engine{
		cfg:        cfg,
		proxies:    proxies,
		markers:    markers,
		ghapi:      ghapi,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		sem:        semaphore.NewWeighted(cfg.Concurrency),
	}, nil
}

// Markers exposes the engine's marker tree, for the skip-set preload and
// for the parallel-instance filesystem check.
func (e *Engine) Markers() *readme.Markers { return e.markers }

// existingSuccess reports whether a non-marker README file already
// exists on disk for repoKey, the "at most one non-marker file" check.
// It is a best-effort glob rather than a preloaded set, matching the
// parallel-instance model where a full directory scan per process would
// be wasteful.
func (e *Engine) existingSuccess(owner, repo string, branches, names []string) bool {
	for _, b := range branches {
		for _, n := range names {
			path := filepath.Join(e.cfg.ReadmesDir, readme.BuildName(owner, repo, b, n))
			if _, err := os.Stat(path); err == nil {
				return true
			}
		}
	}
	// The GitHub API fallback writes branch "default" with the filename
	// the Contents API reports ("README" when it reports none).
	for _, n := range append([]string{"README"}, names...) {
		path := filepath.Join(e.cfg.ReadmesDir, readme.BuildName(owner, repo, "default", n))
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}

// FetchOne resolves a single origin URL, respecting the engine's
// concurrency semaphore, and returns its durable Outcome.
func (e *Engine) FetchOne(ctx context.Context, originURL string) (Outcome, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Outcome{}, err
	}
	defer e.sem.Release(1)

	owner, repo, ok := ParseOrigin(originURL)
	if !ok {
		return Outcome{Skipped: true}, nil
	}

	repoKey := readme.RepoKey(owner, repo)
	if len(readme.BuildName(owner, repo, "master", "README.md")) > readme.MaxFilenameLen {
		return Outcome{Repo: repoKey, Skipped: true}, nil
	}

	if e.markers.Has(repoKey) || e.existingSuccess(owner, repo, e.cfg.Branches, e.cfg.READMENames) {
		return Outcome{Repo: repoKey, Skipped: true}, nil
	}

	return e.resolve(ctx, owner, repo, repoKey)
}

func (e *Engine) resolve(ctx context.Context, owner, repo, repoKey string) (Outcome, error) {
	candidates := Candidates(e.cfg.Branches, e.cfg.READMENames)
	tested := 0
	networkFailed := false

	for _, c := range candidates {
		url := fmt.Sprintf("%s/%s/%s/%s/%s", e.cfg.RawBaseURL, owner, repo, c.Branch, c.Filename)
		status, body, err := e.fetchWithRetry(ctx, url)
		tested++

		if err != nil {
			networkFailed = true
			continue // exhausted retries on a network failure for this candidate; try the next one
		}
		if status == 451 {
			return e.finish(owner, repo, repoKey, readme.BucketBlocked, "", "", body)
		}
		if status == 200 {
			return e.finish(owner, repo, repoKey, "", c.Branch, c.Filename, body)
		}
		// 404 and anything else already exhausted its own retries inside
		// fetchWithRetry; fall through to the next candidate.
	}

	if e.ghapi != nil {
		content, filename, ok, err := e.ghapi.FetchReadme(ctx, owner, repo)
		if err == nil && ok {
			return e.finish(owner, repo, repoKey, "", "default", filename, []byte(content))
		}
	}

	if networkFailed {
		return e.finish(owner, repo, repoKey, readme.BucketNetwork, "", "", nil)
	}
	return e.finish(owner, repo, repoKey, readme.NotFoundBucket(tested), "", "", nil)
}

// finish applies the MIN_SIZE/MAX_CHARS decision tree and writes the
// durable outcome: a README file, an error marker, or (for the blocked
// case) a 451 marker regardless of body size.
func (e *Engine) finish(owner, repo, repoKey, bucket, branch, filename string, body []byte) (Outcome, error) {
	if bucket != "" {
		if err := e.markers.Write(bucket, repoKey); err != nil {
			return Outcome{}, err
		}
		return Outcome{Repo: repoKey, Bucket: bucket}, nil
	}

	if len(body) < MinSize {
		if err := e.markers.Write(readme.BucketTooSmall, repoKey); err != nil {
			return Outcome{}, err
		}
		return Outcome{Repo: repoKey, Bucket: readme.BucketTooSmall}, nil
	}

	content := body
	if len(content) > MaxChars {
		content = append(content[:MaxChars:MaxChars], []byte(TruncatedSuffix)...)
	}

	name := readme.BuildName(owner, repo, branch, filename)
	if len(name) > readme.MaxFilenameLen {
		return Outcome{Repo: repoKey, Skipped: true}, nil
	}

	if readme.ContainsBranchToken(repo) {
		// The underscore heuristic could mis-split this filename later
		// (the repo name itself contains a branch token); the sidecar
		// lets Parse recover the true split without guessing.
		if err := readme.RecordMeta(readme.Meta{File: name, Owner: owner, Repo: repo, Branch: branch}); err != nil {
			return Outcome{}, err
		}
	}

	if err := os.WriteFile(filepath.Join(e.cfg.ReadmesDir, name), content, 0o644); err != nil {
		return Outcome{}, fmt.Errorf("fetch: write readme %s: %w", name, err)
	}

	return Outcome{Repo: repoKey, Success: true, Filename: name}, nil
}

// fetchWithRetry performs up to MaxRetries attempts of a single
// candidate URL. Transient response codes sleep 2^retry seconds and
// retry with a fresh proxy; network-layer failures retry immediately
// with a fresh proxy, since the EMA penalty already encodes the cost of
// having picked a bad one. status is 0 and err is non-nil only once
// every attempt has failed at the network layer; a 404 (or any other
// non-transient status) is returned immediately without error.
func (e *Engine) fetchWithRetry(ctx context.Context, rawURL string) (status int, body []byte, err error) {
	var lastErr error

	for attempt := 0; attempt < MaxRetries; attempt++ {
		proxyAddr, hasProxy := "", false
		if e.proxies != nil {
			proxyAddr, hasProxy = e.proxies.Select()
		}

		start := time.Now()
		status, body, reqErr := e.doRequest(ctx, rawURL, proxyAddr, hasProxy)
		elapsed := time.Since(start)

		if reqErr != nil {
			lastErr = reqErr
			if hasProxy {
				e.proxies.ReportFailure(proxyAddr)
			}
			continue // retry immediately with a new proxy selection
		}

		if hasProxy {
			e.proxies.ReportSuccess(proxyAddr, float64(elapsed.Milliseconds()))
		}

		if isTransient(status) && attempt < MaxRetries-1 {
			if err := sleepContext(ctx, time.Duration(1<<attempt)*time.Second); err != nil {
				return 0, nil, err
			}
			continue
		}

		return status, body, nil
	}

	return 0, nil, fmt.Errorf("fetch: %s: %w", rawURL, lastErr)
}

func isTransient(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func (e *Engine) doRequest(ctx context.Context, rawURL, proxyAddr string, hasProxy bool) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}

	client := e.httpClient
	if hasProxy {
		proxyURL, err := proxypool.ProxyURL(proxyAddr)
		if err != nil {
			return 0, nil, err
		}
		client = &http.Client{
			Timeout:   e.cfg.Timeout,
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}

	return resp.StatusCode, body, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
