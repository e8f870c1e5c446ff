// Package githubapi wraps the GitHub Contents API as the fetch engine's
// fallback path for repositories where no raw-host README candidate
// returned 200 or 451 (whether they 404ed or failed at the network
// layer) — github.com/google/go-github handles the request shape, and
// github.com/gofri/go-github-ratelimit absorbs both primary and
// secondary rate limits so the fallback never needs its own backoff loop.
package githubapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"
)

// Client wraps the GitHub API client with rate limiting support.
type Client struct {
	*github.Client
}

// NewClient creates a GitHub client with automatic rate-limit retry. If
// GITHUB_TOKEN is set, requests are authenticated for the higher quota.
func NewClient() (*Client, error) {
	rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(nil)
	if err != nil {
		return nil, fmt.Errorf("githubapi: create rate limiter: %w", err)
	}

	ghClient := github.NewClient(rateLimiter)
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		ghClient = ghClient.WithAuthToken(token)
	}

	return &Client{Client: ghClient}, nil
}

// FetchReadme retrieves a repository's default README via the Contents
// API. Returns ok=false (no error) for a 404, matching the fetch engine's
// decision tree where "no content" is not itself a failure to propagate.
func (c *Client) FetchReadme(ctx context.Context, owner, repo string) (content, filename string, ok bool, err error) {
	fileContent, resp, err := c.Repositories.GetReadme(ctx, owner, repo, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("githubapi: get readme for %s/%s: %w", owner, repo, err)
	}
	if fileContent == nil || fileContent.Content == nil {
		return "", "", false, nil
	}

	raw, err := base64.StdEncoding.DecodeString(*fileContent.Content)
	if err != nil {
		return "", "", false, fmt.Errorf("githubapi: decode readme for %s/%s: %w", owner, repo, err)
	}

	name := "README"
	if fileContent.Name != nil {
		name = *fileContent.Name
	}

	return string(raw), name, true, nil
}
