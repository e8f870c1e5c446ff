// Package main provides the fetch CLI, which crawls READMEs for a slice
// of GitHub origin URLs and writes them (or durable error markers) under
// DATA_DIR/readmes.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ghsemantic/ingest/internal/fetch"
	"github.com/ghsemantic/ingest/internal/githubapi"
	"github.com/ghsemantic/ingest/internal/proxypool"
	"github.com/ghsemantic/ingest/internal/readme"
	"github.com/ghsemantic/ingest/internal/worksource"
)

var (
	flagLimit   int
	flagOffset  int
	flagFull    bool
	flagMinDate string
	flagProxies []string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Crawl README files for a slice of archived GitHub origins",
	Long: `Streams origin URLs from the origins/visits archive, resolves each
repository's README across a branch/filename candidate space, and writes
either a README file or a durable error marker under DATA_DIR/readmes.

Environment variables:
  DATA_DIR       Base directory for readmes, markers, and the cursor DB (required)
  READMES_DIR    Overrides DATA_DIR/readmes if set
  GITHUB_TOKEN   Raises the Contents-API fallback's rate limit (optional)`,
	RunE: runFetch,
}

func init() {
	rootCmd.Flags().IntVar(&flagLimit, "limit", 0, "maximum number of origins to process (0 = unbounded)")
	rootCmd.Flags().IntVar(&flagOffset, "offset", 0, "slice offset for a parallel instance (0 = primary instance)")
	rootCmd.Flags().BoolVar(&flagFull, "full", false, "key the resume cursor to the full table instead of the 6k sample (the same archive rows are read either way)")
	rootCmd.Flags().StringVar(&flagMinDate, "min-date", "", "filter to visits on or after this date (YYYY-MM-DD); selects the visits table")
	rootCmd.Flags().StringArrayVar(&flagProxies, "proxies", nil, "path to a proxy list file (repeatable)")
	rootCmd.Flags().BoolVar(&flagVerbose, "verbose", false, "log every outcome, not just per-batch summaries")
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	start := time.Now()

	dataDir := getEnv("DATA_DIR", "")
	if dataDir == "" {
		return fmt.Errorf("fetch: DATA_DIR is required")
	}
	readmesDir := getEnv("READMES_DIR", dataDir+"/readmes")
	if err := readme.UseSidecar(readmesDir + "/.meta.jsonl"); err != nil {
		return fmt.Errorf("fetch: load filename sidecar: %w", err)
	}

	var minDate *time.Time
	if flagMinDate != "" {
		parsed, err := time.Parse("2006-01-02", flagMinDate)
		if err != nil {
			return fmt.Errorf("fetch: invalid --min-date %q: %w", flagMinDate, err)
		}
		minDate = &parsed
	}

	fmt.Printf("Opening work source (offset=%d limit=%d full=%v)...\n", flagOffset, flagLimit, flagFull)
	src, err := worksource.Open(ctx, worksource.Config{
		OriginsPath:  dataDir + "/origins.parquet",
		VisitsPath:   dataDir + "/visits.parquet",
		Full:         flagFull,
		MinDate:      minDate,
		Offset:       flagOffset,
		Limit:        flagLimit,
		CursorDBPath: readmesDir + "/.fetch-cache.db",
	})
	if err != nil {
		return fmt.Errorf("fetch: open work source: %w", err)
	}
	defer src.Close()
	fmt.Printf("Work source ready: %d origins, %d remaining\n", src.Total(), src.Remaining())

	proxies, err := proxypool.Load(flagProxies)
	if err != nil {
		return fmt.Errorf("fetch: load proxies: %w", err)
	}
	fmt.Printf("Loaded %d proxies\n", proxies.Len())

	ghapi, err := githubapi.NewClient()
	if err != nil {
		return fmt.Errorf("fetch: create github client: %w", err)
	}

	engine, err := fetch.New(fetch.Config{ReadmesDir: readmesDir}, proxies, ghapi)
	if err != nil {
		return fmt.Errorf("fetch: create engine: %w", err)
	}

	var success, skipped, failed int
	for {
		batch, ok, err := src.NextBatch(ctx)
		if err != nil {
			return fmt.Errorf("fetch: next batch: %w", err)
		}
		if !ok {
			break
		}

		s, sk, f := runBatch(ctx, engine, batch, flagVerbose)
		success += s
		skipped += sk
		failed += f
		fmt.Printf("batch done: success=%d skipped=%d failed=%d (totals: %d/%d/%d)\n",
			s, sk, f, success, skipped, failed)
	}

	fmt.Printf("Fetch complete in %s: success=%d skipped=%d failed=%d\n",
		time.Since(start).Round(time.Second), success, skipped, failed)
	return nil
}

// runBatch fetches every origin in batch concurrently, bounded by the
// engine's own semaphore, and tallies outcomes.
func runBatch(ctx context.Context, engine *fetch.Engine, origins []string, verbose bool) (success, skipped, failed int) {
	type result struct {
		outcome fetch.Outcome
		err     error
	}
	results := make(chan result, len(origins))

	for _, origin := range origins {
		origin := origin
		go func() {
			outcome, err := engine.FetchOne(ctx, origin)
			results <- result{outcome, err}
		}()
	}

	for range origins {
		r := <-results
		switch {
		case r.err != nil:
			failed++
			if verbose {
				fmt.Printf("  error: %v\n", r.err)
			}
		case r.outcome.Skipped:
			skipped++
		case r.outcome.Success:
			success++
			if verbose {
				fmt.Printf("  ok: %s -> %s\n", r.outcome.Repo, r.outcome.Filename)
			}
		default:
			failed++
			if verbose {
				fmt.Printf("  marker: %s -> %s\n", r.outcome.Repo, r.outcome.Bucket)
			}
		}
	}
	return success, skipped, failed
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
