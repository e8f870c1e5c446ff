// Package main provides the ingest CLI, which embeds fetched READMEs and
// upserts the resulting vectors into Qdrant via either the realtime or
// the asynchronous batch embedding pipeline.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ghsemantic/ingest/internal/batchstate"
	"github.com/ghsemantic/ingest/internal/embed"
	"github.com/ghsemantic/ingest/internal/orchestrator"
	"github.com/ghsemantic/ingest/internal/progress"
	"github.com/ghsemantic/ingest/internal/readme"
	"github.com/ghsemantic/ingest/internal/vectorstore"
)

var (
	flagProvider string
	flagKeys     int
	flagChunk    int
	flagParallel int
)

var rootCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Embed fetched READMEs and upsert vectors into Qdrant",
	Long: `Reads README files from READMES_DIR, embeds each through the
configured provider, and upserts the resulting vectors into Qdrant,
skipping anything already present in the collection.

Environment variables:
  DATA_DIR                Base directory; READMES_DIR defaults to DATA_DIR/readmes
  QDRANT_URL              Qdrant address as host:port (default localhost:6334)
  DEEPINFRA_API_KEY[_i]   DeepInfra keys, 1..N per --keys
  NEBIUS_API_KEY[_i]      Nebius keys, 1..N per --keys (nebius-batch uses NEBIUS_API_KEY only)`,
	RunE: runIngest,
}

func init() {
	rootCmd.Flags().StringVar(&flagProvider, "provider", "nebius", "embedding backend: deepinfra|nebius|nebius-batch")
	rootCmd.Flags().IntVar(&flagKeys, "keys", 1, "number of API keys to round-robin across")
	rootCmd.Flags().IntVar(&flagChunk, "chunk", embed.DefaultBatchChunkSize, "batch driver chunk size (nebius-batch only)")
	rootCmd.Flags().IntVar(&flagParallel, "parallel", embed.DefaultBatchParallel, "concurrent batch jobs (nebius-batch only)")
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	start := time.Now()
	logger := slog.Default()

	dataDir := getEnv("DATA_DIR", "")
	if dataDir == "" {
		return fmt.Errorf("ingest: DATA_DIR is required")
	}
	readmesDir := getEnv("READMES_DIR", dataDir+"/readmes")
	if err := readme.UseSidecar(readmesDir + "/.meta.jsonl"); err != nil {
		return fmt.Errorf("ingest: load filename sidecar: %w", err)
	}

	host, port, err := splitQdrantURL(getEnv("QDRANT_URL", "localhost:6334"))
	if err != nil {
		return fmt.Errorf("ingest: parse QDRANT_URL: %w", err)
	}

	prog := progress.New()

	names, err := readme.ListSuccessFiles(readmesDir)
	if err != nil {
		return fmt.Errorf("ingest: list readme files: %w", err)
	}
	fmt.Printf("Found %d fetched readmes\n", len(names))

	var orc *orchestrator.Orchestrator

	switch flagProvider {
	case "deepinfra":
		keys := collectKeys("DEEPINFRA_API_KEY", flagKeys)
		if len(keys) == 0 {
			return fmt.Errorf("ingest: DEEPINFRA_API_KEY is required for --provider=deepinfra")
		}
		provider := embed.NewDeepInfraProvider("https://api.deepinfra.com/v1/inference", "", nil)
		store, existingIDs, err := openStoreAndExistingIDs(ctx, host, port, provider.Dimension())
		if err != nil {
			return err
		}
		defer store.Close()

		driver := embed.NewRealtimeDriver(provider, embed.NewKeyring(keys), store, embed.RealtimeConfig{})
		orc, err = orchestrator.New(readmesDir, existingIDs, driver, nil, prog, logger, orchestrator.Config{
			PricePerMillionTokens: provider.PricePerMillionTokens(),
		})
		if err != nil {
			return err
		}

	case "nebius":
		keys := collectKeys("NEBIUS_API_KEY", flagKeys)
		if len(keys) == 0 {
			return fmt.Errorf("ingest: NEBIUS_API_KEY is required for --provider=nebius")
		}
		provider := embed.NewNebiusProvider(getEnv("NEBIUS_BASE_URL", "https://api.studio.nebius.com/v1"), "")
		store, existingIDs, err := openStoreAndExistingIDs(ctx, host, port, provider.Dimension())
		if err != nil {
			return err
		}
		defer store.Close()

		driver := embed.NewRealtimeDriver(provider, embed.NewKeyring(keys), store, embed.RealtimeConfig{})
		orc, err = orchestrator.New(readmesDir, existingIDs, driver, nil, prog, logger, orchestrator.Config{
			PricePerMillionTokens: provider.PricePerMillionTokens(),
		})
		if err != nil {
			return err
		}

	case "nebius-batch":
		apiKey := getEnv("NEBIUS_API_KEY", "")
		if apiKey == "" {
			return fmt.Errorf("ingest: NEBIUS_API_KEY is required for nebius-batch")
		}
		provider := embed.NewNebiusBatchProvider(getEnv("NEBIUS_BASE_URL", "https://api.studio.nebius.com/v1"), apiKey, "")
		store, existingIDs, err := openStoreAndExistingIDs(ctx, host, port, provider.Dimension())
		if err != nil {
			return err
		}
		defer store.Close()

		state, err := batchstate.Open(dataDir + "/batch-state.json")
		if err != nil {
			return fmt.Errorf("ingest: open batch state: %w", err)
		}

		driver := embed.NewBatchDriver(provider, provider.BuildManifest, state, store, prog, embed.BatchDriverConfig{
			ChunkSize: flagChunk,
			Parallel:  flagParallel,
		})

		fmt.Println("Resuming any in-flight batches from a prior run...")
		inFlight, err := driver.Resume(ctx)
		if err != nil {
			return fmt.Errorf("ingest: resume batches: %w", err)
		}
		for id := range inFlight {
			existingIDs[id] = true
		}
		fmt.Printf("Resume found %d in-flight or just-completed items\n", len(inFlight))

		orc, err = orchestrator.New(readmesDir, existingIDs, nil, driver, prog, logger, orchestrator.Config{
			ChunkSize:             flagChunk * flagParallel * 2,
			PricePerMillionTokens: embed.NebiusPricePerMillionTokens,
		})
		if err != nil {
			return err
		}

	default:
		return fmt.Errorf("ingest: unknown --provider %q", flagProvider)
	}

	if err := orc.Run(ctx, names); err != nil {
		return fmt.Errorf("ingest: run: %w", err)
	}

	snap := prog.Snapshot()
	fmt.Printf("Ingest complete in %s: embedded=%d failed=%d cost=$%.4f\n",
		time.Since(start).Round(time.Second), snap.Embedded, snap.Failed, snap.TotalCostUSD)
	return nil
}

// openStoreAndExistingIDs connects to Qdrant, ensures the collection
// exists at the given dimension, and preloads the set of already-upserted
// IDs so the first outer chunk skips them.
func openStoreAndExistingIDs(ctx context.Context, host string, port, dimension int) (*vectorstore.Store, map[string]bool, error) {
	store, err := vectorstore.NewStore(host, port, uint64(dimension))
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: connect to qdrant: %w", err)
	}
	if err := store.EnsureCollection(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("ingest: ensure collection: %w", err)
	}

	fmt.Println("Scanning existing vector IDs...")
	existingIDs, err := store.ExistingIDs(ctx)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("ingest: scan existing ids: %w", err)
	}
	fmt.Printf("Found %d existing vectors\n", len(existingIDs))

	return store, existingIDs, nil
}

// collectKeys gathers up to n API keys from envPrefix, envPrefix_2,
// envPrefix_3, ..., skipping any that are unset so a short --keys count
// still works with fewer configured keys than requested.
func collectKeys(envPrefix string, n int) []string {
	var keys []string
	if v := os.Getenv(envPrefix); v != "" {
		keys = append(keys, v)
	}
	for i := 2; i <= n; i++ {
		if v := os.Getenv(envPrefix + "_" + strconv.Itoa(i)); v != "" {
			keys = append(keys, v)
		}
	}
	return keys
}

func splitQdrantURL(addr string) (host string, port int, err error) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	portNum, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", p, err)
	}
	return h, portNum, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
