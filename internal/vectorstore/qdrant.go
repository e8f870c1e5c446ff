// Package vectorstore adapts the embedding pipeline's narrow vector
// storage needs — collection bootstrap, chunked upsert, and an
// existing-ID scan — onto the Qdrant gRPC client.
package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
)

// Store wraps a Qdrant client configured for one collection of a fixed
// vector dimension.
type Store struct {
	client    *qdrant.Client
	dimension uint64
}

// NewStore creates a Qdrant client and validates connectivity with a
// retried health check before returning, so a misconfigured host fails
// fast at startup rather than on the first upsert deep into a run.
func NewStore(host string, port int, dimension uint64) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create client: %w", err)
	}

	s := &Store{client: client, dimension: dimension}

	if err := s.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return s, nil
}

func (s *Store) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error { return s.Health(ctx) }, backoff.WithContext(b, ctx))
}

// Health performs a single health check against Qdrant.
func (s *Store) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// EnsureCollection creates the collection with cosine distance and the
// configured vector dimension if it does not already exist, and creates
// a keyword index on repo_name. Idempotent.
func (s *Store) EnsureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("vectorstore: list collections: %w", err)
	}
	for _, name := range collections {
		if name == CollectionName {
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: CollectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: create collection: %w", err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: CollectionName,
		FieldName:      "repo_name",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: create repo_name index: %w", err)
	}

	return nil
}

// ExistingIDs scans the whole collection via the paginated scroll API and
// returns every point ID, with vectors and payload omitted from the
// response since only membership is needed.
func (s *Store) ExistingIDs(ctx context.Context) (map[string]bool, error) {
	ids := make(map[string]bool)
	var offset *qdrant.PointId

	for {
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: CollectionName,
			Limit:          qdrant.PtrOf(uint32(ScrollPageSize)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(false),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if err != nil {
			return nil, fmt.Errorf("vectorstore: scroll: %w", err)
		}
		if len(points) == 0 {
			break
		}

		for _, p := range points {
			ids[p.Id.GetUuid()] = true
		}

		if len(points) < ScrollPageSize {
			break
		}
		offset = points[len(points)-1].Id
	}

	return ids, nil
}

// Upsert writes points in chunks of UpsertBatchSize, without waiting for
// server-side indexing to complete (wait=false), retrying each chunk with
// exponential backoff.
func (s *Store) Upsert(ctx context.Context, points []Point) error {
	for i := 0; i < len(points); i += UpsertBatchSize {
		end := min(i+UpsertBatchSize, len(points))
		if err := s.upsertChunkWithRetry(ctx, points[i:end]); err != nil {
			return fmt.Errorf("vectorstore: upsert chunk %d-%d: %w", i, end, err)
		}
	}
	return nil
}

func (s *Store) upsertChunkWithRetry(ctx context.Context, chunk []Point) error {
	qpoints := make([]*qdrant.PointStruct, len(chunk))
	for i, p := range chunk {
		if uint64(len(p.Vector)) != s.dimension {
			return fmt.Errorf("%w: point %s has %d dimensions, expected %d",
				ErrDimensionMismatch, p.ID, len(p.Vector), s.dimension)
		}
		qpoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"repo_name":    p.RepoName,
				"content_hash": p.ContentHash,
			}),
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: CollectionName,
			Points:         qpoints,
			Wait:           qdrant.PtrOf(false),
		})
		return err
	}, backoff.WithContext(b, ctx))
}

// PointsCount returns the collection's reported point count.
func (s *Store) PointsCount(ctx context.Context) (uint64, error) {
	collection, err := s.client.GetCollectionInfo(ctx, CollectionName)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: get collection: %w", err)
	}
	return collection.GetPointsCount(), nil
}
