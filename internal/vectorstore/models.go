package vectorstore

// CollectionName is the single Qdrant collection holding every README
// vector across every ingested repository.
const CollectionName = "readmes"

// Point is a single vector upsert: a content-derived UUID, its embedding,
// and the narrow payload the spec allows (repo_name, content_hash). Full
// README content is never stored in the vector database.
type Point struct {
	ID          string
	Vector      []float32
	RepoName    string
	ContentHash string
}

// UpsertBatchSize is the maximum number of points sent per Upsert call,
// the vector-store payload limit named in the component design.
const UpsertBatchSize = 100

// ScrollPageSize is the page size used when scanning existing IDs.
const ScrollPageSize = 1000
