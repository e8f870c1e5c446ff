package vectorstore

import "errors"

var (
	// ErrQdrantUnreachable is returned when the initial health check
	// fails after exhausting the connect retry budget.
	ErrQdrantUnreachable = errors.New("vectorstore: qdrant server unreachable")

	// ErrDimensionMismatch is returned when a vector's length does not
	// match the collection's configured dimension.
	ErrDimensionMismatch = errors.New("vectorstore: embedding dimension mismatch")
)
