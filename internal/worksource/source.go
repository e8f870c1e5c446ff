// Package worksource reads GitHub origin URLs out of a columnar archive
// (Parquet), filtered by a minimum visit date and sliced by offset/limit,
// and hands them out in fixed-size batches backed by a durable cursor so a
// restart resumes instead of re-walking completed work.
package worksource

import (
	"context"
	"fmt"
	"time"
)

// DefaultBatchSize is the number of origin URLs NextBatch emits per call.
const DefaultBatchSize = 50000

// Config configures a Source.
type Config struct {
	OriginsPath  string
	VisitsPath   string
	Full         bool
	MinDate      *time.Time // non-nil selects the visits table, filtered by date
	Offset       int
	Limit        int // 0 = unbounded
	BatchSize    int // default DefaultBatchSize
	CursorDBPath string
}

func (c *Config) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
}

// tableName names the filtered table this config selects, used as the
// cursor key for the primary instance (Offset == 0).
func (c Config) tableName() string {
	switch {
	case c.MinDate != nil && c.Full:
		return "visits_full"
	case c.MinDate != nil:
		return "visits_6k"
	case c.Full:
		return "origins_full"
	default:
		return "origins_6k"
	}
}

// cursorKey is table_name for the primary instance, or table_name_offset
// for a parallel instance, so sibling instances slicing disjoint offsets
// never collide on the same cursor row.
func (c Config) cursorKey() string {
	if c.Offset > 0 {
		return fmt.Sprintf("%s_%d", c.tableName(), c.Offset)
	}
	return c.tableName()
}

// Source streams GitHub origin URLs from a columnar archive, resuming from
// a durable cursor so repeated runs never re-walk completed work.
type Source struct {
	cfg     Config
	cursors *CursorStore
	urls    []string
	cursor  int // already-emitted prefix of urls, persisted under cfg.cursorKey()
}

// Open materializes the filtered, sliced work table for cfg and loads its
// cursor. A primary instance (Offset == 0) resumes from wherever the
// cursor left off inside the full filtered table; a parallel instance
// (Offset > 0) only ever materializes its own disjoint slice, so its
// cursor starts fresh unless that slice was partially consumed before.
func Open(ctx context.Context, cfg Config) (*Source, error) {
	cfg.setDefaults()

	cursors, err := OpenCursorStore(cfg.CursorDBPath)
	if err != nil {
		return nil, err
	}

	var urls []string
	if cfg.MinDate != nil {
		urls, err = readRecentOriginsSlice(ctx, cfg.VisitsPath, *cfg.MinDate, cfg.Offset, cfg.Limit)
	} else {
		urls, err = readOriginsSlice(ctx, cfg.OriginsPath, cfg.Offset, cfg.Limit)
	}
	if err != nil {
		_ = cursors.Close()
		return nil, err
	}

	cursor, ok, err := cursors.Load(ctx, cfg.cursorKey())
	if err != nil {
		_ = cursors.Close()
		return nil, err
	}
	if !ok {
		cursor = 0
	}
	if cursor > len(urls) {
		cursor = len(urls)
	}

	return &Source{cfg: cfg, cursors: cursors, urls: urls, cursor: cursor}, nil
}

// Close releases the cursor database handle.
func (s *Source) Close() error { return s.cursors.Close() }

// Total is the number of URLs in the materialized, filtered, sliced table.
func (s *Source) Total() int { return len(s.urls) }

// Remaining is the number of URLs not yet emitted by NextBatch.
func (s *Source) Remaining() int { return len(s.urls) - s.cursor }

// NextBatch returns up to BatchSize origin URLs and durably advances the
// cursor before returning. ok is false once the table is exhausted.
func (s *Source) NextBatch(ctx context.Context) (batch []string, ok bool, err error) {
	if s.cursor >= len(s.urls) {
		return nil, false, nil
	}

	end := s.cursor + s.cfg.BatchSize
	if end > len(s.urls) {
		end = len(s.urls)
	}

	batch = s.urls[s.cursor:end]
	s.cursor = end

	if err := s.cursors.Save(ctx, s.cfg.cursorKey(), s.cursor); err != nil {
		return nil, false, fmt.Errorf("worksource: persist cursor: %w", err)
	}

	return batch, true, nil
}
