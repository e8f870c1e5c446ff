package worksource

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/apache/arrow/go/v15/parquet/file"
	"github.com/apache/arrow/go/v15/parquet/pqarrow"
)

// openTable decodes the full Arrow table backing a parquet archive. The
// origins and visits archives are tens of thousands of rows and a handful
// of columns, small enough that a full in-memory decode (rather than a
// true streaming row-group walk) is the simpler correct choice; offset and
// limit are applied to the decoded table, not to parquet reads.
func openTable(ctx context.Context, path string) (arrow.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("worksource: open %s: %w", path, err)
	}
	defer f.Close()

	pf, err := file.NewParquetReader(f)
	if err != nil {
		return nil, fmt.Errorf("worksource: read parquet metadata for %s: %w", path, err)
	}
	defer pf.Close()

	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("worksource: create arrow reader for %s: %w", path, err)
	}

	table, err := reader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("worksource: decode table %s: %w", path, err)
	}
	return table, nil
}

func findColumn(schema *arrow.Schema, name string) int {
	for i, f := range schema.Fields() {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func stringColumn(table arrow.Table, name string) ([]string, error) {
	idx := findColumn(table.Schema(), name)
	if idx < 0 {
		return nil, fmt.Errorf("worksource: column %q not found", name)
	}

	out := make([]string, 0, table.NumRows())
	for _, chunk := range table.Column(idx).Data().Chunks() {
		sa, ok := chunk.(*array.String)
		if !ok {
			return nil, fmt.Errorf("worksource: column %q is not a string column (got %T)", name, chunk)
		}
		for i := 0; i < sa.Len(); i++ {
			out = append(out, sa.Value(i))
		}
	}
	return out, nil
}

// dateColumnTimes decodes a date/timestamp column to Go times, since the
// archive's date column type varies with how it was originally written
// (Date32 from a plain date, Timestamp from a datetime64).
func dateColumnTimes(table arrow.Table, name string) ([]time.Time, error) {
	idx := findColumn(table.Schema(), name)
	if idx < 0 {
		return nil, fmt.Errorf("worksource: column %q not found", name)
	}

	out := make([]time.Time, 0, table.NumRows())
	for _, chunk := range table.Column(idx).Data().Chunks() {
		switch a := chunk.(type) {
		case *array.Timestamp:
			unit := a.DataType().(*arrow.TimestampType).Unit
			for i := 0; i < a.Len(); i++ {
				out = append(out, a.Value(i).ToTime(unit))
			}
		case *array.Date32:
			for i := 0; i < a.Len(); i++ {
				out = append(out, a.Value(i).ToTime())
			}
		case *array.Date64:
			for i := 0; i < a.Len(); i++ {
				out = append(out, a.Value(i).ToTime())
			}
		default:
			return nil, fmt.Errorf("worksource: column %q has unsupported type %T", name, chunk)
		}
	}
	return out, nil
}

func sliceBounds(total, offset, limit int) (start, end int) {
	start = offset
	if start > total {
		start = total
	}
	end = total
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return start, end
}

// readOriginsSlice returns the "url" column of the origins table, sliced
// to [offset, offset+limit) (limit <= 0 means unbounded).
func readOriginsSlice(ctx context.Context, path string, offset, limit int) ([]string, error) {
	table, err := openTable(ctx, path)
	if err != nil {
		return nil, err
	}
	defer table.Release()

	urls, err := stringColumn(table, "url")
	if err != nil {
		return nil, err
	}

	start, end := sliceBounds(len(urls), offset, limit)
	return urls[start:end], nil
}

// readRecentOriginsSlice filters the visits table's "origin" column to rows
// whose "date" is >= minDate, then slices the filtered result to
// [offset, offset+limit), mirroring the order of the original query (filter
// before slice, so offset/limit apply to the filtered table, not the raw one).
func readRecentOriginsSlice(ctx context.Context, path string, minDate time.Time, offset, limit int) ([]string, error) {
	table, err := openTable(ctx, path)
	if err != nil {
		return nil, err
	}
	defer table.Release()

	origins, err := stringColumn(table, "origin")
	if err != nil {
		return nil, err
	}
	dates, err := dateColumnTimes(table, "date")
	if err != nil {
		return nil, err
	}
	if len(origins) != len(dates) {
		return nil, fmt.Errorf("worksource: origin/date column length mismatch (%d vs %d)", len(origins), len(dates))
	}

	filtered := filterRecentOrigins(origins, dates, minDate)
	start, end := sliceBounds(len(filtered), offset, limit)
	return filtered[start:end], nil
}

func filterRecentOrigins(origins []string, dates []time.Time, minDate time.Time) []string {
	out := make([]string, 0, len(origins))
	for i, d := range dates {
		if !d.Before(minDate) {
			out = append(out, origins[i])
		}
	}
	return out
}
