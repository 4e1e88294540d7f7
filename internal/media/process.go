package media

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ChunkResult pairs a chunk with its output. Err is set when the chunk failed
// and Value is then the zero value.
type ChunkResult[T any] struct {
	Chunk Chunk
	Value T
	Err   error
}

// ProcessChunks runs fn for every chunk with at most limit in flight (limit
// <= 0 runs them one at a time). Every chunk runs even when an earlier one
// fails; a failed chunk contributes the zero value at its index so merging
// keeps positions. Results are returned in chunk order.
func ProcessChunks[T any](ctx context.Context, chunks []Chunk, limit int, fn func(context.Context, Chunk) (T, error)) []ChunkResult[T] {
	results := make([]ChunkResult[T], len(chunks))
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, chunk := range chunks {
		results[i].Chunk = chunk
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			value, err := fn(ctx, chunk)
			if err != nil {
				results[i].Err = fmt.Errorf("chunk %d: %w", chunk.Index, err)
				return nil
			}
			results[i].Value = value
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Values returns the chunk outputs in order.
func Values[T any](results []ChunkResult[T]) []T {
	out := make([]T, len(results))
	for i, r := range results {
		out[i] = r.Value
	}
	return out
}

// Errors returns the errors of failed chunks.
func Errors[T any](results []ChunkResult[T]) []error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}
