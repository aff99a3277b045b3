package batch

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Batch size limits.
const (
	DefaultBatchSize = 100
	MinBatchSize     = 1
	MaxBatchSize     = 1000
)

// Common batch processing errors.
var (
	ErrInvalidBatchSize = errors.New("batch size must be between 1 and 1000")
	ErrNilCallback      = errors.New("batch callback cannot be nil")
)

// Callback processes one batch. batchIndex is 0-based.
type Callback[T any] func(ctx context.Context, batch []T, batchIndex int) error

// Processor splits items into batches of a fixed size.
type Processor[T any] struct {
	batchSize int
}

// NewProcessor creates a processor with the given batch size.
func NewProcessor[T any](batchSize int) (*Processor[T], error) {
	if batchSize < MinBatchSize || batchSize > MaxBatchSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, batchSize)
	}
	return &Processor[T]{batchSize: batchSize}, nil
}

// NewProcessorWithDefaults creates a processor with DefaultBatchSize.
func NewProcessorWithDefaults[T any]() *Processor[T] {
	return &Processor[T]{batchSize: DefaultBatchSize}
}

// BatchSize returns the configured batch size.
func (p *Processor[T]) BatchSize() int { return p.batchSize }

// Process runs callback on each batch in order and stops at the first error.
// An empty items slice is a no-op.
func (p *Processor[T]) Process(ctx context.Context, items []T, callback Callback[T]) error {
	if callback == nil {
		return ErrNilCallback
	}

	for i, bounds := range p.CalculateBatches(len(items)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := callback(ctx, items[bounds[0]:bounds[1]], i); err != nil {
			return fmt.Errorf("batch %d failed: %w", i, err)
		}
	}
	return nil
}

// ProcessConcurrent runs callback on up to maxConcurrency batches at a time.
// The first error cancels the context passed to the remaining batches and is
// returned.
func (p *Processor[T]) ProcessConcurrent(
	ctx context.Context,
	items []T,
	callback Callback[T],
	maxConcurrency int,
) error {
	if callback == nil {
		return ErrNilCallback
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(maxConcurrency, 1))

	for i, bounds := range p.CalculateBatches(len(items)) {
		batch := items[bounds[0]:bounds[1]]
		g.Go(func() error {
			if err := callback(gctx, batch, i); err != nil {
				return fmt.Errorf("batch %d failed: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// CalculateBatches returns the [start, end) bounds of each batch.
func (p *Processor[T]) CalculateBatches(totalItems int) [][2]int {
	if totalItems <= 0 {
		return nil
	}
	batches := make([][2]int, 0, (totalItems+p.batchSize-1)/p.batchSize)
	for start := 0; start < totalItems; start += p.batchSize {
		batches = append(batches, [2]int{start, min(start+p.batchSize, totalItems)})
	}
	return batches
}
