package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/IshaanNene/bookstalk/internal/fetcher"
	"github.com/IshaanNene/bookstalk/internal/observability"
	"github.com/IshaanNene/bookstalk/internal/pipeline"
	"github.com/IshaanNene/bookstalk/internal/sites"
	"github.com/IshaanNene/bookstalk/internal/types"
)

// Run scrapes one site end to end and returns its records in rank order.
// Detail pages are fetched in chunks of site.Concurrency; a failed detail
// still yields a record with empty detail fields.
func (e *Engine) Run(ctx context.Context, site *sites.Site) ([]types.BookRecord, error) {
	start := time.Now()
	logger := e.logger.With("site", site.Code)
	metrics := e.metricsRef()

	stubs, err := e.FetchListing(ctx, site)
	if err != nil {
		metrics.IncRun(site.Code, observability.OutcomeError)
		return nil, err
	}
	if len(stubs) == 0 {
		metrics.IncRun(site.Code, observability.OutcomeEmpty)
		return []types.BookRecord{}, nil
	}

	logger.Info("listing collected", "stubs", len(stubs), "concurrency", site.Concurrency)

	details, err := settleAll(ctx, logger, stubs, site.Concurrency, site.ChunkDelay,
		func(ctx context.Context, stub types.BookStub) types.BookDetail {
			return e.FetchDetail(ctx, site, stub.DetailLink)
		},
		func(types.BookStub) types.BookDetail { return site.EmptyDetail() },
	)
	if err != nil {
		metrics.IncRun(site.Code, observability.OutcomeError)
		return nil, err
	}

	records := e.normalize(site, stubs, details)

	e.stats.Records.Add(int64(len(records)))
	metrics.AddRecords(site.Code, len(records))
	metrics.IncRun(site.Code, observability.OutcomeOK)
	logger.Info("site scraped", "records", len(records), "duration", time.Since(start))
	return records, nil
}

// normalize merges each detail onto its stub by position and projects the
// result onto the public record shape.
func (e *Engine) normalize(site *sites.Site, stubs []types.BookStub, details []types.BookDetail) []types.BookRecord {
	records := make([]types.BookRecord, len(stubs))
	recordPipeline := e.recordPipeline()

	for i, stub := range stubs {
		item := types.ItemFromStub(site.Code, stub)
		item.Merge(details[i])

		processed, err := recordPipeline.Process(item.Clone())
		switch {
		case err != nil:
			e.logger.Warn("record pipeline failed, using raw item", "site", site.Code, "rank", stub.Rank, "error", err)
		case processed == nil:
			e.logger.Debug("record pipeline dropped item, using raw item", "site", site.Code, "rank", stub.Rank)
		default:
			item = processed
		}
		records[i] = pipeline.ToPublicRecord(item)
	}
	return records
}

// settleAll applies fn to every input, size at a time. Chunks run one after
// another, optionally separated by delay; inputs within a chunk run
// concurrently and the chunk waits for all of them. fn cannot fail: a panic
// in fn is recovered and replaced by fallback(input). The result at index i
// always belongs to inputs[i]. Only cancellation of ctx is returned, checked
// between chunks.
func settleAll[T, R any](
	ctx context.Context,
	logger *slog.Logger,
	inputs []T,
	size int,
	delay time.Duration,
	fn func(context.Context, T) R,
	fallback func(T) R,
) ([]R, error) {
	if size < 1 {
		size = 1
	}
	results := make([]R, 0, len(inputs))

	for start := 0; start < len(inputs); start += size {
		if start > 0 {
			if err := fetcher.Sleep(ctx, delay); err != nil {
				return nil, err
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+size, len(inputs))
		chunk := make([]R, end-start)

		var g errgroup.Group
		for i, in := range inputs[start:end] {
			i, in := i, in
			g.Go(func() error {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("task panicked, using fallback", "index", start+i, "panic", fmt.Sprint(r))
						chunk[i] = fallback(in)
					}
				}()
				chunk[i] = fn(ctx, in)
				return nil
			})
		}
		_ = g.Wait()

		results = append(results, chunk...)
		logger.Debug("chunk settled", "from", start+1, "to", end, "of", len(inputs))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
