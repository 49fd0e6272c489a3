package resolver

import (
	"context"
	"sync"

	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/core/ports"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

type versionsKey struct {
	source domain.SourceID
	name   domain.PackageName
}

type versionsResult struct {
	ids []domain.PackageID
	err error
}

type summaryResult struct {
	summary *domain.Summary
	err     error
}

// queryCache memoizes source queries for one resolution. Concurrent identical
// queries share one call to the source.
type queryCache struct {
	provider ports.SourceProvider
	group    singleflight.Group

	mu        sync.Mutex
	versions  map[versionsKey]versionsResult
	summaries map[domain.PackageID]summaryResult
}

func newQueryCache(provider ports.SourceProvider) *queryCache {
	return &queryCache{
		provider:  provider,
		versions:  make(map[versionsKey]versionsResult),
		summaries: make(map[domain.PackageID]summaryResult),
	}
}

func (q *queryCache) listVersions(ctx context.Context, src domain.SourceID, name domain.PackageName) ([]domain.PackageID, error) {
	key := versionsKey{source: src.Canonical(), name: name}
	q.mu.Lock()
	res, ok := q.versions[key]
	q.mu.Unlock()
	if ok {
		return res.ids, res.err
	}

	v, _, _ := q.group.Do("versions|"+key.source.String()+"|"+name.String(), func() (any, error) {
		var res versionsResult
		source, err := q.provider.Source(key.source)
		if err != nil {
			res.err = err
		} else {
			res.ids, res.err = source.ListVersions(ctx, name)
		}
		if ctx.Err() == nil {
			q.mu.Lock()
			q.versions[key] = res
			q.mu.Unlock()
		}
		return res, nil
	})
	res = v.(versionsResult)
	return res.ids, res.err
}

func (q *queryCache) summary(ctx context.Context, id domain.PackageID) (*domain.Summary, error) {
	q.mu.Lock()
	res, ok := q.summaries[id]
	q.mu.Unlock()
	if ok {
		return res.summary, res.err
	}

	v, _, _ := q.group.Do("summary|"+id.String(), func() (any, error) {
		var res summaryResult
		source, err := q.provider.Source(id.Source())
		if err != nil {
			res.err = err
		} else {
			res.summary, res.err = source.FetchSummary(ctx, id)
		}
		if ctx.Err() == nil {
			q.mu.Lock()
			q.summaries[id] = res
			q.mu.Unlock()
		}
		return res, nil
	})
	res = v.(summaryResult)
	return res.summary, res.err
}

// prefetch warms the cache concurrently. Failures are remembered and surface
// when the search asks for the same query.
func (q *queryCache) prefetch(ctx context.Context, limit int, listings []versionsKey, summaries []domain.PackageID) {
	if len(listings) == 0 && len(summaries) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, key := range listings {
		g.Go(func() error {
			_, _ = q.listVersions(gctx, key.source, key.name)
			return nil
		})
	}
	for _, id := range summaries {
		g.Go(func() error {
			_, _ = q.summary(gctx, id)
			return nil
		})
	}
	_ = g.Wait()
}
