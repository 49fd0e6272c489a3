// Package resolver turns the requirements of a workspace into one consistent set of
// package versions using conflict-directed backjumping over one slot per package name.
package resolver

import (
	"context"

	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/core/ports"
)

// Resolver selects one package id per name so that every requirement of the
// workspace members and of the selected packages is satisfied.
type Resolver struct {
	provider ports.SourceProvider
	tracer   ports.Tracer
	logger   ports.Logger
}

// New creates a Resolver that queries sources through provider.
func New(provider ports.SourceProvider, tracer ports.Tracer, logger ports.Logger) *Resolver {
	return &Resolver{
		provider: provider,
		tracer:   tracer,
		logger:   logger,
	}
}

// Resolve computes the resolved graph for req. The search is sequential; source queries
// run concurrently and are memoized for the duration of the call.
func (r *Resolver) Resolve(ctx context.Context, req Request) (_ *domain.ResolvedGraph, err error) {
	req = req.withDefaults()

	ctx, span := r.tracer.Start(ctx, "resolve",
		ports.WithAttribute("members", len(req.Members)),
		ports.WithAttribute("policy", string(req.Policy)),
		ports.WithAttribute("precedence", string(req.Precedence)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if len(req.Members) == 0 {
		return nil, domain.ErrEmptyWorkspace
	}

	s := newSearch(req, newQueryCache(r.provider), r.tracer, r.logger)
	if err := s.run(ctx); err != nil {
		return nil, err
	}

	graph, err := s.graph()
	if err != nil {
		return nil, err
	}
	span.SetAttribute("packages", graph.Len())
	span.SetAttribute("backjumps", s.backjumps)

	if req.Policy == LockPolicyNone && (req.Lock == nil || !domain.LockFromGraph(graph).Equal(req.Lock)) {
		return nil, domain.ErrLockOutdated
	}
	return graph, nil
}
