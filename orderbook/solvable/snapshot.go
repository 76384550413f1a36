// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package solvable

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuctionSnapshot is an immutable point-in-time auction input handed to
// solvers: the solvable orders plus the ledger block the set is consistent
// with. It is never persisted and never mutated; the next request
// supersedes it.
type AuctionSnapshot struct {
	ID         uuid.UUID
	Block      int64
	Generation int64
	CreatedAt  time.Time
	Candidates []Candidate
}

// Builder assembles auction snapshots from the current cache generation.
// Build is a pure read: deterministic given the cache generation, and the
// candidate ordering is store insertion order so solvers get a
// reproducible input for a given generation.
//
// architecture: Service
type Builder struct {
	cache *Cache
}

// NewBuilder creates a Builder.
func NewBuilder(cache *Cache) *Builder {
	return &Builder{cache: cache}
}

// Build returns a snapshot of the current generation.
func (builder *Builder) Build(ctx context.Context) (_ AuctionSnapshot, err error) {
	defer mon.Task()(&ctx)(&err)

	generation := builder.cache.Current()

	return AuctionSnapshot{
		ID:         uuid.New(),
		Block:      generation.Block,
		Generation: generation.ID,
		CreatedAt:  time.Now().UTC(),
		Candidates: generation.Candidates,
	}, nil
}
