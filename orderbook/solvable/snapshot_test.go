// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package solvable_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"storj.io/common/testcontext"

	"github.com/t0rbik/services/orderbook/orders/orderstest"
	"github.com/t0rbik/services/orderbook/solvable"
)

func TestSnapshotBuild(t *testing.T) {
	runCache(t, func(ctx *testcontext.Context, t *testing.T, setup *cacheSetup) {
		first := orderstest.New()
		second := orderstest.New()
		require.NoError(t, setup.db.Orders().Insert(ctx, first))
		require.NoError(t, setup.db.Orders().Insert(ctx, second))
		setup.fund(first)
		setup.fund(second)

		require.NoError(t, setup.cache.Refresh(ctx))

		builder := solvable.NewBuilder(setup.cache)

		snapshot, err := builder.Build(ctx)
		require.NoError(t, err)
		require.Len(t, snapshot.Candidates, 2)
		require.Equal(t, first.UID, snapshot.Candidates[0].Order.UID)
		require.Equal(t, second.UID, snapshot.Candidates[1].Order.UID)

		// Two snapshots of one generation carry the same input under
		// distinct identities.
		again, err := builder.Build(ctx)
		require.NoError(t, err)
		require.NotEqual(t, snapshot.ID, again.ID)
		require.Equal(t, snapshot.Generation, again.Generation)
		require.Equal(t, snapshot.Candidates, again.Candidates)
	})
}

func TestSnapshotTracksGenerations(t *testing.T) {
	runCache(t, func(ctx *testcontext.Context, t *testing.T, setup *cacheSetup) {
		builder := solvable.NewBuilder(setup.cache)

		empty, err := builder.Build(ctx)
		require.NoError(t, err)
		require.Empty(t, empty.Candidates)
		require.EqualValues(t, 0, empty.Generation)

		order := orderstest.New()
		require.NoError(t, setup.db.Orders().Insert(ctx, order))
		setup.fund(order)
		require.NoError(t, setup.cache.Refresh(ctx))

		snapshot, err := builder.Build(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 1, snapshot.Generation)
		require.Len(t, snapshot.Candidates, 1)
	})
}
