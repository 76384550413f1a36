// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package chain_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"storj.io/common/testcontext"

	"github.com/t0rbik/services/orderbook/chain"
	"github.com/t0rbik/services/orderbook/chain/chaintest"
	"github.com/t0rbik/services/private/blockchain/blockchaintest"
)

func TestBalanceCacheMemoizes(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	provider := chaintest.New()
	cache := chain.NewBalanceCache(provider, chain.BalanceCacheConfig{BlocksToRetain: 2})

	token := blockchaintest.NewAddress()
	owner := blockchaintest.NewAddress()
	spender := blockchaintest.NewAddress()
	provider.SetBalance(token, owner, big.NewInt(100))
	provider.SetAllowance(token, owner, big.NewInt(50))

	for i := 0; i < 5; i++ {
		balance, err := cache.BalanceOf(ctx, 10, token, owner)
		require.NoError(t, err)
		require.EqualValues(t, 100, balance.Int64())

		allowance, err := cache.AllowanceOf(ctx, 10, token, owner, spender)
		require.NoError(t, err)
		require.EqualValues(t, 50, allowance.Int64())
	}

	// One node round trip per distinct lookup, the rest served cached.
	require.Equal(t, 2, provider.Calls())

	// A new block misses and refetches.
	_, err := cache.BalanceOf(ctx, 11, token, owner)
	require.NoError(t, err)
	require.Equal(t, 3, provider.Calls())
}

func TestBalanceCachePrunes(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	provider := chaintest.New()
	cache := chain.NewBalanceCache(provider, chain.BalanceCacheConfig{BlocksToRetain: 2})

	token := blockchaintest.NewAddress()
	owner := blockchaintest.NewAddress()

	for block := int64(1); block <= 10; block++ {
		_, err := cache.BalanceOf(ctx, block, token, owner)
		require.NoError(t, err)
		require.LessOrEqual(t, cache.Cached(), 2)
	}
}

func TestBalanceCacheDoesNotCacheErrors(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	provider := chaintest.New()
	cache := chain.NewBalanceCache(provider, chain.BalanceCacheConfig{})

	token := blockchaintest.NewAddress()
	owner := blockchaintest.NewAddress()

	provider.SetError(errors.New("node is down"))
	_, err := cache.BalanceOf(ctx, 5, token, owner)
	require.True(t, chain.ErrUnavailable.Has(err))

	provider.SetError(nil)
	provider.SetBalance(token, owner, big.NewInt(7))

	balance, err := cache.BalanceOf(ctx, 5, token, owner)
	require.NoError(t, err)
	require.EqualValues(t, 7, balance.Int64())
}

func TestBalanceCacheCopiesValues(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	provider := chaintest.New()
	cache := chain.NewBalanceCache(provider, chain.BalanceCacheConfig{BlocksToRetain: 2})

	token := blockchaintest.NewAddress()
	owner := blockchaintest.NewAddress()
	provider.SetBalance(token, owner, big.NewInt(100))

	balance, err := cache.BalanceOf(ctx, 3, token, owner)
	require.NoError(t, err)

	// Mutating the returned amount must not poison the cache.
	balance.SetInt64(0)

	balance, err = cache.BalanceOf(ctx, 3, token, owner)
	require.NoError(t, err)
	require.EqualValues(t, 100, balance.Int64())
}
