// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/t0rbik/services/private/blockchain"
)

// BalanceCacheConfig configures the balance cache.
type BalanceCacheConfig struct {
	BlocksToRetain int64 `help:"number of past blocks to keep cached balance data for" default:"2"`
}

// BalanceCache decorates a Provider with per-block memoization of balance
// and allowance lookups. A solvable-orders refresh touches the same (token,
// owner) pairs repeatedly within one block; the cache collapses those into
// one node round trip. Entries from blocks older than the retention window
// are pruned as the head advances.
//
// The lock only guards the map; it is never held across a node round trip,
// so a cache miss may be fetched more than once concurrently. The value is
// cached for the next caller either way.
type BalanceCache struct {
	provider Provider
	retain   int64

	mu     sync.Mutex
	blocks map[int64]map[balanceKey]*big.Int
}

type balanceKey struct {
	token   blockchain.Address
	owner   blockchain.Address
	spender blockchain.Address
	kind    byte
}

// NewBalanceCache creates a balance cache around the given provider.
func NewBalanceCache(provider Provider, config BalanceCacheConfig) *BalanceCache {
	retain := config.BlocksToRetain
	if retain < 1 {
		retain = 1
	}
	return &BalanceCache{
		provider: provider,
		retain:   retain,
		blocks:   make(map[int64]map[balanceKey]*big.Int),
	}
}

// BalanceOf returns the owner's token balance as of the given block,
// fetching through the underlying provider on a miss.
func (cache *BalanceCache) BalanceOf(ctx context.Context, block int64, token, owner blockchain.Address) (_ *big.Int, err error) {
	defer mon.Task()(&ctx)(&err)

	key := balanceKey{token: token, owner: owner, kind: 'b'}
	if amount, ok := cache.lookup(block, key); ok {
		return amount, nil
	}
	amount, err := cache.provider.BalanceOf(ctx, token, owner)
	if err != nil {
		return nil, err
	}
	cache.store(block, key, amount)
	return amount, nil
}

// AllowanceOf returns the owner's allowance towards the spender as of the
// given block, fetching through the underlying provider on a miss.
func (cache *BalanceCache) AllowanceOf(ctx context.Context, block int64, token, owner, spender blockchain.Address) (_ *big.Int, err error) {
	defer mon.Task()(&ctx)(&err)

	key := balanceKey{token: token, owner: owner, spender: spender, kind: 'a'}
	if amount, ok := cache.lookup(block, key); ok {
		return amount, nil
	}
	amount, err := cache.provider.AllowanceOf(ctx, token, owner, spender)
	if err != nil {
		return nil, err
	}
	cache.store(block, key, amount)
	return amount, nil
}

func (cache *BalanceCache) lookup(block int64, key balanceKey) (*big.Int, bool) {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	entries, ok := cache.blocks[block]
	if !ok {
		return nil, false
	}
	amount, ok := entries[key]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(amount), true
}

func (cache *BalanceCache) store(block int64, key balanceKey, amount *big.Int) {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	entries, ok := cache.blocks[block]
	if !ok {
		entries = make(map[balanceKey]*big.Int)
		cache.blocks[block] = entries
	}
	entries[key] = new(big.Int).Set(amount)

	for cached := range cache.blocks {
		if cached <= block-cache.retain {
			delete(cache.blocks, cached)
		}
	}
}

// Cached returns the number of blocks currently retained. Mostly useful
// for tests.
func (cache *BalanceCache) Cached() int {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	return len(cache.blocks)
}
