// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

// Package solvable maintains the in-memory projection of the order store
// filtered to currently-executable orders, and builds auction snapshots
// from it for external solvers.
package solvable

import (
	"context"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"storj.io/common/sync2"

	"github.com/t0rbik/services/orderbook/chain"
	"github.com/t0rbik/services/orderbook/orders"
	"github.com/t0rbik/services/orderbook/settlement"
	"github.com/t0rbik/services/private/blockchain"
)

var (
	mon = monkit.Package()

	// Error is the default error class for the solvable package.
	Error = errs.Class("solvable")
)

// Config stores needed information for solvable cache initialization.
type Config struct {
	RefreshInterval time.Duration `help:"interval to rebuild the solvable order set" default:"5s"`
	DisableLoop     bool          `help:"flag to disable the refresh loop" default:"false"`
}

// Candidate is a solvable order together with its cumulative executed
// amounts, so solvers can price the remainder of partially filled orders.
type Candidate struct {
	Order    orders.Order
	Executed orders.Executed
}

// Remaining returns the unexecuted amount on the side the order kind
// measures.
func (candidate Candidate) Remaining() *big.Int {
	return new(big.Int).Sub(candidate.Order.FullAmount(), candidate.Executed.Amount(candidate.Order.Kind))
}

// Generation is one complete rebuild of the solvable order set. It is
// immutable once published; readers must not modify it.
type Generation struct {
	ID          int64
	Block       int64
	Candidates  []Candidate
	RefreshedAt time.Time
}

// FaultSet reports orders flagged with consistency faults, which are
// excluded from solvability fail-closed.
type FaultSet interface {
	Faults() map[orders.UID]string
}

// Cache periodically rebuilds the full candidate set from the order store,
// re-checking balance and allowance feasibility against fresh chain state.
// The swap is atomic: readers always observe either the previous complete
// generation or the new one, never a partially rebuilt set, and are never
// blocked for the duration of a rebuild.
//
// architecture: Chore
type Cache struct {
	log        *zap.Logger
	ordersDB   orders.DB
	settleDB   settlement.DB
	chainState chain.Provider
	balances   *chain.BalanceCache
	faults     FaultSet
	settlement blockchain.Address

	Loop *sync2.Cycle

	generation atomic.Pointer[Generation]
	nextID     atomic.Int64
}

// NewCache creates a Cache. It starts out with an empty generation.
func NewCache(log *zap.Logger, ordersDB orders.DB, settleDB settlement.DB, chainState chain.Provider, balances *chain.BalanceCache, faults FaultSet, settlementContract blockchain.Address, config Config) *Cache {
	cache := &Cache{
		log:        log,
		ordersDB:   ordersDB,
		settleDB:   settleDB,
		chainState: chainState,
		balances:   balances,
		faults:     faults,
		settlement: settlementContract,
		Loop:       sync2.NewCycle(config.RefreshInterval),
	}
	if config.DisableLoop {
		cache.Loop.Pause()
	}
	cache.generation.Store(&Generation{})
	return cache
}

// Run runs the refresh loop until the context is canceled. A failed
// refresh keeps the previous generation; the cache is allowed to be one
// refresh cycle stale.
func (cache *Cache) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return cache.Loop.Run(ctx, func(ctx context.Context) error {
		if err := cache.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			cache.log.Warn("solvable cache refresh failed, keeping previous generation", zap.Error(err))
		}
		return nil
	})
}

// Close stops the refresh loop.
func (cache *Cache) Close() error {
	cache.Loop.Close()
	return nil
}

// Current returns the latest complete generation.
func (cache *Cache) Current() *Generation {
	return cache.generation.Load()
}

// Refresh rebuilds the candidate set and atomically publishes it. Any
// error aborts the rebuild without publishing a partial set.
func (cache *Cache) Refresh(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	head, err := cache.chainState.CurrentBlock(ctx)
	if err != nil {
		return Error.Wrap(err)
	}
	cursor, err := cache.settleDB.Cursor(ctx)
	if err != nil {
		return Error.Wrap(err)
	}

	open, err := cache.ordersDB.ListStatus(ctx, orders.StatusOpen)
	if err != nil {
		return Error.Wrap(err)
	}

	faults := cache.faults.Faults()
	now := time.Now()

	candidates := make([]Candidate, 0, len(open))
	for _, order := range open {
		// Logically expired orders are excluded immediately even though
		// the store marks them expired only on the next reconciliation
		// pass.
		if !order.ValidTo.After(now) {
			continue
		}
		if reason, ok := faults[order.UID]; ok {
			cache.log.Debug("excluding faulted order",
				zap.String("uid", order.UID.Hex()),
				zap.String("reason", reason))
			continue
		}

		executed, err := cache.ordersDB.ExecutedAmounts(ctx, order.UID)
		if err != nil {
			return Error.Wrap(err)
		}
		candidate := Candidate{Order: order, Executed: executed}

		feasible, err := cache.feasible(ctx, head, candidate)
		if err != nil {
			return Error.Wrap(err)
		}
		if !feasible {
			// Feasibility is a live, re-evaluated property, never a
			// stored status; the order stays open in the store.
			continue
		}
		candidates = append(candidates, candidate)
	}

	generation := &Generation{
		ID:          cache.nextID.Add(1),
		Block:       cursor,
		Candidates:  candidates,
		RefreshedAt: now,
	}
	cache.generation.Store(generation)

	mon.IntVal("solvable_orders").Observe(int64(len(candidates)))
	cache.log.Debug("solvable cache refreshed",
		zap.Int64("generation", generation.ID),
		zap.Int64("block", generation.Block),
		zap.Int("candidates", len(candidates)))
	return nil
}

// feasible re-checks that the owner still holds and has approved the
// remaining sell amount.
func (cache *Cache) feasible(ctx context.Context, block int64, candidate Candidate) (bool, error) {
	order := candidate.Order

	required := order.SellAmount
	if executed := candidate.Executed.SellAmount; executed != nil && executed.Sign() > 0 {
		required = new(big.Int).Sub(order.SellAmount, executed)
		if required.Sign() <= 0 {
			return false, nil
		}
	}

	balance, err := cache.balances.BalanceOf(ctx, block, order.SellToken, order.Owner)
	if err != nil {
		return false, err
	}
	if balance.Cmp(required) < 0 {
		return false, nil
	}

	allowance, err := cache.balances.AllowanceOf(ctx, block, order.SellToken, order.Owner, cache.settlement)
	if err != nil {
		return false, err
	}
	return allowance.Cmp(required) >= 0, nil
}
