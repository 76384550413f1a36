// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package settlement

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"storj.io/common/sync2"

	"github.com/t0rbik/services/orderbook/orderevents"
	"github.com/t0rbik/services/orderbook/orders"
)

// Config stores needed information for reconciler initialization.
type Config struct {
	Interval    time.Duration `help:"interval to poll the event source for new blocks" default:"5s"`
	MaxBackoff  time.Duration `help:"maximum delay between retries after event source failures" default:"2m"`
	BatchSize   int64         `help:"maximum number of blocks to reconcile per tick" default:"512"`
	DisableLoop bool          `help:"flag to disable the reconciliation loop" default:"false"`
}

// Reconciler consumes the stream of settlement-contract events and drives
// order status transitions. Blocks are processed strictly in increasing
// order through a single loop; all transitions of one block and the cursor
// advancement commit in one transaction.
//
// architecture: Chore
type Reconciler struct {
	log    *zap.Logger
	db     DB
	source EventSource
	events *orderevents.Recorder
	config Config

	Loop *sync2.Cycle

	mu           sync.Mutex
	faults       map[orders.UID]string
	faultsLoaded bool
	failures     int
	retryAt      time.Time
}

// NewReconciler creates a Reconciler.
func NewReconciler(log *zap.Logger, db DB, source EventSource, events *orderevents.Recorder, config Config) *Reconciler {
	if config.BatchSize <= 0 {
		config.BatchSize = 512
	}
	return &Reconciler{
		log:    log,
		db:     db,
		source: source,
		events: events,
		config: config,
		Loop:   sync2.NewCycle(config.Interval),
		faults: make(map[orders.UID]string),
	}
}

// Run runs the reconciliation loop until the context is canceled. Event
// source failures never stop the loop and never abandon the cursor: a
// stalled cursor is recoverable, a skipped block is not.
func (reconciler *Reconciler) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if reconciler.config.DisableLoop {
		reconciler.log.Debug("reconciliation loop disabled")
		return nil
	}

	return reconciler.Loop.Run(ctx, func(ctx context.Context) error {
		if !reconciler.shouldAttempt() {
			return nil
		}
		if err := reconciler.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			reconciler.backoff()
			reconciler.log.Warn("reconciliation failed, will retry", zap.Error(err))
		}
		return nil
	})
}

// Close stops the reconciliation loop.
func (reconciler *Reconciler) Close() error {
	reconciler.Loop.Close()
	return nil
}

// shouldAttempt applies exponential backoff after consecutive failures.
func (reconciler *Reconciler) shouldAttempt() bool {
	reconciler.mu.Lock()
	defer reconciler.mu.Unlock()
	return time.Now().After(reconciler.retryAt)
}

func (reconciler *Reconciler) backoff() {
	reconciler.mu.Lock()
	defer reconciler.mu.Unlock()

	reconciler.failures++
	delay := reconciler.config.Interval << uint(reconciler.failures)
	if max := reconciler.config.MaxBackoff; max > 0 && delay > max {
		delay = max
	}
	reconciler.retryAt = time.Now().Add(delay)
}

func (reconciler *Reconciler) resetBackoff() {
	reconciler.mu.Lock()
	defer reconciler.mu.Unlock()
	reconciler.failures = 0
	reconciler.retryAt = time.Time{}
}

// RunOnce reconciles up to BatchSize blocks between the cursor and the
// current head, handling a reorg first if one is detected.
func (reconciler *Reconciler) RunOnce(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := reconciler.loadFaults(ctx); err != nil {
		return Error.Wrap(err)
	}

	head, err := reconciler.source.Head(ctx)
	if err != nil {
		return Error.Wrap(err)
	}
	cursor, err := reconciler.db.Cursor(ctx)
	if err != nil {
		return Error.Wrap(err)
	}

	if head.Number < cursor {
		// The canonical chain is shorter than what we reconciled: a
		// reorg. Roll back to the common ancestor and reprocess.
		ancestor, err := reconciler.source.CommonAncestor(ctx, cursor)
		if err != nil {
			return Error.Wrap(err)
		}
		if err := reconciler.rollback(ctx, ancestor); err != nil {
			return err
		}
		cursor = ancestor
	}

	if head.Number <= cursor {
		reconciler.resetBackoff()
		return nil
	}

	to := head.Number
	if limit := cursor + reconciler.config.BatchSize; to > limit {
		to = limit
	}

	events, err := reconciler.source.EventsInRange(ctx, cursor+1, to)
	if err != nil {
		return Error.Wrap(err)
	}

	perBlock := make(map[int64][]Event)
	for _, event := range events {
		perBlock[event.BlockNumber] = append(perBlock[event.BlockNumber], event)
	}

	for block := cursor + 1; block <= to; block++ {
		if err := reconciler.applyBlock(ctx, block, perBlock[block]); err != nil {
			return err
		}
	}

	reconciler.resetBackoff()
	return nil
}

// applyBlock applies all events of one block and the cursor advancement in
// a single transaction. Malformed events and amount overflows are
// consistency faults: logged and surfaced, the remaining events of the
// block are still applied.
func (reconciler *Reconciler) applyBlock(ctx context.Context, block int64, events []Event) (err error) {
	defer mon.Task()(&ctx)(&err)

	var recorded []orderevents.Event

	err = reconciler.db.ApplyBlock(ctx, block, func(tx BlockTx) error {
		recorded = recorded[:0]

		for _, event := range events {
			switch event.Kind {
			case KindFill:
				r, err := reconciler.applyFill(tx, event)
				if err != nil {
					return err
				}
				recorded = append(recorded, r...)
			case KindInvalidation:
				r, err := reconciler.applyInvalidation(tx, event)
				if err != nil {
					return err
				}
				recorded = append(recorded, r...)
			case KindPresignature:
				if err := reconciler.applyPresignature(tx, event); err != nil {
					return err
				}
			default:
				if err := reconciler.fault(tx, event.UID, "malformed event kind "+string(event.Kind)); err != nil {
					return err
				}
			}
		}

		return reconciler.expireOverdue(tx, &recorded)
	})
	if err != nil {
		// The in-memory fault view may hold writes of the failed
		// transaction; resync it from the store on the next pass.
		reconciler.invalidateFaults()
		return Error.Wrap(err)
	}

	for _, event := range recorded {
		reconciler.events.Record(ctx, event.UID, event.Label)
	}
	return nil
}

func (reconciler *Reconciler) applyFill(tx BlockTx, event Event) (recorded []orderevents.Event, err error) {
	order, err := tx.Order(event.UID)
	if err != nil {
		if orders.ErrNotFound.Has(err) {
			return nil, reconciler.fault(tx, event.UID, "fill references unknown order")
		}
		return nil, err
	}
	if event.ExecutedSellAmount == nil || event.ExecutedBuyAmount == nil {
		return nil, reconciler.fault(tx, event.UID, "fill with missing executed amounts")
	}

	fill := orders.Fill{
		UID:         event.UID,
		SellAmount:  event.ExecutedSellAmount,
		BuyAmount:   event.ExecutedBuyAmount,
		BlockNumber: event.BlockNumber,
		LogIndex:    event.LogIndex,
	}

	applied, err := tx.AddFill(fill)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Redelivered event.
		return nil, nil
	}

	if order.Status.Terminal() {
		// The contract never fills a terminated order; a fresh fill on
		// one is ledger/store divergence.
		if err := tx.RemoveFill(fill); err != nil {
			return nil, err
		}
		return nil, reconciler.fault(tx, event.UID, "fill on terminated order")
	}

	executed, err := tx.ExecutedAmounts(event.UID)
	if err != nil {
		return nil, err
	}

	total := executed.Amount(order.Kind)
	full := order.FullAmount()
	if total.Cmp(full) > 0 {
		// Cumulative fill exceeds the order size: ledger/store
		// divergence. Never clamp; drop the fill and flag the order.
		if err := tx.RemoveFill(fill); err != nil {
			return nil, err
		}
		return nil, reconciler.fault(tx, event.UID, "cumulative fill overflow")
	}

	if total.Cmp(full) == 0 {
		changed, err := tx.Mark(event.UID, orders.StatusFullyExecuted, event.BlockNumber)
		if err != nil {
			return nil, err
		}
		if changed {
			recorded = append(recorded, orderevents.Event{UID: event.UID, Label: orderevents.Traded})
			if err := reconciler.clearFault(tx, event.UID); err != nil {
				return nil, err
			}
		}
	} else {
		recorded = append(recorded, orderevents.Event{UID: event.UID, Label: orderevents.Executed})
	}
	return recorded, nil
}

func (reconciler *Reconciler) applyInvalidation(tx BlockTx, event Event) (recorded []orderevents.Event, err error) {
	_, err = tx.Order(event.UID)
	if err != nil {
		if orders.ErrNotFound.Has(err) {
			// Invalidation of an order never submitted here.
			reconciler.log.Debug("invalidation for unknown order", zap.String("uid", event.UID.Hex()))
			return nil, nil
		}
		return nil, err
	}
	changed, err := tx.Mark(event.UID, orders.StatusInvalidated, event.BlockNumber)
	if err != nil {
		return nil, err
	}
	if !changed {
		// Already terminal; a redundant mark gets no audit row.
		return nil, nil
	}
	if err := reconciler.clearFault(tx, event.UID); err != nil {
		return nil, err
	}
	return []orderevents.Event{{UID: event.UID, Label: orderevents.Invalidated}}, nil
}

func (reconciler *Reconciler) applyPresignature(tx BlockTx, event Event) error {
	order, err := tx.Order(event.UID)
	if err != nil {
		if orders.ErrNotFound.Has(err) {
			reconciler.log.Debug("presignature for unknown order", zap.String("uid", event.UID.Hex()))
			return nil
		}
		return err
	}
	if order.Status != orders.StatusPresignaturePending {
		return nil
	}
	_, err = tx.Mark(event.UID, orders.StatusOpen, event.BlockNumber)
	return err
}

// expireOverdue lazily marks open orders whose validity window has passed.
// Expiry originates from the clock, not the ledger, so the status block
// stays zero and reorg handling never reverts it.
func (reconciler *Reconciler) expireOverdue(tx BlockTx, recorded *[]orderevents.Event) error {
	open, err := tx.OpenOrders()
	if err != nil {
		return err
	}
	now := time.Now()
	for _, order := range open {
		if order.ValidTo.After(now) {
			continue
		}
		changed, err := tx.Mark(order.UID, orders.StatusExpired, 0)
		if err != nil {
			return err
		}
		if changed {
			*recorded = append(*recorded, orderevents.Event{UID: order.UID, Label: orderevents.Expired})
		}
	}
	return nil
}

// rollback undoes fills and ledger-derived status transitions above the
// common ancestor of a reorg. Off-chain statuses (cancellations, expiry)
// are never reverted.
func (reconciler *Reconciler) rollback(ctx context.Context, ancestor int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	reconciler.log.Warn("chain reorg detected, rolling back", zap.Int64("ancestor", ancestor))
	mon.Counter("settlement_reorgs").Inc(1)

	err = reconciler.db.ApplyBlock(ctx, ancestor, func(tx BlockTx) error {
		fills, err := tx.FillsAbove(ancestor)
		if err != nil {
			return err
		}
		affected := make(map[orders.UID]bool)
		for _, fill := range fills {
			if err := tx.RemoveFill(fill); err != nil {
				return err
			}
			affected[fill.UID] = true
		}

		marked, err := tx.OrdersMarkedAbove(ancestor)
		if err != nil {
			return err
		}
		for _, order := range marked {
			affected[order.UID] = true
		}

		for uid := range affected {
			order, err := tx.Order(uid)
			if err != nil {
				return err
			}
			if err := reconciler.revertOrder(tx, order, ancestor); err != nil {
				return err
			}
		}
		return nil
	})
	return Error.Wrap(err)
}

// revertOrder recomputes an order's status from the fills that survived
// the rollback.
func (reconciler *Reconciler) revertOrder(tx BlockTx, order orders.Order, ancestor int64) error {
	if order.StatusBlock <= ancestor && order.StatusBlock != 0 {
		// Status still derives from a canonical block; only the
		// cumulative amounts changed.
		return nil
	}
	switch order.Status {
	case orders.StatusCancelled, orders.StatusExpired:
		// Off-chain origin, never reverted.
		return nil
	}
	if order.StatusBlock == 0 && order.Status != orders.StatusFullyExecuted {
		return nil
	}

	executed, err := tx.ExecutedAmounts(order.UID)
	if err != nil {
		return err
	}

	if executed.Amount(order.Kind).Cmp(order.FullAmount()) >= 0 {
		remaining, err := tx.Fills(order.UID)
		if err != nil {
			return err
		}
		atBlock := int64(0)
		for _, fill := range remaining {
			if fill.BlockNumber > atBlock {
				atBlock = fill.BlockNumber
			}
		}
		return tx.Revert(order.UID, orders.StatusFullyExecuted, atBlock)
	}

	if order.PreSign && executed.Amount(order.Kind).Sign() == 0 {
		// Without surviving fills there is no on-chain evidence the
		// presignature confirmation is canonical either.
		return tx.Revert(order.UID, orders.StatusPresignaturePending, 0)
	}
	return tx.Revert(order.UID, orders.StatusOpen, 0)
}

// fault records a consistency fault for an order, durably through the
// block transaction and in the in-memory view. Faulted orders are
// excluded from solvability until a later ledger event reconciles them.
func (reconciler *Reconciler) fault(tx BlockTx, uid orders.UID, reason string) error {
	if err := tx.SetFault(uid, reason); err != nil {
		return err
	}

	reconciler.mu.Lock()
	defer reconciler.mu.Unlock()

	if _, ok := reconciler.faults[uid]; !ok {
		reconciler.log.Error("consistency fault",
			zap.String("uid", uid.Hex()),
			zap.String("reason", reason))
		mon.Counter("settlement_consistency_faults").Inc(1)
	}
	reconciler.faults[uid] = reason
	return nil
}

func (reconciler *Reconciler) clearFault(tx BlockTx, uid orders.UID) error {
	if err := tx.ClearFault(uid); err != nil {
		return err
	}

	reconciler.mu.Lock()
	defer reconciler.mu.Unlock()
	delete(reconciler.faults, uid)
	return nil
}

// loadFaults populates the in-memory fault view from the store: once at
// startup, and again after a failed block transaction may have left the
// view ahead of the store.
func (reconciler *Reconciler) loadFaults(ctx context.Context) error {
	reconciler.mu.Lock()
	loaded := reconciler.faultsLoaded
	reconciler.mu.Unlock()
	if loaded {
		return nil
	}

	faults, err := reconciler.db.Faults(ctx)
	if err != nil {
		return err
	}
	if faults == nil {
		faults = make(map[orders.UID]string)
	}

	reconciler.mu.Lock()
	reconciler.faults = faults
	reconciler.faultsLoaded = true
	reconciler.mu.Unlock()
	return nil
}

func (reconciler *Reconciler) invalidateFaults() {
	reconciler.mu.Lock()
	defer reconciler.mu.Unlock()
	reconciler.faultsLoaded = false
}

// Faults returns the orders currently flagged with consistency faults and
// the recorded reasons.
func (reconciler *Reconciler) Faults() map[orders.UID]string {
	reconciler.mu.Lock()
	defer reconciler.mu.Unlock()

	faults := make(map[orders.UID]string, len(reconciler.faults))
	for uid, reason := range reconciler.faults {
		faults[uid] = reason
	}
	return faults
}
