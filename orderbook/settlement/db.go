// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package settlement

import (
	"context"

	"github.com/t0rbik/services/orderbook/orders"
)

// CursorUnset is the cursor value before any block has been reconciled.
const CursorUnset = int64(-1)

// DB exposes the transactional surface the reconciler needs: the ledger
// cursor and per-block transactions over orders and fills.
//
// architecture: Database
type DB interface {
	// Cursor returns the last block number fully reconciled, or
	// CursorUnset when reconciliation has not started.
	Cursor(ctx context.Context) (int64, error)
	// ApplyBlock runs fn inside a single transaction and, if fn
	// succeeds, advances the cursor to the given block as the final
	// write of that same transaction. A crash mid-block therefore leaves
	// the store consistent with the previous cursor; no partial-block
	// application ever becomes visible. The block may be lower than the
	// current cursor when rolling back a reorg.
	ApplyBlock(ctx context.Context, block int64, fn func(tx BlockTx) error) error
	// Faults returns the durably recorded consistency faults, so
	// exclusions survive process restarts.
	Faults(ctx context.Context) (map[orders.UID]string, error)
}

// BlockTx is the view of the order store inside one per-block transaction.
// Reads observe the transaction's own writes.
type BlockTx interface {
	// Order returns the order with the given UID.
	Order(uid orders.UID) (orders.Order, error)
	// Mark transitions the order's status, honoring the terminal-state
	// invariant: transitions out of a terminal status are idempotent
	// no-ops. It reports whether the status actually changed, so callers
	// can tell a real transition apart from a redundant one.
	Mark(uid orders.UID, status orders.Status, atBlock int64) (changed bool, err error)
	// Revert forces the order's status, bypassing the terminal-state
	// invariant. Only reorg rollback may use it, to undo transitions
	// that existed solely on an abandoned branch.
	Revert(uid orders.UID, status orders.Status, atBlock int64) error
	// AddFill records a fill. Re-adding an already recorded
	// (uid, block, log index) key reports applied=false and changes
	// nothing, so redelivered events replay idempotently.
	AddFill(fill orders.Fill) (applied bool, err error)
	// ExecutedAmounts returns the cumulative executed amounts of an
	// order, including fills applied earlier in this transaction.
	ExecutedAmounts(uid orders.UID) (orders.Executed, error)
	// Fills returns all recorded fills of an order ordered by block
	// number and log index.
	Fills(uid orders.UID) ([]orders.Fill, error)
	// FillsAbove returns all fills with block number strictly greater
	// than the given block, across all orders.
	FillsAbove(block int64) ([]orders.Fill, error)
	// RemoveFill deletes a recorded fill.
	RemoveFill(fill orders.Fill) error
	// OrdersMarkedAbove returns all orders whose status originates from
	// a block strictly greater than the given block.
	OrdersMarkedAbove(block int64) ([]orders.Order, error)
	// OpenOrders returns all orders with status open, in store insertion
	// order.
	OpenOrders() ([]orders.Order, error)
	// SetFault durably flags the order with a consistency fault.
	SetFault(uid orders.UID, reason string) error
	// ClearFault removes a durably recorded consistency fault.
	ClearFault(uid orders.UID) error
}
