// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package orders

import (
	"context"
	"math/big"

	"github.com/zeebo/errs"
)

var (
	// ErrNotFound is returned when the requested order does not exist.
	ErrNotFound = errs.Class("order not found")
	// ErrConflict is returned when an insert collides with a stored order
	// under the same UID but different economic terms. Given the UID
	// construction this must never happen; an observation is an integrity
	// fault of the store.
	ErrConflict = errs.Class("order digest conflict")
	// ErrFinalized is returned when an insert references a UID whose
	// stored order already reached a terminal status.
	ErrFinalized = errs.Class("order already finalized")
)

// Fill is a ledger-observed partial or full execution against an order.
// Fills are keyed by (order UID, block number, log index) so redelivered
// events replay idempotently.
type Fill struct {
	UID         UID
	SellAmount  *big.Int
	BuyAmount   *big.Int
	BlockNumber int64
	LogIndex    int
}

// Executed holds the cumulative executed amounts of an order.
type Executed struct {
	SellAmount *big.Int
	BuyAmount  *big.Int
}

// Amount returns the executed amount on the side the order kind measures.
func (executed Executed) Amount(kind Kind) *big.Int {
	if kind == KindBuy {
		return executed.BuyAmount
	}
	return executed.SellAmount
}

// DB is the durable record of every order and its current lifecycle status;
// the single source of truth for what was ever submitted.
//
// architecture: Database
type DB interface {
	// Insert persists a new order. Inserting a UID that already exists
	// with identical terms in a non-terminal state is a no-op; with a
	// terminal state it fails with ErrFinalized; with differing terms it
	// fails with ErrConflict.
	Insert(ctx context.Context, order Order) error
	// Get returns the order with the given UID.
	Get(ctx context.Context, uid UID) (Order, error)
	// Mark transitions the order to the given status. A transition
	// requested while the current status is terminal is an idempotent
	// no-op, because ledger events may be redelivered.
	Mark(ctx context.Context, uid UID, status Status, atBlock int64) error
	// ListStatus returns all orders with the given status in store
	// insertion order.
	ListStatus(ctx context.Context, status Status) ([]Order, error)
	// ExecutedAmounts returns the cumulative executed amounts of an order.
	ExecutedAmounts(ctx context.Context, uid UID) (Executed, error)
	// ListFills returns all recorded fills of an order ordered by block
	// number and log index.
	ListFills(ctx context.Context, uid UID) ([]Fill, error)
}
