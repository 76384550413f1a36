// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

// Package settlement reconciles settlement-contract events observed on the
// ledger with the order store, keeping off-chain order status consistent
// with on-chain truth.
package settlement

import (
	"math/big"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"github.com/t0rbik/services/orderbook/orders"
	"github.com/t0rbik/services/private/blockchain"
)

var (
	mon = monkit.Package()

	// Error is the default error class for the settlement package.
	Error = errs.Class("settlement")
	// ErrConsistency marks internal invariant violations observed while
	// applying ledger events, e.g. a cumulative fill exceeding the order
	// size. These are never silently corrected.
	ErrConsistency = errs.Class("consistency fault")
)

// EventKind discriminates the closed set of settlement-contract events.
type EventKind string

const (
	// KindFill is a partial or full execution against an order.
	KindFill EventKind = "fill"
	// KindInvalidation is an on-chain revocation of an order.
	KindInvalidation EventKind = "invalidation"
	// KindPresignature is an on-chain confirmation of an order's
	// presignature.
	KindPresignature EventKind = "presignature"
)

// Event is a settlement-contract event observed on the ledger. Exactly the
// fields for its Kind are populated; the reconciler dispatches on Kind
// exhaustively.
type Event struct {
	Kind        EventKind  `json:"kind"`
	UID         orders.UID `json:"uid"`
	BlockNumber int64      `json:"blockNumber"`
	LogIndex    int        `json:"logIndex"`

	// Fill events only.
	ExecutedSellAmount *big.Int `json:"executedSellAmount,omitempty"`
	ExecutedBuyAmount  *big.Int `json:"executedBuyAmount,omitempty"`
}

// Header identifies a ledger block.
type Header struct {
	Hash      blockchain.Hash `json:"hash"`
	Number    int64           `json:"number"`
	Timestamp time.Time       `json:"timestamp"`
}
