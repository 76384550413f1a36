// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package orderbook

import (
	"github.com/t0rbik/services/orderbook/orderevents"
	"github.com/t0rbik/services/orderbook/orders"
	"github.com/t0rbik/services/orderbook/settlement"
)

// DB is the master database of the order book.
//
// architecture: Master Database
type DB interface {
	// Orders returns the database for orders and fills.
	Orders() orders.DB
	// Settlement returns the database for the ledger cursor and
	// per-block transactions.
	Settlement() settlement.DB
	// OrderEvents returns the database for the order lifecycle audit
	// trail.
	OrderEvents() orderevents.DB

	// Close closes the database.
	Close() error
}
