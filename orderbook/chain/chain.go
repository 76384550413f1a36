// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

// Package chain defines access to live ledger state: token balances,
// allowances and the current head block.
package chain

import (
	"context"
	"math/big"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"github.com/t0rbik/services/private/blockchain"
)

var (
	mon = monkit.Package()

	// Error is the default error class for the chain package.
	Error = errs.Class("chain")
	// ErrUnavailable wraps timeouts and failures of the chain node.
	// Callers must fail the operation rather than proceed on stale or
	// default data.
	ErrUnavailable = errs.Class("chain state unavailable")
)

// Provider exposes the ledger state consumed by order validation and the
// solvable order cache.
//
// architecture: Service
type Provider interface {
	// BalanceOf returns the token balance of the owner.
	BalanceOf(ctx context.Context, token, owner blockchain.Address) (*big.Int, error)
	// AllowanceOf returns the amount the owner has approved the spender
	// to transfer.
	AllowanceOf(ctx context.Context, token, owner, spender blockchain.Address) (*big.Int, error)
	// CurrentBlock returns the number of the current head block.
	CurrentBlock(ctx context.Context) (int64, error)
}
