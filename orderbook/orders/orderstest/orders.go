// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

// Package orderstest provides order constructors and a stub signature
// verifier for tests.
package orderstest

import (
	"context"
	"math/big"
	"time"

	"github.com/t0rbik/services/orderbook/orders"
	"github.com/t0rbik/services/private/blockchain"
	"github.com/t0rbik/services/private/blockchain/blockchaintest"
)

// Option mutates an order under construction.
type Option func(*orders.Order)

// WithOwner sets the order owner.
func WithOwner(owner blockchain.Address) Option {
	return func(order *orders.Order) { order.Owner = owner }
}

// WithSellToken sets the sell token.
func WithSellToken(token blockchain.Address) Option {
	return func(order *orders.Order) { order.SellToken = token }
}

// WithAmounts sets the sell and buy amounts.
func WithAmounts(sell, buy int64) Option {
	return func(order *orders.Order) {
		order.SellAmount = big.NewInt(sell)
		order.BuyAmount = big.NewInt(buy)
	}
}

// WithFee sets the fee amount.
func WithFee(fee int64) Option {
	return func(order *orders.Order) { order.FeeAmount = big.NewInt(fee) }
}

// WithKind sets the order kind.
func WithKind(kind orders.Kind) Option {
	return func(order *orders.Order) { order.Kind = kind }
}

// WithClass sets the order class.
func WithClass(class orders.Class) Option {
	return func(order *orders.Order) { order.Class = class }
}

// WithValidFor sets the validity window relative to now.
func WithValidFor(d time.Duration) Option {
	return func(order *orders.Order) { order.ValidTo = time.Now().Add(d) }
}

// WithPreSign marks the order as presign-authorized.
func WithPreSign() Option {
	return func(order *orders.Order) {
		order.PreSign = true
		order.Signature = nil
	}
}

// WithStatus sets the initial status.
func WithStatus(status orders.Status) Option {
	return func(order *orders.Order) { order.Status = status }
}

// New constructs a well-formed open sell order with random participants
// and applies the given options. The UID is computed from the final
// terms.
func New(opts ...Option) orders.Order {
	order := orders.Order{
		Owner:      blockchaintest.NewAddress(),
		SellToken:  blockchaintest.NewAddress(),
		BuyToken:   blockchaintest.NewAddress(),
		SellAmount: big.NewInt(10),
		BuyAmount:  big.NewInt(5),
		FeeAmount:  big.NewInt(1),
		Kind:       orders.KindSell,
		Class:      orders.ClassMarket,
		CreatedAt:  time.Now(),
		ValidTo:    time.Now().Add(time.Hour),
		AppData:    blockchaintest.NewHash(),
		Salt:       blockchaintest.NewHash(),
		Signature:  []byte("valid"),
		Status:     orders.StatusOpen,
	}
	for _, opt := range opts {
		opt(&order)
	}
	order.UID = orders.ComputeUID(&order)
	return order
}

// Verifier is a stub signature verifier: any signature equal to "valid"
// verifies, everything else fails. Optionally errors can be injected.
type Verifier struct {
	Err error
}

// Verify implements orders.SignatureVerifier.
func (verifier *Verifier) Verify(ctx context.Context, digest blockchain.Hash, signature []byte, owner blockchain.Address) (bool, error) {
	if verifier.Err != nil {
		return false, verifier.Err
	}
	return string(signature) == "valid", nil
}

// NoFaults is a solvable.FaultSet with no faulted orders.
type NoFaults struct{}

// Faults implements solvable.FaultSet.
func (NoFaults) Faults() map[orders.UID]string { return nil }
