// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

// Package chaintest provides a mutable in-memory chain state provider for
// tests.
package chaintest

import (
	"context"
	"math/big"
	"sync"

	"github.com/t0rbik/services/orderbook/chain"
	"github.com/t0rbik/services/private/blockchain"
)

// Provider is an in-memory chain.Provider with settable balances,
// allowances, head block and injectable errors.
type Provider struct {
	mu         sync.Mutex
	balances   map[key]*big.Int
	allowances map[key]*big.Int
	head       int64
	err        error
	calls      int
}

type key struct {
	token blockchain.Address
	owner blockchain.Address
}

// New creates an empty Provider.
func New() *Provider {
	return &Provider{
		balances:   make(map[key]*big.Int),
		allowances: make(map[key]*big.Int),
	}
}

// SetBalance sets the owner's token balance.
func (provider *Provider) SetBalance(token, owner blockchain.Address, amount *big.Int) {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	provider.balances[key{token, owner}] = new(big.Int).Set(amount)
}

// SetAllowance sets the owner's allowance for the token, regardless of
// spender.
func (provider *Provider) SetAllowance(token, owner blockchain.Address, amount *big.Int) {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	provider.allowances[key{token, owner}] = new(big.Int).Set(amount)
}

// SetHead sets the current head block number.
func (provider *Provider) SetHead(number int64) {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	provider.head = number
}

// SetError makes every subsequent call fail with the given error until
// reset with nil.
func (provider *Provider) SetError(err error) {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	provider.err = err
}

// Calls returns the number of balance and allowance lookups served.
func (provider *Provider) Calls() int {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	return provider.calls
}

// BalanceOf implements chain.Provider.
func (provider *Provider) BalanceOf(ctx context.Context, token, owner blockchain.Address) (*big.Int, error) {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	if provider.err != nil {
		return nil, chain.ErrUnavailable.Wrap(provider.err)
	}
	provider.calls++
	if amount, ok := provider.balances[key{token, owner}]; ok {
		return new(big.Int).Set(amount), nil
	}
	return new(big.Int), nil
}

// AllowanceOf implements chain.Provider.
func (provider *Provider) AllowanceOf(ctx context.Context, token, owner, spender blockchain.Address) (*big.Int, error) {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	if provider.err != nil {
		return nil, chain.ErrUnavailable.Wrap(provider.err)
	}
	provider.calls++
	if amount, ok := provider.allowances[key{token, owner}]; ok {
		return new(big.Int).Set(amount), nil
	}
	return new(big.Int), nil
}

// CurrentBlock implements chain.Provider.
func (provider *Provider) CurrentBlock(ctx context.Context) (int64, error) {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	if provider.err != nil {
		return 0, chain.ErrUnavailable.Wrap(provider.err)
	}
	return provider.head, nil
}
