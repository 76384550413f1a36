// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

// Package blockchaintest provides helpers for generating random chain
// primitives in tests.
package blockchaintest

import (
	"storj.io/common/testrand"

	"github.com/t0rbik/services/private/blockchain"
)

// NewHash creates a new random Hash.
func NewHash() blockchain.Hash {
	hash, err := blockchain.BytesToHash(testrand.Bytes(blockchain.HashLength))
	if err != nil {
		panic(err)
	}
	return hash
}

// NewAddress creates a new random Address.
func NewAddress() blockchain.Address {
	address, err := blockchain.BytesToAddress(testrand.Bytes(blockchain.AddressLength))
	if err != nil {
		panic(err)
	}
	return address
}
