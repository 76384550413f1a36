// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

// Package blockchain provides the primitive chain types shared across the
// order book: addresses, hashes and token amounts.
package blockchain

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/zeebo/errs"
)

// Error is the default error class for blockchain package.
var Error = errs.Class("blockchain")

// Hash is a wrapper for an ethereum 32-byte hash.
type Hash common.Hash

// HashLength is the expected length of a Hash in bytes.
const HashLength = common.HashLength

// BytesToHash converts raw bytes to a Hash.
func BytesToHash(b []byte) (Hash, error) {
	if len(b) != HashLength {
		return Hash{}, Error.New("invalid hash length %d", len(b))
	}
	return Hash(common.BytesToHash(b)), nil
}

// Hex returns hex representation of the hash.
func (hash Hash) Hex() string { return common.Hash(hash).Hex() }

// Bytes returns the hash as a byte slice.
func (hash Hash) Bytes() []byte { return common.Hash(hash).Bytes() }

// IsZero returns whether the hash is all zeroes.
func (hash Hash) IsZero() bool { return hash == Hash{} }

// MarshalJSON implements json.Marshaler.
func (hash Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(common.Hash(hash).Hex())
}

// UnmarshalJSON implements json.Unmarshaler.
func (hash *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return Error.Wrap(err)
	}
	*hash = Hash(common.HexToHash(s))
	return nil
}

// Address is a wrapper for an ethereum account address.
type Address common.Address

// AddressLength is the expected length of an Address in bytes.
const AddressLength = common.AddressLength

// BytesToAddress converts raw bytes to an Address.
func BytesToAddress(b []byte) (Address, error) {
	if len(b) != AddressLength {
		return Address{}, Error.New("invalid address length %d", len(b))
	}
	return Address(common.BytesToAddress(b)), nil
}

// HexToAddress parses a hex string into an Address.
func HexToAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return Address{}, Error.New("invalid address %q", s)
	}
	return Address(common.HexToAddress(s)), nil
}

// Hex returns hex representation of the address.
func (address Address) Hex() string { return common.Address(address).Hex() }

// Bytes returns the address as a byte slice.
func (address Address) Bytes() []byte { return common.Address(address).Bytes() }

// IsZero returns whether the address is all zeroes.
func (address Address) IsZero() bool { return address == Address{} }

// MarshalJSON implements json.Marshaler.
func (address Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(common.Address(address).Hex())
}

// UnmarshalJSON implements json.Unmarshaler.
func (address *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return Error.Wrap(err)
	}
	if !common.IsHexAddress(s) {
		return Error.New("invalid address %q", s)
	}
	*address = Address(common.HexToAddress(s))
	return nil
}

// AmountToString encodes a token amount as a decimal string. Nil encodes
// as "0".
func AmountToString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

// AmountFromString decodes a token amount from a decimal string.
func AmountFromString(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, Error.New("invalid amount %q", s)
	}
	return amount, nil
}
