// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

// Package orders implements the order lifecycle model of the batch-auction
// order book: order identity, validation and the submission surface.
package orders

import (
	"encoding/binary"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/t0rbik/services/private/blockchain"
)

// Kind defines which side of an order is exact.
type Kind string

const (
	// KindSell orders sell an exact amount of the sell token.
	KindSell Kind = "sell"
	// KindBuy orders buy an exact amount of the buy token.
	KindBuy Kind = "buy"
)

// Class defines the pricing class of an order.
type Class string

const (
	// ClassMarket orders execute against the current market price.
	ClassMarket Class = "market"
	// ClassLimit orders carry a user supplied limit price.
	ClassLimit Class = "limit"
)

// UID uniquely identifies an order. It is a digest of the order's economic
// terms, so two submissions with identical terms collide to the same UID.
type UID blockchain.Hash

// Hex returns hex representation of the UID.
func (uid UID) Hex() string { return blockchain.Hash(uid).Hex() }

// Bytes returns the UID as a byte slice.
func (uid UID) Bytes() []byte { return blockchain.Hash(uid).Bytes() }

// IsZero returns whether the UID is all zeroes.
func (uid UID) IsZero() bool { return uid == UID{} }

// MarshalJSON implements json.Marshaler.
func (uid UID) MarshalJSON() ([]byte, error) {
	return blockchain.Hash(uid).MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
func (uid *UID) UnmarshalJSON(data []byte) error {
	return (*blockchain.Hash)(uid).UnmarshalJSON(data)
}

// Order is a signed intent to trade sell token for buy token, settled in a
// batch auction on chain.
type Order struct {
	UID UID

	Owner     blockchain.Address
	SellToken blockchain.Address
	BuyToken  blockchain.Address

	SellAmount *big.Int
	BuyAmount  *big.Int
	FeeAmount  *big.Int

	Kind  Kind
	Class Class

	CreatedAt time.Time
	ValidTo   time.Time

	AppData blockchain.Hash
	Salt    blockchain.Hash

	// PreSign marks orders authorized by an on-chain presignature rather
	// than an off-chain signature.
	PreSign   bool
	Signature []byte

	Status Status
	// StatusBlock is the ledger block that produced the current status.
	// Zero for statuses of off-chain origin (placement, cancellation,
	// expiry), which are never reverted by reorg handling.
	StatusBlock int64
}

// FullAmount returns the amount that has to be cumulatively executed for the
// order to be fully executed: the sell amount for sell orders and the buy
// amount for buy orders.
func (order *Order) FullAmount() *big.Int {
	if order.Kind == KindBuy {
		return order.BuyAmount
	}
	return order.SellAmount
}

// ComputeUID derives the order UID from the order's economic terms. The
// digest is a pure function of the terms and is never recomputed after
// creation.
func ComputeUID(order *Order) UID {
	var validTo, kindClass [9]byte
	binary.BigEndian.PutUint64(validTo[:8], uint64(order.ValidTo.Unix()))
	switch order.Kind {
	case KindBuy:
		kindClass[0] = 1
	}
	switch order.Class {
	case ClassLimit:
		kindClass[1] = 1
	}
	if order.PreSign {
		kindClass[2] = 1
	}

	digest := crypto.Keccak256(
		order.Owner.Bytes(),
		order.SellToken.Bytes(),
		order.BuyToken.Bytes(),
		common.LeftPadBytes(order.SellAmount.Bytes(), 32),
		common.LeftPadBytes(order.BuyAmount.Bytes(), 32),
		common.LeftPadBytes(order.FeeAmount.Bytes(), 32),
		validTo[:8],
		kindClass[:3],
		order.AppData.Bytes(),
		order.Salt.Bytes(),
	)

	var uid UID
	copy(uid[:], digest)
	return uid
}

// CancellationDigest returns the digest an owner signs to authorize
// cancelling the order with the given UID.
func CancellationDigest(uid UID) blockchain.Hash {
	digest := crypto.Keccak256([]byte("cancel"), uid.Bytes())
	var hash blockchain.Hash
	copy(hash[:], digest)
	return hash
}

// SameTerms reports whether two orders agree on every economic term. UIDs
// are digests of the terms, so two records under one UID disagreeing on
// terms indicate a digest collision.
func SameTerms(a, b *Order) bool {
	return a.Owner == b.Owner &&
		a.SellToken == b.SellToken &&
		a.BuyToken == b.BuyToken &&
		a.SellAmount.Cmp(b.SellAmount) == 0 &&
		a.BuyAmount.Cmp(b.BuyAmount) == 0 &&
		a.FeeAmount.Cmp(b.FeeAmount) == 0 &&
		a.Kind == b.Kind &&
		a.Class == b.Class &&
		a.ValidTo.Unix() == b.ValidTo.Unix() &&
		a.AppData == b.AppData &&
		a.Salt == b.Salt &&
		a.PreSign == b.PreSign
}
