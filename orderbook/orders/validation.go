// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package orders

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeebo/errs"

	"github.com/t0rbik/services/orderbook/chain"
	"github.com/t0rbik/services/private/blockchain"
)

// Rejection reasons returned by validation and cancellation. These are
// returned synchronously to the caller and never retried automatically.
var (
	// ErrMalformed is returned for structurally invalid orders.
	ErrMalformed = errs.Class("malformed order")
	// ErrInvalidSignature is returned when the order signature does not
	// recover to the owner.
	ErrInvalidSignature = errs.Class("invalid signature")
	// ErrInsufficientFee is returned when the fee is below the protocol
	// minimum for the order class.
	ErrInsufficientFee = errs.Class("insufficient fee")
	// ErrInsufficientBalance is returned when the owner does not hold the
	// sell amount.
	ErrInsufficientBalance = errs.Class("insufficient balance")
	// ErrInsufficientAllowance is returned when the settlement contract
	// has not been approved for the sell amount.
	ErrInsufficientAllowance = errs.Class("insufficient allowance")
	// ErrUnauthorized is returned when a cancellation is not signed by
	// the order owner.
	ErrUnauthorized = errs.Class("unauthorized")
	// ErrUnavailable is returned when an external collaborator timed out
	// or failed; the operation is rejected rather than decided on stale
	// data.
	ErrUnavailable = errs.Class("unavailable")
)

// SignatureVerifier checks that a signature over a digest was produced by
// the owner. The cryptographic primitives live outside the order book.
type SignatureVerifier interface {
	Verify(ctx context.Context, digest blockchain.Hash, signature []byte, owner blockchain.Address) (bool, error)
}

// FeePolicy defines the protocol minimum fee per order class.
type FeePolicy struct {
	MarketMinimum decimal.Decimal
	LimitMinimum  decimal.Decimal
}

// DefaultFeePolicy requires a positive fee on market orders and lets limit
// orders ride fee-less; their fee is taken from the surplus at execution.
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		MarketMinimum: decimal.NewFromInt(1),
		LimitMinimum:  decimal.Zero,
	}
}

// Minimum returns the minimum fee for the class.
func (policy FeePolicy) Minimum(class Class) decimal.Decimal {
	if class == ClassLimit {
		return policy.LimitMinimum
	}
	return policy.MarketMinimum
}

// Validator is a stateless rule checker: given an order and live ledger
// state it decides accept or reject. It never mutates durable state, which
// keeps retry semantics clean; accepted orders are persisted by the
// service as a separate step.
type Validator struct {
	verifier   SignatureVerifier
	chainState chain.Provider
	settlement blockchain.Address
	fees       FeePolicy
}

// NewValidator creates a Validator.
func NewValidator(verifier SignatureVerifier, chainState chain.Provider, settlement blockchain.Address, fees FeePolicy) *Validator {
	return &Validator{
		verifier:   verifier,
		chainState: chainState,
		settlement: settlement,
		fees:       fees,
	}
}

// Validate checks the order against protocol rules and current ledger
// state, short-circuiting on the first failure. The balance and allowance
// checks are advisory at submission time; the solvable order cache
// re-evaluates them continuously.
func (validator *Validator) Validate(ctx context.Context, order *Order) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := validator.checkWellFormed(order); err != nil {
		return err
	}
	if err := validator.checkSignature(ctx, order); err != nil {
		return err
	}
	if err := validator.checkFee(order); err != nil {
		return err
	}
	return validator.checkFunds(ctx, order)
}

func (validator *Validator) checkWellFormed(order *Order) error {
	switch {
	case order.SellAmount == nil || order.BuyAmount == nil || order.FeeAmount == nil:
		return ErrMalformed.New("missing amount")
	case order.SellAmount.Sign() <= 0:
		return ErrMalformed.New("sell amount must be positive")
	case order.BuyAmount.Sign() <= 0:
		return ErrMalformed.New("buy amount must be positive")
	case order.FeeAmount.Sign() < 0:
		return ErrMalformed.New("fee amount must not be negative")
	case order.SellToken == order.BuyToken:
		return ErrMalformed.New("sell and buy token are the same")
	case order.Owner.IsZero():
		return ErrMalformed.New("missing owner")
	case !order.ValidTo.After(time.Now()):
		return ErrMalformed.New("valid-to %s is not in the future", order.ValidTo.UTC())
	case order.Kind != KindSell && order.Kind != KindBuy:
		return ErrMalformed.New("unknown order kind %q", order.Kind)
	case order.Class != ClassMarket && order.Class != ClassLimit:
		return ErrMalformed.New("unknown order class %q", order.Class)
	}
	return nil
}

func (validator *Validator) checkSignature(ctx context.Context, order *Order) error {
	if order.PreSign {
		// Presign orders are authorized by an on-chain transaction that
		// the reconciler observes; there is no signature to verify here.
		return nil
	}
	ok, err := validator.verifier.Verify(ctx, blockchain.Hash(order.UID), order.Signature, order.Owner)
	if err != nil {
		return ErrUnavailable.Wrap(err)
	}
	if !ok {
		return ErrInvalidSignature.New("signature does not recover to owner %s", order.Owner.Hex())
	}
	return nil
}

func (validator *Validator) checkFee(order *Order) error {
	fee := decimal.NewFromBigInt(order.FeeAmount, 0)
	minimum := validator.fees.Minimum(order.Class)
	if fee.Cmp(minimum) < 0 {
		return ErrInsufficientFee.New("fee %s below minimum %s for %s orders", fee, minimum, order.Class)
	}
	return nil
}

func (validator *Validator) checkFunds(ctx context.Context, order *Order) error {
	balance, err := validator.chainState.BalanceOf(ctx, order.SellToken, order.Owner)
	if err != nil {
		return ErrUnavailable.Wrap(err)
	}
	if balance.Cmp(order.SellAmount) < 0 {
		return ErrInsufficientBalance.New("owner holds %s of %s, needs %s",
			balance, order.SellToken.Hex(), order.SellAmount)
	}

	allowance, err := validator.chainState.AllowanceOf(ctx, order.SellToken, order.Owner, validator.settlement)
	if err != nil {
		return ErrUnavailable.Wrap(err)
	}
	if allowance.Cmp(order.SellAmount) < 0 {
		return ErrInsufficientAllowance.New("settlement contract approved for %s of %s, needs %s",
			allowance, order.SellToken.Hex(), order.SellAmount)
	}
	return nil
}
