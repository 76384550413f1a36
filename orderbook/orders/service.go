// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package orders

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/t0rbik/services/orderbook/orderevents"
)

var (
	mon = monkit.Package()

	// Error is the default error class for the orders package.
	Error = errs.Class("orders")
)

// Service exposes order submission, cancellation and status lookup.
//
// architecture: Service
type Service struct {
	log       *zap.Logger
	db        DB
	validator *Validator
	verifier  SignatureVerifier
	events    *orderevents.Recorder
}

// NewService creates an order Service.
func NewService(log *zap.Logger, db DB, validator *Validator, verifier SignatureVerifier, events *orderevents.Recorder) *Service {
	return &Service{
		log:       log,
		db:        db,
		validator: validator,
		verifier:  verifier,
		events:    events,
	}
}

// Submit validates the order and persists it. The UID is derived from the
// order's economic terms, so submitting the same order twice yields the
// same UID and no second record: a resubmission while the stored order is
// non-terminal is idempotent success.
func (service *Service) Submit(ctx context.Context, order Order) (_ UID, err error) {
	defer mon.Task()(&ctx)(&err)

	// The UID digest dereferences the amount fields, so structural
	// checks must pass before it can be computed.
	if err := service.validator.checkWellFormed(&order); err != nil {
		return UID{}, err
	}
	order.UID = ComputeUID(&order)

	if err := service.validator.Validate(ctx, &order); err != nil {
		return UID{}, err
	}

	order.Status = StatusOpen
	if order.PreSign {
		order.Status = StatusPresignaturePending
	}
	order.StatusBlock = 0

	existing, err := service.db.Get(ctx, order.UID)
	if err == nil {
		if !SameTerms(&existing, &order) {
			// Digest collision between differing terms: a fatal
			// integrity fault given the UID construction.
			mon.Counter("order_digest_collision").Inc(1)
			return UID{}, ErrConflict.New("uid %s maps to different terms", order.UID.Hex())
		}
		if existing.Status.Terminal() {
			return UID{}, ErrFinalized.New("order %s is %s", order.UID.Hex(), existing.Status)
		}
		return order.UID, nil
	}
	if !ErrNotFound.Has(err) {
		return UID{}, Error.Wrap(err)
	}

	if err := service.db.Insert(ctx, order); err != nil {
		return UID{}, Error.Wrap(err)
	}

	service.log.Info("order placed",
		zap.String("uid", order.UID.Hex()),
		zap.String("owner", order.Owner.Hex()),
		zap.String("kind", string(order.Kind)),
		zap.String("class", string(order.Class)))
	service.events.Record(ctx, order.UID, orderevents.Placed)

	return order.UID, nil
}

// Cancel marks the order cancelled. Only the owner may cancel: the
// signature must cover the cancellation digest of the UID. Cancelling an
// already-terminal order is idempotent success.
func (service *Service) Cancel(ctx context.Context, uid UID, signature []byte) (err error) {
	defer mon.Task()(&ctx)(&err)

	order, err := service.db.Get(ctx, uid)
	if err != nil {
		if ErrNotFound.Has(err) {
			return err
		}
		return Error.Wrap(err)
	}

	ok, err := service.verifier.Verify(ctx, CancellationDigest(uid), signature, order.Owner)
	if err != nil {
		return ErrUnavailable.Wrap(err)
	}
	if !ok {
		return ErrUnauthorized.New("cancellation of %s not signed by owner", uid.Hex())
	}

	if order.Status.Terminal() {
		return nil
	}

	if err := service.db.Mark(ctx, uid, StatusCancelled, 0); err != nil {
		return Error.Wrap(err)
	}

	service.log.Info("order cancelled", zap.String("uid", uid.Hex()))
	service.events.Record(ctx, uid, orderevents.Cancelled)

	return nil
}

// Status returns the current lifecycle status of the order.
func (service *Service) Status(ctx context.Context, uid UID) (_ Status, err error) {
	defer mon.Task()(&ctx)(&err)

	order, err := service.db.Get(ctx, uid)
	if err != nil {
		if ErrNotFound.Has(err) {
			return "", err
		}
		return "", Error.Wrap(err)
	}
	return order.Status, nil
}
