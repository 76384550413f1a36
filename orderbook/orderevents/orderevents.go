// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

// Package orderevents keeps a timestamped audit trail of order lifecycle
// transitions for debugging and replay. The trail is advisory: recording
// failures are logged and dropped, they never block the order path.
package orderevents

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/t0rbik/services/orderbook/orders"
)

var (
	mon = monkit.Package()

	// Error is the default error class for the orderevents package.
	Error = errs.Class("orderevents")
)

// Label tags a lifecycle transition of an order.
type Label string

const (
	// Placed marks acceptance of a new order.
	Placed Label = "placed"
	// Cancelled marks an off-chain cancellation by the owner.
	Cancelled Label = "cancelled"
	// Executed marks a ledger-observed fill.
	Executed Label = "executed"
	// Traded marks an order reaching its full executed amount.
	Traded Label = "traded"
	// Invalidated marks an on-chain revocation.
	Invalidated Label = "invalidated"
	// Expired marks an order outliving its validity window.
	Expired Label = "expired"
)

// Event is one audit trail row.
type Event struct {
	UID       orders.UID
	Label     Label
	Timestamp time.Time
}

// DB persists the audit trail.
//
// architecture: Database
type DB interface {
	// Insert appends an event to the trail.
	Insert(ctx context.Context, event Event) error
	// List returns all events of an order in insertion order.
	List(ctx context.Context, uid orders.UID) ([]Event, error)
	// DeleteBefore removes events older than the given time.
	DeleteBefore(ctx context.Context, before time.Time) error
}

// Recorder writes audit events to the DB and, when configured, broadcasts
// them to downstream consumers.
type Recorder struct {
	log       *zap.Logger
	db        DB
	publisher *Publisher
}

// NewRecorder creates a Recorder. The publisher may be nil when event
// broadcasting is not configured.
func NewRecorder(log *zap.Logger, db DB, publisher *Publisher) *Recorder {
	return &Recorder{
		log:       log,
		db:        db,
		publisher: publisher,
	}
}

// Record stores a lifecycle event. Failures are logged, never returned.
func (recorder *Recorder) Record(ctx context.Context, uid orders.UID, label Label) {
	defer mon.Task()(&ctx)(nil)

	event := Event{
		UID:       uid,
		Label:     label,
		Timestamp: time.Now().UTC(),
	}
	if err := recorder.db.Insert(ctx, event); err != nil {
		recorder.log.Warn("failed to insert order event",
			zap.String("uid", uid.Hex()),
			zap.String("label", string(label)),
			zap.Error(err))
		mon.Counter("orderevents_insert_failed").Inc(1)
	}
	if recorder.publisher != nil {
		if err := recorder.publisher.Publish(ctx, event); err != nil {
			recorder.log.Warn("failed to publish order event",
				zap.String("uid", uid.Hex()),
				zap.String("label", string(label)),
				zap.Error(err))
			mon.Counter("orderevents_publish_failed").Inc(1)
		}
	}
}
