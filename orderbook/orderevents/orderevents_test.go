// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package orderevents_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
	"go.uber.org/zap/zaptest"
	"storj.io/common/testcontext"

	"github.com/t0rbik/services/orderbook"
	"github.com/t0rbik/services/orderbook/orderevents"
	"github.com/t0rbik/services/orderbook/orders"
	"github.com/t0rbik/services/orderbook/orders/orderstest"
	"github.com/t0rbik/services/orderbookdb/orderbookdbtest"
)

func TestRecorder(t *testing.T) {
	orderbookdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db orderbook.DB) {
		recorder := orderevents.NewRecorder(zaptest.NewLogger(t), db.OrderEvents(), nil)

		order := orderstest.New()
		recorder.Record(ctx, order.UID, orderevents.Placed)
		recorder.Record(ctx, order.UID, orderevents.Executed)

		events, err := db.OrderEvents().List(ctx, order.UID)
		require.NoError(t, err)
		require.Len(t, events, 2)
		require.Equal(t, orderevents.Placed, events[0].Label)
		require.Equal(t, orderevents.Executed, events[1].Label)
		require.False(t, events[0].Timestamp.After(events[1].Timestamp))
	})
}

type brokenDB struct{}

func (brokenDB) Insert(ctx context.Context, event orderevents.Event) error {
	return errs.New("disk on fire")
}

func (brokenDB) List(ctx context.Context, uid orders.UID) ([]orderevents.Event, error) {
	return nil, errs.New("disk on fire")
}

func (brokenDB) DeleteBefore(ctx context.Context, before time.Time) error {
	return errs.New("disk on fire")
}

func TestRecorderDropsFailures(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	// The trail is advisory; a broken trail store must never panic or
	// surface errors into the order path.
	recorder := orderevents.NewRecorder(zaptest.NewLogger(t), brokenDB{}, nil)
	recorder.Record(ctx, orderstest.New().UID, orderevents.Placed)
}
