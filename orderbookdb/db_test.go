// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package orderbookdb_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"storj.io/common/testcontext"

	"github.com/t0rbik/services/orderbook"
	"github.com/t0rbik/services/orderbook/orderevents"
	"github.com/t0rbik/services/orderbook/orders"
	"github.com/t0rbik/services/orderbook/orders/orderstest"
	"github.com/t0rbik/services/orderbook/settlement"
	"github.com/t0rbik/services/orderbookdb/orderbookdbtest"
)

func TestOrdersInsertGet(t *testing.T) {
	orderbookdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db orderbook.DB) {
		order := orderstest.New()

		err := db.Orders().Insert(ctx, order)
		require.NoError(t, err)

		got, err := db.Orders().Get(ctx, order.UID)
		require.NoError(t, err)
		require.Equal(t, order.UID, got.UID)
		require.Equal(t, order.Owner, got.Owner)
		require.Equal(t, 0, got.SellAmount.Cmp(order.SellAmount))
		require.Equal(t, 0, got.BuyAmount.Cmp(order.BuyAmount))
		require.Equal(t, orders.StatusOpen, got.Status)
		require.EqualValues(t, 0, got.StatusBlock)

		_, err = db.Orders().Get(ctx, orderstest.New().UID)
		require.True(t, orders.ErrNotFound.Has(err))
	})
}

func TestOrdersInsertDuplicate(t *testing.T) {
	orderbookdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db orderbook.DB) {
		order := orderstest.New()

		require.NoError(t, db.Orders().Insert(ctx, order))

		// Same terms in a non-terminal state is a no-op.
		require.NoError(t, db.Orders().Insert(ctx, order))

		// Same UID, differing terms is an integrity fault.
		conflicting := order
		conflicting.BuyAmount = big.NewInt(999)
		err := db.Orders().Insert(ctx, conflicting)
		require.True(t, orders.ErrConflict.Has(err))

		// Same terms after reaching a terminal status is rejected.
		require.NoError(t, db.Orders().Mark(ctx, order.UID, orders.StatusCancelled, 0))
		err = db.Orders().Insert(ctx, order)
		require.True(t, orders.ErrFinalized.Has(err))
	})
}

func TestOrdersMark(t *testing.T) {
	orderbookdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db orderbook.DB) {
		order := orderstest.New()
		require.NoError(t, db.Orders().Insert(ctx, order))

		require.NoError(t, db.Orders().Mark(ctx, order.UID, orders.StatusFullyExecuted, 42))

		got, err := db.Orders().Get(ctx, order.UID)
		require.NoError(t, err)
		require.Equal(t, orders.StatusFullyExecuted, got.Status)
		require.EqualValues(t, 42, got.StatusBlock)

		// Marking a terminal order again is a silent no-op.
		require.NoError(t, db.Orders().Mark(ctx, order.UID, orders.StatusCancelled, 50))

		got, err = db.Orders().Get(ctx, order.UID)
		require.NoError(t, err)
		require.Equal(t, orders.StatusFullyExecuted, got.Status)
		require.EqualValues(t, 42, got.StatusBlock)

		err = db.Orders().Mark(ctx, orderstest.New().UID, orders.StatusOpen, 0)
		require.True(t, orders.ErrNotFound.Has(err))
	})
}

func TestOrdersListStatus(t *testing.T) {
	orderbookdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db orderbook.DB) {
		first := orderstest.New()
		second := orderstest.New()
		third := orderstest.New()
		for _, order := range []orders.Order{first, second, third} {
			require.NoError(t, db.Orders().Insert(ctx, order))
		}
		require.NoError(t, db.Orders().Mark(ctx, second.UID, orders.StatusCancelled, 0))

		open, err := db.Orders().ListStatus(ctx, orders.StatusOpen)
		require.NoError(t, err)
		require.Len(t, open, 2)
		// Insertion order is preserved.
		require.Equal(t, first.UID, open[0].UID)
		require.Equal(t, third.UID, open[1].UID)

		cancelled, err := db.Orders().ListStatus(ctx, orders.StatusCancelled)
		require.NoError(t, err)
		require.Len(t, cancelled, 1)
		require.Equal(t, second.UID, cancelled[0].UID)
	})
}

func TestSettlementCursor(t *testing.T) {
	orderbookdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db orderbook.DB) {
		cursor, err := db.Settlement().Cursor(ctx)
		require.NoError(t, err)
		require.Equal(t, settlement.CursorUnset, cursor)

		err = db.Settlement().ApplyBlock(ctx, 7, func(tx settlement.BlockTx) error {
			return nil
		})
		require.NoError(t, err)

		cursor, err = db.Settlement().Cursor(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 7, cursor)
	})
}

func TestSettlementApplyBlockAtomic(t *testing.T) {
	orderbookdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db orderbook.DB) {
		order := orderstest.New()
		require.NoError(t, db.Orders().Insert(ctx, order))

		boom := orders.ErrNotFound.New("boom")
		err := db.Settlement().ApplyBlock(ctx, 5, func(tx settlement.BlockTx) error {
			applied, err := tx.AddFill(orders.Fill{
				UID:         order.UID,
				SellAmount:  big.NewInt(3),
				BuyAmount:   big.NewInt(1),
				BlockNumber: 5,
				LogIndex:    0,
			})
			require.NoError(t, err)
			require.True(t, applied)
			changed, err := tx.Mark(order.UID, orders.StatusFullyExecuted, 5)
			require.NoError(t, err)
			require.True(t, changed)
			return boom
		})
		require.Error(t, err)

		// The failed block left no trace: no fill, no status change, no
		// cursor movement.
		fills, err := db.Orders().ListFills(ctx, order.UID)
		require.NoError(t, err)
		require.Empty(t, fills)

		got, err := db.Orders().Get(ctx, order.UID)
		require.NoError(t, err)
		require.Equal(t, orders.StatusOpen, got.Status)

		cursor, err := db.Settlement().Cursor(ctx)
		require.NoError(t, err)
		require.Equal(t, settlement.CursorUnset, cursor)
	})
}

func TestSettlementFills(t *testing.T) {
	orderbookdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db orderbook.DB) {
		order := orderstest.New(orderstest.WithAmounts(10, 5))
		require.NoError(t, db.Orders().Insert(ctx, order))

		fill := orders.Fill{
			UID:         order.UID,
			SellAmount:  big.NewInt(4),
			BuyAmount:   big.NewInt(2),
			BlockNumber: 5,
			LogIndex:    1,
		}

		err := db.Settlement().ApplyBlock(ctx, 5, func(tx settlement.BlockTx) error {
			applied, err := tx.AddFill(fill)
			require.NoError(t, err)
			require.True(t, applied)

			// Redelivery of the same (uid, block, log) key is ignored.
			applied, err = tx.AddFill(fill)
			require.NoError(t, err)
			require.False(t, applied)

			// Reads observe the transaction's own writes.
			executed, err := tx.ExecutedAmounts(order.UID)
			require.NoError(t, err)
			require.EqualValues(t, 4, executed.SellAmount.Int64())
			require.EqualValues(t, 2, executed.BuyAmount.Int64())
			return nil
		})
		require.NoError(t, err)

		err = db.Settlement().ApplyBlock(ctx, 6, func(tx settlement.BlockTx) error {
			applied, err := tx.AddFill(orders.Fill{
				UID:         order.UID,
				SellAmount:  big.NewInt(6),
				BuyAmount:   big.NewInt(3),
				BlockNumber: 6,
				LogIndex:    0,
			})
			require.NoError(t, err)
			require.True(t, applied)
			return nil
		})
		require.NoError(t, err)

		fills, err := db.Orders().ListFills(ctx, order.UID)
		require.NoError(t, err)
		require.Len(t, fills, 2)
		require.EqualValues(t, 5, fills[0].BlockNumber)
		require.EqualValues(t, 6, fills[1].BlockNumber)

		executed, err := db.Orders().ExecutedAmounts(ctx, order.UID)
		require.NoError(t, err)
		require.EqualValues(t, 10, executed.SellAmount.Int64())
		require.EqualValues(t, 5, executed.BuyAmount.Int64())
	})
}

func TestSettlementRollbackQueries(t *testing.T) {
	orderbookdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db orderbook.DB) {
		first := orderstest.New()
		second := orderstest.New()
		require.NoError(t, db.Orders().Insert(ctx, first))
		require.NoError(t, db.Orders().Insert(ctx, second))

		for block, order := range map[int64]orders.Order{5: first, 8: second} {
			block, order := block, order
			err := db.Settlement().ApplyBlock(ctx, block, func(tx settlement.BlockTx) error {
				_, err := tx.AddFill(orders.Fill{
					UID:         order.UID,
					SellAmount:  big.NewInt(1),
					BuyAmount:   big.NewInt(1),
					BlockNumber: block,
					LogIndex:    0,
				})
				if err != nil {
					return err
				}
				_, err = tx.Mark(order.UID, orders.StatusFullyExecuted, block)
				return err
			})
			require.NoError(t, err)
		}

		err := db.Settlement().ApplyBlock(ctx, 6, func(tx settlement.BlockTx) error {
			above, err := tx.FillsAbove(6)
			require.NoError(t, err)
			require.Len(t, above, 1)
			require.Equal(t, second.UID, above[0].UID)

			marked, err := tx.OrdersMarkedAbove(6)
			require.NoError(t, err)
			require.Len(t, marked, 1)
			require.Equal(t, second.UID, marked[0].UID)

			require.NoError(t, tx.RemoveFill(above[0]))
			require.NoError(t, tx.Revert(second.UID, orders.StatusOpen, 0))
			return nil
		})
		require.NoError(t, err)

		fills, err := db.Orders().ListFills(ctx, second.UID)
		require.NoError(t, err)
		require.Empty(t, fills)

		got, err := db.Orders().Get(ctx, second.UID)
		require.NoError(t, err)
		require.Equal(t, orders.StatusOpen, got.Status)

		// The first order's fill landed at or below the rollback point and
		// survived untouched.
		fills, err = db.Orders().ListFills(ctx, first.UID)
		require.NoError(t, err)
		require.Len(t, fills, 1)
	})
}

func TestSettlementMarkReportsChange(t *testing.T) {
	orderbookdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db orderbook.DB) {
		order := orderstest.New()
		require.NoError(t, db.Orders().Insert(ctx, order))

		err := db.Settlement().ApplyBlock(ctx, 5, func(tx settlement.BlockTx) error {
			changed, err := tx.Mark(order.UID, orders.StatusInvalidated, 5)
			require.NoError(t, err)
			require.True(t, changed)

			// Marking past a terminal status is a no-op and reports so.
			changed, err = tx.Mark(order.UID, orders.StatusFullyExecuted, 5)
			require.NoError(t, err)
			require.False(t, changed)
			return nil
		})
		require.NoError(t, err)

		got, err := db.Orders().Get(ctx, order.UID)
		require.NoError(t, err)
		require.Equal(t, orders.StatusInvalidated, got.Status)
	})
}

func TestSettlementFaults(t *testing.T) {
	orderbookdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db orderbook.DB) {
		order := orderstest.New()

		faults, err := db.Settlement().Faults(ctx)
		require.NoError(t, err)
		require.Empty(t, faults)

		err = db.Settlement().ApplyBlock(ctx, 3, func(tx settlement.BlockTx) error {
			return tx.SetFault(order.UID, "cumulative fill overflow")
		})
		require.NoError(t, err)

		faults, err = db.Settlement().Faults(ctx)
		require.NoError(t, err)
		require.Equal(t, map[orders.UID]string{order.UID: "cumulative fill overflow"}, faults)

		err = db.Settlement().ApplyBlock(ctx, 4, func(tx settlement.BlockTx) error {
			return tx.ClearFault(order.UID)
		})
		require.NoError(t, err)

		faults, err = db.Settlement().Faults(ctx)
		require.NoError(t, err)
		require.Empty(t, faults)
	})
}

func TestOrderEvents(t *testing.T) {
	orderbookdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db orderbook.DB) {
		order := orderstest.New()

		now := time.Now().UTC()
		trail := []orderevents.Event{
			{UID: order.UID, Label: orderevents.Placed, Timestamp: now.Add(-2 * time.Hour)},
			{UID: order.UID, Label: orderevents.Executed, Timestamp: now.Add(-time.Hour)},
			{UID: order.UID, Label: orderevents.Traded, Timestamp: now},
		}
		for _, event := range trail {
			require.NoError(t, db.OrderEvents().Insert(ctx, event))
		}

		events, err := db.OrderEvents().List(ctx, order.UID)
		require.NoError(t, err)
		require.Len(t, events, 3)
		require.Equal(t, orderevents.Placed, events[0].Label)
		require.Equal(t, orderevents.Executed, events[1].Label)
		require.Equal(t, orderevents.Traded, events[2].Label)

		require.NoError(t, db.OrderEvents().DeleteBefore(ctx, now.Add(-30*time.Minute)))

		events, err = db.OrderEvents().List(ctx, order.UID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, orderevents.Traded, events[0].Label)
	})
}
