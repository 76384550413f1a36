// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package orderbookdb

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/cockroachdb/pebble"
	"github.com/zeebo/errs"

	"github.com/t0rbik/services/orderbook/orders"
	"github.com/t0rbik/services/orderbook/settlement"
)

// settlementDB implements settlement.DB.
type settlementDB struct {
	db *DB
}

var _ settlement.DB = (*settlementDB)(nil)

// Cursor returns the last block number fully reconciled.
func (sdb *settlementDB) Cursor(ctx context.Context) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	value, closer, err := sdb.db.pebble.Get(keyCursor)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return settlement.CursorUnset, nil
		}
		return 0, Error.Wrap(err)
	}
	cursor := int64(binary.BigEndian.Uint64(value))
	return cursor, Error.Wrap(closer.Close())
}

// Faults returns all durably recorded consistency faults.
func (sdb *settlementDB) Faults(ctx context.Context) (_ map[orders.UID]string, err error) {
	defer mon.Task()(&ctx)(&err)

	iter, err := sdb.db.pebble.NewIter(&pebble.IterOptions{
		LowerBound: prefixFault,
		UpperBound: prefixUpperBound(prefixFault),
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() {
		err = errs.Combine(err, Error.Wrap(iter.Close()))
	}()

	faults := make(map[orders.UID]string)
	for iter.First(); iter.Valid(); iter.Next() {
		var uid orders.UID
		copy(uid[:], iter.Key()[len(prefixFault):])

		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, Error.Wrap(err)
		}
		faults[uid] = string(value)
	}
	return faults, nil
}

// ApplyBlock runs fn inside one indexed batch and commits it together with
// the cursor advancement. Nothing of the block becomes visible unless the
// whole batch commits.
func (sdb *settlementDB) ApplyBlock(ctx context.Context, block int64, fn func(tx settlement.BlockTx) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	sdb.db.writeMu.Lock()
	defer sdb.db.writeMu.Unlock()

	batch := sdb.db.pebble.NewIndexedBatch()
	defer func() {
		err = errs.Combine(err, Error.Wrap(batch.Close()))
	}()

	if err := fn(&blockTx{batch: batch}); err != nil {
		return err
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(block))
	if err := batch.Set(keyCursor, buf[:], nil); err != nil {
		return Error.Wrap(err)
	}

	return Error.Wrap(batch.Commit(pebble.Sync))
}

// blockTx implements settlement.BlockTx over an indexed batch, so reads
// observe the transaction's own writes.
type blockTx struct {
	batch *pebble.Batch
}

var _ settlement.BlockTx = (*blockTx)(nil)

func (tx *blockTx) Order(uid orders.UID) (orders.Order, error) {
	order, _, err := getOrder(tx.batch, uid)
	return order, err
}

func (tx *blockTx) Mark(uid orders.UID, status orders.Status, atBlock int64) (bool, error) {
	return markOrder(tx.batch, uid, status, atBlock, false)
}

func (tx *blockTx) Revert(uid orders.UID, status orders.Status, atBlock int64) error {
	_, err := markOrder(tx.batch, uid, status, atBlock, true)
	return err
}

func (tx *blockTx) AddFill(fill orders.Fill) (bool, error) {
	return addFill(tx.batch, fill)
}

func (tx *blockTx) ExecutedAmounts(uid orders.UID) (orders.Executed, error) {
	return executedAmounts(tx.batch, uid)
}

func (tx *blockTx) Fills(uid orders.UID) ([]orders.Fill, error) {
	return listFills(tx.batch, uid)
}

func (tx *blockTx) FillsAbove(block int64) ([]orders.Fill, error) {
	return fillsAbove(tx.batch, block)
}

func (tx *blockTx) RemoveFill(fill orders.Fill) error {
	return removeFill(tx.batch, fill)
}

func (tx *blockTx) OrdersMarkedAbove(block int64) ([]orders.Order, error) {
	return ordersMarkedAbove(tx.batch, block)
}

func (tx *blockTx) OpenOrders() ([]orders.Order, error) {
	return listStatus(tx.batch, orders.StatusOpen)
}

func (tx *blockTx) SetFault(uid orders.UID, reason string) error {
	return Error.Wrap(tx.batch.Set(faultKey(uid), []byte(reason), nil))
}

func (tx *blockTx) ClearFault(uid orders.UID) error {
	return Error.Wrap(tx.batch.Delete(faultKey(uid), nil))
}
