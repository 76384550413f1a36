// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package orderbookdb

import (
	"context"
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/cockroachdb/pebble"
	"github.com/zeebo/errs"

	"github.com/t0rbik/services/orderbook/orders"
)

// ordersDB implements orders.DB.
type ordersDB struct {
	db *DB
}

var _ orders.DB = (*ordersDB)(nil)

// Insert persists a new order.
func (odb *ordersDB) Insert(ctx context.Context, order orders.Order) (err error) {
	defer mon.Task()(&ctx)(&err)

	odb.db.writeMu.Lock()
	defer odb.db.writeMu.Unlock()

	batch := odb.db.pebble.NewIndexedBatch()
	defer func() {
		err = errs.Combine(err, Error.Wrap(batch.Close()))
	}()

	existing, _, err := getOrder(batch, order.UID)
	if err == nil {
		if !orders.SameTerms(&existing, &order) {
			return orders.ErrConflict.New("uid %s maps to different terms", order.UID.Hex())
		}
		if existing.Status.Terminal() {
			return orders.ErrFinalized.New("order %s is %s", order.UID.Hex(), existing.Status)
		}
		return nil
	}
	if !orders.ErrNotFound.Has(err) {
		return err
	}

	seq, err := nextSeq(batch)
	if err != nil {
		return err
	}
	if err := putOrder(batch, order, seq); err != nil {
		return err
	}
	if err := batch.Set(seqKey(seq), order.UID.Bytes(), nil); err != nil {
		return Error.Wrap(err)
	}

	return Error.Wrap(batch.Commit(pebble.Sync))
}

// Get returns the order with the given UID.
func (odb *ordersDB) Get(ctx context.Context, uid orders.UID) (_ orders.Order, err error) {
	defer mon.Task()(&ctx)(&err)

	order, _, err := getOrder(odb.db.pebble, uid)
	return order, err
}

// Mark transitions the order to the given status, honoring the
// terminal-state invariant.
func (odb *ordersDB) Mark(ctx context.Context, uid orders.UID, status orders.Status, atBlock int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	odb.db.writeMu.Lock()
	defer odb.db.writeMu.Unlock()

	batch := odb.db.pebble.NewIndexedBatch()
	defer func() {
		err = errs.Combine(err, Error.Wrap(batch.Close()))
	}()

	changed, err := markOrder(batch, uid, status, atBlock, false)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return Error.Wrap(batch.Commit(pebble.Sync))
}

// ListStatus returns all orders with the given status in store insertion
// order.
func (odb *ordersDB) ListStatus(ctx context.Context, status orders.Status) (_ []orders.Order, err error) {
	defer mon.Task()(&ctx)(&err)

	return listStatus(odb.db.pebble, status)
}

// ExecutedAmounts returns the cumulative executed amounts of an order.
func (odb *ordersDB) ExecutedAmounts(ctx context.Context, uid orders.UID) (_ orders.Executed, err error) {
	defer mon.Task()(&ctx)(&err)

	return executedAmounts(odb.db.pebble, uid)
}

// ListFills returns all recorded fills of an order.
func (odb *ordersDB) ListFills(ctx context.Context, uid orders.UID) (_ []orders.Fill, err error) {
	defer mon.Task()(&ctx)(&err)

	return listFills(odb.db.pebble, uid)
}

// ---- shared record helpers, usable both on the database and inside an
// indexed batch ----

func getOrder(st store, uid orders.UID) (orders.Order, uint64, error) {
	value, closer, err := st.Get(orderKey(uid))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return orders.Order{}, 0, orders.ErrNotFound.New("%s", uid.Hex())
		}
		return orders.Order{}, 0, Error.Wrap(err)
	}
	order, seq, err := decodeOrder(uid, value)
	return order, seq, errs.Combine(err, Error.Wrap(closer.Close()))
}

func putOrder(st store, order orders.Order, seq uint64) error {
	value, err := encodeOrder(order, seq)
	if err != nil {
		return err
	}
	return Error.Wrap(st.Set(orderKey(order.UID), value, nil))
}

// markOrder applies a status transition. Transitions out of a terminal
// status are no-ops unless force is set, which only reorg rollback uses.
func markOrder(st store, uid orders.UID, status orders.Status, atBlock int64, force bool) (changed bool, err error) {
	order, seq, err := getOrder(st, uid)
	if err != nil {
		return false, err
	}
	if order.Status.Terminal() && !force {
		return false, nil
	}
	if order.Status == status && order.StatusBlock == atBlock {
		return false, nil
	}
	order.Status = status
	order.StatusBlock = atBlock
	return true, putOrder(st, order, seq)
}

func nextSeq(st store) (uint64, error) {
	var seq uint64
	value, closer, err := st.Get(keySeq)
	if err == nil {
		seq = binary.BigEndian.Uint64(value)
		if err := closer.Close(); err != nil {
			return 0, Error.Wrap(err)
		}
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return 0, Error.Wrap(err)
	}

	seq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	if err := st.Set(keySeq, buf[:], nil); err != nil {
		return 0, Error.Wrap(err)
	}
	return seq, nil
}

func listStatus(st store, status orders.Status) (_ []orders.Order, err error) {
	iter, err := st.NewIter(&pebble.IterOptions{
		LowerBound: prefixSeq,
		UpperBound: prefixUpperBound(prefixSeq),
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() {
		err = errs.Combine(err, Error.Wrap(iter.Close()))
	}()

	var result []orders.Order
	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, Error.Wrap(err)
		}
		var uid orders.UID
		copy(uid[:], value)

		order, _, err := getOrder(st, uid)
		if err != nil {
			return nil, err
		}
		if order.Status == status {
			result = append(result, order)
		}
	}
	return result, nil
}

func listFills(st store, uid orders.UID) (_ []orders.Fill, err error) {
	prefix := append(append([]byte{}, prefixFill...), uid.Bytes()...)
	iter, err := st.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() {
		err = errs.Combine(err, Error.Wrap(iter.Close()))
	}()

	var fills []orders.Fill
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		suffix := key[len(prefix):]
		block := int64(binary.BigEndian.Uint64(suffix[:8]))
		logIndex := int(binary.BigEndian.Uint32(suffix[8:12]))

		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, Error.Wrap(err)
		}
		fill, err := decodeFill(uid, block, logIndex, value)
		if err != nil {
			return nil, err
		}
		fills = append(fills, fill)
	}
	return fills, nil
}

func executedAmounts(st store, uid orders.UID) (orders.Executed, error) {
	fills, err := listFills(st, uid)
	if err != nil {
		return orders.Executed{}, err
	}
	executed := orders.Executed{
		SellAmount: new(big.Int),
		BuyAmount:  new(big.Int),
	}
	for _, fill := range fills {
		executed.SellAmount.Add(executed.SellAmount, fill.SellAmount)
		executed.BuyAmount.Add(executed.BuyAmount, fill.BuyAmount)
	}
	return executed, nil
}

func addFill(st store, fill orders.Fill) (applied bool, err error) {
	key := fillKey(fill.UID, fill.BlockNumber, fill.LogIndex)
	_, closer, err := st.Get(key)
	if err == nil {
		return false, Error.Wrap(closer.Close())
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return false, Error.Wrap(err)
	}

	value, err := encodeFill(fill)
	if err != nil {
		return false, err
	}
	if err := st.Set(key, value, nil); err != nil {
		return false, Error.Wrap(err)
	}
	if err := st.Set(fillBlockKey(fill.UID, fill.BlockNumber, fill.LogIndex), nil, nil); err != nil {
		return false, Error.Wrap(err)
	}
	return true, nil
}

func removeFill(st store, fill orders.Fill) error {
	if err := st.Delete(fillKey(fill.UID, fill.BlockNumber, fill.LogIndex), nil); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(st.Delete(fillBlockKey(fill.UID, fill.BlockNumber, fill.LogIndex), nil))
}

func fillsAbove(st store, block int64) (_ []orders.Fill, err error) {
	lower := append([]byte{}, prefixFillBlock...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(block+1))
	lower = append(lower, buf[:]...)

	iter, err := st.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(prefixFillBlock),
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() {
		err = errs.Combine(err, Error.Wrap(iter.Close()))
	}()

	var fills []orders.Fill
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		suffix := key[len(prefixFillBlock):]
		fillBlock := int64(binary.BigEndian.Uint64(suffix[:8]))
		var uid orders.UID
		copy(uid[:], suffix[8:8+len(uid)])
		logIndex := int(binary.BigEndian.Uint32(suffix[8+len(uid):]))

		value, closer, err := st.Get(fillKey(uid, fillBlock, logIndex))
		if err != nil {
			return nil, Error.Wrap(err)
		}
		fill, err := decodeFill(uid, fillBlock, logIndex, value)
		if err = errs.Combine(err, Error.Wrap(closer.Close())); err != nil {
			return nil, err
		}
		fills = append(fills, fill)
	}
	return fills, nil
}

func ordersMarkedAbove(st store, block int64) (_ []orders.Order, err error) {
	iter, err := st.NewIter(&pebble.IterOptions{
		LowerBound: prefixOrder,
		UpperBound: prefixUpperBound(prefixOrder),
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() {
		err = errs.Combine(err, Error.Wrap(iter.Close()))
	}()

	var result []orders.Order
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		var uid orders.UID
		copy(uid[:], key[len(prefixOrder):])

		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, Error.Wrap(err)
		}
		order, _, err := decodeOrder(uid, value)
		if err != nil {
			return nil, err
		}
		if order.StatusBlock > block {
			result = append(result, order)
		}
	}
	return result, nil
}
