// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package orderbookdb

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/zeebo/errs"

	"github.com/t0rbik/services/orderbook/orderevents"
	"github.com/t0rbik/services/orderbook/orders"
)

// orderEventsDB implements orderevents.DB.
type orderEventsDB struct {
	db *DB
}

var _ orderevents.DB = (*orderEventsDB)(nil)

// Insert appends an event to the audit trail.
func (edb *orderEventsDB) Insert(ctx context.Context, event orderevents.Event) (err error) {
	defer mon.Task()(&ctx)(&err)

	value, err := encodeEvent(event)
	if err != nil {
		return err
	}

	edb.db.writeMu.Lock()
	edb.db.eventSeq++
	n := edb.db.eventSeq
	edb.db.writeMu.Unlock()

	key := eventKey(event.UID, event.Timestamp.UnixNano(), n)
	return Error.Wrap(edb.db.pebble.Set(key, value, pebble.Sync))
}

// List returns all events of an order in insertion order.
func (edb *orderEventsDB) List(ctx context.Context, uid orders.UID) (_ []orderevents.Event, err error) {
	defer mon.Task()(&ctx)(&err)

	prefix := append(append([]byte{}, prefixEvent...), uid.Bytes()...)
	iter, err := edb.db.pebble.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() {
		err = errs.Combine(err, Error.Wrap(iter.Close()))
	}()

	var events []orderevents.Event
	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, Error.Wrap(err)
		}
		event, err := decodeEvent(uid, value)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// DeleteBefore removes events older than the given time.
func (edb *orderEventsDB) DeleteBefore(ctx context.Context, before time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	iter, err := edb.db.pebble.NewIter(&pebble.IterOptions{
		LowerBound: prefixEvent,
		UpperBound: prefixUpperBound(prefixEvent),
	})
	if err != nil {
		return Error.Wrap(err)
	}

	batch := edb.db.pebble.NewBatch()
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		suffix := key[len(prefixEvent)+32:]
		ts := time.Unix(0, int64(binary.BigEndian.Uint64(suffix[:8])))
		if ts.Before(before) {
			if err := batch.Delete(append([]byte{}, key...), nil); err != nil {
				return errs.Combine(Error.Wrap(err), Error.Wrap(iter.Close()), Error.Wrap(batch.Close()))
			}
		}
	}
	if err := iter.Close(); err != nil {
		return errs.Combine(Error.Wrap(err), Error.Wrap(batch.Close()))
	}

	err = batch.Commit(pebble.Sync)
	return errs.Combine(Error.Wrap(err), Error.Wrap(batch.Close()))
}
