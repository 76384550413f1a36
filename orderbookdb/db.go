// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

// Package orderbookdb implements the order book database interfaces on top
// of an embedded pebble store. Records are keyed so that per-order and
// per-block scans are range reads, and every status mutation of a ledger
// block commits in one atomic batch together with the cursor.
package orderbookdb

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/t0rbik/services/orderbook"
	"github.com/t0rbik/services/orderbook/orderevents"
	"github.com/t0rbik/services/orderbook/orders"
	"github.com/t0rbik/services/orderbook/settlement"
)

var (
	mon = monkit.Package()

	// Error is the default error class for orderbookdb.
	Error = errs.Class("orderbookdb")
)

// Key layout. Fixed-width big-endian integers keep lexicographic key order
// equal to numeric order.
//
//	o/<uid>                    order record
//	q/<seq>                    insertion sequence index -> uid
//	f/<uid><block><logindex>   fill record
//	x/<block><uid><logindex>   fill secondary index (by block)
//	e/<uid><unixnano><n>       order event record
//	t/<uid>                    consistency fault reason
//	m/cursor                   ledger cursor
//	m/seq                      insertion sequence counter
var (
	prefixOrder     = []byte("o/")
	prefixSeq       = []byte("q/")
	prefixFill      = []byte("f/")
	prefixFillBlock = []byte("x/")
	prefixEvent     = []byte("e/")
	prefixFault     = []byte("t/")
	keyCursor       = []byte("m/cursor")
	keySeq          = []byte("m/seq")
)

// DB implements orderbook.DB over a single pebble instance.
type DB struct {
	log    *zap.Logger
	pebble *pebble.DB

	// Guards the read-modify-write transactions. All status changes
	// funnel through here, which is what enforces the single-writer
	// discipline of the store.
	writeMu sync.Mutex

	// Disambiguates audit events inserted within one timestamp tick.
	eventSeq uint32
}

var _ orderbook.DB = (*DB)(nil)

// Open opens or creates the database in the given directory.
func Open(log *zap.Logger, dir string) (*DB, error) {
	return open(log, dir, nil)
}

// OpenInMemory opens a fresh database backed by memory only. Used by
// tests.
func OpenInMemory(log *zap.Logger) (*DB, error) {
	return open(log, "", vfs.NewMem())
}

func open(log *zap.Logger, dir string, fs vfs.FS) (*DB, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &DB{log: log, pebble: db}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return Error.Wrap(db.pebble.Close())
}

// Orders returns the orders database.
func (db *DB) Orders() orders.DB {
	return &ordersDB{db: db}
}

// Settlement returns the settlement database.
func (db *DB) Settlement() settlement.DB {
	return &settlementDB{db: db}
}

// OrderEvents returns the order events database.
func (db *DB) OrderEvents() orderevents.DB {
	return &orderEventsDB{db: db}
}

// store is the common read/write surface shared by the database and an
// indexed batch, so record helpers work both inside and outside of a
// block transaction.
type store interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
	Set(key, value []byte, opts *pebble.WriteOptions) error
	Delete(key []byte, opts *pebble.WriteOptions) error
}

func orderKey(uid orders.UID) []byte {
	return append(append([]byte{}, prefixOrder...), uid.Bytes()...)
}

func seqKey(seq uint64) []byte {
	key := append([]byte{}, prefixSeq...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append(key, buf[:]...)
}

func fillKey(uid orders.UID, block int64, logIndex int) []byte {
	key := append(append([]byte{}, prefixFill...), uid.Bytes()...)
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(block))
	binary.BigEndian.PutUint32(buf[8:], uint32(logIndex))
	return append(key, buf[:]...)
}

func fillBlockKey(uid orders.UID, block int64, logIndex int) []byte {
	key := append([]byte{}, prefixFillBlock...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(block))
	key = append(key, buf[:]...)
	key = append(key, uid.Bytes()...)
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(logIndex))
	return append(key, idx[:]...)
}

func faultKey(uid orders.UID) []byte {
	return append(append([]byte{}, prefixFault...), uid.Bytes()...)
}

func eventKey(uid orders.UID, unixNano int64, n uint32) []byte {
	key := append(append([]byte{}, prefixEvent...), uid.Bytes()...)
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(unixNano))
	binary.BigEndian.PutUint32(buf[8:], n)
	return append(key, buf[:]...)
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte{}, prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
