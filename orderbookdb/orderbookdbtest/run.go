// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

// Package orderbookdbtest runs tests against an in-memory order book
// database.
package orderbookdbtest

import (
	"testing"

	"go.uber.org/zap/zaptest"
	"storj.io/common/testcontext"

	"github.com/t0rbik/services/orderbook"
	"github.com/t0rbik/services/orderbookdb"
)

// Run opens a fresh in-memory database and executes the test function.
func Run(t *testing.T, test func(ctx *testcontext.Context, t *testing.T, db orderbook.DB)) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, err := orderbookdb.OpenInMemory(zaptest.NewLogger(t).Named("db"))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer ctx.Check(db.Close)

	test(ctx, t, db)
}
