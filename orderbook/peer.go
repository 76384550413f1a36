// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

// Package orderbook assembles the order-management core of the batch
// auction backend: order submission and validation, ledger event
// reconciliation, the solvable order cache and the auction snapshot
// builder.
package orderbook

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/t0rbik/services/orderbook/chain"
	"github.com/t0rbik/services/orderbook/orderevents"
	"github.com/t0rbik/services/orderbook/orders"
	"github.com/t0rbik/services/orderbook/settlement"
	"github.com/t0rbik/services/orderbook/solvable"
	"github.com/t0rbik/services/private/blockchain"
)

// Config is the configuration for the order book peer.
type Config struct {
	SettlementContract string `help:"address of the settlement contract orders grant allowance to"`

	Fees struct {
		MarketMinimum string `help:"minimum fee in sell token atoms for market orders" default:"1"`
		LimitMinimum  string `help:"minimum fee in sell token atoms for limit orders" default:"0"`
	}

	EventSource settlement.ClientConfig
	Reconciler  settlement.Config
	Solvable    solvable.Config
	Balances    chain.BalanceCacheConfig
	Events      orderevents.PublisherConfig
}

// Peer is the order book process: it owns the database handles, services
// and chores and runs them as one unit.
//
// architecture: Peer
type Peer struct {
	Log *zap.Logger
	DB  DB

	Orders struct {
		Service   *orders.Service
		Validator *orders.Validator
	}

	Settlement struct {
		Reconciler *settlement.Reconciler
	}

	Solvable struct {
		Cache   *solvable.Cache
		Builder *solvable.Builder
	}

	Events struct {
		Publisher *orderevents.Publisher
		Recorder  *orderevents.Recorder
	}
}

// New creates a new order book peer.
func New(log *zap.Logger, db DB, source settlement.EventSource, chainState chain.Provider, verifier orders.SignatureVerifier, config Config) (*Peer, error) {
	peer := &Peer{
		Log: log,
		DB:  db,
	}

	settlementContract, err := blockchain.HexToAddress(config.SettlementContract)
	if err != nil {
		return nil, errs.Wrap(err)
	}

	marketMinimum, err := decimal.NewFromString(config.Fees.MarketMinimum)
	if err != nil {
		return nil, errs.New("invalid market fee minimum: %v", err)
	}
	limitMinimum, err := decimal.NewFromString(config.Fees.LimitMinimum)
	if err != nil {
		return nil, errs.New("invalid limit fee minimum: %v", err)
	}
	fees := orders.FeePolicy{
		MarketMinimum: marketMinimum,
		LimitMinimum:  limitMinimum,
	}

	{ // events
		peer.Events.Publisher = orderevents.NewPublisher(config.Events)
		peer.Events.Recorder = orderevents.NewRecorder(
			log.Named("orderevents"),
			db.OrderEvents(),
			peer.Events.Publisher,
		)
	}

	{ // orders
		peer.Orders.Validator = orders.NewValidator(verifier, chainState, settlementContract, fees)
		peer.Orders.Service = orders.NewService(
			log.Named("orders"),
			db.Orders(),
			peer.Orders.Validator,
			verifier,
			peer.Events.Recorder,
		)
	}

	{ // settlement
		peer.Settlement.Reconciler = settlement.NewReconciler(
			log.Named("settlement"),
			db.Settlement(),
			source,
			peer.Events.Recorder,
			config.Reconciler,
		)
	}

	{ // solvable
		balances := chain.NewBalanceCache(chainState, config.Balances)
		peer.Solvable.Cache = solvable.NewCache(
			log.Named("solvable"),
			db.Orders(),
			db.Settlement(),
			chainState,
			balances,
			peer.Settlement.Reconciler,
			settlementContract,
			config.Solvable,
		)
		peer.Solvable.Builder = solvable.NewBuilder(peer.Solvable.Cache)
	}

	return peer, nil
}

// Run runs the peer's chores until the context is canceled or a chore
// fails.
func (peer *Peer) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return peer.Settlement.Reconciler.Run(ctx)
	})
	group.Go(func() error {
		return peer.Solvable.Cache.Run(ctx)
	})

	return group.Wait()
}

// Close releases the peer's resources. The database is owned by the
// caller and closed separately.
func (peer *Peer) Close() error {
	return errs.Combine(
		peer.Settlement.Reconciler.Close(),
		peer.Solvable.Cache.Close(),
		peer.Events.Publisher.Close(),
	)
}
