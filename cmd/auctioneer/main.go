// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

// Command auctioneer runs the order-management core of the batch auction
// backend: it reconciles settlement events from the configured indexer
// and maintains the solvable order set.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/t0rbik/services/orderbook"
	"github.com/t0rbik/services/orderbook/chain"
	"github.com/t0rbik/services/orderbook/settlement"
	"github.com/t0rbik/services/orderbookdb"
)

func main() {
	var (
		dbDir              = flag.String("db", "./auctioneer-db", "directory for the order book database")
		chainEndpoint      = flag.String("chain-endpoint", "http://127.0.0.1:8545", "ethereum JSON-RPC endpoint")
		eventsEndpoint     = flag.String("events-endpoint", "", "settlement indexer API endpoint")
		eventsIdentifier   = flag.String("events-identifier", "", "settlement indexer basic auth identifier")
		eventsSecret       = flag.String("events-secret", "", "settlement indexer basic auth secret")
		settlementContract = flag.String("settlement-contract", "", "address of the settlement contract")
		reconcileInterval  = flag.Duration("reconcile-interval", 5*time.Second, "interval to poll the event source for new blocks")
		refreshInterval    = flag.Duration("refresh-interval", 5*time.Second, "interval to rebuild the solvable order set")
		kafkaBrokers       = flag.String("kafka-brokers", "", "comma separated kafka brokers for order event broadcast")
		marketMinimumFee   = flag.String("market-minimum-fee", "1", "minimum fee in atoms for market orders")
		limitMinimumFee    = flag.String("limit-minimum-fee", "0", "minimum fee in atoms for limit orders")
	)
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(log,
		*dbDir, *chainEndpoint, *eventsEndpoint, *eventsIdentifier, *eventsSecret,
		*settlementContract, *reconcileInterval, *refreshInterval, *kafkaBrokers,
		*marketMinimumFee, *limitMinimumFee,
	); err != nil {
		log.Fatal("auctioneer exited", zap.Error(err))
	}
}

func run(log *zap.Logger, dbDir, chainEndpoint, eventsEndpoint, eventsIdentifier, eventsSecret, settlementContract string, reconcileInterval, refreshInterval time.Duration, kafkaBrokers, marketMinimumFee, limitMinimumFee string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := orderbookdb.Open(log.Named("db"), dbDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database", zap.Error(err))
		}
	}()

	chainState, err := chain.Dial(ctx, chainEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = chainState.Close() }()

	var config orderbook.Config
	config.SettlementContract = settlementContract
	config.Fees.MarketMinimum = marketMinimumFee
	config.Fees.LimitMinimum = limitMinimumFee
	config.EventSource.Endpoint = eventsEndpoint
	config.EventSource.Auth.Identifier = eventsIdentifier
	config.EventSource.Auth.Secret = eventsSecret
	config.Reconciler.Interval = reconcileInterval
	config.Reconciler.MaxBackoff = 2 * time.Minute
	config.Reconciler.BatchSize = 512
	config.Solvable.RefreshInterval = refreshInterval
	config.Balances.BlocksToRetain = 2
	if kafkaBrokers != "" {
		config.Events.Brokers = strings.Split(kafkaBrokers, ",")
		config.Events.Topic = "order-events"
	}

	source := settlement.NewClient(config.EventSource)

	peer, err := orderbook.New(log, db, source, chainState, newRecoverVerifier(), config)
	if err != nil {
		return err
	}
	defer func() {
		if err := peer.Close(); err != nil {
			log.Error("failed to close peer", zap.Error(err))
		}
	}()

	log.Info("auctioneer running",
		zap.String("db", dbDir),
		zap.String("events-endpoint", eventsEndpoint))

	return peer.Run(ctx)
}
