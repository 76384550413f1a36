// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package orderbookdb

import (
	"encoding/json"
	"time"

	"github.com/t0rbik/services/orderbook/orderevents"
	"github.com/t0rbik/services/orderbook/orders"
	"github.com/t0rbik/services/private/blockchain"
)

// orderRecord is the stored form of an order. Amounts are decimal strings
// so values survive any JSON number precision limits.
type orderRecord struct {
	Owner     blockchain.Address `json:"owner"`
	SellToken blockchain.Address `json:"sellToken"`
	BuyToken  blockchain.Address `json:"buyToken"`

	SellAmount string `json:"sellAmount"`
	BuyAmount  string `json:"buyAmount"`
	FeeAmount  string `json:"feeAmount"`

	Kind  string `json:"kind"`
	Class string `json:"class"`

	CreatedAt time.Time `json:"createdAt"`
	ValidTo   time.Time `json:"validTo"`

	AppData blockchain.Hash `json:"appData"`
	Salt    blockchain.Hash `json:"salt"`

	PreSign   bool   `json:"preSign,omitempty"`
	Signature []byte `json:"signature,omitempty"`

	Status      string `json:"status"`
	StatusBlock int64  `json:"statusBlock"`
	Seq         uint64 `json:"seq"`
}

func encodeOrder(order orders.Order, seq uint64) ([]byte, error) {
	record := orderRecord{
		Owner:       order.Owner,
		SellToken:   order.SellToken,
		BuyToken:    order.BuyToken,
		SellAmount:  blockchain.AmountToString(order.SellAmount),
		BuyAmount:   blockchain.AmountToString(order.BuyAmount),
		FeeAmount:   blockchain.AmountToString(order.FeeAmount),
		Kind:        string(order.Kind),
		Class:       string(order.Class),
		CreatedAt:   order.CreatedAt.UTC(),
		ValidTo:     order.ValidTo.UTC(),
		AppData:     order.AppData,
		Salt:        order.Salt,
		PreSign:     order.PreSign,
		Signature:   order.Signature,
		Status:      string(order.Status),
		StatusBlock: order.StatusBlock,
		Seq:         seq,
	}
	data, err := json.Marshal(record)
	return data, Error.Wrap(err)
}

func decodeOrder(uid orders.UID, data []byte) (orders.Order, uint64, error) {
	var record orderRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return orders.Order{}, 0, Error.Wrap(err)
	}

	sellAmount, err := blockchain.AmountFromString(record.SellAmount)
	if err != nil {
		return orders.Order{}, 0, Error.Wrap(err)
	}
	buyAmount, err := blockchain.AmountFromString(record.BuyAmount)
	if err != nil {
		return orders.Order{}, 0, Error.Wrap(err)
	}
	feeAmount, err := blockchain.AmountFromString(record.FeeAmount)
	if err != nil {
		return orders.Order{}, 0, Error.Wrap(err)
	}

	return orders.Order{
		UID:         uid,
		Owner:       record.Owner,
		SellToken:   record.SellToken,
		BuyToken:    record.BuyToken,
		SellAmount:  sellAmount,
		BuyAmount:   buyAmount,
		FeeAmount:   feeAmount,
		Kind:        orders.Kind(record.Kind),
		Class:       orders.Class(record.Class),
		CreatedAt:   record.CreatedAt,
		ValidTo:     record.ValidTo,
		AppData:     record.AppData,
		Salt:        record.Salt,
		PreSign:     record.PreSign,
		Signature:   record.Signature,
		Status:      orders.Status(record.Status),
		StatusBlock: record.StatusBlock,
	}, record.Seq, nil
}

type fillRecord struct {
	SellAmount string `json:"sellAmount"`
	BuyAmount  string `json:"buyAmount"`
}

func encodeFill(fill orders.Fill) ([]byte, error) {
	data, err := json.Marshal(fillRecord{
		SellAmount: blockchain.AmountToString(fill.SellAmount),
		BuyAmount:  blockchain.AmountToString(fill.BuyAmount),
	})
	return data, Error.Wrap(err)
}

func decodeFill(uid orders.UID, block int64, logIndex int, data []byte) (orders.Fill, error) {
	var record fillRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return orders.Fill{}, Error.Wrap(err)
	}
	sellAmount, err := blockchain.AmountFromString(record.SellAmount)
	if err != nil {
		return orders.Fill{}, Error.Wrap(err)
	}
	buyAmount, err := blockchain.AmountFromString(record.BuyAmount)
	if err != nil {
		return orders.Fill{}, Error.Wrap(err)
	}
	return orders.Fill{
		UID:         uid,
		SellAmount:  sellAmount,
		BuyAmount:   buyAmount,
		BlockNumber: block,
		LogIndex:    logIndex,
	}, nil
}

type eventRecord struct {
	Label     string    `json:"label"`
	Timestamp time.Time `json:"timestamp"`
}

func encodeEvent(event orderevents.Event) ([]byte, error) {
	data, err := json.Marshal(eventRecord{
		Label:     string(event.Label),
		Timestamp: event.Timestamp.UTC(),
	})
	return data, Error.Wrap(err)
}

func decodeEvent(uid orders.UID, data []byte) (orderevents.Event, error) {
	var record eventRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return orderevents.Event{}, Error.Wrap(err)
	}
	return orderevents.Event{
		UID:       uid,
		Label:     orderevents.Label(record.Label),
		Timestamp: record.Timestamp,
	}, nil
}
