// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

// Package settlementtest provides an in-memory event source and HTTP
// serving helpers for settlement tests.
package settlementtest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/zeebo/errs"

	"github.com/t0rbik/services/orderbook/settlement"
	"github.com/t0rbik/services/private/blockchain/blockchaintest"
)

// EventSource is a scriptable in-memory settlement.EventSource. Tests
// append events, move the head and trigger reorgs.
type EventSource struct {
	mu       sync.Mutex
	head     settlement.Header
	ancestor int64
	events   []settlement.Event
	err      error
}

// NewEventSource creates an empty EventSource with head at block 0.
func NewEventSource() *EventSource {
	return &EventSource{
		head:     settlement.Header{Hash: blockchaintest.NewHash(), Timestamp: time.Now()},
		ancestor: -1,
	}
}

// Append adds events to the stream and advances the head to the highest
// block seen.
func (source *EventSource) Append(events ...settlement.Event) {
	source.mu.Lock()
	defer source.mu.Unlock()
	source.events = append(source.events, events...)
	for _, event := range events {
		if event.BlockNumber > source.head.Number {
			source.setHeadLocked(event.BlockNumber)
		}
	}
}

// SetHead moves the chain head to the given block number.
func (source *EventSource) SetHead(number int64) {
	source.mu.Lock()
	defer source.mu.Unlock()
	source.setHeadLocked(number)
}

func (source *EventSource) setHeadLocked(number int64) {
	source.head = settlement.Header{
		Hash:      blockchaintest.NewHash(),
		Number:    number,
		Timestamp: time.Now(),
	}
}

// Reorg abandons all events above the ancestor and moves the head there.
func (source *EventSource) Reorg(ancestor int64) {
	source.mu.Lock()
	defer source.mu.Unlock()

	kept := source.events[:0]
	for _, event := range source.events {
		if event.BlockNumber <= ancestor {
			kept = append(kept, event)
		}
	}
	source.events = kept
	source.ancestor = ancestor
	source.setHeadLocked(ancestor)
}

// SetError makes every call fail with the given error until reset with
// nil.
func (source *EventSource) SetError(err error) {
	source.mu.Lock()
	defer source.mu.Unlock()
	source.err = err
}

// Head implements settlement.EventSource.
func (source *EventSource) Head(ctx context.Context) (settlement.Header, error) {
	source.mu.Lock()
	defer source.mu.Unlock()
	if source.err != nil {
		return settlement.Header{}, source.err
	}
	return source.head, nil
}

// EventsInRange implements settlement.EventSource.
func (source *EventSource) EventsInRange(ctx context.Context, from, to int64) ([]settlement.Event, error) {
	source.mu.Lock()
	defer source.mu.Unlock()
	if source.err != nil {
		return nil, source.err
	}
	var result []settlement.Event
	for _, event := range source.events {
		if event.BlockNumber >= from && event.BlockNumber <= to {
			result = append(result, event)
		}
	}
	return result, nil
}

// CommonAncestor implements settlement.EventSource.
func (source *EventSource) CommonAncestor(ctx context.Context, since int64) (int64, error) {
	source.mu.Lock()
	defer source.mu.Unlock()
	if source.err != nil {
		return 0, source.err
	}
	if source.ancestor >= 0 && source.ancestor < since {
		return source.ancestor, nil
	}
	return since, nil
}

// CheckAuth verifies request basic auth against the expected credentials.
func CheckAuth(r *http.Request, identifier, secret string) error {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return errs.New("credentials missing")
	}
	if user != identifier {
		return errs.New("unknown identifier")
	}
	if pass != secret {
		return errs.New("secret mismatch")
	}
	return nil
}

// ServeJSON serves a JSON payload to the response writer.
func ServeJSON(t *testing.T, w http.ResponseWriter, payload interface{}) {
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Fatal(err)
	}
}

// ServeJSONError serves a JSON error to the response writer.
func ServeJSONError(t *testing.T, w http.ResponseWriter, status int, err error) {
	w.WriteHeader(status)

	var response struct {
		Error string `json:"error"`
	}
	response.Error = err.Error()

	if err := json.NewEncoder(w).Encode(response); err != nil {
		t.Fatal(err)
	}
}
