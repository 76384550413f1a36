// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/zeebo/errs"
)

var (
	// ClientErr is general purpose settlement indexer client error class.
	ClientErr = errs.Class("settlement client")
	// ClientErrUnauthorized is unauthorized err settlement indexer client error class.
	ClientErrUnauthorized = errs.Class("settlement client unauthorized")
)

// EventSource feeds the reconciler with settlement-contract events.
type EventSource interface {
	// Head returns the current canonical chain head.
	Head(ctx context.Context) (Header, error)
	// EventsInRange returns all settlement events with block number in
	// [from, to], ordered by block number and log index.
	EventsInRange(ctx context.Context, from, to int64) ([]Event, error)
	// CommonAncestor returns the highest block at or below since that is
	// still part of the canonical chain.
	CommonAncestor(ctx context.Context, since int64) (int64, error)
}

// ClientConfig stores needed information for settlement indexer client setup.
type ClientConfig struct {
	Endpoint string `help:"settlement indexer API endpoint"`
	Auth     struct {
		Identifier string `help:"basic auth identifier"`
		Secret     string `help:"basic auth secret"`
	}
}

// Client is a settlement indexer HTTP API client.
type Client struct {
	endpoint   string
	identifier string
	secret     string
	http       http.Client
}

// NewClient creates new settlement indexer API client.
func NewClient(config ClientConfig) *Client {
	return &Client{
		endpoint:   config.Endpoint,
		identifier: config.Auth.Identifier,
		secret:     config.Auth.Secret,
		http:       http.Client{},
	}
}

// Head returns the current canonical chain head.
func (client *Client) Head(ctx context.Context) (_ Header, err error) {
	defer mon.Task()(&ctx)(&err)

	var header Header
	if err := client.get(ctx, "/api/v0/chain/head", nil, &header); err != nil {
		return Header{}, err
	}
	return header, nil
}

// EventsInRange retrieves all settlement events in the block range [from, to].
func (client *Client) EventsInRange(ctx context.Context, from, to int64) (_ []Event, err error) {
	defer mon.Task()(&ctx)(&err)

	var events []Event
	err = client.get(ctx, "/api/v0/events", map[string]string{
		"from": strconv.FormatInt(from, 10),
		"to":   strconv.FormatInt(to, 10),
	}, &events)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// CommonAncestor returns the highest canonical block at or below since.
func (client *Client) CommonAncestor(ctx context.Context, since int64) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	var ancestor struct {
		Number int64 `json:"number"`
	}
	err = client.get(ctx, "/api/v0/chain/ancestor", map[string]string{
		"since": strconv.FormatInt(since, 10),
	}, &ancestor)
	if err != nil {
		return 0, err
	}
	return ancestor.Number, nil
}

func (client *Client) get(ctx context.Context, path string, query map[string]string, out interface{}) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.endpoint+path, nil)
	if err != nil {
		return ClientErr.Wrap(err)
	}

	req.SetBasicAuth(client.identifier, client.secret)

	q := req.URL.Query()
	for key, value := range query {
		q.Set(key, value)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := client.http.Do(req)
	if err != nil {
		return ClientErr.Wrap(err)
	}
	defer func() {
		err = errs.Combine(err, ClientErr.Wrap(resp.Body.Close()))
	}()

	if resp.StatusCode != http.StatusOK {
		var data struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
			return ClientErr.Wrap(err)
		}

		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return ClientErrUnauthorized.New("%s", data.Error)
		default:
			return ClientErr.New("%s", data.Error)
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return ClientErr.Wrap(err)
	}
	return nil
}
