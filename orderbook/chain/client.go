// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/t0rbik/services/private/blockchain"
)

// ERC20 call selectors.
var (
	balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31} // balanceOf(address)
	allowanceSelector = []byte{0xdd, 0x62, 0xed, 0x3e} // allowance(address,address)
)

// Client implements Provider against an ethereum JSON-RPC node.
type Client struct {
	eth *ethclient.Client
}

// Dial connects to the node at the given endpoint.
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, ErrUnavailable.Wrap(err)
	}
	return &Client{eth: eth}, nil
}

// Close closes the underlying connection.
func (client *Client) Close() error {
	client.eth.Close()
	return nil
}

// BalanceOf returns the token balance of the owner.
func (client *Client) BalanceOf(ctx context.Context, token, owner blockchain.Address) (_ *big.Int, err error) {
	defer mon.Task()(&ctx)(&err)

	data := make([]byte, 0, 4+32)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)

	return client.call(ctx, token, data)
}

// AllowanceOf returns the amount the owner has approved the spender to
// transfer.
func (client *Client) AllowanceOf(ctx context.Context, token, owner, spender blockchain.Address) (_ *big.Int, err error) {
	defer mon.Task()(&ctx)(&err)

	data := make([]byte, 0, 4+64)
	data = append(data, allowanceSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)

	return client.call(ctx, token, data)
}

// CurrentBlock returns the number of the current head block.
func (client *Client) CurrentBlock(ctx context.Context) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	number, err := client.eth.BlockNumber(ctx)
	if err != nil {
		return 0, ErrUnavailable.Wrap(err)
	}
	return int64(number), nil
}

func (client *Client) call(ctx context.Context, token blockchain.Address, data []byte) (*big.Int, error) {
	contract := common.Address(token)
	out, err := client.eth.CallContract(ctx, ethereum.CallMsg{
		To:   &contract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, ErrUnavailable.Wrap(err)
	}
	if len(out) != 32 {
		return nil, Error.New("unexpected call result length %d", len(out))
	}
	return new(big.Int).SetBytes(out), nil
}
