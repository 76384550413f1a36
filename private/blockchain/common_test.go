// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package blockchain_test

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/t0rbik/services/private/blockchain"
	"github.com/t0rbik/services/private/blockchain/blockchaintest"
)

func TestHashJSON(t *testing.T) {
	hash := blockchaintest.NewHash()

	data, err := json.Marshal(hash)
	require.NoError(t, err)
	require.JSONEq(t, `"`+hash.Hex()+`"`, string(data))

	var decoded blockchain.Hash
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, hash, decoded)
}

func TestAddressJSON(t *testing.T) {
	address := blockchaintest.NewAddress()

	data, err := json.Marshal(address)
	require.NoError(t, err)

	var decoded blockchain.Address
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, address, decoded)

	require.Error(t, json.Unmarshal([]byte(`"0xnot-an-address"`), &decoded))
}

func TestBytesConversions(t *testing.T) {
	hash := blockchaintest.NewHash()
	roundtrip, err := blockchain.BytesToHash(hash.Bytes())
	require.NoError(t, err)
	require.Equal(t, hash, roundtrip)

	_, err = blockchain.BytesToHash([]byte("short"))
	require.Error(t, err)

	address := blockchaintest.NewAddress()
	rtAddress, err := blockchain.BytesToAddress(address.Bytes())
	require.NoError(t, err)
	require.Equal(t, address, rtAddress)

	_, err = blockchain.BytesToAddress([]byte("short"))
	require.Error(t, err)
}

func TestAmountStrings(t *testing.T) {
	amount := new(big.Int)
	amount.SetString("115792089237316195423570985008687907853269984665640564039457", 10)

	decoded, err := blockchain.AmountFromString(blockchain.AmountToString(amount))
	require.NoError(t, err)
	require.Equal(t, 0, amount.Cmp(decoded))

	require.Equal(t, "0", blockchain.AmountToString(nil))

	decoded, err = blockchain.AmountFromString("")
	require.NoError(t, err)
	require.Equal(t, 0, decoded.Sign())

	_, err = blockchain.AmountFromString("not a number")
	require.Error(t, err)
}
