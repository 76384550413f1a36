// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/zeebo/errs"

	"github.com/t0rbik/services/private/blockchain"
)

// recoverVerifier verifies order signatures by recovering the signing key
// from a 65-byte [R || S || V] secp256k1 signature over the digest.
type recoverVerifier struct{}

func newRecoverVerifier() recoverVerifier { return recoverVerifier{} }

// Verify implements orders.SignatureVerifier.
func (recoverVerifier) Verify(ctx context.Context, digest blockchain.Hash, signature []byte, owner blockchain.Address) (bool, error) {
	if len(signature) != crypto.SignatureLength {
		return false, nil
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return false, errs.Wrap(err)
	}
	recovered, err := blockchain.BytesToAddress(crypto.PubkeyToAddress(*pub).Bytes())
	if err != nil {
		return false, errs.Wrap(err)
	}
	return recovered == owner, nil
}
