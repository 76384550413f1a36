// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package orders

// Status refers to the lifecycle state of an order.
type Status string

const (
	// StatusOpen orders are live and candidates for the next auction.
	StatusOpen Status = "open"
	// StatusFullyExecuted orders have been executed for their full amount.
	StatusFullyExecuted Status = "fully-executed"
	// StatusCancelled orders were cancelled by their owner off-chain.
	StatusCancelled Status = "cancelled"
	// StatusExpired orders outlived their validity window.
	StatusExpired Status = "expired"
	// StatusInvalidated orders were revoked on chain, outside the
	// cancellation API.
	StatusInvalidated Status = "invalidated"
	// StatusPresignaturePending orders await on-chain confirmation of
	// their presignature before becoming live.
	StatusPresignaturePending Status = "presignature-pending"
)

// Terminal reports whether the status permits no further transitions.
func (status Status) Terminal() bool {
	switch status {
	case StatusFullyExecuted, StatusCancelled, StatusExpired, StatusInvalidated:
		return true
	}
	return false
}
