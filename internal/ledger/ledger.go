// Package ledger defines the narrow boundary to the external escrow ledger.
// The ledger owns all authoritative reservation state and fund movement; this
// package only describes how to read it, simulate against it, and drive it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/codewizard26/rebnb-hack/internal/booking"
)

// Reader provides read-only views of listings and reservations.
type Reader interface {
	GetListing(ctx context.Context, listingID uint64) (*booking.Listing, error)
	GetReservation(ctx context.Context, bookingID uint64) (*booking.Snapshot, error)
	GetReservationByListing(ctx context.Context, listingID uint64) (*booking.Snapshot, error)
	IsListingActive(ctx context.Context, listingID uint64) (bool, error)
}

// TxHandle identifies a submitted transaction.
type TxHandle struct {
	Hash string
}

// TxStatus is the terminal classification of a submitted transaction.
type TxStatus int

const (
	TxConfirmed TxStatus = iota
	TxReverted
)

// Receipt is the ledger's word on a settled transaction.
type Receipt struct {
	Hash        string
	Status      TxStatus
	Reason      string // decoded revert reason when Status is TxReverted
	BlockNumber uint64
	GasUsed     uint64
}

// Writer submits planned intents as state-changing ledger calls. Submit
// returns once the transaction is accepted into the network; Wait blocks
// until it settles or ctx expires.
type Writer interface {
	Submit(ctx context.Context, intent *booking.Intent) (*TxHandle, error)
	Wait(ctx context.Context, h *TxHandle) (*Receipt, error)
}

// Simulator answers "would this call succeed" without committing anything.
// A failure is reported as a *RevertError carrying the decoded reason.
type Simulator interface {
	Simulate(ctx context.Context, intent *booking.Intent) error
}

// TokenBackend is present only for ERC-20 payment media; native-asset media
// have no approval step and omit this interface entirely.
type TokenBackend interface {
	BalanceOf(ctx context.Context, addr string) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender string) (*big.Int, error)
	Approve(ctx context.Context, spender string, amount *big.Int) (*TxHandle, error)
}

// ContentStore is the opaque evidence store: deterministic reference in,
// bytes out.
type ContentStore interface {
	Store(ctx context.Context, name string, data []byte) (string, error)
	Retrieve(ctx context.Context, ref string) ([]byte, error)
}

// RevertError is a simulation or execution failure with the revert reason the
// node reported, when one could be extracted.
type RevertError struct {
	Reason string
	Raw    string
}

func (e *RevertError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("reverted: %s", e.Reason)
	}
	return fmt.Sprintf("reverted: %s", e.Raw)
}

// AsRevert unwraps err into a RevertError when it carries one.
func AsRevert(err error) (*RevertError, bool) {
	var r *RevertError
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// ClassifyReason maps raw contract revert strings onto a best-effort human
// explanation. Unrecognized reasons pass through verbatim.
func ClassifyReason(raw string) string {
	switch {
	case strings.Contains(raw, "Listing is not active"):
		return "the listing is not available (booked, completed, or in the past)"
	case strings.Contains(raw, "Incorrect rent security"), strings.Contains(raw, "Incorrect security"):
		return "the security deposit amount is incorrect"
	case strings.Contains(raw, "Cannot rent your own listing"):
		return "you cannot rent your own listing"
	case strings.Contains(raw, "Unauthorized"):
		return "you are not authorized to perform this action"
	case strings.Contains(raw, "Transfer failed"):
		return "token transfer failed; check balance and approval"
	case strings.Contains(raw, "Booking expired"):
		return "the pre-booking has expired"
	}
	return raw
}
