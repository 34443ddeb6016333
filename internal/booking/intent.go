package booking

import (
	"fmt"
	"math/big"
	"time"
)

// Method names the escrow contract callable an Intent targets.
type Method string

const (
	MethodPrebook         Method = "prebook"
	MethodBookDirectly    Method = "bookDirectly"
	MethodFinalizeBooking Method = "finalizeBooking"
	MethodRentListing     Method = "rentListing"
	MethodCancelBooking   Method = "cancelBooking"
	MethodUnlockRoom      Method = "unlockRoom"
	MethodRaiseDispute    Method = "raiseDispute"
	MethodSubmitEvidence  Method = "submitEvidence"
)

// Intent is a fully planned ledger call: target method, arguments, and the
// exact value that must accompany it. It is produced by the planner and
// consumed by the coordinator; it never mutates after creation.
type Intent struct {
	ID        string    `json:"id"`
	Action    Action    `json:"action"`
	Method    Method    `json:"method"`
	BookingID uint64    `json:"bookingId,omitempty"`
	ListingID uint64    `json:"listingId,omitempty"`
	Caller    string    `json:"caller"`
	Value     *big.Int  `json:"value"`
	CreatedAt time.Time `json:"createdAt"`

	// Method arguments beyond the id. At most one of these is set,
	// depending on Method.
	Amount     *big.Int `json:"amount,omitempty"`     // prebook deposit, bookDirectly price, finalize totalPaid
	Pricing    *Pricing `json:"pricing,omitempty"`    // rentListing replacement tuple
	ContentRef string   `json:"contentRef,omitempty"` // submitEvidence reference
}

// Key scopes the at-most-one-pending invariant. Reservations are keyed by
// bookingId; entry actions that have no bookingId yet fall back to the
// listing, which is equivalent since a listing admits one active reservation.
func (i *Intent) Key() string {
	if i.BookingID != 0 {
		return fmt.Sprintf("booking:%d", i.BookingID)
	}
	return fmt.Sprintf("listing:%d", i.ListingID)
}
