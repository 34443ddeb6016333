package booking

import (
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/codewizard26/rebnb-hack/internal/token"
)

// Inputs carries the user-supplied parts of an action request. Balance and
// Allowance are optional pre-fetched token readings; nil skips the check
// (native payment media have no allowance at all).
type Inputs struct {
	Caller string

	// Deposit overrides the listing's booking security for prebook, as a
	// decimal string. Empty means "use the listing's configured security".
	Deposit string

	// Pricing is the replacement tuple for a re-rent, decimal strings.
	Pricing *PricingInput

	// ContentRef attaches packaged evidence to dispute actions.
	ContentRef string

	Balance   *big.Int
	Allowance *big.Int
}

// PricingInput is the re-rent pricing tuple as entered by the broker.
type PricingInput struct {
	RentPrice       string `json:"rentPrice" validate:"required"`
	RentSecurity    string `json:"rentSecurity" validate:"required"`
	BookingPrice    string `json:"bookingPrice" validate:"required"`
	BookingSecurity string `json:"bookingSecurity" validate:"required"`
}

// Planner turns (snapshot, action, inputs) into a concrete Intent or a typed
// Rejection. It performs no I/O: every check here is a local pre-flight gate.
type Planner struct {
	token          token.Token
	stalenessBound time.Duration
	now            func() time.Time
}

// NewPlanner builds a planner for the given token. stalenessBound is the
// oldest snapshot the planner will act on; pick the duration of one typical
// confirmation interval.
func NewPlanner(tok token.Token, stalenessBound time.Duration) *Planner {
	return &Planner{token: tok, stalenessBound: stalenessBound, now: time.Now}
}

// Plan validates the requested transition and computes the exact attached
// value. snap is nil for entry actions (prebook, direct-book); listing is
// required whenever pricing feeds the value computation.
func (p *Planner) Plan(snap *Snapshot, listing *Listing, action Action, in Inputs) (*Intent, error) {
	now := p.now()

	from := StateNone
	if snap != nil {
		from = snap.State
	}

	if err := p.checkFreshness(snap, listing, now); err != nil {
		return nil, err
	}

	// Expired pre-bookings only lapse; cancel/finalize against them is
	// rejected here so the caller refreshes instead of burning a call.
	if snap != nil && snap.Expired(now) && action != ActionRaiseDispute {
		return nil, NewRejection(RejectIllegalTransition,
			"reservation %d expired at %s; refresh to observe the refund", snap.BookingID, snap.ExpiresAt.Format(time.RFC3339))
	}

	if _, ok := LegalTransition(from, action, snap, in.Caller); !ok {
		return nil, NewRejection(RejectIllegalTransition,
			"action %s is not legal from state %s for caller %s", action, from, in.Caller)
	}

	// Owners cannot take the paying side of their own listing.
	if listing != nil && (action == ActionPrebook || action == ActionDirectBook) && equalAddr(in.Caller, listing.Owner) {
		return nil, NewRejection(RejectIllegalTransition, "cannot book your own listing")
	}

	intent := &Intent{
		ID:        uuid.New().String(),
		Action:    action,
		Caller:    in.Caller,
		CreatedAt: now,
		Value:     big.NewInt(0),
	}
	if snap != nil {
		intent.BookingID = snap.BookingID
		intent.ListingID = snap.ListingID
	}
	if listing != nil {
		intent.ListingID = listing.ListingID
	}

	if err := p.fill(intent, snap, listing, action, in); err != nil {
		return nil, err
	}

	if err := p.checkFunds(intent, in); err != nil {
		return nil, err
	}
	return intent, nil
}

func (p *Planner) fill(intent *Intent, snap *Snapshot, listing *Listing, action Action, in Inputs) error {
	switch action {
	case ActionPrebook:
		if listing == nil {
			return NewRejection(RejectIllegalTransition, "prebook requires a listing")
		}
		deposit := listing.BookingSecurity
		if in.Deposit != "" {
			v, err := p.token.Parse(in.Deposit)
			if err != nil {
				return NewRejection(RejectMalformedAmount, "deposit: %v", err)
			}
			deposit = v
		}
		intent.Method = MethodPrebook
		intent.Amount = deposit
		intent.Value = deposit

	case ActionDirectBook:
		if listing == nil {
			return NewRejection(RejectIllegalTransition, "direct-book requires a listing")
		}
		total := new(big.Int).Add(listing.RentPrice, listing.RentSecurity)
		intent.Method = MethodBookDirectly
		intent.Amount = total
		intent.Value = total

	case ActionFinalize:
		if snap == nil || listing == nil {
			return NewRejection(RejectIllegalTransition, "finalize requires a reservation and its listing")
		}
		total := new(big.Int).Add(listing.RentPrice, listing.RentSecurity)
		due := new(big.Int).Sub(total, snap.TotalPaid)
		if due.Sign() < 0 {
			due.SetInt64(0)
		}
		intent.Method = MethodFinalizeBooking
		intent.Amount = total
		intent.Value = due

	case ActionRerent:
		if snap == nil || listing == nil {
			return NewRejection(RejectIllegalTransition, "rerent requires a reservation and its listing")
		}
		if in.Pricing == nil {
			return NewRejection(RejectMalformedAmount, "rerent requires a replacement pricing tuple")
		}
		pricing, err := p.parsePricing(in.Pricing)
		if err != nil {
			return err
		}
		intent.Method = MethodRentListing
		intent.Pricing = pricing
		intent.Value = listing.RentSecurity

	case ActionUnlock:
		if listing == nil {
			return NewRejection(RejectIllegalTransition, "unlock requires the listing")
		}
		intent.Method = MethodUnlockRoom
		intent.Value = listing.BookingPrice

	case ActionCancel:
		intent.Method = MethodCancelBooking

	case ActionRaiseDispute:
		intent.Method = MethodRaiseDispute
		intent.ContentRef = in.ContentRef

	case ActionSubmitEvidence:
		if in.ContentRef == "" {
			return NewRejection(RejectInvalidEvidence, "evidence submission requires a content reference")
		}
		intent.Method = MethodSubmitEvidence
		intent.ContentRef = in.ContentRef

	default:
		return NewRejection(RejectIllegalTransition, "unknown action %s", action)
	}
	return nil
}

func (p *Planner) parsePricing(in *PricingInput) (*Pricing, error) {
	out := &Pricing{}
	for _, f := range []struct {
		name string
		src  string
		dst  **big.Int
	}{
		{"rentPrice", in.RentPrice, &out.RentPrice},
		{"rentSecurity", in.RentSecurity, &out.RentSecurity},
		{"bookingPrice", in.BookingPrice, &out.BookingPrice},
		{"bookingSecurity", in.BookingSecurity, &out.BookingSecurity},
	} {
		v, err := p.token.Parse(f.src)
		if err != nil {
			return nil, NewRejection(RejectMalformedAmount, "%s: %v", f.name, err)
		}
		*f.dst = v
	}
	return out, nil
}

func (p *Planner) checkFreshness(snap *Snapshot, listing *Listing, now time.Time) error {
	if snap != nil && now.Sub(snap.FetchedAt) > p.stalenessBound {
		return NewRejection(RejectStaleSnapshot,
			"reservation snapshot is %s old (bound %s); refresh before planning",
			now.Sub(snap.FetchedAt).Truncate(time.Millisecond), p.stalenessBound)
	}
	if listing != nil && now.Sub(listing.FetchedAt) > p.stalenessBound {
		return NewRejection(RejectStaleSnapshot,
			"listing snapshot is %s old (bound %s); refresh before planning",
			now.Sub(listing.FetchedAt).Truncate(time.Millisecond), p.stalenessBound)
	}
	return nil
}

func (p *Planner) checkFunds(intent *Intent, in Inputs) error {
	if intent.Value == nil || intent.Value.Sign() == 0 {
		return nil
	}
	if in.Balance != nil && in.Balance.Cmp(intent.Value) < 0 {
		return NewRejection(RejectInsufficientBalance,
			"need %s %s, balance is %s", p.token.Format(intent.Value), p.token.Symbol, p.token.Format(in.Balance))
	}
	if in.Allowance != nil && in.Allowance.Cmp(intent.Value) < 0 {
		return NewRejection(RejectInsufficientAllowance,
			"need allowance %s %s, current is %s", p.token.Format(intent.Value), p.token.Symbol, p.token.Format(in.Allowance))
	}
	return nil
}

// MalformedAmountFrom converts a codec failure into its planner rejection.
func MalformedAmountFrom(err error) error {
	if errors.Is(err, token.ErrMalformedAmount) {
		return NewRejection(RejectMalformedAmount, "%v", err)
	}
	return err
}
