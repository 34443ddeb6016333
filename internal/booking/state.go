package booking

// State mirrors the escrow contract's reservation state enum.
type State uint8

const (
	StatePrebooked State = iota
	StateFinalized
	StateRented
	StateRefunded
	StateDispute

	// StateNone marks entry actions that create a reservation rather than
	// act on an existing one.
	StateNone State = 0xFF
)

func (s State) String() string {
	switch s {
	case StatePrebooked:
		return "PREBOOKED"
	case StateFinalized:
		return "FINALIZED"
	case StateRented:
		return "RENTED"
	case StateRefunded:
		return "REFUNDED"
	case StateDispute:
		return "DISPUTE"
	case StateNone:
		return "NONE"
	}
	return "UNKNOWN"
}

// Terminal reports whether no further client-driven transition exists.
// Dispute resolution happens off-protocol.
func (s State) Terminal() bool {
	return s == StateRefunded || s == StateDispute
}

// Action is a user-initiated operation against a listing or reservation.
type Action string

const (
	ActionDirectBook     Action = "direct_book"
	ActionPrebook        Action = "prebook"
	ActionFinalize       Action = "finalize"
	ActionRerent         Action = "rerent"
	ActionCancel         Action = "cancel"
	ActionUnlock         Action = "unlock"
	ActionRaiseDispute   Action = "raise_dispute"
	ActionSubmitEvidence Action = "submit_evidence"
)

// payer constraints, evaluated against the snapshot's parties.
type payerMask uint8

const (
	payerAny payerMask = 1 << iota
	payerRenter
	payerOwner
	payerOriginalPayer
)

type transition struct {
	to    State
	payer payerMask
}

type transitionKey struct {
	from   State
	action Action
}

// transitions is the single source of truth for legality. Anything absent
// here is rejected client-side before any ledger contact. Expiry of a
// PREBOOKED reservation is time-triggered and read-only, so it has no row.
var transitions = map[transitionKey]transition{
	{StateNone, ActionDirectBook}:        {StateFinalized, payerAny},
	{StateNone, ActionPrebook}:           {StatePrebooked, payerAny},
	{StatePrebooked, ActionFinalize}:     {StateFinalized, payerAny},
	{StatePrebooked, ActionRerent}:       {StatePrebooked, payerOriginalPayer},
	{StatePrebooked, ActionCancel}:       {StateRefunded, payerOriginalPayer | payerOwner},
	{StateFinalized, ActionUnlock}:       {StateRented, payerRenter},
	{StateFinalized, ActionRaiseDispute}: {StateDispute, payerRenter | payerOwner | payerOriginalPayer},
	{StateRented, ActionRaiseDispute}:    {StateDispute, payerRenter | payerOwner | payerOriginalPayer},
	// Evidence rides the dispute sub-flow and is legal from the same states.
	{StateFinalized, ActionSubmitEvidence}: {StateFinalized, payerRenter | payerOwner | payerOriginalPayer},
	{StateRented, ActionSubmitEvidence}:    {StateRented, payerRenter | payerOwner | payerOriginalPayer},
	{StateDispute, ActionSubmitEvidence}:   {StateDispute, payerRenter | payerOwner | payerOriginalPayer},
}

// LegalTransition looks up the transition table for (from, action) and checks
// the caller satisfies the required payer role on the snapshot. For entry
// actions snap may be nil.
func LegalTransition(from State, action Action, snap *Snapshot, caller string) (State, bool) {
	tr, ok := transitions[transitionKey{from, action}]
	if !ok {
		return 0, false
	}
	if tr.payer&payerAny != 0 {
		return tr.to, true
	}
	if snap == nil {
		return 0, false
	}
	if tr.payer&payerRenter != 0 && equalAddr(caller, snap.Renter) {
		return tr.to, true
	}
	if tr.payer&payerOwner != 0 && equalAddr(caller, snap.Owner) {
		return tr.to, true
	}
	if tr.payer&payerOriginalPayer != 0 && equalAddr(caller, snap.OriginalPayer) {
		return tr.to, true
	}
	return 0, false
}
