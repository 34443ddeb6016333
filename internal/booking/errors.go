package booking

import (
	"errors"
	"fmt"
)

// RejectCode classifies a planner or coordinator rejection so the caller can
// render distinct UI and decide retry eligibility.
type RejectCode string

const (
	RejectIllegalTransition     RejectCode = "ILLEGAL_TRANSITION"
	RejectMalformedAmount       RejectCode = "MALFORMED_AMOUNT"
	RejectInsufficientBalance   RejectCode = "INSUFFICIENT_BALANCE"
	RejectInsufficientAllowance RejectCode = "INSUFFICIENT_ALLOWANCE"
	RejectStaleSnapshot         RejectCode = "STALE_SNAPSHOT"
	RejectConflictingIntent     RejectCode = "CONFLICTING_INTENT"
	RejectInvalidEvidence       RejectCode = "INVALID_EVIDENCE"
	RejectSimulationFailed      RejectCode = "SIMULATION_REVERTED"
)

// Rejection is a typed refusal. Pre-flight rejections are detected locally at
// zero network cost; simulation rejections carry the decoded revert reason.
type Rejection struct {
	Code   RejectCode `json:"code"`
	Reason string     `json:"reason"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Reason)
}

// NewRejection builds a Rejection with a formatted reason.
func NewRejection(code RejectCode, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// AsRejection unwraps err into a Rejection when it carries one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// Retryable reports whether the rejection was detected before any ledger
// contact, meaning the caller may correct the input and resubmit freely.
func (r *Rejection) Retryable() bool {
	return r.Code != RejectSimulationFailed
}
