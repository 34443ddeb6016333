package booking

import (
	"math/big"
	"strings"
	"time"
)

// Snapshot is a read-only, timestamped copy of a reservation as the escrow
// ledger last reported it. The ledger owns the authoritative record; a
// refresh produces a new Snapshot rather than mutating this one.
type Snapshot struct {
	BookingID      uint64    `json:"bookingId"`
	ListingID      uint64    `json:"listingId"`
	State          State     `json:"state"`
	OriginalPayer  string    `json:"originalPayer"`
	Owner          string    `json:"owner"`
	Renter         string    `json:"renter"`
	Deposit        *big.Int  `json:"deposit"`
	Price          *big.Int  `json:"price"`
	TotalPaid      *big.Int  `json:"totalPaid"`
	OwnerShareBps  uint32    `json:"ownerShareBps"`
	BrokerShareBps uint32    `json:"brokerShareBps"`
	ExpiresAt      time.Time `json:"expiresAt"`
	IsRerent       bool      `json:"isRerent"`
	FetchedAt      time.Time `json:"fetchedAt"`
}

// Age is the snapshot's staleness at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// Expired reports whether a PREBOOKED reservation has lapsed with no
// finalizer. Expiry is a client-side classification; the refund itself is
// performed by the ledger.
func (s *Snapshot) Expired(now time.Time) bool {
	return s.State == StatePrebooked && !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Stakeholder reports whether addr is a party to the reservation.
func (s *Snapshot) Stakeholder(addr string) bool {
	return equalAddr(addr, s.Renter) || equalAddr(addr, s.Owner) || equalAddr(addr, s.OriginalPayer)
}

// Listing is the ledger's pricing configuration for one property/date unit.
// Created by an owner action outside this core; read-only here.
type Listing struct {
	ListingID       uint64    `json:"listingId"`
	Owner           string    `json:"owner"`
	RentPrice       *big.Int  `json:"rentPrice"`
	RentSecurity    *big.Int  `json:"rentSecurity"`
	BookingPrice    *big.Int  `json:"bookingPrice"`
	BookingSecurity *big.Int  `json:"bookingSecurity"`
	Active          bool      `json:"active"`
	FetchedAt       time.Time `json:"fetchedAt"`
}

// Pricing is the tuple a broker replaces when re-renting.
type Pricing struct {
	RentPrice       *big.Int `json:"rentPrice"`
	RentSecurity    *big.Int `json:"rentSecurity"`
	BookingPrice    *big.Int `json:"bookingPrice"`
	BookingSecurity *big.Int `json:"bookingSecurity"`
}

func equalAddr(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
