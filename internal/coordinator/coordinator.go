// Package coordinator owns the approve-then-act write path against the
// escrow ledger. At most one pending intent may exist per reservation; every
// write is dry-run simulated before anything is signed.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/codewizard26/rebnb-hack/internal/audit"
	"github.com/codewizard26/rebnb-hack/internal/booking"
	"github.com/codewizard26/rebnb-hack/internal/ledger"
)

// Outcome is the terminal classification of an executed intent.
type Outcome string

const (
	OutcomeConfirmed Outcome = "CONFIRMED"
	OutcomeReverted  Outcome = "REVERTED"
	OutcomeDropped   Outcome = "DROPPED"
)

// Phase tracks where a pending intent is in its lifecycle. Phases only move
// forward.
type Phase string

const (
	PhaseAccepted         Phase = "ACCEPTED"
	PhaseAwaitingApproval Phase = "AWAITING_APPROVAL"
	PhaseSimulating       Phase = "SIMULATING"
	PhaseSubmitted        Phase = "SUBMITTED"
)

// Result is what the caller gets back for a settled intent.
type Result struct {
	Outcome     Outcome
	TxHash      string
	Reason      string
	BlockNumber uint64
	GasUsed     uint64
}

// Event is emitted at each phase change so callers can stream progress.
type Event struct {
	IntentID string
	Action   booking.Action
	Phase    Phase
	Outcome  Outcome // set only on the terminal event
	TxHash   string
	At       time.Time
}

// PendingIntent is an intent the coordinator has accepted but not yet
// settled.
type PendingIntent struct {
	Intent *booking.Intent
	Phase  Phase
	TxHash string
	Seq    uint64
	Since  time.Time
}

// Config wires a Coordinator. Simulator and Writer are required; Tokens is
// nil under the native payment medium. Journal is optional but strongly
// recommended for crash recovery.
type Config struct {
	Writer         ledger.Writer
	Simulator      ledger.Simulator
	Tokens         ledger.TokenBackend
	Journal        *Journal
	Audit          *audit.Logger
	Sender         string // operator address whose allowance is checked
	Contract       string // escrow contract, the ERC-20 spender
	ConfirmTimeout time.Duration
	ApproveTimeout time.Duration

	// OnEvent receives phase-change events. May be nil.
	OnEvent func(Event)
	// Invalidate is called after any settled write so cached snapshots for
	// the touched reservation get refreshed. May be nil.
	Invalidate func(bookingID, listingID uint64)
}

type Coordinator struct {
	cfg Config

	mu      sync.Mutex
	pending map[string]*PendingIntent
	seq     uint64
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Writer == nil || cfg.Simulator == nil {
		return nil, errors.New("coordinator requires a writer and a simulator")
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 3 * time.Minute
	}
	if cfg.ApproveTimeout <= 0 {
		cfg.ApproveTimeout = 2 * time.Minute
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NewLogger()
	}
	return &Coordinator{
		cfg:     cfg,
		pending: make(map[string]*PendingIntent),
	}, nil
}

// Pending reports the in-flight intent for a reservation key, if any.
func (c *Coordinator) Pending(key string) (*PendingIntent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[key]
	return p, ok
}

// PendingAll snapshots every in-flight intent, ordered by acceptance.
func (c *Coordinator) PendingAll() []*PendingIntent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*PendingIntent, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, p)
	}
	return out
}

// Execute drives an intent through approval, simulation, submission and
// settlement. It blocks until the intent settles one way or another. A
// second intent for the same reservation while one is in flight is rejected
// with CONFLICTING_INTENT.
func (c *Coordinator) Execute(ctx context.Context, intent *booking.Intent) (*Result, error) {
	p, err := c.admit(intent)
	if err != nil {
		return nil, err
	}
	defer c.release(intent.Key())

	if c.cfg.Journal != nil {
		if err := c.cfg.Journal.Record(ctx, p); err != nil {
			log.Printf("[COORD] Journal write failed for intent %s: %v", intent.ID, err)
		}
	}
	c.emit(p, PhaseAccepted, "")
	c.cfg.Audit.LogIntent("INTENT_ACCEPTED", intent.ID, string(intent.Action), intent.BookingID, intent.ListingID, intent.Caller, "PENDING")

	if err := c.ensureApproval(ctx, p); err != nil {
		c.clearJournal(ctx, intent)
		return nil, err
	}

	// Dry run first. A simulation failure means the real call would revert,
	// so nothing gets signed or sent.
	c.setPhase(ctx, p, PhaseSimulating)
	if err := c.cfg.Simulator.Simulate(ctx, intent); err != nil {
		c.clearJournal(ctx, intent)
		if rev, ok := ledger.AsRevert(err); ok {
			c.cfg.Audit.LogRejection(string(intent.Action), intent.BookingID, intent.Caller, string(booking.RejectSimulationFailed), rev.Reason)
			return nil, booking.NewRejection(booking.RejectSimulationFailed, "%s", rev.Reason)
		}
		return nil, fmt.Errorf("simulate intent %s: %w", intent.ID, err)
	}

	handle, err := c.cfg.Writer.Submit(ctx, intent)
	if err != nil {
		c.clearJournal(ctx, intent)
		if rev, ok := ledger.AsRevert(err); ok {
			return nil, booking.NewRejection(booking.RejectSimulationFailed, "%s", rev.Reason)
		}
		c.cfg.Audit.LogError(intent.ID, string(intent.Action), err)
		return nil, fmt.Errorf("submit intent %s: %w", intent.ID, err)
	}

	c.mu.Lock()
	p.TxHash = handle.Hash
	c.mu.Unlock()
	c.setPhase(ctx, p, PhaseSubmitted)

	return c.settle(ctx, p, handle)
}

func (c *Coordinator) settle(ctx context.Context, p *PendingIntent, handle *ledger.TxHandle) (*Result, error) {
	intent := p.Intent

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	receipt, err := c.cfg.Writer.Wait(waitCtx, handle)
	if err != nil {
		// The transaction may still land later; the journal keeps the hash so
		// a restart can reconcile it.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			log.Printf("[COORD] Intent %s timed out waiting for tx %s", intent.ID, handle.Hash)
			c.cfg.Audit.LogIntent("INTENT_DROPPED", intent.ID, string(intent.Action), intent.BookingID, intent.ListingID, intent.Caller, "TIMED_OUT")
			// The tx may still land; cached snapshots must not outlive it.
			if c.cfg.Invalidate != nil {
				c.cfg.Invalidate(intent.BookingID, intent.ListingID)
			}
			c.emitTerminal(p, OutcomeDropped)
			return &Result{Outcome: OutcomeDropped, TxHash: handle.Hash, Reason: "confirmation timed out"}, nil
		}
		return nil, fmt.Errorf("await intent %s: %w", intent.ID, err)
	}

	c.clearJournal(ctx, intent)
	if c.cfg.Invalidate != nil {
		c.cfg.Invalidate(intent.BookingID, intent.ListingID)
	}

	result := &Result{
		TxHash:      receipt.Hash,
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
	}
	if receipt.Status == ledger.TxConfirmed {
		result.Outcome = OutcomeConfirmed
		c.cfg.Audit.LogSettlement(intent.ID, string(intent.Action), receipt.Hash, "CONFIRMED", receipt.BlockNumber)
		c.emitTerminal(p, OutcomeConfirmed)
	} else {
		result.Outcome = OutcomeReverted
		result.Reason = receipt.Reason
		c.cfg.Audit.LogSettlement(intent.ID, string(intent.Action), receipt.Hash, "REVERTED", receipt.BlockNumber)
		c.emitTerminal(p, OutcomeReverted)
	}
	return result, nil
}

// ensureApproval grants the escrow contract an ERC-20 allowance when the
// intent moves value and the current allowance falls short. Native media
// skip this entirely.
func (c *Coordinator) ensureApproval(ctx context.Context, p *PendingIntent) error {
	intent := p.Intent
	if c.cfg.Tokens == nil || intent.Value == nil || intent.Value.Sign() == 0 {
		return nil
	}

	allowance, err := c.cfg.Tokens.Allowance(ctx, c.cfg.Sender, c.cfg.Contract)
	if err != nil {
		return fmt.Errorf("check allowance: %w", err)
	}
	if allowance.Cmp(intent.Value) >= 0 {
		return nil
	}

	c.setPhase(ctx, p, PhaseAwaitingApproval)
	log.Printf("[COORD] Approving %s for intent %s (allowance %s)", intent.Value, intent.ID, allowance)

	handle, err := c.cfg.Tokens.Approve(ctx, c.cfg.Contract, new(big.Int).Set(intent.Value))
	if err != nil {
		return fmt.Errorf("approve: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ApproveTimeout)
	defer cancel()
	receipt, err := c.cfg.Writer.Wait(waitCtx, handle)
	if err != nil {
		return fmt.Errorf("await approval tx %s: %w", handle.Hash, err)
	}
	if receipt.Status != ledger.TxConfirmed {
		return fmt.Errorf("approval tx %s reverted", handle.Hash)
	}
	return nil
}

func (c *Coordinator) admit(intent *booking.Intent) (*PendingIntent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := intent.Key()
	if existing, ok := c.pending[key]; ok {
		return nil, booking.NewRejection(booking.RejectConflictingIntent,
			"intent %s (%s) is already in flight for %s", existing.Intent.ID, existing.Intent.Action, key)
	}

	c.seq++
	p := &PendingIntent{
		Intent: intent,
		Phase:  PhaseAccepted,
		Seq:    c.seq,
		Since:  time.Now(),
	}
	c.pending[key] = p
	return p, nil
}

func (c *Coordinator) release(key string) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

func (c *Coordinator) setPhase(ctx context.Context, p *PendingIntent, phase Phase) {
	c.mu.Lock()
	p.Phase = phase
	c.mu.Unlock()
	if c.cfg.Journal != nil {
		if err := c.cfg.Journal.Record(ctx, p); err != nil {
			log.Printf("[COORD] Journal update failed for intent %s: %v", p.Intent.ID, err)
		}
	}
	c.emit(p, phase, "")
}

func (c *Coordinator) clearJournal(ctx context.Context, intent *booking.Intent) {
	if c.cfg.Journal == nil {
		return
	}
	if err := c.cfg.Journal.Clear(ctx, intent.Key()); err != nil {
		log.Printf("[COORD] Journal clear failed for intent %s: %v", intent.ID, err)
	}
}

func (c *Coordinator) emit(p *PendingIntent, phase Phase, outcome Outcome) {
	if c.cfg.OnEvent == nil {
		return
	}
	c.cfg.OnEvent(Event{
		IntentID: p.Intent.ID,
		Action:   p.Intent.Action,
		Phase:    phase,
		Outcome:  outcome,
		TxHash:   p.TxHash,
		At:       time.Now(),
	})
}

func (c *Coordinator) emitTerminal(p *PendingIntent, outcome Outcome) {
	c.emit(p, p.Phase, outcome)
}

// Recover replays journaled intents left over from a previous run. Each is
// resolved as Dropped: a journaled transaction hash may have settled while we
// were down, so the caller is told to re-read the ledger rather than trust
// local state.
func (c *Coordinator) Recover(ctx context.Context) ([]*Result, error) {
	if c.cfg.Journal == nil {
		return nil, nil
	}

	records, err := c.cfg.Journal.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}

	results := make([]*Result, 0, len(records))
	for _, rec := range records {
		log.Printf("[COORD] Recovered stale intent %s (%s, phase %s); dropping", rec.IntentID, rec.Action, rec.Phase)
		c.cfg.Audit.LogIntent("INTENT_RECOVERED", rec.IntentID, rec.Action, rec.BookingID, rec.ListingID, rec.Caller, "DROPPED")
		if err := c.cfg.Journal.Clear(ctx, rec.Key); err != nil {
			return nil, fmt.Errorf("clear journal key %s: %w", rec.Key, err)
		}
		if c.cfg.Invalidate != nil {
			c.cfg.Invalidate(rec.BookingID, rec.ListingID)
		}
		results = append(results, &Result{
			Outcome: OutcomeDropped,
			TxHash:  rec.TxHash,
			Reason:  "recovered after restart; re-read ledger state",
		})
	}
	return results, nil
}
