package coordinator

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewizard26/rebnb-hack/internal/booking"
	"github.com/codewizard26/rebnb-hack/internal/ledger"
)

type stubLedger struct {
	mu sync.Mutex

	simulateErr error
	submitErr   error
	waitStatus  ledger.TxStatus
	waitReason  string
	waitBlocks  bool // Wait blocks until ctx expires
	releaseWait chan struct{}

	simulateCalls int
	submitCalls   int
	waitCalls     int
}

func (s *stubLedger) Simulate(ctx context.Context, intent *booking.Intent) error {
	s.mu.Lock()
	s.simulateCalls++
	s.mu.Unlock()
	return s.simulateErr
}

func (s *stubLedger) Submit(ctx context.Context, intent *booking.Intent) (*ledger.TxHandle, error) {
	s.mu.Lock()
	s.submitCalls++
	s.mu.Unlock()
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return &ledger.TxHandle{Hash: "0xabc123"}, nil
}

func (s *stubLedger) Wait(ctx context.Context, h *ledger.TxHandle) (*ledger.Receipt, error) {
	s.mu.Lock()
	s.waitCalls++
	s.mu.Unlock()
	if s.waitBlocks {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.releaseWait:
		}
	}
	return &ledger.Receipt{
		Hash:        h.Hash,
		Status:      s.waitStatus,
		Reason:      s.waitReason,
		BlockNumber: 1042,
		GasUsed:     21000,
	}, nil
}

type stubTokens struct {
	mu        sync.Mutex
	allowance *big.Int

	allowanceCalls int
	approveCalls   int
}

func (s *stubTokens) BalanceOf(ctx context.Context, addr string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (s *stubTokens) Allowance(ctx context.Context, owner, spender string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowanceCalls++
	return new(big.Int).Set(s.allowance), nil
}

func (s *stubTokens) Approve(ctx context.Context, spender string, amount *big.Int) (*ledger.TxHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approveCalls++
	return &ledger.TxHandle{Hash: "0xapprove"}, nil
}

func testIntent() *booking.Intent {
	return &booking.Intent{
		ID:        "intent-1",
		Action:    booking.ActionFinalize,
		Method:    booking.MethodFinalizeBooking,
		BookingID: 7,
		ListingID: 42,
		Caller:    "0xcccc000000000000000000000000000000000003",
		Value:     big.NewInt(100000000000000000),
		Amount:    big.NewInt(100000000000000000),
		CreatedAt: time.Now(),
	}
}

func TestExecuteConfirmed(t *testing.T) {
	stub := &stubLedger{waitStatus: ledger.TxConfirmed}

	var invalidated []uint64
	c, err := New(Config{
		Writer:    stub,
		Simulator: stub,
		Invalidate: func(bookingID, listingID uint64) {
			invalidated = append(invalidated, bookingID, listingID)
		},
	})
	require.NoError(t, err)

	res, err := c.Execute(context.Background(), testIntent())
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	assert.Equal(t, "0xabc123", res.TxHash)
	assert.Equal(t, uint64(1042), res.BlockNumber)
	assert.Equal(t, 1, stub.simulateCalls)
	assert.Equal(t, 1, stub.submitCalls)
	assert.Equal(t, []uint64{7, 42}, invalidated)

	// Pending slot is freed once the intent settles.
	_, ok := c.Pending("booking:7")
	assert.False(t, ok)
}

func TestExecuteSimulationRevertBlocksWrite(t *testing.T) {
	stub := &stubLedger{
		simulateErr: &ledger.RevertError{Reason: "you are not authorized to perform this action", Raw: "Unauthorized"},
	}
	c, err := New(Config{Writer: stub, Simulator: stub})
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), testIntent())
	require.Error(t, err)

	rej, ok := booking.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, booking.RejectSimulationFailed, rej.Code)
	assert.Contains(t, rej.Reason, "not authorized")

	// Nothing was ever submitted.
	assert.Equal(t, 0, stub.submitCalls)
	assert.Equal(t, 0, stub.waitCalls)
}

func TestExecuteConflictingIntent(t *testing.T) {
	stub := &stubLedger{
		waitStatus:  ledger.TxConfirmed,
		waitBlocks:  true,
		releaseWait: make(chan struct{}),
	}
	c, err := New(Config{Writer: stub, Simulator: stub})
	require.NoError(t, err)

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		intent := testIntent()
		close(started)
		_, err := c.Execute(context.Background(), intent)
		done <- err
	}()
	<-started

	// Wait until the first intent is registered as pending.
	require.Eventually(t, func() bool {
		_, ok := c.Pending("booking:7")
		return ok
	}, time.Second, 5*time.Millisecond)

	second := testIntent()
	second.ID = "intent-2"
	second.Action = booking.ActionCancel
	second.Method = booking.MethodCancelBooking
	_, err = c.Execute(context.Background(), second)
	require.Error(t, err)

	rej, ok := booking.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, booking.RejectConflictingIntent, rej.Code)
	assert.Contains(t, rej.Reason, "intent-1")

	close(stub.releaseWait)
	require.NoError(t, <-done)
}

func TestExecuteNativeSkipsApproval(t *testing.T) {
	stub := &stubLedger{waitStatus: ledger.TxConfirmed}
	tokens := &stubTokens{allowance: big.NewInt(0)}

	// Tokens omitted from the config: native medium.
	c, err := New(Config{Writer: stub, Simulator: stub})
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), testIntent())
	require.NoError(t, err)
	assert.Equal(t, 0, tokens.allowanceCalls)
	assert.Equal(t, 0, tokens.approveCalls)
	assert.Equal(t, 1, stub.waitCalls)
}

func TestExecuteERC20ApprovalPhase(t *testing.T) {
	stub := &stubLedger{waitStatus: ledger.TxConfirmed}
	tokens := &stubTokens{allowance: big.NewInt(0)}

	var phases []Phase
	c, err := New(Config{
		Writer:    stub,
		Simulator: stub,
		Tokens:    tokens,
		Sender:    "0xoperator",
		Contract:  "0xescrow",
		OnEvent: func(e Event) {
			phases = append(phases, e.Phase)
		},
	})
	require.NoError(t, err)

	res, err := c.Execute(context.Background(), testIntent())
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	assert.Equal(t, 1, tokens.approveCalls)
	// One wait for the approval tx, one for the intent itself.
	assert.Equal(t, 2, stub.waitCalls)
	assert.Contains(t, phases, PhaseAwaitingApproval)
}

func TestExecuteERC20SufficientAllowance(t *testing.T) {
	stub := &stubLedger{waitStatus: ledger.TxConfirmed}
	tokens := &stubTokens{allowance: big.NewInt(1e18)}

	c, err := New(Config{
		Writer:    stub,
		Simulator: stub,
		Tokens:    tokens,
		Sender:    "0xoperator",
		Contract:  "0xescrow",
	})
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), testIntent())
	require.NoError(t, err)
	assert.Equal(t, 1, tokens.allowanceCalls)
	assert.Equal(t, 0, tokens.approveCalls)
}

func TestExecuteReverted(t *testing.T) {
	stub := &stubLedger{
		waitStatus: ledger.TxReverted,
		waitReason: "the pre-booking has expired",
	}
	c, err := New(Config{Writer: stub, Simulator: stub})
	require.NoError(t, err)

	res, err := c.Execute(context.Background(), testIntent())
	require.NoError(t, err)
	assert.Equal(t, OutcomeReverted, res.Outcome)
	assert.Equal(t, "the pre-booking has expired", res.Reason)
}

func TestExecuteConfirmTimeoutDropped(t *testing.T) {
	stub := &stubLedger{
		waitStatus:  ledger.TxConfirmed,
		waitBlocks:  true,
		releaseWait: make(chan struct{}),
	}
	var invalidated [][2]uint64
	c, err := New(Config{
		Writer:         stub,
		Simulator:      stub,
		ConfirmTimeout: 20 * time.Millisecond,
		Invalidate: func(bookingID, listingID uint64) {
			invalidated = append(invalidated, [2]uint64{bookingID, listingID})
		},
	})
	require.NoError(t, err)

	res, err := c.Execute(context.Background(), testIntent())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, res.Outcome)
	assert.Equal(t, "0xabc123", res.TxHash)
	// The tx may still land later, so the cached snapshot is dropped too.
	assert.Equal(t, [][2]uint64{{7, 42}}, invalidated)
}

func TestJournalRecordAndClear(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	journal := NewJournal(rdb, time.Hour)

	intent := testIntent()
	p := &PendingIntent{
		Intent: intent,
		Phase:  PhaseAccepted,
		Since:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	expected, err := json.Marshal(JournalRecord{
		Key:       "booking:7",
		IntentID:  intent.ID,
		Action:    string(intent.Action),
		Method:    string(intent.Method),
		BookingID: 7,
		ListingID: 42,
		Caller:    intent.Caller,
		Value:     intent.Value.String(),
		Phase:     string(PhaseAccepted),
		CreatedAt: p.Since,
	})
	require.NoError(t, err)

	mock.ExpectSet("intent:pending:booking:7", expected, time.Hour).SetVal("OK")
	require.NoError(t, journal.Record(context.Background(), p))

	mock.ExpectDel("intent:pending:booking:7").SetVal(1)
	require.NoError(t, journal.Clear(context.Background(), "booking:7"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoverDropsJournaledIntents(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	journal := NewJournal(rdb, time.Hour)

	rec := JournalRecord{
		Key:       "booking:9",
		IntentID:  "intent-9",
		Action:    "finalize",
		Method:    "finalizeBooking",
		BookingID: 9,
		ListingID: 3,
		Phase:     string(PhaseSubmitted),
		TxHash:    "0xdef456",
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectScan(0, "intent:pending:*", 100).SetVal([]string{"intent:pending:booking:9"}, 0)
	mock.ExpectGet("intent:pending:booking:9").SetVal(string(data))
	mock.ExpectDel("intent:pending:booking:9").SetVal(1)

	stub := &stubLedger{waitStatus: ledger.TxConfirmed}
	var invalidated []uint64
	c, err := New(Config{
		Writer:    stub,
		Simulator: stub,
		Journal:   journal,
		Invalidate: func(bookingID, listingID uint64) {
			invalidated = append(invalidated, bookingID, listingID)
		},
	})
	require.NoError(t, err)

	results, err := c.Recover(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeDropped, results[0].Outcome)
	assert.Equal(t, "0xdef456", results[0].TxHash)
	assert.Equal(t, []uint64{9, 3}, invalidated)
	assert.NoError(t, mock.ExpectationsWereMet())
}
