package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	IntentID  string    `json:"intent_id"`
	Action    string    `json:"action"`
	BookingID uint64    `json:"booking_id,omitempty"`
	ListingID uint64    `json:"listing_id,omitempty"`
	Caller    string    `json:"caller,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogIntent(eventType, intentID, action string, bookingID, listingID uint64, caller, status string) {
	event := Event{
		Timestamp: time.Now(),
		EventType: eventType,
		IntentID:  intentID,
		Action:    action,
		BookingID: bookingID,
		ListingID: listingID,
		Caller:    caller,
		Status:    status,
	}
	a.log(event)
}

func (a *Logger) LogRejection(action string, bookingID uint64, caller, code, reason string) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "REJECTED",
		Action:    action,
		BookingID: bookingID,
		Caller:    caller,
		Status:    code,
		Details:   map[string]string{"reason": reason},
	}
	a.log(event)
}

func (a *Logger) LogError(intentID, action string, err error) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "ERROR",
		IntentID:  intentID,
		Action:    action,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *Logger) LogSettlement(intentID, action, txHash, status string, blockNumber uint64) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "SETTLED",
		IntentID:  intentID,
		Action:    action,
		Status:    status,
		Details: map[string]any{
			"tx_hash":      txHash,
			"block_number": blockNumber,
		},
	}
	a.log(event)
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
