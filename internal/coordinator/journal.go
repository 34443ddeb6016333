package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const journalPrefix = "intent:pending:"

// JournalRecord is the durable trace of an in-flight intent. Enough to
// reconcile after a crash: the reservation key, the phase reached, and the
// transaction hash if one was ever broadcast.
type JournalRecord struct {
	Key       string    `json:"key"`
	IntentID  string    `json:"intent_id"`
	Action    string    `json:"action"`
	Method    string    `json:"method"`
	BookingID uint64    `json:"booking_id"`
	ListingID uint64    `json:"listing_id"`
	Caller    string    `json:"caller"`
	Value     string    `json:"value"`
	Phase     string    `json:"phase"`
	TxHash    string    `json:"tx_hash,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal persists pending intents in Redis so a restart can tell which
// writes were in flight when the process died.
type Journal struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewJournal(rdb *redis.Client, ttl time.Duration) *Journal {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Journal{redis: rdb, ttl: ttl}
}

// Record writes or refreshes the journal entry for a pending intent.
func (j *Journal) Record(ctx context.Context, p *PendingIntent) error {
	intent := p.Intent
	rec := JournalRecord{
		Key:       intent.Key(),
		IntentID:  intent.ID,
		Action:    string(intent.Action),
		Method:    string(intent.Method),
		BookingID: intent.BookingID,
		ListingID: intent.ListingID,
		Caller:    intent.Caller,
		Phase:     string(p.Phase),
		TxHash:    p.TxHash,
		CreatedAt: p.Since,
	}
	if intent.Value != nil {
		rec.Value = intent.Value.String()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := j.redis.Set(ctx, journalPrefix+rec.Key, data, j.ttl).Err(); err != nil {
		return fmt.Errorf("journal set: %w", err)
	}
	return nil
}

// Clear removes the entry for a settled or abandoned intent.
func (j *Journal) Clear(ctx context.Context, key string) error {
	if err := j.redis.Del(ctx, journalPrefix+key).Err(); err != nil {
		return fmt.Errorf("journal del: %w", err)
	}
	return nil
}

// Load returns every journaled record. Used once at startup.
func (j *Journal) Load(ctx context.Context) ([]JournalRecord, error) {
	var records []JournalRecord
	iter := j.redis.Scan(ctx, 0, journalPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := j.redis.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("journal get %s: %w", iter.Val(), err)
		}
		var rec JournalRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			// A corrupt entry should not wedge startup.
			continue
		}
		records = append(records, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("journal scan: %w", err)
	}
	return records, nil
}
