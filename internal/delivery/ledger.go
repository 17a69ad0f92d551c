package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	id "zodiac/pkg/domain"
)

// Ledger records which (participant, content day) pairs were already
// delivered. MarkDelivered returns true only for the first claim of a pair.
type Ledger interface {
	MarkDelivered(ctx context.Context, pid id.ParticipantID, day string) (bool, error)
}

// memoryLedgerWindow is how many days before the newest claim are kept.
const memoryLedgerWindow = 2

// MemoryLedger remembers recent claimed days per participant.
type MemoryLedger struct {
	mu      sync.Mutex
	claimed map[id.ParticipantID]map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{claimed: make(map[id.ParticipantID]map[string]struct{})}
}

func (l *MemoryLedger) MarkDelivered(_ context.Context, pid id.ParticipantID, day string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	days, ok := l.claimed[pid]
	if !ok {
		days = make(map[string]struct{})
		l.claimed[pid] = days
	}
	if _, seen := days[day]; seen {
		return false, nil
	}
	days[day] = struct{}{}
	pruneDays(days, day)
	return true, nil
}

// pruneDays drops claims older than the window before newest. DateOnly
// strings order the same way as the dates they encode.
func pruneDays(days map[string]struct{}, newest string) {
	t, err := time.Parse(time.DateOnly, newest)
	if err != nil {
		return
	}
	cutoff := t.AddDate(0, 0, -memoryLedgerWindow).Format(time.DateOnly)
	for d := range days {
		if d < cutoff {
			delete(days, d)
		}
	}
}

const (
	ledgerKeyPrefix = "zodiac:delivered:"
	ledgerTTL       = 48 * time.Hour
)

// RedisLedger claims pairs with SET NX so several replicas never deliver
// the same content day twice.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client, ttl: ledgerTTL}
}

func (l *RedisLedger) MarkDelivered(ctx context.Context, pid id.ParticipantID, day string) (bool, error) {
	key := ledgerKeyPrefix + pid.String() + ":" + day
	ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim delivery: %w", err)
	}
	return ok, nil
}
