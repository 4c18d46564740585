// Package redis implements the credit ledger on Redis.
// Balances are float counters; debits and credits run as Lua scripts so the
// balance check, the update and the idempotency marker apply atomically.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davidbz/kiln/internal/observability"
)

const (
	defaultPrefix    = "kiln:ledger"
	defaultMarkerTTL = 7 * 24 * time.Hour
	historyLength    = 500
)

// Result codes returned by the scripts.
const (
	scriptRejected  = 0
	scriptApplied   = 1
	scriptDuplicate = 2
)

// Config holds ledger configuration.
type Config struct {
	Prefix    string        `env:"LEDGER_PREFIX"     envDefault:"kiln:ledger"`
	MarkerTTL time.Duration `env:"LEDGER_MARKER_TTL" envDefault:"168h"`
}

// debitScript subtracts ARGV[1] when the balance covers it.
// KEYS: balance, history, marker. ARGV: amount, entry, marker ttl seconds, history length.
//
//nolint:gochecknoglobals // compiled once
var debitScript = redis.NewScript(`
	if KEYS[3] ~= '' and redis.call('EXISTS', KEYS[3]) == 1 then
		return 2
	end
	local balance = tonumber(redis.call('GET', KEYS[1]) or '0')
	local amount = tonumber(ARGV[1])
	if balance < amount then
		return 0
	end
	redis.call('INCRBYFLOAT', KEYS[1], -amount)
	redis.call('LPUSH', KEYS[2], ARGV[2])
	redis.call('LTRIM', KEYS[2], 0, tonumber(ARGV[4]) - 1)
	if KEYS[3] ~= '' then
		redis.call('SET', KEYS[3], '1', 'EX', tonumber(ARGV[3]))
	end
	return 1
`)

// creditScript adds ARGV[1]. A present marker makes the call a no-op.
// KEYS: balance, history, marker. ARGV: amount, entry, marker ttl seconds, history length.
//
//nolint:gochecknoglobals // compiled once
var creditScript = redis.NewScript(`
	if KEYS[3] ~= '' and redis.call('EXISTS', KEYS[3]) == 1 then
		return 2
	end
	redis.call('INCRBYFLOAT', KEYS[1], tonumber(ARGV[1]))
	redis.call('LPUSH', KEYS[2], ARGV[2])
	redis.call('LTRIM', KEYS[2], 0, tonumber(ARGV[4]) - 1)
	if KEYS[3] ~= '' then
		redis.call('SET', KEYS[3], '1', 'EX', tonumber(ARGV[3]))
	end
	return 1
`)

// Entry is one ledger history record.
type Entry struct {
	Kind      string            `json:"kind"`
	Amount    float64           `json:"amount"`
	Reason    string            `json:"reason,omitempty"`
	Memo      string            `json:"memo,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Ledger implements domain.CreditLedger.
type Ledger struct {
	client    redis.UniversalClient
	prefix    string
	markerTTL time.Duration
	now       func() time.Time
}

// NewLedger creates a Redis-backed credit ledger.
func NewLedger(client redis.UniversalClient, config Config) *Ledger {
	prefix := config.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	ttl := config.MarkerTTL
	if ttl <= 0 {
		ttl = defaultMarkerTTL
	}
	return &Ledger{
		client:    client,
		prefix:    prefix,
		markerTTL: ttl,
		now:       time.Now,
	}
}

func (l *Ledger) balanceKey(userID string) string {
	return fmt.Sprintf("%s:balance:%s", l.prefix, userID)
}

func (l *Ledger) historyKey(userID string) string {
	return fmt.Sprintf("%s:history:%s", l.prefix, userID)
}

// markerKey identifies one operation for one request. Without a request id there is no marker.
func (l *Ledger) markerKey(kind string, meta map[string]string) string {
	requestID := meta["requestId"]
	if requestID == "" {
		return ""
	}
	return fmt.Sprintf("%s:op:%s:%s", l.prefix, kind, requestID)
}

// HasCredits reports whether the balance covers amount.
func (l *Ledger) HasCredits(ctx context.Context, userID string, amount float64) (bool, error) {
	balance, err := l.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

// GetBalance returns the current balance. Unknown users have zero.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (float64, error) {
	if userID == "" {
		return 0, errors.New("user id cannot be empty")
	}

	raw, err := l.client.Get(ctx, l.balanceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}

	balance, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt balance %q: %w", raw, err)
	}
	return balance, nil
}

// DebitCredits subtracts amount if the balance covers it. A repeated debit for the
// same requestId reports success without charging again.
func (l *Ledger) DebitCredits(
	ctx context.Context,
	userID string,
	amount float64,
	memo string,
	meta map[string]string,
) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("debit amount must be positive, got %v", amount)
	}

	code, err := l.run(ctx, debitScript, "debit", userID, amount, "", memo, meta)
	if err != nil {
		return false, err
	}
	return code == scriptApplied || code == scriptDuplicate, nil
}

// AddCredits adds amount to the balance. Refunds and other credits carrying a requestId
// apply once; repeats report success.
func (l *Ledger) AddCredits(
	ctx context.Context,
	userID string,
	amount float64,
	reason, memo string,
	meta map[string]string,
) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("credit amount must be positive, got %v", amount)
	}

	kind := "credit"
	if reason == "refund" {
		kind = "refund"
	}

	code, err := l.run(ctx, creditScript, kind, userID, amount, reason, memo, meta)
	if err != nil {
		return false, err
	}
	if code == scriptDuplicate {
		observability.FromContext(ctx).Info("duplicate credit ignored",
			observability.String("kind", kind),
			observability.String("request_id", meta["requestId"]),
		)
	}
	return code == scriptApplied || code == scriptDuplicate, nil
}

func (l *Ledger) run(
	ctx context.Context,
	script *redis.Script,
	kind, userID string,
	amount float64,
	reason, memo string,
	meta map[string]string,
) (int, error) {
	if userID == "" {
		return scriptRejected, errors.New("user id cannot be empty")
	}

	entry, err := json.Marshal(Entry{
		Kind:      kind,
		Amount:    amount,
		Reason:    reason,
		Memo:      memo,
		Meta:      meta,
		Timestamp: l.now().UTC(),
	})
	if err != nil {
		return scriptRejected, fmt.Errorf("failed to encode ledger entry: %w", err)
	}

	keys := []string{l.balanceKey(userID), l.historyKey(userID), l.markerKey(kind, meta)}
	code, err := script.Run(ctx, l.client, keys,
		strconv.FormatFloat(amount, 'f', -1, 64), entry, int(l.markerTTL.Seconds()), historyLength).Int()
	if err != nil {
		return scriptRejected, fmt.Errorf("redis %s script: %w", kind, err)
	}
	return code, nil
}

// History returns the most recent ledger entries for a user, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	raw, err := l.client.LRange(ctx, l.historyKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
