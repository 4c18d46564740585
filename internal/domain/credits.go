package domain

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/davidbz/kiln/internal/observability"
)

// Refund outcomes reported to GenerationMetrics.
const (
	RefundApplied = "applied"
	RefundRefused = "refused"
	RefundFailed  = "failed"
)

// CreditCoordinator reserves credits before generation and refunds them on failure.
type CreditCoordinator struct {
	ledger  CreditLedger
	metrics GenerationMetrics
}

// NewCreditCoordinator creates a credit coordinator. metrics may be nil.
func NewCreditCoordinator(ledger CreditLedger, metrics GenerationMetrics) *CreditCoordinator {
	return &CreditCoordinator{
		ledger:  ledger,
		metrics: metrics,
	}
}

// Reservation is a debit taken for one request. Refund runs at most once.
type Reservation struct {
	UserID    string
	RequestID string
	Amount    float64

	ledger   CreditLedger
	metrics  GenerationMetrics
	refunded atomic.Bool
}

// Reserve checks the balance and debits amount for the request.
// Anonymous requests and zero amounts produce an empty reservation that never touches the ledger.
func (c *CreditCoordinator) Reserve(
	ctx context.Context,
	userID, requestID string,
	amount float64,
	providers []string,
) (*Reservation, error) {
	res := &Reservation{UserID: userID, RequestID: requestID, Amount: amount}
	if userID == "" || amount <= 0 || c.ledger == nil {
		return res, nil
	}

	ok, err := c.ledger.HasCredits(ctx, userID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to check credits: %w", err)
	}
	if !ok {
		return nil, c.insufficient(ctx, userID, amount)
	}

	meta := map[string]string{
		"requestId": requestID,
		"providers": strings.Join(providers, ","),
	}
	debited, err := c.ledger.DebitCredits(ctx, userID, amount, "Image generation", meta)
	if err != nil {
		return nil, fmt.Errorf("failed to debit credits: %w", err)
	}
	if !debited {
		// Balance changed between the check and the debit.
		return nil, c.insufficient(ctx, userID, amount)
	}

	observability.FromContext(ctx).Info("credits reserved",
		observability.Float64("amount", amount),
	)

	res.ledger = c.ledger
	res.metrics = c.metrics
	return res, nil
}

func (c *CreditCoordinator) insufficient(ctx context.Context, userID string, amount float64) error {
	available, err := c.ledger.GetBalance(ctx, userID)
	if err != nil {
		observability.FromContext(ctx).Warn("failed to read balance", observability.Error(err))
		available = 0
	}
	shortfall := amount - available
	if shortfall < 0 {
		shortfall = 0
	}
	return &InsufficientCreditsError{
		Required:  amount,
		Available: available,
		Shortfall: shortfall,
	}
}

// Held reports whether credits were actually debited.
func (r *Reservation) Held() bool {
	return r != nil && r.ledger != nil
}

// Refund returns the reserved credits. Only the first call reaches the ledger;
// it reports whether this call was that one. Ledger errors are logged, never returned.
func (r *Reservation) Refund(ctx context.Context, reason string) bool {
	if !r.Held() {
		return false
	}
	if !r.refunded.CompareAndSwap(false, true) {
		return false
	}

	// The refund must land even when the request context is already done.
	ctx = context.WithoutCancel(ctx)
	logger := observability.FromContext(ctx)

	meta := map[string]string{
		"requestId": r.RequestID,
		"reason":    reason,
	}
	ok, err := r.ledger.AddCredits(ctx, r.UserID, r.Amount, "refund", "Refund for failed image generation", meta)
	switch {
	case err != nil:
		logger.Error("credit refund failed",
			observability.Float64("amount", r.Amount),
			observability.String("reason", reason),
			observability.Error(err),
		)
		r.record(RefundFailed)
	case !ok:
		logger.Warn("credit refund refused by ledger",
			observability.Float64("amount", r.Amount),
			observability.String("reason", reason),
		)
		r.record(RefundRefused)
	default:
		logger.Info("credits refunded",
			observability.Float64("amount", r.Amount),
			observability.String("reason", reason),
		)
		r.record(RefundApplied)
	}
	return true
}

func (r *Reservation) record(outcome string) {
	if r.metrics != nil {
		r.metrics.Refund(outcome)
	}
}
