// Package mocks holds testify mocks for the collaborator interfaces in internal/domain.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// CreditLedger is a mock of domain.CreditLedger.
type CreditLedger struct {
	mock.Mock
}

func (m *CreditLedger) HasCredits(ctx context.Context, userID string, amount float64) (bool, error) {
	args := m.Called(ctx, userID, amount)
	return args.Bool(0), args.Error(1)
}

func (m *CreditLedger) DebitCredits(
	ctx context.Context,
	userID string,
	amount float64,
	memo string,
	meta map[string]string,
) (bool, error) {
	args := m.Called(ctx, userID, amount, memo, meta)
	return args.Bool(0), args.Error(1)
}

func (m *CreditLedger) AddCredits(
	ctx context.Context,
	userID string,
	amount float64,
	reason, memo string,
	meta map[string]string,
) (bool, error) {
	args := m.Called(ctx, userID, amount, reason, memo, meta)
	return args.Bool(0), args.Error(1)
}

func (m *CreditLedger) GetBalance(ctx context.Context, userID string) (float64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(float64), args.Error(1)
}
