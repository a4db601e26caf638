package promotion

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/backend-store/internal/common"
)

type fakeQuerier struct {
	rule Rule
	code Code

	usages     map[uuid.UUID]bool
	increments int
	recordErr  error
}

func newFakeQuerier() *fakeQuerier {
	promoID := uuid.New()
	return &fakeQuerier{
		rule: Rule{ID: promoID, Name: "Spring Sale", Kind: KindPercentage, Value: 2000, Scope: ScopeEntireStore, Active: true},
		code: Code{ID: uuid.New(), PromotionID: promoID, Code: "SPRING20", Active: true},

		usages: map[uuid.UUID]bool{},
	}
}

func (f *fakeQuerier) GetByCode(_ context.Context, code string) (Rule, Code, error) {
	if code != f.code.Code {
		return Rule{}, Code{}, common.ErrNotFound
	}
	return f.rule, f.code, nil
}

func (f *fakeQuerier) RecordUsage(_ context.Context, _ uuid.UUID, _ string, _ *uuid.UUID, orderID uuid.UUID, _, _ int64, _ time.Time) (bool, error) {
	if f.recordErr != nil {
		return false, f.recordErr
	}
	if f.usages[orderID] {
		return false, nil
	}
	f.usages[orderID] = true
	return true, nil
}

func (f *fakeQuerier) IncrementUsage(_ context.Context, _ uuid.UUID, _ string) error {
	f.increments++
	return nil
}

func TestRecordUsageSettlesOnce(t *testing.T) {
	q := newFakeQuerier()
	svc := &Service{Q: q}
	userID := uuid.New()
	orderID := uuid.New()

	err := svc.RecordUsage(context.Background(), "SPRING20", &userID, orderID, 500, 4500)
	require.NoError(t, err)
	require.Equal(t, 1, q.increments)

	// Replaying the same order must not bump counters again.
	err = svc.RecordUsage(context.Background(), "SPRING20", &userID, orderID, 500, 4500)
	require.NoError(t, err)
	require.Equal(t, 1, q.increments)
}

func TestRecordUsageIgnoresUnknownCode(t *testing.T) {
	q := newFakeQuerier()
	svc := &Service{Q: q}

	err := svc.RecordUsage(context.Background(), "GONE", nil, uuid.New(), 100, 1000)
	require.NoError(t, err)
	require.Empty(t, q.usages)
	require.Zero(t, q.increments)
}

func TestRecordUsageIgnoresBlankCodeAndNilOrder(t *testing.T) {
	q := newFakeQuerier()
	svc := &Service{Q: q}

	require.NoError(t, svc.RecordUsage(context.Background(), "   ", nil, uuid.New(), 100, 1000))
	require.NoError(t, svc.RecordUsage(context.Background(), "SPRING20", nil, uuid.Nil, 100, 1000))
	require.Empty(t, q.usages)
}

func TestRecordUsagePropagatesStoreErrors(t *testing.T) {
	q := newFakeQuerier()
	q.recordErr = context.DeadlineExceeded
	svc := &Service{Q: q}

	err := svc.RecordUsage(context.Background(), "SPRING20", nil, uuid.New(), 100, 1000)
	require.Error(t, err)
	require.Zero(t, q.increments)
}
