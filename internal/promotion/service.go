package promotion

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oakmart/backend-store/internal/common"
	"github.com/oakmart/backend-store/internal/events"
	"github.com/oakmart/backend-store/internal/obs"
)

// Querier captures the database methods required by the promotion service.
type Querier interface {
	GetByCode(ctx context.Context, code string) (Rule, Code, error)
	RecordUsage(ctx context.Context, promotionID uuid.UUID, code string, userID *uuid.UUID, orderID uuid.UUID, discountAmount, orderTotal int64, at time.Time) (bool, error)
	IncrementUsage(ctx context.Context, promotionID uuid.UUID, code string) error
}

// Service handles promotion settlement at order completion time.
type Service struct {
	Q   Querier
	Bus *events.Bus
	Now func() time.Time
}

// RecordUsage settles a promotion against a completed order. Settlement is
// idempotent per order: a replay with the same order id is a no-op and the
// usage counters are bumped at most once. Unknown or blank codes are ignored
// so order completion never fails on a promotion that was deleted in flight.
func (s *Service) RecordUsage(ctx context.Context, code string, userID *uuid.UUID, orderID uuid.UUID, discountAmount, orderTotal int64) error {
	if s == nil || s.Q == nil {
		return errors.New("promotion service not configured")
	}
	trimmed := strings.TrimSpace(code)
	if trimmed == "" || orderID == uuid.Nil {
		return nil
	}
	rule, codeRec, err := s.Q.GetByCode(ctx, trimmed)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.count("unknown_code")
			return nil
		}
		s.count("error")
		return err
	}
	if discountAmount < 0 {
		discountAmount = 0
	}
	inserted, err := s.Q.RecordUsage(ctx, rule.ID, codeRec.Code, userID, orderID, discountAmount, orderTotal, s.now())
	if err != nil {
		s.count("error")
		return err
	}
	if !inserted {
		s.count("replayed")
		return nil
	}
	if err := s.Q.IncrementUsage(ctx, rule.ID, codeRec.Code); err != nil {
		s.count("error")
		return err
	}
	s.count("recorded")
	if s.Bus != nil {
		payload := map[string]any{
			"promotion_id":    rule.ID,
			"code":            codeRec.Code,
			"order_id":        orderID,
			"discount_amount": discountAmount,
			"order_total":     orderTotal,
		}
		_, _ = s.Bus.Emit(ctx, events.TopicPromotionSettled, orderID, payload)
	}
	return nil
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) count(result string) {
	if obs.PromotionSettleTotal != nil {
		obs.PromotionSettleTotal.WithLabelValues(result).Inc()
	}
}
