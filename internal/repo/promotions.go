package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/oakmart/backend-store/internal/promotion"
)

const promotionColumns = `id, name, kind, value, scope, target_product_ids, target_category_ids, excluded_product_ids, excluded_category_ids, exclude_discounted, min_purchase, min_quantity, usage_limit, used_count, per_customer_limit, buy_qty, get_qty, get_discount_bps, starts_at, ends_at, active, customer_ids`

// Promotions provides access to promotions, codes, and usage records.
type Promotions struct {
	DB DBTX
}

func scanPromotion(row interface{ Scan(dest ...any) error }) (promotion.Rule, error) {
	var r promotion.Rule
	err := row.Scan(
		&r.ID, &r.Name, &r.Kind, &r.Value, &r.Scope,
		&r.TargetProductIDs, &r.TargetCategoryIDs, &r.ExcludedProductIDs, &r.ExcludedCategoryIDs,
		&r.ExcludeDiscounted, &r.MinPurchase, &r.MinQuantity,
		&r.UsageLimit, &r.UsedCount, &r.PerCustomerLimit,
		&r.BuyQty, &r.GetQty, &r.GetDiscountBps,
		&r.StartsAt, &r.EndsAt, &r.Active, &r.CustomerIDs,
	)
	return r, err
}

// GetByCode resolves a promotion code to its rule and code record.
func (r Promotions) GetByCode(ctx context.Context, code string) (promotion.Rule, promotion.Code, error) {
	const q = `
SELECT p.id, p.name, p.kind, p.value, p.scope,
       p.target_product_ids, p.target_category_ids, p.excluded_product_ids, p.excluded_category_ids,
       p.exclude_discounted, p.min_purchase, p.min_quantity,
       p.usage_limit, p.used_count, p.per_customer_limit,
       p.buy_qty, p.get_qty, p.get_discount_bps,
       p.starts_at, p.ends_at, p.active, p.customer_ids,
       c.id, c.promotion_id, c.code, c.active, c.usage_limit, c.used_count
FROM promotion_codes c
JOIN promotions p ON p.id = c.promotion_id
WHERE c.code = $1`
	var rule promotion.Rule
	var pc promotion.Code
	err := r.DB.QueryRow(ctx, q, code).Scan(
		&rule.ID, &rule.Name, &rule.Kind, &rule.Value, &rule.Scope,
		&rule.TargetProductIDs, &rule.TargetCategoryIDs, &rule.ExcludedProductIDs, &rule.ExcludedCategoryIDs,
		&rule.ExcludeDiscounted, &rule.MinPurchase, &rule.MinQuantity,
		&rule.UsageLimit, &rule.UsedCount, &rule.PerCustomerLimit,
		&rule.BuyQty, &rule.GetQty, &rule.GetDiscountBps,
		&rule.StartsAt, &rule.EndsAt, &rule.Active, &rule.CustomerIDs,
		&pc.ID, &pc.PromotionID, &pc.Code, &pc.Active, &pc.UsageLimit, &pc.UsedCount,
	)
	return rule, pc, wrapNoRows(err)
}

// Get fetches a promotion by primary key.
func (r Promotions) Get(ctx context.Context, id uuid.UUID) (promotion.Rule, error) {
	rule, err := scanPromotion(r.DB.QueryRow(ctx, `SELECT `+promotionColumns+` FROM promotions WHERE id = $1`, id))
	return rule, wrapNoRows(err)
}

// List returns promotions ordered by creation time, newest first.
func (r Promotions) List(ctx context.Context, limit, offset int32) ([]promotion.Rule, error) {
	const q = `
SELECT ` + promotionColumns + `
FROM promotions
ORDER BY created_at DESC
LIMIT $1 OFFSET $2`
	rows, err := r.DB.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []promotion.Rule
	for rows.Next() {
		rule, err := scanPromotion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// Create inserts a promotion rule.
func (r Promotions) Create(ctx context.Context, rule promotion.Rule) (promotion.Rule, error) {
	const q = `
INSERT INTO promotions (name, kind, value, scope, target_product_ids, target_category_ids, excluded_product_ids, excluded_category_ids, exclude_discounted, min_purchase, min_quantity, usage_limit, per_customer_limit, buy_qty, get_qty, get_discount_bps, starts_at, ends_at, active, customer_ids)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
RETURNING ` + promotionColumns
	created, err := scanPromotion(r.DB.QueryRow(ctx, q,
		rule.Name, rule.Kind, rule.Value, rule.Scope,
		rule.TargetProductIDs, rule.TargetCategoryIDs, rule.ExcludedProductIDs, rule.ExcludedCategoryIDs,
		rule.ExcludeDiscounted, rule.MinPurchase, rule.MinQuantity,
		rule.UsageLimit, rule.PerCustomerLimit,
		rule.BuyQty, rule.GetQty, rule.GetDiscountBps,
		rule.StartsAt, rule.EndsAt, rule.Active, rule.CustomerIDs,
	))
	return created, err
}

// SetActive toggles a promotion.
func (r Promotions) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.DB.Exec(ctx, `UPDATE promotions SET active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateCode attaches a redeemable code to a promotion.
func (r Promotions) CreateCode(ctx context.Context, pc promotion.Code) (promotion.Code, error) {
	const q = `
INSERT INTO promotion_codes (promotion_id, code, active, usage_limit)
VALUES ($1, $2, $3, $4)
RETURNING id, promotion_id, code, active, usage_limit, used_count`
	var created promotion.Code
	err := r.DB.QueryRow(ctx, q, pc.PromotionID, pc.Code, pc.Active, pc.UsageLimit).Scan(
		&created.ID, &created.PromotionID, &created.Code, &created.Active, &created.UsageLimit, &created.UsedCount,
	)
	return created, err
}

// CountCustomerUsage returns how many orders of this customer already
// consumed the promotion.
func (r Promotions) CountCustomerUsage(ctx context.Context, promotionID, userID uuid.UUID) (int32, error) {
	const q = `SELECT count(*) FROM promotion_usages WHERE promotion_id = $1 AND user_id = $2`
	var n int32
	err := r.DB.QueryRow(ctx, q, promotionID, userID).Scan(&n)
	return n, err
}

// RecordUsage inserts a usage row keyed by order. The unique constraint on
// (promotion_id, order_id) makes settlement idempotent: a replay reports
// inserted=false and must not bump the counters again.
func (r Promotions) RecordUsage(ctx context.Context, promotionID uuid.UUID, code string, userID *uuid.UUID, orderID uuid.UUID, discountAmount, orderTotal int64, at time.Time) (bool, error) {
	const q = `
INSERT INTO promotion_usages (promotion_id, code, user_id, order_id, discount_amount, order_total, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.DB.Exec(ctx, q, promotionID, code, userID, orderID, discountAmount, orderTotal, at)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IncrementUsage bumps the promotion and code usage counters.
func (r Promotions) IncrementUsage(ctx context.Context, promotionID uuid.UUID, code string) error {
	if _, err := r.DB.Exec(ctx, `UPDATE promotions SET used_count = used_count + 1, updated_at = now() WHERE id = $1`, promotionID); err != nil {
		return err
	}
	_, err := r.DB.Exec(ctx, `UPDATE promotion_codes SET used_count = used_count + 1 WHERE code = $1`, code)
	return err
}
