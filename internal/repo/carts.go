package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Cart is the single persistent cart document per user.
type Cart struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	PromotionID   *uuid.UUID
	PromotionCode *string
	PromotionName *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CartLine is one product entry in a cart. Prices are snapshots taken at
// mutation time, never live-joined at read time.
type CartLine struct {
	ID                uuid.UUID
	CartID            uuid.UUID
	ProductID         uuid.UUID
	Name              string
	CategoryID        uuid.UUID
	CategoryName      string
	Qty               int32
	UnitPrice         int64
	OriginalUnitPrice int64
	FreeQty           int32
	MembershipSavings int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const cartColumns = `id, user_id, promotion_id, promotion_code, promotion_name, created_at, updated_at`

const cartLineColumns = `id, cart_id, product_id, name, category_id, category_name, qty, unit_price, original_unit_price, free_qty, membership_savings, created_at, updated_at`

// Carts provides access to the carts and cart_lines tables.
type Carts struct {
	DB DBTX
}

func scanCart(row interface{ Scan(dest ...any) error }) (Cart, error) {
	var c Cart
	err := row.Scan(&c.ID, &c.UserID, &c.PromotionID, &c.PromotionCode, &c.PromotionName, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func scanCartLine(row interface{ Scan(dest ...any) error }) (CartLine, error) {
	var l CartLine
	err := row.Scan(
		&l.ID, &l.CartID, &l.ProductID, &l.Name, &l.CategoryID, &l.CategoryName,
		&l.Qty, &l.UnitPrice, &l.OriginalUnitPrice, &l.FreeQty, &l.MembershipSavings,
		&l.CreatedAt, &l.UpdatedAt,
	)
	return l, err
}

// GetByUser fetches the user's cart.
func (r Carts) GetByUser(ctx context.Context, userID uuid.UUID) (Cart, error) {
	c, err := scanCart(r.DB.QueryRow(ctx, `SELECT `+cartColumns+` FROM carts WHERE user_id = $1`, userID))
	return c, wrapNoRows(err)
}

// Ensure returns the user's cart, creating it lazily on first use.
func (r Carts) Ensure(ctx context.Context, userID uuid.UUID) (Cart, error) {
	const q = `
INSERT INTO carts (user_id)
VALUES ($1)
ON CONFLICT (user_id) DO UPDATE SET updated_at = now()
RETURNING ` + cartColumns
	c, err := scanCart(r.DB.QueryRow(ctx, q, userID))
	return c, err
}

// ListLines returns the cart's lines in insertion order.
func (r Carts) ListLines(ctx context.Context, cartID uuid.UUID) ([]CartLine, error) {
	const q = `
SELECT ` + cartLineColumns + `
FROM cart_lines
WHERE cart_id = $1
ORDER BY created_at, id`
	rows, err := r.DB.Query(ctx, q, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CartLine
	for rows.Next() {
		l, err := scanCartLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetLine fetches a single line by cart and product.
func (r Carts) GetLine(ctx context.Context, cartID, productID uuid.UUID) (CartLine, error) {
	const q = `SELECT ` + cartLineColumns + ` FROM cart_lines WHERE cart_id = $1 AND product_id = $2`
	l, err := scanCartLine(r.DB.QueryRow(ctx, q, cartID, productID))
	return l, wrapNoRows(err)
}

// UpsertLine writes the line snapshot, replacing any previous entry for the
// same product.
func (r Carts) UpsertLine(ctx context.Context, line CartLine) (CartLine, error) {
	const q = `
INSERT INTO cart_lines (cart_id, product_id, name, category_id, category_name, qty, unit_price, original_unit_price, free_qty, membership_savings)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (cart_id, product_id) DO UPDATE SET
    name = EXCLUDED.name,
    category_id = EXCLUDED.category_id,
    category_name = EXCLUDED.category_name,
    qty = EXCLUDED.qty,
    unit_price = EXCLUDED.unit_price,
    original_unit_price = EXCLUDED.original_unit_price,
    free_qty = EXCLUDED.free_qty,
    membership_savings = EXCLUDED.membership_savings,
    updated_at = now()
RETURNING ` + cartLineColumns
	saved, err := scanCartLine(r.DB.QueryRow(ctx, q,
		line.CartID, line.ProductID, line.Name, line.CategoryID, line.CategoryName,
		line.Qty, line.UnitPrice, line.OriginalUnitPrice, line.FreeQty, line.MembershipSavings,
	))
	return saved, err
}

// DeleteLine removes a line. Returns ErrNotFound if the product was not in
// the cart.
func (r Carts) DeleteLine(ctx context.Context, cartID, productID uuid.UUID) error {
	tag, err := r.DB.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id = $1 AND product_id = $2`, cartID, productID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLineByID removes a line by primary key.
func (r Carts) DeleteLineByID(ctx context.Context, lineID uuid.UUID) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM cart_lines WHERE id = $1`, lineID)
	return err
}

// ClearLines removes every line from the cart.
func (r Carts) ClearLines(ctx context.Context, cartID uuid.UUID) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID)
	return err
}

// SetPromotion attaches a promotion to the cart.
func (r Carts) SetPromotion(ctx context.Context, cartID, promotionID uuid.UUID, code, name string) error {
	const q = `
UPDATE carts
SET promotion_id = $2, promotion_code = $3, promotion_name = $4, updated_at = now()
WHERE id = $1`
	_, err := r.DB.Exec(ctx, q, cartID, promotionID, code, name)
	return err
}

// ClearPromotion detaches any promotion from the cart.
func (r Carts) ClearPromotion(ctx context.Context, cartID uuid.UUID) error {
	const q = `
UPDATE carts
SET promotion_id = NULL, promotion_code = NULL, promotion_name = NULL, updated_at = now()
WHERE id = $1`
	_, err := r.DB.Exec(ctx, q, cartID)
	return err
}
