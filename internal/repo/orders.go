package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Order statuses.
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// Order is an immutable snapshot taken at checkout.
type Order struct {
	ID                 uuid.UUID `json:"id"`
	UserID             uuid.UUID `json:"user_id"`
	Status             string    `json:"status"`
	Subtotal           int64     `json:"subtotal"`
	MembershipDiscount int64     `json:"membership_discount"`
	PromotionDiscount  int64     `json:"promotion_discount"`
	FinalTotal         int64     `json:"final_total"`
	ShippingAmount     int64     `json:"shipping_amount"`
	TaxAmount          int64     `json:"tax_amount"`
	TotalAmount        int64     `json:"total_amount"`
	DeliveryMethod     string    `json:"delivery_method"`
	PromotionCode      *string   `json:"promotion_code,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// OrderLine is one product entry captured on an order.
type OrderLine struct {
	ID                uuid.UUID `json:"id"`
	OrderID           uuid.UUID `json:"order_id"`
	ProductID         uuid.UUID `json:"product_id"`
	Name              string    `json:"name"`
	Qty               int32     `json:"qty"`
	UnitPrice         int64     `json:"unit_price"`
	OriginalUnitPrice int64     `json:"original_unit_price"`
	FreeQty           int32     `json:"free_qty"`
	MembershipSavings int64     `json:"membership_savings"`
}

const orderColumns = `id, user_id, status, subtotal, membership_discount, promotion_discount, final_total, shipping_amount, tax_amount, total_amount, delivery_method, promotion_code, created_at`

// Orders provides access to orders and order_lines.
type Orders struct {
	DB DBTX
}

func scanOrder(row interface{ Scan(dest ...any) error }) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.UserID, &o.Status,
		&o.Subtotal, &o.MembershipDiscount, &o.PromotionDiscount, &o.FinalTotal,
		&o.ShippingAmount, &o.TaxAmount, &o.TotalAmount,
		&o.DeliveryMethod, &o.PromotionCode, &o.CreatedAt,
	)
	return o, err
}

// Create inserts the order and its lines.
func (r Orders) Create(ctx context.Context, o Order, lines []OrderLine) (Order, error) {
	const q = `
INSERT INTO orders (user_id, status, subtotal, membership_discount, promotion_discount, final_total, shipping_amount, tax_amount, total_amount, delivery_method, promotion_code)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + orderColumns
	created, err := scanOrder(r.DB.QueryRow(ctx, q,
		o.UserID, o.Status,
		o.Subtotal, o.MembershipDiscount, o.PromotionDiscount, o.FinalTotal,
		o.ShippingAmount, o.TaxAmount, o.TotalAmount,
		o.DeliveryMethod, o.PromotionCode,
	))
	if err != nil {
		return Order{}, err
	}
	const insertLine = `
INSERT INTO order_lines (order_id, product_id, name, qty, unit_price, original_unit_price, free_qty, membership_savings)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, line := range lines {
		if _, err := r.DB.Exec(ctx, insertLine,
			created.ID, line.ProductID, line.Name, line.Qty,
			line.UnitPrice, line.OriginalUnitPrice, line.FreeQty, line.MembershipSavings,
		); err != nil {
			return Order{}, err
		}
	}
	return created, nil
}

// Get fetches an order by primary key.
func (r Orders) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	return o, wrapNoRows(err)
}

// ListByUser returns the user's orders, newest first.
func (r Orders) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]Order, error) {
	const q = `
SELECT ` + orderColumns + `
FROM orders
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`
	rows, err := r.DB.Query(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListLines returns the order's line snapshots.
func (r Orders) ListLines(ctx context.Context, orderID uuid.UUID) ([]OrderLine, error) {
	const q = `
SELECT id, order_id, product_id, name, qty, unit_price, original_unit_price, free_qty, membership_savings
FROM order_lines
WHERE order_id = $1
ORDER BY id`
	rows, err := r.DB.Query(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OrderLine
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Name, &l.Qty, &l.UnitPrice, &l.OriginalUnitPrice, &l.FreeQty, &l.MembershipSavings); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SetStatus updates an order's status.
func (r Orders) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.DB.Exec(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
