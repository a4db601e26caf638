package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Product is a stored catalog record. Prices are minor units.
type Product struct {
	ID                uuid.UUID  `json:"id"`
	Name              string     `json:"name"`
	Slug              string     `json:"slug"`
	CategoryID        uuid.UUID  `json:"category_id"`
	CategoryName      string     `json:"category_name"`
	Price             int64      `json:"price"`
	CompareAtPrice    *int64     `json:"compare_at_price,omitempty"`
	Active            bool       `json:"active"`
	PromotionEligible bool       `json:"promotion_eligible"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// OriginalPrice returns the pre-discount reference price: the compare-at
// price when it exceeds the sale price, otherwise the sale price itself.
func (p Product) OriginalPrice() int64 {
	if p.CompareAtPrice != nil && *p.CompareAtPrice > p.Price {
		return *p.CompareAtPrice
	}
	return p.Price
}

// OnSale reports whether the product carries a markdown.
func (p Product) OnSale() bool {
	return p.CompareAtPrice != nil && *p.CompareAtPrice > p.Price
}

const productColumns = `id, name, slug, category_id, category_name, price, compare_at_price, active, promotion_eligible, created_at, updated_at`

// Products provides access to the products table.
type Products struct {
	DB DBTX
}

func scanProduct(row interface{ Scan(dest ...any) error }) (Product, error) {
	var p Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Slug, &p.CategoryID, &p.CategoryName,
		&p.Price, &p.CompareAtPrice, &p.Active, &p.PromotionEligible,
		&p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// Get fetches a product by primary key.
func (r Products) Get(ctx context.Context, id uuid.UUID) (Product, error) {
	p, err := scanProduct(r.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	return p, wrapNoRows(err)
}

// GetBySlug fetches a product by slug.
func (r Products) GetBySlug(ctx context.Context, slug string) (Product, error) {
	p, err := scanProduct(r.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE slug = $1`, slug))
	return p, wrapNoRows(err)
}

// List returns active products ordered by name.
func (r Products) List(ctx context.Context, limit, offset int32) ([]Product, error) {
	const q = `
SELECT ` + productColumns + `
FROM products
WHERE active
ORDER BY name
LIMIT $1 OFFSET $2`
	rows, err := r.DB.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountActive returns the number of purchasable products.
func (r Products) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.QueryRow(ctx, `SELECT count(*) FROM products WHERE active`).Scan(&n)
	return n, err
}

// Create inserts a product. Used by the seeder and admin handlers.
func (r Products) Create(ctx context.Context, p Product) (Product, error) {
	const q = `
INSERT INTO products (name, slug, category_id, category_name, price, compare_at_price, active, promotion_eligible)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + productColumns
	created, err := scanProduct(r.DB.QueryRow(ctx, q,
		p.Name, p.Slug, p.CategoryID, p.CategoryName, p.Price, p.CompareAtPrice, p.Active, p.PromotionEligible,
	))
	return created, err
}
