package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/oakmart/backend-store/internal/membership"
)

// Memberships provides access to memberships and their allocations.
type Memberships struct {
	DB DBTX
}

// GetActiveByUser fetches the user's active membership.
func (r Memberships) GetActiveByUser(ctx context.Context, userID uuid.UUID) (membership.Membership, error) {
	const q = `
SELECT id, user_id, plan_name, active, period_start, period_end
FROM memberships
WHERE user_id = $1 AND active`
	var m membership.Membership
	err := r.DB.QueryRow(ctx, q, userID).Scan(&m.ID, &m.UserID, &m.PlanName, &m.Active, &m.PeriodStart, &m.PeriodEnd)
	return m, wrapNoRows(err)
}

// ListAllocations returns the membership's per-category allocation entries.
func (r Memberships) ListAllocations(ctx context.Context, membershipID uuid.UUID) ([]membership.Allocation, error) {
	const q = `
SELECT id, membership_id, category_id, category_name, allocated_qty, used_qty
FROM membership_allocations
WHERE membership_id = $1
ORDER BY category_name`
	rows, err := r.DB.Query(ctx, q, membershipID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []membership.Allocation
	for rows.Next() {
		var a membership.Allocation
		if err := rows.Scan(&a.ID, &a.MembershipID, &a.CategoryID, &a.CategoryName, &a.Allocated, &a.Used); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AdjustAllocation applies a targeted delta to an allocation's used counter.
// The table CHECK constraint rejects drifting outside [0, allocated_qty].
func (r Memberships) AdjustAllocation(ctx context.Context, allocationID uuid.UUID, delta int32) error {
	if delta == 0 {
		return nil
	}
	const q = `UPDATE membership_allocations SET used_qty = used_qty + $2 WHERE id = $1`
	tag, err := r.DB.Exec(ctx, q, allocationID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RollExpiredPeriods advances billing periods that ended before now and
// zeroes their allocation usage. Returns the number of memberships rolled.
func (r Memberships) RollExpiredPeriods(ctx context.Context, now time.Time) (int64, error) {
	const roll = `
UPDATE memberships
SET period_start = period_end,
    period_end = period_end + (period_end - period_start)
WHERE active AND period_end <= $1
RETURNING id`
	rows, err := r.DB.Query(ctx, roll, now)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var rolled []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		rolled = append(rolled, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(rolled) == 0 {
		return 0, nil
	}
	const reset = `UPDATE membership_allocations SET used_qty = 0 WHERE membership_id = ANY($1)`
	if _, err := r.DB.Exec(ctx, reset, rolled); err != nil {
		return 0, err
	}
	return int64(len(rolled)), nil
}

// CreateMembership inserts a membership with its allocations. Used by the seeder.
func (r Memberships) CreateMembership(ctx context.Context, m membership.Membership, allocations []membership.Allocation) (membership.Membership, error) {
	const q = `
INSERT INTO memberships (user_id, plan_name, active, period_start, period_end)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, user_id, plan_name, active, period_start, period_end`
	var created membership.Membership
	err := r.DB.QueryRow(ctx, q, m.UserID, m.PlanName, m.Active, m.PeriodStart, m.PeriodEnd).Scan(
		&created.ID, &created.UserID, &created.PlanName, &created.Active, &created.PeriodStart, &created.PeriodEnd,
	)
	if err != nil {
		return membership.Membership{}, err
	}
	const insertAlloc = `
INSERT INTO membership_allocations (membership_id, category_id, category_name, allocated_qty, used_qty)
VALUES ($1, $2, $3, $4, $5)`
	for _, a := range allocations {
		if _, err := r.DB.Exec(ctx, insertAlloc, created.ID, a.CategoryID, a.CategoryName, a.Allocated, a.Used); err != nil {
			return membership.Membership{}, err
		}
	}
	return created, nil
}
