package membership

import (
	"time"

	"github.com/google/uuid"
)

// Membership is a user membership with a billing period. Allocations hang
// off it per category.
type Membership struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	PlanName    string    `json:"plan_name"`
	Active      bool      `json:"active"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// Allocation is a membership's per-category quota of free units for the
// current billing period.
type Allocation struct {
	ID           uuid.UUID `json:"id"`
	MembershipID uuid.UUID `json:"membership_id"`
	CategoryID   uuid.UUID `json:"category_id"`
	CategoryName string    `json:"category_name"`
	Allocated    int32     `json:"allocated_qty"`
	Used         int32     `json:"used_qty"`
}

// Available returns how many free units remain on the allocation.
// Invariant: Allocated == Used + Available.
func (a Allocation) Available() int32 {
	remaining := a.Allocated - a.Used
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Delta is a targeted adjustment to an allocation's used counter, applied
// in the same transaction as the cart-line write it belongs to.
type Delta struct {
	AllocationID uuid.UUID
	Delta        int32
}

// Reservation is the split of a requested quantity into free and paid units.
type Reservation struct {
	Free int32
	Paid int32
}

// Reserve decides how many of the requested units can be drawn from the
// allocation. A nil allocation (category not covered by the membership)
// degrades to all-paid rather than erroring. The caller must apply the
// counter update atomically with the cart-line write.
func Reserve(requested int32, a *Allocation) Reservation {
	if requested <= 0 {
		return Reservation{}
	}
	if a == nil {
		return Reservation{Paid: requested}
	}
	free := a.Available()
	if free > requested {
		free = requested
	}
	return Reservation{Free: free, Paid: requested - free}
}

// ForCategory finds the allocation entry covering the category, or nil.
func ForCategory(allocations []Allocation, categoryID uuid.UUID) *Allocation {
	for i := range allocations {
		if allocations[i].CategoryID == categoryID {
			return &allocations[i]
		}
	}
	return nil
}
