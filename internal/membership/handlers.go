package membership

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/oakmart/backend-store/internal/common"
)

// Store captures the persistence surface the membership view needs.
type Store interface {
	GetActiveByUser(ctx context.Context, userID uuid.UUID) (Membership, error)
	ListAllocations(ctx context.Context, membershipID uuid.UUID) ([]Allocation, error)
}

// Handler exposes the authenticated membership view.
type Handler struct {
	Memberships Store
}

// Get handles GET /api/v1/membership. Users without an active membership
// receive a null membership rather than an error.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	raw, ok := common.UserID(r.Context())
	if !ok || raw == "" {
		common.JSONError(w, http.StatusUnauthorized, common.CodeAuthRequired, "authentication required", nil)
		return
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, common.CodeAuthRequired, "authentication required", nil)
		return
	}
	m, err := h.Memberships.GetActiveByUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
				"membership":  nil,
				"allocations": []Allocation{},
			}})
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodePersistenceFailure, "failed to load membership", nil)
		return
	}
	allocations, err := h.Memberships.ListAllocations(r.Context(), m.ID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodePersistenceFailure, "failed to load allocations", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"membership":  m,
		"allocations": allocations,
	}})
}
