package membership_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/backend-store/internal/common"
	"github.com/oakmart/backend-store/internal/membership"
)

type fakeMembershipStore struct {
	membership  membership.Membership
	allocations []membership.Allocation
	err         error
}

func (f *fakeMembershipStore) GetActiveByUser(_ context.Context, _ uuid.UUID) (membership.Membership, error) {
	if f.err != nil {
		return membership.Membership{}, f.err
	}
	return f.membership, nil
}

func (f *fakeMembershipStore) ListAllocations(_ context.Context, _ uuid.UUID) ([]membership.Allocation, error) {
	return f.allocations, nil
}

func authedRequest(userID uuid.UUID) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/membership", nil)
	return req.WithContext(common.WithUserID(req.Context(), userID.String()))
}

func TestGetMembershipReturnsAllocations(t *testing.T) {
	userID := uuid.New()
	store := &fakeMembershipStore{
		membership: membership.Membership{
			ID:          uuid.New(),
			UserID:      userID,
			PlanName:    "Brew Club",
			Active:      true,
			PeriodStart: time.Now().Add(-time.Hour),
			PeriodEnd:   time.Now().Add(time.Hour),
		},
		allocations: []membership.Allocation{{
			ID:           uuid.New(),
			CategoryName: "Coffee",
			Allocated:    2,
			Used:         1,
		}},
	}
	handler := &membership.Handler{Memberships: store}

	resp := httptest.NewRecorder()
	handler.Get(resp, authedRequest(userID))
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Data struct {
			Membership  *membership.Membership  `json:"membership"`
			Allocations []membership.Allocation `json:"allocations"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotNil(t, body.Data.Membership)
	require.Equal(t, "Brew Club", body.Data.Membership.PlanName)
	require.Len(t, body.Data.Allocations, 1)
	require.Equal(t, int32(2), body.Data.Allocations[0].Allocated)
}

func TestGetMembershipWithoutMembership(t *testing.T) {
	store := &fakeMembershipStore{err: common.ErrNotFound}
	handler := &membership.Handler{Memberships: store}

	resp := httptest.NewRecorder()
	handler.Get(resp, authedRequest(uuid.New()))
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Data struct {
			Membership  *membership.Membership  `json:"membership"`
			Allocations []membership.Allocation `json:"allocations"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Nil(t, body.Data.Membership)
	require.Empty(t, body.Data.Allocations)
}

func TestGetMembershipRequiresAuth(t *testing.T) {
	handler := &membership.Handler{Memberships: &fakeMembershipStore{}}

	resp := httptest.NewRecorder()
	handler.Get(resp, httptest.NewRequest(http.MethodGet, "/api/v1/membership", nil))
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}
