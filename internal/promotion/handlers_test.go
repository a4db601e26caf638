package promotion_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/backend-store/internal/common"
	"github.com/oakmart/backend-store/internal/promotion"
)

type fakeAdminStore struct {
	rules        []promotion.Rule
	codes        []promotion.Code
	setActiveErr error
}

func (f *fakeAdminStore) Create(_ context.Context, rule promotion.Rule) (promotion.Rule, error) {
	rule.ID = uuid.New()
	f.rules = append(f.rules, rule)
	return rule, nil
}

func (f *fakeAdminStore) List(_ context.Context, _, _ int32) ([]promotion.Rule, error) {
	return f.rules, nil
}

func (f *fakeAdminStore) SetActive(_ context.Context, _ uuid.UUID, _ bool) error {
	return f.setActiveErr
}

func (f *fakeAdminStore) CreateCode(_ context.Context, pc promotion.Code) (promotion.Code, error) {
	pc.ID = uuid.New()
	f.codes = append(f.codes, pc)
	return pc, nil
}

func newAdminHandler(store *fakeAdminStore) *promotion.Handler {
	return &promotion.Handler{Promotions: store, Validate: validator.New()}
}

func TestCreatePromotion(t *testing.T) {
	store := &fakeAdminStore{}
	handler := newAdminHandler(store)

	body := `{"name":"Spring Sale","kind":"percentage","value":2000,"scope":"entire_store"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/promotions", strings.NewReader(body))
	resp := httptest.NewRecorder()
	handler.Create(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	require.Len(t, store.rules, 1)
	require.Equal(t, "Spring Sale", store.rules[0].Name)
	require.True(t, store.rules[0].Active)
}

func TestCreatePromotionRejectsBadBuyXGetY(t *testing.T) {
	handler := newAdminHandler(&fakeAdminStore{})

	body := `{"name":"BOGO","kind":"buy_x_get_y","scope":"entire_store","buy_qty":2}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/promotions", strings.NewReader(body))
	resp := httptest.NewRecorder()
	handler.Create(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSetActiveUnknownPromotion(t *testing.T) {
	handler := newAdminHandler(&fakeAdminStore{setActiveErr: common.ErrNotFound})

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/admin/promotions/x/active", strings.NewReader(`{"active":false}`))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("promotionID", uuid.NewString())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	resp := httptest.NewRecorder()
	handler.SetActive(resp, req)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestCreateCodeUppercases(t *testing.T) {
	store := &fakeAdminStore{}
	handler := newAdminHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/promotions/x/codes", strings.NewReader(`{"code":"spring20"}`))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("promotionID", uuid.NewString())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	resp := httptest.NewRecorder()
	handler.CreateCode(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	require.Len(t, store.codes, 1)
	require.Equal(t, "SPRING20", store.codes[0].Code)
	require.True(t, store.codes[0].Active)
}
