package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/oakmart/backend-store/internal/common"
	"github.com/oakmart/backend-store/internal/repo"
)

// Store captures the product queries required by the catalog service.
type Store interface {
	List(ctx context.Context, limit, offset int32) ([]repo.Product, error)
	GetBySlug(ctx context.Context, slug string) (repo.Product, error)
	CountActive(ctx context.Context) (int64, error)
}

// Service serves the public product catalog with a read-through cache.
type Service struct {
	store        Store
	cache        *Cache
	defaultLimit int
	maxLimit     int
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store        Store
	Cache        *Cache
	DefaultLimit int
	MaxLimit     int
}

// ListResult contains list data and pagination metadata.
type ListResult struct {
	Items []repo.Product
	Total int64
	Page  int
	Limit int
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("catalog: store is required")
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit < 1 {
		defaultLimit = 20
	}
	maxLimit := cfg.MaxLimit
	if maxLimit < 1 {
		maxLimit = 100
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	return &Service{
		store:        cfg.Store,
		cache:        cfg.Cache,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}, nil
}

type cachedList struct {
	Items []repo.Product `json:"items"`
	Total int64          `json:"total"`
}

// ListProducts returns the active products, newest page served from cache.
func (s *Service) ListProducts(ctx context.Context, page, limit int) (ListResult, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	cacheable := page == 1 && limit == s.defaultLimit
	key := "catalog:products:first-page"
	if cacheable && s.cache != nil {
		var cached cachedList
		ok, err := s.cache.GetJSON(ctx, key, &cached)
		if err == nil && ok {
			return ListResult{Items: cached.Items, Total: cached.Total, Page: page, Limit: limit}, nil
		}
	}

	total, err := s.store.CountActive(ctx)
	if err != nil {
		return ListResult{}, fmt.Errorf("count products: %w", err)
	}
	offset := int32((page - 1) * limit)
	items, err := s.store.List(ctx, int32(limit), offset)
	if err != nil {
		return ListResult{}, fmt.Errorf("list products: %w", err)
	}
	if cacheable && s.cache != nil {
		_ = s.cache.SetJSON(ctx, key, cachedList{Items: items, Total: total})
	}
	return ListResult{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// GetProduct returns a product by slug, cached per slug.
func (s *Service) GetProduct(ctx context.Context, slug string) (repo.Product, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return repo.Product{}, &common.AppError{
			Code:       common.CodeValidationFailed,
			Message:    "slug is required",
			HTTPStatus: http.StatusBadRequest,
		}
	}
	key := "catalog:products:detail:" + slug
	if s.cache != nil {
		var cached repo.Product
		ok, err := s.cache.GetJSON(ctx, key, &cached)
		if err == nil && ok {
			return cached, nil
		}
	}
	product, err := s.store.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return repo.Product{}, &common.AppError{
				Code:       common.CodeProductNotFound,
				Message:    "product not found",
				HTTPStatus: http.StatusNotFound,
				Err:        err,
			}
		}
		return repo.Product{}, fmt.Errorf("get product by slug: %w", err)
	}
	if s.cache != nil {
		_ = s.cache.SetJSON(ctx, key, product)
	}
	return product, nil
}
