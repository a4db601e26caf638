package main

import (
	"context"
	"log"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"

	"github.com/oakmart/backend-store/internal/config"
	"github.com/oakmart/backend-store/internal/membership"
	"github.com/oakmart/backend-store/internal/promotion"
	"github.com/oakmart/backend-store/internal/repo"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	categoryCoffee = uuid.MustParse("5f3c1a2e-8a1b-4f0e-9c3d-111111111111")
	categoryTea    = uuid.MustParse("5f3c1a2e-8a1b-4f0e-9c3d-222222222222")
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	user := seedUser(ctx, pool)
	seedProducts(ctx, pool)
	seedMembership(ctx, pool, user.ID)
	seedPromotion(ctx, pool)

	log.Println("seeding completed")
}

func seedUser(ctx context.Context, pool *pgxpool.Pool) repo.User {
	users := repo.Users{DB: pool}
	if existing, err := users.GetByEmail(ctx, "demo@oakmart.dev"); err == nil {
		log.Printf("user already present: %s", existing.Email)
		return existing
	}
	hash, err := argon2id.CreateHash("password123", argon2id.DefaultParams)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	user, err := users.Create(ctx, "Demo Shopper", "demo@oakmart.dev", hash)
	if err != nil {
		log.Fatalf("create user: %v", err)
	}
	log.Printf("created user %s", user.Email)
	return user
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool) {
	products := repo.Products{DB: pool}
	compareAt := int64(1899)
	seeds := []repo.Product{
		{Name: "House Blend Beans 500g", Slug: "house-blend-beans-500g", CategoryID: categoryCoffee, CategoryName: "Coffee", Price: 1499, CompareAtPrice: &compareAt, Active: true, PromotionEligible: true},
		{Name: "Single Origin Ethiopia 250g", Slug: "single-origin-ethiopia-250g", CategoryID: categoryCoffee, CategoryName: "Coffee", Price: 1299, Active: true, PromotionEligible: true},
		{Name: "Cold Brew Concentrate 1L", Slug: "cold-brew-concentrate-1l", CategoryID: categoryCoffee, CategoryName: "Coffee", Price: 999, Active: true, PromotionEligible: false},
		{Name: "Jasmine Green Tea 100g", Slug: "jasmine-green-tea-100g", CategoryID: categoryTea, CategoryName: "Tea", Price: 799, Active: true, PromotionEligible: true},
		{Name: "Earl Grey Loose Leaf 100g", Slug: "earl-grey-loose-leaf-100g", CategoryID: categoryTea, CategoryName: "Tea", Price: 899, Active: true, PromotionEligible: true},
	}
	for _, seed := range seeds {
		if _, err := products.GetBySlug(ctx, seed.Slug); err == nil {
			continue
		}
		if _, err := products.Create(ctx, seed); err != nil {
			log.Fatalf("create product %s: %v", seed.Slug, err)
		}
		log.Printf("created product %s", seed.Slug)
	}
}

func seedMembership(ctx context.Context, pool *pgxpool.Pool, userID uuid.UUID) {
	members := repo.Memberships{DB: pool}
	if _, err := members.GetActiveByUser(ctx, userID); err == nil {
		log.Println("membership already present")
		return
	}
	now := time.Now().UTC()
	m := membership.Membership{
		UserID:      userID,
		PlanName:    "Brew Club",
		Active:      true,
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, 1, 0),
	}
	allocations := []membership.Allocation{
		{CategoryID: categoryCoffee, CategoryName: "Coffee", Allocated: 2},
		{CategoryID: categoryTea, CategoryName: "Tea", Allocated: 1},
	}
	if _, err := members.CreateMembership(ctx, m, allocations); err != nil {
		log.Fatalf("create membership: %v", err)
	}
	log.Println("created membership with allocations")
}

func seedPromotion(ctx context.Context, pool *pgxpool.Pool) {
	promotions := repo.Promotions{DB: pool}
	if _, _, err := promotions.GetByCode(ctx, "SPRING20"); err == nil {
		log.Println("promotion code already present")
		return
	}
	usageLimit := int32(1000)
	perCustomer := int32(3)
	rule, err := promotions.Create(ctx, promotion.Rule{
		Name:             "Spring Sale 20%",
		Kind:             promotion.KindPercentage,
		Value:            2000,
		Scope:            promotion.ScopeEntireStore,
		MinPurchase:      1000,
		UsageLimit:       &usageLimit,
		PerCustomerLimit: &perCustomer,
		Active:           true,
	})
	if err != nil {
		log.Fatalf("create promotion: %v", err)
	}
	if _, err := promotions.CreateCode(ctx, promotion.Code{
		PromotionID: rule.ID,
		Code:        "SPRING20",
		Active:      true,
	}); err != nil {
		log.Fatalf("create promotion code: %v", err)
	}
	log.Println("created promotion SPRING20")
}
