package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/user"
	"github.com/xenking/storefront/internal/storage/postgres"
)

type seedFile struct {
	Products []productJSON `json:"products"`
	Users    []userJSON    `json:"users"`
	Coupons  []couponJSON  `json:"coupons"`
}

type productJSON struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	Stock           int             `json:"stock"`
	Category        string          `json:"category"`
	Image           string          `json:"image"`
}

type userJSON struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	JoinedAt time.Time `json:"joinedAt"`
}

type couponJSON struct {
	Code                 string          `json:"code"`
	Type                 string          `json:"type"`
	Value                decimal.Decimal `json:"value"`
	Description          string          `json:"description"`
	MinOrder             decimal.Decimal `json:"minOrder"`
	ValidFrom            *time.Time      `json:"validFrom"`
	ValidUntil           *time.Time      `json:"validUntil"`
	MaxUses              int             `json:"maxUses"`
	ApplicableCategories []string        `json:"applicableCategories"`
	UserGroups           []string        `json:"userGroups"`
}

func main() {
	var (
		databaseURL  string
		seedPath     string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/storefront.json", "path to the seed JSON file")
	flag.StringVar(&apiKey, "admin-key", "", "admin API key to seed (or STORE_SEED_ADMIN_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STORE_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("STORE_SEED_ADMIN_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("STORE_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedPath, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedPath, apiKey, pepper string) error {
	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed JSON")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, postgres.NewProductRepository(pool), seed.Products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedUsers(ctx, postgres.NewUserRepository(pool), seed.Users); err != nil {
		return errors.Wrap(err, "seed users")
	}
	if err := seedCoupons(ctx, postgres.NewCouponRepository(pool), seed.Coupons); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if apiKey == "" {
		slog.Info("no admin key given, skipping")
		return nil
	}
	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedProducts(ctx context.Context, repo *postgres.ProductRepository, products []productJSON) error {
	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if err := repo.Upsert(ctx, product.Product{
			ID:              p.ID,
			Name:            p.Name,
			Price:           p.Price,
			DiscountPercent: p.DiscountPercent,
			StockQuantity:   p.Stock,
			Category:        p.Category,
			Image:           p.Image,
		}); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedUsers(ctx context.Context, repo *postgres.UserRepository, users []userJSON) error {
	slog.Info("upserting users", slog.Int("count", len(users)))

	for _, u := range users {
		joined := u.JoinedAt
		if joined.IsZero() {
			joined = time.Now()
		}
		if err := repo.Upsert(ctx, user.User{
			ID:       u.ID,
			Name:     u.Name,
			Email:    u.Email,
			JoinedAt: joined.UTC(),
		}); err != nil {
			return errors.Wrapf(err, "upsert user %s", u.ID)
		}
	}

	return nil
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository, coupons []couponJSON) error {
	slog.Info("upserting coupons", slog.Int("count", len(coupons)))

	for _, c := range coupons {
		typ := coupon.Type(c.Type)
		if !typ.Valid() {
			return errors.Errorf("coupon %s: unknown type %q", c.Code, c.Type)
		}
		if err := repo.Upsert(ctx, coupon.Coupon{
			Code:                 c.Code,
			Type:                 typ,
			Value:                c.Value,
			Description:          c.Description,
			MinOrder:             c.MinOrder,
			ValidFrom:            c.ValidFrom,
			ValidUntil:           c.ValidUntil,
			MaxUses:              c.MaxUses,
			IsActive:             true,
			ApplicableCategories: c.ApplicableCategories,
			UserGroups:           c.UserGroups,
		}); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}

		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("description", c.Description))
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding admin API key")

	if err := repo.Upsert(ctx, auth.APIKeyInfo{
		ID:      "admin",
		KeyHash: auth.HashKey([]byte(pepper), apiKey),
		Name:    "Default admin key",
		Scopes:  []string{auth.ScopeAdmin},
	}); err != nil {
		return errors.Wrap(err, "upsert admin API key")
	}

	slog.Info("upserted API key", slog.String("id", "admin"))

	return nil
}
