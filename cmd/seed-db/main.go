// Command seed-db provisions a database with demo coupons and an API key so
// the API server is usable immediately after a fresh deploy.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/promokit/storefront/internal/domain/coupon"
	"github.com/promokit/storefront/internal/handler"
	"github.com/promokit/storefront/internal/storage/postgres"
)

const insertAPIKeySQL = `INSERT INTO api_keys (key_hash, name)
	VALUES ($1, $2) ON CONFLICT (key_hash) DO NOTHING`

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("SHOP_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or SHOP_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string) error {
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

	if err := seedCoupons(ctx, pool); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	slog.Info("seeding api key")

	hash := handler.HashAPIKey(apiKey, []byte(pepper))
	if _, err := pool.Exec(ctx, insertAPIKeySQL, hash, "seed"); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool) error {
	svc := coupon.NewService(postgres.NewCouponRepository(pool))

	minOrder := decimal.NewFromInt(50)
	demos := []coupon.CreateParams{
		{
			Code:   "SAVE10",
			Kind:   coupon.KindPercent,
			Value:  decimal.NewFromInt(10),
			Active: true,
		},
		{
			Code:   "FLAT20",
			Kind:   coupon.KindFixed,
			Value:  decimal.NewFromInt(20),
			Scope:  coupon.Scope{CategoryIDs: []string{"shoes"}},
			Active: true,
		},
		{
			Code:          "WELCOME15",
			Kind:          coupon.KindPercent,
			Value:         decimal.NewFromInt(15),
			MinOrderTotal: &minOrder,
			UsageLimit:    1000,
			Active:        true,
		},
	}

	for _, params := range demos {
		_, err := svc.Create(ctx, params)
		if errors.Is(err, coupon.ErrCodeExists) {
			slog.Info("coupon already seeded", slog.String("code", params.Code))
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "create coupon %s", params.Code)
		}
		slog.Info("coupon seeded", slog.String("code", params.Code))
	}
	return nil
}
