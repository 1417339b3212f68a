// Command seed-db provisions a database for local development: it runs
// migrations, loads seed coupons from a JSON file, and registers an admin
// API key.
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

	"github.com/tenantly/coupon-engine/internal/domain/auth"
	"github.com/tenantly/coupon-engine/internal/domain/coupon"
	"github.com/tenantly/coupon-engine/internal/repository"
)

type couponJSON struct {
	TenantID           string           `json:"tenantId"`
	Code               string           `json:"code"`
	Type               string           `json:"type"`
	Value              decimal.Decimal  `json:"value"`
	Description        string           `json:"description"`
	MinPurchaseAmount  *decimal.Decimal `json:"minPurchaseAmount"`
	MaxDiscountAmount  *decimal.Decimal `json:"maxDiscountAmount"`
	UsageLimit         *int             `json:"usageLimit"`
	Active             bool             `json:"active"`
	ExpiresAt          *time.Time       `json:"expiresAt"`
	ApplicableServices []string         `json:"applicableServices"`
}

func main() {
	var (
		databaseURL  string
		couponsFile  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&couponsFile, "coupons-file", "db/seed/coupons.json", "path to seed coupons JSON file")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or COUPON_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or COUPON_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("COUPON_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or COUPON_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("COUPON_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, couponsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, couponsFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCoupons(ctx, repository.NewCouponRepository(pool), couponsFile); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedAPIKey(ctx, repository.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}

func seedCoupons(ctx context.Context, repo *repository.CouponRepository, couponsFile string) error {
	slog.Info("reading coupons file", slog.String("path", couponsFile))

	data, err := os.ReadFile(couponsFile)
	if err != nil {
		return errors.Wrap(err, "read coupons file")
	}

	var coupons []couponJSON
	if err := json.Unmarshal(data, &coupons); err != nil {
		return errors.Wrap(err, "parse coupons JSON")
	}

	slog.Info("upserting coupons", slog.Int("count", len(coupons)))

	for _, c := range coupons {
		spec := coupon.Spec{
			TenantID:    c.TenantID,
			Code:        c.Code,
			Type:        coupon.Type(c.Type),
			Value:       c.Value,
			Description: c.Description,
			MinPurchase: c.MinPurchaseAmount,
			MaxDiscount: c.MaxDiscountAmount,
			UsageLimit:  c.UsageLimit,
			Active:      c.Active,
			Services:    c.ApplicableServices,
		}
		if c.ExpiresAt != nil {
			spec.ExpiresAt = *c.ExpiresAt
		}

		if err := repo.Upsert(ctx, spec); err != nil {
			return errors.Wrapf(err, "upsert coupon %s/%s", c.TenantID, c.Code)
		}
		slog.Info("upserted coupon",
			slog.String("tenant", c.TenantID),
			slog.String("code", coupon.NormalizeCode(c.Code)),
		)
	}
	return nil
}

func seedAPIKey(ctx context.Context, repo *repository.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding admin api key")

	hash := auth.HashKey([]byte(pepper), apiKey)
	if err := repo.Upsert(ctx, hash, "seeded admin key", []string{"admin"}); err != nil {
		return errors.Wrap(err, "upsert api key")
	}
	return nil
}
