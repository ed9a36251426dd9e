package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/pharmacy-api/internal/seed"
	"github.com/xenking/pharmacy-api/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		seedFile     string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedFile, "seed-file", "db/seed/products.json", "path to seed JSON file")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or PHARMACY_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("PHARMACY_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedFile, []byte(apiKeyPepper)); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedFile string, pepper []byte) error {
	slog.Info("reading seed file", slog.String("path", seedFile))

	data, err := seed.ReadFile(seedFile)
	if err != nil {
		return err
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

	products := postgres.NewProductRepository(pool)
	for _, p := range data.Products {
		if err := products.Upsert(ctx, p); err != nil {
			return errors.Wrap(err, "seed products")
		}
		slog.Info("upserted product",
			slog.String("id", p.ID),
			slog.String("name", p.Name),
			slog.Int("stock", p.Stock.Quantity),
		)
	}

	coupons := postgres.NewCouponRepository(pool)
	for _, c := range data.Coupons {
		if err := coupons.Upsert(ctx, c); err != nil {
			return errors.Wrap(err, "seed coupons")
		}
		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("description", c.Description))
	}

	if len(pepper) == 0 {
		slog.Warn("api key pepper is empty, hashes will only match a server started without one")
	}
	keys := postgres.NewAPIKeyRepository(pool)
	for _, k := range data.APIKeys {
		if err := keys.Upsert(ctx, k.Info(pepper)); err != nil {
			return errors.Wrap(err, "seed api keys")
		}
		slog.Info("upserted API key",
			slog.String("id", k.ID),
			slog.String("name", k.Name),
			slog.String("customer_id", k.CustomerID),
		)
	}

	return nil
}
