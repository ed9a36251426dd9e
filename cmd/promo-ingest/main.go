// Command promo-ingest imports partner promo-code feeds. Each feed is a
// gzipped file with one code per line. A code becomes a coupon once it is
// listed by at least -min-feeds distinct feeds.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/pharmacy-api/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		databaseURL string
		opts        options
		validFor    time.Duration
		maxUses     int
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.gz promo feeds")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&opts.Capacity, "capacity", 10_000_000, "expected codes per feed, sizes the bloom filters")
	flag.Float64Var(&opts.FalsePositiveRate, "fpr", 0.001, "bloom filter false positive rate")
	flag.IntVar(&opts.MinFeeds, "min-feeds", 2, "feeds a code must appear in to be accepted")
	flag.IntVar(&opts.MinLen, "min-len", 6, "shortest accepted code")
	flag.IntVar(&opts.MaxLen, "max-len", 12, "longest accepted code")
	flag.DurationVar(&validFor, "valid-for", 30*24*time.Hour, "validity window of ingested coupons, 0 for open-ended")
	flag.IntVar(&maxUses, "max-uses", 0, "usage limit per ingested coupon, 0 for unlimited")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, opts, couponTemplate{validFor: validFor, maxUses: maxUses}); err != nil {
		slog.Error("promo ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("promo ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, opts options, tmpl couponTemplate) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.gz"))
	if err != nil {
		return errors.Wrap(err, "list feeds")
	}
	sort.Strings(files)

	codes, err := newIngester(opts).accepted(ctx, files)
	if err != nil {
		return err
	}

	slog.Info("accepted codes", slog.Int("count", len(codes)))

	if len(codes) == 0 {
		slog.Info("no codes to write")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return writeCoupons(ctx, postgres.NewCouponRepository(pool), codes, tmpl, time.Now())
}
