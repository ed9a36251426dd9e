package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pharmacy-api/internal/domain/auth"
	"github.com/xenking/pharmacy-api/internal/domain/cart"
	"github.com/xenking/pharmacy-api/internal/domain/catalog"
	"github.com/xenking/pharmacy-api/internal/domain/coupon"
	"github.com/xenking/pharmacy-api/internal/domain/inventory"
	"github.com/xenking/pharmacy-api/internal/domain/order"
	"github.com/xenking/pharmacy-api/internal/seed"
	"github.com/xenking/pharmacy-api/internal/storage/memory"
	"github.com/xenking/pharmacy-api/internal/storage/postgres"
	"github.com/xenking/pharmacy-api/internal/storage/redis"
	"github.com/xenking/pharmacy-api/pkg/health"
)

// stores bundles the repositories the services are built on.
type stores struct {
	products catalog.Reader
	ledger   inventory.Ledger
	orders   order.Repository
	coupons  coupon.Repository
	apiKeys  auth.Repository
	carts    cart.Repository

	// readiness lists the backends /readyz pings.
	readiness map[string]health.Pinger
	closers   []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores builds the configured storage backends. The caller must Close
// the result.
func openStores(ctx context.Context, cfg *Config) (_ *stores, rerr error) {
	s := &stores{readiness: make(map[string]health.Pinger)}
	defer func() {
		if rerr != nil {
			s.Close()
		}
	}()

	switch cfg.Storage {
	case StorageMemory:
		if err := s.openMemory(ctx, cfg); err != nil {
			return nil, err
		}
	default:
		if err := s.openPostgres(ctx, cfg); err != nil {
			return nil, err
		}
	}

	if cfg.Redis.URL == "" {
		s.carts = memory.NewCartRepository()
		return s, nil
	}
	client, err := redis.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, errors.Wrap(err, "connect redis")
	}
	s.closers = append(s.closers, func() { _ = client.Close() })
	carts := redis.NewCartRepository(client, cfg.Redis.CartTTL)
	s.carts = carts
	s.readiness["redis"] = carts
	return s, nil
}

func (s *stores) openMemory(ctx context.Context, cfg *Config) error {
	data, err := seed.ReadFile(cfg.SeedFile)
	if err != nil {
		return err
	}
	pepper := []byte(cfg.APIKeyPepper)
	keys := make([]auth.APIKeyInfo, 0, len(data.APIKeys))
	for _, k := range data.APIKeys {
		keys = append(keys, k.Info(pepper))
	}

	products := memory.NewCatalog(data.Products...)
	s.products = products
	s.ledger = products
	s.orders = memory.NewOrderRepository()
	s.coupons = memory.NewCouponRepository(data.Coupons...)
	s.apiKeys = memory.NewAPIKeyRepository(keys...)

	zctx.From(ctx).Info("Memory storage seeded",
		zap.String("file", cfg.SeedFile),
		zap.Int("products", len(data.Products)),
		zap.Int("coupons", len(data.Coupons)),
		zap.Int("api_keys", len(keys)),
	)
	return nil
}

func (s *stores) openPostgres(ctx context.Context, cfg *Config) error {
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	s.closers = append(s.closers, pool.Close)

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := postgres.RunMigrations(migrateCtx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	s.products = postgres.NewProductRepository(pool)
	s.ledger = postgres.NewLedger(pool)
	s.orders = postgres.NewOrderRepository(pool)
	s.coupons = postgres.NewCouponRepository(pool)
	s.apiKeys = postgres.NewAPIKeyRepository(pool)
	s.readiness["postgres"] = pool
	return nil
}
