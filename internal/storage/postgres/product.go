package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pharmacy-api/internal/domain/catalog"
)

const (
	productColumns = `p.id, p.name, p.category, p.price, p.is_active, p.prescription_required,
		COALESCE(s.quantity, 0), COALESCE(s.min_stock, 0), COALESCE(s.max_stock, 0)`

	getProductByIDSQL = `SELECT ` + productColumns + `
		FROM products p LEFT JOIN product_stock s ON s.product_id = p.id
		WHERE p.id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + `
		FROM products p LEFT JOIN product_stock s ON s.product_id = p.id
		WHERE p.id = ANY($1)`

	upsertProductSQL = `INSERT INTO products (id, name, category, price, is_active, prescription_required)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			price = EXCLUDED.price,
			is_active = EXCLUDED.is_active,
			prescription_required = EXCLUDED.prescription_required,
			updated_at = NOW()`

	upsertStockSQL = `INSERT INTO product_stock (product_id, quantity, min_stock, max_stock)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			min_stock = EXCLUDED.min_stock,
			max_stock = EXCLUDED.max_stock`
)

var _ catalog.Reader = (*ProductRepository)(nil)

// ProductRepository reads the catalog joined with stock counters.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID implements catalog.Reader.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %q", id)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	return &p, nil
}

// GetByIDs implements catalog.Reader.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Upsert writes a product and its stock counters in one transaction.
func (r *ProductRepository) Upsert(ctx context.Context, p catalog.Product) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.Category, p.Price, p.IsActive, p.PrescriptionRequired,
		); err != nil {
			return errors.Wrapf(err, "upsert product %q", p.ID)
		}
		if _, err := tx.Exec(ctx, upsertStockSQL,
			p.ID, p.Stock.Quantity, p.Stock.MinStock, p.Stock.MaxStock,
		); err != nil {
			return errors.Wrapf(err, "upsert stock %q", p.ID)
		}
		return nil
	})
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Category, &p.Price, &p.IsActive, &p.PrescriptionRequired,
		&p.Stock.Quantity, &p.Stock.MinStock, &p.Stock.MaxStock,
	)
	return p, err
}
