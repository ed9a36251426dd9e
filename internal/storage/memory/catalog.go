// Package memory implements the storage interfaces in process memory. It
// backs the memory storage mode and tests; nothing survives a restart.
package memory

import (
	"context"
	"sync"

	"github.com/xenking/pharmacy-api/internal/domain/catalog"
	"github.com/xenking/pharmacy-api/internal/domain/inventory"
)

var (
	_ catalog.Reader   = (*Catalog)(nil)
	_ inventory.Ledger = (*Catalog)(nil)
)

// Catalog holds products and their stock counters. Each product has its own
// lock so adjustments to different products never contend.
type Catalog struct {
	mu    sync.RWMutex
	cells map[string]*cell
}

type cell struct {
	mu      sync.Mutex
	product catalog.Product
}

// NewCatalog returns a Catalog holding products.
func NewCatalog(products ...catalog.Product) *Catalog {
	c := &Catalog{cells: make(map[string]*cell, len(products))}
	for _, p := range products {
		c.Put(p)
	}
	return c
}

// Put inserts or replaces a product, including its stock.
func (c *Catalog) Put(p catalog.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.cells[p.ID]; ok {
		existing.mu.Lock()
		existing.product = p
		existing.mu.Unlock()
		return
	}
	c.cells[p.ID] = &cell{product: p}
}

func (c *Catalog) cell(id string) (*cell, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cl, ok := c.cells[id]
	return cl, ok
}

func (cl *cell) read() catalog.Product {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.product
}

// GetByID implements catalog.Reader.
func (c *Catalog) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	cl, ok := c.cell(id)
	if !ok {
		return nil, catalog.ErrNotFound
	}
	p := cl.read()
	return &p, nil
}

// GetByIDs implements catalog.Reader.
func (c *Catalog) GetByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	out := make([]catalog.Product, 0, len(ids))
	for _, id := range ids {
		if cl, ok := c.cell(id); ok {
			out = append(out, cl.read())
		}
	}
	return out, nil
}

// Adjust implements inventory.Ledger.
func (c *Catalog) Adjust(_ context.Context, productID string, delta int) (int, error) {
	cl, ok := c.cell(productID)
	if !ok {
		return 0, inventory.ErrUnknownProduct
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()

	q := cl.product.Stock.Quantity
	if q+delta < 0 {
		return q, &inventory.InsufficientStockError{
			ProductID: productID,
			Requested: -delta,
			Available: q,
		}
	}
	cl.product.Stock.Quantity = q + delta
	return q + delta, nil
}
