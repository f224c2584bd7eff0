// Package entity exposes a read-only lookup of store and product
// display names. Catalog ownership lives elsewhere; analytics only
// joins names onto its results.
package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when no entity has the given ID.
var ErrNotFound = errors.New("entity not found")

// Directory resolves display names for stores and products.
type Directory interface {
	StoreName(ctx context.Context, storeID string) (string, error)
	ProductName(ctx context.Context, productID string) (string, error)
}

// PostgresDirectory reads names from the stores and products tables.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a new PostgresDirectory.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) StoreName(ctx context.Context, storeID string) (string, error) {
	return d.name(ctx, "stores", storeID)
}

func (d *PostgresDirectory) ProductName(ctx context.Context, productID string) (string, error) {
	return d.name(ctx, "products", productID)
}

func (d *PostgresDirectory) name(ctx context.Context, table, id string) (string, error) {
	var name string
	err := d.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT name FROM %s WHERE id = $1`, table), id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("look up %s name: %w", table, err)
	}
	return name, nil
}

// InMemoryDirectory is a static name map for tests and single-process
// deployments.
type InMemoryDirectory struct {
	mu       sync.RWMutex
	stores   map[string]string
	products map[string]string
}

// NewInMemoryDirectory creates an empty in-memory directory.
func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{
		stores:   make(map[string]string),
		products: make(map[string]string),
	}
}

// AddStore registers a store name.
func (d *InMemoryDirectory) AddStore(id, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stores[id] = name
}

// AddProduct registers a product name.
func (d *InMemoryDirectory) AddProduct(id, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.products[id] = name
}

func (d *InMemoryDirectory) StoreName(ctx context.Context, storeID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.stores[storeID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, storeID)
	}
	return name, nil
}

func (d *InMemoryDirectory) ProductName(ctx context.Context, productID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.products[productID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, productID)
	}
	return name, nil
}
