package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/catalog"
)

// ProductSchema creates the products table read by ProductRepository.
const ProductSchema = `
CREATE TABLE IF NOT EXISTS products (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    category    TEXT NOT NULL DEFAULT '',
    price       NUMERIC(12,2) NOT NULL CHECK (price >= 0),
    stock       INTEGER NOT NULL DEFAULT 1 CHECK (stock >= 0),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// ProductRepository serves the catalog from the products table. The
// checkout path only reads; Upsert exists for seeding.
type ProductRepository struct {
	DB *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{DB: db}
}

func (r *ProductRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, ProductSchema); err != nil {
		return fmt.Errorf("create products table: %w", err)
	}
	return nil
}

func (r *ProductRepository) FindByID(ctx context.Context, id string) (catalog.Product, error) {
	var p catalog.Product
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, name, description, category, price::text, stock FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &p.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Product{}, fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
	}
	if err != nil {
		return catalog.Product{}, fmt.Errorf("query product %s: %w", id, err)
	}
	return p, nil
}

func (r *ProductRepository) List(ctx context.Context) ([]catalog.Product, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, name, description, category, price::text, stock FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var out []catalog.Product
	for rows.Next() {
		var p catalog.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &p.Stock); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}
	return out, nil
}

// Suggest returns the closest known product id, or "".
func (r *ProductRepository) Suggest(ctx context.Context, id string) string {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM products`)
	if err != nil {
		return ""
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var pid string
		if rows.Scan(&pid) == nil {
			ids = append(ids, pid)
		}
	}
	return catalog.Closest(id, ids)
}

// Upsert writes products in one transaction.
func (r *ProductRepository) Upsert(ctx context.Context, products []catalog.Product) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, p := range products {
		_, err = tx.ExecContext(ctx, `
            INSERT INTO products (id, name, description, category, price, stock)
            VALUES ($1, $2, $3, $4, $5::numeric, $6)
            ON CONFLICT (id) DO UPDATE SET
                name = EXCLUDED.name,
                description = EXCLUDED.description,
                category = EXCLUDED.category,
                price = EXCLUDED.price,
                stock = EXCLUDED.stock,
                updated_at = CURRENT_TIMESTAMP
        `, p.ID, p.Name, p.Description, p.Category, p.Price, p.Stock)
		if err != nil {
			return fmt.Errorf("failed to upsert product %s: %w", p.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
