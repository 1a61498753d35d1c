// Package catalog resolves product identifiers against a read-only product
// dataset. The default dataset is embedded; a JSON file or the Postgres
// products table can replace it.
package catalog

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

//go:embed data/products.json
var dataFS embed.FS

// ErrNotFound is returned when a product id does not resolve.
var ErrNotFound = errors.New("product not found")

// Product is immutable for the duration of a request.
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Price       string `json:"price"`
	Stock       int    `json:"stock"`
}

// Catalog is the lookup used by pricing.
type Catalog interface {
	FindByID(ctx context.Context, id string) (Product, error)
}

// Lister is implemented by catalogs that can enumerate their products.
type Lister interface {
	List(ctx context.Context) ([]Product, error)
}

type rawProduct struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Price       string `json:"price"`
	Stock       *int   `json:"stock"`
}

type snapshot struct {
	ordered []Product
	byID    map[string]Product
}

// Static is an in-memory catalog. Readers always see a complete snapshot;
// Reload swaps snapshots atomically.
type Static struct {
	current atomic.Pointer[snapshot]
}

// NewStatic builds a catalog from products. Ids must be unique and prices
// must be non-negative decimals.
func NewStatic(products []Product) (*Static, error) {
	snap, err := newSnapshot(products)
	if err != nil {
		return nil, err
	}
	s := &Static{}
	s.current.Store(snap)
	return s, nil
}

// Default returns the catalog embedded in the binary.
func Default() (*Static, error) {
	f, err := dataFS.Open("data/products.json")
	if err != nil {
		return nil, fmt.Errorf("open embedded catalog: %w", err)
	}
	defer f.Close()
	products, err := Decode(f)
	if err != nil {
		return nil, err
	}
	return NewStatic(products)
}

// LoadFile reads a JSON product array from path.
func LoadFile(path string) (*Static, error) {
	products, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return NewStatic(products)
}

// Decode parses a JSON product array. A missing stock defaults to 1.
func Decode(r io.Reader) ([]Product, error) {
	var raw []rawProduct
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	out := make([]Product, 0, len(raw))
	for _, p := range raw {
		stock := 1
		if p.Stock != nil {
			stock = *p.Stock
		}
		out = append(out, Product{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Category:    p.Category,
			Price:       p.Price,
			Stock:       stock,
		})
	}
	return out, nil
}

// Reload replaces the catalog contents with the products in path. On error
// the previous snapshot stays in place.
func (s *Static) Reload(path string) error {
	products, err := readFile(path)
	if err != nil {
		return err
	}
	snap, err := newSnapshot(products)
	if err != nil {
		return err
	}
	s.current.Store(snap)
	return nil
}

func (s *Static) FindByID(_ context.Context, id string) (Product, error) {
	p, ok := s.current.Load().byID[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

func (s *Static) List(_ context.Context) ([]Product, error) {
	snap := s.current.Load()
	out := make([]Product, len(snap.ordered))
	copy(out, snap.ordered)
	return out, nil
}

// Suggest returns the known product id closest to id, or "" when nothing is
// similar enough.
func (s *Static) Suggest(_ context.Context, id string) string {
	snap := s.current.Load()
	ids := make([]string, 0, len(snap.ordered))
	for _, p := range snap.ordered {
		ids = append(ids, p.ID)
	}
	return Closest(id, ids)
}

func readFile(path string) ([]Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}

func newSnapshot(products []Product) (*snapshot, error) {
	snap := &snapshot{
		ordered: make([]Product, 0, len(products)),
		byID:    make(map[string]Product, len(products)),
	}
	for _, p := range products {
		if p.ID == "" {
			return nil, errors.New("catalog: product with empty id")
		}
		if _, dup := snap.byID[p.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate product id %s", p.ID)
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("catalog: product %s has invalid price %q: %w", p.ID, p.Price, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("catalog: product %s has negative price %s", p.ID, p.Price)
		}
		if price.Exponent() < -2 && !price.Equal(price.Round(2)) {
			return nil, fmt.Errorf("catalog: product %s price %s has more than 2 decimal places", p.ID, p.Price)
		}
		if p.Stock < 0 {
			return nil, fmt.Errorf("catalog: product %s has negative stock", p.ID)
		}
		snap.ordered = append(snap.ordered, p)
		snap.byID[p.ID] = p
	}
	return snap, nil
}
