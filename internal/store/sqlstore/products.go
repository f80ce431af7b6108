package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"entadmin.org/internal/catalog"
	"entadmin.org/internal/ids"
)

const productSelect = `
	select p.id, p.name, p.description, p.price, p.category_id, p.image_url,
	       coalesce(i.quantity, 0) as stock, p.created_at, p.updated_at
	from products p
	left join inventory i on i.product_id = p.id
`

func (s *Store) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	products := []catalog.Product{}
	if err := s.db.SelectContext(ctx, &products, productSelect+` order by p.created_at desc, p.id desc`); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (catalog.Product, error) {
	var p catalog.Product
	err := s.db.GetContext(ctx, &p, s.db.Rebind(productSelect+` where p.id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Product{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// CreateProduct inserts the product and its zero inventory row in one transaction.
func (s *Store) CreateProduct(ctx context.Context, in catalog.ProductInput) (catalog.Product, error) {
	now := s.timestamp()
	p := catalog.Product{
		ID:          ids.New(),
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		CategoryID:  in.CategoryID,
		ImageURL:    in.ImageURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return catalog.Product{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		insert into products (id, name, description, price, category_id, image_url, created_at, updated_at)
		values (?, ?, ?, ?, ?, ?, ?, ?)
	`), p.ID, p.Name, p.Description, p.Price, p.CategoryID, p.ImageURL, p.CreatedAt, p.UpdatedAt); err != nil {
		return catalog.Product{}, fmt.Errorf("insert product: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		insert into inventory (product_id, quantity, updated_at) values (?, 0, ?)
	`), p.ID, now); err != nil {
		return catalog.Product{}, fmt.Errorf("insert inventory: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return catalog.Product{}, err
	}
	return p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, id string, in catalog.ProductInput) (catalog.Product, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		update products
		set name = ?, description = ?, price = ?, category_id = ?, image_url = ?, updated_at = ?
		where id = ?
	`), in.Name, in.Description, in.Price, in.CategoryID, in.ImageURL, s.timestamp(), id)
	if err != nil {
		return catalog.Product{}, fmt.Errorf("update product: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return s.GetProduct(ctx, id)
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`delete from inventory where product_id = ?`), id); err != nil {
		return fmt.Errorf("delete inventory: %w", err)
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`delete from products where id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return catalog.ErrNotFound
	}
	return tx.Commit()
}
