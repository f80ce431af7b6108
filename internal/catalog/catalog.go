// Package catalog holds the product model served behind the authorization gate.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("catalog: product not found")
	ErrInvalidInput = errors.New("catalog: invalid input")
)

// Product is a sellable item together with its on-hand stock.
type Product struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Price       float64   `json:"price" db:"price"`
	CategoryID  *string   `json:"category_id,omitempty" db:"category_id"`
	ImageURL    *string   `json:"image_url,omitempty" db:"image_url"`
	Stock       int64     `json:"stock" db:"stock"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ProductInput is the writable part of a product.
type ProductInput struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	CategoryID  *string `json:"category_id,omitempty"`
	ImageURL    *string `json:"image_url,omitempty"`
}

// Normalize trims text fields and rejects a missing name or a negative price.
func (in ProductInput) Normalize() (ProductInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Name == "" {
		return ProductInput{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if in.Price < 0 || math.IsNaN(in.Price) || math.IsInf(in.Price, 0) {
		return ProductInput{}, fmt.Errorf("%w: price must be a non-negative number", ErrInvalidInput)
	}
	in.CategoryID = trimOptional(in.CategoryID)
	in.ImageURL = trimOptional(in.ImageURL)
	return in, nil
}

func trimOptional(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

// Store persists products. CreateProduct also opens an empty inventory record.
type Store interface {
	ListProducts(ctx context.Context) ([]Product, error)
	GetProduct(ctx context.Context, id string) (Product, error)
	CreateProduct(ctx context.Context, in ProductInput) (Product, error)
	UpdateProduct(ctx context.Context, id string, in ProductInput) (Product, error)
	DeleteProduct(ctx context.Context, id string) error
}
