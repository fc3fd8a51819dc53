// internal/catalog/implementation.go
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"libracheck/internal/errs"
)

// service implements the Service interface.
type service struct {
	store Store
}

// NewService creates a new catalog service instance.
func NewService(store Store) Service {
	return &service{store: store}
}

// AddCopy registers a new copy with its initial stock.
func (s *service) AddCopy(ctx context.Context, title, author, isbn string, unitPrice decimal.Decimal, stock int) (*Copy, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("title is required: %w", errs.ErrInvalid)
	}
	if stock < 0 {
		return nil, fmt.Errorf("stock %d is negative: %w", stock, errs.ErrInvalid)
	}
	if unitPrice.IsNegative() {
		return nil, fmt.Errorf("unit price %s is negative: %w", unitPrice, errs.ErrInvalid)
	}

	now := time.Now().UTC()
	c := &Copy{
		ID:        uuid.New(),
		Title:     title,
		Author:    strings.TrimSpace(author),
		ISBN:      strings.TrimSpace(isbn),
		UnitPrice: unitPrice,
		Stock:     stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertCopy(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to insert copy: %w", err)
	}
	return c, nil
}

// GetCopy retrieves a copy by its ID.
func (s *service) GetCopy(ctx context.Context, id uuid.UUID) (*Copy, error) {
	c, err := s.store.GetCopy(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get copy %s: %w", id, err)
	}
	return c, nil
}

func (s *service) ListCopies(ctx context.Context) ([]*Copy, error) {
	copies, err := s.store.ListCopies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list copies: %w", err)
	}
	return copies, nil
}
