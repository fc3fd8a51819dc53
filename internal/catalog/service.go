// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddCopy(ctx context.Context, title, author, isbn string, unitPrice decimal.Decimal, stock int) (*Copy, error)
	GetCopy(ctx context.Context, id uuid.UUID) (*Copy, error)
	ListCopies(ctx context.Context) ([]*Copy, error)
}
