// internal/catalog/domain.go
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Copy is a physical unit of a book title, tracked by a stock counter.
type Copy struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Title     string          `json:"title" db:"title"`
	Author    string          `json:"author" db:"author"`
	ISBN      string          `json:"isbn" db:"isbn"`
	UnitPrice decimal.Decimal `json:"unit_price" db:"unit_price"`
	Stock     int             `json:"stock" db:"stock"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Store persists copies. GetCopy returns errs.ErrNotFound for an unknown ID.
type Store interface {
	InsertCopy(ctx context.Context, c *Copy) error
	GetCopy(ctx context.Context, id uuid.UUID) (*Copy, error)
	ListCopies(ctx context.Context) ([]*Copy, error)
}
