package tariff

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-core/internal/clock"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/septivank/utility-billing-core/internal/store"
)

// Catalog registers new tariffs
type Catalog struct {
	store store.Store
	clock clock.Clock
}

func NewCatalog(s store.Store, clk clock.Clock) *Catalog {
	return &Catalog{store: s, clock: clk}
}

// Create validates and stores t, assigning its id and creation time
func (c *Catalog) Create(ctx context.Context, t domain.Tariff) (domain.Tariff, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = c.clock.Now()

	err := c.store.WithTx(ctx, func(q store.Queries) error {
		return q.CreateTariff(ctx, t)
	})
	if err != nil {
		return domain.Tariff{}, fmt.Errorf("failed to create tariff: %w", err)
	}
	return t, nil
}
