package tariff

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/shopspring/decimal"
)

// TariffNotFoundError is returned when no tariff of the provider is active on the date
type TariffNotFoundError struct {
	ProviderID uuid.UUID
	Date       time.Time
}

func (e *TariffNotFoundError) Error() string {
	return fmt.Sprintf("no active tariff for provider %s on %s", e.ProviderID, e.Date.Format("2006-01-02"))
}

func (e *TariffNotFoundError) Unwrap() error {
	return apperror.ErrNotFound
}

// TariffLister loads the tariffs of a provider
type TariffLister interface {
	ListTariffsByProvider(ctx context.Context, providerID uuid.UUID) ([]domain.Tariff, error)
}

type options struct {
	location *time.Location
}

// Option configures the default strategy set
type Option func(*options)

// WithLocation sets the local time used for time-of-use zone lookup
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.location = loc }
}

// Resolver selects the tariff in force and prices consumption with it
type Resolver struct {
	calculator *Calculator
}

func NewResolver(calculator *Calculator) *Resolver {
	return &Resolver{calculator: calculator}
}

// Resolve returns the provider's tariff active on date; with overlapping
// windows the latest activeFrom wins.
func (r *Resolver) Resolve(ctx context.Context, tariffs TariffLister, providerID uuid.UUID, date time.Time) (domain.Tariff, error) {
	candidates, err := tariffs.ListTariffsByProvider(ctx, providerID)
	if err != nil {
		return domain.Tariff{}, fmt.Errorf("failed to list tariffs: %w", err)
	}
	t, ok := SelectActive(candidates, date)
	if !ok {
		return domain.Tariff{}, &TariffNotFoundError{ProviderID: providerID, Date: date}
	}
	return t, nil
}

// SelectActive picks the tariff active on date with the latest activeFrom.
// Equal activeFrom values fall back to the most recently created tariff.
func SelectActive(tariffs []domain.Tariff, date time.Time) (domain.Tariff, bool) {
	active := make([]domain.Tariff, 0, len(tariffs))
	for _, t := range tariffs {
		if t.IsActiveOn(date) {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		return domain.Tariff{}, false
	}
	sort.SliceStable(active, func(i, j int) bool {
		fi, fj := domain.DateOf(active[i].ActiveFrom), domain.DateOf(active[j].ActiveFrom)
		if !fi.Equal(fj) {
			return fi.After(fj)
		}
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})
	return active[0], true
}

// CalculateCost prices consumption at timestamp with t
func (r *Resolver) CalculateCost(t domain.Tariff, consumption decimal.Decimal, timestamp time.Time) (decimal.Decimal, error) {
	charge, err := r.calculator.Calculate(t.Configuration, Usage{Consumption: consumption, Timestamp: timestamp})
	if err != nil {
		return decimal.Zero, err
	}
	return charge.Cost, nil
}

// Price prices a full usage with t's configuration
func (r *Resolver) Price(t domain.Tariff, usage Usage) (Charge, error) {
	return r.calculator.Calculate(t.Configuration, usage)
}

// Calculator exposes the underlying strategy dispatcher
func (r *Resolver) Calculator() *Calculator {
	return r.calculator
}
