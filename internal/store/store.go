// Package store defines the persistence contract of the billing core.
//
// Services never talk to a database directly. They open a unit of work with
// Store.WithTx and use the Queries handed to the callback; every read and
// write inside that callback commits or rolls back together. Two
// implementations exist: repository (PostgreSQL) and store/memory (tests and
// local runs).
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/shopspring/decimal"
)

// Store opens transactional units of work.
type Store interface {
	// WithTx runs fn inside a transaction. A non-nil error from fn rolls the
	// transaction back; nil commits it.
	WithTx(ctx context.Context, fn func(q Queries) error) error
}

// Queries is the set of reads and writes available inside a transaction.
type Queries interface {
	MeterQueries
	ReadingQueries
	TariffQueries
	PropertyQueries
	InvoiceQueries
}

// MeterQueries reads metering points.
type MeterQueries interface {
	GetMeter(ctx context.Context, id uuid.UUID) (domain.Meter, error)
	ListMetersByProperty(ctx context.Context, propertyID uuid.UUID) ([]domain.Meter, error)
}

// ReadingQueries reads and writes meter readings and their audit rows.
type ReadingQueries interface {
	GetReading(ctx context.Context, id uuid.UUID) (domain.MeterReading, error)
	CreateReading(ctx context.Context, r domain.MeterReading) error
	// UpdateReading overwrites value, reading date, actor and updated_at.
	UpdateReading(ctx context.Context, r domain.MeterReading) error
	// ListReadings returns the readings of one (meter, zone) ordered by
	// reading date, then creation time.
	ListReadings(ctx context.Context, meterID uuid.UUID, zone string) ([]domain.MeterReading, error)
	// ListReadingZones returns the distinct zones recorded for a meter.
	ListReadingZones(ctx context.Context, meterID uuid.UUID) ([]string, error)
	// LatestReadingAtOrBefore returns the latest reading of (meter, zone) whose
	// date is not after at. ok is false when there is none.
	LatestReadingAtOrBefore(ctx context.Context, meterID uuid.UUID, zone string, at time.Time) (r domain.MeterReading, ok bool, err error)

	AppendAudit(ctx context.Context, a domain.MeterReadingAudit) error
	ListAudits(ctx context.Context, readingID uuid.UUID) ([]domain.MeterReadingAudit, error)
}

// TariffQueries reads and creates tariffs.
type TariffQueries interface {
	GetTariff(ctx context.Context, id uuid.UUID) (domain.Tariff, error)
	ListTariffsByProvider(ctx context.Context, providerID uuid.UUID) ([]domain.Tariff, error)
	// CreateTariff rejects configurations that fail tariff validation.
	CreateTariff(ctx context.Context, t domain.Tariff) error
}

// PropertyQueries reads renters, properties and buildings.
type PropertyQueries interface {
	GetTenantRenter(ctx context.Context, id uuid.UUID) (domain.TenantRenter, error)
	GetProperty(ctx context.Context, id uuid.UUID) (domain.Property, error)
	ListPropertiesByBuilding(ctx context.Context, buildingID uuid.UUID) ([]domain.Property, error)
	GetBuilding(ctx context.Context, id uuid.UUID) (domain.Building, error)
	UpdateBuildingGyvatukas(ctx context.Context, buildingID uuid.UUID, average decimal.Decimal, calculatedAt time.Time) error
}

// InvoiceQueries reads and writes invoices and their items.
type InvoiceQueries interface {
	// CreateInvoice persists the invoice together with its items.
	CreateInvoice(ctx context.Context, inv domain.Invoice) error
	// GetInvoice returns the invoice with its items ordered by creation.
	GetInvoice(ctx context.Context, id uuid.UUID) (domain.Invoice, error)
	// UpdateInvoice writes next through domain.GuardInvoiceUpdate against the
	// persisted row and returns what was stored plus the names of any
	// financial fields the guard reverted. Items are not written.
	UpdateInvoice(ctx context.Context, next domain.Invoice) (stored domain.Invoice, discarded []string, err error)
	// UpdateInvoiceItem rewrites quantity, unit price, total and snapshot.
	// It fails with a state conflict unless the owning invoice is DRAFT.
	UpdateInvoiceItem(ctx context.Context, item domain.InvoiceItem) error
	// ListInvoiceItemsByReading returns every item whose snapshot starts or
	// ends at the reading.
	ListInvoiceItemsByReading(ctx context.Context, readingID uuid.UUID) ([]domain.InvoiceItem, error)
}
