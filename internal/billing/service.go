package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/clock"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/septivank/utility-billing-core/internal/store"
	"github.com/septivank/utility-billing-core/internal/tariff"
	"go.uber.org/zap"
)

// NoItemsError is returned when no meter of the renter produced an invoice item
type NoItemsError struct {
	TenantRenterID uuid.UUID
	PeriodStart    time.Time
	PeriodEnd      time.Time
}

func (e *NoItemsError) Error() string {
	return fmt.Sprintf("no invoice items for tenant renter %s in period %s..%s",
		e.TenantRenterID, e.PeriodStart.Format("2006-01-02"), e.PeriodEnd.Format("2006-01-02"))
}

func (e *NoItemsError) Unwrap() error {
	return apperror.ErrValidation
}

// Finalizer performs the DRAFT to FINALIZED transition
type Finalizer interface {
	Finalize(ctx context.Context, invoiceID uuid.UUID) (domain.Invoice, error)
}

// Service generates DRAFT invoices from metered consumption
type Service struct {
	store     store.Store
	resolver  *tariff.Resolver
	finalizer Finalizer
	clock     clock.Clock
	logger    *zap.Logger
}

// NewService creates a new billing service
func NewService(s store.Store, resolver *tariff.Resolver, finalizer Finalizer, clk clock.Clock, logger *zap.Logger) *Service {
	return &Service{
		store:     s,
		resolver:  resolver,
		finalizer: finalizer,
		clock:     clk,
		logger:    logger,
	}
}

// GenerateInvoice bills the renter's property meters for [periodStart, periodEnd].
// Each (meter, zone) with both bracketing readings becomes one item carrying a
// snapshot of the readings and tariff used. The invoice is stored as DRAFT.
func (s *Service) GenerateInvoice(ctx context.Context, tenantRenterID uuid.UUID, periodStart, periodEnd time.Time) (domain.Invoice, error) {
	if !periodStart.Before(periodEnd) {
		return domain.Invoice{}, apperror.NewValidation("period", "start %s must be before end %s",
			periodStart.Format(time.RFC3339), periodEnd.Format(time.RFC3339))
	}

	logger := s.logger.With(
		zap.Stringer("tenant_renter_id", tenantRenterID),
		zap.Time("period_start", periodStart),
		zap.Time("period_end", periodEnd),
	)

	var inv domain.Invoice
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		renter, err := q.GetTenantRenter(ctx, tenantRenterID)
		if err != nil {
			return fmt.Errorf("failed to load tenant renter: %w", err)
		}

		meters, err := q.ListMetersByProperty(ctx, renter.PropertyID)
		if err != nil {
			return fmt.Errorf("failed to list meters: %w", err)
		}

		now := s.clock.Now()
		inv = domain.Invoice{
			ID:             uuid.New(),
			TenantRenterID: renter.ID,
			PropertyID:     renter.PropertyID,
			PeriodStart:    periodStart,
			PeriodEnd:      periodEnd,
			Status:         domain.InvoiceDraft,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		for _, meter := range meters {
			items, err := s.itemsForMeter(ctx, q, logger, inv, meter)
			if err != nil {
				return err
			}
			inv.Items = append(inv.Items, items...)
		}

		if len(inv.Items) == 0 {
			return &NoItemsError{TenantRenterID: tenantRenterID, PeriodStart: periodStart, PeriodEnd: periodEnd}
		}

		currency, err := invoiceCurrency(inv.Items)
		if err != nil {
			return err
		}
		inv.Currency = currency
		inv.TotalAmount = inv.SumItems()

		if err := q.CreateInvoice(ctx, inv); err != nil {
			return fmt.Errorf("failed to create invoice: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	logger.Info("invoice generated",
		zap.Stringer("invoice_id", inv.ID),
		zap.Int("items", len(inv.Items)),
		zap.String("total", inv.TotalAmount.StringFixed(2)),
		zap.String("currency", inv.Currency),
	)
	return inv, nil
}

// Finalize locks a DRAFT invoice
func (s *Service) Finalize(ctx context.Context, invoiceID uuid.UUID) (domain.Invoice, error) {
	return s.finalizer.Finalize(ctx, invoiceID)
}

func (s *Service) itemsForMeter(ctx context.Context, q store.Queries, logger *zap.Logger, inv domain.Invoice, meter domain.Meter) ([]domain.InvoiceItem, error) {
	logger = logger.With(zap.Stringer("meter_id", meter.ID), zap.String("meter_serial", meter.Serial))

	t, ok, err := s.tariffFor(ctx, q, meter, inv.PeriodEnd)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Warn("skipping meter without tariff or provider")
		return nil, nil
	}

	zones := []string{""}
	if meter.SupportsZones {
		zones, err = q.ListReadingZones(ctx, meter.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list reading zones: %w", err)
		}
	}

	var items []domain.InvoiceItem
	for _, zone := range zones {
		item, ok, err := s.itemForZone(ctx, q, inv, meter, zone, t)
		if err != nil {
			return nil, err
		}
		if !ok {
			logger.Warn("skipping meter zone without bracketing readings", zap.String("zone", zone))
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// tariffFor returns the tariff linked to the meter directly, or the provider's
// tariff active at date. ok is false when the meter has neither link.
func (s *Service) tariffFor(ctx context.Context, q store.TariffQueries, meter domain.Meter, date time.Time) (domain.Tariff, bool, error) {
	if meter.TariffID != nil {
		t, err := q.GetTariff(ctx, *meter.TariffID)
		if err != nil {
			return domain.Tariff{}, false, fmt.Errorf("failed to load linked tariff: %w", err)
		}
		return t, true, nil
	}
	if meter.ProviderID == nil {
		return domain.Tariff{}, false, nil
	}
	t, err := s.resolver.Resolve(ctx, q, *meter.ProviderID, date)
	if err != nil {
		return domain.Tariff{}, false, err
	}
	return t, true, nil
}

func (s *Service) itemForZone(ctx context.Context, q store.ReadingQueries, inv domain.Invoice, meter domain.Meter, zone string, t domain.Tariff) (domain.InvoiceItem, bool, error) {
	start, okStart, err := q.LatestReadingAtOrBefore(ctx, meter.ID, zone, inv.PeriodStart)
	if err != nil {
		return domain.InvoiceItem{}, false, fmt.Errorf("failed to load start reading: %w", err)
	}
	end, okEnd, err := q.LatestReadingAtOrBefore(ctx, meter.ID, zone, inv.PeriodEnd)
	if err != nil {
		return domain.InvoiceItem{}, false, fmt.Errorf("failed to load end reading: %w", err)
	}
	if !okStart || !okEnd {
		return domain.InvoiceItem{}, false, nil
	}

	consumption := domain.RoundQuantity(end.Value.Sub(start.Value))
	if consumption.IsNegative() {
		return domain.InvoiceItem{}, false, apperror.NewValidation("consumption",
			"meter %s zone %q: end reading %s is lower than start reading %s", meter.Serial, zone, end.Value, start.Value)
	}

	charge, err := s.resolver.Price(t, tariff.Usage{
		Consumption: consumption,
		Timestamp:   inv.PeriodEnd,
		Zone:        zone,
	})
	if err != nil {
		return domain.InvoiceItem{}, false, fmt.Errorf("failed to price meter %s: %w", meter.Serial, err)
	}

	return domain.InvoiceItem{
		ID:          uuid.New(),
		InvoiceID:   inv.ID,
		Description: describe(meter, zone),
		Quantity:    consumption,
		Unit:        meter.Kind.Unit(),
		UnitPrice:   charge.UnitPrice,
		Total:       charge.Cost,
		Snapshot: domain.MeterReadingSnapshot{
			MeterID:             meter.ID,
			MeterSerial:         meter.Serial,
			ServiceKind:         meter.Kind,
			StartReadingID:      start.ID,
			StartValue:          start.Value,
			EndReadingID:        end.ID,
			EndValue:            end.Value,
			TariffID:            t.ID,
			TariffConfiguration: t.Configuration,
			Zone:                zone,
			PricedAt:            inv.PeriodEnd,
		},
		CreatedAt: inv.CreatedAt,
		UpdatedAt: inv.CreatedAt,
	}, true, nil
}

func describe(meter domain.Meter, zone string) string {
	kind := strings.ReplaceAll(string(meter.Kind), "_", " ")
	if zone == "" {
		return fmt.Sprintf("%s meter %s", kind, meter.Serial)
	}
	return fmt.Sprintf("%s meter %s (%s)", kind, meter.Serial, zone)
}

func invoiceCurrency(items []domain.InvoiceItem) (string, error) {
	currency := ""
	for _, item := range items {
		c := item.Snapshot.TariffConfiguration.CurrencyCode()
		if currency == "" {
			currency = c
			continue
		}
		if c != currency {
			return "", apperror.NewConfiguration("invoice mixes currencies %s and %s", currency, c)
		}
	}
	return currency, nil
}
