// Package memory provides an in-memory store.Store for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/septivank/utility-billing-core/internal/store"
	"github.com/septivank/utility-billing-core/internal/tariff"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory keeps every entity in maps guarded by a single mutex.
// Transactions are serialized and rolled back by restoring a snapshot.
type Memory struct {
	mu   sync.Mutex
	data *data
}

type data struct {
	providers  map[uuid.UUID]domain.Provider
	buildings  map[uuid.UUID]domain.Building
	properties map[uuid.UUID]domain.Property
	renters    map[uuid.UUID]domain.TenantRenter
	meters     map[uuid.UUID]domain.Meter
	readings   map[uuid.UUID]domain.MeterReading
	audits     []domain.MeterReadingAudit
	tariffs    map[uuid.UUID]domain.Tariff
	invoices   map[uuid.UUID]domain.Invoice
}

var _ store.Store = (*Memory)(nil)
var _ store.Queries = (*data)(nil)

func New() *Memory {
	return &Memory{data: newData()}
}

func newData() *data {
	return &data{
		providers:  make(map[uuid.UUID]domain.Provider),
		buildings:  make(map[uuid.UUID]domain.Building),
		properties: make(map[uuid.UUID]domain.Property),
		renters:    make(map[uuid.UUID]domain.TenantRenter),
		meters:     make(map[uuid.UUID]domain.Meter),
		readings:   make(map[uuid.UUID]domain.MeterReading),
		tariffs:    make(map[uuid.UUID]domain.Tariff),
		invoices:   make(map[uuid.UUID]domain.Invoice),
	}
}

// WithTx runs fn against the live data and restores the pre-call snapshot if fn fails.
func (m *Memory) WithTx(_ context.Context, fn func(q store.Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(m.data); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.providers {
		c.providers[k] = v
	}
	for k, v := range d.buildings {
		c.buildings[k] = v
	}
	for k, v := range d.properties {
		c.properties[k] = v
	}
	for k, v := range d.renters {
		c.renters[k] = v
	}
	for k, v := range d.meters {
		c.meters[k] = v
	}
	for k, v := range d.readings {
		c.readings[k] = v
	}
	c.audits = append([]domain.MeterReadingAudit(nil), d.audits...)
	for k, v := range d.tariffs {
		c.tariffs[k] = v
	}
	for k, v := range d.invoices {
		c.invoices[k] = copyInvoice(v)
	}
	return c
}

func copyInvoice(inv domain.Invoice) domain.Invoice {
	inv.Items = append([]domain.InvoiceItem(nil), inv.Items...)
	return inv
}

// =============================================================================
// SEEDING - reference data owned by systems outside the billing core
// =============================================================================

func (m *Memory) AddProvider(p domain.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.providers[p.ID] = p
}

func (m *Memory) AddBuilding(b domain.Building) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.buildings[b.ID] = b
}

func (m *Memory) AddProperty(p domain.Property) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.properties[p.ID] = p
}

func (m *Memory) AddTenantRenter(r domain.TenantRenter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.renters[r.ID] = r
}

func (m *Memory) AddMeter(mt domain.Meter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.meters[mt.ID] = mt
}

// =============================================================================
// METERS & READINGS
// =============================================================================

func (d *data) GetMeter(_ context.Context, id uuid.UUID) (domain.Meter, error) {
	mt, ok := d.meters[id]
	if !ok {
		return domain.Meter{}, apperror.NewNotFound("meter", id)
	}
	return mt, nil
}

func (d *data) ListMetersByProperty(_ context.Context, propertyID uuid.UUID) ([]domain.Meter, error) {
	var out []domain.Meter
	for _, mt := range d.meters {
		if mt.PropertyID == propertyID {
			out = append(out, mt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Serial < out[j].Serial
	})
	return out, nil
}

func (d *data) GetReading(_ context.Context, id uuid.UUID) (domain.MeterReading, error) {
	r, ok := d.readings[id]
	if !ok {
		return domain.MeterReading{}, apperror.NewNotFound("meter reading", id)
	}
	return r, nil
}

func (d *data) CreateReading(_ context.Context, r domain.MeterReading) error {
	if _, ok := d.meters[r.MeterID]; !ok {
		return apperror.NewNotFound("meter", r.MeterID)
	}
	if _, exists := d.readings[r.ID]; exists {
		return fmt.Errorf("meter reading %s already exists", r.ID)
	}
	d.readings[r.ID] = r
	return nil
}

func (d *data) UpdateReading(_ context.Context, r domain.MeterReading) error {
	prev, ok := d.readings[r.ID]
	if !ok {
		return apperror.NewNotFound("meter reading", r.ID)
	}
	prev.Value = r.Value
	prev.ReadingDate = r.ReadingDate
	prev.EnteredBy = r.EnteredBy
	prev.UpdatedAt = r.UpdatedAt
	d.readings[r.ID] = prev
	return nil
}

func (d *data) ListReadings(_ context.Context, meterID uuid.UUID, zone string) ([]domain.MeterReading, error) {
	var out []domain.MeterReading
	for _, r := range d.readings {
		if r.MeterID == meterID && r.Zone == zone {
			out = append(out, r)
		}
	}
	sortReadings(out)
	return out, nil
}

func sortReadings(rs []domain.MeterReading) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].ReadingDate.Equal(rs[j].ReadingDate) {
			return rs[i].ReadingDate.Before(rs[j].ReadingDate)
		}
		return rs[i].CreatedAt.Before(rs[j].CreatedAt)
	})
}

func (d *data) ListReadingZones(_ context.Context, meterID uuid.UUID) ([]string, error) {
	seen := make(map[string]bool)
	var zones []string
	for _, r := range d.readings {
		if r.MeterID == meterID && !seen[r.Zone] {
			seen[r.Zone] = true
			zones = append(zones, r.Zone)
		}
	}
	sort.Strings(zones)
	return zones, nil
}

func (d *data) LatestReadingAtOrBefore(ctx context.Context, meterID uuid.UUID, zone string, at time.Time) (domain.MeterReading, bool, error) {
	readings, _ := d.ListReadings(ctx, meterID, zone)
	for i := len(readings) - 1; i >= 0; i-- {
		if !readings[i].ReadingDate.After(at) {
			return readings[i], true, nil
		}
	}
	return domain.MeterReading{}, false, nil
}

func (d *data) AppendAudit(_ context.Context, a domain.MeterReadingAudit) error {
	if _, ok := d.readings[a.MeterReadingID]; !ok {
		return apperror.NewNotFound("meter reading", a.MeterReadingID)
	}
	d.audits = append(d.audits, a)
	return nil
}

func (d *data) ListAudits(_ context.Context, readingID uuid.UUID) ([]domain.MeterReadingAudit, error) {
	var out []domain.MeterReadingAudit
	for _, a := range d.audits {
		if a.MeterReadingID == readingID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// =============================================================================
// TARIFFS
// =============================================================================

func (d *data) GetTariff(_ context.Context, id uuid.UUID) (domain.Tariff, error) {
	t, ok := d.tariffs[id]
	if !ok {
		return domain.Tariff{}, apperror.NewNotFound("tariff", id)
	}
	return t, nil
}

func (d *data) ListTariffsByProvider(_ context.Context, providerID uuid.UUID) ([]domain.Tariff, error) {
	var out []domain.Tariff
	for _, t := range d.tariffs {
		if t.ProviderID != nil && *t.ProviderID == providerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (d *data) CreateTariff(_ context.Context, t domain.Tariff) error {
	if err := tariff.ValidateTariff(t); err != nil {
		return err
	}
	if t.ProviderID != nil {
		if _, ok := d.providers[*t.ProviderID]; !ok {
			return apperror.NewNotFound("provider", *t.ProviderID)
		}
	}
	d.tariffs[t.ID] = t
	return nil
}

// =============================================================================
// PROPERTIES & BUILDINGS
// =============================================================================

func (d *data) GetTenantRenter(_ context.Context, id uuid.UUID) (domain.TenantRenter, error) {
	r, ok := d.renters[id]
	if !ok {
		return domain.TenantRenter{}, apperror.NewNotFound("tenant renter", id)
	}
	return r, nil
}

func (d *data) GetProperty(_ context.Context, id uuid.UUID) (domain.Property, error) {
	p, ok := d.properties[id]
	if !ok {
		return domain.Property{}, apperror.NewNotFound("property", id)
	}
	return p, nil
}

func (d *data) ListPropertiesByBuilding(_ context.Context, buildingID uuid.UUID) ([]domain.Property, error) {
	var out []domain.Property
	for _, p := range d.properties {
		if p.BuildingID == buildingID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Address != out[j].Address {
			return out[i].Address < out[j].Address
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (d *data) GetBuilding(_ context.Context, id uuid.UUID) (domain.Building, error) {
	b, ok := d.buildings[id]
	if !ok {
		return domain.Building{}, apperror.NewNotFound("building", id)
	}
	return b, nil
}

func (d *data) UpdateBuildingGyvatukas(_ context.Context, buildingID uuid.UUID, average decimal.Decimal, calculatedAt time.Time) error {
	b, ok := d.buildings[buildingID]
	if !ok {
		return apperror.NewNotFound("building", buildingID)
	}
	b.GyvatukasSummerAverage = decimal.NewNullDecimal(average)
	b.GyvatukasLastCalculated = &calculatedAt
	d.buildings[buildingID] = b
	return nil
}

// =============================================================================
// INVOICES
// =============================================================================

func (d *data) CreateInvoice(_ context.Context, inv domain.Invoice) error {
	if _, exists := d.invoices[inv.ID]; exists {
		return fmt.Errorf("invoice %s already exists", inv.ID)
	}
	d.invoices[inv.ID] = copyInvoice(inv)
	return nil
}

func (d *data) GetInvoice(_ context.Context, id uuid.UUID) (domain.Invoice, error) {
	inv, ok := d.invoices[id]
	if !ok {
		return domain.Invoice{}, apperror.NewNotFound("invoice", id)
	}
	return copyInvoice(inv), nil
}

func (d *data) UpdateInvoice(_ context.Context, next domain.Invoice) (domain.Invoice, []string, error) {
	prev, ok := d.invoices[next.ID]
	if !ok {
		return domain.Invoice{}, nil, apperror.NewNotFound("invoice", next.ID)
	}

	result, discarded, err := domain.GuardInvoiceUpdate(prev, next)
	if err != nil {
		return domain.Invoice{}, nil, err
	}
	result.ID = prev.ID
	result.CreatedAt = prev.CreatedAt
	result.Items = prev.Items
	d.invoices[prev.ID] = result
	return copyInvoice(result), discarded, nil
}

func (d *data) UpdateInvoiceItem(_ context.Context, item domain.InvoiceItem) error {
	inv, ok := d.invoices[item.InvoiceID]
	if !ok {
		return apperror.NewNotFound("invoice", item.InvoiceID)
	}
	if inv.Status != domain.InvoiceDraft {
		return &domain.InvoiceAlreadyFinalizedError{InvoiceID: inv.ID, Status: inv.Status, Fields: []string{"items"}}
	}
	for i, existing := range inv.Items {
		if existing.ID != item.ID {
			continue
		}
		existing.Quantity = item.Quantity
		existing.UnitPrice = item.UnitPrice
		existing.Total = item.Total
		existing.Snapshot = item.Snapshot
		existing.UpdatedAt = item.UpdatedAt
		inv.Items[i] = existing
		return nil
	}
	return apperror.NewNotFound("invoice item", item.ID)
}

func (d *data) ListInvoiceItemsByReading(_ context.Context, readingID uuid.UUID) ([]domain.InvoiceItem, error) {
	var out []domain.InvoiceItem
	for _, inv := range d.invoices {
		for _, item := range inv.Items {
			if item.Snapshot.References(readingID) {
				out = append(out, item)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}
