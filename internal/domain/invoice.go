package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle state of an invoice
type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "DRAFT"
	InvoiceFinalized InvoiceStatus = "FINALIZED"
	InvoicePaid      InvoiceStatus = "PAID"
)

// rank orders statuses along the one-directional lifecycle
func (s InvoiceStatus) rank() int {
	switch s {
	case InvoiceDraft:
		return 0
	case InvoiceFinalized:
		return 1
	case InvoicePaid:
		return 2
	}
	return -1
}

// Valid reports whether s is a known status
func (s InvoiceStatus) Valid() bool {
	return s.rank() >= 0
}

// IsLocked reports whether invoices in this status are financially immutable
func (s InvoiceStatus) IsLocked() bool {
	return s == InvoiceFinalized || s == InvoicePaid
}

// CanTransitionTo reports whether next is the same or a later lifecycle state
func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	return s.Valid() && next.Valid() && next.rank() >= s.rank()
}

// Invoice bills a tenant renter for one period
type Invoice struct {
	ID               uuid.UUID
	TenantRenterID   uuid.UUID
	PropertyID       uuid.UUID
	PeriodStart      time.Time
	PeriodEnd        time.Time
	Status           InvoiceStatus
	TotalAmount      decimal.Decimal
	Currency         string
	FinalizedAt      *time.Time
	PaidAt           *time.Time
	PaidAmount       decimal.NullDecimal
	PaymentReference *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Items            []InvoiceItem
}

// SumItems returns the rounded sum of all item totals
func (inv Invoice) SumItems() decimal.Decimal {
	total := decimal.Zero
	for _, item := range inv.Items {
		total = total.Add(item.Total)
	}
	return RoundMoney(total)
}

// InvoiceItem is one (meter, zone) charge line
type InvoiceItem struct {
	ID          uuid.UUID
	InvoiceID   uuid.UUID
	Description string
	Quantity    decimal.Decimal
	Unit        string
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
	Snapshot    MeterReadingSnapshot
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MeterReadingSnapshot freezes the readings and tariff used to price an item.
// Recalculation refreshes only StartValue/EndValue; the tariff part never changes.
type MeterReadingSnapshot struct {
	MeterID             uuid.UUID
	MeterSerial         string
	ServiceKind         ServiceKind
	StartReadingID      uuid.UUID
	StartValue          decimal.Decimal
	EndReadingID        uuid.UUID
	EndValue            decimal.Decimal
	TariffID            uuid.UUID
	TariffConfiguration Configuration
	Zone                string
	PricedAt            time.Time
}

// References reports whether the snapshot was built from reading id
func (s MeterReadingSnapshot) References(id uuid.UUID) bool {
	return s.StartReadingID == id || s.EndReadingID == id
}

type snapshotJSON struct {
	MeterID             uuid.UUID       `json:"meter_id"`
	MeterSerial         string          `json:"meter_serial"`
	ServiceKind         ServiceKind     `json:"service_kind"`
	StartReadingID      uuid.UUID       `json:"start_reading_id"`
	StartValue          decimal.Decimal `json:"start_value"`
	EndReadingID        uuid.UUID       `json:"end_reading_id"`
	EndValue            decimal.Decimal `json:"end_value"`
	TariffID            uuid.UUID       `json:"tariff_id"`
	TariffConfiguration json.RawMessage `json:"tariff_configuration"`
	Zone                string          `json:"zone,omitempty"`
	PricedAt            time.Time       `json:"priced_at"`
}

func (s MeterReadingSnapshot) MarshalJSON() ([]byte, error) {
	cfg, err := MarshalConfiguration(s.TariffConfiguration)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot tariff: %w", err)
	}
	return json.Marshal(snapshotJSON{
		MeterID:             s.MeterID,
		MeterSerial:         s.MeterSerial,
		ServiceKind:         s.ServiceKind,
		StartReadingID:      s.StartReadingID,
		StartValue:          s.StartValue,
		EndReadingID:        s.EndReadingID,
		EndValue:            s.EndValue,
		TariffID:            s.TariffID,
		TariffConfiguration: cfg,
		Zone:                s.Zone,
		PricedAt:            s.PricedAt,
	})
}

func (s *MeterReadingSnapshot) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return apperror.NewConfiguration("failed to unmarshal snapshot: %v", err)
	}
	cfg, err := UnmarshalConfiguration(raw.TariffConfiguration)
	if err != nil {
		return err
	}
	*s = MeterReadingSnapshot{
		MeterID:             raw.MeterID,
		MeterSerial:         raw.MeterSerial,
		ServiceKind:         raw.ServiceKind,
		StartReadingID:      raw.StartReadingID,
		StartValue:          raw.StartValue,
		EndReadingID:        raw.EndReadingID,
		EndValue:            raw.EndValue,
		TariffID:            raw.TariffID,
		TariffConfiguration: cfg,
		Zone:                raw.Zone,
		PricedAt:            raw.PricedAt,
	}
	return nil
}
