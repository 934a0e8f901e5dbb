package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ServiceKind identifies what a meter measures
type ServiceKind string

const (
	ServiceElectricity ServiceKind = "electricity"
	ServiceWaterCold   ServiceKind = "water_cold"
	ServiceWaterHot    ServiceKind = "water_hot"
	ServiceHeating     ServiceKind = "heating"
	ServiceCustom      ServiceKind = "custom"
)

// Unit returns the billing unit for consumption of this service kind
func (k ServiceKind) Unit() string {
	switch k {
	case ServiceElectricity, ServiceHeating:
		return "kWh"
	case ServiceWaterCold, ServiceWaterHot:
		return "m³"
	default:
		return "unit"
	}
}

// Valid reports whether k is a known service kind
func (k ServiceKind) Valid() bool {
	switch k {
	case ServiceElectricity, ServiceWaterCold, ServiceWaterHot, ServiceHeating, ServiceCustom:
		return true
	}
	return false
}

// Provider supplies a utility service and owns tariffs
type Provider struct {
	ID          uuid.UUID
	Name        string
	ServiceKind ServiceKind
	CreatedAt   time.Time
}

// Building groups properties and caches the circulation energy baseline
type Building struct {
	ID                      uuid.UUID
	Name                    string
	Address                 string
	GyvatukasSummerAverage  decimal.NullDecimal
	GyvatukasLastCalculated *time.Time
	CreatedAt               time.Time
}

// Property is a rentable unit inside a building
type Property struct {
	ID         uuid.UUID
	BuildingID uuid.UUID
	Address    string
	Area       decimal.Decimal
	CreatedAt  time.Time
}

// TenantRenter is the party invoices are issued to
type TenantRenter struct {
	ID         uuid.UUID
	PropertyID uuid.UUID
	Name       string
	Email      string
	CreatedAt  time.Time
}

// Meter is a physical metering point owned by a property
type Meter struct {
	ID               uuid.UUID
	PropertyID       uuid.UUID
	Serial           string
	Kind             ServiceKind
	SupportsZones    bool
	ProviderID       *uuid.UUID
	TariffID         *uuid.UUID // direct service configuration link, bypasses resolution
	ReadingStructure json.RawMessage
	CreatedAt        time.Time
}

// MeterReading is a cumulative observation for a meter, optionally per zone
type MeterReading struct {
	ID            uuid.UUID
	MeterID       uuid.UUID
	Zone          string
	Value         decimal.Decimal
	ReadingDate   time.Time
	EnteredBy     uuid.UUID
	AnomalyReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MeterReadingAudit is an append-only record of one value correction
type MeterReadingAudit struct {
	ID              uuid.UUID
	MeterReadingID  uuid.UUID
	ChangedByUserID uuid.UUID
	OldValue        decimal.Decimal
	NewValue        decimal.Decimal
	Reason          string
	CreatedAt       time.Time
}

// Tariff prices consumption for a provider over a validity window
type Tariff struct {
	ID            uuid.UUID
	ProviderID    *uuid.UUID // nil for manual tariffs
	Name          string
	Configuration Configuration
	ActiveFrom    time.Time
	ActiveUntil   *time.Time
	CreatedAt     time.Time
}

// IsActiveOn reports whether the tariff window contains the calendar date of at, both ends inclusive
func (t Tariff) IsActiveOn(at time.Time) bool {
	day := DateOf(at)
	if DateOf(t.ActiveFrom).After(day) {
		return false
	}
	return t.ActiveUntil == nil || !DateOf(*t.ActiveUntil).Before(day)
}

// DateOf truncates t to midnight UTC of its calendar date
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// IsManual reports whether the tariff has no provider
func (t Tariff) IsManual() bool {
	return t.ProviderID == nil
}
