package domain

import (
	"encoding/json"
	"fmt"

	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/shopspring/decimal"
)

// ConfigType tags a tariff configuration variant
type ConfigType string

const (
	ConfigTypeFlat      ConfigType = "flat"
	ConfigTypeWater     ConfigType = "water"
	ConfigTypeTimeOfUse ConfigType = "time_of_use"
)

// Configuration is the closed set of tariff pricing models.
// Implementations: FlatConfig, WaterFlatConfig, TimeOfUseConfig.
type Configuration interface {
	Type() ConfigType
	CurrencyCode() string
	isConfiguration()
}

// FlatConfig bills every unit at the same rate
type FlatConfig struct {
	Rate     decimal.Decimal `json:"rate"`
	Currency string          `json:"currency"`
}

func (FlatConfig) Type() ConfigType       { return ConfigTypeFlat }
func (c FlatConfig) CurrencyCode() string { return c.Currency }
func (FlatConfig) isConfiguration()       {}

// WaterFlatConfig bills supply and sewage per unit of the same consumption plus a fixed fee
type WaterFlatConfig struct {
	SupplyRate decimal.Decimal `json:"supply_rate"`
	SewageRate decimal.Decimal `json:"sewage_rate"`
	FixedFee   decimal.Decimal `json:"fixed_fee"`
	Currency   string          `json:"currency"`
}

func (WaterFlatConfig) Type() ConfigType       { return ConfigTypeWater }
func (c WaterFlatConfig) CurrencyCode() string { return c.Currency }
func (WaterFlatConfig) isConfiguration()       {}

// WeekendLogic overrides zone lookup on Saturdays and Sundays
type WeekendLogic string

const (
	WeekendNone             WeekendLogic = ""
	WeekendApplyNightRate   WeekendLogic = "apply_night_rate"
	WeekendApplyDayRate     WeekendLogic = "apply_day_rate"
	WeekendApplyWeekendRate WeekendLogic = "apply_weekend_rate"
)

// Conventional zone identifiers used by weekend overrides
const (
	ZoneDay     = "day"
	ZoneNight   = "night"
	ZoneWeekend = "weekend"
)

// TimeZone is one rate window of a time-of-use tariff. End <= Start wraps past midnight.
type TimeZone struct {
	ID    string          `json:"id"`
	Start string          `json:"start"`
	End   string          `json:"end"`
	Rate  decimal.Decimal `json:"rate"`
}

// TimeOfUseConfig bills by the zone containing the consumption timestamp
type TimeOfUseConfig struct {
	Zones        []TimeZone       `json:"zones"`
	WeekendLogic WeekendLogic     `json:"weekend_logic,omitempty"`
	WeekendRate  *decimal.Decimal `json:"weekend_rate,omitempty"`
	DefaultRate  *decimal.Decimal `json:"default_rate,omitempty"`
	Currency     string           `json:"currency"`
}

func (TimeOfUseConfig) Type() ConfigType       { return ConfigTypeTimeOfUse }
func (c TimeOfUseConfig) CurrencyCode() string { return c.Currency }
func (TimeOfUseConfig) isConfiguration()       {}

// ZoneByID returns the zone with the given id
func (c TimeOfUseConfig) ZoneByID(id string) (TimeZone, bool) {
	for _, z := range c.Zones {
		if z.ID == id {
			return z, true
		}
	}
	return TimeZone{}, false
}

type configEnvelope struct {
	Type ConfigType `json:"type"`
}

// MarshalConfiguration encodes c with its "type" discriminator
func MarshalConfiguration(c Configuration) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("cannot marshal nil tariff configuration")
	}
	var payload any
	switch v := c.(type) {
	case FlatConfig:
		payload = struct {
			Type ConfigType `json:"type"`
			FlatConfig
		}{v.Type(), v}
	case WaterFlatConfig:
		payload = struct {
			Type ConfigType `json:"type"`
			WaterFlatConfig
		}{v.Type(), v}
	case TimeOfUseConfig:
		payload = struct {
			Type ConfigType `json:"type"`
			TimeOfUseConfig
		}{v.Type(), v}
	default:
		return nil, fmt.Errorf("unknown tariff configuration %T", c)
	}
	return json.Marshal(payload)
}

// UnmarshalConfiguration decodes a tagged tariff configuration.
// A "flat" document carrying supply_rate or sewage_rate is read as WaterFlatConfig.
func UnmarshalConfiguration(data []byte) (Configuration, error) {
	var env configEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, apperror.NewConfiguration("failed to decode tariff configuration: %v", err)
	}

	switch env.Type {
	case ConfigTypeFlat:
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(data, &keys); err != nil {
			return nil, apperror.NewConfiguration("failed to decode flat configuration: %v", err)
		}
		_, hasSupply := keys["supply_rate"]
		_, hasSewage := keys["sewage_rate"]
		if hasSupply || hasSewage {
			return decodeWater(data)
		}
		var c FlatConfig
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, apperror.NewConfiguration("failed to decode flat configuration: %v", err)
		}
		return c, nil
	case ConfigTypeWater:
		return decodeWater(data)
	case ConfigTypeTimeOfUse:
		var c TimeOfUseConfig
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, apperror.NewConfiguration("failed to decode time_of_use configuration: %v", err)
		}
		return c, nil
	default:
		return nil, apperror.NewConfiguration("unsupported tariff configuration type %q", env.Type)
	}
}

func decodeWater(data []byte) (Configuration, error) {
	var c WaterFlatConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, apperror.NewConfiguration("failed to decode water configuration: %v", err)
	}
	return c, nil
}
