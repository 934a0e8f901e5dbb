package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Physical model for heating circulation ("gyvatukas") energy.
const (
	// WaterSpecificHeat is water's volumetric heat capacity in kWh per m³ per °C.
	WaterSpecificHeat = "1.163"
	// HotWaterTemperatureRise is the design temperature rise for domestic hot water in °C.
	HotWaterTemperatureRise = "45"
	// HeatingSeasonStartMonth and HeatingSeasonEndMonth bound the heating season, inclusive, wrapping the new year.
	HeatingSeasonStartMonth = time.October
	HeatingSeasonEndMonth   = time.April
)

const (
	DefaultChangeReasonMinLength = 10
	DefaultTariffTimezone        = "Europe/Vilnius"
	DefaultDistributionMethod    = "equal"
)

// BillingPolicy holds the tunables of the billing core
type BillingPolicy struct {
	HeatingSeasonStart    time.Month
	HeatingSeasonEnd      time.Month
	WaterSpecificHeat     decimal.Decimal
	TemperatureRise       decimal.Decimal
	ChangeReasonMinLength int
	TariffLocation        *time.Location
	DistributionMethod    string
}

// DefaultBillingPolicy returns the policy built from the named constants
func DefaultBillingPolicy() BillingPolicy {
	loc, err := time.LoadLocation(DefaultTariffTimezone)
	if err != nil {
		loc = time.UTC
	}
	return BillingPolicy{
		HeatingSeasonStart:    HeatingSeasonStartMonth,
		HeatingSeasonEnd:      HeatingSeasonEndMonth,
		WaterSpecificHeat:     decimal.RequireFromString(WaterSpecificHeat),
		TemperatureRise:       decimal.RequireFromString(HotWaterTemperatureRise),
		ChangeReasonMinLength: DefaultChangeReasonMinLength,
		TariffLocation:        loc,
		DistributionMethod:    DefaultDistributionMethod,
	}
}

type billingFile struct {
	HeatingSeasonStart    int
	HeatingSeasonEnd      int
	WaterSpecificHeat     float64
	TemperatureRise       float64
	ChangeReasonMinLength int
	TariffTimezone        string
	DistributionMethod    string
}

// LoadBillingPolicy reads billing.yml from path (or the default search paths when empty).
// A missing file yields DefaultBillingPolicy.
func LoadBillingPolicy(path string) (BillingPolicy, error) {
	defaults := DefaultBillingPolicy()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("billing")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/utility-billing")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("BILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("billing.heatingSeasonStart", int(defaults.HeatingSeasonStart))
	v.SetDefault("billing.heatingSeasonEnd", int(defaults.HeatingSeasonEnd))
	v.SetDefault("billing.waterSpecificHeat", defaults.WaterSpecificHeat.InexactFloat64())
	v.SetDefault("billing.temperatureRise", defaults.TemperatureRise.InexactFloat64())
	v.SetDefault("billing.changeReasonMinLength", defaults.ChangeReasonMinLength)
	v.SetDefault("billing.tariffTimezone", DefaultTariffTimezone)
	v.SetDefault("billing.distributionMethod", defaults.DistributionMethod)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return BillingPolicy{}, fmt.Errorf("failed to read billing config: %w", err)
		}
	}

	// read key by key: a file that sets only some keys must not hide the other defaults
	file := billingFile{
		HeatingSeasonStart:    v.GetInt("billing.heatingSeasonStart"),
		HeatingSeasonEnd:      v.GetInt("billing.heatingSeasonEnd"),
		WaterSpecificHeat:     v.GetFloat64("billing.waterSpecificHeat"),
		TemperatureRise:       v.GetFloat64("billing.temperatureRise"),
		ChangeReasonMinLength: v.GetInt("billing.changeReasonMinLength"),
		TariffTimezone:        v.GetString("billing.tariffTimezone"),
		DistributionMethod:    v.GetString("billing.distributionMethod"),
	}

	return file.toPolicy()
}

func (f billingFile) toPolicy() (BillingPolicy, error) {
	if f.HeatingSeasonStart < 1 || f.HeatingSeasonStart > 12 || f.HeatingSeasonEnd < 1 || f.HeatingSeasonEnd > 12 {
		return BillingPolicy{}, fmt.Errorf("heating season months out of range: %d..%d", f.HeatingSeasonStart, f.HeatingSeasonEnd)
	}
	if f.ChangeReasonMinLength < 1 {
		return BillingPolicy{}, fmt.Errorf("changeReasonMinLength must be positive, got %d", f.ChangeReasonMinLength)
	}
	if f.DistributionMethod != "equal" && f.DistributionMethod != "area" {
		return BillingPolicy{}, fmt.Errorf("unknown distribution method %q", f.DistributionMethod)
	}
	loc, err := time.LoadLocation(f.TariffTimezone)
	if err != nil {
		return BillingPolicy{}, fmt.Errorf("invalid tariff timezone %q: %w", f.TariffTimezone, err)
	}

	return BillingPolicy{
		HeatingSeasonStart:    time.Month(f.HeatingSeasonStart),
		HeatingSeasonEnd:      time.Month(f.HeatingSeasonEnd),
		WaterSpecificHeat:     decimal.NewFromFloat(f.WaterSpecificHeat),
		TemperatureRise:       decimal.NewFromFloat(f.TemperatureRise),
		ChangeReasonMinLength: f.ChangeReasonMinLength,
		TariffLocation:        loc,
		DistributionMethod:    f.DistributionMethod,
	}, nil
}
