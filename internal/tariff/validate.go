package tariff

import (
	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/shopspring/decimal"
)

// ValidateTariff checks a tariff before it is stored
func ValidateTariff(t domain.Tariff) error {
	if t.ActiveFrom.IsZero() {
		return apperror.NewValidation("active_from", "is required")
	}
	if t.ActiveUntil != nil && domain.DateOf(*t.ActiveUntil).Before(domain.DateOf(t.ActiveFrom)) {
		return apperror.NewValidation("active_until", "must not be before active_from")
	}
	return ValidateConfiguration(t.Configuration)
}

// ValidateConfiguration checks rates and, for time-of-use, full 24h zone coverage
func ValidateConfiguration(cfg domain.Configuration) error {
	switch c := cfg.(type) {
	case domain.FlatConfig:
		if err := nonNegative("rate", c.Rate); err != nil {
			return err
		}
		return requireCurrency(c.Currency)
	case domain.WaterFlatConfig:
		if err := nonNegative("supply_rate", c.SupplyRate); err != nil {
			return err
		}
		if err := nonNegative("sewage_rate", c.SewageRate); err != nil {
			return err
		}
		if err := nonNegative("fixed_fee", c.FixedFee); err != nil {
			return err
		}
		return requireCurrency(c.Currency)
	case domain.TimeOfUseConfig:
		return validateTimeOfUse(c)
	case nil:
		return apperror.NewValidation("configuration", "is required")
	default:
		return apperror.NewValidation("configuration", "unsupported type %T", cfg)
	}
}

func validateTimeOfUse(c domain.TimeOfUseConfig) error {
	if err := NewTimeRangeValidator().Validate(c.Zones); err != nil {
		return err
	}
	for _, z := range c.Zones {
		if err := nonNegative("zones."+z.ID+".rate", z.Rate); err != nil {
			return err
		}
	}

	switch c.WeekendLogic {
	case domain.WeekendNone:
	case domain.WeekendApplyNightRate:
		if _, ok := c.ZoneByID(domain.ZoneNight); !ok {
			return apperror.NewValidation("weekend_logic", "%s requires a %q zone", c.WeekendLogic, domain.ZoneNight)
		}
	case domain.WeekendApplyDayRate:
		if _, ok := c.ZoneByID(domain.ZoneDay); !ok {
			return apperror.NewValidation("weekend_logic", "%s requires a %q zone", c.WeekendLogic, domain.ZoneDay)
		}
	case domain.WeekendApplyWeekendRate:
		if c.WeekendRate == nil {
			return apperror.NewValidation("weekend_rate", "is required for %s", c.WeekendLogic)
		}
		if err := nonNegative("weekend_rate", *c.WeekendRate); err != nil {
			return err
		}
	default:
		return apperror.NewValidation("weekend_logic", "unknown value %q", c.WeekendLogic)
	}

	if c.DefaultRate != nil {
		if err := nonNegative("default_rate", *c.DefaultRate); err != nil {
			return err
		}
	}
	return requireCurrency(c.Currency)
}

func nonNegative(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return apperror.NewValidation(field, "must not be negative")
	}
	return nil
}

func requireCurrency(code string) error {
	if len(code) != 3 {
		return apperror.NewValidation("currency", "must be a 3-letter code, got %q", code)
	}
	return nil
}
