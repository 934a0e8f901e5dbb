package tariff

import (
	"time"

	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/septivank/utility-billing-core/tools/timeparser"
	"github.com/shopspring/decimal"
)

// TimeOfUseStrategy prices consumption at the rate of the zone active at the timestamp.
// Timestamps are evaluated in the tariff's local time.
type TimeOfUseStrategy struct {
	loc *time.Location
}

func NewTimeOfUseStrategy(loc *time.Location) *TimeOfUseStrategy {
	if loc == nil {
		loc = time.UTC
	}
	return &TimeOfUseStrategy{loc: loc}
}

func (s *TimeOfUseStrategy) Supports(t domain.ConfigType) bool {
	return t == domain.ConfigTypeTimeOfUse
}

func (s *TimeOfUseStrategy) Calculate(cfg domain.Configuration, usage Usage) (Charge, error) {
	c, ok := cfg.(domain.TimeOfUseConfig)
	if !ok {
		return Charge{}, apperror.NewConfiguration("time-of-use strategy cannot price %T", cfg)
	}

	zoneID, rate, err := s.rateFor(c, usage)
	if err != nil {
		return Charge{}, err
	}

	return Charge{
		Cost:      domain.RoundMoney(usage.Consumption.Mul(rate)),
		UnitPrice: domain.RoundRate(rate),
		ZoneID:    zoneID,
	}, nil
}

// rateFor picks the rate in order: explicit reading zone, weekend override,
// time window, default rate.
func (s *TimeOfUseStrategy) rateFor(c domain.TimeOfUseConfig, usage Usage) (string, decimal.Decimal, error) {
	if usage.Zone != "" {
		if z, ok := c.ZoneByID(usage.Zone); ok {
			return z.ID, z.Rate, nil
		}
	}

	local := usage.Timestamp.In(s.loc)

	if c.WeekendLogic != domain.WeekendNone && timeparser.IsWeekend(local) {
		return weekendRate(c)
	}

	z, found, err := MatchZone(c.Zones, timeparser.ClockOf(local))
	if err != nil {
		return "", decimal.Zero, apperror.NewConfiguration("%v", err)
	}
	if found {
		return z.ID, z.Rate, nil
	}

	if c.DefaultRate != nil {
		return "default", *c.DefaultRate, nil
	}
	return "", decimal.Zero, apperror.NewConfiguration("no zone covers %s and no default rate is set",
		timeparser.ClockOf(local))
}

func weekendRate(c domain.TimeOfUseConfig) (string, decimal.Decimal, error) {
	switch c.WeekendLogic {
	case domain.WeekendApplyNightRate:
		if z, ok := c.ZoneByID(domain.ZoneNight); ok {
			return z.ID, z.Rate, nil
		}
		return "", decimal.Zero, apperror.NewConfiguration("weekend logic %s requires a %q zone", c.WeekendLogic, domain.ZoneNight)
	case domain.WeekendApplyDayRate:
		if z, ok := c.ZoneByID(domain.ZoneDay); ok {
			return z.ID, z.Rate, nil
		}
		return "", decimal.Zero, apperror.NewConfiguration("weekend logic %s requires a %q zone", c.WeekendLogic, domain.ZoneDay)
	case domain.WeekendApplyWeekendRate:
		if c.WeekendRate != nil {
			return domain.ZoneWeekend, *c.WeekendRate, nil
		}
		return "", decimal.Zero, apperror.NewConfiguration("weekend logic %s requires weekend_rate", c.WeekendLogic)
	default:
		return "", decimal.Zero, apperror.NewConfiguration("unknown weekend logic %q", c.WeekendLogic)
	}
}
