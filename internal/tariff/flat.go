package tariff

import (
	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/domain"
)

// FlatRateStrategy prices flat and water-style flat tariffs
type FlatRateStrategy struct{}

func NewFlatRateStrategy() *FlatRateStrategy {
	return &FlatRateStrategy{}
}

func (s *FlatRateStrategy) Supports(t domain.ConfigType) bool {
	return t == domain.ConfigTypeFlat || t == domain.ConfigTypeWater
}

// Calculate returns consumption × rate, or for water
// consumption × (supply_rate + sewage_rate) + fixed_fee.
func (s *FlatRateStrategy) Calculate(cfg domain.Configuration, usage Usage) (Charge, error) {
	switch c := cfg.(type) {
	case domain.FlatConfig:
		return Charge{
			Cost:      domain.RoundMoney(usage.Consumption.Mul(c.Rate)),
			UnitPrice: domain.RoundRate(c.Rate),
		}, nil
	case domain.WaterFlatConfig:
		perUnit := c.SupplyRate.Add(c.SewageRate)
		return Charge{
			Cost:      domain.RoundMoney(usage.Consumption.Mul(perUnit).Add(c.FixedFee)),
			UnitPrice: domain.RoundRate(perUnit),
		}, nil
	default:
		return Charge{}, apperror.NewConfiguration("flat rate strategy cannot price %T", cfg)
	}
}
