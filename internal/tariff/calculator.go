package tariff

import (
	"fmt"

	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/domain"
)

// KnownConfigTypes lists every configuration variant a Calculator must cover
var KnownConfigTypes = []domain.ConfigType{
	domain.ConfigTypeFlat,
	domain.ConfigTypeWater,
	domain.ConfigTypeTimeOfUse,
}

// Calculator dispatches a configuration to the single strategy that claims its type
type Calculator struct {
	strategies []Strategy
}

// NewCalculator fails unless every known configuration type is claimed by exactly one strategy
func NewCalculator(strategies ...Strategy) (*Calculator, error) {
	for _, t := range KnownConfigTypes {
		claims := 0
		for _, s := range strategies {
			if s.Supports(t) {
				claims++
			}
		}
		if claims != 1 {
			return nil, apperror.NewConfiguration("configuration type %q claimed by %d strategies", t, claims)
		}
	}
	return &Calculator{strategies: strategies}, nil
}

// NewDefaultCalculator wires the flat and time-of-use strategies
func NewDefaultCalculator(opts ...Option) *Calculator {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	calc, err := NewCalculator(NewFlatRateStrategy(), NewTimeOfUseStrategy(o.location))
	if err != nil {
		// the built-in strategy set is static
		panic(fmt.Sprintf("tariff: default strategies misconfigured: %v", err))
	}
	return calc
}

// Calculate prices usage with the strategy for cfg's type
func (c *Calculator) Calculate(cfg domain.Configuration, usage Usage) (Charge, error) {
	if cfg == nil {
		return Charge{}, apperror.NewConfiguration("tariff has no configuration")
	}
	for _, s := range c.strategies {
		if s.Supports(cfg.Type()) {
			return s.Calculate(cfg, usage)
		}
	}
	return Charge{}, apperror.NewConfiguration("no strategy supports tariff type %q", cfg.Type())
}
