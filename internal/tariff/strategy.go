package tariff

import (
	"time"

	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/shopspring/decimal"
)

// Usage is the consumption being priced
type Usage struct {
	Consumption decimal.Decimal
	Timestamp   time.Time
	// Zone is the reading zone ("day", "night") when the meter records zones.
	Zone string
}

// Charge is the priced result of a Usage
type Charge struct {
	Cost      decimal.Decimal // rounded to cents
	UnitPrice decimal.Decimal // rounded to four decimals
	ZoneID    string          // time-of-use zone applied, empty for flat tariffs
}

// Strategy prices consumption for the configuration types it supports
type Strategy interface {
	Supports(t domain.ConfigType) bool
	Calculate(cfg domain.Configuration, usage Usage) (Charge, error)
}
