package domain

import "github.com/shopspring/decimal"

const (
	MoneyScale    int32 = 2
	RateScale     int32 = 4
	QuantityScale int32 = 2
)

// RoundMoney rounds an amount to cents, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// RoundRate rounds a per-unit price to four decimal places.
func RoundRate(d decimal.Decimal) decimal.Decimal {
	return d.Round(RateScale)
}

// RoundQuantity rounds a consumption value to two decimal places.
func RoundQuantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityScale)
}
