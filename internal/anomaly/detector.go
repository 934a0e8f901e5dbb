package anomaly

import (
	"fmt"

	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/shopspring/decimal"
)

// Detector flags consumption spikes with configurable thresholds
type Detector struct {
	spikeThreshold            decimal.Decimal
	minDataPointsForDetection int
}

// NewDetector creates a new anomaly detector with the specified thresholds
func NewDetector(spikeThreshold float64, minDataPointsForDetection int) *Detector {
	return &Detector{
		spikeThreshold:            decimal.NewFromFloat(spikeThreshold),
		minDataPointsForDetection: minDataPointsForDetection,
	}
}

// DetectAnomaly checks if the consumption is anomalous based on historical consumption
func (d *Detector) DetectAnomaly(consumption decimal.Decimal, historical []decimal.Decimal) (bool, string) {
	// Check for negative consumption
	if consumption.IsNegative() {
		return true, "negative consumption"
	}

	// Need enough historical data for spike detection
	if len(historical) < d.minDataPointsForDetection || len(historical) == 0 {
		return false, ""
	}

	// Calculate rolling average
	sum := decimal.Zero
	for _, v := range historical {
		sum = sum.Add(v)
	}
	average := sum.Div(decimal.NewFromInt(int64(len(historical))))

	// Detect sudden spike (>threshold x rolling average)
	if average.IsPositive() && consumption.GreaterThan(d.spikeThreshold.Mul(average)) {
		return true, fmt.Sprintf("sudden spike detected: consumption %s exceeds %sx rolling average %s",
			consumption.StringFixed(2), d.spikeThreshold.String(), average.StringFixed(2))
	}

	return false, ""
}

// CheckReading compares the consumption implied by next against the deltas
// between the latest readings in history, which must be in reading date order.
func (d *Detector) CheckReading(next domain.MeterReading, history []domain.MeterReading, window int) (bool, string) {
	if len(history) == 0 {
		return false, ""
	}
	last := history[len(history)-1]
	if next.ReadingDate.Before(last.ReadingDate) {
		// backdated readings are bracketed by their neighbours
		return false, ""
	}

	deltas := make([]decimal.Decimal, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		deltas = append(deltas, history[i].Value.Sub(history[i-1].Value))
	}
	if window > 0 && len(deltas) > window {
		deltas = deltas[len(deltas)-window:]
	}

	return d.DetectAnomaly(next.Value.Sub(last.Value), deltas)
}
