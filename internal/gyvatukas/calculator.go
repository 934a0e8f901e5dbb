// Package gyvatukas computes heating circulation ("gyvatukas") energy for a
// building and allocates its cost to the building's properties.
//
// Outside the heating season the circulation loss is measured directly:
//
//	Q_circ = Q_total - V_water × c × ΔT
//
// where Q_total is the heating energy (kWh) and V_water the hot water volume
// (m³) consumed by all properties in the month. During the heating season the
// measurement would include real heating draw, so the cached summer average
// is used instead.
package gyvatukas

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/clock"
	"github.com/septivank/utility-billing-core/internal/config"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/septivank/utility-billing-core/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	MethodEqual = "equal"
	MethodArea  = "area"
)

// Circulation is the circulation energy of one building for one month
type Circulation struct {
	BuildingID    uuid.UUID
	Month         time.Time
	HeatingSeason bool
	Energy        decimal.Decimal // kWh, may be negative in summer
	// Summer-only inputs.
	HeatingEnergy  decimal.Decimal
	HotWaterVolume decimal.Decimal
	// Degraded is set in winter when no summer average has been calculated yet.
	Degraded bool
}

// Share is one property's part of a distributed circulation cost
type Share struct {
	PropertyID uuid.UUID       `json:"property_id"`
	Amount     decimal.Decimal `json:"amount"`
}

// Calculator computes and distributes circulation energy
type Calculator struct {
	store  store.Store
	policy config.BillingPolicy
	clock  clock.Clock
	logger *zap.Logger
}

func NewCalculator(s store.Store, policy config.BillingPolicy, clk clock.Clock, logger *zap.Logger) *Calculator {
	return &Calculator{
		store:  s,
		policy: policy,
		clock:  clk,
		logger: logger,
	}
}

// IsHeatingSeason reports whether date's month lies in the heating season.
// The season wraps the new year (October through April by default).
func (c *Calculator) IsHeatingSeason(date time.Time) bool {
	m := date.Month()
	start, end := c.policy.HeatingSeasonStart, c.policy.HeatingSeasonEnd
	if start <= end {
		return m >= start && m <= end
	}
	return m >= start || m <= end
}

// Calculate returns the building's circulation energy for month
func (c *Calculator) Calculate(ctx context.Context, buildingID uuid.UUID, month time.Time) (Circulation, error) {
	var out Circulation
	err := c.store.WithTx(ctx, func(q store.Queries) error {
		building, err := q.GetBuilding(ctx, buildingID)
		if err != nil {
			return fmt.Errorf("failed to load building: %w", err)
		}
		if c.IsHeatingSeason(month) {
			out = c.CalculateWinter(building, month)
			return nil
		}
		out, err = c.calculateSummer(ctx, q, building, month)
		return err
	})
	return out, err
}

// CalculateWinter returns the cached summer average. A building that never had
// one yields zero with Degraded set.
func (c *Calculator) CalculateWinter(building domain.Building, month time.Time) Circulation {
	out := Circulation{
		BuildingID:    building.ID,
		Month:         monthStart(month),
		HeatingSeason: true,
		Energy:        decimal.Zero,
	}
	if !building.GyvatukasSummerAverage.Valid {
		out.Degraded = true
		c.logger.Warn("no summer circulation average, using zero",
			zap.Stringer("building_id", building.ID),
			zap.Time("month", out.Month),
		)
		return out
	}
	out.Energy = building.GyvatukasSummerAverage.Decimal
	return out
}

// CalculateSummer measures the circulation energy of a non-heating month
func (c *Calculator) CalculateSummer(ctx context.Context, buildingID uuid.UUID, month time.Time) (Circulation, error) {
	var out Circulation
	err := c.store.WithTx(ctx, func(q store.Queries) error {
		building, err := q.GetBuilding(ctx, buildingID)
		if err != nil {
			return fmt.Errorf("failed to load building: %w", err)
		}
		out, err = c.calculateSummer(ctx, q, building, month)
		return err
	})
	return out, err
}

func (c *Calculator) calculateSummer(ctx context.Context, q store.Queries, building domain.Building, month time.Time) (Circulation, error) {
	from := monthStart(month)
	to := from.AddDate(0, 1, 0)

	properties, err := q.ListPropertiesByBuilding(ctx, building.ID)
	if err != nil {
		return Circulation{}, fmt.Errorf("failed to list properties: %w", err)
	}

	heating, water := decimal.Zero, decimal.Zero
	for _, p := range properties {
		meters, err := q.ListMetersByProperty(ctx, p.ID)
		if err != nil {
			return Circulation{}, fmt.Errorf("failed to list meters of property %s: %w", p.ID, err)
		}
		for _, m := range meters {
			if m.Kind != domain.ServiceHeating && m.Kind != domain.ServiceWaterHot {
				continue
			}
			used, err := meterConsumption(ctx, q, m, from, to)
			if err != nil {
				return Circulation{}, err
			}
			if m.Kind == domain.ServiceHeating {
				heating = heating.Add(used)
			} else {
				water = water.Add(used)
			}
		}
	}

	waterHeat := water.Mul(c.policy.WaterSpecificHeat).Mul(c.policy.TemperatureRise)
	energy := domain.RoundQuantity(heating.Sub(waterHeat))

	if energy.IsNegative() {
		c.logger.Warn("negative summer circulation energy",
			zap.Stringer("building_id", building.ID),
			zap.Time("month", from),
			zap.String("heating_kwh", heating.String()),
			zap.String("hot_water_m3", water.String()),
			zap.String("energy_kwh", energy.String()),
		)
	}

	return Circulation{
		BuildingID:     building.ID,
		Month:          from,
		Energy:         energy,
		HeatingEnergy:  heating,
		HotWaterVolume: water,
	}, nil
}

// meterConsumption sums the meter's consumption in [from, to] over all its
// zones. The start value is the latest reading at or before from, or the first
// reading of the month when the meter was installed mid-month.
func meterConsumption(ctx context.Context, q store.ReadingQueries, m domain.Meter, from, to time.Time) (decimal.Decimal, error) {
	zones, err := q.ListReadingZones(ctx, m.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to list zones of meter %s: %w", m.Serial, err)
	}

	total := decimal.Zero
	for _, zone := range zones {
		end, ok, err := q.LatestReadingAtOrBefore(ctx, m.ID, zone, to)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to load end reading of meter %s: %w", m.Serial, err)
		}
		if !ok || end.ReadingDate.Before(from) {
			continue
		}

		start, ok, err := q.LatestReadingAtOrBefore(ctx, m.ID, zone, from)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to load start reading of meter %s: %w", m.Serial, err)
		}
		if !ok {
			readings, err := q.ListReadings(ctx, m.ID, zone)
			if err != nil {
				return decimal.Zero, fmt.Errorf("failed to list readings of meter %s: %w", m.Serial, err)
			}
			start = readings[0]
		}

		total = total.Add(end.Value.Sub(start.Value))
	}
	return total, nil
}

// DistributeCirculationCost splits totalCost over the building's properties.
// An empty method uses the configured default. A building without properties
// yields an empty distribution.
func (c *Calculator) DistributeCirculationCost(ctx context.Context, buildingID uuid.UUID, totalCost decimal.Decimal, method string) ([]Share, error) {
	if method == "" {
		method = c.policy.DistributionMethod
	}
	if method != MethodEqual && method != MethodArea {
		return nil, apperror.NewValidation("method", "unknown distribution method %q", method)
	}

	var properties []domain.Property
	err := c.store.WithTx(ctx, func(q store.Queries) error {
		if _, err := q.GetBuilding(ctx, buildingID); err != nil {
			return fmt.Errorf("failed to load building: %w", err)
		}
		var err error
		properties, err = q.ListPropertiesByBuilding(ctx, buildingID)
		if err != nil {
			return fmt.Errorf("failed to list properties: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return Distribute(properties, totalCost, method)
}

// Distribute allocates totalCost equally or by floor area. Shares are rounded
// to cents individually, so their sum may differ from totalCost by rounding.
func Distribute(properties []domain.Property, totalCost decimal.Decimal, method string) ([]Share, error) {
	shares := make([]Share, 0, len(properties))
	if len(properties) == 0 {
		return shares, nil
	}

	switch method {
	case MethodEqual:
		each := totalCost.Div(decimal.NewFromInt(int64(len(properties))))
		for _, p := range properties {
			shares = append(shares, Share{PropertyID: p.ID, Amount: domain.RoundMoney(each)})
		}
	case MethodArea:
		totalArea := decimal.Zero
		for _, p := range properties {
			totalArea = totalArea.Add(p.Area)
		}
		if !totalArea.IsPositive() {
			return nil, apperror.NewValidation("area", "building properties have no floor area")
		}
		for _, p := range properties {
			shares = append(shares, Share{
				PropertyID: p.ID,
				Amount:     domain.RoundMoney(totalCost.Mul(p.Area).Div(totalArea)),
			})
		}
	default:
		return nil, apperror.NewValidation("method", "unknown distribution method %q", method)
	}
	return shares, nil
}

// CalculateSummerAverage measures every month from start to end inclusive,
// stores the average on the building and stamps the calculation time.
func (c *Calculator) CalculateSummerAverage(ctx context.Context, buildingID uuid.UUID, start, end time.Time) (decimal.Decimal, error) {
	months := monthsBetween(start, end)
	if len(months) == 0 {
		return decimal.Zero, apperror.NewValidation("period", "end %s is before start %s",
			end.Format("2006-01"), start.Format("2006-01"))
	}

	var average decimal.Decimal
	err := c.store.WithTx(ctx, func(q store.Queries) error {
		building, err := q.GetBuilding(ctx, buildingID)
		if err != nil {
			return fmt.Errorf("failed to load building: %w", err)
		}

		sum := decimal.Zero
		for _, m := range months {
			if c.IsHeatingSeason(m) {
				c.logger.Warn("summer average includes a heating season month",
					zap.Stringer("building_id", buildingID),
					zap.Time("month", m),
				)
			}
			circ, err := c.calculateSummer(ctx, q, building, m)
			if err != nil {
				return err
			}
			sum = sum.Add(circ.Energy)
		}
		average = domain.RoundQuantity(sum.Div(decimal.NewFromInt(int64(len(months)))))

		if err := q.UpdateBuildingGyvatukas(ctx, buildingID, average, c.clock.Now()); err != nil {
			return fmt.Errorf("failed to store summer average: %w", err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	c.logger.Info("summer circulation average calculated",
		zap.Stringer("building_id", buildingID),
		zap.Int("months", len(months)),
		zap.String("average_kwh", average.String()),
	)
	return average, nil
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func monthsBetween(start, end time.Time) []time.Time {
	var months []time.Time
	last := monthStart(end)
	for m := monthStart(start); !m.After(last); m = m.AddDate(0, 1, 0) {
		months = append(months, m)
	}
	return months
}
