package tariff

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/septivank/utility-billing-core/tools/timeparser"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func dayNightConfig() domain.TimeOfUseConfig {
	return domain.TimeOfUseConfig{
		Zones: []domain.TimeZone{
			{ID: domain.ZoneDay, Start: "07:00", End: "23:00", Rate: dec("0.18")},
			{ID: domain.ZoneNight, Start: "23:00", End: "07:00", Rate: dec("0.09")},
		},
		Currency: "EUR",
	}
}

func clockAt(t *testing.T, s string) timeparser.ClockTime {
	t.Helper()
	c, err := timeparser.ParseClock(s)
	require.NoError(t, err)
	return c
}

func TestTimeRange_WrapsPastMidnight(t *testing.T) {
	r, err := ParseTimeRange(domain.TimeZone{ID: "night", Start: "23:00", End: "07:00"})
	require.NoError(t, err)

	assert.True(t, r.Wraps())
	assert.True(t, r.Contains(clockAt(t, "23:30")))
	assert.True(t, r.Contains(clockAt(t, "02:00")))
	assert.False(t, r.Contains(clockAt(t, "12:00")))
	assert.False(t, r.Contains(clockAt(t, "07:00")))
}

func TestTimeRangeValidator(t *testing.T) {
	v := NewTimeRangeValidator()

	tests := []struct {
		name    string
		zones   []domain.TimeZone
		wantErr string
	}{
		{
			name:  "day and night cover the day",
			zones: dayNightConfig().Zones,
		},
		{
			name:  "single zone for the whole day",
			zones: []domain.TimeZone{{ID: "all", Start: "00:00", End: "24:00"}},
		},
		{
			name: "gap between zones",
			zones: []domain.TimeZone{
				{ID: domain.ZoneDay, Start: "07:00", End: "22:00"},
				{ID: domain.ZoneNight, Start: "23:00", End: "07:00"},
			},
			wantErr: "gap in coverage from 22:00 to 23:00",
		},
		{
			name: "overlapping zones",
			zones: []domain.TimeZone{
				{ID: domain.ZoneDay, Start: "06:00", End: "23:00"},
				{ID: domain.ZoneNight, Start: "23:00", End: "07:00"},
			},
			wantErr: "overlaps",
		},
		{
			name: "duplicate id",
			zones: []domain.TimeZone{
				{ID: "a", Start: "00:00", End: "12:00"},
				{ID: "a", Start: "12:00", End: "00:00"},
			},
			wantErr: "duplicate zone id",
		},
		{
			name:    "empty set",
			wantErr: "at least one zone",
		},
		{
			name:    "malformed clock",
			zones:   []domain.TimeZone{{ID: "x", Start: "7am", End: "07:00"}},
			wantErr: "invalid clock time",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.zones)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperror.IsValidation(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFlatRateStrategy_WaterBill(t *testing.T) {
	s := NewFlatRateStrategy()
	cfg := domain.WaterFlatConfig{
		SupplyRate: dec("0.97"),
		SewageRate: dec("1.23"),
		FixedFee:   dec("0.85"),
		Currency:   "EUR",
	}

	charge, err := s.Calculate(cfg, Usage{Consumption: dec("10")})
	require.NoError(t, err)
	assert.Equal(t, "22.85", charge.Cost.StringFixed(2))
	assert.Equal(t, "2.2000", charge.UnitPrice.StringFixed(4))
}

func TestFlatRateStrategy_RoundsToCents(t *testing.T) {
	s := NewFlatRateStrategy()

	charge, err := s.Calculate(domain.FlatConfig{Rate: dec("0.1234"), Currency: "EUR"}, Usage{Consumption: dec("12.34")})
	require.NoError(t, err)
	// 12.34 × 0.1234 = 1.522756
	assert.Equal(t, "1.52", charge.Cost.StringFixed(2))
}

func TestTimeOfUseStrategy(t *testing.T) {
	s := NewTimeOfUseStrategy(time.UTC)
	weekday := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)  // Wednesday
	saturday := time.Date(2025, 1, 4, 0, 0, 0, 0, time.UTC) // Saturday

	weekendNight := dayNightConfig()
	weekendNight.WeekendLogic = domain.WeekendApplyNightRate

	weekendFlat := dayNightConfig()
	weekendFlat.WeekendLogic = domain.WeekendApplyWeekendRate
	weekendFlat.WeekendRate = decPtr("0.05")

	tests := []struct {
		name     string
		cfg      domain.TimeOfUseConfig
		at       time.Time
		zone     string
		wantCost string
		wantZone string
	}{
		{"weekday midday is day rate", dayNightConfig(), weekday.Add(12 * time.Hour), "", "18.00", domain.ZoneDay},
		{"late evening wraps to night", dayNightConfig(), weekday.Add(23*time.Hour + 30*time.Minute), "", "9.00", domain.ZoneNight},
		{"early morning is night", dayNightConfig(), weekday.Add(2 * time.Hour), "", "9.00", domain.ZoneNight},
		{"saturday afternoon uses night rate", weekendNight, saturday.Add(14 * time.Hour), "", "9.00", domain.ZoneNight},
		{"weekend override ignored on weekdays", weekendNight, weekday.Add(14 * time.Hour), "", "18.00", domain.ZoneDay},
		{"dedicated weekend rate", weekendFlat, saturday.Add(10 * time.Hour), "", "5.00", domain.ZoneWeekend},
		{"reading zone wins over clock", dayNightConfig(), weekday.Add(12 * time.Hour), domain.ZoneNight, "9.00", domain.ZoneNight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			charge, err := s.Calculate(tt.cfg, Usage{Consumption: dec("100"), Timestamp: tt.at, Zone: tt.zone})
			require.NoError(t, err)
			assert.Equal(t, tt.wantCost, charge.Cost.StringFixed(2))
			assert.Equal(t, tt.wantZone, charge.ZoneID)
		})
	}
}

func TestTimeOfUseStrategy_MissFallsBackToDefault(t *testing.T) {
	s := NewTimeOfUseStrategy(time.UTC)
	cfg := domain.TimeOfUseConfig{
		Zones:    []domain.TimeZone{{ID: "peak", Start: "17:00", End: "20:00", Rate: dec("0.30")}},
		Currency: "EUR",
	}
	at := time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)

	_, err := s.Calculate(cfg, Usage{Consumption: dec("10"), Timestamp: at})
	require.Error(t, err)
	assert.True(t, apperror.IsConfiguration(err))

	cfg.DefaultRate = decPtr("0.15")
	charge, err := s.Calculate(cfg, Usage{Consumption: dec("10"), Timestamp: at})
	require.NoError(t, err)
	assert.Equal(t, "1.50", charge.Cost.StringFixed(2))
}

type duplicateFlat struct{ FlatRateStrategy }

func TestNewCalculator_RequiresExactlyOneClaim(t *testing.T) {
	_, err := NewCalculator(NewFlatRateStrategy())
	require.Error(t, err)
	assert.True(t, apperror.IsConfiguration(err))

	_, err = NewCalculator(NewFlatRateStrategy(), &duplicateFlat{}, NewTimeOfUseStrategy(nil))
	require.Error(t, err)

	_, err = NewCalculator(NewFlatRateStrategy(), NewTimeOfUseStrategy(nil))
	require.NoError(t, err)
}

type staticTariffs []domain.Tariff

func (s staticTariffs) ListTariffsByProvider(_ context.Context, providerID uuid.UUID) ([]domain.Tariff, error) {
	var out []domain.Tariff
	for _, t := range s {
		if t.ProviderID != nil && *t.ProviderID == providerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func TestResolver_LatestActiveFromWins(t *testing.T) {
	provider := uuid.New()
	other := uuid.New()
	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	marEnd := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	base := domain.Tariff{ID: uuid.New(), ProviderID: &provider, ActiveFrom: jan, Configuration: domain.FlatConfig{Rate: dec("0.20"), Currency: "EUR"}}
	promo := domain.Tariff{ID: uuid.New(), ProviderID: &provider, ActiveFrom: mar, ActiveUntil: &marEnd, Configuration: domain.FlatConfig{Rate: dec("0.15"), Currency: "EUR"}}
	foreign := domain.Tariff{ID: uuid.New(), ProviderID: &other, ActiveFrom: mar, Configuration: domain.FlatConfig{Rate: dec("9"), Currency: "EUR"}}

	r := NewResolver(NewDefaultCalculator())
	tariffs := staticTariffs{base, promo, foreign}
	ctx := context.Background()

	got, err := r.Resolve(ctx, tariffs, provider, time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, base.ID, got.ID)

	got, err = r.Resolve(ctx, tariffs, provider, time.Date(2025, 3, 31, 18, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, promo.ID, got.ID, "activeUntil is inclusive for the whole day")

	got, err = r.Resolve(ctx, tariffs, provider, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, base.ID, got.ID)

	_, err = r.Resolve(ctx, tariffs, provider, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	var notFound *TariffNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.True(t, apperror.IsNotFound(err))

	cost, err := r.CalculateCost(base, dec("100"), jan)
	require.NoError(t, err)
	assert.Equal(t, "20.00", cost.StringFixed(2))
}

func TestValidateConfiguration(t *testing.T) {
	assert.NoError(t, ValidateConfiguration(dayNightConfig()))

	missingNight := domain.TimeOfUseConfig{
		Zones:        []domain.TimeZone{{ID: "all", Start: "00:00", End: "00:00", Rate: dec("0.1")}},
		WeekendLogic: domain.WeekendApplyNightRate,
		Currency:     "EUR",
	}
	err := ValidateConfiguration(missingNight)
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))

	err = ValidateConfiguration(domain.FlatConfig{Rate: dec("-0.1"), Currency: "EUR"})
	assert.True(t, apperror.IsValidation(err))

	err = ValidateConfiguration(nil)
	assert.True(t, apperror.IsValidation(err))
}
