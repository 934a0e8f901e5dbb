package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/septivank/utility-billing-core/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedInvoice(t *testing.T, m *Memory, status domain.InvoiceStatus) domain.Invoice {
	t.Helper()
	id := uuid.New()
	inv := domain.Invoice{
		ID:          id,
		Status:      status,
		TotalAmount: decimal.RequireFromString("20.00"),
		Currency:    "EUR",
		PeriodStart: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		Items: []domain.InvoiceItem{{
			ID:        uuid.New(),
			InvoiceID: id,
			Quantity:  decimal.RequireFromString("100"),
			UnitPrice: decimal.RequireFromString("0.2"),
			Total:     decimal.RequireFromString("20.00"),
		}},
	}
	require.NoError(t, m.WithTx(context.Background(), func(q store.Queries) error {
		return q.CreateInvoice(context.Background(), inv)
	}))
	return inv
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	m := New()
	meter := domain.Meter{ID: uuid.New(), Serial: "E-1", Kind: domain.ServiceElectricity}
	m.AddMeter(meter)
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(q store.Queries) error {
		require.NoError(t, q.CreateReading(ctx, domain.MeterReading{ID: uuid.New(), MeterID: meter.ID, Value: decimal.NewFromInt(1)}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, m.WithTx(ctx, func(q store.Queries) error {
		readings, err := q.ListReadings(ctx, meter.ID, "")
		require.NoError(t, err)
		assert.Empty(t, readings)
		return nil
	}))
}

func TestLatestReadingAtOrBefore(t *testing.T) {
	m := New()
	meter := domain.Meter{ID: uuid.New(), Serial: "E-1", Kind: domain.ServiceElectricity}
	m.AddMeter(meter)
	ctx := context.Background()

	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.WithTx(ctx, func(q store.Queries) error {
		for _, r := range []domain.MeterReading{
			{ID: uuid.New(), MeterID: meter.ID, Value: decimal.NewFromInt(1000), ReadingDate: jan},
			{ID: uuid.New(), MeterID: meter.ID, Value: decimal.NewFromInt(1100), ReadingDate: feb},
			{ID: uuid.New(), MeterID: meter.ID, Zone: "night", Value: decimal.NewFromInt(5), ReadingDate: feb},
		} {
			if err := q.CreateReading(ctx, r); err != nil {
				return err
			}
		}

		r, ok, err := q.LatestReadingAtOrBefore(ctx, meter.ID, "", feb.Add(-time.Hour))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "1000", r.Value.String())

		r, ok, err = q.LatestReadingAtOrBefore(ctx, meter.ID, "", feb)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "1100", r.Value.String())

		_, ok, err = q.LatestReadingAtOrBefore(ctx, meter.ID, "", jan.Add(-time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)

		zones, err := q.ListReadingZones(ctx, meter.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"", "night"}, zones)
		return nil
	}))
}

func TestUpdateInvoice_AppliesLifecycleGuard(t *testing.T) {
	m := New()
	ctx := context.Background()
	inv := seedInvoice(t, m, domain.InvoiceFinalized)

	err := m.WithTx(ctx, func(q store.Queries) error {
		next := inv
		next.TotalAmount = decimal.RequireFromString("99.00")
		_, _, err := q.UpdateInvoice(ctx, next)
		return err
	})
	require.Error(t, err)
	assert.True(t, apperror.IsStateConflict(err))

	require.NoError(t, m.WithTx(ctx, func(q store.Queries) error {
		next := inv
		next.Status = domain.InvoicePaid
		next.TotalAmount = decimal.RequireFromString("99.00")
		stored, discarded, err := q.UpdateInvoice(ctx, next)
		require.NoError(t, err)
		assert.Equal(t, domain.InvoicePaid, stored.Status)
		assert.Equal(t, "20", stored.TotalAmount.String())
		assert.Equal(t, []string{"total_amount"}, discarded)
		assert.Len(t, stored.Items, 1)
		return nil
	}))
}

func TestUpdateInvoiceItem_RefusedUnlessDraft(t *testing.T) {
	m := New()
	ctx := context.Background()
	draft := seedInvoice(t, m, domain.InvoiceDraft)
	final := seedInvoice(t, m, domain.InvoiceFinalized)

	require.NoError(t, m.WithTx(ctx, func(q store.Queries) error {
		item := draft.Items[0]
		item.Total = decimal.RequireFromString("30.00")
		return q.UpdateInvoiceItem(ctx, item)
	}))

	err := m.WithTx(ctx, func(q store.Queries) error {
		item := final.Items[0]
		item.Total = decimal.RequireFromString("30.00")
		return q.UpdateInvoiceItem(ctx, item)
	})
	var locked *domain.InvoiceAlreadyFinalizedError
	require.ErrorAs(t, err, &locked)

	require.NoError(t, m.WithTx(ctx, func(q store.Queries) error {
		got, err := q.GetInvoice(ctx, draft.ID)
		require.NoError(t, err)
		assert.Equal(t, "30", got.Items[0].Total.String())

		got, err = q.GetInvoice(ctx, final.ID)
		require.NoError(t, err)
		assert.Equal(t, "20", got.Items[0].Total.String())
		return nil
	}))
}

func TestCreateTariff_ValidatesConfiguration(t *testing.T) {
	m := New()
	ctx := context.Background()
	provider := domain.Provider{ID: uuid.New(), Name: "Grid", ServiceKind: domain.ServiceElectricity}
	m.AddProvider(provider)

	err := m.WithTx(ctx, func(q store.Queries) error {
		return q.CreateTariff(ctx, domain.Tariff{
			ID:         uuid.New(),
			ProviderID: &provider.ID,
			ActiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			Configuration: domain.TimeOfUseConfig{
				Zones:    []domain.TimeZone{{ID: "day", Start: "07:00", End: "22:00", Rate: decimal.RequireFromString("0.2")}},
				Currency: "EUR",
			},
		})
	})
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))
}
