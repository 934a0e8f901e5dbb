package recalc

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-core/internal/clock"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/septivank/utility-billing-core/internal/store"
	"github.com/septivank/utility-billing-core/internal/store/memory"
	"github.com/septivank/utility-billing-core/internal/tariff"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	jan1  = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	jan31 = time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	store  *memory.Memory
	engine *Engine
	meter  domain.Meter
	start  domain.MeterReading
	end    domain.MeterReading
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := memory.New()
	clk := clock.NewFakeClock(time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC))

	meter := domain.Meter{ID: uuid.New(), Serial: "E-100", Kind: domain.ServiceElectricity}
	m.AddMeter(meter)

	f := &fixture{
		store:  m,
		engine: NewEngine(m, tariff.NewDefaultCalculator(), clk, zap.NewNop()),
		meter:  meter,
		start:  domain.MeterReading{ID: uuid.New(), MeterID: meter.ID, Value: decimal.NewFromInt(1000), ReadingDate: jan1},
		end:    domain.MeterReading{ID: uuid.New(), MeterID: meter.ID, Value: decimal.NewFromInt(1100), ReadingDate: jan31},
	}
	f.tx(t, func(ctx context.Context, q store.Queries) error {
		if err := q.CreateReading(ctx, f.start); err != nil {
			return err
		}
		return q.CreateReading(ctx, f.end)
	})
	return f
}

func (f *fixture) tx(t *testing.T, fn func(ctx context.Context, q store.Queries) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.WithTx(ctx, func(q store.Queries) error { return fn(ctx, q) }))
}

// addInvoice stores an invoice with one item billing start..end at 0.20 and,
// optionally, an unrelated item worth 5.00.
func (f *fixture) addInvoice(t *testing.T, status domain.InvoiceStatus, withUnrelated bool) domain.Invoice {
	t.Helper()
	id := uuid.New()
	cfg := domain.FlatConfig{Rate: decimal.RequireFromString("0.20"), Currency: "EUR"}
	inv := domain.Invoice{
		ID:          id,
		Status:      status,
		PeriodStart: jan1,
		PeriodEnd:   jan31,
		Currency:    "EUR",
		Items: []domain.InvoiceItem{{
			ID:        uuid.New(),
			InvoiceID: id,
			Quantity:  decimal.RequireFromString("100.00"),
			Unit:      "kWh",
			UnitPrice: decimal.RequireFromString("0.2000"),
			Total:     decimal.RequireFromString("20.00"),
			Snapshot: domain.MeterReadingSnapshot{
				MeterID:             f.meter.ID,
				MeterSerial:         f.meter.Serial,
				ServiceKind:         f.meter.Kind,
				StartReadingID:      f.start.ID,
				StartValue:          f.start.Value,
				EndReadingID:        f.end.ID,
				EndValue:            f.end.Value,
				TariffID:            uuid.New(),
				TariffConfiguration: cfg,
				PricedAt:            jan31,
			},
		}},
	}
	if withUnrelated {
		inv.Items = append(inv.Items, domain.InvoiceItem{
			ID:        uuid.New(),
			InvoiceID: id,
			Quantity:  decimal.RequireFromString("5.00"),
			UnitPrice: decimal.RequireFromString("1.0000"),
			Total:     decimal.RequireFromString("5.00"),
			Snapshot: domain.MeterReadingSnapshot{
				StartReadingID:      uuid.New(),
				EndReadingID:        uuid.New(),
				TariffConfiguration: cfg,
			},
		})
	}
	inv.TotalAmount = inv.SumItems()
	f.tx(t, func(ctx context.Context, q store.Queries) error { return q.CreateInvoice(ctx, inv) })
	return inv
}

func (f *fixture) setEndValue(t *testing.T, value string) {
	t.Helper()
	f.tx(t, func(ctx context.Context, q store.Queries) error {
		r := f.end
		r.Value = decimal.RequireFromString(value)
		return q.UpdateReading(ctx, r)
	})
}

func (f *fixture) invoice(t *testing.T, id uuid.UUID) domain.Invoice {
	t.Helper()
	var inv domain.Invoice
	f.tx(t, func(ctx context.Context, q store.Queries) error {
		var err error
		inv, err = q.GetInvoice(ctx, id)
		return err
	})
	return inv
}

func TestRecalculate_DraftInvoiceFollowsCorrection(t *testing.T) {
	f := newFixture(t)
	draft := f.addInvoice(t, domain.InvoiceDraft, true)
	f.setEndValue(t, "1150")

	report, err := f.engine.RecalculateForReading(context.Background(), f.end.ID)
	require.NoError(t, err)
	require.Len(t, report.Changed, 1)
	assert.Equal(t, draft.ID, report.Changed[0].InvoiceID)
	assert.Equal(t, "25.00", report.Changed[0].PreviousTotal.StringFixed(2))
	assert.Equal(t, "35.00", report.Changed[0].Total.StringFixed(2))

	got := f.invoice(t, draft.ID)
	item := got.Items[0]
	assert.Equal(t, "150.00", item.Quantity.StringFixed(2))
	assert.Equal(t, "30.00", item.Total.StringFixed(2))
	assert.Equal(t, "1150", item.Snapshot.EndValue.String())
	assert.Equal(t, "1000", item.Snapshot.StartValue.String())
	assert.Equal(t, draft.Items[0].Snapshot.TariffID, item.Snapshot.TariffID)
	assert.Equal(t, "5.00", got.Items[1].Total.StringFixed(2), "unrelated items are kept")
	assert.Equal(t, "35.00", got.TotalAmount.StringFixed(2))
}

func TestRecalculate_SingleItemInvoice(t *testing.T) {
	f := newFixture(t)
	draft := f.addInvoice(t, domain.InvoiceDraft, false)
	f.setEndValue(t, "1150")

	_, err := f.engine.RecalculateForReading(context.Background(), f.end.ID)
	require.NoError(t, err)

	got := f.invoice(t, draft.ID)
	assert.Equal(t, "150.00", got.Items[0].Quantity.StringFixed(2))
	assert.Equal(t, "30.00", got.Items[0].Total.StringFixed(2))
	assert.Equal(t, "30.00", got.TotalAmount.StringFixed(2))
}

func TestRecalculate_LockedInvoicesAreUntouched(t *testing.T) {
	f := newFixture(t)
	finalized := f.addInvoice(t, domain.InvoiceFinalized, false)
	paid := f.addInvoice(t, domain.InvoicePaid, false)
	beforeFinalized := f.invoice(t, finalized.ID)
	beforePaid := f.invoice(t, paid.ID)

	f.setEndValue(t, "1150")
	report, err := f.engine.RecalculateForReading(context.Background(), f.end.ID)
	require.NoError(t, err)

	assert.Empty(t, report.Changed)
	assert.ElementsMatch(t, []uuid.UUID{finalized.ID, paid.ID}, report.Skipped)
	assert.Equal(t, beforeFinalized, f.invoice(t, finalized.ID))
	assert.Equal(t, beforePaid, f.invoice(t, paid.ID))
}

func TestRecalculate_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	draft := f.addInvoice(t, domain.InvoiceDraft, false)
	f.setEndValue(t, "1150")

	_, err := f.engine.RecalculateForReading(context.Background(), f.end.ID)
	require.NoError(t, err)
	first := f.invoice(t, draft.ID)

	report, err := f.engine.RecalculateForReading(context.Background(), f.end.ID)
	require.NoError(t, err)
	assert.Empty(t, report.Changed)
	assert.Equal(t, []uuid.UUID{draft.ID}, report.Unchanged)
	assert.Equal(t, first, f.invoice(t, draft.ID))
}

func TestRecalculate_FailureIsIsolatedPerInvoice(t *testing.T) {
	f := newFixture(t)
	good := f.addInvoice(t, domain.InvoiceDraft, false)
	broken := f.addInvoice(t, domain.InvoiceDraft, false)

	// the broken invoice references a start reading that no longer resolves
	f.tx(t, func(ctx context.Context, q store.Queries) error {
		inv, err := q.GetInvoice(ctx, broken.ID)
		if err != nil {
			return err
		}
		item := inv.Items[0]
		item.Snapshot.StartReadingID = uuid.New()
		return q.UpdateInvoiceItem(ctx, item)
	})
	f.setEndValue(t, "1150")

	report, err := f.engine.RecalculateForReading(context.Background(), f.end.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), broken.ID.String())
	require.Len(t, report.Changed, 1)
	assert.Equal(t, good.ID, report.Changed[0].InvoiceID)
	assert.Equal(t, "20.00", f.invoice(t, broken.ID).TotalAmount.StringFixed(2))
}
