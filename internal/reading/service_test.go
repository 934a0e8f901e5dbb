package reading

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-core/internal/anomaly"
	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/billing"
	"github.com/septivank/utility-billing-core/internal/clock"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/septivank/utility-billing-core/internal/invoice"
	"github.com/septivank/utility-billing-core/internal/recalc"
	"github.com/septivank/utility-billing-core/internal/store"
	"github.com/septivank/utility-billing-core/internal/store/memory"
	"github.com/septivank/utility-billing-core/internal/tariff"
	"github.com/septivank/utility-billing-core/internal/validator"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	jan1  = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	jan31 = time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	actor = uuid.MustParse("6f1d2c3b-0000-4000-8000-00000000a11c")
)

type fixture struct {
	store     *memory.Memory
	clock     *clock.FakeClock
	service   *Service
	audit     *AuditTrail
	billing   *billing.Service
	lifecycle *invoice.Lifecycle
	renter    domain.TenantRenter
	meter     domain.Meter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := memory.New()
	clk := clock.NewFakeClock(time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC))
	logger := zap.NewNop()

	property := domain.Property{ID: uuid.New(), BuildingID: uuid.New(), Area: decimal.NewFromInt(60)}
	renter := domain.TenantRenter{ID: uuid.New(), PropertyID: property.ID}
	provider := domain.Provider{ID: uuid.New(), ServiceKind: domain.ServiceElectricity}
	meter := domain.Meter{ID: uuid.New(), PropertyID: property.ID, Serial: "E-7", Kind: domain.ServiceElectricity, ProviderID: &provider.ID}
	m.AddProperty(property)
	m.AddTenantRenter(renter)
	m.AddProvider(provider)
	m.AddMeter(meter)

	ctx := context.Background()
	require.NoError(t, m.WithTx(ctx, func(q store.Queries) error {
		return q.CreateTariff(ctx, domain.Tariff{
			ID:            uuid.New(),
			ProviderID:    &provider.ID,
			Configuration: domain.FlatConfig{Rate: decimal.RequireFromString("0.20"), Currency: "EUR"},
			ActiveFrom:    jan1,
		})
	}))

	calc := tariff.NewDefaultCalculator()
	lifecycle := invoice.NewLifecycle(m, clk, logger)
	audit := NewAuditTrail(m, clk)

	return &fixture{
		store: m,
		clock: clk,
		service: NewService(
			m,
			validator.NewValidator(clk, 10),
			anomaly.NewDetector(3.0, 3),
			audit,
			recalc.NewEngine(m, calc, clk, logger),
			clk,
			logger,
		),
		audit:     audit,
		billing:   billing.NewService(m, tariff.NewResolver(calc), lifecycle, clk, logger),
		lifecycle: lifecycle,
		renter:    renter,
		meter:     meter,
	}
}

func (f *fixture) record(t *testing.T, value string, at time.Time) domain.MeterReading {
	t.Helper()
	r, err := f.service.RecordReading(context.Background(), RecordInput{
		MeterID:     f.meter.ID,
		Value:       decimal.RequireFromString(value),
		ReadingDate: at,
		ActorID:     actor,
	})
	require.NoError(t, err)
	return r
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestRecordReading_RejectsDecreasingValue(t *testing.T) {
	f := newFixture(t)
	f.record(t, "1000", jan1)

	_, err := f.service.RecordReading(context.Background(), RecordInput{
		MeterID:     f.meter.ID,
		Value:       decimal.RequireFromString("999"),
		ReadingDate: jan31,
		ActorID:     actor,
	})
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))
}

func TestRecordReading_FlagsSpikes(t *testing.T) {
	f := newFixture(t)
	for i, v := range []string{"1000", "1100", "1200", "1300"} {
		f.record(t, v, jan1.AddDate(0, 0, i*7))
	}

	spike := f.record(t, "2000", jan31)
	require.NotNil(t, spike.AnomalyReason)
	assert.Contains(t, *spike.AnomalyReason, "sudden spike")
}

func TestCorrectReading_RecalculatesDraftInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.record(t, "1000", jan1)
	end := f.record(t, "1100", jan31)

	inv, err := f.billing.GenerateInvoice(ctx, f.renter.ID, jan1, jan31)
	require.NoError(t, err)
	assert.Equal(t, "20.00", inv.TotalAmount.StringFixed(2))

	res, err := f.service.CorrectReading(ctx, CorrectInput{
		ReadingID: end.ID,
		Value:     decPtr("1150"),
		ActorID:   actor,
		Reason:    "gateway dropped the last digit",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Audit)
	assert.Equal(t, "1100", res.Audit.OldValue.String())
	assert.Equal(t, "1150", res.Audit.NewValue.String())
	require.NotNil(t, res.Recalculation)
	require.Len(t, res.Recalculation.Changed, 1)

	require.NoError(t, f.store.WithTx(ctx, func(q store.Queries) error {
		got, err := q.GetInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, "150.00", got.Items[0].Quantity.StringFixed(2))
		assert.Equal(t, "30.00", got.TotalAmount.StringFixed(2))
		return nil
	}))

	history, err := f.audit.History(ctx, end.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, actor, history[0].ChangedByUserID)
}

func TestCorrectReading_FinalizedInvoiceUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.record(t, "1000", jan1)
	end := f.record(t, "1100", jan31)

	inv, err := f.billing.GenerateInvoice(ctx, f.renter.ID, jan1, jan31)
	require.NoError(t, err)
	finalized, err := f.lifecycle.Finalize(ctx, inv.ID)
	require.NoError(t, err)

	res, err := f.service.CorrectReading(ctx, CorrectInput{
		ReadingID: end.ID,
		Value:     decPtr("1150"),
		ActorID:   actor,
		Reason:    "gateway dropped the last digit",
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{inv.ID}, res.Recalculation.Skipped)

	require.NoError(t, f.store.WithTx(ctx, func(q store.Queries) error {
		got, err := q.GetInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, finalized, got)
		return nil
	}))
}

func TestCorrectReading_DateOnlyChangeIsNotAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.record(t, "1000", jan1)
	end := f.record(t, "1100", jan31)

	moved := jan31.Add(-24 * time.Hour)
	res, err := f.service.CorrectReading(ctx, CorrectInput{
		ReadingID:   end.ID,
		ReadingDate: &moved,
		ActorID:     actor,
	})
	require.NoError(t, err)
	assert.Nil(t, res.Audit)
	assert.Nil(t, res.Recalculation)
	assert.True(t, moved.Equal(res.Reading.ReadingDate))

	history, err := f.audit.History(ctx, end.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCorrectReading_RequiresReason(t *testing.T) {
	f := newFixture(t)
	end := f.record(t, "1000", jan1)

	_, err := f.service.CorrectReading(context.Background(), CorrectInput{
		ReadingID: end.ID,
		Value:     decPtr("1001"),
		ActorID:   actor,
		Reason:    "oops",
	})
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))

	history, err := f.audit.History(context.Background(), end.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

// flakyStore fails the first invoice item write with a connection error
type flakyStore struct {
	store.Store
	failures int
}

func (s *flakyStore) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	return s.Store.WithTx(ctx, func(q store.Queries) error {
		return fn(&flakyQueries{Queries: q, store: s})
	})
}

type flakyQueries struct {
	store.Queries
	store *flakyStore
}

func (q *flakyQueries) UpdateInvoiceItem(ctx context.Context, item domain.InvoiceItem) error {
	if q.store.failures > 0 {
		q.store.failures--
		return errors.New("connection reset")
	}
	return q.Queries.UpdateInvoiceItem(ctx, item)
}

func TestCorrectReading_RedeliveryAfterFailedRecalculation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.record(t, "1000", jan1)
	end := f.record(t, "1100", jan31)

	inv, err := f.billing.GenerateInvoice(ctx, f.renter.ID, jan1, jan31)
	require.NoError(t, err)

	flaky := &flakyStore{Store: f.store, failures: 1}
	logger := zap.NewNop()
	svc := NewService(
		f.store,
		validator.NewValidator(f.clock, 10),
		anomaly.NewDetector(3.0, 3),
		f.audit,
		recalc.NewEngine(flaky, tariff.NewDefaultCalculator(), f.clock, logger),
		f.clock,
		logger,
	)

	in := CorrectInput{
		ReadingID: end.ID,
		Value:     decPtr("1150"),
		ActorID:   actor,
		Reason:    "gateway dropped the last digit",
	}

	_, err = svc.CorrectReading(ctx, in)
	require.Error(t, err)
	assert.True(t, apperror.IsRetryable(err))

	res, err := svc.CorrectReading(ctx, in)
	require.NoError(t, err)
	assert.Nil(t, res.Audit)
	require.NotNil(t, res.Recalculation)
	require.Len(t, res.Recalculation.Changed, 1)

	require.NoError(t, f.store.WithTx(ctx, func(q store.Queries) error {
		got, err := q.GetInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.InvoiceDraft, got.Status)
		assert.Equal(t, "150.00", got.Items[0].Quantity.StringFixed(2))
		assert.Equal(t, "30.00", got.TotalAmount.StringFixed(2))
		assert.Equal(t, "1150", got.Items[0].Snapshot.EndValue.String())
		return nil
	}))

	history, err := f.audit.History(ctx, end.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	again, err := svc.CorrectReading(ctx, in)
	require.NoError(t, err)
	assert.Empty(t, again.Recalculation.Changed)
}
