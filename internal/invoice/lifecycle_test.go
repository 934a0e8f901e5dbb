package invoice

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/clock"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/septivank/utility-billing-core/internal/store"
	"github.com/septivank/utility-billing-core/internal/store/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setup(t *testing.T) (*Lifecycle, *memory.Memory, *clock.FakeClock, domain.Invoice) {
	t.Helper()
	m := memory.New()
	clk := clock.NewFakeClock(time.Date(2025, 2, 5, 10, 0, 0, 0, time.UTC))

	inv := domain.Invoice{
		ID:          uuid.New(),
		Status:      domain.InvoiceDraft,
		PeriodStart: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		TotalAmount: decimal.RequireFromString("42.10"),
		Currency:    "EUR",
	}
	ctx := context.Background()
	require.NoError(t, m.WithTx(ctx, func(q store.Queries) error { return q.CreateInvoice(ctx, inv) }))

	return NewLifecycle(m, clk, zap.NewNop()), m, clk, inv
}

func TestFinalize_OnlyFromDraft(t *testing.T) {
	l, _, clk, inv := setup(t)
	ctx := context.Background()

	finalized, err := l.Finalize(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceFinalized, finalized.Status)
	require.NotNil(t, finalized.FinalizedAt)
	assert.True(t, clk.Now().Equal(*finalized.FinalizedAt))

	_, err = l.Finalize(ctx, inv.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsStateConflict(err))
}

func TestMarkPaid(t *testing.T) {
	l, _, clk, inv := setup(t)
	ctx := context.Background()
	payment := Payment{Amount: decimal.RequireFromString("42.10"), Reference: "SEPA-2025-0001"}

	_, err := l.MarkPaid(ctx, inv.ID, payment)
	var invalid *domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid, "a draft cannot be paid")

	_, err = l.Finalize(ctx, inv.ID)
	require.NoError(t, err)

	clk.Advance(72 * time.Hour)
	paid, err := l.MarkPaid(ctx, inv.ID, payment)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	assert.True(t, clk.Now().Equal(*paid.PaidAt))
	assert.Equal(t, "42.10", paid.PaidAmount.Decimal.StringFixed(2))
	require.NotNil(t, paid.PaymentReference)
	assert.Equal(t, "SEPA-2025-0001", *paid.PaymentReference)
	assert.Equal(t, "42.10", paid.TotalAmount.StringFixed(2))

	_, err = l.MarkPaid(ctx, inv.ID, payment)
	var already *domain.InvoiceAlreadyFinalizedError
	assert.ErrorAs(t, err, &already)
}

func TestMarkPaid_ValidatesPayment(t *testing.T) {
	l, _, _, inv := setup(t)
	ctx := context.Background()

	_, err := l.MarkPaid(ctx, inv.ID, Payment{Amount: decimal.Zero, Reference: "x"})
	assert.True(t, apperror.IsValidation(err))

	_, err = l.MarkPaid(ctx, inv.ID, Payment{Amount: decimal.NewFromInt(1), Reference: " "})
	assert.True(t, apperror.IsValidation(err))
}
