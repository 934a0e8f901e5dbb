package invoice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/clock"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/septivank/utility-billing-core/internal/logging"
	"github.com/septivank/utility-billing-core/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Payment carries the settlement details recorded on FINALIZED to PAID
type Payment struct {
	Amount    decimal.Decimal
	Reference string
	PaidAt    time.Time // zero means now
}

// Lifecycle moves invoices along DRAFT -> FINALIZED -> PAID
type Lifecycle struct {
	store  store.Store
	clock  clock.Clock
	logger *zap.Logger
}

func NewLifecycle(s store.Store, clk clock.Clock, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{store: s, clock: clk, logger: logger}
}

// Finalize locks a DRAFT invoice and stamps finalizedAt
func (l *Lifecycle) Finalize(ctx context.Context, invoiceID uuid.UUID) (domain.Invoice, error) {
	var stored domain.Invoice
	err := l.store.WithTx(ctx, func(q store.Queries) error {
		inv, err := q.GetInvoice(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("failed to load invoice: %w", err)
		}
		if inv.Status != domain.InvoiceDraft {
			return &domain.InvoiceAlreadyFinalizedError{InvoiceID: inv.ID, Status: inv.Status}
		}

		now := l.clock.Now()
		next := inv
		next.Status = domain.InvoiceFinalized
		next.FinalizedAt = &now
		next.UpdatedAt = now

		stored, _, err = q.UpdateInvoice(ctx, next)
		if err != nil {
			return fmt.Errorf("failed to finalize invoice: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	logging.WithInvoice(l.logger, invoiceID).Info("invoice finalized",
		zap.String("total", stored.TotalAmount.StringFixed(2)),
	)
	return stored, nil
}

// MarkPaid settles a FINALIZED invoice
func (l *Lifecycle) MarkPaid(ctx context.Context, invoiceID uuid.UUID, p Payment) (domain.Invoice, error) {
	if !p.Amount.IsPositive() {
		return domain.Invoice{}, apperror.NewValidation("paid_amount", "must be positive")
	}
	if strings.TrimSpace(p.Reference) == "" {
		return domain.Invoice{}, apperror.NewValidation("payment_reference", "is required")
	}

	var (
		stored    domain.Invoice
		discarded []string
	)
	err := l.store.WithTx(ctx, func(q store.Queries) error {
		inv, err := q.GetInvoice(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("failed to load invoice: %w", err)
		}
		switch inv.Status {
		case domain.InvoiceFinalized:
		case domain.InvoicePaid:
			return &domain.InvoiceAlreadyFinalizedError{InvoiceID: inv.ID, Status: inv.Status}
		default:
			return &domain.InvalidTransitionError{InvoiceID: inv.ID, From: inv.Status, To: domain.InvoicePaid}
		}

		now := l.clock.Now()
		paidAt := p.PaidAt
		if paidAt.IsZero() {
			paidAt = now
		}
		reference := p.Reference

		next := inv
		next.Status = domain.InvoicePaid
		next.PaidAt = &paidAt
		next.PaidAmount = decimal.NewNullDecimal(domain.RoundMoney(p.Amount))
		next.PaymentReference = &reference
		next.UpdatedAt = now

		stored, discarded, err = q.UpdateInvoice(ctx, next)
		if err != nil {
			return fmt.Errorf("failed to mark invoice paid: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	logger := logging.WithInvoice(l.logger, invoiceID)
	if len(discarded) > 0 {
		logger.Warn("locked invoice fields reverted on status change", zap.Strings("fields", discarded))
	}
	if !stored.PaidAmount.Decimal.Equal(stored.TotalAmount) {
		logger.Warn("paid amount differs from invoice total",
			zap.String("paid", stored.PaidAmount.Decimal.StringFixed(2)),
			zap.String("total", stored.TotalAmount.StringFixed(2)),
		)
	}
	logger.Info("invoice paid", zap.String("reference", p.Reference))
	return stored, nil
}
