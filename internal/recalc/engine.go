// Package recalc refreshes DRAFT invoices after a meter reading value changes.
//
// Matching is done through the invoice item snapshot: an item is affected when
// its start or end reading id is the corrected reading. Only the two reading
// values are re-read; the tariff configuration frozen in the snapshot is
// reused as is, so later tariff edits never leak into an existing invoice.
package recalc

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/clock"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/septivank/utility-billing-core/internal/logging"
	"github.com/septivank/utility-billing-core/internal/store"
	"github.com/septivank/utility-billing-core/internal/tariff"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InvoiceChange describes one DRAFT invoice rewritten by a recalculation
type InvoiceChange struct {
	InvoiceID     uuid.UUID
	PreviousTotal decimal.Decimal
	Total         decimal.Decimal
	ItemsUpdated  int
}

// Report summarizes a recalculation run for one reading
type Report struct {
	ReadingID uuid.UUID
	Changed   []InvoiceChange
	Unchanged []uuid.UUID
	// Skipped holds invoices left alone because they are no longer DRAFT.
	Skipped []uuid.UUID
}

// Engine recalculates invoice items that snapshot a corrected reading
type Engine struct {
	store      store.Store
	calculator *tariff.Calculator
	clock      clock.Clock
	logger     *zap.Logger
}

func NewEngine(s store.Store, calculator *tariff.Calculator, clk clock.Clock, logger *zap.Logger) *Engine {
	return &Engine{
		store:      s,
		calculator: calculator,
		clock:      clk,
		logger:     logger,
	}
}

// RecalculateForReading refreshes every DRAFT invoice with an item built from
// readingID. Each invoice is processed in its own transaction; a failure on
// one invoice is collected and the remaining invoices are still processed.
func (e *Engine) RecalculateForReading(ctx context.Context, readingID uuid.UUID) (Report, error) {
	report := Report{ReadingID: readingID}

	var invoiceIDs []uuid.UUID
	err := e.store.WithTx(ctx, func(q store.Queries) error {
		items, err := q.ListInvoiceItemsByReading(ctx, readingID)
		if err != nil {
			return fmt.Errorf("failed to list invoice items for reading: %w", err)
		}
		invoiceIDs = distinctInvoices(items)
		return nil
	})
	if err != nil {
		return report, err
	}

	var errs []error
	for _, invoiceID := range invoiceIDs {
		change, skipped, err := e.recalculateInvoice(ctx, invoiceID, readingID)
		switch {
		case err != nil:
			e.logger.Error("failed to recalculate invoice",
				zap.Stringer("invoice_id", invoiceID),
				zap.Stringer("reading_id", readingID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("invoice %s: %w", invoiceID, err))
		case skipped:
			report.Skipped = append(report.Skipped, invoiceID)
		case change == nil:
			report.Unchanged = append(report.Unchanged, invoiceID)
		default:
			report.Changed = append(report.Changed, *change)
		}
	}

	return report, errors.Join(errs...)
}

func (e *Engine) recalculateInvoice(ctx context.Context, invoiceID, readingID uuid.UUID) (*InvoiceChange, bool, error) {
	logger := logging.WithInvoice(e.logger, invoiceID)

	var (
		change  *InvoiceChange
		skipped bool
	)
	err := e.store.WithTx(ctx, func(q store.Queries) error {
		inv, err := q.GetInvoice(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("failed to load invoice: %w", err)
		}
		if inv.Status != domain.InvoiceDraft {
			logger.Warn("skipping recalculation of locked invoice",
				zap.String("status", string(inv.Status)),
				zap.Stringer("reading_id", readingID),
			)
			skipped = true
			return nil
		}

		now := e.clock.Now()
		updated := 0
		for i, item := range inv.Items {
			if !item.Snapshot.References(readingID) {
				continue
			}
			next, dirty, err := e.recalculateItem(ctx, q, item)
			if err != nil {
				return fmt.Errorf("failed to recalculate item %s: %w", item.ID, err)
			}
			if !dirty {
				continue
			}
			next.UpdatedAt = now
			if err := q.UpdateInvoiceItem(ctx, next); err != nil {
				return fmt.Errorf("failed to update item %s: %w", item.ID, err)
			}
			inv.Items[i] = next
			updated++
		}

		total := inv.SumItems()
		if updated == 0 && total.Equal(inv.TotalAmount) {
			return nil
		}

		previous := inv.TotalAmount
		inv.TotalAmount = total
		inv.UpdatedAt = now
		if _, _, err := q.UpdateInvoice(ctx, inv); err != nil {
			return fmt.Errorf("failed to update invoice total: %w", err)
		}
		change = &InvoiceChange{
			InvoiceID:     invoiceID,
			PreviousTotal: previous,
			Total:         total,
			ItemsUpdated:  updated,
		}
		logger.Info("invoice recalculated",
			zap.Stringer("reading_id", readingID),
			zap.String("previous_total", previous.StringFixed(2)),
			zap.String("total", total.StringFixed(2)),
			zap.Int("items_updated", updated),
		)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return change, skipped, nil
}

// recalculateItem re-prices item from the current values of its two snapshot
// readings. dirty is false when nothing would change.
func (e *Engine) recalculateItem(ctx context.Context, q store.ReadingQueries, item domain.InvoiceItem) (domain.InvoiceItem, bool, error) {
	snap := item.Snapshot

	start, err := q.GetReading(ctx, snap.StartReadingID)
	if err != nil {
		return item, false, fmt.Errorf("failed to load start reading: %w", err)
	}
	end, err := q.GetReading(ctx, snap.EndReadingID)
	if err != nil {
		return item, false, fmt.Errorf("failed to load end reading: %w", err)
	}

	consumption := domain.RoundQuantity(end.Value.Sub(start.Value))
	if consumption.IsNegative() {
		return item, false, apperror.NewValidation("consumption",
			"end reading %s is lower than start reading %s", end.Value, start.Value)
	}

	charge, err := e.calculator.Calculate(snap.TariffConfiguration, tariff.Usage{
		Consumption: consumption,
		Timestamp:   snap.PricedAt,
		Zone:        snap.Zone,
	})
	if err != nil {
		return item, false, err
	}

	if consumption.Equal(item.Quantity) &&
		charge.Cost.Equal(item.Total) &&
		charge.UnitPrice.Equal(item.UnitPrice) &&
		start.Value.Equal(snap.StartValue) &&
		end.Value.Equal(snap.EndValue) {
		return item, false, nil
	}

	next := item
	next.Quantity = consumption
	next.UnitPrice = charge.UnitPrice
	next.Total = charge.Cost
	next.Snapshot.StartValue = start.Value
	next.Snapshot.EndValue = end.Value
	return next, true, nil
}

func distinctInvoices(items []domain.InvoiceItem) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(items))
	var ids []uuid.UUID
	for _, item := range items {
		if !seen[item.InvoiceID] {
			seen[item.InvoiceID] = true
			ids = append(ids, item.InvoiceID)
		}
	}
	return ids
}
