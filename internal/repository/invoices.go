package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/domain"
)

const invoiceColumns = `id, tenant_renter_id, property_id, period_start, period_end, status,
	total_amount, currency, finalized_at, paid_at, paid_amount, payment_reference,
	created_at, updated_at`

func scanInvoice(row scanner) (domain.Invoice, error) {
	var inv domain.Invoice
	err := row.Scan(
		&inv.ID,
		&inv.TenantRenterID,
		&inv.PropertyID,
		&inv.PeriodStart,
		&inv.PeriodEnd,
		&inv.Status,
		&inv.TotalAmount,
		&inv.Currency,
		&inv.FinalizedAt,
		&inv.PaidAt,
		&inv.PaidAmount,
		&inv.PaymentReference,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	return inv, err
}

const itemColumns = `id, invoice_id, description, quantity, unit, unit_price, total,
	meter_reading_snapshot, created_at, updated_at`

func scanItem(row scanner) (domain.InvoiceItem, error) {
	var (
		item     domain.InvoiceItem
		snapshot []byte
	)
	err := row.Scan(
		&item.ID,
		&item.InvoiceID,
		&item.Description,
		&item.Quantity,
		&item.Unit,
		&item.UnitPrice,
		&item.Total,
		&snapshot,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return domain.InvoiceItem{}, err
	}
	if err := json.Unmarshal(snapshot, &item.Snapshot); err != nil {
		return domain.InvoiceItem{}, fmt.Errorf("invoice item %s: %w", item.ID, err)
	}
	return item, nil
}

func collectItems(rows pgx.Rows) ([]domain.InvoiceItem, error) {
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.InvoiceItem, error) {
		return scanItem(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan invoice items: %w", err)
	}
	return items, nil
}

// CreateInvoice inserts the invoice header and all its items
func (q *queries) CreateInvoice(ctx context.Context, inv domain.Invoice) error {
	query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := q.db.Exec(ctx, query,
		inv.ID,
		inv.TenantRenterID,
		inv.PropertyID,
		inv.PeriodStart,
		inv.PeriodEnd,
		inv.Status,
		inv.TotalAmount,
		inv.Currency,
		inv.FinalizedAt,
		inv.PaidAt,
		inv.PaidAmount,
		inv.PaymentReference,
		inv.CreatedAt,
		inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert invoice: %w", err)
	}

	itemQuery := `
		INSERT INTO invoice_items (
			id, invoice_id, description, quantity, unit, unit_price, total,
			meter_reading_snapshot, start_reading_id, end_reading_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	batch := &pgx.Batch{}
	for _, item := range inv.Items {
		snapshot, err := json.Marshal(item.Snapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot of item %s: %w", item.ID, err)
		}
		batch.Queue(itemQuery,
			item.ID,
			inv.ID,
			item.Description,
			item.Quantity,
			item.Unit,
			item.UnitPrice,
			item.Total,
			snapshot,
			item.Snapshot.StartReadingID,
			item.Snapshot.EndReadingID,
			item.CreatedAt,
			item.UpdatedAt,
		)
	}
	if batch.Len() == 0 {
		return nil
	}

	if err := q.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert invoice items: %w", err)
	}
	return nil
}

func (q *queries) listItems(ctx context.Context, invoiceID uuid.UUID) ([]domain.InvoiceItem, error) {
	query := `SELECT ` + itemColumns + ` FROM invoice_items WHERE invoice_id = $1 ORDER BY created_at, id`

	rows, err := q.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice items: %w", err)
	}
	return collectItems(rows)
}

// GetInvoice loads an invoice with its items
func (q *queries) GetInvoice(ctx context.Context, id uuid.UUID) (domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`

	inv, err := scanInvoice(q.db.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Invoice{}, notFound(err, "invoice", id)
	}
	if inv.Items, err = q.listItems(ctx, id); err != nil {
		return domain.Invoice{}, err
	}
	return inv, nil
}

// UpdateInvoice locks the invoice row, runs the finalization guard against
// it and writes the guarded result.
func (q *queries) UpdateInvoice(ctx context.Context, next domain.Invoice) (domain.Invoice, []string, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1 FOR UPDATE`

	prev, err := scanInvoice(q.db.QueryRow(ctx, query, next.ID))
	if err != nil {
		return domain.Invoice{}, nil, notFound(err, "invoice", next.ID)
	}

	result, discarded, err := domain.GuardInvoiceUpdate(prev, next)
	if err != nil {
		return domain.Invoice{}, nil, err
	}
	result.ID = prev.ID
	result.CreatedAt = prev.CreatedAt

	updateQuery := `
		UPDATE invoices
		SET tenant_renter_id = $2, property_id = $3, period_start = $4, period_end = $5,
			status = $6, total_amount = $7, currency = $8, finalized_at = $9, paid_at = $10,
			paid_amount = $11, payment_reference = $12, updated_at = $13
		WHERE id = $1
	`

	_, err = q.db.Exec(ctx, updateQuery,
		result.ID,
		result.TenantRenterID,
		result.PropertyID,
		result.PeriodStart,
		result.PeriodEnd,
		result.Status,
		result.TotalAmount,
		result.Currency,
		result.FinalizedAt,
		result.PaidAt,
		result.PaidAmount,
		result.PaymentReference,
		result.UpdatedAt,
	)
	if err != nil {
		return domain.Invoice{}, nil, fmt.Errorf("failed to update invoice: %w", err)
	}

	if result.Items, err = q.listItems(ctx, result.ID); err != nil {
		return domain.Invoice{}, nil, err
	}
	return result, discarded, nil
}

// UpdateInvoiceItem rewrites a recalculated item of a DRAFT invoice
func (q *queries) UpdateInvoiceItem(ctx context.Context, item domain.InvoiceItem) error {
	var status domain.InvoiceStatus
	err := q.db.QueryRow(ctx, `SELECT status FROM invoices WHERE id = $1 FOR UPDATE`, item.InvoiceID).Scan(&status)
	if err != nil {
		return notFound(err, "invoice", item.InvoiceID)
	}
	if status != domain.InvoiceDraft {
		return &domain.InvoiceAlreadyFinalizedError{InvoiceID: item.InvoiceID, Status: status, Fields: []string{"items"}}
	}

	snapshot, err := json.Marshal(item.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot of item %s: %w", item.ID, err)
	}

	query := `
		UPDATE invoice_items
		SET quantity = $3, unit_price = $4, total = $5, meter_reading_snapshot = $6,
			start_reading_id = $7, end_reading_id = $8, updated_at = $9
		WHERE id = $1 AND invoice_id = $2
	`

	tag, err := q.db.Exec(ctx, query,
		item.ID,
		item.InvoiceID,
		item.Quantity,
		item.UnitPrice,
		item.Total,
		snapshot,
		item.Snapshot.StartReadingID,
		item.Snapshot.EndReadingID,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("invoice item", item.ID)
	}
	return nil
}

// ListInvoiceItemsByReading finds the items priced from a reading
func (q *queries) ListInvoiceItemsByReading(ctx context.Context, readingID uuid.UUID) ([]domain.InvoiceItem, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM invoice_items
		WHERE start_reading_id = $1 OR end_reading_id = $1
		ORDER BY created_at, id
	`

	rows, err := q.db.Query(ctx, query, readingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice items by reading: %w", err)
	}
	return collectItems(rows)
}
