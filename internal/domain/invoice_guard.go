package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/shopspring/decimal"
)

// InvoiceAlreadyFinalizedError rejects a write to a FINALIZED or PAID invoice
type InvoiceAlreadyFinalizedError struct {
	InvoiceID uuid.UUID
	Status    InvoiceStatus
	Fields    []string
}

func (e *InvoiceAlreadyFinalizedError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("invoice %s is already %s", e.InvoiceID, e.Status)
	}
	return fmt.Sprintf("invoice %s is already %s: cannot change %v", e.InvoiceID, e.Status, e.Fields)
}

func (e *InvoiceAlreadyFinalizedError) Unwrap() error {
	return apperror.ErrStateConflict
}

// InvalidTransitionError rejects a backwards or unknown status change
type InvalidTransitionError struct {
	InvoiceID uuid.UUID
	From      InvoiceStatus
	To        InvoiceStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invoice %s cannot move from %s to %s", e.InvoiceID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return apperror.ErrStateConflict
}

// GuardInvoiceUpdate decides what part of next may be written over the persisted prev.
//
// While prev is DRAFT the write passes unchanged (status may only move forward).
// Once prev is FINALIZED or PAID:
//   - a write that changes status keeps the new status and its lifecycle stamps
//     (finalizedAt, paidAt, paidAmount, paymentReference); every other changed
//     field is reverted to prev and reported in discarded;
//   - a write that does not change status but changes anything else is rejected
//     with InvoiceAlreadyFinalizedError.
//
// The silent revert mirrors the behaviour of the system this core replaces and
// is kept on purpose until product decides otherwise.
func GuardInvoiceUpdate(prev, next Invoice) (result Invoice, discarded []string, err error) {
	if next.Status != prev.Status && !prev.Status.CanTransitionTo(next.Status) {
		return prev, nil, &InvalidTransitionError{InvoiceID: prev.ID, From: prev.Status, To: next.Status}
	}
	if !prev.Status.IsLocked() {
		return next, nil, nil
	}

	changed := changedFinancialFields(prev, next)

	if next.Status == prev.Status {
		changed = append(changed, changedLifecycleFields(prev, next)...)
		if len(changed) > 0 {
			return prev, nil, &InvoiceAlreadyFinalizedError{InvoiceID: prev.ID, Status: prev.Status, Fields: changed}
		}
		return prev, nil, nil
	}

	result = prev
	result.Status = next.Status
	result.FinalizedAt = next.FinalizedAt
	result.PaidAt = next.PaidAt
	result.PaidAmount = next.PaidAmount
	result.PaymentReference = next.PaymentReference
	result.UpdatedAt = next.UpdatedAt
	return result, changed, nil
}

func changedFinancialFields(prev, next Invoice) []string {
	var fields []string
	if prev.TenantRenterID != next.TenantRenterID {
		fields = append(fields, "tenant_renter_id")
	}
	if prev.PropertyID != next.PropertyID {
		fields = append(fields, "property_id")
	}
	if !prev.PeriodStart.Equal(next.PeriodStart) {
		fields = append(fields, "period_start")
	}
	if !prev.PeriodEnd.Equal(next.PeriodEnd) {
		fields = append(fields, "period_end")
	}
	if !prev.TotalAmount.Equal(next.TotalAmount) {
		fields = append(fields, "total_amount")
	}
	if prev.Currency != next.Currency {
		fields = append(fields, "currency")
	}
	return fields
}

func changedLifecycleFields(prev, next Invoice) []string {
	var fields []string
	if !sameTime(prev.FinalizedAt, next.FinalizedAt) {
		fields = append(fields, "finalized_at")
	}
	if !sameTime(prev.PaidAt, next.PaidAt) {
		fields = append(fields, "paid_at")
	}
	if !sameNullDecimal(prev.PaidAmount, next.PaidAmount) {
		fields = append(fields, "paid_amount")
	}
	if !sameString(prev.PaymentReference, next.PaymentReference) {
		fields = append(fields, "payment_reference")
	}
	return fields
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func sameNullDecimal(a, b decimal.NullDecimal) bool {
	if !a.Valid || !b.Valid {
		return a.Valid == b.Valid
	}
	return a.Decimal.Equal(b.Decimal)
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
