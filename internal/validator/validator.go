package validator

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/clock"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/septivank/utility-billing-core/tools/timeparser"
	"github.com/shopspring/decimal"
)

// ReadingValidationError rejects a meter reading before it is persisted
type ReadingValidationError struct {
	MeterID uuid.UUID
	Zone    string
	Field   string
	Reason  string
}

func (e *ReadingValidationError) Error() string {
	if e.Zone != "" {
		return fmt.Sprintf("invalid reading for meter %s zone %s: %s %s", e.MeterID, e.Zone, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid reading for meter %s: %s %s", e.MeterID, e.Field, e.Reason)
}

func (e *ReadingValidationError) Unwrap() error {
	return apperror.ErrValidation
}

// RawReading is a reading as it arrives on the wire
type RawReading struct {
	Date  string
	Value string
}

// Validator checks meter readings against the reading invariants
type Validator struct {
	clock                 clock.Clock
	changeReasonMinLength int
}

// NewValidator creates a new validator with the given minimum change reason length
func NewValidator(clk clock.Clock, changeReasonMinLength int) *Validator {
	return &Validator{
		clock:                 clk,
		changeReasonMinLength: changeReasonMinLength,
	}
}

// ParseRawReading parses the value and timestamp of a wire reading
func (v *Validator) ParseRawReading(raw RawReading) (decimal.Decimal, time.Time, error) {
	// Strip square brackets if present
	dataValue := strings.TrimSpace(strings.Trim(raw.Value, "[]"))
	value, err := decimal.NewFromString(dataValue)
	if err != nil {
		return decimal.Zero, time.Time{}, apperror.NewValidation("value", "invalid reading value %q", raw.Value)
	}

	readingTime, err := timeparser.ParseMeterTimestamp(raw.Date)
	if err != nil {
		return decimal.Zero, time.Time{}, apperror.NewValidation("reading_date", "%v", err)
	}

	return value, readingTime.UTC(), nil
}

// ValidateNew checks a reading about to be recorded. history holds the
// existing readings of the same (meter, zone).
func (v *Validator) ValidateNew(meter domain.Meter, r domain.MeterReading, history []domain.MeterReading) error {
	if err := v.validateShape(meter, r); err != nil {
		return err
	}
	return v.validateOrder(meter, r, history)
}

// ValidateCorrection checks an update of current into updated. A value change
// requires a change reason of the configured minimum length.
func (v *Validator) ValidateCorrection(meter domain.Meter, current, updated domain.MeterReading, reason string, history []domain.MeterReading) error {
	if !updated.Value.Equal(current.Value) {
		if len(strings.TrimSpace(reason)) < v.changeReasonMinLength {
			return &ReadingValidationError{
				MeterID: meter.ID,
				Zone:    current.Zone,
				Field:   "change_reason",
				Reason:  fmt.Sprintf("must be at least %d characters", v.changeReasonMinLength),
			}
		}
	}
	if err := v.validateShape(meter, updated); err != nil {
		return err
	}
	return v.validateOrder(meter, updated, history)
}

func (v *Validator) validateShape(meter domain.Meter, r domain.MeterReading) error {
	fail := func(field, reason string) error {
		return &ReadingValidationError{MeterID: meter.ID, Zone: r.Zone, Field: field, Reason: reason}
	}

	if r.EnteredBy == uuid.Nil {
		return fail("entered_by", "is required")
	}
	if r.ReadingDate.IsZero() {
		return fail("reading_date", "is required")
	}
	if timeparser.IsFuture(r.ReadingDate, v.clock.Now()) {
		return fail("reading_date", "must not be in the future")
	}
	if r.Value.IsNegative() {
		return fail("value", "must not be negative")
	}
	if r.Zone != "" && !meter.SupportsZones {
		return fail("zone", "meter does not support zones")
	}
	return nil
}

// validateOrder keeps values non-decreasing in reading date order against
// both the preceding and the following reading of the same zone.
func (v *Validator) validateOrder(meter domain.Meter, r domain.MeterReading, history []domain.MeterReading) error {
	prev, next := neighbours(r, history)

	if prev != nil && r.Value.LessThan(prev.Value) {
		return &ReadingValidationError{
			MeterID: meter.ID,
			Zone:    r.Zone,
			Field:   "value",
			Reason: fmt.Sprintf("%s is lower than the previous reading %s of %s",
				r.Value, prev.Value, prev.ReadingDate.Format(time.RFC3339)),
		}
	}
	if next != nil && r.Value.GreaterThan(next.Value) {
		return &ReadingValidationError{
			MeterID: meter.ID,
			Zone:    r.Zone,
			Field:   "value",
			Reason: fmt.Sprintf("%s is higher than the next reading %s of %s",
				r.Value, next.Value, next.ReadingDate.Format(time.RFC3339)),
		}
	}
	return nil
}

func neighbours(r domain.MeterReading, history []domain.MeterReading) (prev, next *domain.MeterReading) {
	for i := range history {
		h := &history[i]
		if h.ID == r.ID || h.Zone != r.Zone {
			continue
		}
		if !h.ReadingDate.After(r.ReadingDate) {
			if prev == nil || !h.ReadingDate.Before(prev.ReadingDate) {
				prev = h
			}
			continue
		}
		if next == nil || h.ReadingDate.Before(next.ReadingDate) {
			next = h
		}
	}
	return prev, next
}
