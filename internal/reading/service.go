// Package reading records and corrects meter readings.
//
// A value correction writes the new value and exactly one audit row in a
// single transaction, then hands the reading to the recalculation engine so
// DRAFT invoices built from it follow. Date-only corrections are re-validated
// but never recalculate.
package reading

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-core/internal/anomaly"
	"github.com/septivank/utility-billing-core/internal/clock"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/septivank/utility-billing-core/internal/recalc"
	"github.com/septivank/utility-billing-core/internal/store"
	"github.com/septivank/utility-billing-core/internal/validator"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// anomalyWindow is the number of recent consumption deltas compared against
const anomalyWindow = 10

// Recalculator refreshes invoices that snapshot a reading
type Recalculator interface {
	RecalculateForReading(ctx context.Context, readingID uuid.UUID) (recalc.Report, error)
}

// RecordInput is a new reading as entered by a user or a meter gateway
type RecordInput struct {
	MeterID     uuid.UUID
	Zone        string
	Value       decimal.Decimal
	ReadingDate time.Time
	ActorID     uuid.UUID
}

// CorrectInput changes the value and/or the date of an existing reading
type CorrectInput struct {
	ReadingID   uuid.UUID
	Value       *decimal.Decimal
	ReadingDate *time.Time
	ActorID     uuid.UUID
	Reason      string
}

// Correction is the outcome of CorrectReading
type Correction struct {
	Reading domain.MeterReading
	// Audit is nil for date-only corrections.
	Audit         *domain.MeterReadingAudit
	Recalculation *recalc.Report
}

// Service records and corrects meter readings
type Service struct {
	store     store.Store
	validator *validator.Validator
	detector  *anomaly.Detector
	audit     *AuditTrail
	recalc    Recalculator
	clock     clock.Clock
	logger    *zap.Logger
}

func NewService(
	s store.Store,
	v *validator.Validator,
	detector *anomaly.Detector,
	audit *AuditTrail,
	recalculator Recalculator,
	clk clock.Clock,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:     s,
		validator: v,
		detector:  detector,
		audit:     audit,
		recalc:    recalculator,
		clock:     clk,
		logger:    logger,
	}
}

// RecordReading validates and stores a new reading. Consumption spikes are
// flagged in AnomalyReason, never rejected.
func (s *Service) RecordReading(ctx context.Context, in RecordInput) (domain.MeterReading, error) {
	now := s.clock.Now()
	r := domain.MeterReading{
		ID:          uuid.New(),
		MeterID:     in.MeterID,
		Zone:        in.Zone,
		Value:       in.Value,
		ReadingDate: in.ReadingDate,
		EnteredBy:   in.ActorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.store.WithTx(ctx, func(q store.Queries) error {
		meter, err := q.GetMeter(ctx, in.MeterID)
		if err != nil {
			return fmt.Errorf("failed to load meter: %w", err)
		}
		history, err := q.ListReadings(ctx, meter.ID, in.Zone)
		if err != nil {
			return fmt.Errorf("failed to load reading history: %w", err)
		}

		if err := s.validator.ValidateNew(meter, r, history); err != nil {
			return err
		}

		if flagged, reason := s.detector.CheckReading(r, history, anomalyWindow); flagged {
			r.AnomalyReason = &reason
			s.logger.Warn("consumption anomaly detected",
				zap.Stringer("meter_id", meter.ID),
				zap.String("zone", r.Zone),
				zap.String("value", r.Value.String()),
				zap.String("reason", reason),
			)
		}

		if err := q.CreateReading(ctx, r); err != nil {
			return fmt.Errorf("failed to create reading: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.MeterReading{}, err
	}

	s.logger.Debug("reading recorded",
		zap.Stringer("reading_id", r.ID),
		zap.Stringer("meter_id", r.MeterID),
	)
	return r, nil
}

// CorrectReading applies a correction, audits a value change and then
// recalculates DRAFT invoices built from the reading. The correction stays
// committed even if some invoices fail to recalculate; those failures are
// returned alongside the result.
func (s *Service) CorrectReading(ctx context.Context, in CorrectInput) (Correction, error) {
	var result Correction

	err := s.store.WithTx(ctx, func(q store.Queries) error {
		current, err := q.GetReading(ctx, in.ReadingID)
		if err != nil {
			return fmt.Errorf("failed to load reading: %w", err)
		}
		meter, err := q.GetMeter(ctx, current.MeterID)
		if err != nil {
			return fmt.Errorf("failed to load meter: %w", err)
		}
		history, err := q.ListReadings(ctx, meter.ID, current.Zone)
		if err != nil {
			return fmt.Errorf("failed to load reading history: %w", err)
		}

		updated := current
		if in.Value != nil {
			updated.Value = *in.Value
		}
		if in.ReadingDate != nil {
			updated.ReadingDate = *in.ReadingDate
		}
		updated.EnteredBy = in.ActorID

		valueChanged := !updated.Value.Equal(current.Value)
		if !valueChanged && updated.ReadingDate.Equal(current.ReadingDate) {
			result.Reading = current
			return nil
		}

		if err := s.validator.ValidateCorrection(meter, current, updated, in.Reason, history); err != nil {
			return err
		}

		updated.UpdatedAt = s.clock.Now()
		if err := q.UpdateReading(ctx, updated); err != nil {
			return fmt.Errorf("failed to update reading: %w", err)
		}
		result.Reading = updated

		if valueChanged {
			entry, err := s.audit.Record(ctx, q, current.ID, in.ActorID, current.Value, updated.Value, in.Reason)
			if err != nil {
				return err
			}
			result.Audit = &entry
		}
		return nil
	})
	if err != nil {
		return Correction{}, err
	}

	// A redelivered correction finds the value already stored, so the cascade
	// runs whenever a value was supplied. Unchanged items are not rewritten.
	if in.Value == nil {
		return result, nil
	}

	report, err := s.recalc.RecalculateForReading(ctx, in.ReadingID)
	result.Recalculation = &report
	if err != nil {
		return result, fmt.Errorf("reading corrected but recalculation failed: %w", err)
	}

	s.logger.Info("reading corrected",
		zap.Stringer("reading_id", in.ReadingID),
		zap.Int("invoices_recalculated", len(report.Changed)),
		zap.Int("invoices_skipped", len(report.Skipped)),
	)
	return result, nil
}
