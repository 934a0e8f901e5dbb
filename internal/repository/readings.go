package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/domain"
)

const meterColumns = `id, property_id, serial_number, service_kind, supports_zones,
	provider_id, tariff_id, reading_structure, created_at`

func scanMeter(row scanner) (domain.Meter, error) {
	var m domain.Meter
	err := row.Scan(
		&m.ID,
		&m.PropertyID,
		&m.Serial,
		&m.Kind,
		&m.SupportsZones,
		&m.ProviderID,
		&m.TariffID,
		&m.ReadingStructure,
		&m.CreatedAt,
	)
	return m, err
}

// GetMeter loads a meter by id
func (q *queries) GetMeter(ctx context.Context, id uuid.UUID) (domain.Meter, error) {
	query := `SELECT ` + meterColumns + ` FROM meters WHERE id = $1`

	m, err := scanMeter(q.db.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Meter{}, notFound(err, "meter", id)
	}
	return m, nil
}

// ListMetersByProperty lists the meters installed in a property
func (q *queries) ListMetersByProperty(ctx context.Context, propertyID uuid.UUID) ([]domain.Meter, error) {
	query := `SELECT ` + meterColumns + ` FROM meters WHERE property_id = $1 ORDER BY serial_number`

	rows, err := q.db.Query(ctx, query, propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query meters: %w", err)
	}
	meters, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Meter, error) {
		return scanMeter(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan meters: %w", err)
	}
	return meters, nil
}

const readingColumns = `id, meter_id, zone, value, reading_date, entered_by,
	anomaly_reason, created_at, updated_at`

func scanReading(row scanner) (domain.MeterReading, error) {
	var r domain.MeterReading
	err := row.Scan(
		&r.ID,
		&r.MeterID,
		&r.Zone,
		&r.Value,
		&r.ReadingDate,
		&r.EnteredBy,
		&r.AnomalyReason,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	return r, err
}

func collectReadings(rows pgx.Rows) ([]domain.MeterReading, error) {
	readings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.MeterReading, error) {
		return scanReading(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan meter readings: %w", err)
	}
	return readings, nil
}

// GetReading loads a reading by id
func (q *queries) GetReading(ctx context.Context, id uuid.UUID) (domain.MeterReading, error) {
	query := `SELECT ` + readingColumns + ` FROM meter_readings WHERE id = $1`

	r, err := scanReading(q.db.QueryRow(ctx, query, id))
	if err != nil {
		return domain.MeterReading{}, notFound(err, "meter reading", id)
	}
	return r, nil
}

// CreateReading inserts a reading
func (q *queries) CreateReading(ctx context.Context, r domain.MeterReading) error {
	ok, err := q.exists(ctx, `SELECT EXISTS (SELECT 1 FROM meters WHERE id = $1)`, r.MeterID)
	if err != nil {
		return fmt.Errorf("failed to check meter: %w", err)
	}
	if !ok {
		return apperror.NewNotFound("meter", r.MeterID)
	}

	query := `
		INSERT INTO meter_readings (
			id, meter_id, zone, value, reading_date, entered_by,
			anomaly_reason, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = q.db.Exec(ctx, query,
		r.ID,
		r.MeterID,
		r.Zone,
		r.Value,
		r.ReadingDate,
		r.EnteredBy,
		r.AnomalyReason,
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert meter reading: %w", err)
	}
	return nil
}

// UpdateReading rewrites the corrected fields of a reading
func (q *queries) UpdateReading(ctx context.Context, r domain.MeterReading) error {
	query := `
		UPDATE meter_readings
		SET value = $2, reading_date = $3, entered_by = $4, updated_at = $5
		WHERE id = $1
	`

	tag, err := q.db.Exec(ctx, query, r.ID, r.Value, r.ReadingDate, r.EnteredBy, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update meter reading: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("meter reading", r.ID)
	}
	return nil
}

// ListReadings lists the readings of one (meter, zone) in reading order
func (q *queries) ListReadings(ctx context.Context, meterID uuid.UUID, zone string) ([]domain.MeterReading, error) {
	query := `
		SELECT ` + readingColumns + `
		FROM meter_readings
		WHERE meter_id = $1 AND zone = $2
		ORDER BY reading_date, created_at
	`

	rows, err := q.db.Query(ctx, query, meterID, zone)
	if err != nil {
		return nil, fmt.Errorf("failed to query meter readings: %w", err)
	}
	return collectReadings(rows)
}

// ListReadingZones lists the zones a meter has readings for
func (q *queries) ListReadingZones(ctx context.Context, meterID uuid.UUID) ([]string, error) {
	query := `SELECT DISTINCT zone FROM meter_readings WHERE meter_id = $1 ORDER BY zone`

	rows, err := q.db.Query(ctx, query, meterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reading zones: %w", err)
	}
	zones, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan reading zones: %w", err)
	}
	return zones, nil
}

// LatestReadingAtOrBefore finds the newest reading of (meter, zone) not after at
func (q *queries) LatestReadingAtOrBefore(ctx context.Context, meterID uuid.UUID, zone string, at time.Time) (domain.MeterReading, bool, error) {
	query := `
		SELECT ` + readingColumns + `
		FROM meter_readings
		WHERE meter_id = $1 AND zone = $2 AND reading_date <= $3
		ORDER BY reading_date DESC, created_at DESC
		LIMIT 1
	`

	r, err := scanReading(q.db.QueryRow(ctx, query, meterID, zone, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MeterReading{}, false, nil
	}
	if err != nil {
		return domain.MeterReading{}, false, fmt.Errorf("failed to query latest reading: %w", err)
	}
	return r, true, nil
}

// AppendAudit inserts an audit row for a corrected reading
func (q *queries) AppendAudit(ctx context.Context, a domain.MeterReadingAudit) error {
	query := `
		INSERT INTO meter_reading_audits (
			id, meter_reading_id, changed_by_user_id, old_value, new_value, change_reason, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := q.db.Exec(ctx, query,
		a.ID,
		a.MeterReadingID,
		a.ChangedByUserID,
		a.OldValue,
		a.NewValue,
		a.Reason,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading audit: %w", err)
	}
	return nil
}

// ListAudits lists the audit rows of a reading, oldest first
func (q *queries) ListAudits(ctx context.Context, readingID uuid.UUID) ([]domain.MeterReadingAudit, error) {
	query := `
		SELECT id, meter_reading_id, changed_by_user_id, old_value, new_value, change_reason, created_at
		FROM meter_reading_audits
		WHERE meter_reading_id = $1
		ORDER BY created_at, id
	`

	rows, err := q.db.Query(ctx, query, readingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reading audits: %w", err)
	}
	audits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.MeterReadingAudit, error) {
		var a domain.MeterReadingAudit
		err := row.Scan(&a.ID, &a.MeterReadingID, &a.ChangedByUserID, &a.OldValue, &a.NewValue, &a.Reason, &a.CreatedAt)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan reading audits: %w", err)
	}
	return audits, nil
}
