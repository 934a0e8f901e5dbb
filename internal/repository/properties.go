package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/shopspring/decimal"
)

// GetTenantRenter loads a tenant renter by id
func (q *queries) GetTenantRenter(ctx context.Context, id uuid.UUID) (domain.TenantRenter, error) {
	query := `
		SELECT id, property_id, name, email, created_at
		FROM tenant_renters
		WHERE id = $1
	`

	var r domain.TenantRenter
	err := q.db.QueryRow(ctx, query, id).Scan(&r.ID, &r.PropertyID, &r.Name, &r.Email, &r.CreatedAt)
	if err != nil {
		return domain.TenantRenter{}, notFound(err, "tenant renter", id)
	}
	return r, nil
}

const propertyColumns = `id, building_id, address, area, created_at`

func scanProperty(row scanner) (domain.Property, error) {
	var p domain.Property
	err := row.Scan(&p.ID, &p.BuildingID, &p.Address, &p.Area, &p.CreatedAt)
	return p, err
}

// GetProperty loads a property by id
func (q *queries) GetProperty(ctx context.Context, id uuid.UUID) (domain.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE id = $1`

	p, err := scanProperty(q.db.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Property{}, notFound(err, "property", id)
	}
	return p, nil
}

// ListPropertiesByBuilding lists the properties of a building by address
func (q *queries) ListPropertiesByBuilding(ctx context.Context, buildingID uuid.UUID) ([]domain.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE building_id = $1 ORDER BY address, id`

	rows, err := q.db.Query(ctx, query, buildingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	properties, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Property, error) {
		return scanProperty(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan properties: %w", err)
	}
	return properties, nil
}

// GetBuilding loads a building with its cached summer average
func (q *queries) GetBuilding(ctx context.Context, id uuid.UUID) (domain.Building, error) {
	query := `
		SELECT id, name, address, gyvatukas_summer_average, gyvatukas_last_calculated, created_at
		FROM buildings
		WHERE id = $1
	`

	var b domain.Building
	err := q.db.QueryRow(ctx, query, id).Scan(
		&b.ID,
		&b.Name,
		&b.Address,
		&b.GyvatukasSummerAverage,
		&b.GyvatukasLastCalculated,
		&b.CreatedAt,
	)
	if err != nil {
		return domain.Building{}, notFound(err, "building", id)
	}
	return b, nil
}

// UpdateBuildingGyvatukas stores a freshly calculated summer average
func (q *queries) UpdateBuildingGyvatukas(ctx context.Context, buildingID uuid.UUID, average decimal.Decimal, calculatedAt time.Time) error {
	query := `
		UPDATE buildings
		SET gyvatukas_summer_average = $2, gyvatukas_last_calculated = $3
		WHERE id = $1
	`

	tag, err := q.db.Exec(ctx, query, buildingID, average, calculatedAt)
	if err != nil {
		return fmt.Errorf("failed to update building summer average: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("building", buildingID)
	}
	return nil
}
