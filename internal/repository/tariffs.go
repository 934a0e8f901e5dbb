package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/septivank/utility-billing-core/internal/tariff"
)

const tariffColumns = `id, provider_id, name, configuration, active_from, active_until, created_at`

func scanTariff(row scanner) (domain.Tariff, error) {
	var (
		t   domain.Tariff
		raw []byte
	)
	if err := row.Scan(&t.ID, &t.ProviderID, &t.Name, &raw, &t.ActiveFrom, &t.ActiveUntil, &t.CreatedAt); err != nil {
		return domain.Tariff{}, err
	}
	cfg, err := domain.UnmarshalConfiguration(raw)
	if err != nil {
		return domain.Tariff{}, apperror.NewConfiguration("tariff %s: %v", t.ID, err)
	}
	t.Configuration = cfg
	return t, nil
}

// GetTariff loads a tariff by id
func (q *queries) GetTariff(ctx context.Context, id uuid.UUID) (domain.Tariff, error) {
	query := `SELECT ` + tariffColumns + ` FROM tariffs WHERE id = $1`

	t, err := scanTariff(q.db.QueryRow(ctx, query, id))
	if apperror.IsConfiguration(err) {
		return domain.Tariff{}, err
	}
	if err != nil {
		return domain.Tariff{}, notFound(err, "tariff", id)
	}
	return t, nil
}

// ListTariffsByProvider lists every tariff of a provider, active or not
func (q *queries) ListTariffsByProvider(ctx context.Context, providerID uuid.UUID) ([]domain.Tariff, error) {
	query := `SELECT ` + tariffColumns + ` FROM tariffs WHERE provider_id = $1 ORDER BY active_from, created_at`

	rows, err := q.db.Query(ctx, query, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tariffs: %w", err)
	}
	tariffs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Tariff, error) {
		return scanTariff(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan tariffs: %w", err)
	}
	return tariffs, nil
}

// CreateTariff validates and inserts a tariff
func (q *queries) CreateTariff(ctx context.Context, t domain.Tariff) error {
	if err := tariff.ValidateTariff(t); err != nil {
		return err
	}
	if t.ProviderID != nil {
		ok, err := q.exists(ctx, `SELECT EXISTS (SELECT 1 FROM providers WHERE id = $1)`, *t.ProviderID)
		if err != nil {
			return fmt.Errorf("failed to check provider: %w", err)
		}
		if !ok {
			return apperror.NewNotFound("provider", *t.ProviderID)
		}
	}

	cfg, err := domain.MarshalConfiguration(t.Configuration)
	if err != nil {
		return apperror.NewValidation("configuration", "%v", err)
	}

	query := `
		INSERT INTO tariffs (id, provider_id, name, configuration, active_from, active_until, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = q.db.Exec(ctx, query, t.ID, t.ProviderID, t.Name, cfg, t.ActiveFrom, t.ActiveUntil, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert tariff: %w", err)
	}
	return nil
}
