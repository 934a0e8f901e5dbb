package reading

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-core/internal/clock"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/septivank/utility-billing-core/internal/store"
	"github.com/shopspring/decimal"
)

// AuditTrail records value corrections of meter readings. Entries are append-only.
type AuditTrail struct {
	store store.Store
	clock clock.Clock
}

func NewAuditTrail(s store.Store, clk clock.Clock) *AuditTrail {
	return &AuditTrail{store: s, clock: clk}
}

// Record appends one audit row inside the caller's transaction
func (a *AuditTrail) Record(ctx context.Context, q store.ReadingQueries, readingID, actorID uuid.UUID, oldValue, newValue decimal.Decimal, reason string) (domain.MeterReadingAudit, error) {
	entry := domain.MeterReadingAudit{
		ID:              uuid.New(),
		MeterReadingID:  readingID,
		ChangedByUserID: actorID,
		OldValue:        oldValue,
		NewValue:        newValue,
		Reason:          reason,
		CreatedAt:       a.clock.Now(),
	}
	if err := q.AppendAudit(ctx, entry); err != nil {
		return domain.MeterReadingAudit{}, fmt.Errorf("failed to append reading audit: %w", err)
	}
	return entry, nil
}

// History returns the corrections of a reading, oldest first
func (a *AuditTrail) History(ctx context.Context, readingID uuid.UUID) ([]domain.MeterReadingAudit, error) {
	var out []domain.MeterReadingAudit
	err := a.store.WithTx(ctx, func(q store.Queries) error {
		if _, err := q.GetReading(ctx, readingID); err != nil {
			return err
		}
		var err error
		out, err = q.ListAudits(ctx, readingID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load reading history: %w", err)
	}
	return out, nil
}
