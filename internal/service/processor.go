package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-core/internal/apperror"
	"github.com/septivank/utility-billing-core/internal/billing"
	"github.com/septivank/utility-billing-core/internal/clock"
	"github.com/septivank/utility-billing-core/internal/domain"
	"github.com/septivank/utility-billing-core/internal/gyvatukas"
	"github.com/septivank/utility-billing-core/internal/invoice"
	"github.com/septivank/utility-billing-core/internal/logging"
	"github.com/septivank/utility-billing-core/internal/mq"
	"github.com/septivank/utility-billing-core/internal/reading"
	"github.com/septivank/utility-billing-core/internal/tariff"
	"github.com/septivank/utility-billing-core/internal/validator"
	"github.com/septivank/utility-billing-core/tools/timeparser"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Command names
const (
	CommandRecordReading      = "reading.record"
	CommandCorrectReading     = "reading.correct"
	CommandCreateTariff       = "tariff.create"
	CommandGenerateInvoice    = "invoice.generate"
	CommandFinalizeInvoice    = "invoice.finalize"
	CommandPayInvoice         = "invoice.pay"
	CommandCalculateGyvatukas = "gyvatukas.calculate"
	CommandSummerAverage      = "gyvatukas.summer_average"
	CommandDistribute         = "gyvatukas.distribute"
)

// Event types
const (
	EventReadingRecorded      = "reading.recorded"
	EventReadingCorrected     = "reading.corrected"
	EventTariffCreated        = "tariff.created"
	EventInvoiceGenerated     = "invoice.generated"
	EventInvoiceRecalculated  = "invoice.recalculated"
	EventInvoiceFinalized     = "invoice.finalized"
	EventInvoicePaid          = "invoice.paid"
	EventGyvatukasCalculated  = "gyvatukas.calculated"
	EventSummerAverageUpdated = "gyvatukas.summer_average_updated"
	EventCostDistributed      = "gyvatukas.distributed"
)

// CommandMessage is the envelope of every command consumed from RabbitMQ
type CommandMessage struct {
	RequestID string          `json:"request_id"`
	Command   string          `json:"command"`
	ActorID   uuid.UUID       `json:"actor_id"`
	Payload   json.RawMessage `json:"payload"`
}

// EventPublisher publishes billing events
type EventPublisher interface {
	PublishEvent(ctx context.Context, event mq.Event) error
}

// ProcessorService decodes commands, runs them and publishes the resulting
// events once the owning transaction has committed.
type ProcessorService struct {
	readings  *reading.Service
	catalog   *tariff.Catalog
	billing   *billing.Service
	invoices  *invoice.Lifecycle
	gyvatukas *gyvatukas.Calculator
	validator *validator.Validator
	publisher EventPublisher
	clock     clock.Clock
	logger    *zap.Logger
}

// Deps groups the collaborators of ProcessorService
type Deps struct {
	Readings  *reading.Service
	Catalog   *tariff.Catalog
	Billing   *billing.Service
	Invoices  *invoice.Lifecycle
	Gyvatukas *gyvatukas.Calculator
	Validator *validator.Validator
	Publisher EventPublisher
	Clock     clock.Clock
	Logger    *zap.Logger
}

// NewProcessorService creates a new processor service
func NewProcessorService(d Deps) *ProcessorService {
	return &ProcessorService{
		readings:  d.Readings,
		catalog:   d.Catalog,
		billing:   d.Billing,
		invoices:  d.Invoices,
		gyvatukas: d.Gyvatukas,
		validator: d.Validator,
		publisher: d.Publisher,
		clock:     d.Clock,
		logger:    d.Logger,
	}
}

type handlerFunc func(ctx context.Context, cmd CommandMessage) ([]mq.Event, error)

// ProcessMessage processes one command message
func (s *ProcessorService) ProcessMessage(ctx context.Context, body []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(body, &cmd); err != nil {
		return apperror.NewValidation("body", "failed to unmarshal command: %v", err)
	}

	reqLogger := logging.WithRequestID(s.logger, cmd.RequestID).With(zap.String("command", cmd.Command))
	reqLogger.Info("processing command", zap.Stringer("actor_id", cmd.ActorID))

	handler, ok := s.handlers()[cmd.Command]
	if !ok {
		return apperror.NewValidation("command", "unknown command %q", cmd.Command)
	}

	events, err := handler(ctx, cmd)

	// Events describe committed state, so they go out even when a later step failed.
	now := s.clock.Now()
	for _, event := range events {
		event.ID = uuid.NewString()
		event.RequestID = cmd.RequestID
		event.OccurredAt = now
		if pubErr := s.publisher.PublishEvent(ctx, event); pubErr != nil {
			// Log error but don't fail the entire command
			reqLogger.Error("failed to publish event",
				zap.Error(pubErr),
				zap.String("event_type", event.Type),
			)
		}
	}

	if err != nil {
		reqLogger.Error("command failed", zap.Error(err))
		return fmt.Errorf("failed to process %s: %w", cmd.Command, err)
	}

	reqLogger.Info("command processed successfully", zap.Int("events", len(events)))
	return nil
}

func (s *ProcessorService) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		CommandRecordReading:      s.recordReading,
		CommandCorrectReading:     s.correctReading,
		CommandCreateTariff:       s.createTariff,
		CommandGenerateInvoice:    s.generateInvoice,
		CommandFinalizeInvoice:    s.finalizeInvoice,
		CommandPayInvoice:         s.payInvoice,
		CommandCalculateGyvatukas: s.calculateGyvatukas,
		CommandSummerAverage:      s.summerAverage,
		CommandDistribute:         s.distribute,
	}
}

func decodePayload(cmd CommandMessage, v any) error {
	if len(cmd.Payload) == 0 {
		return apperror.NewValidation("payload", "is required for %s", cmd.Command)
	}
	if err := json.Unmarshal(cmd.Payload, v); err != nil {
		return apperror.NewValidation("payload", "invalid %s payload: %v", cmd.Command, err)
	}
	return nil
}

func parseDate(field, value string) (time.Time, error) {
	t, err := timeparser.ParseMeterTimestamp(value)
	if err != nil {
		return time.Time{}, apperror.NewValidation(field, "%v", err)
	}
	return t.UTC(), nil
}

// =============================================================================
// READINGS
// =============================================================================

// RecordReadingPayload is the payload of reading.record. Value and date are
// kept as received from the meter gateway, e.g. "[1234.5]" and "02/01/2025 08:00:00".
type RecordReadingPayload struct {
	MeterID uuid.UUID `json:"meter_id"`
	Zone    string    `json:"zone"`
	Value   string    `json:"value"`
	Date    string    `json:"date"`
}

// ReadingEventData is published with reading.recorded and reading.corrected
type ReadingEventData struct {
	ReadingID     uuid.UUID       `json:"reading_id"`
	MeterID       uuid.UUID       `json:"meter_id"`
	Zone          string          `json:"zone,omitempty"`
	Value         decimal.Decimal `json:"value"`
	ReadingDate   time.Time       `json:"reading_date"`
	AnomalyReason *string         `json:"anomaly_reason,omitempty"`
	OldValue      *string         `json:"old_value,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

func readingEvent(eventType string, r domain.MeterReading) mq.Event {
	return mq.Event{
		Type: eventType,
		Data: ReadingEventData{
			ReadingID:     r.ID,
			MeterID:       r.MeterID,
			Zone:          r.Zone,
			Value:         r.Value,
			ReadingDate:   r.ReadingDate,
			AnomalyReason: r.AnomalyReason,
		},
	}
}

func (s *ProcessorService) recordReading(ctx context.Context, cmd CommandMessage) ([]mq.Event, error) {
	var p RecordReadingPayload
	if err := decodePayload(cmd, &p); err != nil {
		return nil, err
	}
	value, at, err := s.validator.ParseRawReading(validator.RawReading{Date: p.Date, Value: p.Value})
	if err != nil {
		return nil, err
	}

	r, err := s.readings.RecordReading(ctx, reading.RecordInput{
		MeterID:     p.MeterID,
		Zone:        p.Zone,
		Value:       value,
		ReadingDate: at,
		ActorID:     cmd.ActorID,
	})
	if err != nil {
		return nil, err
	}
	return []mq.Event{readingEvent(EventReadingRecorded, r)}, nil
}

// CorrectReadingPayload is the payload of reading.correct
type CorrectReadingPayload struct {
	ReadingID uuid.UUID        `json:"reading_id"`
	Value     *decimal.Decimal `json:"value,omitempty"`
	Date      string           `json:"date,omitempty"`
	Reason    string           `json:"reason"`
}

// RecalculatedEventData is published for every DRAFT invoice a correction changed
type RecalculatedEventData struct {
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	ReadingID     uuid.UUID       `json:"reading_id"`
	PreviousTotal decimal.Decimal `json:"previous_total"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	ItemsUpdated  int             `json:"items_updated"`
}

func (s *ProcessorService) correctReading(ctx context.Context, cmd CommandMessage) ([]mq.Event, error) {
	var p CorrectReadingPayload
	if err := decodePayload(cmd, &p); err != nil {
		return nil, err
	}
	in := reading.CorrectInput{
		ReadingID: p.ReadingID,
		Value:     p.Value,
		ActorID:   cmd.ActorID,
		Reason:    p.Reason,
	}
	if p.Date != "" {
		at, err := parseDate("date", p.Date)
		if err != nil {
			return nil, err
		}
		in.ReadingDate = &at
	}
	if in.Value == nil && in.ReadingDate == nil {
		return nil, apperror.NewValidation("payload", "value or date is required")
	}

	res, err := s.readings.CorrectReading(ctx, in)
	if res.Reading.ID == uuid.Nil {
		return nil, err
	}

	event := readingEvent(EventReadingCorrected, res.Reading)
	if res.Audit != nil {
		data := event.Data.(ReadingEventData)
		old := res.Audit.OldValue.String()
		data.OldValue = &old
		data.Reason = res.Audit.Reason
		event.Data = data
	}
	events := []mq.Event{event}

	if res.Recalculation != nil {
		for _, change := range res.Recalculation.Changed {
			events = append(events, mq.Event{
				Type: EventInvoiceRecalculated,
				Data: RecalculatedEventData{
					InvoiceID:     change.InvoiceID,
					ReadingID:     res.Recalculation.ReadingID,
					PreviousTotal: change.PreviousTotal,
					TotalAmount:   change.Total,
					ItemsUpdated:  change.ItemsUpdated,
				},
			})
		}
	}
	return events, err
}

// =============================================================================
// TARIFFS
// =============================================================================

// CreateTariffPayload is the payload of tariff.create
type CreateTariffPayload struct {
	ProviderID    *uuid.UUID      `json:"provider_id,omitempty"`
	Name          string          `json:"name"`
	Configuration json.RawMessage `json:"configuration"`
	ActiveFrom    string          `json:"active_from"`
	ActiveUntil   string          `json:"active_until,omitempty"`
}

// TariffEventData is published with tariff.created
type TariffEventData struct {
	TariffID    uuid.UUID         `json:"tariff_id"`
	ProviderID  *uuid.UUID        `json:"provider_id,omitempty"`
	Type        domain.ConfigType `json:"type"`
	ActiveFrom  time.Time         `json:"active_from"`
	ActiveUntil *time.Time        `json:"active_until,omitempty"`
}

func (s *ProcessorService) createTariff(ctx context.Context, cmd CommandMessage) ([]mq.Event, error) {
	var p CreateTariffPayload
	if err := decodePayload(cmd, &p); err != nil {
		return nil, err
	}
	cfg, err := domain.UnmarshalConfiguration(p.Configuration)
	if err != nil {
		return nil, apperror.NewValidation("configuration", "%v", err)
	}
	from, err := parseDate("active_from", p.ActiveFrom)
	if err != nil {
		return nil, err
	}
	t := domain.Tariff{
		ProviderID:    p.ProviderID,
		Name:          p.Name,
		Configuration: cfg,
		ActiveFrom:    from,
	}
	if p.ActiveUntil != "" {
		until, err := parseDate("active_until", p.ActiveUntil)
		if err != nil {
			return nil, err
		}
		t.ActiveUntil = &until
	}

	created, err := s.catalog.Create(ctx, t)
	if err != nil {
		return nil, err
	}
	return []mq.Event{{
		Type: EventTariffCreated,
		Data: TariffEventData{
			TariffID:    created.ID,
			ProviderID:  created.ProviderID,
			Type:        created.Configuration.Type(),
			ActiveFrom:  created.ActiveFrom,
			ActiveUntil: created.ActiveUntil,
		},
	}}, nil
}

// =============================================================================
// INVOICES
// =============================================================================

// GenerateInvoicePayload is the payload of invoice.generate
type GenerateInvoicePayload struct {
	TenantRenterID uuid.UUID `json:"tenant_renter_id"`
	PeriodStart    string    `json:"period_start"`
	PeriodEnd      string    `json:"period_end"`
}

// InvoicePayload identifies an invoice
type InvoicePayload struct {
	InvoiceID uuid.UUID `json:"invoice_id"`
}

// PayInvoicePayload is the payload of invoice.pay
type PayInvoicePayload struct {
	InvoiceID uuid.UUID       `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
	PaidAt    string          `json:"paid_at,omitempty"`
}

// InvoiceEventData is published on every invoice lifecycle step
type InvoiceEventData struct {
	InvoiceID        uuid.UUID            `json:"invoice_id"`
	TenantRenterID   uuid.UUID            `json:"tenant_renter_id"`
	PropertyID       uuid.UUID            `json:"property_id"`
	Status           domain.InvoiceStatus `json:"status"`
	PeriodStart      time.Time            `json:"period_start"`
	PeriodEnd        time.Time            `json:"period_end"`
	TotalAmount      decimal.Decimal      `json:"total_amount"`
	Currency         string               `json:"currency"`
	Items            int                  `json:"items"`
	FinalizedAt      *time.Time           `json:"finalized_at,omitempty"`
	PaidAt           *time.Time           `json:"paid_at,omitempty"`
	PaidAmount       decimal.NullDecimal  `json:"paid_amount"`
	PaymentReference *string              `json:"payment_reference,omitempty"`
}

func invoiceEvent(eventType string, inv domain.Invoice) mq.Event {
	return mq.Event{
		Type: eventType,
		Data: InvoiceEventData{
			InvoiceID:        inv.ID,
			TenantRenterID:   inv.TenantRenterID,
			PropertyID:       inv.PropertyID,
			Status:           inv.Status,
			PeriodStart:      inv.PeriodStart,
			PeriodEnd:        inv.PeriodEnd,
			TotalAmount:      inv.TotalAmount,
			Currency:         inv.Currency,
			Items:            len(inv.Items),
			FinalizedAt:      inv.FinalizedAt,
			PaidAt:           inv.PaidAt,
			PaidAmount:       inv.PaidAmount,
			PaymentReference: inv.PaymentReference,
		},
	}
}

func (s *ProcessorService) generateInvoice(ctx context.Context, cmd CommandMessage) ([]mq.Event, error) {
	var p GenerateInvoicePayload
	if err := decodePayload(cmd, &p); err != nil {
		return nil, err
	}
	start, err := parseDate("period_start", p.PeriodStart)
	if err != nil {
		return nil, err
	}
	end, err := parseDate("period_end", p.PeriodEnd)
	if err != nil {
		return nil, err
	}

	inv, err := s.billing.GenerateInvoice(ctx, p.TenantRenterID, start, end)
	if err != nil {
		return nil, err
	}
	return []mq.Event{invoiceEvent(EventInvoiceGenerated, inv)}, nil
}

func (s *ProcessorService) finalizeInvoice(ctx context.Context, cmd CommandMessage) ([]mq.Event, error) {
	var p InvoicePayload
	if err := decodePayload(cmd, &p); err != nil {
		return nil, err
	}
	inv, err := s.billing.Finalize(ctx, p.InvoiceID)
	if err != nil {
		return nil, err
	}
	return []mq.Event{invoiceEvent(EventInvoiceFinalized, inv)}, nil
}

func (s *ProcessorService) payInvoice(ctx context.Context, cmd CommandMessage) ([]mq.Event, error) {
	var p PayInvoicePayload
	if err := decodePayload(cmd, &p); err != nil {
		return nil, err
	}
	payment := invoice.Payment{Amount: p.Amount, Reference: p.Reference}
	if p.PaidAt != "" {
		at, err := parseDate("paid_at", p.PaidAt)
		if err != nil {
			return nil, err
		}
		payment.PaidAt = at
	}

	inv, err := s.invoices.MarkPaid(ctx, p.InvoiceID, payment)
	if err != nil {
		return nil, err
	}
	return []mq.Event{invoiceEvent(EventInvoicePaid, inv)}, nil
}

// =============================================================================
// GYVATUKAS
// =============================================================================

// CalculateGyvatukasPayload is the payload of gyvatukas.calculate
type CalculateGyvatukasPayload struct {
	BuildingID uuid.UUID `json:"building_id"`
	Month      string    `json:"month"`
}

// SummerAveragePayload is the payload of gyvatukas.summer_average
type SummerAveragePayload struct {
	BuildingID uuid.UUID `json:"building_id"`
	Start      string    `json:"start"`
	End        string    `json:"end"`
}

// DistributePayload is the payload of gyvatukas.distribute
type DistributePayload struct {
	BuildingID uuid.UUID       `json:"building_id"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	Method     string          `json:"method,omitempty"`
}

// GyvatukasEventData is published with gyvatukas.calculated
type GyvatukasEventData struct {
	BuildingID     uuid.UUID       `json:"building_id"`
	Month          time.Time       `json:"month"`
	HeatingSeason  bool            `json:"heating_season"`
	EnergyKWh      decimal.Decimal `json:"energy_kwh"`
	NegativeEnergy bool            `json:"negative_energy_warning"`
	Degraded       bool            `json:"missing_summer_average"`
}

// SummerAverageEventData is published with gyvatukas.summer_average_updated
type SummerAverageEventData struct {
	BuildingID uuid.UUID       `json:"building_id"`
	Start      time.Time       `json:"start"`
	End        time.Time       `json:"end"`
	AverageKWh decimal.Decimal `json:"average_kwh"`
}

// DistributionEventData is published with gyvatukas.distributed
type DistributionEventData struct {
	BuildingID uuid.UUID         `json:"building_id"`
	TotalCost  decimal.Decimal   `json:"total_cost"`
	Method     string            `json:"method"`
	Shares     []gyvatukas.Share `json:"shares"`
}

func (s *ProcessorService) calculateGyvatukas(ctx context.Context, cmd CommandMessage) ([]mq.Event, error) {
	var p CalculateGyvatukasPayload
	if err := decodePayload(cmd, &p); err != nil {
		return nil, err
	}
	month, err := parseDate("month", p.Month)
	if err != nil {
		return nil, err
	}

	circ, err := s.gyvatukas.Calculate(ctx, p.BuildingID, month)
	if err != nil {
		return nil, err
	}
	return []mq.Event{{
		Type: EventGyvatukasCalculated,
		Data: GyvatukasEventData{
			BuildingID:     circ.BuildingID,
			Month:          circ.Month,
			HeatingSeason:  circ.HeatingSeason,
			EnergyKWh:      circ.Energy,
			NegativeEnergy: circ.Energy.IsNegative(),
			Degraded:       circ.Degraded,
		},
	}}, nil
}

func (s *ProcessorService) summerAverage(ctx context.Context, cmd CommandMessage) ([]mq.Event, error) {
	var p SummerAveragePayload
	if err := decodePayload(cmd, &p); err != nil {
		return nil, err
	}
	start, err := parseDate("start", p.Start)
	if err != nil {
		return nil, err
	}
	end, err := parseDate("end", p.End)
	if err != nil {
		return nil, err
	}

	avg, err := s.gyvatukas.CalculateSummerAverage(ctx, p.BuildingID, start, end)
	if err != nil {
		return nil, err
	}
	return []mq.Event{{
		Type: EventSummerAverageUpdated,
		Data: SummerAverageEventData{BuildingID: p.BuildingID, Start: start, End: end, AverageKWh: avg},
	}}, nil
}

func (s *ProcessorService) distribute(ctx context.Context, cmd CommandMessage) ([]mq.Event, error) {
	var p DistributePayload
	if err := decodePayload(cmd, &p); err != nil {
		return nil, err
	}
	if p.TotalCost.IsNegative() {
		return nil, apperror.NewValidation("total_cost", "must not be negative")
	}

	shares, err := s.gyvatukas.DistributeCirculationCost(ctx, p.BuildingID, p.TotalCost, p.Method)
	if err != nil {
		return nil, err
	}
	return []mq.Event{{
		Type: EventCostDistributed,
		Data: DistributionEventData{BuildingID: p.BuildingID, TotalCost: p.TotalCost, Method: p.Method, Shares: shares},
	}}, nil
}
