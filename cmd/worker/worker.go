package main

import (
	"context"

	"github.com/septivank/utility-billing-core/internal/anomaly"
	"github.com/septivank/utility-billing-core/internal/billing"
	"github.com/septivank/utility-billing-core/internal/clock"
	"github.com/septivank/utility-billing-core/internal/config"
	"github.com/septivank/utility-billing-core/internal/db"
	"github.com/septivank/utility-billing-core/internal/gyvatukas"
	"github.com/septivank/utility-billing-core/internal/invoice"
	"github.com/septivank/utility-billing-core/internal/mq"
	"github.com/septivank/utility-billing-core/internal/reading"
	"github.com/septivank/utility-billing-core/internal/recalc"
	"github.com/septivank/utility-billing-core/internal/repository"
	"github.com/septivank/utility-billing-core/internal/service"
	"github.com/septivank/utility-billing-core/internal/store"
	"github.com/septivank/utility-billing-core/internal/tariff"
	"github.com/septivank/utility-billing-core/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	processor *service.ProcessorService,
) (*mq.Consumer, error) {
	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection: conn,
		Topology: mq.Topology{
			Exchange:   cfg.RabbitMQ.CommandExchange,
			Queue:      cfg.RabbitMQ.CommandQueue,
			RoutingKey: cfg.RabbitMQ.CommandRoutingKey,
			DLQ:        cfg.RabbitMQ.DLQQueue,
		},
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		Logger:        logger,
		Handler:       processor.ProcessMessage,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	// Register lifecycle hooks
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting billing worker",
				zap.String("queue", cfg.RabbitMQ.CommandQueue),
				zap.String("routing_key", cfg.RabbitMQ.CommandRoutingKey),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount),
				zap.String("tariff_location", cfg.Billing.TariffLocation.String()),
			)
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("worker stopped gracefully")
			return nil
		},
	})

	return consumer, nil
}

// ProvideClock returns the wall clock
func ProvideClock() clock.Clock {
	return clock.System()
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database)
}

// ProvideStore exposes the PostgreSQL repository as the store
func ProvideStore(pool *db.Pool) store.Store {
	return repository.NewRepository(pool)
}

// ProvideTariffCalculator builds the pricing strategies for the configured tariff location
func ProvideTariffCalculator(cfg *config.Config) *tariff.Calculator {
	return tariff.NewDefaultCalculator(tariff.WithLocation(cfg.Billing.TariffLocation))
}

// ProvideTariffResolver creates the tariff resolver
func ProvideTariffResolver(calc *tariff.Calculator) *tariff.Resolver {
	return tariff.NewResolver(calc)
}

// ProvideTariffCatalog creates the tariff catalog
func ProvideTariffCatalog(s store.Store, clk clock.Clock) *tariff.Catalog {
	return tariff.NewCatalog(s, clk)
}

// ProvideAnomalyDetector creates a new anomaly detector instance
func ProvideAnomalyDetector(cfg *config.Config) *anomaly.Detector {
	return anomaly.NewDetector(cfg.Anomaly.SpikeThreshold, cfg.Anomaly.MinDataPointsForDetection)
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config, clk clock.Clock) *validator.Validator {
	return validator.NewValidator(clk, cfg.Billing.ChangeReasonMinLength)
}

// ProvideAuditTrail creates the reading audit trail
func ProvideAuditTrail(s store.Store, clk clock.Clock) *reading.AuditTrail {
	return reading.NewAuditTrail(s, clk)
}

// ProvideRecalcEngine creates the draft invoice recalculation engine
func ProvideRecalcEngine(s store.Store, calc *tariff.Calculator, clk clock.Clock, logger *zap.Logger) *recalc.Engine {
	return recalc.NewEngine(s, calc, clk, logger)
}

// ProvideInvoiceLifecycle creates the invoice lifecycle
func ProvideInvoiceLifecycle(s store.Store, clk clock.Clock, logger *zap.Logger) *invoice.Lifecycle {
	return invoice.NewLifecycle(s, clk, logger)
}

// ProvideBillingService creates the invoice generation service
func ProvideBillingService(
	s store.Store,
	resolver *tariff.Resolver,
	lifecycle *invoice.Lifecycle,
	clk clock.Clock,
	logger *zap.Logger,
) *billing.Service {
	return billing.NewService(s, resolver, lifecycle, clk, logger)
}

// ProvideReadingService creates the reading service
func ProvideReadingService(
	s store.Store,
	v *validator.Validator,
	detector *anomaly.Detector,
	audit *reading.AuditTrail,
	engine *recalc.Engine,
	clk clock.Clock,
	logger *zap.Logger,
) *reading.Service {
	return reading.NewService(s, v, detector, audit, engine, clk, logger)
}

// ProvideGyvatukasCalculator creates the circulation energy calculator
func ProvideGyvatukasCalculator(s store.Store, cfg *config.Config, clk clock.Clock, logger *zap.Logger) *gyvatukas.Calculator {
	return gyvatukas.NewCalculator(s, cfg.Billing, clk, logger)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher creates the event publisher and closes its channel on shutdown
func ProvidePublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

// ProvideProcessorService creates a new processor service instance
func ProvideProcessorService(
	readings *reading.Service,
	catalog *tariff.Catalog,
	billingService *billing.Service,
	lifecycle *invoice.Lifecycle,
	circulation *gyvatukas.Calculator,
	v *validator.Validator,
	publisher *mq.Publisher,
	clk clock.Clock,
	logger *zap.Logger,
) *service.ProcessorService {
	return service.NewProcessorService(service.Deps{
		Readings:  readings,
		Catalog:   catalog,
		Billing:   billingService,
		Invoices:  lifecycle,
		Gyvatukas: circulation,
		Validator: v,
		Publisher: publisher,
		Clock:     clk,
		Logger:    logger,
	})
}
