package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/hotel-booking-core/internal/amqpx"
	"github.com/ariefcatur/hotel-booking-core/internal/booking"
	"github.com/ariefcatur/hotel-booking-core/internal/config"
	"github.com/ariefcatur/hotel-booking-core/internal/events"
	"github.com/ariefcatur/hotel-booking-core/internal/fraud"
	kafkax "github.com/ariefcatur/hotel-booking-core/internal/kafka"
	"github.com/ariefcatur/hotel-booking-core/internal/ledger"
	"github.com/ariefcatur/hotel-booking-core/internal/mobilemoney"
	"github.com/ariefcatur/hotel-booking-core/internal/payment"
	"github.com/ariefcatur/hotel-booking-core/internal/postgres"
	"github.com/ariefcatur/hotel-booking-core/internal/pricing"
	"github.com/ariefcatur/hotel-booking-core/internal/redisx"
)

// App holds the wired booking core shared by the api and bookingctl.
type App struct {
	DB           *pgxpool.Pool
	Redis        *redis.Client
	Events       events.Publisher
	Ledger       *ledger.PGLedger
	Bookings     *booking.Service
	Orchestrator *payment.Orchestrator
	Sweeper      *payment.Sweeper
	Cache        *redisx.StatusCache
	Idempotency  *redisx.Idempotency

	logger  *zap.Logger
	closers []func()
}

// Build connects to the stores and wires the services. The caller must
// Close the result.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	a.Redis = redisx.New(cfg.RedisAddr)
	a.closers = append(a.closers, func() { _ = a.Redis.Close() })
	a.Cache = redisx.NewStatusCache(a.Redis)
	a.Idempotency = redisx.NewIdempotency(a.Redis)

	if a.Events, err = a.publisher(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}

	gateways := make([]mobilemoney.Gateway, 0, 2)
	for name, pc := range map[string]config.ProviderConfig{
		mobilemoney.ProviderA: cfg.ProviderA,
		mobilemoney.ProviderB: cfg.ProviderB,
	} {
		gw, err := mobilemoney.New(name, mobilemoney.Options{
			BaseURL:       pc.BaseURL,
			APIKey:        pc.APIKey,
			Secret:        pc.Secret,
			CallbackToken: pc.CallbackToken,
			Timeout:       cfg.GatewayTimeout,
			IssueRetries:  2,
			RetryBase:     200 * time.Millisecond,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		gateways = append(gateways, gw)
	}

	a.Ledger = ledger.NewPGLedger(db, logger)
	repo := &booking.Repo{DB: db}
	a.Bookings = booking.NewService(booking.Deps{
		Rooms:    &booking.RoomRepo{DB: db},
		Repo:     repo,
		Ledger:   a.Ledger,
		Pricer:   pricing.NewEngine(cfg.SeasonBy),
		Scorer:   fraud.NewScorer(repo),
		Events:   a.Events,
		Cache:    a.Cache,
		Logger:   logger,
		Producer: cfg.ServiceName,
	})

	a.Orchestrator = payment.NewOrchestrator(payment.Config{
		CodeTTL:       cfg.PaymentCodeTTL,
		MaxAttempts:   cfg.PaymentMaxAttempts,
		RetryWindow:   cfg.PaymentRetryWindow,
		CountryCode:   cfg.PhoneCountryCode,
		IssueDeadline: cfg.PaymentIssueWait,
	}, &payment.PGStore{DB: db}, a.Bookings, gateways, a.Events, logger, cfg.ServiceName)
	a.Bookings.SetPaymentAborter(a.Orchestrator)

	a.Sweeper = payment.NewSweeper(a.Orchestrator, a.Bookings, a.Ledger,
		cfg.SweepInterval, cfg.AbandonedAfter, logger)
	return a, nil
}

func (a *App) publisher(ctx context.Context, cfg config.Config) (events.Publisher, error) {
	switch cfg.EventTransport {
	case "amqp":
		p, err := amqpx.NewPublisher(cfg.RabbitURL, cfg.EventExchange)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = p.Close() })
		return events.AMQPPublisher{Publisher: p}, nil
	case "kafka":
		prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, a.logger)
		pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		prod.Start(pctx)
		a.closers = append(a.closers, func() {
			prod.Close()
			cancel()
			prod.WaitClosed()
		})
		return events.KafkaPublisher{Producer: prod}, nil
	case "none":
		return events.Discard{}, nil
	}
	return nil, fmt.Errorf("unknown EVENT_TRANSPORT %q", cfg.EventTransport)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
