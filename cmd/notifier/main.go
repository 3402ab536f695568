package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/hotel-booking-core/internal/amqpx"
	"github.com/ariefcatur/hotel-booking-core/internal/config"
	"github.com/ariefcatur/hotel-booking-core/internal/events"
	kafkax "github.com/ariefcatur/hotel-booking-core/internal/kafka"
	"github.com/ariefcatur/hotel-booking-core/internal/logx"
	"github.com/ariefcatur/hotel-booking-core/internal/notify"
	"github.com/ariefcatur/hotel-booking-core/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logx.New(cfg.Env).With(zap.String("component", "notifier"))
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &notify.Service{
		Dedup:  redisx.NewDedup(rdb, cfg.NotifierGroup),
		Sink:   notify.LogSink{Logger: logger},
		Logger: logger,
	}

	done := make(chan struct{})
	switch cfg.EventTransport {
	case "kafka":
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, events.Topics, cfg.NotifierWorkers, logger)
		go func() {
			defer close(done)
			logger.Info("notifier consuming kafka",
				zap.String("group", cfg.NotifierGroup), zap.Strings("topics", events.Topics), zap.Int("workers", cfg.NotifierWorkers))
			if err := cons.Start(ctx, svc.HandleMessage); err != nil {
				logger.Error("consumer exit", zap.Error(err))
				cancel()
			}
		}()
	case "amqp":
		cons, err := amqpx.NewConsumer(cfg.RabbitURL, cfg.EventExchange, cfg.NotifierGroup, events.Topics, cfg.NotifierWorkers, logger)
		if err != nil {
			logger.Fatal("rabbitmq consumer", zap.Error(err))
		}
		defer cons.Close()
		go func() {
			defer close(done)
			logger.Info("notifier consuming rabbitmq",
				zap.String("exchange", cfg.EventExchange), zap.String("queue", cfg.NotifierGroup))
			if err := cons.Start(ctx, svc.Handle); err != nil {
				logger.Error("consumer exit", zap.Error(err))
				cancel()
			}
		}()
	default:
		logger.Fatal("notifier needs EVENT_TRANSPORT kafka or amqp", zap.String("transport", cfg.EventTransport))
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumer")
	cancel()
	<-done
}
