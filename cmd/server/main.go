package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/account"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/config"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/database"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/events/kafka"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/events/noop"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/httpapi"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/ledger"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/roundup"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/storage/postgres"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/subscription"
	log "github.com/sirupsen/logrus"
)

type stores struct {
	ledger        interfaces.LedgerStore
	automations   interfaces.AutomationStore
	subscriptions interfaces.SubscriptionStore
	close         func()
}

func main() {
	migrateDown := flag.Int("migrate-down", 0, "roll back N migrations and exit (postgres backend only)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	cfg.ConfigureLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, *migrateDown)
	if err != nil {
		log.WithError(err).Fatal("Failed to open stores")
	}
	defer st.close()
	if *migrateDown > 0 {
		return
	}

	var publisher interfaces.EventPublisher = noop.Publisher{}
	if len(cfg.KafkaBrokers) > 0 {
		compression, err := kafka.ParseCompression(cfg.KafkaCompression)
		if err != nil {
			log.WithError(err).Fatal("Invalid kafka compression")
		}
		kp := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, compression)
		defer kp.Close()
		publisher = kp
		log.WithFields(log.Fields{"brokers": cfg.KafkaBrokers, "topic": cfg.KafkaTopic}).Info("Publishing events to Kafka")
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer rdb.Close()
	}

	clock := interfaces.SystemClock{}
	ledgerService := ledger.NewLedger(st.ledger, clock)
	roundups := roundup.NewEngine(st.automations, cfg.RoundUpSlotPolicy)
	subscriptions := subscription.NewLedger(st.subscriptions, clock, cfg.AccrualInterval)
	executor := account.NewExecutor(ledgerService, subscriptions, publisher, clock, cfg.SecondaryFailurePolicy, roundups)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewServer(roundups, subscriptions, ledgerService, executor).Router(rdb),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithFields(log.Fields{
			"addr":          cfg.HTTPAddr,
			"store":         cfg.StoreBackend,
			"slotPolicy":    cfg.RoundUpSlotPolicy,
			"failurePolicy": cfg.SecondaryFailurePolicy,
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}
}

func openStores(ctx context.Context, cfg *config.Config, migrateDown int) (*stores, error) {
	if cfg.StoreBackend != config.StorePostgres {
		return &stores{
			ledger:        memory.NewMemoryLedgerStore(),
			automations:   memory.NewMemoryAutomationStore(),
			subscriptions: memory.NewMemorySubscriptionStore(),
			close:         func() {},
		}, nil
	}

	db, err := database.NewConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Warn("Failed to close database")
		}
	}

	if migrateDown > 0 {
		err = database.MigrateDown(db, migrateDown)
	} else {
		err = database.MigrateUp(db)
	}
	if err != nil {
		closeDB()
		return nil, err
	}

	return &stores{
		ledger:        postgres.NewPostgresLedgerStore(db),
		automations:   postgres.NewPostgresAutomationStore(db),
		subscriptions: postgres.NewPostgresSubscriptionStore(db),
		close:         closeDB,
	}, nil
}
