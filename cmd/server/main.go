/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the line-of-credit engine server: HTTP API plus
  the background job scheduler. Handles configuration, dependency
  injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env, environment and flags
  2. Initialize logger and SQLite store
  3. Choose the notification sink (Kafka when brokers are configured)
  4. Create supervisor, handler, scheduler and router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS (environment fallback in brackets):
  -port                HTTP server port [PORT] (default: 8080)
  -db                  SQLite database path [DB_PATH] (default: credit.db)
  -kafka-brokers       Kafka brokers [KAFKA_BROKERS]
  -kafka-topic         Kafka topic [KAFKA_TOPIC]
  -log-level           [LOG_LEVEL] (default: info)
  -log-format          json or text [LOG_FORMAT]
  -scheduler           Run the job scheduler [SCHEDULER_ENABLED]
  -scheduler-interval  [SCHEDULER_INTERVAL] (default: 1m)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for an in-flight pass)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the Kafka writer and database connection

EXAMPLES:
  ./server -db=":memory:" -scheduler=false -log-format=text
  KAFKA_BROKERS=localhost:9092 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Job scheduler
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/credit-engine/api"
	"github.com/warp/credit-engine/lending"
	"github.com/warp/credit-engine/notify"
	"github.com/warp/credit-engine/store/sqlite"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	log := newLogger(cfg)

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	// Notifications go to Kafka when configured, and are always logged.
	sinks := notify.Fanout{notify.LogSink{Log: log}}
	var kafka *notify.KafkaSink
	if len(cfg.KafkaBrokers) > 0 {
		kafka = notify.NewKafkaSink(notify.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		sinks = append(sinks, kafka)
		log.WithFields(logrus.Fields{"brokers": cfg.KafkaBrokers, "topic": cfg.KafkaTopic}).Info("publishing notifications to kafka")
	}

	supervisor := lending.NewSupervisor(store,
		lending.WithFlagService(store),
		lending.WithNotificationSink(sinks),
		lending.WithLogger(log))

	handler := api.NewHandler(store, supervisor, log)
	scheduler := api.NewJobScheduler(store, supervisor, log)
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.CheckInterval = cfg.SchedulerInterval
	handler.Scheduler = scheduler

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, cfg.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler.Start()

	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	if kafka != nil {
		if err := kafka.Close(); err != nil {
			log.WithError(err).Warn("closing kafka writer")
		}
	}

	log.Info("server stopped")
}
