package main

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"

	"github.com/imrishuroy/bitsmart-orderflow/internal/aws"
	"github.com/imrishuroy/bitsmart-orderflow/internal/catalog"
	"github.com/imrishuroy/bitsmart-orderflow/internal/config"
	"github.com/imrishuroy/bitsmart-orderflow/internal/idempotency"
	"github.com/imrishuroy/bitsmart-orderflow/internal/logger"
	"github.com/imrishuroy/bitsmart-orderflow/internal/metrics"
	"github.com/imrishuroy/bitsmart-orderflow/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: unable to load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "bitsmart-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := context.Background()

	clients, err := aws.NewAWSClients(ctx, cfg.AWS)
	if err != nil {
		logg.Error(ctx, "failed to init aws clients", err)
		os.Exit(1)
	}

	// a Lambda worker has no scrape endpoint, so prometheus degrades to nop here
	metricsCfg := cfg.Metrics
	if metricsCfg.Backend == "prometheus" {
		metricsCfg.Backend = "none"
	}
	recorder, err := metrics.New(metricsCfg, nil, clients.CloudWatch, logg)
	if err != nil {
		logg.Error(ctx, "failed to init metrics", err)
		os.Exit(1)
	}

	stocks := catalog.NewStockStore(clients.DynamoDB, cfg.Tables.Stocks,
		catalog.WithRetry(cfg.Checkout.DecrementAttempts, cfg.Checkout.RetryBackoff),
		catalog.WithLogger(logg),
	)
	proc := worker.NewProcessor(
		stocks,
		idempotency.NewStore(clients.DynamoDB, cfg.Tables.Idempotency, cfg.Tables.TTLWindow, idempotency.WithLease(cfg.Tables.Lease)),
		recorder,
		logg,
		cfg.Checkout.StoreTimeout,
	)

	// RUN_LOCAL feeds one message from LOCAL_SQS_BODY through the processor.
	if cfg.App.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"event_id":"local-1","type":"order.placed","order_id":"local-order-1","payment_status":"pending"}`
		}
		resp, err := proc.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local", Body: body}}})
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logg.Error(ctx, "local message failed", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(proc.Handle)
}
