package main

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/bitsmart-orderflow/internal/aws"
	"github.com/imrishuroy/bitsmart-orderflow/internal/cart"
	"github.com/imrishuroy/bitsmart-orderflow/internal/catalog"
	"github.com/imrishuroy/bitsmart-orderflow/internal/checkout"
	"github.com/imrishuroy/bitsmart-orderflow/internal/config"
	"github.com/imrishuroy/bitsmart-orderflow/internal/handlers"
	"github.com/imrishuroy/bitsmart-orderflow/internal/idempotency"
	"github.com/imrishuroy/bitsmart-orderflow/internal/logger"
	"github.com/imrishuroy/bitsmart-orderflow/internal/metrics"
	"github.com/imrishuroy/bitsmart-orderflow/internal/orders"
	"github.com/imrishuroy/bitsmart-orderflow/internal/payment"
	"github.com/imrishuroy/bitsmart-orderflow/internal/redis"
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
		ServiceName: "bitsmart-api",
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

	routerCfg, err := buildHandlers(ctx, cfg, clients, logg)
	if err != nil {
		logg.Error(ctx, "failed to wire api", err)
		os.Exit(1)
	}
	if cfg.App.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := handlers.NewRouter(routerCfg)

	if cfg.App.RunLocal {
		addr := ":" + cfg.App.Port
		logg.Info(logg.WithField(ctx, "addr", addr), "running local server")
		if err := r.Run(addr); err != nil {
			logg.Error(ctx, "local server stopped", err)
			os.Exit(1)
		}
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

func buildHandlers(ctx context.Context, cfg *config.Config, clients *aws.AWSClients, logg *logger.Logger) (handlers.HandlerConfig, error) {
	markup, err := decimal.NewFromString(cfg.Catalog.CustomerMarkup)
	if err != nil {
		return handlers.HandlerConfig{}, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.New(cfg.Metrics, registry, clients.CloudWatch, logg)
	if err != nil {
		return handlers.HandlerConfig{}, err
	}

	stocks := catalog.NewStockStore(clients.DynamoDB, cfg.Tables.Stocks,
		catalog.WithRetry(cfg.Checkout.DecrementAttempts, cfg.Checkout.RetryBackoff),
		catalog.WithLogger(logg),
	)
	catalogSvc := catalog.NewService(catalog.NewSellerStore(clients.DynamoDB, cfg.Tables.Sellers), stocks, markup, logg)

	var cartStorage cart.Storage = cart.NewMemoryStorage()
	if cfg.Redis.Enabled() {
		rc, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return handlers.HandlerConfig{}, err
		}
		cartStorage = cart.NewRedisStorage(rc, cfg.Redis.CartTTL)
	} else {
		logg.Warn(ctx, "redis not configured; carts are kept in memory")
	}
	carts := cart.NewManager(cartStorage, catalogSvc, logg)

	orderStore := orders.NewStore(clients.DynamoDB, cfg.Tables.Orders)
	deps := checkout.Deps{
		Carts:       carts,
		Sellers:     catalogSvc,
		Stocks:      stocks,
		Orders:      orderStore,
		Idempotency: idempotency.NewStore(clients.DynamoDB, cfg.Tables.Idempotency, cfg.Tables.TTLWindow, idempotency.WithLease(cfg.Tables.Lease)),
		Publisher:   aws.NewPublisher(clients.SQS, cfg.Queue.OrdersQueueURL),
		Metrics:     recorder,
		Log:         logg,
	}
	gateway, err := payment.NewSquareGateway(cfg.Payment, logg)
	switch {
	case errors.Is(err, payment.ErrNotConfigured):
		logg.Warn(ctx, "payment gateway not configured; checkout will be refused")
	case err != nil:
		return handlers.HandlerConfig{}, err
	default:
		deps.Gateway = gateway
	}

	workflow := checkout.NewWorkflow(deps, checkout.Options{
		StoreTimeout:    cfg.Checkout.StoreTimeout,
		PaymentTimeout:  cfg.Payment.Timeout,
		Currency:        cfg.Payment.Currency,
		RejectOverOrder: cfg.Checkout.RejectOverOrder,
	})

	out := handlers.HandlerConfig{
		Catalog:  catalogSvc,
		Carts:    carts,
		Checkout: workflow,
		Orders:   orders.NewService(orderStore, logg, recorder),
		JWT:      cfg.JWT,
		Browse:   cfg.Catalog,
		Log:      logg,
	}
	if _, ok := recorder.(*metrics.Prometheus); ok {
		out.Metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}
	return out, nil
}
