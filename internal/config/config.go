package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "BITSMART"

type Config struct {
	App      AppConfig
	AWS      AWSConfig
	Tables   TablesConfig
	Queue    QueueConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Payment  PaymentConfig
	Checkout CheckoutConfig
	Catalog  CatalogConfig
	Metrics  MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BITSMART_APP_ENV" default:"dev"`
	Port         string `envconfig:"BITSMART_APP_PORT" default:"8080"`
	RunLocal     bool   `envconfig:"RUN_LOCAL" default:"false"`
	LogLevel     string `envconfig:"BITSMART_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"BITSMART_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"BITSMART_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, "dev")
}

type AWSConfig struct {
	Region           string `envconfig:"AWS_REGION" default:"us-east-1"`
	EndpointOverride string `envconfig:"AWS_ENDPOINT_OVERRIDE"`
}

type TablesConfig struct {
	Orders      string        `envconfig:"ORDERS_TABLE" default:"orders"`
	Stocks      string        `envconfig:"STOCKS_TABLE" default:"stocks"`
	Sellers     string        `envconfig:"SELLERS_TABLE" default:"sellers"`
	Idempotency string        `envconfig:"IDEMPOTENCY_TABLE" default:"idempotency"`
	TTLWindow   time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"48h"`
	Lease       time.Duration `envconfig:"IDEMPOTENCY_LEASE" default:"5m"`
}

type QueueConfig struct {
	OrdersQueueURL string `envconfig:"ORDERS_QUEUE_URL"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BITSMART_REDIS_URL"`
	Address      string        `envconfig:"BITSMART_REDIS_ADDR"`
	Password     string        `envconfig:"BITSMART_REDIS_PASSWORD"`
	DB           int           `envconfig:"BITSMART_REDIS_DB" default:"0"`
	DialTimeout  time.Duration `envconfig:"BITSMART_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BITSMART_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BITSMART_REDIS_WRITE_TIMEOUT" default:"5s"`
	CartTTL      time.Duration `envconfig:"BITSMART_CART_TTL" default:"720h"`
}

// Enabled reports whether a Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type JWTConfig struct {
	Secret            string `envconfig:"BITSMART_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BITSMART_JWT_ISSUER" default:"bitsmart"`
	ExpirationMinutes int    `envconfig:"BITSMART_JWT_EXPIRATION_MINUTES" default:"60"`
}

type PaymentConfig struct {
	SquareAccessToken string        `envconfig:"BITSMART_SQUARE_ACCESS_TOKEN"`
	SquareEnvironment string        `envconfig:"BITSMART_SQUARE_ENV" default:"sandbox"`
	SquareLocationID  string        `envconfig:"BITSMART_SQUARE_LOCATION_ID"`
	Currency          string        `envconfig:"BITSMART_PAYMENT_CURRENCY" default:"INR"`
	Timeout           time.Duration `envconfig:"BITSMART_PAYMENT_TIMEOUT" default:"15s"`
}

// Configured reports whether a payment gateway key is present.
func (p PaymentConfig) Configured() bool {
	return strings.TrimSpace(p.SquareAccessToken) != ""
}

type CheckoutConfig struct {
	StoreTimeout      time.Duration `envconfig:"BITSMART_STORE_TIMEOUT" default:"10s"`
	DecrementAttempts int           `envconfig:"BITSMART_DECREMENT_ATTEMPTS" default:"3"`
	RetryBackoff      time.Duration `envconfig:"BITSMART_RETRY_BACKOFF" default:"100ms"`
	RejectOverOrder   bool          `envconfig:"BITSMART_REJECT_OVER_ORDER" default:"false"`
}

type CatalogConfig struct {
	DefaultRadiusKm float64       `envconfig:"BITSMART_DEFAULT_RADIUS_KM" default:"30"`
	DefaultLat      float64       `envconfig:"BITSMART_DEFAULT_LAT" default:"12.9716"`
	DefaultLng      float64       `envconfig:"BITSMART_DEFAULT_LNG" default:"77.5946"`
	LocateTimeout   time.Duration `envconfig:"BITSMART_LOCATE_TIMEOUT" default:"8s"`
	CustomerMarkup  string        `envconfig:"BITSMART_CUSTOMER_MARKUP" default:"1.05"`
	OrdersPageSize  int32         `envconfig:"BITSMART_ORDERS_PAGE_SIZE" default:"20"`
}

type MetricsConfig struct {
	Backend   string `envconfig:"BITSMART_METRICS_BACKEND" default:"prometheus"` // prometheus | cloudwatch | none
	Namespace string `envconfig:"BITSMART_METRICS_NAMESPACE" default:"BITSmart"`
}
