package metrics

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/imrishuroy/bitsmart-orderflow/internal/aws"
	"github.com/imrishuroy/bitsmart-orderflow/internal/config"
	"github.com/imrishuroy/bitsmart-orderflow/internal/logger"
)

// Checkout outcomes.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// Recorder receives the business events worth counting.
type Recorder interface {
	CheckoutCompleted(outcome string, orders int)
	PaymentOutcome(status string)
	StockClamped(category string, shortfall int)
	StatusTransition(to string)
	CompensationTriggered(kind string)
	EventProcessed(eventType, result string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) CheckoutCompleted(string, int) {}
func (Nop) PaymentOutcome(string)         {}
func (Nop) StockClamped(string, int)      {}
func (Nop) StatusTransition(string)       {}
func (Nop) CompensationTriggered(string)  {}
func (Nop) EventProcessed(string, string) {}

// New picks the backend named in cfg. reg is used by the prometheus backend
// and cw by the cloudwatch one.
func New(cfg config.MetricsConfig, reg prometheus.Registerer, cw aws.CloudWatchAPI, log *logger.Logger) (Recorder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none":
		return Nop{}, nil
	case "prometheus":
		return NewPrometheus(reg), nil
	case "cloudwatch":
		if cw == nil {
			return nil, fmt.Errorf("metrics: cloudwatch backend needs a client")
		}
		return NewCloudWatch(cw, cfg.Namespace, log), nil
	default:
		return nil, fmt.Errorf("metrics: unknown backend %q", cfg.Backend)
	}
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
