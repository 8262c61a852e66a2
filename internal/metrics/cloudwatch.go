package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/bitsmart-orderflow/internal/aws"
	"github.com/imrishuroy/bitsmart-orderflow/internal/logger"
)

const putTimeout = 2 * time.Second

// CloudWatch publishes each observation as a PutMetricData call. Failures are
// logged and never reach the caller.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
	log       *logger.Logger
}

func NewCloudWatch(client aws.CloudWatchAPI, namespace string, log *logger.Logger) *CloudWatch {
	if namespace == "" {
		namespace = "BITSmart"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CloudWatch{client: client, namespace: namespace, log: log}
}

func (c *CloudWatch) CheckoutCompleted(outcome string, orders int) {
	c.put("CheckoutCompleted", 1, cwtypes.StandardUnitCount, dim("Outcome", outcome))
	if orders > 0 {
		c.put("OrdersCreated", float64(orders), cwtypes.StandardUnitCount)
	}
}

func (c *CloudWatch) PaymentOutcome(status string) {
	c.put("Payment", 1, cwtypes.StandardUnitCount, dim("Status", status))
}

func (c *CloudWatch) StockClamped(category string, shortfall int) {
	if shortfall <= 0 {
		return
	}
	c.put("StockClampedUnits", float64(shortfall), cwtypes.StandardUnitCount, dim("Category", category))
}

func (c *CloudWatch) StatusTransition(to string) {
	c.put("StatusTransition", 1, cwtypes.StandardUnitCount, dim("Status", to))
}

func (c *CloudWatch) CompensationTriggered(kind string) {
	c.put("StockCompensation", 1, cwtypes.StandardUnitCount, dim("Kind", kind))
}

func (c *CloudWatch) EventProcessed(eventType, result string) {
	c.put("WorkerEvent", 1, cwtypes.StandardUnitCount, dim("Type", eventType), dim("Result", result))
}

func (c *CloudWatch) put(name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) {
	ctx, cancel := context.WithTimeout(context.Background(), putTimeout)
	defer cancel()
	now := time.Now().UTC()
	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &c.namespace,
		MetricData: []cwtypes.MetricDatum{{
			MetricName: &name,
			Value:      &value,
			Unit:       unit,
			Timestamp:  &now,
			Dimensions: dims,
		}},
	})
	if err != nil {
		c.log.Error(c.log.WithFields(ctx, map[string]any{
			"metric": name,
			"value":  strconv.FormatFloat(value, 'f', -1, 64),
		}), "put metric data failed", err)
	}
}

func dim(name, value string) cwtypes.Dimension {
	v := normalizeLabel(value)
	return cwtypes.Dimension{Name: &name, Value: &v}
}
