package aws

import (
	"context"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/imrishuroy/bitsmart-orderflow/internal/config"
)

// AWSClients bundles all service clients for convenience.
type AWSClients struct {
	DynamoDB   DynamoDBAPI
	SQS        SQSAPI
	CloudWatch CloudWatchAPI
}

// NewAWSClients loads AWS config and returns concrete service clients that implement our interfaces.
// A non-empty EndpointOverride points every client at a local emulator (e.g. LocalStack).
func NewAWSClients(ctx context.Context, cfg appconfig.AWSConfig) (*AWSClients, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimSpace(cfg.EndpointOverride)
	var base *string
	if endpoint != "" {
		base = sdkaws.String(endpoint)
	}

	return &AWSClients{
		DynamoDB: dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if base != nil {
				o.BaseEndpoint = base
			}
		}),
		SQS: sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if base != nil {
				o.BaseEndpoint = base
			}
		}),
		CloudWatch: cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if base != nil {
				o.BaseEndpoint = base
			}
		}),
	}, nil
}
