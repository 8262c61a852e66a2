package aws

import (
	"context"
	"fmt"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"

	appconfig "github.com/imrishuroy/bitsmart-orderflow/internal/config"
)

const defaultRegion = "us-east-1"

func LoadAWSConfig(ctx context.Context, cfg appconfig.AWSConfig) (sdkaws.Config, error) {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultRegion
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return awsCfg, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}
