package config

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/lopezpalacios/recurring-commitment/common"
	"github.com/lopezpalacios/recurring-commitment/models"
)

func AwsConfigWithOverride(ctx context.Context, region, customEndpoint string) (aws.Config, error) {
	endpointResolver := aws.EndpointResolverWithOptionsFunc(func(service, _ string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			PartitionID:   "aws",
			URL:           customEndpoint,
			SigningRegion: region,
		}, nil
	})

	httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer httpCancel()

	return config.LoadDefaultConfig(
		httpCtx,
		config.WithRegion(region),
		config.WithEndpointResolverWithOptions(endpointResolver),
	)
}

// AwsConfig loads the default AWS configuration, pointed at customEndpoint when one is given.
func AwsConfig(ctx context.Context, logger models.Logger, region, customEndpoint string) (aws.Config, error) {
	if len(customEndpoint) > 0 {
		logger.Infof("config: using custom global aws endpoint: %s", customEndpoint)
		return AwsConfigWithOverride(ctx, region, customEndpoint)
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer httpCancel()

	return config.LoadDefaultConfig(httpCtx, config.WithRegion(region))
}
