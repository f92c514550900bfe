package consumer

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	transport "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/tradegate/internal/gateway/config"
)

// AWSConfigLoader resolves the base AWS configuration. Production wiring
// passes awsconfig.LoadDefaultConfig; tests pass a stub. A nil loader falls
// back to the SDK default chain.
type AWSConfigLoader func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error)

// NewSQSSubscriber builds the watermill SQS subscriber the consumer router
// reads from. A custom endpoint (for example, LocalStack in local
// development) is honoured through the override resolver.
func NewSQSSubscriber(ctx context.Context, conf *config.Config, loader AWSConfigLoader, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	awsCfg, err := loadAWSConfig(ctx, conf, loader, logger)
	if err != nil {
		return nil, err
	}

	optFns, err := endpointOptions(conf)
	if err != nil {
		return nil, err
	}

	return sqs.NewSubscriber(sqs.SubscriberConfig{
		AWSConfig: awsCfg,
		OptFns:    optFns,
	}, logger)
}

// NewSQSClient builds a plain SQS client on the same credentials and
// endpoint override as the subscriber. The dead letter recovery service uses
// it for its administrative calls.
func NewSQSClient(ctx context.Context, conf *config.Config, loader AWSConfigLoader, logger watermill.LoggerAdapter) (*amazonsqs.Client, error) {
	awsCfg, err := loadAWSConfig(ctx, conf, loader, logger)
	if err != nil {
		return nil, err
	}

	optFns, err := endpointOptions(conf)
	if err != nil {
		return nil, err
	}

	return amazonsqs.NewFromConfig(awsCfg, optFns...), nil
}

func endpointOptions(conf *config.Config) ([]func(*amazonsqs.Options), error) {
	if conf.AWSEndpoint == "" {
		return nil, nil
	}
	parsed, err := url.Parse(conf.AWSEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse AWS endpoint: %w", err)
	}
	return []func(*amazonsqs.Options){
		amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{
			Endpoint: transport.Endpoint{URI: *parsed},
		}),
	}, nil
}

func loadAWSConfig(ctx context.Context, conf *config.Config, loader AWSConfigLoader, logger watermill.LoggerAdapter) (aws.Config, error) {
	if loader == nil {
		loader = awsconfig.LoadDefaultConfig
	}

	var opts []func(*awsconfig.LoadOptions) error

	if conf.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(conf.AWSRegion))
	}
	if conf.AWSAccessKeyID != "" && conf.AWSSecretAccessKey != "" {
		logger.Info("Using static AWS credentials from config", nil)
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentialsProvider(conf.AWSAccessKeyID, conf.AWSSecretAccessKey)))
	}

	cfg, err := loader(ctx, opts...)
	if err != nil {
		logger.Error("Failed to load AWS default config", err, watermill.LogFields{"requested_region": conf.AWSRegion})
		return aws.Config{}, err
	}
	// Ensure region is set even if the loader ignores options (e.g. in tests)
	if conf.AWSRegion != "" {
		cfg.Region = conf.AWSRegion
	}
	return cfg, nil
}

func staticCredentialsProvider(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
		}, nil
	})
}
