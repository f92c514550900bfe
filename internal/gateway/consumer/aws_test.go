package consumer

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/drblury/tradegate/internal/gateway/config"
)

func stubLoader(calls *int, err error) AWSConfigLoader {
	return func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		*calls++
		if err != nil {
			return aws.Config{}, err
		}
		return aws.Config{}, nil
	}
}

func TestSQSSubscriberUsesInjectedConfigLoader(t *testing.T) {
	calls := 0
	conf := &config.Config{AWSRegion: "eu-west-2", QueueName: "resource-events"}

	subscriber, err := NewSQSSubscriber(context.Background(), conf, stubLoader(&calls, nil), watermill.NopLogger{})
	if err != nil {
		t.Fatalf("NewSQSSubscriber: %v", err)
	}
	if subscriber == nil {
		t.Fatal("expected a subscriber")
	}
	if calls != 1 {
		t.Fatalf("expected the injected loader to be called once, got %d", calls)
	}
}

func TestSQSClientUsesInjectedConfigLoader(t *testing.T) {
	calls := 0
	conf := &config.Config{AWSRegion: "eu-west-2"}

	client, err := NewSQSClient(context.Background(), conf, stubLoader(&calls, nil), watermill.NopLogger{})
	if err != nil {
		t.Fatalf("NewSQSClient: %v", err)
	}
	if client == nil {
		t.Fatal("expected a client")
	}
	if calls != 1 {
		t.Fatalf("expected the injected loader to be called once, got %d", calls)
	}
}

func TestSQSClientSurfacesLoaderFailure(t *testing.T) {
	calls := 0
	boom := errors.New("no credentials")
	conf := &config.Config{AWSRegion: "eu-west-2"}

	if _, err := NewSQSClient(context.Background(), conf, stubLoader(&calls, boom), watermill.NopLogger{}); !errors.Is(err, boom) {
		t.Fatalf("expected loader failure surfaced, got %v", err)
	}
}

func TestSQSClientRejectsMalformedEndpoint(t *testing.T) {
	calls := 0
	conf := &config.Config{AWSRegion: "eu-west-2", AWSEndpoint: "http://[::1"}

	if _, err := NewSQSClient(context.Background(), conf, stubLoader(&calls, nil), watermill.NopLogger{}); err == nil {
		t.Fatal("expected endpoint parse error")
	}
}

func TestLoadAWSConfigAppliesRegionAndStaticCredentials(t *testing.T) {
	conf := &config.Config{
		AWSRegion:          "eu-west-2",
		AWSAccessKeyID:     "AKIDEXAMPLE",
		AWSSecretAccessKey: "secret",
	}

	var seen int
	loader := func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		seen = len(optFns)
		return aws.Config{}, nil
	}

	cfg, err := loadAWSConfig(context.Background(), conf, loader, watermill.NopLogger{})
	if err != nil {
		t.Fatalf("loadAWSConfig: %v", err)
	}
	if cfg.Region != "eu-west-2" {
		t.Fatalf("expected region applied, got %q", cfg.Region)
	}
	// Region plus the static credentials provider.
	if seen != 2 {
		t.Fatalf("expected 2 load options, got %d", seen)
	}
}
