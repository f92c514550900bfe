package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/drblury/tradegate/internal/gateway/jsoncodec"
)

// fileConfig is the on-disk shape of the configuration. Durations are
// strings in time.ParseDuration form ("10s", "250ms"). Credentials are never
// read from the file, only from the environment.
type fileConfig struct {
	HTTPServerAddress string `json:"http_server_address"`
	RoutePrefix       string `json:"route_prefix"`

	Destinations []fileDestination `json:"destinations"`

	CDSDestinationKey   string `json:"cds_destination_key"`
	DecisionComparerKey string `json:"decision_comparer_key"`

	Pools map[string]filePool `json:"pools"`

	ProxyURI string `json:"proxy_uri"`

	DataAPIBaseURL string `json:"data_api_base_url"`
	DataAPITimeout string `json:"data_api_timeout"`

	AWSRegion    string `json:"aws_region"`
	AWSAccountID string `json:"aws_account_id"`
	AWSEndpoint  string `json:"aws_endpoint"`

	QueueName           string `json:"queue_name"`
	DeadLetterQueueName string `json:"dead_letter_queue_name"`
	ConsumerCount       int    `json:"consumer_count"`

	MetricsEnabled bool `json:"metrics_enabled"`
	MetricsPort    int  `json:"metrics_port"`
}

type fileDestination struct {
	Key                string `json:"key"`
	BaseLink           string `json:"base_link"`
	RoutePathSuffix    string `json:"route_path_suffix"`
	Method             string `json:"method"`
	ContentType        string `json:"content_type"`
	HostHeaderOverride string `json:"host_header_override"`
	ForkTargetKey      string `json:"fork_target_key"`
}

type filePool struct {
	Timeout     string `json:"timeout"`
	MaxAttempts int    `json:"max_attempts"`
	Backoff     string `json:"backoff"`
}

// LoadFile reads and validates a configuration file. Secrets (AWS keys, and
// optionally the proxy URI with credentials) are layered on top from the
// environment.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := jsoncodec.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	conf, err := fc.toConfig()
	if err != nil {
		return nil, err
	}
	conf.applyEnvironment()

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return conf, nil
}

func (fc *fileConfig) toConfig() (*Config, error) {
	conf := &Config{
		HTTPServerAddress:   fc.HTTPServerAddress,
		RoutePrefix:         fc.RoutePrefix,
		CDSDestinationKey:   fc.CDSDestinationKey,
		DecisionComparerKey: fc.DecisionComparerKey,
		ProxyURI:            fc.ProxyURI,
		DataAPIBaseURL:      fc.DataAPIBaseURL,
		AWSRegion:           fc.AWSRegion,
		AWSAccountID:        fc.AWSAccountID,
		AWSEndpoint:         fc.AWSEndpoint,
		QueueName:           fc.QueueName,
		DeadLetterQueueName: fc.DeadLetterQueueName,
		ConsumerCount:       fc.ConsumerCount,
		MetricsEnabled:      fc.MetricsEnabled,
		MetricsPort:         fc.MetricsPort,
	}

	for _, d := range fc.Destinations {
		conf.Destinations = append(conf.Destinations, DestinationConfig{
			Key:                d.Key,
			BaseLink:           d.BaseLink,
			RoutePathSuffix:    d.RoutePathSuffix,
			Method:             d.Method,
			ContentType:        d.ContentType,
			HostHeaderOverride: d.HostHeaderOverride,
			ForkTargetKey:      d.ForkTargetKey,
		})
	}

	if fc.DataAPITimeout != "" {
		timeout, err := time.ParseDuration(fc.DataAPITimeout)
		if err != nil {
			return nil, fmt.Errorf("data api timeout: %w", err)
		}
		conf.DataAPITimeout = timeout
	}

	if len(fc.Pools) > 0 {
		conf.Pools = make(map[string]PoolConfig, len(fc.Pools))
		for name, p := range fc.Pools {
			pool := PoolConfig{MaxAttempts: p.MaxAttempts}
			if p.Timeout != "" {
				timeout, err := time.ParseDuration(p.Timeout)
				if err != nil {
					return nil, fmt.Errorf("pool %s: timeout: %w", name, err)
				}
				pool.Timeout = timeout
			}
			if p.Backoff != "" {
				backoff, err := time.ParseDuration(p.Backoff)
				if err != nil {
					return nil, fmt.Errorf("pool %s: backoff: %w", name, err)
				}
				pool.Backoff = backoff
			}
			conf.Pools[name] = pool
		}
	}

	return conf, nil
}

// applyEnvironment layers environment overrides on top of the file values.
func (c *Config) applyEnvironment() {
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		c.AWSAccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		c.AWSSecretAccessKey = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.AWSRegion = v
	}
	if v := os.Getenv("TRADEGATE_PROXY_URI"); v != "" {
		c.ProxyURI = v
	}
	if v := os.Getenv("TRADEGATE_HTTP_ADDRESS"); v != "" {
		c.HTTPServerAddress = v
	}
	if v := os.Getenv("TRADEGATE_CONSUMER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ConsumerCount = n
		}
	}
}
