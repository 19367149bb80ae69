package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load, for
// example EVENTDISPATCH_KAFKA_BROKERS.
const EnvPrefix = "EVENTDISPATCH"

// Load reads the configuration from path (YAML, JSON or TOML, chosen by file
// extension) and overlays EVENTDISPATCH_* environment variables. An empty
// path reads the environment only. The result has defaults applied and is
// validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during
// Unmarshal even when no config file mentions it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("pubsub_system", DefaultPubSubSystem)
	v.SetDefault("pubsub_name", "")
	v.SetDefault("default_topic", DefaultTopic)
	v.SetDefault("default_source", DefaultSource)
	v.SetDefault("consumer_name", "")
	v.SetDefault("kafka_brokers", []string{})
	v.SetDefault("kafka_client_id", "")
	v.SetDefault("kafka_consumer_group", "")
	v.SetDefault("rabbitmq_url", "")
	v.SetDefault("nats_url", "")
	v.SetDefault("aws_region", "")
	v.SetDefault("aws_account_id", "")
	v.SetDefault("aws_access_key_id", "")
	v.SetDefault("aws_secret_access_key", "")
	v.SetDefault("aws_endpoint", "")
	v.SetDefault("worker_count", 0)
	v.SetDefault("queue_size", 0)
	v.SetDefault("submit_timeout", DefaultSubmitTimeout)
	v.SetDefault("max_redeliveries", DefaultMaxRedeliveries)
	v.SetDefault("disable_redelivery", false)
	v.SetDefault("dead_letter_topic", "")
	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_port", 0)
}
