package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/admission-guard/")
	viper.AddConfigPath("$HOME/.admission-guard/")

	viper.SetEnvPrefix("ADMISSION")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration.
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("invalid rate_limit.requests_per_minute: %d (must be positive)", config.RateLimit.RequestsPerMinute)
	}
	if config.RateLimit.BlockDuration <= 0 {
		return fmt.Errorf("invalid rate_limit.block_duration: %v (must be positive)", config.RateLimit.BlockDuration)
	}
	if config.RateLimit.GracePeriod < 0 {
		return fmt.Errorf("invalid rate_limit.grace_period: %v (must not be negative)", config.RateLimit.GracePeriod)
	}
	if config.RateLimit.CacheRefundRatio < 0 || config.RateLimit.CacheRefundRatio > 1 {
		return fmt.Errorf("invalid rate_limit.cache_refund_ratio: %f (must be between 0 and 1)", config.RateLimit.CacheRefundRatio)
	}
	if config.RateLimit.ErrorPenalty < 0 {
		return fmt.Errorf("invalid rate_limit.error_penalty: %f (must not be negative)", config.RateLimit.ErrorPenalty)
	}
	if config.RateLimit.ShardCount <= 0 {
		return fmt.Errorf("invalid rate_limit.shard_count: %d (must be positive)", config.RateLimit.ShardCount)
	}

	for _, p := range config.Screening.PathPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid screening.path_patterns entry %q: %w", p, err)
		}
	}
	for _, p := range config.Screening.UserAgentPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid screening.user_agent_patterns entry %q: %w", p, err)
		}
	}

	switch config.IPResolver.Strategy {
	case "forwarded_header":
		if config.IPResolver.HeaderName == "" {
			return fmt.Errorf("ip_resolver.header_name is required when strategy is forwarded_header")
		}
		if config.IPResolver.Mode != "single_trusted_proxy" && config.IPResolver.Mode != "first_hop" {
			return fmt.Errorf("invalid ip_resolver.mode: %s (must be single_trusted_proxy or first_hop)", config.IPResolver.Mode)
		}
	case "socket_addr":
		// no further fields required
	default:
		return fmt.Errorf("invalid ip_resolver.strategy: %s (must be forwarded_header or socket_addr)", config.IPResolver.Strategy)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}
	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.Dashboard.Enabled {
		if config.Dashboard.MaxConnections <= 0 {
			return fmt.Errorf("invalid dashboard.max_connections: %d (must be positive)", config.Dashboard.MaxConnections)
		}
		if config.Dashboard.ReadBufferSize <= 0 {
			return fmt.Errorf("invalid dashboard.read_buffer_size: %d (must be positive)", config.Dashboard.ReadBufferSize)
		}
		if config.Dashboard.WriteBufferSize <= 0 {
			return fmt.Errorf("invalid dashboard.write_buffer_size: %d (must be positive)", config.Dashboard.WriteBufferSize)
		}
	}

	if config.Audit.Enabled {
		if config.Audit.DatabaseURL == "" {
			return fmt.Errorf("audit.database_url is required when audit is enabled")
		}
		if config.Audit.MaxOpenConns <= 0 {
			return fmt.Errorf("invalid audit.max_open_conns: %d (must be positive)", config.Audit.MaxOpenConns)
		}
		if config.Audit.MaxIdleConns <= 0 {
			return fmt.Errorf("invalid audit.max_idle_conns: %d (must be positive)", config.Audit.MaxIdleConns)
		}
	}

	if config.ActionCheck.Enabled && config.ActionCheck.RedisURL == "" {
		return fmt.Errorf("action_check.redis_url is required when action_check is enabled")
	}

	if config.Upstream.URL == "" {
		return fmt.Errorf("upstream.url is required")
	}

	return nil
}

// Watch starts watching the configuration file for changes.
func Watch(config *Config, callback func(*Config)) error {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := viper.Unmarshal(newConfig); err != nil {
			return
		}
		if err := validateConfig(newConfig); err != nil {
			return
		}
		callback(newConfig)
	})

	return nil
}
