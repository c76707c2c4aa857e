package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix      = "FIELDGUARD_"
	envConfigFile  = "FIELDGUARD_CONFIG"
	agentPrefix    = "FIELDGUARD_AGENT_"
	agentConfigEnv = "FIELDGUARD_AGENT_CONFIG"
)

// listKeys are the env keys read as comma-separated lists.
var listKeys = map[string]struct{}{
	"cors_origins": {},
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load builds the server Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New)
//  2. YAML file if FIELDGUARD_CONFIG is set
//  3. env (prefix FIELDGUARD_)
func Load(ctx context.Context) (*Config, error) {
	cfg := *New(ctx)
	if err := layer(&cfg, envConfigFile, envPrefix); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadAgent builds the AgentConfig the same way using FIELDGUARD_AGENT_CONFIG
// and the FIELDGUARD_AGENT_ env prefix.
func LoadAgent(ctx context.Context) (*AgentConfig, error) {
	cfg := *NewAgent(ctx)
	if err := layer(&cfg, agentConfigEnv, agentPrefix); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func layer(dst any, fileEnv, prefix string) error {
	k := koanf.New(".")

	if path := os.Getenv(fileEnv); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// FIELDGUARD_PARTITION_COUNT -> partition_count; underscores are kept
	// so keys match the koanf tags. List keys take comma-separated values.
	lower := strings.ToLower(prefix)
	envProvider := env.ProviderWithValue(prefix, ".", func(key, value string) (string, interface{}) {
		key = strings.TrimPrefix(strings.ToLower(key), lower)
		if _, ok := listKeys[key]; ok {
			return key, splitList(value)
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	if err := k.UnmarshalWithConf("", dst, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.JWTSecret == "":
		return fmt.Errorf("%w: jwt_secret must not be empty", ErrInvalidConfig)
	case c.PartitionCount < 1:
		return fmt.Errorf("%w: partition_count must be positive", ErrInvalidConfig)
	case c.MaxBatchSize < 1:
		return fmt.Errorf("%w: max_batch_size must be positive", ErrInvalidConfig)
	case c.OfficeStartHour < 0 || c.OfficeStartHour > 23:
		return fmt.Errorf("%w: office_start_hour must be 0-23", ErrInvalidConfig)
	case c.HalfDayHours < 0:
		return fmt.Errorf("%w: half_day_hours must not be negative", ErrInvalidConfig)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: timezone: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Validate reports the first invalid agent setting.
func (c *AgentConfig) Validate() error {
	switch {
	case c.ServerURL == "":
		return fmt.Errorf("%w: server_url must not be empty", ErrInvalidConfig)
	case c.StorePath == "":
		return fmt.Errorf("%w: store_path must not be empty", ErrInvalidConfig)
	case c.ReplayLimit < 1:
		return fmt.Errorf("%w: replay_limit must be positive", ErrInvalidConfig)
	case c.LocationBatch < 1 || c.LocationBatch > 500:
		return fmt.Errorf("%w: location_batch must be 1-500", ErrInvalidConfig)
	case c.BackoffInitial <= 0 || c.BackoffMax < c.BackoffInitial:
		return fmt.Errorf("%w: backoff_max must be >= backoff_initial > 0", ErrInvalidConfig)
	}
	return nil
}
