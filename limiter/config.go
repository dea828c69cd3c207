package limiter

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/toolink/ratelimit/bucket"
)

// RedisConfig holds the connection settings used when StorageType is redis.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`      // expiry of idle bucket keys, 0 disables
	Lock      bool          `yaml:"lock"`     // serialize updates of one bucket with a redis lock
	LockTTL   time.Duration `yaml:"lock_ttl"` // lock expiry, defaults to the redlock default
}

// Config holds the overall rate limiter configuration.
type Config struct {
	StorageType       string                 `yaml:"storage_type"`       // "memory" or "redis"
	IdentifierHeader  string                 `yaml:"identifier_header"`  // e.g. "Client-ID"
	ResourceAttribute string                 `yaml:"resource_attribute"` // defaults to "routeEndpoint"
	Buckets           map[string]bucket.Spec `yaml:"buckets"`            // resource name -> policy, "default" is the fallback
	Redis             RedisConfig            `yaml:"redis"`
}

// ValidateAndPrepare validates the raw config and fills in defaults.
func (c *Config) ValidateAndPrepare() error {
	if c.StorageType == "" {
		c.StorageType = StorageMemory
	}
	if c.StorageType != StorageMemory && c.StorageType != StorageRedis {
		return fmt.Errorf("invalid storage_type: %s, must be '%s' or '%s'", c.StorageType, StorageMemory, StorageRedis)
	}

	if c.IdentifierHeader == "" {
		return fmt.Errorf("identifier_header must be set")
	}
	if c.ResourceAttribute == "" {
		c.ResourceAttribute = DefaultResourceAttribute
	}

	if len(c.Buckets) == 0 {
		return configError(ErrNoBucket, bucket.ErrNoBuckets)
	}
	if _, ok := c.Buckets[bucket.DefaultKey]; !ok {
		log.Warn().Msg("no default bucket configured, resources without their own bucket will fail")
	}
	for name, spec := range c.Buckets {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("bucket '%s': %w", name, err)
		}
	}

	if c.StorageType == StorageRedis && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set when storage_type is '%s'", StorageRedis)
	}
	return nil
}

// LoadConfig reads a YAML config file. Variables from .env.local and .env
// are loaded first, then ${VAR} and ${VAR:-default} references in the file
// are expanded.
func LoadConfig(path string) (*Config, error) {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a YAML config document.
func ParseConfig(data []byte) (*Config, error) {
	expanded := os.Expand(string(data), expandEnv)

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.ValidateAndPrepare(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv resolves VAR or VAR:-default against the environment.
func expandEnv(ref string) string {
	name, def, hasDefault := strings.Cut(ref, ":-")
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	if hasDefault {
		return def
	}
	return ""
}
