package s3

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TypeS3 is the backend type tag.
const TypeS3 = "S3"

const metadataObject = ".wildfs/filesystem.json"

// Config represents S3 backend configuration
type Config struct {
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	ForcePathStyle  bool   `json:"force_path_style"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`

	// Prefix is prepended to every object key. Several storages can share a
	// bucket by using distinct prefixes.
	Prefix string `json:"prefix"`
}

// ParseConfig decodes and validates a storage config.
func ParseConfig(raw []byte) (Config, error) {
	var cfg Config
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("invalid s3 config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the config can address objects.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket name cannot be empty")
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("access_key_id and secret_access_key must be set together")
	}
	if strings.HasPrefix(c.Prefix, "/") {
		return fmt.Errorf("prefix must not start with a slash: %s", c.Prefix)
	}
	return nil
}

func (c Config) metadataKey() string {
	return c.Prefix + metadataObject
}

func (c Config) objectKey(name string) string {
	return c.Prefix + name
}
