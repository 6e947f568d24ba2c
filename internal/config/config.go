package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v2"

	"github.com/wildfs/wildfs/internal/circuit"
	"github.com/wildfs/wildfs/internal/events"
	"github.com/wildfs/wildfs/pkg/types"
	"github.com/wildfs/wildfs/pkg/utils"
)

// containerNamespace derives stable ids for containers and storages declared without one.
var containerNamespace = uuid.MustParse("6f1c2a52-1d3e-4a4f-9a0e-7b1c9d1e2f30")

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig      `yaml:"global"`
	Dispatch   DispatchConfig    `yaml:"dispatch"`
	Monitoring MonitoringConfig  `yaml:"monitoring"`
	API        APIConfig         `yaml:"api"`
	Catalog    CatalogConfig     `yaml:"catalog"`
	Containers []ContainerConfig `yaml:"containers,omitempty"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// DispatchConfig controls the replica dispatcher.
type DispatchConfig struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	EventBuffer    int                  `yaml:"event_buffer"`
}

// CircuitBreakerConfig represents circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Port         int               `yaml:"port"`
	Path         string            `yaml:"path"`
	Namespace    string            `yaml:"namespace"`
	CustomLabels map[string]string `yaml:"custom_labels,omitempty"`
}

// APIConfig represents the HTTP API listener.
type APIConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// CatalogConfig locates the container catalog database.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// ContainerConfig declares a container to mount at startup.
type ContainerConfig struct {
	ID       string          `yaml:"id,omitempty"`
	Name     string          `yaml:"name"`
	Paths    []string        `yaml:"paths"`
	Storages []StorageConfig `yaml:"storages"`
}

// StorageConfig declares one replica. Config is handed to the backend as JSON.
type StorageConfig struct {
	ID          string                 `yaml:"id,omitempty"`
	BackendType string                 `yaml:"backend_type"`
	Config      map[string]interface{} `yaml:"config,omitempty"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
			LogFile:   "",
		},
		Dispatch: DispatchConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
			},
			EventBuffer: events.DefaultCapacity,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Port:      9100,
				Path:      "/metrics",
				Namespace: "wildfs",
				CustomLabels: map[string]string{
					"service": "wildfs",
				},
			},
		},
		API: APIConfig{
			Address:      "127.0.0.1:8420",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Catalog: CatalogConfig{
			Path: defaultCatalogPath(),
		},
	}
}

func defaultCatalogPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "wildfs", "catalog.db")
	}
	return "wildfs-catalog.db"
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("WILDFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := os.Getenv("WILDFS_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = strings.ToLower(val)
	}
	if val := os.Getenv("WILDFS_METRICS_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid WILDFS_METRICS_PORT: %w", err)
		}
		c.Monitoring.Metrics.Port = port
	}
	if val := os.Getenv("WILDFS_API_ADDRESS"); val != "" {
		c.API.Address = val
	}
	if val := os.Getenv("WILDFS_CATALOG_PATH"); val != "" {
		c.Catalog.Path = val
	}
	if val := os.Getenv("WILDFS_BREAKER_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid WILDFS_BREAKER_ENABLED: %w", err)
		}
		c.Dispatch.CircuitBreaker.Enabled = enabled
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	switch c.Global.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}

	if c.Dispatch.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be greater than 0")
	}
	if cb := c.Dispatch.CircuitBreaker; cb.Enabled {
		if cb.FailureThreshold <= 0 {
			return fmt.Errorf("circuit_breaker.failure_threshold must be greater than 0")
		}
		if cb.Timeout <= 0 {
			return fmt.Errorf("circuit_breaker.timeout must be greater than 0")
		}
	}

	if m := c.Monitoring.Metrics; m.Enabled {
		if m.Port <= 0 || m.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", m.Port)
		}
		if !strings.HasPrefix(m.Path, "/") {
			return fmt.Errorf("metrics path must start with /: %s", m.Path)
		}
	}

	if c.API.Address == "" {
		return fmt.Errorf("api address cannot be empty")
	}

	if _, err := c.ContainerList(); err != nil {
		return err
	}
	return nil
}

// BreakerConfig converts the circuit breaker section.
func (c *Configuration) BreakerConfig() circuit.Config {
	cfg := circuit.DefaultConfig()
	if c.Dispatch.CircuitBreaker.FailureThreshold > 0 {
		cfg.FailureThreshold = uint32(c.Dispatch.CircuitBreaker.FailureThreshold)
	}
	if c.Dispatch.CircuitBreaker.Timeout > 0 {
		cfg.Timeout = c.Dispatch.CircuitBreaker.Timeout
	}
	return cfg
}

// ContainerList converts the containers section into mountable containers.
// Missing ids are derived from the container name and the storage position so
// they stay stable across restarts.
func (c *Configuration) ContainerList() ([]types.Container, error) {
	out := make([]types.Container, 0, len(c.Containers))
	seen := make(map[uuid.UUID]string)

	for i, cc := range c.Containers {
		if cc.Name == "" {
			return nil, fmt.Errorf("containers[%d]: name cannot be empty", i)
		}
		id, err := parseOrDerive(cc.ID, cc.Name)
		if err != nil {
			return nil, fmt.Errorf("container %s: invalid id: %w", cc.Name, err)
		}
		if other, dup := seen[id]; dup {
			return nil, fmt.Errorf("container %s: id %s already used by %s", cc.Name, id, other)
		}
		seen[id] = cc.Name

		if len(cc.Paths) == 0 {
			return nil, fmt.Errorf("container %s: at least one path is required", cc.Name)
		}
		for _, p := range cc.Paths {
			if err := utils.ValidatePath(p); err != nil {
				return nil, fmt.Errorf("container %s: %w", cc.Name, err)
			}
		}

		container := types.Container{ID: id, Name: cc.Name, Paths: append([]string(nil), cc.Paths...)}
		for j, sc := range cc.Storages {
			storage, err := sc.toStorage(fmt.Sprintf("%s/%d", cc.Name, j))
			if err != nil {
				return nil, fmt.Errorf("container %s: storages[%d]: %w", cc.Name, j, err)
			}
			container.Storages = append(container.Storages, storage)
		}
		out = append(out, container)
	}
	return out, nil
}

func (sc StorageConfig) toStorage(seed string) (types.Storage, error) {
	if sc.BackendType == "" {
		return types.Storage{}, fmt.Errorf("backend_type cannot be empty")
	}
	id, err := parseOrDerive(sc.ID, seed)
	if err != nil {
		return types.Storage{}, fmt.Errorf("invalid id: %w", err)
	}

	var raw []byte
	if len(sc.Config) > 0 {
		raw, err = json.Marshal(jsonCompatible(sc.Config))
		if err != nil {
			return types.Storage{}, fmt.Errorf("invalid config: %w", err)
		}
	}
	return types.Storage{ID: id, BackendType: sc.BackendType, Config: raw}, nil
}

func parseOrDerive(id, seed string) (uuid.UUID, error) {
	if id == "" {
		return uuid.NewSHA1(containerNamespace, []byte(seed)), nil
	}
	return uuid.Parse(id)
}

// jsonCompatible converts the map[interface{}]interface{} values produced by
// yaml.v2 into maps encoding/json accepts.
func jsonCompatible(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = jsonCompatible(val)
		}
		return m
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[k] = jsonCompatible(val)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, val := range t {
			s[i] = jsonCompatible(val)
		}
		return s
	default:
		return v
	}
}
