package internal

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultBaseURL is the relay service address used when nothing is configured
	DefaultBaseURL = "http://127.0.0.1:8000"
	envPrefix      = "CHATARK_"
)

// Config is the client configuration.
// Fields without an env or yaml value keep their defaults.
type Config struct {
	BaseURL     string `yaml:"base_url" env:"BASE_URL"`
	DataDir     string `yaml:"data_dir" env:"DATA_DIR"`
	DBPath      string `yaml:"db_path" env:"DB_PATH"`
	ExportCount int    `yaml:"export_count" env:"EXPORT_COUNT"`
	SelfID      string `yaml:"self_id" env:"SELF_ID"`
	Verbose     bool   `yaml:"verbose" env:"VERBOSE"`
}

// LoadOptions controls where configuration is read from
type LoadOptions struct {
	// ConfigFile is a YAML file; when empty the default location is tried and may be absent
	ConfigFile string
	// EnvFile is a dotenv file; a missing file is ignored
	EnvFile string
	// Environment replaces the process environment when non-nil
	Environment map[string]string
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	cfg := Config{
		BaseURL:     DefaultBaseURL,
		ExportCount: DefaultExportCount,
	}
	if paths, err := DetectDataPaths(); err == nil {
		cfg.DataDir = paths.DataDir
	}
	return cfg
}

// LoadConfig builds a Config from defaults, the YAML file, the dotenv file and the environment, in that order
func LoadConfig(opts LoadOptions) (Config, error) {
	cfg := DefaultConfig()

	configFile := opts.ConfigFile
	explicit := configFile != ""
	if !explicit && cfg.DataDir != "" {
		configFile = PathsIn(cfg.DataDir).ConfigFile
	}
	if configFile != "" {
		if err := loadYAML(configFile, &cfg); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return Config{}, err
			}
		}
	}

	environment, err := buildEnvironment(opts)
	if err != nil {
		return Config{}, err
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix, Environment: environment}); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.Resolve()
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	LogDebug("Loaded config from %s", path)
	return nil
}

// buildEnvironment overlays the real environment on top of the dotenv file
func buildEnvironment(opts LoadOptions) (map[string]string, error) {
	environment := map[string]string{}
	if opts.EnvFile != "" {
		values, err := godotenv.Read(opts.EnvFile)
		switch {
		case err == nil:
			for k, v := range values {
				environment[k] = v
			}
			LogDebug("Loaded %d values from %s", len(values), opts.EnvFile)
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read %s: %w", opts.EnvFile, err)
		}
	}

	if opts.Environment != nil {
		for k, v := range opts.Environment {
			environment[k] = v
		}
		return environment, nil
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, envPrefix) {
			environment[k] = v
		}
	}
	return environment, nil
}

// Resolve fills derived fields
func (c *Config) Resolve() {
	c.BaseURL = strings.TrimSpace(c.BaseURL)
	if c.DBPath == "" && c.DataDir != "" {
		c.DBPath = PathsIn(c.DataDir).DBPath
	}
}

// Validate checks the base URL and export count
func (c Config) Validate() error {
	if _, err := ParseEndpoint(c.BaseURL); err != nil {
		return err
	}
	if err := ValidateCount(c.ExportCount); err != nil {
		return err
	}
	if c.DBPath == "" {
		return &ValidationError{Field: "db_path", Reason: "no database path and no data directory"}
	}
	return nil
}
