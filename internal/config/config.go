// Package config loads the application configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration parses YAML duration strings like "10s" or "1m30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type InventoryConfig struct {
	Source string `yaml:"source" validate:"oneof=file mongo"`
	Path   string `yaml:"path"`
	Mongo  struct {
		URI        string `yaml:"uri"`
		DBName     string `yaml:"dbName"`
		Collection string `yaml:"collection"`
	} `yaml:"mongo"`
}

type OutputConfig struct {
	Dir       string `yaml:"dir" validate:"required"`
	AuditPath string `yaml:"auditPath" validate:"required"`
}

type BatchConfig struct {
	Concurrency    int      `yaml:"concurrency" validate:"min=1"`
	ProbeTimeout   Duration `yaml:"probeTimeout"`
	ConnectTimeout Duration `yaml:"connectTimeout"`
	CommandTimeout Duration `yaml:"commandTimeout"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type LogConfig struct {
	Debug  bool   `yaml:"debug"`
	Format string `yaml:"format"`
}

type Config struct {
	Inventory InventoryConfig `yaml:"inventory"`
	Output    OutputConfig    `yaml:"output"`
	Batch     BatchConfig     `yaml:"batch"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Log       LogConfig       `yaml:"log"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	var cfg Config
	cfg.Inventory.Source = "file"
	cfg.Inventory.Path = "devices.yaml"
	cfg.Output.Dir = "output"
	cfg.Output.AuditPath = "output/audit.log"
	cfg.Batch.Concurrency = 4
	cfg.Batch.ProbeTimeout = Duration(3 * time.Second)
	cfg.Batch.ConnectTimeout = Duration(10 * time.Second)
	cfg.Batch.CommandTimeout = Duration(30 * time.Second)
	cfg.Log.Format = "console"
	return cfg
}

var validate = validator.New()

// Load reads path on top of the defaults and validates the result. An empty
// path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		bytes, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(bytes, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Inventory.Source == "file" && c.Inventory.Path == "" {
		return fmt.Errorf("invalid config: inventory.path is required for file source")
	}
	if c.Inventory.Source == "mongo" && c.Inventory.Mongo.URI == "" {
		return fmt.Errorf("invalid config: inventory.mongo.uri is required for mongo source")
	}
	return nil
}
