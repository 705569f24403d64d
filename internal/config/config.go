// Package config holds the explicit configuration of the relationship
// count module. There is no process-wide default: every component gets its
// settings from a Config value.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Benny93/relcount-go/internal/cache"
	"github.com/Benny93/relcount-go/internal/compact"
	"github.com/Benny93/relcount-go/internal/descriptor"
	"github.com/Benny93/relcount-go/internal/graph"
)

// ErrInvalid is returned for configurations that fail validation.
var ErrInvalid = errors.New("invalid configuration")

const (
	CachingProperties     = "properties"
	CachingSingleProperty = "single_property"

	GeneralizationLeastGeneral       = "least_general"
	GeneralizationFrequentlyChanging = "frequently_changing"

	ExtractAll  = "all"
	ExtractNone = "none"
	ExtractKeys = "keys"

	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config configures caching, compaction and storage.
type Config struct {
	ModuleID       string `yaml:"module_id" validate:"required,alphanum"`
	Prefix         string `yaml:"prefix"`
	Separator      string `yaml:"separator" validate:"required"`
	Threshold      int    `yaml:"threshold" validate:"gte=1"`
	Caching        string `yaml:"caching" validate:"oneof=properties single_property"`
	Generalization string `yaml:"generalization" validate:"oneof=least_general frequently_changing"`

	AsyncCompaction bool `yaml:"async_compaction"`
	QueueSize       int  `yaml:"queue_size" validate:"gte=1"`
	BatchSize       int  `yaml:"batch_size" validate:"gte=1"`

	Extract        string   `yaml:"extract" validate:"oneof=all none keys"`
	ExtractKeys    []string `yaml:"extract_keys" validate:"required_if=Extract keys,dive,required"`
	IncludeTypes   []string `yaml:"include_types" validate:"dive,required"`
	WeightProperty string   `yaml:"weight_property"`

	Backend     string `yaml:"backend" validate:"oneof=badger memory"`
	StoragePath string `yaml:"storage_path"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		ModuleID:       descriptor.DefaultModuleID,
		Separator:      descriptor.DefaultSeparator,
		Threshold:      20,
		Caching:        CachingProperties,
		Generalization: GeneralizationLeastGeneral,
		QueueSize:      1024,
		BatchSize:      1000,
		Extract:        ExtractAll,
		Backend:        BackendBadger,
		StoragePath:    ".relcount/db",
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if strings.Contains(c.Prefix, c.Separator) {
		return fmt.Errorf("%w: prefix %q contains separator %q", ErrInvalid, c.Prefix, c.Separator)
	}
	return nil
}

// Codec returns the codec for cached count keys.
func (c Config) Codec() descriptor.Codec {
	prefix := c.Prefix
	if prefix == "" {
		prefix = descriptor.DefaultPrefix(c.ModuleID)
	}
	return descriptor.NewCodec(prefix, c.Separator)
}

// Extractor returns the configured property extractor.
func (c Config) Extractor() cache.PropertyExtractor {
	switch c.Extract {
	case ExtractNone:
		return cache.ExtractNone()
	case ExtractKeys:
		return cache.ExtractKeys(c.ExtractKeys...)
	default:
		return cache.ExtractAll()
	}
}

// Weigh returns the configured weighing function.
func (c Config) Weigh() cache.WeighingFunc {
	if c.WeightProperty == "" {
		return cache.OnePerRelationship()
	}
	return cache.WeighByProperty(c.WeightProperty, 1)
}

// Inclusion returns the configured inclusion policy.
func (c Config) Inclusion() cache.InclusionPolicy {
	if len(c.IncludeTypes) == 0 {
		return cache.IncludeAll()
	}
	types := make([]graph.RelType, len(c.IncludeTypes))
	for i, t := range c.IncludeTypes {
		types[i] = graph.RelType(t)
	}
	return cache.IncludeTypes(types...)
}

// Strategy returns the configured generalization strategy.
func (c Config) Strategy() compact.Strategy {
	if c.Generalization == GeneralizationFrequentlyChanging {
		return compact.FrequentlyChanging{}
	}
	return compact.LeastGeneral{}
}
