package kolog

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Policy selects the behavior of Enqueue when the queue is full.
type Policy string

// Backpressure policies.
const (
	// PolicyDrop silently discards the new record.
	PolicyDrop Policy = "drop"
	// PolicyBlock waits until space is available.
	PolicyBlock Policy = "block"
	// PolicyDropOldest removes the oldest queued record, then inserts.
	PolicyDropOldest Policy = "drop_oldest"
)

// Queue configuration defaults.
const (
	DefaultMaxQueueSize = 10000
	DefaultDrainTimeout = 5 * time.Second
)

// QueueConfig configures a Manager.
type QueueConfig struct {
	MaxQueueSize       int           `yaml:"max_queue_size"`
	BackpressurePolicy Policy        `yaml:"backpressure_policy"`
	DrainTimeout       time.Duration `yaml:"drain_timeout"`

	// WorkerCount exists for forward compatibility; only a single worker
	// is supported.
	WorkerCount int `yaml:"worker_count"`
}

func (c *QueueConfig) applyDefaults() {
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.BackpressurePolicy == "" {
		c.BackpressurePolicy = PolicyDropOldest
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.WorkerCount == 0 {
		c.WorkerCount = 1
	}
}

func (c *QueueConfig) validate() error {
	switch c.BackpressurePolicy {
	case PolicyDrop, PolicyBlock, PolicyDropOldest:
	default:
		return fmt.Errorf("unknown backpressure policy `%s`", c.BackpressurePolicy)
	}
	if c.DrainTimeout < 0 {
		return fmt.Errorf("drain timeout must not be negative, got %s", c.DrainTimeout)
	}
	if c.WorkerCount != 1 {
		return fmt.Errorf("worker count must be 1, got %d", c.WorkerCount)
	}
	return nil
}

// Handler types for HandlerConfig.Type.
const (
	HandlerTypeFile         = "file"
	HandlerTypeRotatingFile = "rotating_file"
	HandlerTypeStream       = "stream"
	HandlerTypeNull         = "null"
)

// Processor types for ProcessorConfig.Type.
const (
	ProcessorTypeAddCallsiteParams  = "add_callsite_params"
	ProcessorTypeAddContextDefaults = "add_context_defaults"
	ProcessorTypeDictTracebacks     = "dict_tracebacks"
	ProcessorTypeFilterByLevel      = "filter_by_level"
	ProcessorTypeFilterKeys         = "filter_keys"
	ProcessorTypeFilterMarkup       = "filter_markup"
)

// Renderer types for RendererConfig.Type.
const (
	RendererTypeFilePlain     = "file_plain"
	RendererTypeFileJSON      = "file_json"
	RendererTypeStreamPlain   = "stream_plain"
	RendererTypeStreamColored = "stream_colored"
	RendererTypeStreamJSON    = "stream_json"
)

// ProcessorConfig is a tagged processor variant. Type selects the processor;
// Params carries its variant-specific options and is validated by the
// factory, not at decode time.
type ProcessorConfig struct {
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params"`
}

// RendererConfig is a tagged renderer variant.
type RendererConfig struct {
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params"`
}

// HandlerConfig is a tagged handler variant with its own renderer and
// processor chain.
type HandlerConfig struct {
	Type       string            `yaml:"type"`
	Renderer   RendererConfig    `yaml:"renderer"`
	Processors []ProcessorConfig `yaml:"processors"`
	Params     map[string]any    `yaml:"params"`
}

// LoggerConfig describes one named logger: its handlers, its logger-level
// processor chain and the context bound at creation.
type LoggerConfig struct {
	Name       string            `yaml:"name"`
	Level      Level             `yaml:"level"`
	Processors []ProcessorConfig `yaml:"processors"`
	Handlers   []HandlerConfig   `yaml:"handlers"`
	// Propagate is decoded for schema compatibility but has no effect:
	// routing is always hierarchical in the Manager.
	Propagate bool              `yaml:"propagate"`
	Context   map[string]string `yaml:"context"`
}

// Config is the root configuration: the queue section plus every known
// logger. Unknown top-level and logger-level fields are rejected; handler,
// processor and renderer params stay free-form until the factory validates
// them per variant.
type Config struct {
	Queue        QueueConfig    `yaml:"queue"`
	Loggers      []LoggerConfig `yaml:"loggers"`
	DefaultLevel Level          `yaml:"default_level"`
}

func (c *Config) applyDefaults() {
	c.Queue.applyDefaults()
	if c.DefaultLevel == LevelNotset {
		c.DefaultLevel = LevelInfo
	}
	for i := range c.Loggers {
		if c.Loggers[i].Level == LevelNotset {
			c.Loggers[i].Level = LevelDebug
		}
	}
}

func (c *Config) validate() error {
	if err := c.Queue.validate(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Loggers))
	for _, lc := range c.Loggers {
		if lc.Name == "" {
			return fmt.Errorf("logger name must not be empty")
		}
		if _, dup := seen[lc.Name]; dup {
			return fmt.Errorf("duplicate logger name `%s`", lc.Name)
		}
		seen[lc.Name] = struct{}{}
	}
	return nil
}

// ParseConfig decodes a YAML document into a validated Config with defaults
// applied. Unknown fields outside of params blocks are an error.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.Strict()); err != nil {
		return nil, NewConfigurationError(
			"could not decode logging configuration", "Config", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, NewConfigurationError(
			"invalid logging configuration", "Config", err)
	}
	return &cfg, nil
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewConfigurationError(
			"could not read configuration file `"+path+"`", "Config", err)
	}
	return ParseConfig(data)
}

// LoggerNamed returns the configuration block for a logger name.
func (c *Config) LoggerNamed(name string) (LoggerConfig, bool) {
	for _, lc := range c.Loggers {
		if lc.Name == name {
			return lc, true
		}
	}
	return LoggerConfig{}, false
}

// ---------------------------------------------------------------------------
// Params extraction
//
// Variant params decode as free-form maps; these helpers pull typed values
// out, failing loudly on a type mismatch instead of misconfiguring silently.
// ---------------------------------------------------------------------------

func paramString(params map[string]any, key, fallback string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return fallback, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", paramTypeError(key, "string", v)
	}
	return s, nil
}

func paramBool(params map[string]any, key string, fallback bool) (bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return fallback, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, paramTypeError(key, "bool", v)
	}
	return b, nil
}

func paramInt(params map[string]any, key string, fallback int64) (int64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return fallback, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, paramTypeError(key, "int", v)
	}
}

func paramLevel(params map[string]any, key string, fallback Level) (Level, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return fallback, nil
	}
	switch lv := v.(type) {
	case string:
		return ParseLevel(lv)
	case int:
		return Level(lv), nil
	case int64:
		return Level(lv), nil
	case uint64:
		return Level(lv), nil
	default:
		return LevelNotset, paramTypeError(key, "level", v)
	}
}

func paramStringSlice(params map[string]any, key string) ([]string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, paramTypeError(key, "list of strings", v)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, paramTypeError(key, "list of strings", v)
		}
		out = append(out, s)
	}
	return out, nil
}

func paramStringMap(params map[string]any, key string) (map[string]string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, nil
	}
	out := make(map[string]string)
	switch raw := v.(type) {
	case map[string]any:
		for k, item := range raw {
			s, ok := item.(string)
			if !ok {
				return nil, paramTypeError(key, "mapping of strings", v)
			}
			out[k] = s
		}
	case map[any]any:
		for k, item := range raw {
			ks, kok := k.(string)
			s, vok := item.(string)
			if !kok || !vok {
				return nil, paramTypeError(key, "mapping of strings", v)
			}
			out[ks] = s
		}
	default:
		return nil, paramTypeError(key, "mapping of strings", v)
	}
	return out, nil
}

func paramTypeError(key, want string, got any) error {
	return NewConfigurationError(
		fmt.Sprintf("value for key `%s` has incorrect type: expected %s, got %T", key, want, got),
		"Config", nil)
}
