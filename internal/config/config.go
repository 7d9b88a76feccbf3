// Package config loads swatch settings from defaults, an optional YAML file
// and SWATCH_ environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// EnvPrefix prefixes every environment override. A double underscore
// separates sections: SWATCH_SCORING__TEXT_GATE sets scoring.text_gate.
const EnvPrefix = "SWATCH_"

// PathEnvVar names a config file to load instead of the default search.
const PathEnvVar = "SWATCH_CONFIG"

// DefaultPaths are searched in order when no explicit path is given.
var DefaultPaths = []string{"swatch.yaml", "swatch.yml"}

// Config holds all swatch configuration.
type Config struct {
	Scoring   ScoringConfig   `koanf:"scoring"`
	Engine    EngineConfig    `koanf:"engine"`
	Embedder  EmbedderConfig  `koanf:"embedder"`
	Detector  DetectorConfig  `koanf:"detector"`
	Connector ConnectorConfig `koanf:"connector"`
	Output    OutputConfig    `koanf:"output"`
	Log       LogConfig       `koanf:"log"`
}

// ScoringConfig holds the calibration constants of the scorer.
type ScoringConfig struct {
	VisionWeight      float64 `koanf:"vision_weight" validate:"gte=0"`
	DescriptionWeight float64 `koanf:"description_weight" validate:"gte=0"`
	TitleWeight       float64 `koanf:"title_weight" validate:"gte=0"`
	ManualBonus       float64 `koanf:"manual_bonus" validate:"gte=0"`
	ExactThreshold    float64 `koanf:"exact_threshold" validate:"gte=0,lte=1"`
	SemanticThreshold float64 `koanf:"semantic_threshold" validate:"gte=0,lte=1"`
	TextGate          string  `koanf:"text_gate" validate:"oneof=zero below_bonus"`
	// TaxonomyPath replaces the embedded taxonomy when set.
	TaxonomyPath string `koanf:"taxonomy_path"`
}

// EngineConfig bounds one classification.
type EngineConfig struct {
	Concurrency int           `koanf:"concurrency" validate:"gte=1"`
	Timeout     time.Duration `koanf:"timeout" validate:"gte=0"`
}

// EmbedderConfig selects and configures the embedding backend.
type EmbedderConfig struct {
	Backend        string `koanf:"backend" validate:"oneof=onnx openai hashing"`
	ModelDir       string `koanf:"model_dir"`
	ModelPath      string `koanf:"model_path"`
	TokenizerPath  string `koanf:"tokenizer_path"`
	ProjectionPath string `koanf:"projection_path"`
	LibraryPath    string `koanf:"library_path"`

	OpenAIModel      string `koanf:"openai_model"`
	OpenAIDimensions int    `koanf:"openai_dimensions" validate:"gte=0"`
	OpenAIBaseURL    string `koanf:"openai_base_url"`
	APIKey           string `koanf:"api_key"`

	HashingDim int `koanf:"hashing_dim" validate:"gte=1"`

	// CacheDir persists embeddings in Badger. Empty keeps them in memory.
	CacheDir  string `koanf:"cache_dir"`
	CacheSize int    `koanf:"cache_size" validate:"gte=0"`
}

// DetectorConfig selects the image label detector and its fault limits.
type DetectorConfig struct {
	Backend         string        `koanf:"backend" validate:"oneof=vision gemini none"`
	Endpoint        string        `koanf:"endpoint"`
	APIKey          string        `koanf:"api_key"`
	GeminiModel     string        `koanf:"gemini_model"`
	MaxResults      int           `koanf:"max_results" validate:"gte=1"`
	RatePerSecond   float64       `koanf:"rate_per_second" validate:"gte=0"`
	Burst           int           `koanf:"burst" validate:"gte=1"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"gte=1"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"gte=0"`
	MaxRetries      int           `koanf:"max_retries" validate:"gte=0"`
	Timeout         time.Duration `koanf:"timeout" validate:"gte=0"`
}

// ConnectorConfig holds settings for the batch item source.
type ConnectorConfig struct {
	Provider     string        `koanf:"provider" validate:"oneof=file feed"`
	Path         string        `koanf:"path"`
	Endpoint     string        `koanf:"endpoint"`
	APIKey       string        `koanf:"api_key"`
	Host         string        `koanf:"host"`
	Country      string        `koanf:"country"`
	PollInterval time.Duration `koanf:"poll_interval" validate:"gte=0"`
}

// OutputConfig holds output destination settings.
type OutputConfig struct {
	Format     string `koanf:"format" validate:"oneof=stdout file both webhook"`
	Path       string `koanf:"path"`
	WebhookURL string `koanf:"webhook_url"`
	Verbosity  string `koanf:"verbosity" validate:"oneof=minimal standard full"`
	Pretty     bool   `koanf:"pretty"`
	MaxSize    int64  `koanf:"max_size" validate:"gte=0"`
	MaxBackups int    `koanf:"max_backups" validate:"gte=0"`
	// AsyncBuffer decouples writes from classification when > 0.
	AsyncBuffer int `koanf:"async_buffer" validate:"gte=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Scoring: ScoringConfig{
			VisionWeight:      1,
			DescriptionWeight: 2,
			TitleWeight:       3,
			ManualBonus:       50,
			ExactThreshold:    0.65,
			SemanticThreshold: 0.3,
			TextGate:          "zero",
		},
		Engine: EngineConfig{
			Concurrency: 10,
			Timeout:     30 * time.Second,
		},
		Embedder: EmbedderConfig{
			Backend:    "onnx",
			ModelDir:   "models",
			HashingDim: 256,
			CacheSize:  4096,
		},
		Detector: DetectorConfig{
			Backend:         "vision",
			MaxResults:      10,
			RatePerSecond:   5,
			Burst:           5,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
			Timeout:         30 * time.Second,
		},
		Connector: ConnectorConfig{
			Provider:     "file",
			PollInterval: time.Minute,
		},
		Output: OutputConfig{
			Format:     "stdout",
			Verbosity:  "standard",
			MaxSize:    100 << 20,
			MaxBackups: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration. path names a YAML file; when empty,
// SWATCH_CONFIG and then DefaultPaths are tried, and a missing file is not
// an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path == "" {
		path = findFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps SWATCH_SCORING__TEXT_GATE to scoring.text_gate.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks field ranges and the settings each selected backend
// needs. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if err := getValidator().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("config: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, fieldError(fe))
		}
	}

	switch c.Output.Format {
	case "file", "both":
		if c.Output.Path == "" {
			errs = append(errs, errors.New("output.path is required for file output"))
		}
	case "webhook":
		if c.Output.WebhookURL == "" {
			errs = append(errs, errors.New("output.webhook_url is required for webhook output"))
		}
	}
	if c.Connector.Provider == "feed" && c.Connector.APIKey == "" {
		errs = append(errs, errors.New("connector.api_key is required for the feed connector (SWATCH_CONNECTOR__API_KEY)"))
	}
	if c.Embedder.Backend == "openai" && c.Embedder.APIKey == "" {
		errs = append(errs, errors.New("embedder.api_key is required for the openai backend (SWATCH_EMBEDDER__API_KEY)"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// fieldError renders a validator failure with the dotted config key.
func fieldError(fe validator.FieldError) error {
	key := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "oneof":
		return fmt.Errorf("%s must be one of: %s (got %v)", key, fe.Param(), fe.Value())
	case "gte":
		return fmt.Errorf("%s must be >= %s (got %v)", key, fe.Param(), fe.Value())
	case "lte":
		return fmt.Errorf("%s must be <= %s (got %v)", key, fe.Param(), fe.Value())
	default:
		return fmt.Errorf("%s failed %s", key, fe.Tag())
	}
}

// ONNXPaths resolves the encoder files, filling unset paths from ModelDir.
func (e EmbedderConfig) ONNXPaths() (model, tokenizer, projection string) {
	model, tokenizer, projection = e.ModelPath, e.TokenizerPath, e.ProjectionPath
	if e.ModelDir == "" {
		return model, tokenizer, projection
	}
	if model == "" {
		model = filepath.Join(e.ModelDir, "model.onnx")
	}
	if tokenizer == "" {
		tokenizer = filepath.Join(e.ModelDir, "tokenizer.json")
	}
	if projection == "" {
		p := filepath.Join(e.ModelDir, "2_Dense", "model.safetensors")
		if _, err := os.Stat(p); err == nil {
			projection = p
		}
	}
	return model, tokenizer, projection
}
