package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate clears every SWATCH_ variable for the duration of the test and
// moves into an empty directory so no swatch.yaml is picked up.
func isolate(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, EnvPrefix) {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
	t.Chdir(t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Scoring.VisionWeight != 1 || cfg.Scoring.DescriptionWeight != 2 || cfg.Scoring.TitleWeight != 3 {
		t.Errorf("weights = %+v", cfg.Scoring)
	}
	if cfg.Scoring.ManualBonus != 50 {
		t.Errorf("manual bonus = %v, want 50", cfg.Scoring.ManualBonus)
	}
	if cfg.Scoring.ExactThreshold != 0.65 || cfg.Scoring.SemanticThreshold != 0.3 {
		t.Errorf("thresholds = %v / %v", cfg.Scoring.ExactThreshold, cfg.Scoring.SemanticThreshold)
	}
	if cfg.Scoring.TextGate != "zero" {
		t.Errorf("text gate = %q, want zero", cfg.Scoring.TextGate)
	}
	if cfg.Engine.Concurrency != 10 || cfg.Engine.Timeout != 30*time.Second {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Detector.BreakerFailures != 5 || cfg.Detector.BreakerTimeout != 30*time.Second {
		t.Errorf("detector = %+v", cfg.Detector)
	}
	if cfg.Output.Format != "stdout" || cfg.Output.Verbosity != "standard" {
		t.Errorf("output = %+v", cfg.Output)
	}
}

func TestLoad_File(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "swatch.yaml")
	doc := `
scoring:
  text_gate: below_bonus
  title_weight: 4
engine:
  timeout: 5s
embedder:
  backend: hashing
output:
  format: file
  path: out.ndjson
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Scoring.TextGate != "below_bonus" || cfg.Scoring.TitleWeight != 4 {
		t.Errorf("scoring = %+v", cfg.Scoring)
	}
	if cfg.Scoring.DescriptionWeight != 2 {
		t.Errorf("unset key lost its default: description_weight = %v", cfg.Scoring.DescriptionWeight)
	}
	if cfg.Engine.Timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", cfg.Engine.Timeout)
	}
	if cfg.Embedder.Backend != "hashing" || cfg.Output.Path != "out.ndjson" {
		t.Errorf("embedder/output = %+v / %+v", cfg.Embedder, cfg.Output)
	}
}

func TestLoad_DefaultPathSearch(t *testing.T) {
	isolate(t)
	if err := os.WriteFile("swatch.yaml", []byte("engine:\n  concurrency: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Engine.Concurrency != 3 {
		t.Errorf("concurrency = %d, want 3", cfg.Engine.Concurrency)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "swatch.yaml")
	if err := os.WriteFile(path, []byte("scoring:\n  manual_bonus: 40\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SWATCH_SCORING__MANUAL_BONUS", "60")
	t.Setenv("SWATCH_SCORING__TEXT_GATE", "below_bonus")
	t.Setenv("SWATCH_DETECTOR__BREAKER_TIMEOUT", "1m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Scoring.ManualBonus != 60 {
		t.Errorf("manual bonus = %v, want 60", cfg.Scoring.ManualBonus)
	}
	if cfg.Scoring.TextGate != "below_bonus" {
		t.Errorf("text gate = %q", cfg.Scoring.TextGate)
	}
	if cfg.Detector.BreakerTimeout != time.Minute {
		t.Errorf("breaker timeout = %v, want 1m", cfg.Detector.BreakerTimeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	isolate(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for explicit missing file")
	}
}

func TestLoad_InvalidRejected(t *testing.T) {
	isolate(t)
	t.Setenv("SWATCH_SCORING__TEXT_GATE", "sometimes")
	_, err := Load("")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "scoring.text_gate") {
		t.Errorf("error should name the key, got: %v", err)
	}
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"SWATCH_SCORING__TEXT_GATE", "scoring.text_gate"},
		{"SWATCH_LOG__LEVEL", "log.level"},
		{"SWATCH_EMBEDDER__OPENAI_BASE_URL", "embedder.openai_base_url"},
	}
	for _, tt := range tests {
		if got := envKey(tt.in); got != tt.want {
			t.Errorf("envKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// --- Validate tests ---

func validConfig() Config {
	return Default()
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected nil error for valid config, got: %v", err)
	}
}

func TestValidate_BadThreshold(t *testing.T) {
	cfg := validConfig()
	cfg.Scoring.ExactThreshold = 1.5
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for threshold 1.5")
	}
	if !strings.Contains(err.Error(), "scoring.exact_threshold") {
		t.Fatalf("expected error to mention 'scoring.exact_threshold', got: %v", err)
	}
}

func TestValidate_BadVerbosity(t *testing.T) {
	cfg := validConfig()
	cfg.Output.Verbosity = "verbose"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid verbosity")
	}
	if !strings.Contains(err.Error(), "output.verbosity") {
		t.Fatalf("expected error to mention 'output.verbosity', got: %v", err)
	}
}

func TestValidate_FileOutputNeedsPath(t *testing.T) {
	cfg := validConfig()
	cfg.Output.Format = "both"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "output.path") {
		t.Fatalf("expected output.path error, got: %v", err)
	}
}

func TestValidate_WebhookNeedsURL(t *testing.T) {
	cfg := validConfig()
	cfg.Output.Format = "webhook"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "output.webhook_url") {
		t.Fatalf("expected output.webhook_url error, got: %v", err)
	}
}

func TestValidate_FeedNeedsAPIKey(t *testing.T) {
	cfg := validConfig()
	cfg.Connector.Provider = "feed"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SWATCH_CONNECTOR__API_KEY") {
		t.Fatalf("expected connector api key error, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Embedder.Backend = "openai"
	cfg.Engine.Concurrency = 0
	cfg.Detector.Backend = "rekognition"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for multiple bad fields")
	}
	msg := err.Error()
	for _, want := range []string{"SWATCH_EMBEDDER__API_KEY", "engine.concurrency", "detector.backend"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected error to mention %q, got: %v", want, msg)
		}
	}
}

func TestONNXPaths(t *testing.T) {
	dir := t.TempDir()
	e := EmbedderConfig{ModelDir: dir}
	model, tok, proj := e.ONNXPaths()
	if model != filepath.Join(dir, "model.onnx") || tok != filepath.Join(dir, "tokenizer.json") {
		t.Errorf("paths = %q, %q", model, tok)
	}
	if proj != "" {
		t.Errorf("projection = %q, want empty when absent", proj)
	}

	if err := os.MkdirAll(filepath.Join(dir, "2_Dense"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "2_Dense", "model.safetensors"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, proj = e.ONNXPaths(); proj == "" {
		t.Error("projection not found in model dir")
	}

	e.ModelPath = "/custom/encoder.onnx"
	if model, _, _ = e.ONNXPaths(); model != "/custom/encoder.onnx" {
		t.Errorf("explicit model path overridden: %q", model)
	}
}

func TestVersion_IsSet(t *testing.T) {
	if Version == "" {
		t.Fatal("Version should not be empty")
	}
}
