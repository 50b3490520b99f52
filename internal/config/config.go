package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by ONTOLOOM_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("ONTOLOOM_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// SchemaFilePath is where the local schema backup lives.
// Defaults to "ontology.json" in the working directory.
func SchemaFilePath() string {
	p := os.Getenv("SCHEMA_FILE_PATH")
	if p == "" {
		return "ontology.json"
	}
	return p
}

// StrictValidation makes unknown entity types hard validation errors instead
// of warnings.
func StrictValidation() bool {
	return os.Getenv("STRICT_VALIDATION") == "true"
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func AnthropicAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

func GeminiAPIKey() string {
	return os.Getenv("GEMINI_API_KEY")
}

// LLMProvider returns the configured LLM provider.
// Defaults to "openai" if not set.
// Valid values: openai, anthropic, gemini, mock
func LLMProvider() string {
	p := os.Getenv("LLM_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

// LLMAPIKey returns the API key for the configured LLM provider.
func LLMAPIKey() string {
	switch LLMProvider() {
	case "anthropic":
		return AnthropicAPIKey()
	case "gemini":
		return GeminiAPIKey()
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// LLMRPS limits calls to the text-generation backend.
// Defaults to 2 per second if not set.
func LLMRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("LLM_RPS"), 64)
	if err != nil || rps <= 0 {
		return 2
	}
	return rps
}

// SyncDebounce returns the sync debounce window.
// Defaults to 2s if not set.
func SyncDebounce() time.Duration {
	ms, err := strconv.Atoi(os.Getenv("SYNC_DEBOUNCE_MS"))
	if err != nil || ms <= 0 {
		return 2 * time.Second
	}
	return time.Duration(ms) * time.Millisecond
}

// InferenceRulesEnabled controls whether enabled inference rules run during
// graph sync. Defaults to true; set INFERENCE_RULES_ENABLED=false to skip.
func InferenceRulesEnabled() bool {
	return os.Getenv("INFERENCE_RULES_ENABLED") != "false"
}

// AutoApproveEnabled turns on inline approval of high-confidence analysis
// findings.
func AutoApproveEnabled() bool {
	return os.Getenv("AUTO_APPROVE_ENABLED") == "true"
}

// AutoApproveThreshold returns the confidence floor for auto-approval.
// Defaults to 0.85 if not set.
func AutoApproveThreshold() float64 {
	threshold, err := strconv.ParseFloat(os.Getenv("AUTO_APPROVE_THRESHOLD"), 64)
	if err != nil || threshold <= 0 || threshold > 1 {
		return 0.85
	}
	return threshold
}

// GraphSampleSize bounds per-type sampling during compliance validation.
// Defaults to 100 if not set.
func GraphSampleSize() int {
	size, err := strconv.Atoi(os.Getenv("GRAPH_SAMPLE_SIZE"))
	if err != nil || size <= 0 {
		return 100
	}
	return size
}

func MigrationsPath() string {
	p := os.Getenv("MIGRATIONS_PATH")
	if p == "" {
		return "migrations"
	}
	return p
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
