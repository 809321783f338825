package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all pipeline configuration. It is read once at pipeline
// construction and passed explicitly through every stage; nothing mutates it
// afterwards.
type Config struct {
	Pipeline    PipelineConfig
	Preprocess  PreprocessConfig
	Recognition RecognitionConfig
	LLM         LLMConfig
	Ledger      LedgerConfig
}

// PipelineConfig holds scheduling and gating parameters.
type PipelineConfig struct {
	Workers         int           // active worker slots (N)
	QueueSize       int           // FIFO admission queue capacity
	DocumentTimeout time.Duration // whole-document budget
	StageTimeout    time.Duration // per-stage budget
	ConfidenceFloor float64       // below this, line items are dropped (needs_review)
}

// PreprocessConfig controls the image cleaning paths.
type PreprocessConfig struct {
	DualPath bool // run minimal + enhanced on original scans and keep the winner
	DPI      int  // rasterization DPI
	MaxPages int  // 0 = no limit
}

// RecognitionConfig holds text-recognition engine parameters.
type RecognitionConfig struct {
	Tesseract       string  // binary name or absolute path for the exec fallback
	Language        string  // default "eng"
	TessdataDir     string
	ConfidenceFloor float64       // per-region floor below which the fallback engine re-runs
	CallTimeout     time.Duration // per engine call
}

// LLMConfig holds the field-extraction model parameters.
type LLMConfig struct {
	BaseURL        string // OpenAI-compatible endpoint (Ollama, vLLM, OpenAI)
	Model          string
	APIKey         string
	Temperature    float32
	CallTimeout    time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BreakerTrips   int  // consecutive failures before the circuit opens
	Disabled       bool // administratively force the geometric strategy
}

// LedgerConfig locates the validated-record store.
type LedgerConfig struct {
	Path string // bbolt database file
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Workers:         getEnvAsInt("PIPELINE_WORKERS", 4),
			QueueSize:       getEnvAsInt("PIPELINE_QUEUE_SIZE", 256),
			DocumentTimeout: getEnvAsDuration("PIPELINE_DOC_TIMEOUT", 5*time.Minute),
			StageTimeout:    getEnvAsDuration("PIPELINE_STAGE_TIMEOUT", 90*time.Second),
			ConfidenceFloor: getEnvAsFloat("PIPELINE_CONFIDENCE_FLOOR", 0.25),
		},
		Preprocess: PreprocessConfig{
			DualPath: getEnvAsBool("PREPROCESS_DUAL_PATH", true),
			DPI:      getEnvAsInt("PREPROCESS_DPI", 300),
			MaxPages: getEnvAsInt("PREPROCESS_MAX_PAGES", 0),
		},
		Recognition: RecognitionConfig{
			Tesseract:       getEnv("TESSERACT_BIN", "tesseract"),
			Language:        getEnv("TESSERACT_LANG", "eng"),
			TessdataDir:     getEnv("TESSDATA_PREFIX", ""),
			ConfidenceFloor: getEnvAsFloat("RECOGNITION_CONFIDENCE_FLOOR", 0.30),
			CallTimeout:     getEnvAsDuration("RECOGNITION_TIMEOUT", 60*time.Second),
		},
		LLM: LLMConfig{
			BaseURL:        getEnv("LLM_BASE_URL", "http://localhost:11434/v1"),
			Model:          getEnv("LLM_MODEL", "llama3.1:8b"),
			APIKey:         getEnv("LLM_API_KEY", ""),
			Temperature:    getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			CallTimeout:    getEnvAsDuration("LLM_TIMEOUT", 45*time.Second),
			MaxRetries:     getEnvAsInt("LLM_MAX_RETRIES", 3),
			InitialBackoff: getEnvAsDuration("LLM_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     getEnvAsDuration("LLM_MAX_BACKOFF", 32*time.Second),
			BreakerTrips:   getEnvAsInt("LLM_BREAKER_TRIPS", 5),
			Disabled:       getEnvAsBool("LLM_DISABLED", false),
		},
		Ledger: LedgerConfig{
			Path: getEnv("LEDGER_PATH", "./invoices.db"),
		},
	}
}

// Validate validates the loaded configuration.
func (c *Config) Validate() error {
	if c.Pipeline.Workers <= 0 {
		return NewAppError("CONFIG_ERROR", "PIPELINE_WORKERS must be positive", ErrInvalidInput)
	}
	if c.Pipeline.ConfidenceFloor < 0 || c.Pipeline.ConfidenceFloor > 1 {
		return NewAppError("CONFIG_ERROR", "PIPELINE_CONFIDENCE_FLOOR must be in [0,1]", ErrInvalidInput)
	}
	if c.Recognition.ConfidenceFloor < 0 || c.Recognition.ConfidenceFloor > 1 {
		return NewAppError("CONFIG_ERROR", "RECOGNITION_CONFIDENCE_FLOOR must be in [0,1]", ErrInvalidInput)
	}
	if !c.LLM.Disabled && c.LLM.BaseURL == "" {
		return NewAppError("CONFIG_ERROR", "LLM_BASE_URL is required unless LLM_DISABLED", ErrInvalidInput)
	}
	return nil
}

// Helper functions for environment variable parsing.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
