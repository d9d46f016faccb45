package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"

	PolicyOverwrite  = "overwrite"
	PolicyAccumulate = "accumulate"
)

type S3Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UsePathStyle bool
	Prefix       string
}

// Enabled reports whether evaluated images should be archived.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

type Config struct {
	AIProvider        string
	GeminiAPIKey      string
	GeminiModel       string
	OpenAIAPIKey      string
	OpenAIModel       string
	AIConcurrentLimit int
	AITimeout         time.Duration

	HTTPPort       string
	MaxUploadBytes int64
	LogLevel       string
	LogFormat      string

	StoreBackend  string
	DatabaseURL   string
	DataDir       string
	RedisURL      string
	RedisPassword string
	RedisDB       int

	OwnerCode          string
	RegistrationPolicy string
	DefaultCodeUses    int
	RubricFile         string
	ReportFooter       string
	AdminJWTSecret     string
	S3                 S3Config
	EnvFileLoaded      bool
}

// Load reads the configuration with Read and validates it.
func Load() (*Config, error) {
	cfg := Read()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads an optional .env file and then the process environment,
// without validating the result.
func Read() *Config {
	loaded := godotenv.Load() == nil

	cfg := &Config{
		AIProvider:        strings.ToLower(getEnv("AI_PROVIDER", ProviderGemini)),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-1.5-flash-latest"),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AIConcurrentLimit: getEnvAsInt("AI_CONCURRENT_LIMIT", 4),
		AITimeout:         getEnvAsDuration("AI_TIMEOUT", 60*time.Second),

		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		MaxUploadBytes: int64(getEnvAsInt("MAX_UPLOAD_BYTES", 10<<20)),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),

		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", BackendSQLite)),
		DatabaseURL:   getEnv("DATABASE_URL", "suture_feedback.db"),
		DataDir:       getEnv("DATA_DIR", "data"),
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		OwnerCode:          getEnv("OWNER_CODE", "IMPULSE-OWNER"),
		RegistrationPolicy: strings.ToLower(getEnv("CODE_REGISTRATION_POLICY", PolicyOverwrite)),
		DefaultCodeUses:    getEnvAsInt("DEFAULT_CODE_USES", 10),
		RubricFile:         getEnv("RUBRIC_FILE", ""),
		ReportFooter:       getEnv("REPORT_FOOTER", "Generated by Impulse Sim AI Feedback"),
		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		S3: S3Config{
			Endpoint:     getEnv("S3_ENDPOINT", ""),
			Region:       getEnv("S3_REGION", ""),
			AccessKey:    getEnv("S3_ACCESS_KEY", ""),
			SecretKey:    getEnv("S3_SECRET_KEY", ""),
			Bucket:       getEnv("S3_BUCKET", ""),
			UsePathStyle: getEnvAsBool("S3_USE_PATH_STYLE", false),
			Prefix:       getEnv("S3_PREFIX", "evaluations"),
		},
		EnvFileLoaded: loaded,
	}
	return cfg
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	var missing []string
	switch c.AIProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			missing = append(missing, "GEMINI_API_KEY")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("unknown AI_PROVIDER %q", c.AIProvider)
	}

	switch c.StoreBackend {
	case BackendSQLite, BackendFile, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.RegistrationPolicy {
	case PolicyOverwrite, PolicyAccumulate:
	default:
		return fmt.Errorf("unknown CODE_REGISTRATION_POLICY %q", c.RegistrationPolicy)
	}

	if strings.TrimSpace(c.OwnerCode) == "" {
		missing = append(missing, "OWNER_CODE")
	}
	if c.DefaultCodeUses < 0 {
		return errors.New("DEFAULT_CODE_USES must not be negative")
	}
	if c.S3.Enabled() && (c.S3.Region == "" || c.S3.AccessKey == "" || c.S3.SecretKey == "") {
		missing = append(missing, "S3_REGION/S3_ACCESS_KEY/S3_SECRET_KEY")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil && value > 0 {
		return value
	}
	return defaultValue
}
