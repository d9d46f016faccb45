package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderGemini, cfg.AIProvider)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, PolicyOverwrite, cfg.RegistrationPolicy)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 10, cfg.DefaultCodeUses)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 60*time.Second, cfg.AITimeout)
	assert.False(t, cfg.S3.Enabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AI_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("STORE_BACKEND", "file")
	t.Setenv("CODE_REGISTRATION_POLICY", "accumulate")
	t.Setenv("AI_TIMEOUT", "5s")
	t.Setenv("AI_CONCURRENT_LIMIT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenAI, cfg.AIProvider)
	assert.Equal(t, BackendFile, cfg.StoreBackend)
	assert.Equal(t, PolicyAccumulate, cfg.RegistrationPolicy)
	assert.Equal(t, 5*time.Second, cfg.AITimeout)
	assert.Equal(t, 4, cfg.AIConcurrentLimit)
}

func TestRead_SkipsValidation(t *testing.T) {
	t.Setenv("AI_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("ADMIN_JWT_SECRET", "admin-secret")

	cfg := Read()
	assert.Equal(t, "admin-secret", cfg.AdminJWTSecret)

	_, err := Load()
	assert.ErrorContains(t, err, "GEMINI_API_KEY")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			AIProvider:         ProviderGemini,
			GeminiAPIKey:       "k",
			StoreBackend:       BackendMemory,
			RegistrationPolicy: PolicyOverwrite,
			OwnerCode:          "OWNER",
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("missing provider key", func(t *testing.T) {
		c := base()
		c.GeminiAPIKey = ""
		assert.ErrorContains(t, c.Validate(), "GEMINI_API_KEY")
	})

	t.Run("unknown backend", func(t *testing.T) {
		c := base()
		c.StoreBackend = "mongo"
		assert.ErrorContains(t, c.Validate(), "STORE_BACKEND")
	})

	t.Run("unknown policy", func(t *testing.T) {
		c := base()
		c.RegistrationPolicy = "merge"
		assert.ErrorContains(t, c.Validate(), "CODE_REGISTRATION_POLICY")
	})

	t.Run("partial s3 config", func(t *testing.T) {
		c := base()
		c.S3.Bucket = "images"
		assert.ErrorContains(t, c.Validate(), "S3_REGION")
	})
}
