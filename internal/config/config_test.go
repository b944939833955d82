package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	v, err := NewViper("")
	require.NoError(t, err)

	c, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, ":8080", c.Server.Addr)
	require.Equal(t, "info", c.Log.Level)
	require.Equal(t, BackendSQLite, c.Retrieval.Backend)
	require.Equal(t, 10, c.Retrieval.Limit)
	require.Equal(t, 60*time.Minute, c.Auth.AccessTTL)
	require.Equal(t, "openai", c.LLM.DefaultProvider)
	require.Equal(t, []string{"openai", "mistral", "anthropic", "gemini", "ollama"}, c.EnabledProviders())
	require.Equal(t, "open-ai-token", c.Providers["openai"].APIKeyParam)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "ncbot.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  addr: ":9000"
  allowed-origins: ["https://nc.example.com"]
retrieval:
  backend: weaviate
  limit: 5
  weaviate:
    host: weaviate:8080
providers:
  echo:
    enabled: true
  ollama:
    enabled: false
    model: llama3
storage:
  docs-bucket: docs
  nc-bucket: nc
`), 0o600))
	t.Setenv("NCBOT_LOG_LEVEL", "debug")
	t.Setenv("NCBOT_PROVIDERS_ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("NCBOT_STORAGE_NC_BUCKET", "nc-prod")

	v, err := NewViper(file)
	require.NoError(t, err)
	c, err := Load(v)
	require.NoError(t, err)

	require.Equal(t, ":9000", c.Server.Addr)
	require.Equal(t, []string{"https://nc.example.com"}, c.Server.AllowedOrigins)
	require.Equal(t, BackendWeaviate, c.Retrieval.Backend)
	require.Equal(t, "weaviate:8080", c.Retrieval.Weaviate.Host)
	require.Equal(t, 5, c.Retrieval.Limit)
	require.Equal(t, "debug", c.Log.Level)
	require.Equal(t, "sk-ant", c.Providers["anthropic"].APIKey)
	require.Equal(t, "docs", c.Storage.DocsBucket)
	require.Equal(t, "nc-prod", c.Storage.NCBucket)
	require.Equal(t, "llama3", c.Providers["ollama"].Model)
	require.Contains(t, c.EnabledProviders(), "echo")
	require.NotContains(t, c.EnabledProviders(), "ollama")
}

func TestExplicitFileMustExist(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			LLM:       LLM{DefaultProvider: "openai"},
			Retrieval: Retrieval{Backend: BackendNone, Limit: 10},
		}
	}
	require.NoError(t, valid().Validate())

	c := valid()
	c.Retrieval.Backend = "chroma"
	require.ErrorContains(t, c.Validate(), "unknown retrieval backend")

	c = valid()
	c.Retrieval.Limit = 0
	require.Error(t, c.Validate())

	c = valid()
	c.LLM.DefaultProvider = "cohere"
	require.Error(t, c.Validate())

	c = valid()
	c.Auth.Required = true
	require.Error(t, c.Validate())

	c = valid()
	c.Auth.Enabled = true
	require.ErrorContains(t, c.Validate(), "jwt-secret")
	c.Auth.JWTSecretParam = "jwt"
	require.NoError(t, c.Validate())
}
