// Package config loads the service configuration from a config file, NCBOT_
// environment variables and command-line flags.
package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "NCBOT"
	appName   = "ncbot"
)

type Config struct {
	Log       Log                 `mapstructure:"log"`
	Server    Server              `mapstructure:"server"`
	AWS       AWS                 `mapstructure:"aws"`
	Providers map[string]Provider `mapstructure:"providers"`
	LLM       LLM                 `mapstructure:"llm"`
	Prompts   Prompts             `mapstructure:"prompts"`
	Retrieval Retrieval           `mapstructure:"retrieval"`
	Storage   Storage             `mapstructure:"storage"`
	Auth      Auth                `mapstructure:"auth"`
}

type Log struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	WithCaller bool   `mapstructure:"with-caller"`
}

type Server struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed-origins"`
	MaxBodyBytes    int64         `mapstructure:"max-body-bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
}

type AWS struct {
	Region string `mapstructure:"region"`
	// Endpoint overrides every AWS service endpoint (LocalStack, S3-compatible
	// stores).
	Endpoint    string `mapstructure:"endpoint"`
	ParamPrefix string `mapstructure:"param-prefix"`
}

// Provider configures one model backend. The key comes from APIKey or, when
// empty, from the SSM parameter APIKeyParam holding {"token": "..."}.
type Provider struct {
	Enabled     bool   `mapstructure:"enabled"`
	Model       string `mapstructure:"model"`
	BaseURL     string `mapstructure:"base-url"`
	APIKey      string `mapstructure:"api-key"`
	APIKeyParam string `mapstructure:"api-key-param"`
}

type LLM struct {
	DefaultProvider string `mapstructure:"default-provider"`
}

type Prompts struct {
	// Dir replaces the embedded templates when set.
	Dir string `mapstructure:"dir"`
}

type Retrieval struct {
	Backend        string   `mapstructure:"backend"`
	Limit          int      `mapstructure:"limit"`
	Rerank         bool     `mapstructure:"rerank"`
	SQLitePath     string   `mapstructure:"sqlite-path"`
	Weaviate       Weaviate `mapstructure:"weaviate"`
	EmbeddingModel string   `mapstructure:"embedding-model"`
	// EmbeddingProvider names the Providers entry whose key and base URL the
	// embedder uses.
	EmbeddingProvider string `mapstructure:"embedding-provider"`
}

type Weaviate struct {
	Host   string `mapstructure:"host"`
	Scheme string `mapstructure:"scheme"`
	APIKey string `mapstructure:"api-key"`
}

type Storage struct {
	DocsBucket   string `mapstructure:"docs-bucket"`
	NCBucket     string `mapstructure:"nc-bucket"`
	UsePathStyle bool   `mapstructure:"use-path-style"`
}

type Auth struct {
	Enabled        bool          `mapstructure:"enabled"`
	Required       bool          `mapstructure:"required"`
	JWTSecret      string        `mapstructure:"jwt-secret"`
	JWTSecretParam string        `mapstructure:"jwt-secret-param"`
	AccessTTL      time.Duration `mapstructure:"access-ttl"`
	RefreshTTL     time.Duration `mapstructure:"refresh-ttl"`
	UsersTable     string        `mapstructure:"users-table"`
	SeedUser       string        `mapstructure:"seed-user"`
	SeedPassword   string        `mapstructure:"seed-password"`
}

// Retrieval backends.
const (
	BackendSQLite   = "sqlite"
	BackendWeaviate = "weaviate"
	BackendNone     = "none"
)

var knownProviders = []string{"openai", "mistral", "anthropic", "gemini", "ollama", "echo"}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed-origins", []string{"http://localhost:5173"})
	v.SetDefault("server.max-body-bytes", 1<<20)
	v.SetDefault("server.shutdown-timeout", 15*time.Second)

	v.SetDefault("llm.default-provider", "openai")
	for _, name := range knownProviders {
		v.SetDefault("providers."+name+".enabled", name != "echo")
	}
	v.SetDefault("providers.openai.api-key-param", "open-ai-token")
	v.SetDefault("providers.mistral.api-key-param", "mistral-token")
	v.SetDefault("providers.anthropic.api-key-param", "anthropic-token")
	v.SetDefault("providers.gemini.api-key-param", "gemini-token")

	v.SetDefault("retrieval.backend", BackendSQLite)
	v.SetDefault("retrieval.limit", 10)
	v.SetDefault("retrieval.sqlite-path", "ncbot.db")
	v.SetDefault("retrieval.weaviate.scheme", "http")
	v.SetDefault("retrieval.weaviate.host", "localhost:8080")
	v.SetDefault("retrieval.embedding-provider", "openai")

	v.SetDefault("auth.access-ttl", 60*time.Minute)
	v.SetDefault("auth.refresh-ttl", 7*24*time.Hour)
}

// NewViper returns a viper instance reading configFile, or ncbot.yaml from
// the usual places when configFile is empty. NCBOT_ environment variables
// override the file, with '.' and '-' mapped to '_'.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(appName)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/." + appName)
		v.AddConfigPath("/etc/" + appName)
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, appName))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "config: read config file")
		}
	}
	return v, nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, errors.Wrap(err, "config: decode")
	}
	// AutomaticEnv only covers keys viper already knows of, so provider keys
	// from the environment are read explicitly.
	if c.Providers == nil {
		c.Providers = map[string]Provider{}
	}
	for _, name := range knownProviders {
		p := c.Providers[name]
		if key := v.GetString("providers." + name + ".api-key"); key != "" {
			p.APIKey = key
		}
		c.Providers[name] = p
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	switch c.Retrieval.Backend {
	case BackendSQLite:
		if strings.TrimSpace(c.Retrieval.SQLitePath) == "" {
			return errors.New("config: retrieval.sqlite-path is required for the sqlite backend")
		}
	case BackendWeaviate:
		if strings.TrimSpace(c.Retrieval.Weaviate.Host) == "" {
			return errors.New("config: retrieval.weaviate.host is required for the weaviate backend")
		}
	case BackendNone:
	default:
		return errors.Errorf("config: unknown retrieval backend %q", c.Retrieval.Backend)
	}
	if c.Retrieval.Limit <= 0 {
		return errors.New("config: retrieval.limit must be positive")
	}
	def := strings.ToLower(c.LLM.DefaultProvider)
	if !slices.Contains(knownProviders, def) && def != "google" {
		return errors.Errorf("config: unknown default provider %q", c.LLM.DefaultProvider)
	}
	if c.Auth.Required && !c.Auth.Enabled {
		return errors.New("config: auth.required needs auth.enabled")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" && c.Auth.JWTSecretParam == "" {
		return errors.New("config: auth needs jwt-secret or jwt-secret-param")
	}
	return nil
}

// EnabledProviders lists the enabled provider names in a stable order.
func (c Config) EnabledProviders() []string {
	var out []string
	for _, name := range knownProviders {
		if c.Providers[name].Enabled {
			out = append(out, name)
		}
	}
	return out
}
