package main

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"nc-assistant/handler"
	"nc-assistant/internal/auth"
	"nc-assistant/internal/config"
	"nc-assistant/internal/integrations/anthropic"
	"nc-assistant/internal/integrations/gemini"
	"nc-assistant/internal/integrations/llm"
	"nc-assistant/internal/integrations/objectstore"
	"nc-assistant/internal/integrations/ollama"
	"nc-assistant/internal/integrations/openai"
	"nc-assistant/internal/integrations/paramstore"
	"nc-assistant/internal/prompt"
	"nc-assistant/internal/repository"
	"nc-assistant/internal/retrieval"
	"nc-assistant/internal/usecase"
)

// app holds the wired components of one process.
type app struct {
	cfg       config.Config
	params    paramstore.Getter
	prompts   *prompt.Registry
	providers *llm.Registry
	embedder  retrieval.Embedder
	gateway   *retrieval.Gateway
	assistant *usecase.Assistant

	awsCfg  *aws.Config
	closers []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("Close failed")
		}
	}
}

// awsConfig loads the shared AWS configuration once. A configured endpoint
// is used for every service.
func (a *app) awsConfig(ctx context.Context) (aws.Config, error) {
	if a.awsCfg != nil {
		return *a.awsCfg, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if a.cfg.AWS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(a.cfg.AWS.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, errors.Wrap(err, "load AWS config")
	}
	if a.cfg.AWS.Endpoint != "" {
		cfg.BaseEndpoint = aws.String(a.cfg.AWS.Endpoint)
	}
	a.awsCfg = &cfg
	return cfg, nil
}

// newApp wires the assistant. withRetrieval false skips the retrieval
// backend, for commands that only need prompts.
func newApp(ctx context.Context, cfg config.Config, withRetrieval bool) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.initParams(ctx); err != nil {
		return nil, err
	}

	var err error
	if cfg.Prompts.Dir != "" {
		a.prompts, err = prompt.LoadAll(os.DirFS(cfg.Prompts.Dir))
	} else {
		a.prompts, err = prompt.LoadDefault()
	}
	if err != nil {
		return nil, errors.Wrap(err, "load prompt templates")
	}

	a.providers = newProviderRegistry(cfg, a.params)
	if withRetrieval {
		if err := a.initRetrieval(); err != nil {
			a.Close()
			return nil, err
		}
	} else {
		a.gateway = retrieval.NewGateway(nil)
	}

	a.assistant, err = usecase.NewAssistant(a.prompts, a.providers, a.gateway,
		usecase.WithDefaultProvider(cfg.LLM.DefaultProvider),
		usecase.WithRetrievalLimit(cfg.Retrieval.Limit),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	log.Info().
		Strs("providers", a.providers.Names()).
		Strs("prompts", a.prompts.Names()).
		Str("retrieval", cfg.Retrieval.Backend).
		Msg("Assistant ready")
	return a, nil
}

func (a *app) initParams(ctx context.Context) error {
	if a.cfg.AWS.ParamPrefix == "" {
		return nil
	}
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return err
	}
	c, err := paramstore.New(awsssm.NewFromConfig(awsCfg), a.cfg.AWS.ParamPrefix)
	if err != nil {
		return err
	}
	a.params = c
	return nil
}

// keyFor resolves a provider key from its static value, else from the
// parameter store on first use.
func keyFor(name string, p config.Provider, params paramstore.Getter) llm.KeyFunc {
	if p.APIKey != "" {
		return llm.StaticKey(p.APIKey)
	}
	if p.APIKeyParam != "" && params != nil {
		return paramstore.LazyToken(params, p.APIKeyParam)
	}
	return func(context.Context) (string, error) {
		return "", errors.Errorf("no API key configured for provider %q", name)
	}
}

func newProviderRegistry(cfg config.Config, params paramstore.Getter) *llm.Registry {
	reg := llm.NewRegistry()
	for _, name := range cfg.EnabledProviders() {
		p := cfg.Providers[name]
		key := keyFor(name, p, params)
		model := func(hint string) string {
			if hint != "" {
				return hint
			}
			return p.Model
		}
		switch name {
		case openai.Name:
			reg.Register(func(hint string) (llm.Provider, error) {
				return openai.NewClient(key, openai.WithModel(model(hint)), openai.WithBaseURL(p.BaseURL))
			}, name)
		case openai.MistralName:
			reg.Register(func(hint string) (llm.Provider, error) {
				return openai.NewMistral(key, openai.WithModel(model(hint)), openai.WithBaseURL(p.BaseURL))
			}, name)
		case anthropic.Name:
			reg.Register(func(hint string) (llm.Provider, error) {
				return anthropic.NewClient(key, anthropic.WithModel(model(hint)), anthropic.WithBaseURL(p.BaseURL))
			}, name)
		case gemini.Name:
			reg.Register(func(hint string) (llm.Provider, error) {
				return gemini.NewClient(key, gemini.WithModel(model(hint)), gemini.WithBaseURL(p.BaseURL))
			}, name, "google")
		case ollama.Name:
			reg.Register(func(hint string) (llm.Provider, error) {
				return ollama.NewClient(model(hint))
			}, name)
		case llm.EchoName:
			reg.Register(func(hint string) (llm.Provider, error) {
				return llm.NewEcho(model(hint))
			}, name)
		}
	}
	return reg
}

func (a *app) newEmbedder() (retrieval.Embedder, error) {
	if a.embedder != nil {
		return a.embedder, nil
	}
	name := a.cfg.Retrieval.EmbeddingProvider
	p := a.cfg.Providers[name]
	e, err := openai.NewEmbedder(keyFor(name, p, a.params), a.cfg.Retrieval.EmbeddingModel, p.BaseURL, nil)
	if err != nil {
		return nil, err
	}
	a.embedder = e
	return e, nil
}

func (a *app) initRetrieval() error {
	r := a.cfg.Retrieval
	var backend retrieval.Backend
	switch r.Backend {
	case config.BackendSQLite:
		e, err := a.newEmbedder()
		if err != nil {
			return err
		}
		store, err := retrieval.OpenSQLite(r.SQLitePath, e)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store)
		backend = store
	case config.BackendWeaviate:
		e, err := a.newEmbedder()
		if err != nil {
			return err
		}
		w, err := retrieval.NewWeaviate(retrieval.WeaviateConfig{
			Host:   r.Weaviate.Host,
			Scheme: r.Weaviate.Scheme,
			APIKey: r.Weaviate.APIKey,
		}, e)
		if err != nil {
			return err
		}
		backend = w
	case config.BackendNone:
		log.Warn().Msg("No retrieval backend, answers will have no supporting sources")
	}

	opts := []retrieval.GatewayOption{retrieval.WithLimit(r.Limit)}
	if r.Rerank && backend != nil {
		e, err := a.newEmbedder()
		if err != nil {
			return err
		}
		rr, err := retrieval.NewEmbeddingReranker(e)
		if err != nil {
			return err
		}
		opts = append(opts, retrieval.WithReranker(rr))
	}
	a.gateway = retrieval.NewGateway(backend, opts...)
	return nil
}

// newHandler builds the HTTP surface, with document routes when buckets are
// configured and account routes when auth is enabled.
func (a *app) newHandler(ctx context.Context) (*handler.Handler, error) {
	s := a.cfg.Server
	opts := []handler.Option{
		handler.WithAllowedOrigins(s.AllowedOrigins...),
		handler.WithMaxBodyBytes(s.MaxBodyBytes),
		handler.WithLogger(log.Logger),
	}

	if a.cfg.Storage.DocsBucket != "" || a.cfg.Storage.NCBucket != "" {
		docs, err := a.newObjectStore(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, handler.WithDocuments(docs, a.cfg.Storage.DocsBucket, a.cfg.Storage.NCBucket))
	}

	if a.cfg.Auth.Enabled {
		svc, err := a.newAuth(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, handler.WithAuth(svc, a.cfg.Auth.Required))
	}
	return handler.NewHandler(a.assistant, opts...)
}

func (a *app) newObjectStore(ctx context.Context) (*objectstore.Client, error) {
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	s3Client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.UsePathStyle = a.cfg.Storage.UsePathStyle
	})
	return objectstore.New(s3Client)
}

func (a *app) newAuth(ctx context.Context) (*auth.Service, error) {
	c := a.cfg.Auth
	secret := c.JWTSecret
	if secret == "" {
		var err error
		if secret, err = paramstore.Token(ctx, a.params, c.JWTSecretParam); err != nil {
			return nil, errors.Wrap(err, "resolve JWT secret")
		}
	}

	var users repository.UserStore
	if c.UsersTable != "" {
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		client, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), c.UsersTable)
		if err != nil {
			return nil, err
		}
		users = client
	} else {
		log.Warn().Msg("No users table configured, accounts are kept in memory")
		users = repository.NewMemory()
	}

	svc, err := auth.NewService(users, secret, auth.WithTTL(c.AccessTTL, c.RefreshTTL))
	if err != nil {
		return nil, err
	}
	if user := strings.TrimSpace(c.SeedUser); user != "" {
		if err := svc.EnsureUser(ctx, user, c.SeedPassword); err != nil {
			return nil, errors.Wrap(err, "seed user")
		}
	}
	return svc, nil
}
