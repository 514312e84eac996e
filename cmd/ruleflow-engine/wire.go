package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ruleflow/engine/internal/config"
	"github.com/ruleflow/engine/internal/engine"
	"github.com/ruleflow/engine/internal/features"
	"github.com/ruleflow/engine/internal/listsvc"
	"github.com/ruleflow/engine/internal/llmclient"
	"github.com/ruleflow/engine/internal/repository"
	"github.com/ruleflow/engine/internal/resultstore"
	"github.com/ruleflow/engine/internal/rferrors"
	"github.com/ruleflow/engine/internal/scorenorm"
	"github.com/ruleflow/engine/internal/svcclient"
	"github.com/ruleflow/engine/internal/vm"
)

// buildRepository selects and constructs the configured Repository backend
// (spec.md §4.3), wrapping it in the caching decorator when enabled. This is
// the one place that knows about all four backend names; everything
// downstream only sees the repository.Repository interface.
func buildRepository(ctx context.Context, cfg config.RepositoryConfig) (repository.Repository, func() error, error) {
	var repo repository.Repository
	closeFn := func() error { return nil }

	switch cfg.Backend {
	case "memory", "":
		repo = repository.NewMemoryRepository()
	case "filesystem":
		repo = repository.NewFilesystemRepository(cfg.FilesystemRoot)
	case "relational":
		r, err := repository.OpenRelationalRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open relational repository: %w", err)
		}
		repo = r
		closeFn = r.Close
	case "http":
		repo = repository.NewHTTPRepository(cfg.HTTPBaseURL, cfg.HTTPToken)
	default:
		return nil, nil, rferrors.InvalidValue("repository.backend", cfg.Backend)
	}

	if cfg.CacheEnabled {
		repo = repository.NewCachingRepository(repo, cfg.CacheTTLDuration(), cfg.CacheMaxItems, cfg.CacheMaxBytes)
	}
	return repo, closeFn, nil
}

// buildListService selects and constructs the configured list backend
// (spec.md §4.8).
func buildListService(ctx context.Context, cfg config.ListsConfig) (listsvc.Service, error) {
	switch cfg.Backend {
	case "memory", "":
		return listsvc.NewMemoryService(), nil
	case "file":
		s, err := listsvc.NewFileService(cfg.FileDir, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("open file list service: %w", err)
		}
		return s, nil
	case "relational":
		s, err := listsvc.OpenRelationalService(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open relational list service: %w", err)
		}
		return s, nil
	case "http":
		return listsvc.NewHTTPService(cfg.HTTPBaseURL, cfg.HTTPToken), nil
	default:
		return nil, rferrors.InvalidValue("lists.backend", cfg.Backend)
	}
}

// buildFeatureEngine loads feature definitions and opens one *sql.DB per
// configured SQL datasource (spec.md §4.7) before constructing the Engine.
// closeFn closes every opened datasource DB plus the optional L2 cache.
func buildFeatureEngine(cfg config.FeaturesConfig) (*features.Engine, func() error, error) {
	defs, err := loadFeatureDefinitions(cfg.DefinitionsPath)
	if err != nil {
		return nil, nil, err
	}

	datasources := make(map[string]features.Datasource, len(cfg.SQLDatasources))
	var dbs []*sql.DB
	for name, dsn := range cfg.SQLDatasources {
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open feature datasource %q: %w", name, err)
		}
		dbs = append(dbs, db)
		datasources[name] = &features.SQLDatasource{DB: db}
	}

	opts := []features.Option{features.WithDefaultTTL(cfg.DefaultTTLDuration())}
	var l2 *features.BadgerL2
	if cfg.L2Enabled {
		l2, err = features.OpenBadgerL2(cfg.L2BadgerPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open feature L2 cache: %w", err)
		}
		opts = append(opts, features.WithL2(l2))
	}

	closeFn := func() error {
		var first error
		for _, db := range dbs {
			if err := db.Close(); err != nil && first == nil {
				first = err
			}
		}
		if l2 != nil {
			if err := l2.Close(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	return features.New(defs, datasources, opts...), closeFn, nil
}

// buildLLMClient wires whichever providers have API keys configured. A
// provider left without a key is simply never registered — the CallLLM
// instruction surfaces UnknownReference rather than a credential error.
func buildLLMClient(cfg config.LLMConfig) *llmclient.Client {
	opts := []llmclient.Option{llmclient.WithTimeout(cfg.Timeout())}
	if cfg.AnthropicAPIKey != "" {
		opts = append(opts, llmclient.WithAnthropic(cfg.AnthropicAPIKey))
	}
	if cfg.OpenAIAPIKey != "" {
		opts = append(opts, llmclient.WithOpenAI(cfg.OpenAIAPIKey))
	}
	return llmclient.New(opts...)
}

// buildServiceClient wires the named external-service endpoints from
// config.Services into internal/svcclient.
func buildServiceClient(endpoints map[string]config.ServiceEndpointConfig) *svcclient.Client {
	eps := make(map[string]svcclient.Endpoint, len(endpoints))
	for name, e := range endpoints {
		eps[name] = svcclient.Endpoint{BaseURL: e.BaseURL, Token: e.Token}
	}
	return svcclient.New(eps)
}

// buildEngine assembles the engine.Engine façade from every collaborator
// buildX above produces, applying the config-driven VM limits and score
// curve, then performs the first Build pass.
func buildEngine(ctx context.Context, cfg *config.Config, repo repository.Repository, featureEngine engine.FeatureProvider, lists engine.ListProvider, llm *llmclient.Client, svc *svcclient.Client, writer resultstore.Writer) (*engine.Engine, error) {
	opts := []engine.Option{
		engine.WithLimits(vm.Limits{
			MaxInstructions: cfg.VM.MaxInstructions,
			MaxStackDepth:   cfg.VM.MaxStackDepth,
			Timeout:         cfg.VM.Timeout(),
		}),
		engine.WithScoreConfig(scorenorm.Config{X0: cfg.Score.X0, K: cfg.Score.K}),
		engine.WithWarner(func(format string, args ...interface{}) {
			fmt.Printf("warn: "+format+"\n", args...)
		}),
	}
	if featureEngine != nil {
		opts = append(opts, engine.WithFeatures(featureEngine))
	}
	if lists != nil {
		opts = append(opts, engine.WithLists(lists))
	}
	if llm != nil {
		opts = append(opts, engine.WithLLM(llm))
	}
	if svc != nil {
		opts = append(opts, engine.WithService(svc))
	}
	if writer != nil {
		opts = append(opts, engine.WithResultWriter(writer))
	}

	eng := engine.New(repo, opts...)
	if err := eng.Build(ctx); err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	return eng, nil
}

// buildResultWriter opens the optional durable decision-record sink
// (spec.md §4.14).
func buildResultWriter(ctx context.Context, cfg config.ResultStoreConfig) (*resultstore.SQLWriter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	w, err := resultstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}
	return w, nil
}
