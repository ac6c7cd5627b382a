package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lucasnoah/postfactory/internal/checks"
	"github.com/lucasnoah/postfactory/internal/config"
	"github.com/lucasnoah/postfactory/internal/db"
	"github.com/lucasnoah/postfactory/internal/llm"
	"github.com/lucasnoah/postfactory/internal/logging"
	"github.com/lucasnoah/postfactory/internal/metrics"
	"github.com/lucasnoah/postfactory/internal/orchestrator"
	"github.com/lucasnoah/postfactory/internal/pipeline"
	"github.com/lucasnoah/postfactory/internal/policy"
	"github.com/lucasnoah/postfactory/internal/prompt"
	"github.com/lucasnoah/postfactory/internal/refine"
	"github.com/lucasnoah/postfactory/internal/rules"
	"github.com/lucasnoah/postfactory/internal/seo"
	"github.com/lucasnoah/postfactory/internal/stage"
	"github.com/lucasnoah/postfactory/internal/telemetry"
)

const serviceName = "postfactory"

// builtinStages are the implementation names a definition may reference.
var builtinStages = []string{
	stage.NameKeywordExtractor,
	stage.NameWriter,
	stage.NameHighQualityWriter,
	stage.NameTitleWriter,
	stage.NameCompliance,
	stage.NameSEO,
}

// env is the process environment shared by commands: runtime settings, the
// pipeline config and the logger. Close releases whatever was opened on it.
type env struct {
	settings *config.Settings
	cfg      *config.PipelineConfig
	cfgPath  string
	logger   *zap.Logger

	closers []func()
}

func newEnv() (*env, error) {
	s, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(s.Log.Level, s.Log.Format)
	if err != nil {
		return nil, err
	}
	cfg, path, err := loadPipelineConfig(s)
	if err != nil {
		return nil, err
	}
	e := &env{settings: s, cfg: cfg, cfgPath: path, logger: logger}
	e.closers = append(e.closers, func() { _ = logger.Sync() })
	return e, nil
}

// loadPipelineConfig resolves --config, then FACTORY_PIPELINE_CONFIG, then
// the search paths.
func loadPipelineConfig(s *config.Settings) (*config.PipelineConfig, string, error) {
	path := configPath
	if path == "" && s != nil {
		path = s.Pipeline.Config
	}
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", fmt.Errorf("load config: %w", err)
		}
		return cfg, path, nil
	}
	cfg, path, err := config.LoadDefault()
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	return cfg, path, nil
}

func (e *env) onClose(fn func()) {
	e.closers = append(e.closers, fn)
}

// Close runs the closers in reverse order.
func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

func (e *env) openDB() (*db.DB, error) {
	path := e.settings.DB.Path
	if path == "" {
		var err error
		if path, err = db.DefaultDBPath(); err != nil {
			return nil, fmt.Errorf("db path: %w", err)
		}
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e.onClose(func() { d.Close() })
	return d, nil
}

func (e *env) openStore() (*pipeline.Store, error) {
	if e.settings.Store.Dir != "" {
		return pipeline.OpenStore(e.settings.Store.Dir)
	}
	return pipeline.DefaultStore()
}

// ruleSource builds the configured rule source. The file source is returned
// separately so serve can watch it.
func (e *env) ruleSource(ctx context.Context) (rules.Source, *rules.FileSource, error) {
	r := e.settings.Rules
	switch r.Source {
	case "file":
		fs := rules.NewFileSource(r.Path, e.logger)
		return fs, fs, nil
	case "postgres":
		pg, err := rules.OpenPostgres(ctx, r.DSN)
		if err != nil {
			return nil, nil, err
		}
		e.onClose(pg.Close)
		return pg, nil, nil
	default:
		return rules.StaticSource{}, nil, nil
	}
}

// ruleProvider wraps the configured source in the TTL cache. m may be nil.
func (e *env) ruleProvider(ctx context.Context, m *metrics.Metrics) (*rules.CachedProvider, *rules.FileSource, error) {
	src, fs, err := e.ruleSource(ctx)
	if err != nil {
		return nil, nil, err
	}
	mode, err := rules.ParseFailMode(e.settings.Rules.FailMode)
	if err != nil {
		return nil, nil, err
	}
	opts := []rules.ProviderOption{
		rules.WithKey(e.settings.Rules.Key),
		rules.WithTTL(e.settings.Rules.TTL),
		rules.WithFailMode(mode),
		rules.WithLogger(e.logger),
	}
	if m != nil {
		opts = append(opts, rules.WithObserver(m.ObserveRuleFetch))
	}
	return rules.NewCachedProvider(src, opts...), fs, nil
}

func (e *env) analyzer() *seo.Analyzer {
	return seo.NewAnalyzer(e.cfg.Pipeline.SEO)
}

func (e *env) prompts() prompt.Loader {
	return prompt.Loader{Dir: e.cfg.Pipeline.PromptDir}
}

// generator is a fully wired orchestrator plus the pieces serve needs.
type generator struct {
	orch     *orchestrator.Orchestrator
	db       *db.DB
	store    *pipeline.Store
	provider *rules.CachedProvider
	rulesSrc *rules.FileSource
}

// newGenerator wires the LLM client, stages, refinement loop and event log.
// reg receives the Prometheus collectors; nil keeps them private.
func (e *env) newGenerator(ctx context.Context, reg prometheus.Registerer) (*generator, error) {
	if errs := config.Validate(e.cfg, builtinStages); len(errs) > 0 {
		return nil, fmt.Errorf("invalid pipeline config: %v", errs[0])
	}

	m := metrics.New(reg)
	provider, fs, err := e.ruleProvider(ctx, m)
	if err != nil {
		return nil, err
	}

	shutdown, err := telemetry.Init(serviceName, e.settings.Trace.Enabled, e.logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	e.onClose(func() { _ = shutdown(context.Background()) })

	completer, err := llm.New(e.settings.LLM)
	if err != nil {
		return nil, err
	}
	tokens, err := llm.NewTokenCounter()
	if err != nil {
		// Without a counter background material is passed untrimmed.
		e.logger.Warn("token counter unavailable", zap.Error(err))
		tokens = nil
	}

	d, err := e.openDB()
	if err != nil {
		return nil, err
	}
	store, err := e.openStore()
	if err != nil {
		return nil, err
	}

	p := e.cfg.Pipeline
	analyzer := e.analyzer()
	validator := policy.NewValidator(provider, e.logger)
	prompts := e.prompts()

	writer := stage.NewWriter(completer, prompts, analyzer, tokens, store, stage.WriterOptions{
		MaxTokens:        p.Writer.MaxTokens,
		BackgroundTokens: p.Writer.BackgroundTokens,
		Model:            p.Writer.Model,
	}, e.logger)
	registry := stage.NewRegistry(
		stage.NewKeywordExtractor(d, e.logger),
		writer,
		stage.NewHighQualityWriter(writer),
		stage.NewTitleWriter(completer, prompts, analyzer, store, e.logger),
		stage.NewComplianceStage(validator),
		stage.NewSEOStage(analyzer),
	)

	loop := refine.NewLoop(
		refine.NewLLMRewriter(completer, prompts, p.Refinement.MaxTokens),
		checks.NewGate(validator, analyzer),
		refine.WithMaxAttempts(p.Refinement.MaxAttempts),
		refine.WithLogger(e.logger),
	)

	orch := orchestrator.New(e.cfg, registry, loop,
		orchestrator.WithEventLog(d),
		orchestrator.WithStore(store),
		orchestrator.WithMetrics(m),
		orchestrator.WithTracer(telemetry.Tracer()),
		orchestrator.WithLogger(e.logger),
	)
	return &generator{orch: orch, db: d, store: store, provider: provider, rulesSrc: fs}, nil
}
