package application

import (
	"context"
	"fmt"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/service"
	gwconfig "github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/config"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/backend"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/llm"
	_ "github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/llm/anthropic"
	_ "github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/llm/gemini"
	_ "github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/llm/openai"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/persistence"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/pool"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/ratelimit"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/registry"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/router"
	httpServer "github.com/ngoclaw/ngoclaw/gateway/internal/interfaces/http"
	"github.com/ngoclaw/ngoclaw/gateway/internal/interfaces/http/handlers"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// GatewayApp is the composition root for the OpenAI-compatible gateway
// surface, built the way internal/application.App wires the assistant's
// layers: one init step per concern, collaborators held as fields and
// constructed via their own package's constructor, nothing global.
type GatewayApp struct {
	cfg    *gwconfig.GatewayConfig
	logger *zap.Logger
	db     *gorm.DB

	limiter  *ratelimit.Limiter
	reg      *registry.Registry
	pools    map[string]service.Pool
	capacity map[string]router.CapacityChecker
	rtr      *router.Router
	logSink  service.RequestLogSink
	server   *httpServer.Server
}

// NewGatewayApp loads BACKENDS_CONFIG, constructs one Pool per CLI backend
// and one APIRunner per API backend, wires the Router and Registry over
// them, and builds the HTTP server named in's route table.
func NewGatewayApp(cfg *gwconfig.GatewayConfig, logger *zap.Logger) (*GatewayApp, error) {
	app := &GatewayApp{cfg: cfg, logger: logger}

	defs, err := gwconfig.LoadBackends(cfg.BackendsConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load backends: %w", err)
	}

	if err := app.initRegistry(defs); err != nil {
		return nil, fmt.Errorf("init registry: %w", err)
	}
	if err := app.initRateLimiter(); err != nil {
		return nil, fmt.Errorf("init rate limiter: %w", err)
	}
	if err := app.initRouter(defs); err != nil {
		return nil, fmt.Errorf("init router: %w", err)
	}
	if err := app.initLogSink(); err != nil {
		return nil, fmt.Errorf("init log sink: %w", err)
	}
	app.initServer()

	return app, nil
}

// initRegistry builds a CLIRunner or APIRunner per configured entry and
// registers it.
func (app *GatewayApp) initRegistry(defs []gwconfig.BackendDef) error {
	app.reg = registry.New(registry.RoutingConfig{
		Default:        firstBackendName(defs),
		PreferCheapest: true,
		FallbackChain:  backendNames(defs),
	}, app.logger)

	app.pools = make(map[string]service.Pool)
	app.capacity = make(map[string]router.CapacityChecker)

	for _, d := range defs {
		switch entity.BackendKind(d.Kind) {
		case entity.BackendCLI:
			runner := backend.NewCLIRunner(d.Name, d.Binary, d.Config["workdir"], app.logger)
			if err := app.reg.Add(runner); err != nil {
				return err
			}
			maxConcurrent := d.MaxConcurrent
			if maxConcurrent <= 0 {
				maxConcurrent = 4
			}
			maxQueue := d.MaxQueue
			if maxQueue <= 0 {
				maxQueue = 20
			}
			p := pool.New(d.Name, pool.Config{MaxConcurrent: maxConcurrent, MaxQueue: maxQueue}, runner, app.logger)
			app.pools[d.Name] = p
			app.capacity[d.Name] = p

		case entity.BackendAPI:
			provider, err := llm.CreateProvider(llm.ProviderConfig{
				Name:    d.Name,
				Type:    d.ProviderType,
				BaseURL: d.BaseURL,
				APIKey:  d.APIKey,
				Models:  []string{d.Model},
			}, app.logger)
			if err != nil {
				return fmt.Errorf("backend %q: %w", d.Name, err)
			}
			runner := backend.NewAPIRunner(d.Name, provider, d.Model, app.logger)
			if err := app.reg.Add(runner); err != nil {
				return err
			}

		default:
			return fmt.Errorf("backend %q: unknown kind %q", d.Name, d.Kind)
		}
	}

	return app.reg.Validate()
}

func (app *GatewayApp) initRateLimiter() error {
	app.limiter = ratelimit.New(ratelimit.Config{
		MaxRequests: app.cfg.RateLimitMax,
		Enabled:     app.cfg.RateLimitEnabled,
	}, app.logger)
	return nil
}

// initRouter builds the static metadata map the Router needs for cost
// estimation and tool-capable enumeration order, from the same BackendDefs
// used to build the registry.
func (app *GatewayApp) initRouter(defs []gwconfig.BackendDef) error {
	metadata := make(map[string]*entity.Backend, len(defs))
	var toolOrder []string
	for _, d := range defs {
		b, err := entity.NewBackend(d.Name, entity.BackendKind(d.Kind), entity.BackendKind(d.Kind) == entity.BackendCLI, d.EstimatedCostPerReq, d.ProviderType, d.Config)
		if err != nil {
			return fmt.Errorf("backend %q: %w", d.Name, err)
		}
		metadata[d.Name] = b
		if b.Kind == entity.BackendCLI {
			toolOrder = append(toolOrder, d.Name)
		}
	}

	app.rtr = router.New(app.reg, router.Config{
		Metadata:  metadata,
		Pools:     app.capacity,
		ToolOrder: toolOrder,
	}, app.logger)
	return nil
}

// initLogSink opens gateway.db and migrates the request_logs table when
// ENABLE_SQLITE_LOGGING is set, falling back to a no-op sink otherwise so
// logging never blocks the request path.
func (app *GatewayApp) initLogSink() error {
	if !app.cfg.EnableSQLiteLogging {
		app.logSink = persistence.NoopRequestLogSink{}
		return nil
	}

	db, err := gorm.Open(sqlite.Open(app.cfg.DatabasePath), &gorm.Config{})
	if err != nil {
		app.logger.Warn("sqlite request log disabled: connection failed", zap.Error(err))
		app.logSink = persistence.NoopRequestLogSink{}
		return nil
	}
	app.db = db

	sink := persistence.NewGormRequestLogSink(db)
	if err := sink.AutoMigrate(); err != nil {
		app.logger.Warn("sqlite request log disabled: migration failed", zap.Error(err))
		app.logSink = persistence.NoopRequestLogSink{}
		return nil
	}
	app.logSink = sink
	return nil
}

func (app *GatewayApp) initServer() {
	handler := handlers.NewOpenAIHandler(handlers.Config{
		Router:              app.rtr,
		Registry:            app.reg,
		LogSink:             app.logSink,
		DefaultSystemPrompt: app.cfg.DefaultSystemPrompt,
		Version:             "0.1.0",
	}, app.logger)

	app.server = httpServer.NewServer(
		httpServer.Config{
			Host:       app.cfg.Host,
			Port:       app.cfg.Port,
			Mode:       "release",
			EnableCORS: app.cfg.EnableCORS,
		},
		httpServer.Deps{
			Limiter:  app.limiter,
			Registry: app.reg,
			Pools:    app.pools,
			Handler:  handler,
		},
		app.logger,
	)
}

// Start begins serving HTTP traffic.
func (app *GatewayApp) Start(ctx context.Context) error {
	return app.server.Start(ctx)
}

// Stop shuts down the HTTP listener, the rate limiter's cleanup loop, every
// backend pool, and the log sink's database connection, in that order.
func (app *GatewayApp) Stop(ctx context.Context) error {
	if err := app.server.Stop(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	app.limiter.Stop()

	for name, p := range app.pools {
		if pp, ok := p.(*pool.Pool); ok {
			if _, timedOut := pp.Shutdown(ctx); timedOut {
				app.logger.Warn("pool shutdown timed out", zap.String("backend", name))
			}
		}
	}

	if app.db != nil {
		if sqlDB, err := app.db.DB(); err == nil {
			sqlDB.Close()
		}
	}

	return nil
}

func firstBackendName(defs []gwconfig.BackendDef) string {
	if len(defs) == 0 {
		return ""
	}
	return defs[0].Name
}

func backendNames(defs []gwconfig.BackendDef) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}
