package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ontoloom/ontoloom/internal/api/handlers"
	mw "github.com/ontoloom/ontoloom/internal/api/middleware"
	"github.com/ontoloom/ontoloom/internal/config"
	"github.com/ontoloom/ontoloom/internal/domain"
	"github.com/ontoloom/ontoloom/internal/evolve"
	"github.com/ontoloom/ontoloom/internal/graphsync"
	"github.com/ontoloom/ontoloom/internal/llm"
	"github.com/ontoloom/ontoloom/internal/reflect"
	"github.com/ontoloom/ontoloom/internal/schema"
	"github.com/ontoloom/ontoloom/internal/store"
)

// App holds the router and background services for lifecycle management.
type App struct {
	Router      *chi.Mux
	Coordinator *graphsync.Coordinator
	Agent       *evolve.Agent

	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewApp(db *pgxpool.Pool, logger *zap.Logger) *App {
	// Stores
	schemaStore := store.NewSchemaStore(db)
	suggestionStore := store.NewSuggestionStore(db)
	changeLogStore := store.NewChangeLogStore(db)
	graphBackend := store.NewGraphBackend(db)
	listener := store.NewSchemaListener(db, logger)

	// Text-generation client via provider factory, rate-limited.
	var completions domain.CompletionClient
	llmProvider := config.LLMProvider()
	client, err := llm.NewClient(llmProvider, config.LLMAPIKey())
	if err != nil {
		logger.Warn("LLM client initialization failed", zap.String("provider", llmProvider), zap.Error(err))
	} else {
		logger.Info("LLM client initialized", zap.String("provider", llmProvider))
		completions = llm.NewRateLimited(client, config.LLMRPS(), 1)
	}

	// Core services
	fileStore := schema.NewFileStore(config.SchemaFilePath())
	manager := schema.NewManager(schemaStore, changeLogStore, fileStore, logger)
	manager.SetStrict(config.StrictValidation())

	reflector := reflect.NewReflector(graphBackend, manager, logger)
	agent := evolve.NewAgent(manager, graphBackend, completions, suggestionStore, logger)
	agent.SetAutoApprove(config.AutoApproveEnabled(), config.AutoApproveThreshold())
	engine := evolve.NewEngine(manager, graphBackend, completions, logger)

	exporter := graphsync.NewExporter(manager, graphBackend, logger)
	exporter.SetApplyRules(config.InferenceRulesEnabled())
	coordinator := graphsync.NewCoordinator(exporter, manager, listener, logger)
	coordinator.SetDebounce(config.SyncDebounce())

	// Handlers
	schemaHandler := handlers.NewSchemaHandler(manager, changeLogStore)
	suggestionHandler := handlers.NewSuggestionHandler(agent, engine)
	graphHandler := handlers.NewGraphHandler(reflector, agent)
	syncHandler := handlers.NewSyncHandler(coordinator)

	r := chi.NewRouter()

	app := &App{
		Router:      r,
		Coordinator: coordinator,
		Agent:       agent,
		startTime:   time.Now(),
	}

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Metrics(&app.requestCount, &app.errorCount))
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	// Health and metrics (no version prefix)
	r.Get("/health", healthHandler(db))
	r.Get("/metrics", app.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/schema", func(r chi.Router) {
			r.Get("/", schemaHandler.Get)
			r.Put("/", schemaHandler.Update)
			r.Get("/version", schemaHandler.Version)
			r.Get("/stats", schemaHandler.Stats)
			r.Get("/changelog", schemaHandler.ChangeLog)
			r.Put("/entity-types/{name}", schemaHandler.UpsertEntityType)
			r.Delete("/entity-types/{name}", schemaHandler.DeleteEntityType)
			r.Put("/relation-types/{name}", schemaHandler.UpsertRelationType)
			r.Delete("/relation-types/{name}", schemaHandler.DeleteRelationType)
			r.Post("/validate/entity", schemaHandler.ValidateEntity)
			r.Post("/validate/relation", schemaHandler.ValidateRelation)
			r.Post("/query/match", schemaHandler.MatchQuery)
		})

		r.Route("/suggestions", func(r chi.Router) {
			r.Get("/", suggestionHandler.ListPending)
			r.Get("/history", suggestionHandler.History)
			r.Post("/analyze/text", suggestionHandler.AnalyzeText)
			r.Post("/analyze/graph", suggestionHandler.AnalyzeGraph)
			r.Post("/analyze/llm", suggestionHandler.AnalyzeLLM)
			r.Post("/auto-approve", suggestionHandler.AutoApprove)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/approve", suggestionHandler.Approve)
				r.Post("/reject", suggestionHandler.Reject)
				r.Post("/enrich", suggestionHandler.Enrich)
			})
		})

		r.Route("/graph", func(r chi.Router) {
			r.Get("/compliance", graphHandler.Compliance)
			r.Get("/extract", graphHandler.Extract)
			r.Get("/unused", graphHandler.Unused)
			r.Get("/usage", graphHandler.Usage)
			r.Post("/merge", graphHandler.Merge)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", syncHandler.Status)
			r.Post("/force", syncHandler.Force)
		})
	})

	return app
}

func healthHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores and clients satisfy interfaces at compile time.
var (
	_ domain.SchemaStore      = (*store.SchemaStore)(nil)
	_ domain.SuggestionStore  = (*store.SuggestionStore)(nil)
	_ domain.ChangeLogStore   = (*store.ChangeLogStore)(nil)
	_ domain.GraphBackend     = (*store.GraphBackend)(nil)
	_ domain.SchemaNotifier   = (*store.SchemaListener)(nil)
	_ domain.CompletionClient = (*llm.OpenAIClient)(nil)
	_ domain.CompletionClient = (*llm.AnthropicClient)(nil)
	_ domain.CompletionClient = (*llm.GeminiClient)(nil)
	_ domain.CompletionClient = (*llm.MockClient)(nil)
	_ domain.CompletionClient = (*llm.RateLimited)(nil)
)
