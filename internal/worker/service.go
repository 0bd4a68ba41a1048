package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/recall/internal/acquire"
	"github.com/thebtf/recall/internal/config"
	"github.com/thebtf/recall/internal/db"
	"github.com/thebtf/recall/internal/search"
	"github.com/thebtf/recall/internal/telemetry"
	"github.com/thebtf/recall/internal/vector"
	"github.com/thebtf/recall/internal/vector/chroma"
	"github.com/thebtf/recall/internal/vocab"
	"github.com/thebtf/recall/internal/worker/agent"
	"github.com/thebtf/recall/internal/worker/loopguard"
	"github.com/thebtf/recall/internal/worker/session"
	"github.com/thebtf/recall/internal/worker/sse"
)

// Service is the recall worker: HTTP ingestion surface, per-session agent
// loops, and the retrieval API, all over one SQLite database.
type Service struct {
	version string
	config  *config.Config

	store            *db.Store
	sessionStore     *db.SessionStore
	observationStore *db.ObservationStore
	summaryStore     *db.SummaryStore
	injectionStore   *db.InjectionStore
	projectStore     *db.ProjectStore

	sessionManager *session.Manager
	sseBroadcaster *sse.Broadcaster
	searchManager  *search.Manager
	processor      *agent.Processor
	registry       *vocab.Registry
	loopGuard      *loopguard.Guard
	deduper        *acquire.Deduper
	metrics        *telemetry.Metrics
	errors         *errorLog

	vectorSync *chroma.Sync

	router     chi.Router
	httpServer *http.Server

	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	ready     atomic.Bool

	totalRequests      atomic.Int64
	searchRequests     atomic.Int64
	observationsServed atomic.Int64
}

// RetrievalStats summarizes the retrieval side of the API.
type RetrievalStats struct {
	TotalRequests      int64 `json:"total_requests"`
	SearchRequests     int64 `json:"search_requests"`
	ObservationsServed int64 `json:"observations_served"`
}

// New wires a worker service from the process-wide configuration. The
// service is not ready until Start succeeds.
func New(version string) (*Service, error) {
	cfg := config.Get()

	store, err := db.NewStore(db.Config{
		Path:     config.DBPath(),
		MaxConns: cfg.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var vectorClient vector.Client
	var vectorSync *chroma.Sync
	if !cfg.VectorDisabled {
		client := chroma.NewClient(cfg.ChromaURL, "recall")
		vectorClient = client
		vectorSync = chroma.NewSync(client)
	}

	observationStore := db.NewObservationStore(store, nil)
	if vectorSync != nil {
		// Rows trimmed by retention cleanup must leave the vector index too.
		observationStore.SetCleanupFunc(func(ctx context.Context, deletedIDs []int64) {
			if err := vectorSync.DeleteObservations(ctx, deletedIDs); err != nil {
				log.Warn().Err(err).Int("count", len(deletedIDs)).Msg("Vector cleanup failed")
			}
		})
	}

	registry, err := vocab.Load(config.VocabPath())
	if err != nil {
		log.Warn().Err(err).Msg("Invalid vocabulary file, using builtins")
		registry = vocab.Default()
	}

	sessionStore := db.NewSessionStore(store)
	summaryStore := db.NewSummaryStore(store)
	runner := agent.NewRunner(cfg.AgentCommand, agent.BuildSystemPrompt(registry), "--model", cfg.Model)
	processor := agent.NewProcessor(runner, sessionStore, observationStore, summaryStore, registry, vectorSync)

	searchManager := search.NewManager(observationStore, vectorClient, search.ManagerConfig{
		Fusion: search.Options{
			K:               cfg.RRFK,
			AgreementBonus:  cfg.AgreementBonus,
			AgreementCutoff: cfg.AgreementCutoff,
		},
		VectorWeight:  cfg.VectorWeight,
		KeywordWeight: cfg.KeywordWeight,
	})

	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		version:          version,
		config:           cfg,
		store:            store,
		sessionStore:     sessionStore,
		observationStore: observationStore,
		summaryStore:     summaryStore,
		injectionStore:   db.NewInjectionStore(store),
		projectStore:     db.NewProjectStore(store),
		sessionManager:   session.NewManager(sessionStore, cfg.RestartCap),
		sseBroadcaster:   sse.NewBroadcaster(),
		searchManager:    searchManager,
		processor:        processor,
		registry:         registry,
		loopGuard:        loopguard.New(loopguard.DefaultWindow, loopguard.DefaultThreshold),
		deduper:          acquire.NewDeduper(time.Duration(cfg.DedupeWindowSeconds) * time.Second),
		errors:           newErrorLog(),
		vectorSync:       vectorSync,
		ctx:              ctx,
		cancel:           cancel,
		startTime:        time.Now(),
	}

	metrics, err := telemetry.New(func() telemetry.QueueStats {
		return telemetry.QueueStats{
			ActiveSessions: int64(svc.sessionManager.GetActiveSessionCount()),
			QueueDepth:     int64(svc.sessionManager.GetTotalQueueDepth()),
		}
	})
	if err != nil {
		log.Warn().Err(err).Msg("Metrics setup failed, continuing without instruments")
	}
	svc.metrics = metrics

	processor.SetOnStored(func(ev agent.StoredEvent) {
		svc.metrics.RecordStored(svc.ctx, int64(len(ev.ObservationIDs)), ev.SummaryStored)
		svc.sseBroadcaster.Emit(sse.EventObservationStored, map[string]interface{}{
			"session_id":      ev.SessionDBID,
			"project":         ev.Project,
			"observation_ids": ev.ObservationIDs,
			"summary_stored":  ev.SummaryStored,
		})
		svc.emitProcessingStatus()
	})
	svc.sessionManager.SetOnSummaryQueued(func(sessionDBID int64) {
		svc.sseBroadcaster.Emit(sse.EventSummarizeQueued, map[string]interface{}{
			"session_id": sessionDBID,
		})
	})
	svc.sessionManager.SetOnSessionDeleted(func(sessionDBID int64) {
		svc.emitProcessingStatus()
	})
	svc.sessionManager.SetOnGeneratorRestart(func(sessionDBID int64, err error) {
		svc.metrics.RecordRestart(svc.ctx)
		svc.errors.Record("agent", err)
	})

	svc.setupRoutes()
	return svc, nil
}

// Start brings the worker online: dispatch loop, settings watcher, and the
// HTTP listener. It returns once the listener stops.
func (s *Service) Start() error {
	if err := s.store.Ping(); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}

	go s.sessionManager.RunDispatch(s.ctx, s.processor)
	go func() {
		if err := config.Watch(s.ctx, s.applyConfig); err != nil {
			log.Warn().Err(err).Msg("Settings watcher stopped")
		}
	}()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.config.WorkerPort),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.ready.Store(true)
	log.Info().Int("port", s.config.WorkerPort).Str("version", s.version).Msg("Worker listening")

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains sessions and stops the listener.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)

	if err := s.sessionManager.ShutdownAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Session drain incomplete")
	}
	s.cancel()
	s.metrics.Shutdown()

	var httpErr error
	if s.httpServer != nil {
		httpErr = s.httpServer.Shutdown(ctx)
	}
	if err := s.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Database close failed")
	}
	return httpErr
}

// applyConfig picks up reloadable settings after a settings-file change.
// Port, database, and vector wiring stay fixed until restart.
func (s *Service) applyConfig(cfg *config.Config) {
	s.config = cfg
	log.Info().Msg("Runtime settings applied")
}

func (s *Service) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.countRequests)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/version", s.handleVersion)
	r.Get("/api/ready", s.handleReady)

	r.Group(func(r chi.Router) {
		r.Use(s.requireReady)

		r.Post("/api/sessions/init", s.handleSessionInit)
		r.Get("/api/sessions/resolve", s.handleSessionResolve)
		r.Post("/api/sessions/{sessionID}/subagent-complete", s.handleSubagentComplete)
		r.Post("/api/sessions/{sessionID}/observations", s.handleObservationEvent)
		r.Post("/api/sessions/{sessionID}/summarize", s.handleSummarize)
		r.Post("/api/sessions/{sessionID}/complete", s.handleSessionComplete)

		r.Get("/api/search", s.handleSearch)
		r.Get("/api/context/search", s.handleSearch)
		r.Get("/api/context/inject", s.handleInject)
		r.Get("/api/observations", s.handleRecentObservations)

		r.Get("/api/projects/{project}/counts", s.handleProjectCounts)
		r.Post("/api/projects/rename", s.handleProjectRename)
		r.Post("/api/projects/merge", s.handleProjectMerge)
		r.Delete("/api/projects/{project}", s.handleProjectDelete)

		r.Get("/api/stats", s.handleStats)
		r.Get("/api/events", s.sseBroadcaster.HandleSSE)
	})

	s.router = r
}

// requireReady rejects API calls until the service finished starting.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeError(w, http.StatusServiceUnavailable, "service not ready")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.totalRequests.Add(1)
		next.ServeHTTP(w, r)
	})
}

// GetRetrievalStats returns counters for the retrieval side of the API.
func (s *Service) GetRetrievalStats() RetrievalStats {
	return RetrievalStats{
		TotalRequests:      s.totalRequests.Load(),
		SearchRequests:     s.searchRequests.Load(),
		ObservationsServed: s.observationsServed.Load(),
	}
}

func (s *Service) emitProcessingStatus() {
	s.sseBroadcaster.Emit(sse.EventProcessingStatus, map[string]interface{}{
		"active_sessions": s.sessionManager.GetActiveSessionCount(),
		"queue_depth":     s.sessionManager.GetTotalQueueDepth(),
		"processing":      s.sessionManager.IsAnySessionProcessing(),
	})
}
