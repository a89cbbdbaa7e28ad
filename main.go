package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clerk/clerk-sdk-go/v2"
	gorilllaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"readySchoolsAPI/handlers"
	"readySchoolsAPI/internal/config"
	"readySchoolsAPI/internal/firebase"
	"readySchoolsAPI/internal/logger"
	"readySchoolsAPI/internal/store"
	firestorestore "readySchoolsAPI/internal/store/firestore"
	"readySchoolsAPI/internal/store/memory"
	"readySchoolsAPI/internal/store/postgres"
	redisstore "readySchoolsAPI/internal/store/redis"
	"readySchoolsAPI/middleware"
	"readySchoolsAPI/services"
)

type backends struct {
	roster      store.Roster
	assessments store.AssessmentStore
	snapshots   store.SnapshotStore
	closers     []func()
	ping        func(context.Context) error
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackends picks Firestore when credentials exist and process local
// stores otherwise. Postgres and Redis take over the roster and the
// snapshots when they are configured.
func openBackends(ctx context.Context, cfg *config.Config, log *logger.Logger) (*backends, error) {
	b := &backends{ping: func(context.Context) error { return nil }}

	fs, err := firebase.NewFirestore(ctx, firebase.Credentials{
		ProjectID: cfg.FirebaseProjectID,
		JSON:      cfg.FirebaseCredentialsJSON,
		File:      cfg.FirebaseCredentialsFile,
	}, log)
	switch {
	case err == nil:
		b.closers = append(b.closers, func() { _ = fs.Close() })
		b.assessments = firestorestore.NewAssessmentStore(fs, log)
		b.snapshots = firestorestore.NewSnapshotStore(fs, log)
		b.roster = firestorestore.NewRoster(fs)
		log.Info("using firestore for assessments and leaderboards")
	case errors.Is(err, firebase.ErrNoCredentials):
		log.Warn("no firebase credentials, using in-memory stores", "error", err)
		b.assessments = memory.NewAssessmentStore()
		b.snapshots = memory.NewSnapshotStore()
		roster := memory.NewRoster()
		if cfg.DevRosterFile != "" {
			if err := loadDevRoster(roster, cfg.DevRosterFile); err != nil {
				b.close()
				return nil, err
			}
			log.Info("loaded development roster", "file", cfg.DevRosterFile)
		}
		b.roster = roster
	default:
		return nil, err
	}

	if cfg.DatabaseURL != "" {
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			b.close()
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		b.roster = postgres.NewRoster(pool)
		b.ping = pool.Ping
		log.Info("using postgres student roster")
	}

	if cfg.RedisAddr != "" {
		rdb, err := redisstore.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			b.close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = rdb.Close() })
		b.snapshots = redisstore.NewSnapshotStore(rdb, cfg.RedisChannelPrefix, log)
		log.Info("using redis for leaderboard snapshots", "addr", cfg.RedisAddr)
	}
	return b, nil
}

func loadDevRoster(r *memory.Roster, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open roster file: %w", err)
	}
	defer f.Close()
	return r.LoadJSON(f)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	clerk.SetKey(cfg.ClerkSecretKey)
	log.Info("clerk initialized")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, initCancel := context.WithTimeout(ctx, 15*time.Second)
	b, err := openBackends(initCtx, cfg, log)
	initCancel()
	if err != nil {
		log.Fatal("failed to open storage backends", "error", err)
	}
	defer b.close()

	middleware.InitPrometheus(prometheus.DefaultRegisterer)
	services.RegisterMetrics(prometheus.DefaultRegisterer)

	manager := services.NewLeaderboardManager(services.ManagerConfig{
		Roster:      b.roster,
		Assessments: b.assessments,
		Snapshots:   b.snapshots,
		Log:         log,
		Location:    cfg.SchoolTimezone,
		MaxRetries:  cfg.SnapshotMaxRetries,
		IdleTimeout: cfg.SessionIdleTimeout,
	})
	go manager.RunEviction(ctx, time.Minute)

	assessmentHandler := handlers.NewAssessmentHandler(manager, log)
	leaderboardHandler := handlers.NewLeaderboardHandler(manager, log)
	contentHandler := handlers.NewContentHandler(services.NewContentService(cfg.SchoolTimezone), log)

	r := mux.NewRouter()
	standardRouter := r.PathPrefix("/").Subrouter()

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.CleanupVisitors(ctx)

	standardRouter.Use(limiter.Middleware)
	standardRouter.Use(middleware.MonitorMiddleware)

	standardRouter.Handle("/metrics", middleware.BasicAuthMiddleware(cfg.MetricsUser, cfg.MetricsPass)(promhttp.Handler()))
	standardRouter.PathPrefix("/debug/pprof/").Handler(middleware.PprofSecurityMiddleware(cfg.PprofSecret)(http.DefaultServeMux))

	standardRouter.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := b.ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "unhealthy", "error": "database connection failed"}`))
			return
		}
		handlers.Health(w, r)
	}).Methods("GET")

	api := standardRouter.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.OwnerAuthMiddleware(middleware.ClerkVerifier, log))
	handlers.RegisterRoutes(api, assessmentHandler, leaderboardHandler, contentHandler)

	// CORS configuration
	corsHandler := gorilllaHandlers.CORS(
		gorilllaHandlers.AllowedOrigins([]string{"*"}),
		gorilllaHandlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		gorilllaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Pprof-Secret"}),
		gorilllaHandlers.ExposedHeaders([]string{"Content-Length"}),
		gorilllaHandlers.AllowCredentials(),
	)

	port := ":" + cfg.Port
	server := http.Server{
		Addr:         port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("starting server", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("error starting server", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown error", "error", err)
	}
	manager.Close()

	log.Info("server shutdown complete")
}
