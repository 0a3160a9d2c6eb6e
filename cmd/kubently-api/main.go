// The kubently-api binary runs the control plane: the debug dispatcher, the
// executor SSE channel, and the agent protocol binding, all stateless over a
// shared Redis.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/kubently/kubently/internal/a2a"
	"github.com/kubently/kubently/internal/api/middleware"
	"github.com/kubently/kubently/internal/api/rest"
	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/config"
	"github.com/kubently/kubently/internal/models"
	"github.com/kubently/kubently/internal/pkg/logger"
	"github.com/kubently/kubently/internal/queue"
	"github.com/kubently/kubently/internal/session"
	"github.com/kubently/kubently/internal/store"
)

func main() {
	log := logger.StdLogger()

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded", "port", cfg.Port, "redis_url", cfg.RedisURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to the keyed store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	sessions := session.NewManager(st, cfg.SessionTTL())
	q := queue.New(st, log, cfg.QueueMaxDepth)

	keys, err := auth.LoadKeyTable(cfg.APIKeysPath)
	if err != nil {
		log.Error("failed to load API key table", "path", cfg.APIKeysPath, "error", err)
		os.Exit(1)
	}
	var bearer *auth.BearerVerifier
	switch {
	case cfg.OIDCIssuerURL != "":
		bearer, err = auth.NewOIDCVerifier(ctx, cfg.OIDCIssuerURL, cfg.OIDCAudience)
		if err != nil {
			log.Error("failed to initialize OIDC verifier", "issuer", cfg.OIDCIssuerURL, "error", err)
			os.Exit(1)
		}
		log.Info("bearer verification via OIDC", "issuer", cfg.OIDCIssuerURL)
	case cfg.JWTSecret != "":
		bearer = auth.NewStaticVerifier(cfg.JWTSecret)
		log.Warn("bearer verification via shared HS256 secret; configure OIDC for production")
	}
	authn := &middleware.Authenticator{
		Keys:     keys,
		Bearer:   bearer,
		Executor: auth.NewExecutorTokens(cfg.ExecutorTokens),
	}

	serverID := uuid.New().String()[:8]
	handler := rest.NewHandler(cfg, st, sessions, q, authn, log, serverID)

	router := mux.NewRouter()
	rest.SetupRoutes(router, handler)

	dispatch := func(ctx context.Context, clusterID string, t models.CommandType, args []string, timeout time.Duration) (*models.Result, error) {
		cmd := queue.NewCommand(clusterID, "", t, args, timeout)
		if err := q.Enqueue(ctx, cmd); err != nil {
			return nil, err
		}
		return q.AwaitResult(ctx, cmd.CommandID, timeout)
	}
	planner := &a2a.RulePlanner{
		Dispatch:       dispatch,
		DefaultCluster: cfg.A2ADefaultCluster,
		Timeout:        cfg.DispatchTimeout(),
	}
	a2aServer := a2a.NewServer(planner, a2a.NewContextStore(st, 0), log, cfg.StreamTimeout())
	a2aServer.Routes(router, "/a2a")

	router.Use(middleware.RequestID)
	router.Use(middleware.StructuredLog)
	router.Use(middleware.RateLimit(cfg.RateLimitPerMin))
	router.Use(middleware.Auth(authn, middleware.DefaultSkipRules()))
	router.Use(middleware.Recover)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-API-Key", "X-Cluster-ID"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
		// WriteTimeout stays zero: executor and a2a streams are long-lived.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info("control plane listening", "addr", srv.Addr, "server_id", serverID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("forced shutdown", "error", err)
	}
	log.Info("server exited")
}
