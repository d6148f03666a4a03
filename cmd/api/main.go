package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"github.com/kisscloud/nest/internal/app/migrate"
	"github.com/kisscloud/nest/internal/codetext"
	"github.com/kisscloud/nest/internal/config"
	"github.com/kisscloud/nest/internal/gateway/gitlab"
	"github.com/kisscloud/nest/internal/gateway/jenkins"
	httpx "github.com/kisscloud/nest/internal/http"
	"github.com/kisscloud/nest/internal/lock"
	"github.com/kisscloud/nest/internal/logger"
	"github.com/kisscloud/nest/internal/repository/postgres"
	"github.com/kisscloud/nest/internal/service/audit"
	"github.com/kisscloud/nest/internal/service/group"
	"github.com/kisscloud/nest/internal/service/job"
	"github.com/kisscloud/nest/internal/service/member"
	"github.com/kisscloud/nest/internal/service/project"
	"github.com/kisscloud/nest/internal/service/team"
	"github.com/kisscloud/nest/internal/ws"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	catalog, err := codetext.Default()
	if err != nil {
		log.Error("code text catalog invalid", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	repoGateway := gitlab.New(cfg.GitHostURL, cfg.GitRequestTimeout, log)
	buildGateway := jenkins.New(cfg.BuildHostURL, cfg.BuildRequestTimeout, log)
	hub := ws.NewHub()

	var locker lock.Locker = lock.NewMemoryLocker()
	if addr := strings.TrimSpace(cfg.LockRedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.LockRedisPass, DB: cfg.LockRedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn("redis locker unavailable", "error", err)
			client.Close()
		} else {
			locker = lock.NewRedisLocker(client, "nest:lock")
			defer client.Close()
		}
	}

	recorder := audit.New(repo, log)
	memberSvc := member.New(repo, log, cfg.CredentialKey)
	teamSvc := team.New(repo, memberSvc, repoGateway, recorder, log)
	groupSvc := group.New(repo, repo, repo, memberSvc, repoGateway, recorder, catalog, log)
	projectSvc := project.New(project.Deps{
		Projects:  repo,
		Groups:    repo,
		Teams:     repo,
		Links:     repo,
		Jobs:      repo,
		BuildLogs: repo,
		Members:   memberSvc,
		Repos:     repoGateway,
		Builds:    buildGateway,
		Locker:    locker,
		Audit:     recorder,
		Catalog:   catalog,
		Logger:    log,
		LockTTL:   cfg.LockTTL,
	})
	jobSvc := job.New(job.Deps{
		Jobs:       repo,
		Projects:   repo,
		BuildLogs:  repo,
		DeployLogs: repo,
		Servers:    repo,
		Members:    memberSvc,
		Builds:     buildGateway,
		Audit:      recorder,
		Catalog:    catalog,
		Notify:     hub,
		Logger:     log,
	})

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, httpx.Services{
		Team:    teamSvc,
		Member:  memberSvc,
		Group:   groupSvc,
		Project: projectSvc,
		Job:     jobSvc,
	}, hub, limiter, cfg.JWTSecret, cfg.BuildCallbackToken, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
