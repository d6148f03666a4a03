// Package httpx exposes the provisioning services over HTTP. Successful
// responses wrap their payload in {"data": ...}; failures carry
// {"code", "message"} with the orchestrator's error code.
package httpx

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kisscloud/nest/internal/identity"
	"github.com/kisscloud/nest/internal/service/group"
	"github.com/kisscloud/nest/internal/service/job"
	"github.com/kisscloud/nest/internal/service/member"
	"github.com/kisscloud/nest/internal/service/project"
	"github.com/kisscloud/nest/internal/service/team"
	"github.com/kisscloud/nest/internal/ws"
)

const (
	rateWindowDefault   = time.Minute
	rateWindowRealtime  = 30 * time.Second
	rateLimitUserWrite  = 60
	rateLimitUserRead   = 120
	rateLimitWebsocket  = 30
	rateLimitCallback   = 600
	healthCheckTimeout  = 2 * time.Second
	defaultHistoryLimit = 20
)

// Services bundles the router's service dependencies.
type Services struct {
	Team    team.Service
	Member  member.Service
	Group   group.Service
	Project project.Service
	Job     job.Service
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux           *http.ServeMux
	logger        *slog.Logger
	svc           Services
	hub           *ws.Hub
	upgrader      websocket.Upgrader
	limiter       RateLimiter
	jwtSecret     string
	callbackToken string
	dbHealth      func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, svc Services, hub *ws.Hub, limiter RateLimiter, jwtSecret, callbackToken string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		svc:    svc,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:       limiter,
		jwtSecret:     jwtSecret,
		callbackToken: strings.TrimSpace(callbackToken),
		dbHealth:      dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/teams", r.audit(r.handlerAuthRate("/teams", rateLimitUserWrite, rateWindowDefault, r.handleTeams)))
	r.mux.HandleFunc("/members", r.audit(r.handlerAuthRate("/members", rateLimitUserWrite, rateWindowDefault, r.handleMembers)))
	r.mux.HandleFunc("/groups", r.audit(r.handlerAuthRate("/groups", rateLimitUserWrite, rateWindowDefault, r.handleGroups)))
	r.mux.HandleFunc("/groups/", r.audit(r.handlerAuthRate("/groups/{id}", rateLimitUserWrite, rateWindowDefault, r.handleGroupSubroutes)))
	r.mux.HandleFunc("/projects", r.audit(r.handlerAuthRate("/projects", rateLimitUserWrite, rateWindowDefault, r.handleProjects)))
	r.mux.HandleFunc("/projects/", r.audit(r.handlerAuthRate("/projects/{id}", rateLimitUserWrite, rateWindowDefault, r.handleProjectSubroutes)))
	r.mux.HandleFunc("/jobs", r.audit(r.handlerAuthRate("/jobs", rateLimitUserWrite, rateWindowDefault, r.handleJobs)))
	r.mux.HandleFunc("/jobs/", r.audit(r.handlerAuthRate("/jobs/{id}", rateLimitUserWrite, rateWindowDefault, r.handleJobSubroutes)))
	r.mux.HandleFunc("/builds", r.audit(r.handlerAuthRate("/builds", rateLimitUserRead, rateWindowDefault, r.handleBuilds)))
	r.mux.HandleFunc("/deploys", r.audit(r.handlerAuthRate("/deploys", rateLimitUserRead, rateWindowDefault, r.handleDeploys)))
	r.mux.HandleFunc("/build/callback", r.audit(r.withRateLimit("/build/callback", rateLimitCallback, rateWindowDefault, rateLimitKeyIP, r.handleBuildCallback)))
	r.mux.HandleFunc("/ws/builds", r.audit(r.handlerAuthRate("/ws/builds", rateLimitWebsocket, rateWindowRealtime, r.handleBuildsWS)))
}

func (r *Router) handleTeams(w http.ResponseWriter, req *http.Request) {
	actor, ok := identity.FromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Name string `json:"name"`
			Slug string `json:"slug"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidBody", "invalid JSON body")
			return
		}
		created, err := r.svc.Team.Create(req.Context(), actor, team.CreateInput{Name: payload.Name, Slug: payload.Slug})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusCreated, created)
	case http.MethodGet:
		current, err := r.svc.Team.Get(req.Context(), actor.TeamID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, current)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleMembers(w http.ResponseWriter, req *http.Request) {
	actor, ok := identity.FromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		AccountID   string `json:"accountId"`
		Name        string `json:"name"`
		Role        string `json:"role"`
		AccessToken string `json:"accessToken"`
		APIToken    string `json:"apiToken"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidBody", "invalid JSON body")
		return
	}
	err := r.svc.Member.Upsert(req.Context(), member.UpsertInput{
		TeamID:      actor.TeamID,
		AccountID:   payload.AccountID,
		Name:        payload.Name,
		Role:        payload.Role,
		AccessToken: payload.AccessToken,
		APIToken:    payload.APIToken,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"accountId": payload.AccountID})
}

func (r *Router) handleGroups(w http.ResponseWriter, req *http.Request) {
	actor, ok := identity.FromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Name string `json:"name"`
			Slug string `json:"slug"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidBody", "invalid JSON body")
			return
		}
		created, err := r.svc.Group.Create(req.Context(), actor, group.CreateInput{Name: payload.Name, Slug: payload.Slug})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusCreated, created)
	case http.MethodGet:
		groups, err := r.svc.Group.List(req.Context(), actor.TeamID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, groups)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleGroupSubroutes(w http.ResponseWriter, req *http.Request) {
	actor, ok := identity.FromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	segments := pathSegments(req.URL.Path, "/groups/")
	if len(segments) != 1 || segments[0] == "" {
		r.notFound(w)
		return
	}
	groupID := segments[0]

	switch req.Method {
	case http.MethodGet:
		view, err := r.svc.Group.Get(req.Context(), groupID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, view)
	case http.MethodPut:
		var payload struct {
			Name   string `json:"name"`
			Status int    `json:"status"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidBody", "invalid JSON body")
			return
		}
		updated, err := r.svc.Group.Update(req.Context(), actor, group.UpdateInput{GroupID: groupID, Name: payload.Name, Status: payload.Status})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := r.svc.Group.Delete(req.Context(), actor, groupID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]string{"id": groupID})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	actor, ok := identity.FromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			GroupID string `json:"groupId"`
			Name    string `json:"name"`
			Slug    string `json:"slug"`
			Type    int    `json:"type"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidBody", "invalid JSON body")
			return
		}
		created, err := r.svc.Project.Create(req.Context(), actor, project.CreateInput{
			GroupID: payload.GroupID,
			Name:    payload.Name,
			Slug:    payload.Slug,
			Type:    payload.Type,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusCreated, created)
	case http.MethodGet:
		projects, err := r.svc.Project.List(req.Context(), actor.TeamID, req.URL.Query().Get("group_id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, projects)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	actor, ok := identity.FromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	segments := pathSegments(req.URL.Path, "/projects/")
	if len(segments) == 0 || segments[0] == "" {
		r.notFound(w)
		return
	}
	projectID := segments[0]

	if len(segments) == 1 {
		switch req.Method {
		case http.MethodGet:
			view, err := r.svc.Project.Get(req.Context(), projectID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeData(w, http.StatusOK, view)
		case http.MethodPut:
			var payload struct {
				Name   string `json:"name"`
				Type   int    `json:"type"`
				Status int    `json:"status"`
			}
			if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
				writeError(w, http.StatusBadRequest, "InvalidBody", "invalid JSON body")
				return
			}
			updated, err := r.svc.Project.Update(req.Context(), actor, project.UpdateInput{
				ProjectID: projectID,
				Name:      payload.Name,
				Type:      payload.Type,
				Status:    payload.Status,
			})
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeData(w, http.StatusOK, updated)
		case http.MethodDelete:
			if err := r.svc.Project.Delete(req.Context(), actor, projectID); err != nil {
				writeServiceError(w, err)
				return
			}
			writeData(w, http.StatusOK, map[string]string{"id": projectID})
		default:
			r.methodNotAllowed(w)
		}
		return
	}

	if len(segments) != 2 {
		r.notFound(w)
		return
	}
	switch segments[1] {
	case "repository":
		r.handleProjectRepository(w, req, actor, projectID)
	case "branches":
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		branches, err := r.svc.Project.Branches(req.Context(), actor, projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, branches)
	case "tags":
		r.handleProjectTags(w, req, actor, projectID)
	case "jobs":
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		jobs, err := r.svc.Job.ListByProject(req.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, jobs)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleProjectRepository(w http.ResponseWriter, req *http.Request, actor identity.Actor, projectID string) {
	switch req.Method {
	case http.MethodPost:
		link, err := r.svc.Project.ProvisionRepository(req.Context(), actor, projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusCreated, link)
	case http.MethodGet:
		link, err := r.svc.Project.Repository(req.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, link)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectTags(w http.ResponseWriter, req *http.Request, actor identity.Actor, projectID string) {
	switch req.Method {
	case http.MethodGet:
		tags, err := r.svc.Project.Tags(req.Context(), actor, projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, tags)
	case http.MethodPost:
		var payload struct {
			Name               string `json:"name"`
			Ref                string `json:"ref"`
			Message            string `json:"message"`
			ReleaseDescription string `json:"releaseDescription"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidBody", "invalid JSON body")
			return
		}
		tag, err := r.svc.Project.AddTag(req.Context(), actor, project.TagInput{
			ProjectID:          projectID,
			Name:               payload.Name,
			Ref:                payload.Ref,
			Message:            payload.Message,
			ReleaseDescription: payload.ReleaseDescription,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusCreated, tag)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleJobs(w http.ResponseWriter, req *http.Request) {
	actor, ok := identity.FromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		ProjectID string `json:"projectId"`
		Type      int    `json:"type"`
		Shell     string `json:"shell"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidBody", "invalid JSON body")
		return
	}
	created, err := r.svc.Job.Create(req.Context(), actor, job.CreateInput{
		ProjectID: payload.ProjectID,
		Type:      payload.Type,
		Shell:     payload.Shell,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, created)
}

func (r *Router) handleJobSubroutes(w http.ResponseWriter, req *http.Request) {
	actor, ok := identity.FromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	segments := pathSegments(req.URL.Path, "/jobs/")
	if len(segments) == 0 || segments[0] == "" {
		r.notFound(w)
		return
	}
	jobID := segments[0]

	if len(segments) == 1 {
		if req.Method != http.MethodDelete {
			r.methodNotAllowed(w)
			return
		}
		if err := r.svc.Job.Delete(req.Context(), actor, jobID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]string{"id": jobID})
		return
	}

	if len(segments) != 2 || req.Method != http.MethodPost {
		r.notFound(w)
		return
	}
	switch segments[1] {
	case "build":
		var payload struct {
			Branch string `json:"branch"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidBody", "invalid JSON body")
			return
		}
		log, err := r.svc.Job.TriggerBuild(req.Context(), actor, job.BuildInput{JobID: jobID, Branch: payload.Branch})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusCreated, log)
	case "deploy":
		var payload struct {
			ServerIDs []string `json:"serverIds"`
			Branch    string   `json:"branch"`
			Version   string   `json:"version"`
			Remark    string   `json:"remark"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidBody", "invalid JSON body")
			return
		}
		log, err := r.svc.Job.TriggerDeploy(req.Context(), actor, job.DeployInput{
			JobID:     jobID,
			ServerIDs: payload.ServerIDs,
			Branch:    payload.Branch,
			Version:   payload.Version,
			Remark:    payload.Remark,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusCreated, log)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleBuilds(w http.ResponseWriter, req *http.Request) {
	actor, ok := identity.FromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if projectID := req.URL.Query().Get("project_id"); projectID != "" && req.URL.Query().Get("job_name") != "" {
		log, err := r.svc.Job.LastBuild(req.Context(), projectID, req.URL.Query().Get("job_name"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, log)
		return
	}
	limit, offset := pagination(req)
	logs, err := r.svc.Job.BuildLogs(req.Context(), actor.TeamID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, logs)
}

func (r *Router) handleDeploys(w http.ResponseWriter, req *http.Request) {
	actor, ok := identity.FromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit, offset := pagination(req)
	logs, err := r.svc.Job.DeployLogs(req.Context(), actor.TeamID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, logs)
}

func (r *Router) handleBuildCallback(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyCallbackToken(w, req) {
		return
	}
	var payload job.CallbackInput
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidBody", "invalid JSON body")
		return
	}
	if err := r.svc.Job.ProcessCallback(req.Context(), payload); err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"logId": payload.LogID})
}

func (r *Router) handleBuildsWS(w http.ResponseWriter, req *http.Request) {
	if _, ok := identity.FromContext(req.Context()); !ok {
		r.logger.Error("auth context missing for builds websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "InternalError", "authorization context missing")
		return
	}
	projectID := req.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "InvalidQuery", "project_id query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn)
	r.hub.Register(projectID, client)
	go func() {
		client.Wait()
		r.hub.Unregister(projectID, client)
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			r.logger.Error("health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "Unhealthy", "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// audit logs one structured line per request with actor attribution.
func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		code := recorder.status
		if code == 0 {
			code = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		actorKind := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", code,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if actor, ok := identity.FromContext(ctx); ok {
			actorKind = "user"
			fields = append(fields, "user_id", actor.ID)
			if actor.TeamID != "" {
				fields = append(fields, "team_id", actor.TeamID)
			}
		} else if strings.HasPrefix(req.URL.Path, "/build/") {
			actorKind = "buildhost"
		}
		fields = append(fields, "actor", actorKind)

		r.recordRequestMetrics(req.Method, routeLabel(req.URL.Path), code, duration)

		switch {
		case code >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case code >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrader take the connection over.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// verifyCallbackToken guards the build host's report endpoint with a shared
// secret compared in constant time.
func (r *Router) verifyCallbackToken(w http.ResponseWriter, req *http.Request) bool {
	if r.callbackToken == "" {
		r.logger.Error("build callback token not configured")
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "callback endpoint disabled")
		return false
	}
	provided := strings.TrimSpace(req.Header.Get("X-Callback-Token"))
	if subtle.ConstantTimeCompare([]byte(provided), []byte(r.callbackToken)) != 1 {
		r.logger.Warn("build callback token mismatch", "ip", clientIP(req))
		writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid callback token")
		return false
	}
	return true
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "NotFound", "resource not found")
}

func pathSegments(path, prefix string) []string {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func pagination(req *http.Request) (limit, offset int) {
	limit = defaultHistoryLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if raw := req.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func routeLabel(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 {
		return "/"
	}
	return "/" + segments[0]
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
