package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"callpipe/internal/api"
	"callpipe/internal/config"
	"callpipe/internal/logging"
	"callpipe/internal/queue"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxLogWait       = 25 * time.Second
)

type apiServer struct {
	bind     string
	logger   *slog.Logger
	daemon   *Daemon
	queueSvc *api.QueueService

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil, errors.New("api enabled without a bind address")
	}
	if strings.TrimSpace(cfg.API.Secret) == "" && !isLoopback(bind) {
		return nil, fmt.Errorf("api secret is required to bind %s", bind)
	}
	srv := &apiServer{
		bind:     bind,
		logger:   logging.NewComponentLogger(logger, "api"),
		daemon:   d,
		queueSvc: api.NewQueueService(d.store),
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.API.Secret),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      maxLogWait + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes(secret string) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := r.Group("/api", authMiddleware(secret))
	authed.GET("/status", s.handleStatus)
	authed.GET("/queue/stats", s.handleQueueStats)
	authed.GET("/calls", s.handleListCalls)
	authed.GET("/calls/:id", s.handleGetCall)
	authed.POST("/calls/retry", s.handleRetry)
	authed.GET("/breakers", s.handleBreakers)
	authed.POST("/breakers/:name/reset", s.handleResetBreaker)
	authed.GET("/logs", s.handleLogs)
	authed.POST("/notifications/test", s.handleTestNotification)
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.String(logging.FieldEventType, "api_listening"),
	)
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.shutdown()
}

func (s *apiServer) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader("X-Request-Id")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-Id", rid)
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		s.logger.Debug("api request",
			logging.String("request_id", rid),
			logging.String("method", c.Request.Method),
			logging.String("path", path),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("duration", time.Since(start)),
		)
	}
}

func (s *apiServer) handleStatus(c *gin.Context) {
	status := s.daemon.Status(c.Request.Context())
	resp := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		Database:     status.Database,
		LockFilePath: status.LockFilePath,
		Workflow:     api.FromStatusSummary(status.Workflow),
	}
	if !status.StartedAt.IsZero() {
		resp.StartedAt = status.StartedAt.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *apiServer) handleQueueStats(c *gin.Context) {
	stats, err := s.queueSvc.Stats(c.Request.Context())
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *apiServer) handleListCalls(c *gin.Context) {
	statuses, unknown := api.ParseStatuses(c.QueryArray("status"))
	if len(unknown) > 0 {
		s.writeError(c, http.StatusBadRequest, fmt.Errorf("unknown status %q", strings.Join(unknown, ",")))
		return
	}
	limit, err := intQuery(c, "limit", defaultListLimit)
	if err != nil {
		s.writeError(c, http.StatusBadRequest, err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		s.writeError(c, http.StatusBadRequest, err)
		return
	}
	calls, err := s.queueSvc.List(c.Request.Context(), queue.ListFilter{
		Statuses: statuses,
		Limit:    min(max(limit, 1), maxListLimit),
		Offset:   max(offset, 0),
	})
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, api.CallListResponse{Calls: calls})
}

func (s *apiServer) handleGetCall(c *gin.Context) {
	call, err := s.queueSvc.Describe(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, err)
		return
	}
	if call == nil {
		s.writeError(c, http.StatusNotFound, errors.New("call not found"))
		return
	}
	c.JSON(http.StatusOK, api.CallResponse{Call: *call})
}

func (s *apiServer) handleRetry(c *gin.Context) {
	var req api.RetryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeError(c, http.StatusBadRequest, err)
			return
		}
	}
	retried, err := s.queueSvc.Retry(c.Request.Context(), req.IDs)
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("failed calls retried via api",
		logging.Int64("count", retried),
		logging.String(logging.FieldEventType, "queue_retry"),
	)
	c.JSON(http.StatusOK, api.RetryResponse{Retried: retried})
}

func (s *apiServer) handleBreakers(c *gin.Context) {
	var states []api.BreakerState
	if s.daemon.breakers != nil {
		states = api.FromBreakerStats(s.daemon.breakers.Snapshot())
	}
	if states == nil {
		states = []api.BreakerState{}
	}
	c.JSON(http.StatusOK, api.BreakerListResponse{Breakers: states})
}

func (s *apiServer) handleResetBreaker(c *gin.Context) {
	name := c.Param("name")
	if !s.daemon.ResetBreaker(name) {
		s.writeError(c, http.StatusNotFound, fmt.Errorf("breaker %q not found", name))
		return
	}
	s.logger.Info("breaker reset via api",
		logging.String("breaker", name),
		logging.String(logging.FieldEventType, "breaker_reset"),
	)
	c.Status(http.StatusNoContent)
}

func (s *apiServer) handleLogs(c *gin.Context) {
	if s.daemon.stream == nil {
		c.JSON(http.StatusOK, api.LogStreamResponse{Events: []api.LogEvent{}})
		return
	}
	since, err := strconv.ParseUint(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil {
		s.writeError(c, http.StatusBadRequest, fmt.Errorf("invalid since: %w", err))
		return
	}
	limit, err := intQuery(c, "limit", 200)
	if err != nil {
		s.writeError(c, http.StatusBadRequest, err)
		return
	}
	ctx := c.Request.Context()
	wait := c.Query("follow") == "1" || c.Query("follow") == "true"
	if wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxLogWait)
		defer cancel()
	}
	events, next, err := s.daemon.stream.Fetch(ctx, since, limit, wait)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, api.LogStreamResponse{Events: api.FromLogEvents(events), Next: next})
}

func (s *apiServer) handleTestNotification(c *gin.Context) {
	if err := s.daemon.TestNotification(c.Request.Context()); err != nil {
		s.writeError(c, http.StatusBadGateway, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *apiServer) writeError(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Warn("api request failed",
			logging.Error(err),
			logging.String("path", c.Request.URL.Path),
			logging.String(logging.FieldEventType, "api_request_failed"),
		)
	}
	c.AbortWithStatusJSON(status, api.ErrorResponse{Error: err.Error()})
}

func intQuery(c *gin.Context, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func isLoopback(bind string) bool {
	host, _, err := net.SplitHostPort(bind)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
