package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/peerpulse/peerpulse/internal/cache"
	"github.com/peerpulse/peerpulse/internal/config"
	"github.com/peerpulse/peerpulse/internal/database"
	"github.com/peerpulse/peerpulse/internal/errors"
	"github.com/peerpulse/peerpulse/internal/evaluations"
	"github.com/peerpulse/peerpulse/internal/leaderboard"
	"github.com/peerpulse/peerpulse/internal/middleware"
	"github.com/peerpulse/peerpulse/internal/monitoring"
	"github.com/peerpulse/peerpulse/internal/privacy"
	"github.com/peerpulse/peerpulse/internal/ratelimit"
	"github.com/peerpulse/peerpulse/internal/resilience"
	"github.com/peerpulse/peerpulse/internal/schema"
	"github.com/peerpulse/peerpulse/internal/security"
)

// application bundles the wired dependencies so the router can be built the
// same way in main and in tests.
type application struct {
	cfg      *config.Config
	db       *database.DB
	repo     *database.Repository
	service  *evaluations.Service
	ranking  *leaderboard.Service
	privacy  *privacy.Service
	metrics  *monitoring.Metrics
	logger   *monitoring.Logger
	cache    *cache.Cache
	limiter  *ratelimit.RateLimiter
	compress *middleware.CompressionMiddleware
	secMW    *security.SecurityMiddleware
	health   *resilience.HealthRegistry
}

func main() {
	// Structured logging setup
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.NewDB(cfg.DataDir)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Column roles are resolved once at startup. A table we cannot map is a
	// deployment problem, not something to limp past.
	evalSchema, err := schema.Infer(db.DB, "evaluations")
	if err != nil {
		slog.Error("Failed to resolve evaluation schema", "error", errors.NewSchemaError(err))
		os.Exit(1)
	}
	slog.Info("Resolved evaluation schema",
		"subject", evalSchema.Subject,
		"rater", evalSchema.Rater,
		"criterion", evalSchema.Criterion,
		"score", evalSchema.Score)

	appMetrics := monitoring.NewMetrics()
	appLogger := monitoring.NewLogger()

	// An unreachable Redis is not fatal: the limiter degrades to its
	// in-memory fallback and the health registry reports the outage.
	redisClient, err := ratelimit.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		slog.Warn("Redis unavailable, continuing with in-memory rate limiting", "error", err)
	}
	defer redisClient.Close()

	limiterConfig := ratelimit.DefaultConfig()
	limiterConfig.IPLimitPerMin = cfg.RateLimitPerMin

	health := resilience.NewHealthRegistry(resilience.DefaultHealthConfig())
	health.Register("database", func(ctx context.Context) error {
		return db.PingContext(ctx)
	})
	if redisClient.IsEnabled() {
		health.Register("redis", redisClient.HealthCheck)
	}
	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()
	health.Start(healthCtx)

	repo := database.NewRepository(db, evalSchema)
	service := evaluations.NewService(db, repo, cfg, appMetrics, appLogger)
	ranking := leaderboard.NewService(repo, cfg)

	// Leaderboards are expensive to build from cold, so warm them in the
	// background and keep them fresh for the life of the process.
	go ranking.WarmCache(healthCtx)
	ranking.StartAutoRefresh(healthCtx, 5*time.Minute)

	app := &application{
		cfg:      cfg,
		db:       db,
		repo:     repo,
		service:  service,
		ranking:  ranking,
		privacy:  privacy.NewService(service),
		metrics:  appMetrics,
		logger:   appLogger,
		cache:    cache.NewCache(cfg.SummaryCacheTTL),
		limiter:  ratelimit.NewRateLimiter(redisClient, limiterConfig, appMetrics),
		compress: middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig()),
		secMW:    security.NewSecurityMiddleware(security.DefaultSecurityConfig()),
		health:   health,
	}

	r := app.setupRouter()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		slog.Info("Starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server exited")
}

// isSummaryPath matches both summary reads: the bulk endpoint and the
// per-subject variant under /users/:id/summary.
func isSummaryPath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/summary") ||
		(strings.HasPrefix(path, "/api/v1/users/") && strings.HasSuffix(path, "/summary"))
}

func (app *application) setupRouter() *gin.Engine {
	r := gin.New()

	// Monitoring first so every request is captured.
	r.Use(monitoring.MonitoringMiddleware(app.metrics, app.logger))
	r.Use(monitoring.SecurityMonitoringMiddleware(app.logger))

	r.Use(errors.ErrorHandler())
	r.Use(errors.RecoveryHandler())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = app.secMW.Config().AllowedOrigins
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, security.UserIDHeader)
	r.Use(cors.New(corsConfig))

	r.Use(security.SecurityHeadersMiddleware())
	r.Use(app.secMW.RequestTimeout)
	r.Use(app.secMW.ValidateContentType)
	r.Use(app.limiter.IPRateLimitMiddleware())

	// Compression wraps the writer before the cache so cached bodies stay
	// uncompressed and can be served to any client.
	r.Use(app.compress.Handler())

	// Summary responses may be served up to one TTL stale.
	r.Use(app.cache.Middleware(app.metrics, isSummaryPath))

	r.GET("/health", app.handleHealth)
	r.GET("/monitoring", app.handleMonitoring)
	r.GET("/ratelimit/status", app.limiter.HandleRateLimitStatus())
	r.GET("/privacy/policy", app.handlePrivacyPolicy)

	if os.Getenv("ENABLE_PROFILING") == "true" {
		slog.Info("Enabling performance profiling endpoints")
		r.GET("/debug/pprof/*filepath", gin.WrapF(pprof.Index))
		r.GET("/debug/pprof/cmdline", gin.WrapF(pprof.Cmdline))
		r.GET("/debug/pprof/profile", gin.WrapF(pprof.Profile))
		r.GET("/debug/pprof/symbol", gin.WrapF(pprof.Symbol))
		r.GET("/debug/pprof/trace", gin.WrapF(pprof.Trace))
	}

	api := r.Group("/api/v1")
	api.Use(app.secMW.RequireUser)

	api.POST("/users", app.handleCreateUser)
	api.DELETE("/users/me", app.handleDeleteAccount)
	api.GET("/users/:id/summary", app.handleSubjectSummary)
	api.GET("/users/:id/rater-stats", app.handleRaterStats)

	api.GET("/criteria", app.handleListCriteria)
	api.POST("/criteria", app.handleCreateCriterion)

	api.POST("/friendships", app.handleCreateFriendship)
	api.POST("/friendships/confirm", app.handleConfirmFriendship)

	api.POST("/evaluations",
		app.limiter.EndpointRateLimitMiddleware("evaluations", app.limiter.Config().WriteLimitPerMin),
		app.handleCreateEvaluation)
	api.GET("/evaluations", app.handleListEvaluations)
	api.GET("/evaluations/:id", app.handleGetEvaluation)
	api.DELETE("/evaluations/:id", app.handleDeleteEvaluation)

	api.GET("/tasks", app.handleTasks)
	api.GET("/summary", app.handleSummary)

	api.GET("/leaderboard/:criterion", app.handleLeaderboard)
	api.GET("/leaderboard/:criterion/rank/:id", app.handleSubjectRank)

	return r
}

func (app *application) handleHealth(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	var services map[string]resilience.ServiceHealth
	if app.health != nil {
		services = app.health.Snapshot()
		if app.health.AnyDown() {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, gin.H{
		"status":    status,
		"services":  services,
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   "1.0.0",
		"schema": gin.H{
			"subject":   app.repo.Schema().Subject,
			"rater":     app.repo.Schema().Rater,
			"criterion": app.repo.Schema().Criterion,
			"score":     app.repo.Schema().Score,
		},
	})
}

func (app *application) handleMonitoring(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"metrics":     app.metrics.GetStats(),
		"database":    app.db.GetPoolStats(),
		"cache":       app.cache.Stats(),
		"leaderboard": app.ranking.GetCacheStats(),
		"compression": app.compress.GetStats(),
		"rate_limit":  app.limiter.GetStats(),
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}

func (app *application) handleCreateUser(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		app.respondError(c, errors.NewValidationError("username is required"))
		return
	}
	if err := app.secMW.ValidateUsername(req.Username); err != nil {
		app.respondError(c, errors.NewValidationError(err.Error()))
		return
	}

	user := &database.User{
		ID:        security.CallerID(c),
		Username:  req.Username,
		CreatedAt: time.Now().UTC(),
	}
	if err := app.repo.CreateUser(c.Request.Context(), user); err != nil {
		app.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, user)
}

// handleDeleteAccount erases the caller's account and everything attached
// to it. Irreversible.
func (app *application) handleDeleteAccount(c *gin.Context) {
	userID := security.CallerID(c)
	if err := app.privacy.DeleteUserData(c.Request.Context(), userID); err != nil {
		app.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "account data deleted"})
}

func (app *application) handlePrivacyPolicy(c *gin.Context) {
	c.JSON(http.StatusOK, app.privacy.RetentionInfo())
}

func (app *application) handleListCriteria(c *gin.Context) {
	criteria, err := app.repo.ListCriteria(c.Request.Context())
	if err != nil {
		app.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"criteria": criteria, "count": len(criteria)})
}

func (app *application) handleCreateCriterion(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		app.respondError(c, errors.NewValidationError("name is required"))
		return
	}

	name := strings.ToLower(strings.TrimSpace(req.Name))
	if name == "" {
		app.respondError(c, errors.NewValidationError("name is required"))
		return
	}

	existing, err := app.repo.ListCriteria(c.Request.Context())
	if err != nil {
		app.respondError(c, err)
		return
	}
	for _, criterion := range existing {
		if criterion.Name == name {
			app.respondError(c, errors.NewValidationError("criterion already exists"))
			return
		}
	}

	criterion := &database.Criterion{Name: name}
	if err := app.repo.CreateCriterion(c.Request.Context(), criterion); err != nil {
		app.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, criterion)
}

func (app *application) handleCreateFriendship(c *gin.Context) {
	var req struct {
		ToUserID string `json:"to_user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		app.respondError(c, errors.NewValidationError("to_user_id is required"))
		return
	}

	caller := security.CallerID(c)
	if req.ToUserID == caller {
		app.respondError(c, errors.NewValidationError("cannot befriend yourself"))
		return
	}

	friendship := database.NewFriendship(caller, req.ToUserID)
	if err := app.repo.CreateFriendship(c.Request.Context(), friendship); err != nil {
		app.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, friendship)
}

// handleConfirmFriendship accepts a pending request addressed to the caller.
func (app *application) handleConfirmFriendship(c *gin.Context) {
	var req struct {
		FromUserID string `json:"from_user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		app.respondError(c, errors.NewValidationError("from_user_id is required"))
		return
	}

	caller := security.CallerID(c)
	if err := app.repo.ConfirmFriendship(c.Request.Context(), req.FromUserID, caller); err != nil {
		app.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"from_user_id": req.FromUserID,
		"to_user_id":   caller,
		"is_confirmed": true,
	})
}

func (app *application) handleCreateEvaluation(c *gin.Context) {
	var req struct {
		SubjectID   string `json:"subject_id" binding:"required"`
		CriterionID int64  `json:"criterion_id" binding:"required"`
		Score       int    `json:"score" binding:"required"`
		Familiarity *int   `json:"familiarity,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		app.respondError(c, errors.NewValidationError("subject_id, criterion_id and score are required"))
		return
	}

	eval, err := app.service.Create(c.Request.Context(), evaluations.CreateInput{
		EvaluatorID: security.CallerID(c),
		SubjectID:   req.SubjectID,
		CriterionID: req.CriterionID,
		Score:       req.Score,
		Familiarity: req.Familiarity,
	})
	if err != nil {
		app.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, eval)
}

func (app *application) handleListEvaluations(c *gin.Context) {
	evals, err := app.service.ListByEvaluator(c.Request.Context(), security.CallerID(c))
	if err != nil {
		app.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"evaluations": evals, "count": len(evals)})
}

func (app *application) handleGetEvaluation(c *gin.Context) {
	eval, err := app.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		app.respondError(c, err)
		return
	}
	// Raters only see their own submissions.
	if eval.EvaluatorID != security.CallerID(c) {
		app.respondError(c, errors.NewNotFoundError("evaluation", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, eval)
}

func (app *application) handleDeleteEvaluation(c *gin.Context) {
	err := app.service.Delete(c.Request.Context(), c.Param("id"), security.CallerID(c))
	if err != nil {
		app.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "evaluation deleted"})
}

func (app *application) handleTasks(c *gin.Context) {
	tasks, err := app.service.Tasks(c.Request.Context(), security.CallerID(c))
	if err != nil {
		app.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

func (app *application) handleSummary(c *gin.Context) {
	rows, err := app.service.Summary(c.Request.Context())
	if err != nil {
		app.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": rows, "count": len(rows)})
}

func (app *application) handleSubjectSummary(c *gin.Context) {
	summary, err := app.service.SummaryForSubject(c.Request.Context(), c.Param("id"))
	if err != nil {
		app.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (app *application) handleLeaderboard(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			app.respondError(c, errors.NewValidationError("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	board, err := app.ranking.GetLeaderboard(c.Request.Context(), c.Param("criterion"), limit)
	if err != nil {
		app.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

func (app *application) handleSubjectRank(c *gin.Context) {
	entry, err := app.ranking.GetSubjectRank(c.Request.Context(), c.Param("criterion"), c.Param("id"))
	if err != nil {
		app.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (app *application) handleRaterStats(c *gin.Context) {
	stats, err := app.service.RaterStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		app.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (app *application) respondError(c *gin.Context, err error) {
	appErr := errors.ToAppError(err)
	errors.LogError(c, appErr)
	c.JSON(appErr.HTTPStatus, appErr)
}
