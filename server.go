package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/wip_backend/config"
	"bitbucket.org/mmdatafocus/wip_backend/middlewares"
	"bitbucket.org/mmdatafocus/wip_backend/models"
	"bitbucket.org/mmdatafocus/wip_backend/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "rate:" + c.ClientIP()

	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

// errorStatus maps the ledger's typed failures onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrorInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrorNotConfirmed):
		return http.StatusPreconditionFailed
	case errors.Is(err, models.ErrorInsufficientBalance),
		errors.Is(err, models.ErrorInsufficientLabelQuantity),
		errors.Is(err, models.ErrorAlreadyReverted),
		errors.Is(err, models.ErrorAlreadyExecuted),
		errors.Is(err, models.ErrorConflict):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

func bindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
		return false
	}
	return true
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return id, true
}

func queryIntPtr(c *gin.Context, name string) *int {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func loginHandler() gin.HandlerFunc {
	type loginRequest struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	return func(c *gin.Context) {
		var req loginRequest
		if !bindJSON(c, &req) {
			return
		}
		info, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func addReceiptHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewReceipt
		if !bindJSON(c, &input) {
			return
		}
		receipt, err := models.AddReceipt(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, receipt)
	}
}

func deleteReceiptHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		receipt, err := models.DeleteReceipt(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, receipt)
	}
}

func revertReceiptHandler() gin.HandlerFunc {
	type revertRequest struct {
		ToVersionId int `json:"to_version_id" binding:"required"`
	}
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req revertRequest
		if !bindJSON(c, &req) {
			return
		}
		receipt, err := models.RevertReceipt(c.Request.Context(), id, req.ToVersionId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, receipt)
	}
}

func receiptAuditsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		audits, err := models.GetReceiptAudits(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, audits)
	}
}

func addTransferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewTransfer
		if !bindJSON(c, &input) {
			return
		}
		transfer, err := models.AddTransfer(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, transfer)
	}
}

func deleteTransferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		transfer, err := models.DeleteTransfer(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, transfer)
	}
}

func revertTransferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		transfer, err := models.RevertTransfer(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, transfer)
	}
}

func transferAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		audit, err := models.GetTransferAudit(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, audit)
	}
}

func addLaunchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewLaunch
		if !bindJSON(c, &input) {
			return
		}
		launch, err := models.AddLaunch(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, launch)
	}
}

func deleteLaunchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		launch, err := models.DeleteLaunch(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, launch)
	}
}

func adjustBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewAdjustment
		if !bindJSON(c, &input) {
			return
		}
		result, err := models.AdjustBalance(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func previewCleanupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCleanupJob
		if !bindJSON(c, &input) {
			return
		}
		job, err := models.PreviewCleanup(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, job)
	}
}

func executeCleanupHandler() gin.HandlerFunc {
	type executeRequest struct {
		Confirmed bool `json:"confirmed"`
	}
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req executeRequest
		if !bindJSON(c, &req) {
			return
		}
		result, err := models.ExecuteCleanup(c.Request.Context(), id, req.Confirmed)
		if err != nil {
			// a repeated execute returns the recorded result of the first run
			if errors.Is(err, models.ErrorAlreadyExecuted) && result != nil {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "result": result})
				return
			}
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func createLabelHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewLabel
		if !bindJSON(c, &input) {
			return
		}
		label, err := models.CreateLabel(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, label)
	}
}

func registerRoutes(r *gin.Engine) {
	r.POST("/auth/login", loginHandler())

	api := r.Group("/api", middlewares.RequireAuth())

	api.GET("/parts", func(c *gin.Context) {
		// ?number= looks up a single part by its drawing number
		if number := strings.TrimSpace(c.Query("number")); number != "" {
			part, err := models.GetPartByNumber(c.Request.Context(), number)
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, part)
			return
		}
		parts, err := models.GetAllParts(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, parts)
	})
	api.GET("/parts/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		part, err := models.GetPart(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, part)
	})
	api.GET("/sections", func(c *gin.Context) {
		sections, err := models.GetAllSections(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, sections)
	})
	api.GET("/sections/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		section, err := models.GetSection(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, section)
	})
	api.GET("/operations", func(c *gin.Context) {
		operations, err := models.GetAllOperations(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, operations)
	})
	api.GET("/operations/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		operation, err := models.GetOperation(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, operation)
	})
	api.GET("/parts/:id/route", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		route, err := models.GetRoute(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, route)
	})

	api.GET("/balances", func(c *gin.Context) {
		balances, err := models.GetBalances(c.Request.Context(), queryIntPtr(c, "part_id"), queryIntPtr(c, "section_id"), queryIntPtr(c, "op_number"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, balances)
	})
	api.GET("/balances/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		balance, err := models.GetBalance(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, balance)
	})

	api.GET("/labels", func(c *gin.Context) {
		labels, err := models.GetLabels(c.Request.Context(), queryIntPtr(c, "part_id"), queryIntPtr(c, "label_year"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, labels)
	})
	api.POST("/labels", createLabelHandler())

	api.GET("/receipts", func(c *gin.Context) {
		receipts, err := models.GetReceipts(c.Request.Context(), queryIntPtr(c, "part_id"), queryIntPtr(c, "section_id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, receipts)
	})
	api.GET("/receipts/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		receipt, err := models.GetReceipt(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, receipt)
	})
	api.POST("/receipts", addReceiptHandler())
	api.DELETE("/receipts/:id", deleteReceiptHandler())
	api.POST("/receipts/:id/revert", revertReceiptHandler())
	api.GET("/receipts/:id/audits", receiptAuditsHandler())

	api.GET("/transfers", func(c *gin.Context) {
		transfers, err := models.GetTransfers(c.Request.Context(), queryIntPtr(c, "part_id"), queryIntPtr(c, "section_id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, transfers)
	})
	api.GET("/transfers/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		transfer, err := models.GetTransfer(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, transfer)
	})
	api.POST("/transfers", addTransferHandler())
	api.DELETE("/transfers/:id", deleteTransferHandler())
	api.POST("/transfers/:id/revert", revertTransferHandler())
	api.GET("/transfers/:id/audit", transferAuditHandler())

	api.GET("/scraps", func(c *gin.Context) {
		scraps, err := models.GetScraps(c.Request.Context(), queryIntPtr(c, "part_id"), queryIntPtr(c, "section_id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, scraps)
	})
	api.GET("/scraps/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		scrap, err := models.GetScrap(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, scrap)
	})

	api.GET("/launches", func(c *gin.Context) {
		launches, err := models.GetLaunches(c.Request.Context(), queryIntPtr(c, "part_id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, launches)
	})
	api.GET("/launches/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		launch, err := models.GetLaunch(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, launch)
	})
	api.POST("/launches", addLaunchHandler())
	api.DELETE("/launches/:id", deleteLaunchHandler())

	api.POST("/adjustments", adjustBalanceHandler())
	api.GET("/adjustments", func(c *gin.Context) {
		adjustments, err := models.GetAdjustments(c.Request.Context(), queryIntPtr(c, "balance_id"), queryIntPtr(c, "part_id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, adjustments)
	})

	api.POST("/cleanup-jobs", previewCleanupHandler())
	api.GET("/cleanup-jobs", func(c *gin.Context) {
		jobs, err := models.GetCleanupJobs(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, jobs)
	})
	api.GET("/cleanup-jobs/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		job, err := models.GetCleanupJob(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
	})
	api.POST("/cleanup-jobs/:id/execute", executeCleanupHandler())

	// user administration is restricted to the admin role
	admin := api.Group("/users", middlewares.RequireAdmin())
	admin.POST("", func(c *gin.Context) {
		var input models.NewUser
		if !bindJSON(c, &input) {
			return
		}
		user, err := models.CreateUser(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, user)
	})
	admin.GET("", func(c *gin.Context) {
		users, err := models.GetAllUsers(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, users)
	})
	admin.GET("/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		user, err := models.GetUser(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	})
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server before the stores are connected; until they are
	// ready app endpoints answer 503.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist via CORS_ALLOWED_ORIGINS.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())
	registerRoutes(r)
	r.NoRoute(customNotFoundHandler)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations
	// as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
