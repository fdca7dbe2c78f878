// Package httpapi exposes the converter daemon's trigger surface over
// gin: health/queue introspection and a trigger/enqueue endpoint that
// submits a sync job to the queue.
//
// Grounded on original_source/converter/daemon.py's
// ConverterDaemonRequestHandler for the endpoint contract, and
// PriFo-HttpServer's server/middleware/gin_middleware.go for the gin
// conventions (request-ID middleware, gin.H JSON responses, panic
// recovery logging).
package httpapi

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Open-Inflation/converter/internal/queue"
)

// Defaults fills in whatever a trigger/enqueue request body omits,
// mirroring ConverterDaemonHTTPServer's default_* fields.
type Defaults struct {
	ReceiverDSN string
	CatalogDSN  string
	ParserName  string
	BatchSize   int
	MaxBatches  int
}

// Server wraps a gin.Engine bound to a Queue, an auth token, and the
// request defaults.
type Server struct {
	engine    *gin.Engine
	queue     *queue.Queue
	defaults  Defaults
	authToken string
}

// NewServer builds the router and registers every route. authToken
// empty disables the auth check entirely, matching the original's
// "auth_token is None" bypass.
func NewServer(q *queue.Queue, defaults Defaults, authToken string) *Server {
	engine := gin.New()
	engine.Use(requestIDMiddleware(), recoveryMiddleware())

	s := &Server{engine: engine, queue: q, defaults: defaults, authToken: strings.TrimSpace(authToken)}

	engine.GET("/health", s.handleSnapshot)
	engine.GET("/queue", s.handleSnapshot)
	engine.POST("/trigger", s.handleSubmit)
	engine.POST("/enqueue", s.handleSubmit)

	return s
}

// Handler returns the underlying http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleSnapshot(c *gin.Context) {
	snap := s.queue.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"running":          snap.Running,
		"queue_size":       snap.QueueSize,
		"active_jobs":      snap.ActiveJobs,
		"pending_jobs":     snap.PendingJobs,
		"total_enqueued":   snap.TotalEnqueued,
		"total_duplicates": snap.TotalDuplicates,
		"total_processed":  snap.TotalProcessed,
		"total_failed":     snap.TotalFailed,
	})
}

type submitRequest struct {
	ReceiverDB string      `json:"receiver_db"`
	CatalogDB  string      `json:"catalog_db"`
	ParserName string      `json:"parser_name"`
	RunID      string      `json:"run_id"`
	Source     string      `json:"source"`
	BatchSize  interface{} `json:"batch_size"`
	MaxBatches interface{} `json:"max_batches"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	if err := s.checkAuth(c); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	var body submitRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be valid JSON"})
			return
		}
	}

	receiverDB := firstNonEmpty(body.ReceiverDB, s.defaults.ReceiverDSN)
	catalogDB := firstNonEmpty(body.CatalogDB, s.defaults.CatalogDSN)
	parserName := firstNonEmpty(body.ParserName, s.defaults.ParserName)
	if parserName == "" {
		parserName = "fixprice"
	}
	source := firstNonEmpty(body.Source, "receiver")

	if receiverDB == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "receiver_db is required"})
		return
	}
	if catalogDB == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "catalog_db is required"})
		return
	}

	batchSize := coerceInt(body.BatchSize, s.defaults.BatchSize, 1)
	maxBatches := coerceInt(body.MaxBatches, s.defaults.MaxBatches, 0)

	job := queue.Job{
		ReceiverDSN: receiverDB,
		CatalogDSN:  catalogDB,
		ParserName:  parserName,
		BatchSize:   batchSize,
		MaxBatches:  maxBatches,
		RunID:       body.RunID,
		Source:      source,
	}
	result := s.queue.Enqueue(job)

	status := http.StatusAccepted
	if result.Reason == "queue_full" {
		status = http.StatusTooManyRequests
	}

	c.JSON(status, gin.H{
		"accepted":   result.Accepted,
		"duplicate":  result.Duplicate,
		"reason":     result.Reason,
		"queue_size": result.QueueSize,
		"job": gin.H{
			"receiver_db": job.ReceiverDSN,
			"catalog_db":  job.CatalogDSN,
			"parser_name": job.ParserName,
			"batch_size":  job.BatchSize,
			"max_batches": job.MaxBatches,
			"run_id":      job.RunID,
			"source":      job.Source,
		},
	})
}

// checkAuth accepts either "Authorization: Bearer <token>" or
// "X-Converter-Token: <token>", case-insensitively on the scheme, per
// original_source's _check_auth.
func (s *Server) checkAuth(c *gin.Context) error {
	if s.authToken == "" {
		return nil
	}

	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		supplied := strings.TrimSpace(authHeader[len("bearer "):])
		if supplied == s.authToken {
			return nil
		}
	}

	if strings.TrimSpace(c.GetHeader("X-Converter-Token")) == s.authToken {
		return nil
	}

	return errInvalidToken
}

var errInvalidToken = &tokenError{"invalid_token"}

type tokenError struct{ msg string }

func (e *tokenError) Error() string { return e.msg }

func firstNonEmpty(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(fallback)
}

// coerceInt accepts a JSON number, numeric string, or nothing, falling
// back to def when absent or unparsable, and never returning below
// minimum. Mirrors original_source's _to_int coercion for batch_size
// and max_batches.
func coerceInt(raw interface{}, def, minimum int) int {
	switch v := raw.(type) {
	case nil:
		return maxInt(minimum, def)
	case float64:
		return maxInt(minimum, int(v))
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return maxInt(minimum, def)
		}
		n, err := strconv.Atoi(trimmed)
		if err != nil {
			return maxInt(minimum, def)
		}
		return maxInt(minimum, n)
	default:
		return maxInt(minimum, def)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set("request_id", reqID)
		c.Header("X-Request-ID", reqID)
		c.Next()
	}
}

func recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("httpapi: panic recovered", "panic", r, "stack", string(debug.Stack()))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
				c.Abort()
			}
		}()
		c.Next()
	}
}
