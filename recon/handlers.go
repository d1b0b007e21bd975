package recon

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/regsync_backend/config"
	"bitbucket.org/mmdatafocus/regsync_backend/models"
	"bitbucket.org/mmdatafocus/regsync_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// AdminTokenMiddleware gates the administrative surface behind the
// X-Admin-Token shared secret. With no secret configured every request is
// rejected, so the surface is closed by default.
func AdminTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(os.Getenv("ADMIN_API_TOKEN"))
		provided := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
		if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// CorrelationMiddleware stamps every request with a correlation id,
// echoing back a caller-provided one.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := strings.TrimSpace(c.GetHeader("X-Correlation-Id"))
		if correlationId == "" {
			correlationId = uuid.New().String()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Correlation-Id", correlationId)
		c.Next()
	}
}

type triggerSyncRequest struct {
	Kinds       []string `json:"kinds"`
	SkipKinds   []string `json:"skipKinds"`
	Since       string   `json:"since"`
	Force       bool     `json:"force"`
	Policy      string   `json:"policy" binding:"omitempty,oneof=mergeOnlyEmpty fullOverwrite"`
	ForceFields []string `json:"forceFields"`
	Relink      bool     `json:"relink"`
	// Queued runs are published to pub/sub and executed by the push
	// worker; unqueued runs execute in process.
	Queue bool `json:"queue"`
}

func TriggerSyncHandler(source RemoteSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if source == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "remote source not configured"})
			return
		}
		var req triggerSyncRequest
		// An empty body means "sync everything with defaults".
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			var validationErrs validator.ValidationErrors
			if errors.As(err, &validationErrs) {
				c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		opts := SyncOptions{
			Force:       req.Force,
			Policy:      MergePolicy(req.Policy),
			ForceFields: req.ForceFields,
			Relink:      req.Relink,
		}
		var badKinds []string
		opts.Kinds, badKinds = parseKinds(req.Kinds)
		if len(badKinds) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown kinds", "kinds": badKinds})
			return
		}
		opts.SkipKinds, badKinds = parseKinds(req.SkipKinds)
		if len(badKinds) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown skipKinds", "kinds": badKinds})
			return
		}
		if strings.TrimSpace(req.Since) != "" {
			since, err := time.Parse(time.RFC3339, req.Since)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
				return
			}
			opts.Since = &since
		}

		ctx := utils.SetTriggeredByInContext(c.Request.Context(), models.SyncTriggeredManual)
		orchestrator := NewOrchestrator(config.GetDB(), source)

		if req.Queue {
			sessionId := Sessions().Create()
			run := newSyncRun(sessionId, opts, models.SyncTriggeredManual)
			if err := config.GetDB().WithContext(ctx).Create(&run).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			if err := PublishSyncRun(ctx, sessionId, opts); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"sessionId": sessionId, "status": models.SyncRunStatusQueued})
			return
		}

		sessionId, err := orchestrator.StartSync(ctx, opts, models.SyncTriggeredManual)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"sessionId": sessionId, "status": models.SyncRunStatusQueued})
	}
}

// SyncProgressHandler answers polling consumers. Sessions evicted by TTL
// fall back to the durable sync_runs row.
func SyncProgressHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId := c.Param("sessionId")
		if progress, ok := Sessions().Snapshot(sessionId); ok {
			c.JSON(http.StatusOK, progress)
			return
		}

		var run models.SyncRun
		err := config.GetDB().WithContext(c.Request.Context()).
			Where("session_id = ?", sessionId).Take(&run).Error
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, runProgressPayload(run))
	}
}

// runProgressPayload shapes a durable sync_runs row like a live session
// snapshot for consumers polling past the session TTL. StatsJSON is
// already JSON; re-encoding it as []byte would base64 it.
func runProgressPayload(run models.SyncRun) gin.H {
	stats := json.RawMessage(run.StatsJSON)
	if len(stats) == 0 {
		stats = json.RawMessage("null")
	}
	return gin.H{
		"sessionId":   run.SessionId,
		"status":      run.Status,
		"current":     run.RecordsSynced,
		"total":       run.RecordsSynced,
		"failedCount": run.ErrorCount,
		"stats":       stats,
	}
}

func SyncEventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId := c.Param("sessionId")
		afterSeq, _ := strconv.ParseInt(c.Query("afterSeq"), 10, 64)
		events, ok := Sessions().Events(sessionId, afterSeq)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessionId": sessionId, "events": events})
	}
}

type relinkRequest struct {
	Rule   string `json:"rule" binding:"required"`
	Policy string `json:"policy" binding:"omitempty,oneof=strict closestTimestamp"`
	// DryRun computes matches without writing them.
	DryRun bool `json:"dryRun"`
}

func RelinkHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req relinkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var validationErrs validator.ValidationErrors
			if errors.As(err, &validationErrs) {
				c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		rule, ok := LinkRuleByName(req.Rule)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown rule", "rule": req.Rule})
			return
		}
		policy := LinkPolicy(req.Policy)
		if policy == "" {
			policy = LinkPolicyStrict
		}

		linker := NewLinker(config.GetDB(), config.GetLogger())
		var result RelinkResult
		var err error
		if req.DryRun {
			result, err = linker.Preview(c.Request.Context(), rule, policy)
		} else {
			result, err = linker.Run(c.Request.Context(), rule, policy)
		}
		if errors.Is(err, utils.ErrorRelinkInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

type fileMigrationRequest struct {
	DryRun bool `json:"dryRun"`
}

func FileMigrationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req fileMigrationRequest
		_ = c.ShouldBindJSON(&req)

		migrator := NewFileMigrator(config.GetDB())
		result, err := migrator.Run(c.Request.Context(), req.DryRun)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "partial": result})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func CheckpointsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		registrationId, err := strconv.Atoi(c.Param("registrationId"))
		if err != nil || registrationId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "registrationId must be a positive integer"})
			return
		}

		result, err := GetCheckpoints(c.Request.Context(), config.GetDB(), registrationId)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "registration not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func parseKinds(raw []string) ([]models.EntityKind, []string) {
	var kinds []models.EntityKind
	var bad []string
	for _, value := range raw {
		kind := models.EntityKind(strings.TrimSpace(value))
		if !kind.Valid() {
			bad = append(bad, value)
			continue
		}
		kinds = append(kinds, kind)
	}
	return kinds, bad
}
