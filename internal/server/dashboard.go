package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"netpilot/internal/ai"
	"netpilot/internal/queue"
	"netpilot/internal/storage"
)

func (s *Server) handleDashboardStats(c *gin.Context) {
	devices, err := s.store.DeviceStats(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load device stats")
		errorJSON(c, http.StatusInternalServerError, "failed to load dashboard stats")
		return
	}
	opCounts, err := s.store.OperationCountsByStatus(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load operation counts")
		errorJSON(c, http.StatusInternalServerError, "failed to load dashboard stats")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": gin.H{
			"total":   devices.Total,
			"online":  devices.Online,
			"offline": devices.Offline,
			"warning": devices.Warning,
		},
		"operations": gin.H{
			"pending": opCounts[storage.OperationPending],
			"running": opCounts[storage.OperationRunning],
			"success": opCounts[storage.OperationSuccess],
			"failed":  opCounts[storage.OperationFailed],
		},
	})
}

func operationJSON(op storage.Operation) gin.H {
	out := gin.H{
		"id":          op.ID,
		"type":        op.Kind,
		"status":      op.Status,
		"command":     op.Command,
		"result":      op.Result,
		"error":       op.ErrorMessage,
		"duration_ms": op.DurationMS,
		"created_at":  op.CreatedAt.UTC().Format(time.RFC3339),
	}
	if op.DeviceID != nil {
		out["device_id"] = *op.DeviceID
	}
	return out
}

func (s *Server) handleRecentOperations(c *gin.Context) {
	ops, err := s.store.ListOperations(c.Request.Context(), 10)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list recent operations")
		errorJSON(c, http.StatusInternalServerError, "failed to load recent operations")
		return
	}
	out := make([]gin.H, 0, len(ops))
	for _, op := range ops {
		out = append(out, operationJSON(op))
	}
	c.JSON(http.StatusOK, gin.H{"operations": out})
}

func (s *Server) handleListOperations(c *gin.Context) {
	limit := uint64(50)
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}
	ops, err := s.store.ListOperations(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list operations")
		errorJSON(c, http.StatusInternalServerError, "failed to load operations")
		return
	}
	out := make([]gin.H, 0, len(ops))
	for _, op := range ops {
		out = append(out, operationJSON(op))
	}
	c.JSON(http.StatusOK, gin.H{"operations": out})
}

type enqueueJobRequest struct {
	ConfigType string         `json:"config_type" binding:"required"`
	Parameters map[string]any `json:"parameters"`
	DeviceID   string         `json:"device_id"`
}

// handleEnqueueJob creates a pending operation row and puts a config
// generation job on the stream. The operation id doubles as the job handle.
func (s *Server) handleEnqueueJob(c *gin.Context) {
	if s.jobs == nil {
		errorJSON(c, http.StatusServiceUnavailable, "job queue is not configured")
		return
	}

	var req enqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "config_type is required")
		return
	}

	paramsJSON := "{}"
	if req.Parameters != nil {
		b, err := json.Marshal(req.Parameters)
		if err != nil {
			errorJSON(c, http.StatusBadRequest, "parameters must be a json object")
			return
		}
		paramsJSON = string(b)
	}

	op := storage.Operation{
		Kind:    "generate_config",
		Status:  storage.OperationPending,
		Command: "generate " + req.ConfigType,
	}
	if req.DeviceID != "" {
		op.DeviceID = &req.DeviceID
	}
	created, err := s.store.CreateOperation(c.Request.Context(), op)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to create operation")
		errorJSON(c, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	if _, err := s.jobs.Enqueue(c.Request.Context(), queue.ConfigJob{
		OperationID: created.ID,
		UserID:      ai.DefaultUserID,
		DeviceID:    req.DeviceID,
		ConfigType:  req.ConfigType,
		ParamsJSON:  paramsJSON,
	}); err != nil {
		s.logger.Error().Err(err).Msg("failed to enqueue job")
		if ferr := s.store.FinishOperation(c.Request.Context(), created.ID, storage.OperationFailed, "", "enqueue failed: "+err.Error(), 0); ferr != nil {
			s.logger.Error().Err(ferr).Str("operation_id", created.ID).Msg("failed to mark operation failed")
		}
		errorJSON(c, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.EnqueuedJobs.Inc()

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": created.ID,
		"status": storage.OperationPending,
	})
}

func (s *Server) handleGetJob(c *gin.Context) {
	op, err := s.store.GetOperation(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			errorJSON(c, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error().Err(err).Msg("failed to load job")
		errorJSON(c, http.StatusInternalServerError, "failed to load job")
		return
	}
	c.JSON(http.StatusOK, operationJSON(op))
}
