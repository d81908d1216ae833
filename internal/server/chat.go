package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"netpilot/internal/ai"
	"netpilot/internal/storage"
)

type chatSendRequest struct {
	Message   string `json:"message" binding:"required"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleChatSend(c *gin.Context) {
	var req chatSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "message is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		errorJSON(c, http.StatusBadRequest, "message is empty")
		return
	}

	userID := ai.DefaultUserID
	if s.limiter != nil {
		allowed, _, resetAt, err := s.limiter.Allow(c.Request.Context(), userID, time.Now())
		if err != nil {
			s.logger.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
		} else if !allowed {
			c.Header("Retry-After", strconv.FormatInt(int64(time.Until(resetAt).Seconds()), 10))
			errorJSON(c, http.StatusTooManyRequests, "chat rate limit exceeded, try again after "+resetAt.UTC().Format(time.RFC3339))
			return
		}
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	res, err := s.ai.Chat(c.Request.Context(), userID, sessionID, req.Message)
	if err != nil {
		s.logger.Error().Err(err).Msg("chat failed")
		errorJSON(c, http.StatusInternalServerError, "failed to process chat message")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"response":   res.Reply,
		"session_id": res.SessionID,
		"message_id": res.MessageID,
		"provider":   res.Provider,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleChatHistory(c *gin.Context) {
	sessionID := c.Param("session_id")
	limit := uint64(50)
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}

	rows, err := s.store.ListSessionMessages(c.Request.Context(), ai.DefaultUserID, sessionID, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list session messages")
		errorJSON(c, http.StatusInternalServerError, "failed to load chat history")
		return
	}

	messages := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, gin.H{
			"id":        r.ID,
			"role":      r.Role,
			"content":   r.Content,
			"timestamp": r.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "messages": messages})
}

func (s *Server) handleChatSessions(c *gin.Context) {
	sessions, err := s.store.ListSessions(c.Request.Context(), ai.DefaultUserID)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list sessions")
		errorJSON(c, http.StatusInternalServerError, "failed to load sessions")
		return
	}

	out := make([]gin.H, 0, len(sessions))
	for _, sum := range sessions {
		out = append(out, gin.H{
			"session_id":    sum.SessionID,
			"last_message":  sum.LastMessage,
			"last_updated":  sum.LastUpdated.UTC().Format(time.RFC3339),
			"message_count": sum.MessageCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) handleChatDeleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	deleted, err := s.store.DeleteSession(c.Request.Context(), ai.DefaultUserID, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			errorJSON(c, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error().Err(err).Msg("failed to delete session")
		errorJSON(c, http.StatusInternalServerError, "failed to delete session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "deleted_messages": deleted})
}

type generateConfigRequest struct {
	ConfigType string         `json:"config_type" binding:"required"`
	Parameters map[string]any `json:"parameters"`
	DeviceID   string         `json:"device_id"`
}

func (s *Server) handleGenerateConfig(c *gin.Context) {
	var req generateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "config_type is required")
		return
	}
	if req.Parameters == nil {
		req.Parameters = map[string]any{}
	}

	res, err := s.ai.GenerateConfig(c.Request.Context(), ai.DefaultUserID, req.ConfigType, req.Parameters, req.DeviceID)
	if err != nil {
		s.logger.Error().Err(err).Str("config_type", req.ConfigType).Msg("config generation failed")
		errorJSON(c, http.StatusBadGateway, "failed to generate configuration")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"configuration": res.Configuration,
		"config_type":   req.ConfigType,
		"session_id":    res.SessionID,
		"cached":        res.Cached,
	})
}

type validateConfigRequest struct {
	ConfigContent string `json:"config_content" binding:"required"`
	DeviceType    string `json:"device_type"`
}

func (s *Server) handleValidateConfig(c *gin.Context) {
	var req validateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "config_content is required")
		return
	}
	if strings.TrimSpace(req.DeviceType) == "" {
		req.DeviceType = "generic"
	}

	res, err := s.ai.ValidateConfig(c.Request.Context(), ai.DefaultUserID, req.ConfigContent, req.DeviceType)
	if err != nil {
		s.logger.Error().Err(err).Msg("config validation failed")
		errorJSON(c, http.StatusBadGateway, "failed to validate configuration")
		return
	}
	c.JSON(http.StatusOK, res)
}
