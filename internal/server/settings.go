package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"netpilot/internal/ai"
	"netpilot/internal/crypto"
	"netpilot/internal/providers/registry"
	"netpilot/internal/storage"
)

func (s *Server) handleGetSettings(c *gin.Context) {
	section := c.Param("section")
	if !ai.KnownSection(section) {
		errorJSON(c, http.StatusNotFound, "unknown settings section")
		return
	}

	row, err := s.store.GetSetting(c.Request.Context(), section)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			def, derr := ai.DefaultSection(section)
			if derr != nil {
				errorJSON(c, http.StatusInternalServerError, "failed to load defaults")
				return
			}
			c.Data(http.StatusOK, "application/json", []byte(def))
			return
		}
		s.logger.Error().Err(err).Str("section", section).Msg("failed to load settings")
		errorJSON(c, http.StatusInternalServerError, "failed to load settings")
		return
	}
	c.Data(http.StatusOK, "application/json", []byte(row.ValueJSON))
}

func (s *Server) handlePutSettings(c *gin.Context) {
	section := c.Param("section")
	if !ai.KnownSection(section) {
		errorJSON(c, http.StatusNotFound, "unknown settings section")
		return
	}

	body, err := c.GetRawData()
	if err != nil || !json.Valid(body) {
		errorJSON(c, http.StatusBadRequest, "body must be a json document")
		return
	}

	if err := s.store.UpsertSetting(c.Request.Context(), section, string(body)); err != nil {
		s.logger.Error().Err(err).Str("section", section).Msg("failed to save settings")
		errorJSON(c, http.StatusInternalServerError, "failed to save settings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"section": section, "status": "saved"})
}

func (s *Server) handleListAPIKeys(c *gin.Context) {
	rows, err := s.store.ListAPIKeys(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list api keys")
		errorJSON(c, http.StatusInternalServerError, "failed to load api keys")
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, k := range rows {
		masked := "****"
		if plain, err := s.keyring.Open(k.EncKey); err == nil {
			masked = crypto.Mask(plain)
		} else {
			s.logger.Warn().Err(err).Str("name", k.Name).Msg("failed to decrypt api key for masking")
		}
		out = append(out, gin.H{
			"id":         k.ID,
			"name":       k.Name,
			"service":    k.Service,
			"masked_key": masked,
			"is_active":  k.IsActive,
			"created_at": k.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": out})
}

type addAPIKeyRequest struct {
	Name     string `json:"name" binding:"required"`
	Service  string `json:"service" binding:"required"`
	APIKey   string `json:"api_key" binding:"required"`
	IsActive *bool  `json:"is_active"`
}

func (s *Server) handleAddAPIKey(c *gin.Context) {
	var req addAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "name, service and api_key are required")
		return
	}
	service := strings.ToLower(strings.TrimSpace(req.Service))
	if !registry.Known(service) {
		errorJSON(c, http.StatusBadRequest, "unsupported service "+req.Service)
		return
	}

	enc, err := s.keyring.Seal(req.APIKey)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encrypt api key")
		errorJSON(c, http.StatusInternalServerError, "failed to store api key")
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	id, err := s.store.AddAPIKey(c.Request.Context(), storage.APIKey{
		Name:     req.Name,
		Service:  service,
		EncKey:   enc,
		IsActive: active,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to save api key")
		errorJSON(c, http.StatusInternalServerError, "failed to store api key")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":         id,
		"name":       req.Name,
		"service":    service,
		"masked_key": crypto.Mask(req.APIKey),
		"is_active":  active,
	})
}

func (s *Server) handleDeleteAPIKey(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid api key id")
		return
	}
	if err := s.store.DeleteAPIKey(c.Request.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			errorJSON(c, http.StatusNotFound, "api key not found")
			return
		}
		s.logger.Error().Err(err).Msg("failed to delete api key")
		errorJSON(c, http.StatusInternalServerError, "failed to delete api key")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "deleted"})
}

type testConnectionRequest struct {
	Service string `json:"service" binding:"required"`
	APIKey  string `json:"api_key"`
}

// handleTestConnection probes a provider with the supplied key, or the
// stored/environment key when the request omits one.
func (s *Server) handleTestConnection(c *gin.Context) {
	var req testConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "service is required")
		return
	}
	service := strings.ToLower(strings.TrimSpace(req.Service))
	if !registry.Known(service) {
		errorJSON(c, http.StatusBadRequest, "unsupported service "+req.Service)
		return
	}

	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		row, err := s.store.ActiveAPIKeyForService(c.Request.Context(), service)
		if err == nil {
			if plain, derr := s.keyring.Open(row.EncKey); derr == nil {
				apiKey = plain
			}
		}
	}
	if apiKey == "" {
		errorJSON(c, http.StatusBadRequest, "no api key available for "+service)
		return
	}

	if err := s.ai.TestConnection(c.Request.Context(), service, apiKey); err != nil {
		c.JSON(http.StatusOK, gin.H{"service": service, "status": "failed", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"service": service, "status": "connected"})
}
