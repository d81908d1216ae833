package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"netpilot/internal/storage"
)

func deviceJSON(d storage.Device) gin.H {
	out := gin.H{
		"id":             d.ID,
		"name":           d.Name,
		"ip_address":     d.IPAddress,
		"model":          d.Model,
		"status":         d.Status,
		"uptime_seconds": d.UptimeSeconds,
		"created_at":     d.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":     d.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if d.LastSeen != nil {
		out["last_seen"] = d.LastSeen.UTC().Format(time.RFC3339)
	}
	if d.ConfigBackup != nil {
		out["config_backup"] = *d.ConfigBackup
	}
	return out
}

func (s *Server) handleListDevices(c *gin.Context) {
	devices, err := s.store.ListDevices(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list devices")
		errorJSON(c, http.StatusInternalServerError, "failed to load devices")
		return
	}
	out := make([]gin.H, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceJSON(d))
	}
	c.JSON(http.StatusOK, gin.H{"devices": out})
}

type createDeviceRequest struct {
	Name      string `json:"name" binding:"required"`
	IPAddress string `json:"ip_address" binding:"required"`
	Model     string `json:"model"`
	Status    string `json:"status"`
}

func (s *Server) handleCreateDevice(c *gin.Context) {
	var req createDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "name and ip_address are required")
		return
	}
	if req.Status != "" && !storage.ValidDeviceStatus(req.Status) {
		errorJSON(c, http.StatusBadRequest, "unsupported device status "+req.Status)
		return
	}

	d, err := s.store.CreateDevice(c.Request.Context(), storage.Device{
		Name:      req.Name,
		IPAddress: req.IPAddress,
		Model:     req.Model,
		Status:    req.Status,
	})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidIPAddress) {
			errorJSON(c, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("failed to create device")
		errorJSON(c, http.StatusInternalServerError, "failed to create device")
		return
	}
	c.JSON(http.StatusCreated, deviceJSON(d))
}

func (s *Server) handleGetDevice(c *gin.Context) {
	d, err := s.store.GetDevice(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			errorJSON(c, http.StatusNotFound, "device not found")
			return
		}
		s.logger.Error().Err(err).Msg("failed to get device")
		errorJSON(c, http.StatusInternalServerError, "failed to load device")
		return
	}
	c.JSON(http.StatusOK, deviceJSON(d))
}

type updateDeviceRequest struct {
	Name         *string `json:"name"`
	IPAddress    *string `json:"ip_address"`
	Model        *string `json:"model"`
	ConfigBackup *string `json:"config_backup"`
}

func (s *Server) handleUpdateDevice(c *gin.Context) {
	var req updateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := s.store.UpdateDevice(c.Request.Context(), c.Param("id"), storage.DeviceUpdate{
		Name:         req.Name,
		IPAddress:    req.IPAddress,
		Model:        req.Model,
		ConfigBackup: req.ConfigBackup,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			errorJSON(c, http.StatusNotFound, "device not found")
		case errors.Is(err, storage.ErrInvalidIPAddress):
			errorJSON(c, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error().Err(err).Msg("failed to update device")
			errorJSON(c, http.StatusInternalServerError, "failed to update device")
		}
		return
	}
	c.JSON(http.StatusOK, deviceJSON(d))
}

func (s *Server) handleDeleteDevice(c *gin.Context) {
	if err := s.store.DeleteDevice(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			errorJSON(c, http.StatusNotFound, "device not found")
			return
		}
		s.logger.Error().Err(err).Msg("failed to delete device")
		errorJSON(c, http.StatusInternalServerError, "failed to delete device")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": "deleted"})
}

type deviceStatusRequest struct {
	Status        string `json:"status" binding:"required"`
	UptimeSeconds *int64 `json:"uptime_seconds"`
}

func (s *Server) handleDeviceStatus(c *gin.Context) {
	var req deviceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "status is required")
		return
	}
	if !storage.ValidDeviceStatus(req.Status) {
		errorJSON(c, http.StatusBadRequest, "unsupported device status "+req.Status)
		return
	}

	d, err := s.store.UpdateDeviceStatus(c.Request.Context(), c.Param("id"), req.Status, req.UptimeSeconds)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			errorJSON(c, http.StatusNotFound, "device not found")
			return
		}
		s.logger.Error().Err(err).Msg("failed to update device status")
		errorJSON(c, http.StatusInternalServerError, "failed to update device status")
		return
	}
	c.JSON(http.StatusOK, deviceJSON(d))
}
