package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// registerPages wires the server-rendered frontend. The templates share a
// small payload of live counts so each page can render without a second
// round trip.
func (s *Server) registerPages() {
	s.engine.GET("/", s.pageDashboard)
	s.engine.GET("/chat", s.pageChat)
	s.engine.GET("/devices", s.pageDevices)
	s.engine.GET("/settings", s.pageSettings)
}

func (s *Server) pageDashboard(c *gin.Context) {
	stats, err := s.store.DeviceStats(c.Request.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load device stats for dashboard page")
	}
	c.HTML(http.StatusOK, "dashboard.html", gin.H{
		"Title":   "Dashboard",
		"Total":   stats.Total,
		"Online":  stats.Online,
		"Offline": stats.Offline,
		"Warning": stats.Warning,
	})
}

func (s *Server) pageChat(c *gin.Context) {
	c.HTML(http.StatusOK, "chat.html", gin.H{"Title": "Assistant"})
}

func (s *Server) pageDevices(c *gin.Context) {
	devices, err := s.store.ListDevices(c.Request.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load devices for devices page")
	}
	c.HTML(http.StatusOK, "devices.html", gin.H{
		"Title":   "Devices",
		"Devices": devices,
	})
}

func (s *Server) pageSettings(c *gin.Context) {
	c.HTML(http.StatusOK, "settings.html", gin.H{"Title": "Settings"})
}
