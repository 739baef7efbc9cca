package routes

import (
	"net/http"

	"edgevision/internal/config"
	"edgevision/internal/handler"
	"edgevision/internal/logger"
	"edgevision/internal/middleware"
	"edgevision/internal/repository"
	"edgevision/internal/service/websocket"
)

// SetupRoutes registers the live view, channel status, recordings and log
// endpoints behind the API token check.
func SetupRoutes(cfg *config.Config, log *logger.Logger, system handler.ChannelSystem,
	hub *websocket.HubService, recordings repository.RecordingRepository) http.Handler {
	mux := http.NewServeMux()

	// Live view and channel status
	mux.HandleFunc("/api/view", handler.ViewWebsocketHandler(hub, log))
	mux.HandleFunc("/api/channels", handler.ChannelsHandler(system))
	mux.HandleFunc("/api/channels/rotate", handler.RotateHandler(system))

	// Recordings index
	mux.HandleFunc("/api/recordings", handler.GetRecordingsHandler(recordings, log))
	mux.HandleFunc("/api/recordings/view", handler.ViewRecordingHandler(cfg.PublicRecordingsPath))

	// Log endpoints
	mux.HandleFunc("/logs/info", handler.ShowLogsHandler(cfg.LogDirectory, logger.InfoFile))
	mux.HandleFunc("/logs/warning", handler.ShowLogsHandler(cfg.LogDirectory, logger.WarningFile))
	mux.HandleFunc("/logs/error", handler.ShowLogsHandler(cfg.LogDirectory, logger.ErrorFile))

	mux.HandleFunc("/logs/info/clear", handler.ClearLogsHandler(log, logger.InfoFile))
	mux.HandleFunc("/logs/warning/clear", handler.ClearLogsHandler(log, logger.WarningFile))
	mux.HandleFunc("/logs/error/clear", handler.ClearLogsHandler(log, logger.ErrorFile))

	// Auth endpoints
	mux.HandleFunc("/auth/login", handler.LoginHandler(cfg.APIToken, log))
	mux.HandleFunc("/auth/logout", handler.LogoutHandler)

	// Apply middleware
	return middleware.AuthMiddleware(cfg.APIToken)(mux)
}
