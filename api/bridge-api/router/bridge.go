package bridge_routers

import (
	"github.com/gin-gonic/gin"

	bridgeApi "github.com/ringbridge/api/bridge-api/api/bridge"
	"github.com/ringbridge/api/bridge-api/config"
	internal_session "github.com/ringbridge/api/bridge-api/internal/session"
	internal_store "github.com/ringbridge/api/bridge-api/internal/store"
	internal_telephony "github.com/ringbridge/api/bridge-api/internal/telephony"
	"github.com/ringbridge/pkg/commons"
)

// BridgeRoutes wires the media stream endpoint and the control plane onto the
// engine.
func BridgeRoutes(
	cfg *config.AppConfig,
	engine *gin.Engine,
	logger commons.Logger,
	registry *internal_session.Registry,
	store internal_store.Store,
	writer *internal_store.AsyncWriter,
	dialer *internal_telephony.Dialer,
) {
	logger.Info("Bridge routes added to engine.")
	api := bridgeApi.NewBridgeApi(cfg, logger, registry, store, writer, dialer)

	engine.GET("/media-stream", api.MediaStream)

	apiv1 := engine.Group("v1")
	{
		apiv1.GET("/status", api.Status)
		apiv1.GET("/events/:callId", api.Events)
		apiv1.POST("/session/config", api.SessionConfig)

		apiv1.POST("/calls", api.OutboundCall)
		apiv1.GET("/calls/:callId", api.GetCall)

		apiv1.POST("/prompts", api.SavePrompt)
		apiv1.GET("/prompts/:promptId", api.GetPrompt)
	}
}

// HealthCheckRoutes registers the liveness and readiness probes.
func HealthCheckRoutes(
	cfg *config.AppConfig,
	engine *gin.Engine,
	logger commons.Logger,
	registry *internal_session.Registry,
	store internal_store.Store,
) {
	logger.Info("Internal HealthCheckRoutes added to engine.")
	api := bridgeApi.NewBridgeApi(cfg, logger, registry, store, nil, nil)
	probe := engine.Group("")
	{
		probe.GET("/healthz/", api.Healthz)
		probe.GET("/readiness/", api.Readiness)
	}
}
