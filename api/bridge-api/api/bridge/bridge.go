package bridge_api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ringbridge/api/bridge-api/config"
	internal_ai "github.com/ringbridge/api/bridge-api/internal/ai"
	internal_session "github.com/ringbridge/api/bridge-api/internal/session"
	internal_store "github.com/ringbridge/api/bridge-api/internal/store"
	internal_telephony "github.com/ringbridge/api/bridge-api/internal/telephony"
	"github.com/ringbridge/pkg/commons"
)

// BridgeApi serves the media stream websocket and the control plane around
// it: session status, live event observation, prompt management and outbound
// dialing.
type BridgeApi struct {
	cfg      *config.AppConfig
	logger   commons.Logger
	registry *internal_session.Registry
	store    internal_store.Store
	writer   *internal_store.AsyncWriter
	dialer   *internal_telephony.Dialer
	upgrader websocket.Upgrader
}

func NewBridgeApi(
	cfg *config.AppConfig,
	logger commons.Logger,
	registry *internal_session.Registry,
	store internal_store.Store,
	writer *internal_store.AsyncWriter,
	dialer *internal_telephony.Dialer,
) *BridgeApi {
	return &BridgeApi{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		store:    store,
		writer:   writer,
		dialer:   dialer,
		upgrader: websocket.Upgrader{
			// The telephony provider connects from its own cloud; origin
			// checks do not apply to server-to-server websockets.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (api *BridgeApi) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (api *BridgeApi) Readiness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"activeSessions": api.registry.Count(),
	})
}

// Status lists every live session.
func (api *BridgeApi) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":  api.cfg.Name,
		"version":  api.cfg.Version,
		"sessions": api.registry.Snapshots(),
	})
}

// defaults builds the bottom configuration layer from the app config.
func (api *BridgeApi) defaults() internal_session.BridgeConfig {
	defaults := internal_session.DefaultBridgeConfig()
	if api.cfg.DefaultVoice != "" {
		defaults.Voice = api.cfg.DefaultVoice
	}
	if api.cfg.DefaultInstructions != "" {
		defaults.Instructions = api.cfg.DefaultInstructions
	}
	return defaults
}

// MediaStream accepts the telephony provider's websocket and runs the bridge
// session for the lifetime of the call.
func (api *BridgeApi) MediaStream(c *gin.Context) {
	ws, err := api.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		api.logger.Errorf("Media stream upgrade failed: %v", err)
		return
	}

	conn := internal_telephony.NewConn(api.logger, ws)
	opts := internal_session.Options{
		Defaults: api.defaults(),
		Store:    api.store,
		Writer:   api.writer,
		NewRealtimeClient: func() internal_session.RealtimeClient {
			return internal_ai.NewClient(api.logger, internal_ai.Config{
				URL:    api.cfg.RealtimeConfig.URL,
				Model:  api.cfg.RealtimeConfig.Model,
				APIKey: api.cfg.RealtimeConfig.APIKey,
			})
		},
	}
	if api.cfg.RecordingEnabled {
		opts.Recorder = internal_session.NewRecorder(api.logger)
		opts.SaveRecording = api.saveRecording
	}

	session := internal_session.NewSession(api.logger, conn, opts)
	if err := api.registry.Run(c.Request.Context(), session); err != nil {
		api.logger.Errorw("Session failed", "sessionId", session.ID(), "error", err)
	}
}

func (api *BridgeApi) saveRecording(callSid string, wav []byte) error {
	if err := os.MkdirAll(api.cfg.RecordingDir, 0o755); err != nil {
		return fmt.Errorf("failed to create recording dir: %w", err)
	}
	name := callSid
	if name == "" {
		name = uuid.New().String()
	}
	path := filepath.Join(api.cfg.RecordingDir, name+".wav")
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	api.logger.Infow("Recording saved", "callSid", callSid, "path", path)
	return nil
}

// Events streams a live session's protocol events to a websocket observer.
func (api *BridgeApi) Events(c *gin.Context) {
	callSid := c.Param("callId")
	session, ok := api.registry.GetByCallSid(callSid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session for call"})
		return
	}

	ws, err := api.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		api.logger.Errorf("Observer upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	observerID := uuid.New().String()
	events := session.Observers().Attach(observerID)
	defer session.Observers().Detach(observerID)

	for {
		select {
		case payload, ok := <-events:
			if !ok {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-session.Done():
			// The terminal session.ended event may still be queued; drain
			// before closing.
			for {
				select {
				case payload, ok := <-events:
					if !ok {
						return
					}
					if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
						return
					}
				default:
					return
				}
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}

type sessionConfigRequest struct {
	CallSid string                        `json:"callSid" binding:"required"`
	Config  internal_session.BridgeConfig `json:"config" binding:"required"`
}

// SessionConfig updates a session's assistant configuration before it locks.
func (api *BridgeApi) SessionConfig(c *gin.Context) {
	var req sessionConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, ok := api.registry.GetByCallSid(req.CallSid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session for call"})
		return
	}
	if err := session.UpdateConfig(req.Config); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

type outboundCallRequest struct {
	To       string `json:"to" binding:"required"`
	PromptID string `json:"promptId"`
}

// OutboundCall places a call that connects straight back into the bridge.
func (api *BridgeApi) OutboundCall(c *gin.Context) {
	if api.dialer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "outbound dialing is not configured"})
		return
	}

	var req outboundCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := map[string]string{"direction": "outbound"}
	if req.PromptID != "" {
		params["promptId"] = req.PromptID
	}
	callSid, err := api.dialer.Dial(req.To, params)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"callSid": callSid})
}

// GetCall returns a finished or live call with its transcript.
func (api *BridgeApi) GetCall(c *gin.Context) {
	callSid := c.Param("callId")
	call, err := api.store.GetCall(c.Request.Context(), callSid)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	transcripts, err := api.store.GetTranscripts(c.Request.Context(), callSid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call, "transcripts": transcripts})
}

// SavePrompt creates or updates a reusable prompt.
func (api *BridgeApi) SavePrompt(c *gin.Context) {
	var prompt internal_store.Prompt
	if err := c.ShouldBindJSON(&prompt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	check := internal_session.BridgeConfig{Voice: prompt.Voice, Instructions: prompt.Instructions}
	if err := check.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := api.store.SavePrompt(c.Request.Context(), &prompt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, prompt)
}

// GetPrompt fetches one prompt by id.
func (api *BridgeApi) GetPrompt(c *gin.Context) {
	prompt, err := api.store.GetPrompt(c.Request.Context(), c.Param("promptId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "prompt not found"})
		return
	}
	c.JSON(http.StatusOK, prompt)
}
