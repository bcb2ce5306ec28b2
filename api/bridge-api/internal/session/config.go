package internal_session

import (
	"fmt"
	"strconv"

	internal_ai "github.com/ringbridge/api/bridge-api/internal/ai"
	internal_store "github.com/ringbridge/api/bridge-api/internal/store"
	"github.com/ringbridge/pkg/commons"
)

const maxInstructionsLength = 4096

// VAD modes the provider supports.
const (
	VADModeServer   = "server_vad"
	VADModeSemantic = "semantic_vad"
)

var allowedEagerness = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
	"auto":   true,
}

var allowedVoices = map[string]bool{
	"marin":   true,
	"cedar":   true,
	"alloy":   true,
	"echo":    true,
	"shimmer": true,
	"ash":     true,
	"ballad":  true,
	"coral":   true,
	"sage":    true,
	"verse":   true,
}

// BridgeConfig is the per-call assistant configuration. It is resolved from
// three layers, most specific first: inline stream parameters, a stored
// prompt, the application defaults.
type BridgeConfig struct {
	PromptID     string `json:"promptId,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Voice        string `json:"voice,omitempty"`

	VADMode           string  `json:"vadMode,omitempty"`
	VADThreshold      float64 `json:"vadThreshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefixPaddingMs,omitempty"`
	SilenceDurationMs int     `json:"silenceDurationMs,omitempty"`
	Eagerness         string  `json:"eagerness,omitempty"`
	CreateResponse    *bool   `json:"createResponse,omitempty"`

	TranscriptionModel string `json:"transcriptionModel,omitempty"`
}

// DefaultBridgeConfig is the bottom resolution layer.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		Voice:              "marin",
		VADMode:            VADModeServer,
		VADThreshold:       0.5,
		PrefixPaddingMs:    300,
		SilenceDurationMs:  500,
		TranscriptionModel: "whisper-1",
	}
}

// Validate rejects configurations the provider would refuse.
func (c *BridgeConfig) Validate() error {
	if c.Voice != "" && !allowedVoices[c.Voice] {
		return commons.NewBridgeError(commons.ErrConfiguration,
			fmt.Sprintf("unsupported voice: %s", c.Voice), nil)
	}
	if len(c.Instructions) > maxInstructionsLength {
		return commons.NewBridgeError(commons.ErrConfiguration,
			fmt.Sprintf("instructions exceed %d characters", maxInstructionsLength), nil)
	}
	switch c.VADMode {
	case "", VADModeServer, VADModeSemantic:
	default:
		return commons.NewBridgeError(commons.ErrConfiguration,
			fmt.Sprintf("unsupported vad mode: %s", c.VADMode), nil)
	}
	if c.VADThreshold < 0 || c.VADThreshold > 1 {
		return commons.NewBridgeError(commons.ErrConfiguration,
			"vad threshold must be between 0 and 1", nil)
	}
	if c.Eagerness != "" && !allowedEagerness[c.Eagerness] {
		return commons.NewBridgeError(commons.ErrConfiguration,
			fmt.Sprintf("unsupported eagerness: %s", c.Eagerness), nil)
	}
	return nil
}

// merge overlays non-zero fields of other onto c.
func (c BridgeConfig) merge(other BridgeConfig) BridgeConfig {
	if other.PromptID != "" {
		c.PromptID = other.PromptID
	}
	if other.Instructions != "" {
		c.Instructions = other.Instructions
	}
	if other.Voice != "" {
		c.Voice = other.Voice
	}
	if other.VADMode != "" {
		c.VADMode = other.VADMode
	}
	if other.VADThreshold != 0 {
		c.VADThreshold = other.VADThreshold
	}
	if other.PrefixPaddingMs != 0 {
		c.PrefixPaddingMs = other.PrefixPaddingMs
	}
	if other.SilenceDurationMs != 0 {
		c.SilenceDurationMs = other.SilenceDurationMs
	}
	if other.Eagerness != "" {
		c.Eagerness = other.Eagerness
	}
	if other.CreateResponse != nil {
		c.CreateResponse = other.CreateResponse
	}
	if other.TranscriptionModel != "" {
		c.TranscriptionModel = other.TranscriptionModel
	}
	return c
}

// ResolveConfig layers a stored prompt and the stream's inline parameters
// over the defaults. Inline parameters win over the prompt, which wins over
// defaults.
func ResolveConfig(defaults BridgeConfig, prompt *internal_store.Prompt, inline map[string]string) (BridgeConfig, error) {
	resolved := defaults

	if prompt != nil {
		resolved = resolved.merge(BridgeConfig{
			PromptID:     prompt.ID,
			Instructions: prompt.Instructions,
			Voice:        prompt.Voice,
		})
	}

	if inline != nil {
		overlay := BridgeConfig{
			PromptID:     inline["promptId"],
			Instructions: inline["instructions"],
			Voice:        inline["voice"],
			VADMode:      inline["vadMode"],
			Eagerness:    inline["eagerness"],
		}
		if v, ok := inline["createResponse"]; ok {
			enabled, err := strconv.ParseBool(v)
			if err != nil {
				return resolved, commons.NewBridgeError(commons.ErrConfiguration,
					"createResponse parameter is not a boolean", err)
			}
			overlay.CreateResponse = &enabled
		}
		if v, ok := inline["vadThreshold"]; ok {
			threshold, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return resolved, commons.NewBridgeError(commons.ErrConfiguration,
					"vadThreshold parameter is not a number", err)
			}
			overlay.VADThreshold = threshold
		}
		if v, ok := inline["silenceDurationMs"]; ok {
			ms, err := strconv.Atoi(v)
			if err != nil {
				return resolved, commons.NewBridgeError(commons.ErrConfiguration,
					"silenceDurationMs parameter is not a number", err)
			}
			overlay.SilenceDurationMs = ms
		}
		resolved = resolved.merge(overlay)
	}

	if err := resolved.Validate(); err != nil {
		return resolved, err
	}
	return resolved, nil
}

// SessionConfig renders the resolved configuration into the provider's
// session.update payload. Audio formats are fixed: the bridge always speaks
// PCM16 to the provider.
func (c BridgeConfig) SessionConfig() internal_ai.SessionConfig {
	createResponse := true
	if c.CreateResponse != nil {
		createResponse = *c.CreateResponse
	}
	turnDetection := &internal_ai.TurnDetection{
		Type:           c.VADMode,
		CreateResponse: &createResponse,
	}
	switch c.VADMode {
	case VADModeServer:
		turnDetection.Threshold = c.VADThreshold
		turnDetection.PrefixPaddingMs = c.PrefixPaddingMs
		turnDetection.SilenceDurationMs = c.SilenceDurationMs
	case VADModeSemantic:
		turnDetection.Eagerness = c.Eagerness
		if turnDetection.Eagerness == "" {
			turnDetection.Eagerness = "auto"
		}
	}

	config := internal_ai.SessionConfig{
		Modalities:        []string{"text", "audio"},
		Instructions:      c.Instructions,
		Voice:             c.Voice,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     turnDetection,
	}
	if c.TranscriptionModel != "" {
		config.InputAudioTranscription = &internal_ai.Transcription{Model: c.TranscriptionModel}
	}
	return config
}
