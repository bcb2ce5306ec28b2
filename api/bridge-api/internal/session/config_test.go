package internal_session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_store "github.com/ringbridge/api/bridge-api/internal/store"
	"github.com/ringbridge/pkg/commons"
)

func TestDefaultBridgeConfig(t *testing.T) {
	config := DefaultBridgeConfig()

	assert.Equal(t, "marin", config.Voice)
	assert.Equal(t, VADModeServer, config.VADMode)
	assert.Equal(t, 0.5, config.VADThreshold)
	assert.Equal(t, 300, config.PrefixPaddingMs)
	assert.Equal(t, 500, config.SilenceDurationMs)
	assert.NoError(t, config.Validate())
}

func TestBridgeConfig_Validate(t *testing.T) {
	config := DefaultBridgeConfig()
	config.Voice = "darth_vader"
	err := config.Validate()
	require.Error(t, err)
	assert.Equal(t, commons.ErrConfiguration, commons.KindOf(err))

	config = DefaultBridgeConfig()
	config.Instructions = strings.Repeat("a", maxInstructionsLength+1)
	assert.Error(t, config.Validate())

	config = DefaultBridgeConfig()
	config.VADMode = "client_vad"
	assert.Error(t, config.Validate())

	config = DefaultBridgeConfig()
	config.VADThreshold = 1.5
	assert.Error(t, config.Validate())

	config = DefaultBridgeConfig()
	config.VADMode = VADModeSemantic
	assert.NoError(t, config.Validate())

	config = DefaultBridgeConfig()
	config.Eagerness = "impatient"
	assert.Error(t, config.Validate())

	config = DefaultBridgeConfig()
	config.VADMode = VADModeSemantic
	config.Eagerness = "high"
	assert.NoError(t, config.Validate())
}

func TestResolveConfig_Layering(t *testing.T) {
	prompt := &internal_store.Prompt{
		ID:           "greeter",
		Instructions: "Greet callers warmly.",
		Voice:        "cedar",
	}
	inline := map[string]string{
		"voice": "sage",
	}

	resolved, err := ResolveConfig(DefaultBridgeConfig(), prompt, inline)
	require.NoError(t, err)

	// Inline beats prompt beats defaults.
	assert.Equal(t, "sage", resolved.Voice)
	assert.Equal(t, "Greet callers warmly.", resolved.Instructions)
	assert.Equal(t, "greeter", resolved.PromptID)
	assert.Equal(t, VADModeServer, resolved.VADMode)
}

func TestResolveConfig_InlineNumericParameters(t *testing.T) {
	resolved, err := ResolveConfig(DefaultBridgeConfig(), nil, map[string]string{
		"vadThreshold":      "0.8",
		"silenceDurationMs": "700",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.8, resolved.VADThreshold)
	assert.Equal(t, 700, resolved.SilenceDurationMs)

	_, err = ResolveConfig(DefaultBridgeConfig(), nil, map[string]string{
		"vadThreshold": "loud",
	})
	assert.Error(t, err)
}

func TestResolveConfig_SemanticVADParameters(t *testing.T) {
	resolved, err := ResolveConfig(DefaultBridgeConfig(), nil, map[string]string{
		"vadMode":        VADModeSemantic,
		"eagerness":      "low",
		"createResponse": "false",
	})
	require.NoError(t, err)
	assert.Equal(t, VADModeSemantic, resolved.VADMode)
	assert.Equal(t, "low", resolved.Eagerness)
	require.NotNil(t, resolved.CreateResponse)
	assert.False(t, *resolved.CreateResponse)

	_, err = ResolveConfig(DefaultBridgeConfig(), nil, map[string]string{
		"createResponse": "maybe",
	})
	assert.Error(t, err)
}

func TestResolveConfig_RejectsInvalidResult(t *testing.T) {
	_, err := ResolveConfig(DefaultBridgeConfig(), nil, map[string]string{"voice": "nonexistent"})
	require.Error(t, err)
	assert.Equal(t, commons.ErrConfiguration, commons.KindOf(err))
}

func TestSessionConfig_Rendering(t *testing.T) {
	config := DefaultBridgeConfig()
	config.Instructions = "Be brief."

	rendered := config.SessionConfig()
	assert.Equal(t, "pcm16", rendered.InputAudioFormat)
	assert.Equal(t, "pcm16", rendered.OutputAudioFormat)
	assert.Equal(t, []string{"text", "audio"}, rendered.Modalities)
	assert.Equal(t, "Be brief.", rendered.Instructions)

	require.NotNil(t, rendered.TurnDetection)
	assert.Equal(t, VADModeServer, rendered.TurnDetection.Type)
	assert.Equal(t, 0.5, rendered.TurnDetection.Threshold)
	require.NotNil(t, rendered.TurnDetection.CreateResponse)
	assert.True(t, *rendered.TurnDetection.CreateResponse)

	require.NotNil(t, rendered.InputAudioTranscription)
	assert.Equal(t, "whisper-1", rendered.InputAudioTranscription.Model)
}

func TestSessionConfig_SemanticVADOmitsThresholds(t *testing.T) {
	config := DefaultBridgeConfig()
	config.VADMode = VADModeSemantic

	rendered := config.SessionConfig()
	require.NotNil(t, rendered.TurnDetection)
	assert.Equal(t, VADModeSemantic, rendered.TurnDetection.Type)
	assert.Zero(t, rendered.TurnDetection.Threshold)
	assert.Zero(t, rendered.TurnDetection.SilenceDurationMs)
	assert.Equal(t, "auto", rendered.TurnDetection.Eagerness, "unset eagerness defaults to auto")

	off := false
	config.Eagerness = "high"
	config.CreateResponse = &off
	rendered = config.SessionConfig()
	assert.Equal(t, "high", rendered.TurnDetection.Eagerness)
	require.NotNil(t, rendered.TurnDetection.CreateResponse)
	assert.False(t, *rendered.TurnDetection.CreateResponse)

	// Server VAD never renders an eagerness knob.
	server := DefaultBridgeConfig()
	assert.Empty(t, server.SessionConfig().TurnDetection.Eagerness)
}
