package internal_ai

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// Server Event Types - one constant per realtime event the bridge reacts to
// =============================================================================

const (
	EventSessionCreated           = "session.created"
	EventSessionUpdated           = "session.updated"
	EventResponseAudioDelta       = "response.audio.delta"
	EventResponseAudioDone        = "response.audio.done"
	EventResponseTranscriptDelta  = "response.audio_transcript.delta"
	EventResponseTranscriptDone   = "response.audio_transcript.done"
	EventInputTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	EventSpeechStarted            = "input_audio_buffer.speech_started"
	EventSpeechStopped            = "input_audio_buffer.speech_stopped"
	EventResponseDone             = "response.done"
	EventError                    = "error"

	// Synthetic events injected by the client itself, never sent by the
	// provider. They let the session react to transport state changes through
	// the same event stream.
	EventConnReconnected = "connection.reconnected"
	EventConnClosed      = "connection.closed"
)

// APIError is the error body the provider attaches to "error" events.
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	EventID string `json:"event_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("realtime api error: type=%s code=%s message=%s", e.Type, e.Code, e.Message)
}

// ServerEvent is the decoded form of one provider event. The realtime wire
// protocol is a tagged union; only the fields relevant to the event's type are
// populated. Raw always holds the original payload so unknown event types can
// still be logged and persisted.
type ServerEvent struct {
	Type         string    `json:"type"`
	EventID      string    `json:"event_id,omitempty"`
	ItemID       string    `json:"item_id,omitempty"`
	ResponseID   string    `json:"response_id,omitempty"`
	ContentIndex int       `json:"content_index,omitempty"`
	Delta        string    `json:"delta,omitempty"`
	Transcript   string    `json:"transcript,omitempty"`
	AudioStartMs int       `json:"audio_start_ms,omitempty"`
	AudioEndMs   int       `json:"audio_end_ms,omitempty"`
	Error        *APIError `json:"error,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Known reports whether the bridge has dedicated handling for this event type.
func (e *ServerEvent) Known() bool {
	switch e.Type {
	case EventSessionCreated, EventSessionUpdated,
		EventResponseAudioDelta, EventResponseAudioDone,
		EventResponseTranscriptDelta, EventResponseTranscriptDone,
		EventInputTranscriptCompleted,
		EventSpeechStarted, EventSpeechStopped,
		EventResponseDone, EventError:
		return true
	}
	return false
}

// ParseServerEvent decodes a raw websocket payload into a ServerEvent.
// Unknown types are not an error; the caller decides what to do with them.
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to parse server event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("server event missing type field")
	}
	ev.Raw = append(json.RawMessage(nil), data...)
	return &ev, nil
}

// =============================================================================
// Client Messages - everything the bridge sends to the provider
// =============================================================================

// TurnDetection configures the provider-side voice activity detector.
// Threshold fields apply to server VAD; Eagerness to semantic VAD.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	Eagerness         string  `json:"eagerness,omitempty"`
	CreateResponse    *bool   `json:"create_response,omitempty"`
}

// Transcription enables input-audio transcription on the provider side.
type Transcription struct {
	Model string `json:"model"`
}

// SessionConfig is the payload of a session.update. Zero-valued fields are
// omitted so the provider keeps its defaults for them.
type SessionConfig struct {
	Modalities              []string       `json:"modalities,omitempty"`
	Instructions            string         `json:"instructions,omitempty"`
	Voice                   string         `json:"voice,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string         `json:"output_audio_format,omitempty"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`
	Temperature             float64        `json:"temperature,omitempty"`
}

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type audioAppendMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type simpleMessage struct {
	Type string `json:"type"`
}

type itemTruncateMessage struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int    `json:"audio_end_ms"`
}
