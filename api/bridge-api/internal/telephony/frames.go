package internal_telephony

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// Media Stream Frame Types - the provider's websocket wire protocol
// =============================================================================

const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
	EventDTMF      = "dtmf"

	// Outbound only.
	EventClear = "clear"
)

// MediaFormat describes the audio encoding negotiated for the stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// StartPayload arrives once per stream and binds the websocket to a call.
type StartPayload struct {
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	StreamSid        string            `json:"streamSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaPayload carries one chunk of base64 µ-law audio.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// MarkPayload echoes a playback marker back to us.
type MarkPayload struct {
	Name string `json:"name"`
}

// StopPayload announces the end of the stream.
type StopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// DTMFPayload carries one keypad digit pressed by the caller.
type DTMFPayload struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

// Frame is one inbound message from the telephony provider. Event selects
// which payload pointer is set.
type Frame struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Protocol       string        `json:"protocol,omitempty"`
	Version        string        `json:"version,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
	DTMF           *DTMFPayload  `json:"dtmf,omitempty"`
}

// ParseFrame decodes one inbound websocket message and checks that the
// payload matching its event type is present.
func ParseFrame(data []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("failed to parse media stream frame: %w", err)
	}
	switch frame.Event {
	case "":
		return nil, fmt.Errorf("media stream frame missing event field")
	case EventStart:
		if frame.Start == nil {
			return nil, fmt.Errorf("start frame missing start payload")
		}
	case EventMedia:
		if frame.Media == nil {
			return nil, fmt.Errorf("media frame missing media payload")
		}
	case EventDTMF:
		if frame.DTMF == nil {
			return nil, fmt.Errorf("dtmf frame missing dtmf payload")
		}
	}
	return &frame, nil
}

// =============================================================================
// Outbound messages
// =============================================================================

type outboundMedia struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

type outboundMark struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Mark      struct {
		Name string `json:"name"`
	} `json:"mark"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

func newOutboundMedia(streamSid, payload string) outboundMedia {
	msg := outboundMedia{Event: EventMedia, StreamSid: streamSid}
	msg.Media.Payload = payload
	return msg
}

func newOutboundMark(streamSid, name string) outboundMark {
	msg := outboundMark{Event: EventMark, StreamSid: streamSid}
	msg.Mark.Name = name
	return msg
}

func newOutboundClear(streamSid string) outboundClear {
	return outboundClear{Event: EventClear, StreamSid: streamSid}
}
