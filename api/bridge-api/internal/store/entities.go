package internal_store

import (
	"time"
)

// Call status values. A call row is created when the media stream starts and
// transitioned exactly once when the session ends; it is never deleted during
// the call lifecycle because transcripts and events keep referencing it.
const (
	CallStatusActive    = "active"
	CallStatusCompleted = "completed"
	CallStatusFailed    = "failed"
)

// Transcript roles.
const (
	RoleCaller    = "caller"
	RoleAssistant = "assistant"
)

// Prompt is a reusable assistant configuration selectable per call via the
// stream's custom parameters or the session config endpoint.
type Prompt struct {
	ID           string `gorm:"primaryKey;size:64"`
	Name         string `gorm:"size:255"`
	Instructions string `gorm:"type:text"`
	Voice        string `gorm:"size:32"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CallRecord is one bridged call.
type CallRecord struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	CallSid       string `gorm:"uniqueIndex;size:64"`
	StreamSid     string `gorm:"size:64"`
	Direction     string `gorm:"size:16"`
	FromNumber    string `gorm:"size:32"`
	ToNumber      string `gorm:"size:32"`
	PromptID      string `gorm:"size:64"`
	Status        string `gorm:"size:16;index"`
	FailureReason string `gorm:"size:255"`
	StartedAt     time.Time
	EndedAt       *time.Time
}

// Event directions relative to the bridge.
const (
	EventInbound  = "inbound"
	EventOutbound = "outbound"
)

// EventRecord is one protocol event observed during a call, kept verbatim for
// replay and debugging. Source distinguishes the two legs; Direction whether
// the message arrived at the bridge or was sent by it.
type EventRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	CallSid   string `gorm:"index;size:64"`
	Source    string `gorm:"size:16"`
	Type      string `gorm:"size:64"`
	Direction string `gorm:"size:16"`
	Payload   string `gorm:"type:text"`
	CreatedAt time.Time
}

// TranscriptRecord is one completed utterance, caller or assistant.
type TranscriptRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	CallSid   string `gorm:"index;size:64"`
	Role      string `gorm:"size:16"`
	ItemID    string `gorm:"size:64"`
	Text      string `gorm:"type:text"`
	CreatedAt time.Time
}
