package internal_store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ringbridge/pkg/commons"
)

// Store persists calls, their protocol events, transcripts and the reusable
// prompt library. All writes during an active call go through the async
// writer; the synchronous methods here are used at call boundaries and by the
// HTTP API.
type Store interface {
	// SavePrompt creates or updates a prompt by id.
	SavePrompt(ctx context.Context, prompt *Prompt) error

	// GetPrompt retrieves a prompt by id.
	GetPrompt(ctx context.Context, id string) (*Prompt, error)

	// CreateCall records a new active call when its media stream starts.
	CreateCall(ctx context.Context, call *CallRecord) error

	// CompleteCall transitions a call to its terminal status. The row stays
	// readable afterwards; provider callbacks and transcript queries can
	// arrive well after the stream ends.
	CompleteCall(ctx context.Context, callSid, status, reason string) error

	// GetCall retrieves a call by its provider sid regardless of status.
	GetCall(ctx context.Context, callSid string) (*CallRecord, error)

	// AppendEvents bulk-inserts protocol events for a call.
	AppendEvents(ctx context.Context, events []*EventRecord) error

	// AppendTranscripts bulk-inserts completed utterances for a call.
	AppendTranscripts(ctx context.Context, transcripts []*TranscriptRecord) error

	// GetTranscripts returns a call's transcript in utterance order.
	GetTranscripts(ctx context.Context, callSid string) ([]*TranscriptRecord, error)
}

type gormStore struct {
	db     *gorm.DB
	logger commons.Logger
}

// NewStore wraps an open gorm handle and migrates the schema.
func NewStore(db *gorm.DB, logger commons.Logger) (Store, error) {
	if err := db.AutoMigrate(&Prompt{}, &CallRecord{}, &EventRecord{}, &TranscriptRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate bridge schema: %w", err)
	}
	return &gormStore{db: db, logger: logger}, nil
}

// Open connects to the configured database. driver is "postgres" or
// "sqlite"; sqlite is the development default.
func Open(driver, dsn string) (*gorm.DB, error) {
	config := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), config)
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), config)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

func (s *gormStore) SavePrompt(ctx context.Context, prompt *Prompt) error {
	if prompt.ID == "" {
		return fmt.Errorf("prompt id is required")
	}
	if err := s.db.WithContext(ctx).Save(prompt).Error; err != nil {
		return fmt.Errorf("failed to save prompt %s: %w", prompt.ID, err)
	}
	s.logger.Debugf("saved prompt: id=%s voice=%s", prompt.ID, prompt.Voice)
	return nil
}

func (s *gormStore) GetPrompt(ctx context.Context, id string) (*Prompt, error) {
	var prompt Prompt
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&prompt).Error; err != nil {
		return nil, fmt.Errorf("prompt not found: %s: %w", id, err)
	}
	return &prompt, nil
}

func (s *gormStore) CreateCall(ctx context.Context, call *CallRecord) error {
	if call.Status == "" {
		call.Status = CallStatusActive
	}
	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(call).Error; err != nil {
		return fmt.Errorf("failed to create call %s: %w", call.CallSid, err)
	}
	s.logger.Infof("recorded call: callSid=%s direction=%s", call.CallSid, call.Direction)
	return nil
}

func (s *gormStore) CompleteCall(ctx context.Context, callSid, status, reason string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&CallRecord{}).
		Where("call_sid = ? AND status = ?", callSid, CallStatusActive).
		Updates(map[string]interface{}{
			"status":         status,
			"failure_reason": reason,
			"ended_at":       &now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to complete call %s: %w", callSid, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("call not active: %s", callSid)
	}
	return nil
}

func (s *gormStore) GetCall(ctx context.Context, callSid string) (*CallRecord, error) {
	var call CallRecord
	if err := s.db.WithContext(ctx).Where("call_sid = ?", callSid).First(&call).Error; err != nil {
		return nil, fmt.Errorf("call not found: %s: %w", callSid, err)
	}
	return &call, nil
}

func (s *gormStore) AppendEvents(ctx context.Context, events []*EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(events).Error; err != nil {
		return fmt.Errorf("failed to append %d events: %w", len(events), err)
	}
	return nil
}

func (s *gormStore) AppendTranscripts(ctx context.Context, transcripts []*TranscriptRecord) error {
	if len(transcripts) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(transcripts).Error; err != nil {
		return fmt.Errorf("failed to append %d transcripts: %w", len(transcripts), err)
	}
	return nil
}

func (s *gormStore) GetTranscripts(ctx context.Context, callSid string) ([]*TranscriptRecord, error) {
	var transcripts []*TranscriptRecord
	if err := s.db.WithContext(ctx).
		Where("call_sid = ?", callSid).
		Order("id ASC").
		Find(&transcripts).Error; err != nil {
		return nil, fmt.Errorf("failed to load transcripts for %s: %w", callSid, err)
	}
	return transcripts, nil
}
