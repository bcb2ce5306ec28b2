package internal_store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringbridge/pkg/commons"
)

var storeSeq int

func newTestStore(t *testing.T) Store {
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)

	storeSeq++
	db, err := Open("sqlite", fmt.Sprintf("file:store_test_%d?mode=memory&cache=shared", storeSeq))
	require.NoError(t, err)

	store, err := NewStore(db, logger)
	require.NoError(t, err)
	return store
}

func TestStore_PromptRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	prompt := &Prompt{
		ID:           "greeter",
		Name:         "Front desk greeter",
		Instructions: "You answer the phone for a dental clinic.",
		Voice:        "marin",
	}
	require.NoError(t, store.SavePrompt(ctx, prompt))

	got, err := store.GetPrompt(ctx, "greeter")
	require.NoError(t, err)
	assert.Equal(t, prompt.Instructions, got.Instructions)
	assert.Equal(t, "marin", got.Voice)

	// Save is an upsert.
	prompt.Voice = "cedar"
	require.NoError(t, store.SavePrompt(ctx, prompt))
	got, err = store.GetPrompt(ctx, "greeter")
	require.NoError(t, err)
	assert.Equal(t, "cedar", got.Voice)
}

func TestStore_PromptRequiresID(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.SavePrompt(context.Background(), &Prompt{Name: "nameless"}))
}

func TestStore_PromptNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetPrompt(context.Background(), "missing")
	assert.Error(t, err)
}

func TestStore_CallLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	call := &CallRecord{
		CallSid:    "CA100",
		StreamSid:  "MZ100",
		Direction:  "inbound",
		FromNumber: "+15550101",
		ToNumber:   "+15550102",
	}
	require.NoError(t, store.CreateCall(ctx, call))

	got, err := store.GetCall(ctx, "CA100")
	require.NoError(t, err)
	assert.Equal(t, CallStatusActive, got.Status)
	assert.False(t, got.StartedAt.IsZero())
	assert.Nil(t, got.EndedAt)

	require.NoError(t, store.CompleteCall(ctx, "CA100", CallStatusCompleted, ""))

	got, err = store.GetCall(ctx, "CA100")
	require.NoError(t, err)
	assert.Equal(t, CallStatusCompleted, got.Status)
	require.NotNil(t, got.EndedAt)

	// A call completes exactly once.
	assert.Error(t, store.CompleteCall(ctx, "CA100", CallStatusFailed, "late"))
}

func TestStore_CompleteUnknownCall(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.CompleteCall(context.Background(), "CA404", CallStatusCompleted, ""))
}

func TestStore_EventsAndTranscripts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCall(ctx, &CallRecord{CallSid: "CA200"}))

	require.NoError(t, store.AppendEvents(ctx, []*EventRecord{
		{CallSid: "CA200", Source: "telephony", Type: "start", Payload: `{"event":"start"}`},
		{CallSid: "CA200", Source: "ai", Type: "session.created", Payload: `{"type":"session.created"}`},
	}))
	require.NoError(t, store.AppendEvents(ctx, nil), "empty batch is a no-op")

	require.NoError(t, store.AppendTranscripts(ctx, []*TranscriptRecord{
		{CallSid: "CA200", Role: RoleCaller, ItemID: "item_1", Text: "hello"},
		{CallSid: "CA200", Role: RoleAssistant, ItemID: "item_2", Text: "hi, how can I help?"},
	}))

	transcripts, err := store.GetTranscripts(ctx, "CA200")
	require.NoError(t, err)
	require.Len(t, transcripts, 2)
	assert.Equal(t, RoleCaller, transcripts[0].Role)
	assert.Equal(t, "hi, how can I help?", transcripts[1].Text)
}

func TestAsyncWriter_PersistsInBackground(t *testing.T) {
	store := newTestStore(t)
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.CreateCall(ctx, &CallRecord{CallSid: "CA300"}))

	writer := NewAsyncWriter(ctx, logger, store)
	writer.QueueTranscripts([]*TranscriptRecord{
		{CallSid: "CA300", Role: RoleCaller, Text: "is anyone there"},
	})
	writer.QueueEvents([]*EventRecord{
		{CallSid: "CA300", Source: "telephony", Type: "media"},
	})
	writer.Close()

	transcripts, err := store.GetTranscripts(ctx, "CA300")
	require.NoError(t, err)
	require.Len(t, transcripts, 1)
	assert.Equal(t, "is anyone there", transcripts[0].Text)
}

func TestAsyncWriter_CloseIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)

	writer := NewAsyncWriter(context.Background(), logger, store)
	writer.Close()
	writer.Close()

	// Queueing after close is a silent no-op.
	writer.QueueEvents([]*EventRecord{{CallSid: "CA400", Type: "late"}})
	time.Sleep(10 * time.Millisecond)
}
