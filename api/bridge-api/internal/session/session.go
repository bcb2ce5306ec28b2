package internal_session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	internal_ai "github.com/ringbridge/api/bridge-api/internal/ai"
	internal_audio "github.com/ringbridge/api/bridge-api/internal/audio"
	internal_store "github.com/ringbridge/api/bridge-api/internal/store"
	internal_telephony "github.com/ringbridge/api/bridge-api/internal/telephony"
	"github.com/ringbridge/pkg/commons"
	"github.com/ringbridge/pkg/utils"
)

const (
	// Caller audio arriving before the assistant session is ready is held and
	// replayed. 100 frames of 20 ms is two seconds.
	earlyAudioLimit = 100

	eventLogLimit = 10000

	watchdogInterval = time.Second

	// 30 s of continuous caller silence at 20 ms frames triggers a warning.
	silentFrameLimit = 1500
)

// RealtimeClient is the slice of the AI client the session drives. Narrowed
// for tests.
type RealtimeClient interface {
	Connect(ctx context.Context) error
	Events() <-chan *internal_ai.ServerEvent
	UpdateSession(config internal_ai.SessionConfig) error
	AppendAudio(audioB64 string) error
	TruncateItem(itemID string, contentIndex, audioEndMs int) error
	Close() error
}

// Options wires a session's collaborators.
type Options struct {
	Defaults BridgeConfig
	Store    internal_store.Store
	Writer   *internal_store.AsyncWriter
	Recorder *Recorder

	// SaveRecording receives the mixed call recording at teardown. Optional;
	// failures are logged, never fatal.
	SaveRecording func(callSid string, wav []byte) error

	// NewRealtimeClient builds the AI leg once the start frame arrives.
	NewRealtimeClient func() RealtimeClient
}

// Snapshot is the session's externally visible state.
type Snapshot struct {
	ID                string    `json:"id"`
	CallSid           string    `json:"callSid"`
	StreamSid         string    `json:"streamSid"`
	State             string    `json:"state"`
	UserSpeaking      bool      `json:"userSpeaking"`
	AssistantSpeaking bool      `json:"assistantSpeaking"`
	StartedAt         time.Time `json:"startedAt"`
	EventCount        int       `json:"eventCount"`
}

// Session bridges one telephony media stream to one realtime AI session. It
// owns both connections for the duration of the call; Run blocks until the
// call ends.
type Session struct {
	id        string
	logger    commons.Logger
	telephony *internal_telephony.Conn
	opts      Options

	machine  *stateMachine
	hub      *ObserverHub
	splitter *internal_audio.ChunkSplitter

	mu                sync.Mutex
	config            BridgeConfig
	ai                RealtimeClient
	userSpeaking      bool
	assistantSpeaking bool
	currentItemID     string
	currentResponseID string
	firstDeltaAt      time.Time
	earlyAudio        []string
	earlyDropped      int
	silentFrames      int
	silenceWarned     bool
	eventLog          []json.RawMessage
	transcriptBuf     string
	startedAt         time.Time
	stopReceived      bool
	stopRequested     bool
	failure           error
	cancel            context.CancelFunc

	stopped chan struct{}
}

// NewSession wraps an accepted media stream connection.
func NewSession(logger commons.Logger, conn *internal_telephony.Conn, opts Options) *Session {
	return &Session{
		id:        uuid.New().String(),
		logger:    logger,
		telephony: conn,
		opts:      opts,
		machine:   newStateMachine(),
		hub:       NewObserverHub(logger),
		splitter:  internal_audio.NewChunkSplitter(internal_audio.UlawFrameBytes),
		config:    opts.Defaults,
		startedAt: time.Now(),
		stopped:   make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) CallSid() string { return s.telephony.CallSid() }

// Observers exposes the live event fan-out for the HTTP layer.
func (s *Session) Observers() *ObserverHub { return s.hub }

// Snapshot renders the session for the status endpoint.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:                s.id,
		CallSid:           s.telephony.CallSid(),
		StreamSid:         s.telephony.StreamSid(),
		State:             s.machine.Current().String(),
		UserSpeaking:      s.userSpeaking,
		AssistantSpeaking: s.assistantSpeaking,
		StartedAt:         s.startedAt,
		EventCount:        len(s.eventLog),
	}
}

// UpdateConfig replaces the assistant configuration. Only legal before the
// session is ready; once session.updated has been confirmed the configuration
// is frozen for the call.
func (s *Session) UpdateConfig(config BridgeConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	switch s.machine.Current() {
	case StateInitializing, StateConfiguring:
	default:
		return commons.NewBridgeError(commons.ErrConfiguration,
			"configuration is frozen once the session is ready", nil)
	}
	s.mu.Lock()
	s.config = s.config.merge(config)
	s.mu.Unlock()
	return nil
}

// Stop requests teardown. Run returns shortly after. Safe before Run starts;
// the request is remembered.
func (s *Session) Stop() {
	s.mu.Lock()
	s.stopRequested = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done closes when the session has fully terminated.
func (s *Session) Done() <-chan struct{} { return s.stopped }

// Run drives the call to completion. The returned error is the failure cause,
// nil for a normal hangup.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	requested := s.stopRequested
	s.mu.Unlock()
	if requested {
		cancel()
	}
	defer cancel()
	defer close(s.stopped)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.telephonyLoop(gCtx) })
	g.Go(func() error { return s.watchdog(gCtx) })

	// The telephony read blocks on the socket, not the context; closing the
	// socket is what unblocks it on cancellation.
	utils.Go(ctx, func() {
		<-gCtx.Done()
		s.telephony.Close()
	})

	err := g.Wait()
	if err == context.Canceled {
		err = nil
	}
	if err == nil {
		// The AI leg reports its failure out of band; it only has the
		// cancel function to unwind the group with.
		s.mu.Lock()
		err = s.failure
		s.mu.Unlock()
	}
	s.terminate(context.WithoutCancel(ctx), err)
	return err
}

// =============================================================================
// Telephony leg
// =============================================================================

func (s *Session) telephonyLoop(ctx context.Context) error {
	for {
		frame, err := s.telephony.ReadFrame()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopReceived
			s.mu.Unlock()
			if stopped || ctx.Err() != nil {
				return context.Canceled
			}
			// Any telephony failure ends the call immediately; the caller is
			// gone and there is nobody left to talk to.
			return err
		}

		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}

		switch frame.Event {
		case internal_telephony.EventConnected:
			s.logger.Debugf("Media stream handshake: protocol=%s version=%s", frame.Protocol, frame.Version)

		case internal_telephony.EventStart:
			if err := s.handleStart(ctx, frame.Start); err != nil {
				return err
			}

		case internal_telephony.EventMedia:
			if err := s.handleCallerMedia(frame.Media.Payload); err != nil {
				return err
			}

		case internal_telephony.EventMark:
			s.handleMarkEcho(frame.Mark.Name)

		case internal_telephony.EventDTMF:
			s.recordFrameEvent(frame)
			s.logger.Infow("DTMF received", "callSid", s.telephony.CallSid(), "digit", frame.DTMF.Digit)

		case internal_telephony.EventStop:
			s.mu.Lock()
			s.stopReceived = true
			s.mu.Unlock()
			s.recordFrameEvent(frame)
			s.logger.Infow("Media stream stopped by provider", "callSid", s.telephony.CallSid())
			return context.Canceled

		default:
			s.logger.Debugf("Ignoring media stream event: %s", frame.Event)
		}
	}
}

// handleStart binds the call, resolves configuration and brings up the AI leg.
func (s *Session) handleStart(ctx context.Context, start *internal_telephony.StartPayload) error {
	s.recordFrameEvent(&internal_telephony.Frame{Event: internal_telephony.EventStart, Start: start})
	s.logger.Infow("Media stream started",
		"callSid", start.CallSid, "streamSid", start.StreamSid, "sessionId", s.id)

	config, err := s.resolveConfig(ctx, start.CustomParameters)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.config = config
	s.mu.Unlock()

	direction := start.CustomParameters["direction"]
	if direction == "" {
		direction = "inbound"
	}
	if s.opts.Store != nil {
		if err := s.opts.Store.CreateCall(ctx, &internal_store.CallRecord{
			CallSid:   start.CallSid,
			StreamSid: start.StreamSid,
			Direction: direction,
			PromptID:  config.PromptID,
		}); err != nil {
			s.logger.Errorf("Failed to record call start: %v", err)
		}
	}

	client := s.opts.NewRealtimeClient()
	if err := client.Connect(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.ai = client
	s.mu.Unlock()

	if err := s.machine.Transition(StateConfiguring); err != nil {
		return err
	}
	if s.opts.Recorder != nil {
		s.opts.Recorder.Start()
	}

	utils.Go(ctx, func() {
		if err := s.aiLoop(ctx, client); err != nil && ctx.Err() == nil {
			s.logger.Errorf("Realtime leg failed: %v", err)
			s.mu.Lock()
			s.failure = err
			s.mu.Unlock()
			s.Stop()
		}
	})
	return nil
}

// resolveConfig layers the stored prompt and the stream parameters over the
// session's current configuration (defaults plus any pre-start updates).
func (s *Session) resolveConfig(ctx context.Context, params map[string]string) (BridgeConfig, error) {
	s.mu.Lock()
	base := s.config
	s.mu.Unlock()

	var prompt *internal_store.Prompt
	if id := params["promptId"]; id != "" && s.opts.Store != nil {
		p, err := s.opts.Store.GetPrompt(ctx, id)
		if err != nil {
			s.logger.Warnf("Prompt %s not found, using defaults: %v", id, err)
		} else {
			prompt = p
		}
	}
	return ResolveConfig(base, prompt, params)
}

// handleCallerMedia pushes one caller frame toward the AI leg, buffering it
// while the assistant session is still coming up.
func (s *Session) handleCallerMedia(payloadB64 string) error {
	ulaw, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		// A malformed frame is not worth the call.
		s.logger.Warnf("Dropping undecodable caller media: %v", err)
		return nil
	}
	if len(ulaw) == 0 {
		return nil
	}

	pcm := internal_audio.DecodeUlaw(ulaw)
	s.trackCallerLevel(pcm)
	pcm24k := internal_audio.Upsample8kTo24k(pcm)
	pcmBytes := internal_audio.PCMToBytes(pcm24k)
	if s.opts.Recorder != nil {
		s.opts.Recorder.RecordCaller(pcmBytes)
	}
	modelB64 := base64.StdEncoding.EncodeToString(pcmBytes)

	switch s.machine.Current() {
	case StateInitializing, StateConfiguring:
		s.bufferEarlyAudio(modelB64)
		return nil
	case StateReady:
		if err := s.machine.Transition(StateActive); err != nil {
			return err
		}
	case StateEnded:
		return nil
	}

	s.mu.Lock()
	client := s.ai
	s.mu.Unlock()
	if client == nil {
		return nil
	}
	if err := client.AppendAudio(modelB64); err != nil {
		s.logger.Warnf("Failed to forward caller audio: %v", err)
	}
	return nil
}

// trackCallerLevel warns once per silence stretch when the caller side has
// gone quiet long enough to suggest a dead line.
func (s *Session) trackCallerLevel(pcm []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if internal_audio.HasSignal(pcm) {
		s.silentFrames = 0
		s.silenceWarned = false
		return
	}
	s.silentFrames++
	if s.silentFrames >= silentFrameLimit && !s.silenceWarned {
		s.silenceWarned = true
		silentFor := time.Duration(s.silentFrames*internal_audio.FrameDurationMs) * time.Millisecond
		s.logger.Warnw("No caller signal",
			"callSid", s.telephony.CallSid(), "sessionId", s.id, "silentFor", silentFor)
	}
}

func (s *Session) bufferEarlyAudio(modelB64 string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.earlyAudio) >= earlyAudioLimit {
		s.earlyAudio = s.earlyAudio[1:]
		s.earlyDropped++
	}
	s.earlyAudio = append(s.earlyAudio, modelB64)
}

// flushEarlyAudio replays buffered caller audio once the AI leg is ready.
func (s *Session) flushEarlyAudio(client RealtimeClient) {
	s.mu.Lock()
	buffered := s.earlyAudio
	dropped := s.earlyDropped
	s.earlyAudio = nil
	s.earlyDropped = 0
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warnf("Dropped %d early caller frames before session was ready", dropped)
	}
	for _, payload := range buffered {
		if err := client.AppendAudio(payload); err != nil {
			s.logger.Warnf("Failed to replay early caller audio: %v", err)
			return
		}
	}
	if len(buffered) > 0 {
		s.logger.Debugf("Replayed %d early caller frames", len(buffered))
	}
}

// handleMarkEcho fires when the provider has finished playing everything we
// queued up to that marker. The assistant has stopped talking once the marker
// for its current response comes back.
func (s *Session) handleMarkEcho(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == s.currentResponseID {
		s.assistantSpeaking = false
	}
}

// =============================================================================
// AI leg
// =============================================================================

// fatalRealtimeErrorKinds maps provider error codes the session cannot
// survive to the kind its teardown reports.
var fatalRealtimeErrorKinds = map[string]commons.ErrorKind{
	"invalid_api_key":        commons.ErrConfiguration,
	"invalid_authentication": commons.ErrConfiguration,
	"insufficient_quota":     commons.ErrTransport,
	"quota_exceeded":         commons.ErrTransport,
}

func (s *Session) aiLoop(ctx context.Context, client RealtimeClient) error {
	for ev := range client.Events() {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.handleServerEvent(ctx, client, ev); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return commons.NewBridgeError(commons.ErrTransport, "realtime event stream ended", nil)
}

func (s *Session) handleServerEvent(ctx context.Context, client RealtimeClient, ev *internal_ai.ServerEvent) error {
	s.recordAIEvent(ev)

	switch ev.Type {
	case internal_ai.EventSessionCreated:
		return s.sendSessionConfig(client)

	case internal_ai.EventSessionUpdated:
		state := s.machine.Current()
		if state == StateConfiguring {
			if err := s.machine.Transition(StateReady); err != nil {
				return err
			}
			s.logger.Infow("Session ready", "sessionId", s.id, "callSid", s.telephony.CallSid())
		}
		s.flushEarlyAudio(client)

	case internal_ai.EventSpeechStarted:
		s.mu.Lock()
		s.userSpeaking = true
		bargeIn := s.assistantSpeaking
		s.mu.Unlock()
		if bargeIn {
			return s.bargeIn(client)
		}

	case internal_ai.EventSpeechStopped:
		s.mu.Lock()
		s.userSpeaking = false
		s.mu.Unlock()

	case internal_ai.EventResponseAudioDelta:
		return s.handleAssistantAudio(ev)

	case internal_ai.EventResponseAudioDone:
		// Ask the provider to echo a marker once playback of this response
		// actually finishes at the handset.
		s.mu.Lock()
		responseID := s.currentResponseID
		s.mu.Unlock()
		if responseID != "" {
			if err := s.telephony.SendMark(responseID); err != nil {
				return err
			}
			s.recordOutboundEvent("telephony", "mark")
		}

	case internal_ai.EventResponseTranscriptDelta:
		s.mu.Lock()
		s.transcriptBuf += ev.Delta
		s.mu.Unlock()

	case internal_ai.EventResponseTranscriptDone:
		s.mu.Lock()
		text := ev.Transcript
		if text == "" {
			text = s.transcriptBuf
		}
		s.transcriptBuf = ""
		s.mu.Unlock()
		s.queueTranscript(internal_store.RoleAssistant, ev.ItemID, text)

	case internal_ai.EventInputTranscriptCompleted:
		s.queueTranscript(internal_store.RoleCaller, ev.ItemID, ev.Transcript)

	case internal_ai.EventError:
		// Auth and quota rejections cannot be survived; anything else is
		// logged and the stream keeps flowing.
		if ev.Error != nil {
			if kind, fatal := fatalRealtimeErrorKinds[ev.Error.Code]; fatal {
				return commons.NewBridgeError(kind,
					fmt.Sprintf("realtime api rejected the session: %s", ev.Error.Message), ev.Error)
			}
			s.logger.Errorw("Realtime api error",
				"sessionId", s.id, "code", ev.Error.Code, "message", ev.Error.Message)
		}

	case internal_ai.EventConnReconnected:
		// A fresh provider session knows nothing; reconfigure it.
		s.logger.Warnf("Realtime connection re-established, reconfiguring session %s", s.id)
		if err := s.machine.Transition(StateConfiguring); err != nil {
			return err
		}

	case internal_ai.EventConnClosed:
		return commons.NewBridgeError(commons.ErrTransport, "realtime connection lost", nil)

	default:
		if !ev.Known() {
			s.logger.Debugf("Unhandled realtime event: %s", ev.Type)
		}
	}
	return nil
}

func (s *Session) sendSessionConfig(client RealtimeClient) error {
	if state := s.machine.Current(); state == StateInitializing {
		if err := s.machine.Transition(StateConfiguring); err != nil {
			return err
		}
	}
	s.mu.Lock()
	config := s.config
	s.mu.Unlock()
	if err := client.UpdateSession(config.SessionConfig()); err != nil {
		return err
	}
	s.recordOutboundEvent("ai", "session.update")
	return nil
}

// handleAssistantAudio converts one AI audio delta into 20 ms telephony
// frames. The first delta of a response starts the playback clock used for
// truncation on barge-in.
func (s *Session) handleAssistantAudio(ev *internal_ai.ServerEvent) error {
	s.mu.Lock()
	if !s.assistantSpeaking || s.currentResponseID != ev.ResponseID {
		s.assistantSpeaking = true
		s.currentItemID = ev.ItemID
		s.currentResponseID = ev.ResponseID
		s.firstDeltaAt = time.Now()
	}
	s.mu.Unlock()

	pcmBytes, err := base64.StdEncoding.DecodeString(ev.Delta)
	if err != nil {
		s.logger.Warnf("Dropping undecodable assistant audio: %v", err)
		return nil
	}
	if s.opts.Recorder != nil {
		s.opts.Recorder.RecordAssistant(pcmBytes)
	}

	ulaw := internal_audio.EncodeUlaw(internal_audio.Downsample24kTo8k(internal_audio.BytesToPCM(pcmBytes)))
	for _, frame := range s.splitter.Push(ulaw) {
		if err := s.telephony.SendMedia(base64.StdEncoding.EncodeToString(frame)); err != nil {
			return err
		}
	}
	return nil
}

// bargeIn cuts assistant playback: flush the provider's buffer first so the
// caller hears silence immediately, then tell the AI how much of its answer
// was actually heard.
func (s *Session) bargeIn(client RealtimeClient) error {
	s.mu.Lock()
	itemID := s.currentItemID
	elapsed := int(time.Since(s.firstDeltaAt).Milliseconds())
	s.assistantSpeaking = false
	s.mu.Unlock()

	if err := s.telephony.SendClear(); err != nil {
		return err
	}
	s.recordOutboundEvent("telephony", "clear")
	s.splitter.Reset()

	if itemID != "" {
		if err := client.TruncateItem(itemID, 0, elapsed); err != nil {
			s.logger.Warnf("Failed to truncate assistant item: %v", err)
		} else {
			s.recordOutboundEvent("ai", "conversation.item.truncate")
		}
	}
	s.logger.Infow("Barge-in", "sessionId", s.id, "itemId", itemID, "heardMs", elapsed)
	return nil
}

// =============================================================================
// Event log, persistence, fan-out
// =============================================================================

func (s *Session) recordAIEvent(ev *internal_ai.ServerEvent) {
	payload := ev.Raw
	if payload == nil {
		payload, _ = json.Marshal(map[string]string{"type": ev.Type})
	}
	s.appendEventLog(payload)
	s.hub.Publish(payload)

	// Audio deltas are too bulky to keep verbatim; persist type only.
	stored := string(payload)
	if ev.Type == internal_ai.EventResponseAudioDelta {
		stored = ""
	}
	if s.opts.Writer != nil {
		s.opts.Writer.QueueEvents([]*internal_store.EventRecord{{
			CallSid:   s.telephony.CallSid(),
			Source:    "ai",
			Type:      ev.Type,
			Direction: internal_store.EventInbound,
			Payload:   stored,
		}})
	}
}

func (s *Session) recordFrameEvent(frame *internal_telephony.Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	s.appendEventLog(payload)
	s.hub.Publish(payload)

	if s.opts.Writer != nil {
		s.opts.Writer.QueueEvents([]*internal_store.EventRecord{{
			CallSid:   s.telephony.CallSid(),
			Source:    "telephony",
			Type:      frame.Event,
			Direction: internal_store.EventInbound,
			Payload:   string(payload),
		}})
	}
}

// recordOutboundEvent logs a control message the bridge sent on one of the
// legs so observers and storage see traffic in both directions. Outbound
// audio is excluded; it would drown everything else.
func (s *Session) recordOutboundEvent(source, eventType string) {
	payload, err := json.Marshal(map[string]string{
		"type":      eventType,
		"direction": internal_store.EventOutbound,
	})
	if err != nil {
		return
	}
	s.appendEventLog(payload)
	s.hub.Publish(payload)

	if s.opts.Writer != nil {
		s.opts.Writer.QueueEvents([]*internal_store.EventRecord{{
			CallSid:   s.telephony.CallSid(),
			Source:    source,
			Type:      eventType,
			Direction: internal_store.EventOutbound,
			Payload:   string(payload),
		}})
	}
}

func (s *Session) appendEventLog(payload json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.eventLog) >= eventLogLimit {
		s.eventLog = s.eventLog[1:]
	}
	s.eventLog = append(s.eventLog, payload)
}

func (s *Session) queueTranscript(role, itemID, text string) {
	if text == "" {
		return
	}
	if s.opts.Writer != nil {
		s.opts.Writer.QueueTranscripts([]*internal_store.TranscriptRecord{{
			CallSid: s.telephony.CallSid(),
			Role:    role,
			ItemID:  itemID,
			Text:    text,
		}})
	}
	s.logger.Debugw("Transcript", "role", role, "text", text)
}

// publishSessionEnded emits the terminal event every observer is promised:
// the last message on the channel before it closes, carrying why the session
// ended and how that failure is classified.
func (s *Session) publishSessionEnded(cause error) {
	reason := "completed"
	code := "ok"
	if cause != nil {
		reason = cause.Error()
		code = string(commons.KindOf(cause))
	}
	payload, err := json.Marshal(map[string]string{
		"type":      "session.ended",
		"direction": internal_store.EventOutbound,
		"reason":    reason,
		"code":      code,
	})
	if err != nil {
		return
	}
	s.appendEventLog(payload)
	s.hub.Publish(payload)

	if s.opts.Writer != nil {
		s.opts.Writer.QueueEvents([]*internal_store.EventRecord{{
			CallSid:   s.telephony.CallSid(),
			Source:    "session",
			Type:      "session.ended",
			Direction: internal_store.EventOutbound,
			Payload:   string(payload),
		}})
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// watchdog tears the session down when it overstays a bounded state.
func (s *Session) watchdog(ctx context.Context) error {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
		}

		state, held := s.machine.InState()
		if limit := state.Timeout(); limit > 0 && held > limit {
			return commons.NewBridgeError(commons.ErrTimeout,
				fmt.Sprintf("session stuck in %s for %s", state, held.Round(time.Second)), nil)
		}
	}
}

// terminate runs the teardown contract exactly once: stop both legs, persist
// what the call produced, release observers.
func (s *Session) terminate(ctx context.Context, cause error) {
	if s.machine.Current() == StateEnded {
		return
	}
	if err := s.machine.Transition(StateEnded); err != nil {
		s.logger.Debugf("State already terminal: %v", err)
	}

	s.mu.Lock()
	client := s.ai
	s.mu.Unlock()
	if client != nil {
		if err := client.Close(); err != nil {
			s.logger.Debugf("Error closing realtime leg: %v", err)
		}
	}
	if err := s.telephony.Close(); err != nil {
		s.logger.Debugf("Error closing telephony leg: %v", err)
	}

	if s.opts.Recorder != nil && s.opts.SaveRecording != nil {
		if wav, err := s.opts.Recorder.Persist(); err != nil {
			s.logger.Warnf("No recording persisted: %v", err)
		} else if err := s.opts.SaveRecording(s.telephony.CallSid(), wav); err != nil {
			s.logger.Errorf("Failed to save recording: %v", err)
		}
	}

	if s.opts.Store != nil && s.telephony.CallSid() != "" {
		status := internal_store.CallStatusCompleted
		reason := ""
		if cause != nil {
			status = internal_store.CallStatusFailed
			reason = cause.Error()
		}
		completeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := s.opts.Store.CompleteCall(completeCtx, s.telephony.CallSid(), status, reason); err != nil {
			s.logger.Errorf("Failed to complete call record: %v", err)
		}
		cancel()
	}

	s.publishSessionEnded(cause)
	s.hub.Close()
	s.logger.Infow("Session ended",
		"sessionId", s.id, "callSid", s.telephony.CallSid(),
		"duration", time.Since(s.startedAt).Round(time.Millisecond), "failure", cause != nil)
}
