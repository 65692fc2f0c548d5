package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pixvoice/pixvoice/audio"
	"github.com/pixvoice/pixvoice/messages"
	"github.com/pixvoice/pixvoice/transcript"
)

const (
	defaultSetupTimeout = 15 * time.Second
	defaultModel        = "models/gemini-2.0-flash-live-001"
	defaultVoice        = "Aoede"
)

// State is the session connection state. Transitions are one-way per
// instance: disconnected -> connecting -> connected -> disconnected or error.
// A failed instance is discarded, never reconnected.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Callbacks are invoked from the session's read goroutine; they must not
// block.
type Callbacks struct {
	OnTranscript   func(ev transcript.Event)
	OnTurnComplete func()
	OnAppEvent     func(ev *messages.AppEvent)
	OnToolCall     func(call *messages.ToolCall)
	OnError        func(err error)
	OnPlaybackDone func()
	OnInputLevel   func(level float64)
	OnStateChange  func(state State)
}

// Config describes one connection attempt.
type Config struct {
	URL          string // ws:// or wss:// endpoint (relay or direct)
	Model        string
	Voice        string
	SystemPrompt string
	Tools        []messages.Tool
	SetupTimeout time.Duration
	Sink         Sink // playback output; nil plays silently
}

// Session drives one voice conversation over a WebSocket. Each instance is
// single-use: construct, Connect, converse, Disconnect, discard.
type Session struct {
	cfg Config
	cb  Callbacks

	conn    *websocket.Conn
	writeMu sync.Mutex

	player         *Player
	playbackActive atomic.Bool

	mu            sync.Mutex
	state         State
	termErr       error
	intentional   bool
	handshakeDone bool
	lastFinal     map[transcript.Role]string
	pendingText   map[transcript.Role]string
	captureSrc    Source
	captureCancel context.CancelFunc

	setupDone chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	errOnce   sync.Once
}

// New creates a disconnected session.
func New(cfg Config, cb Callbacks) *Session {
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = defaultSetupTimeout
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultVoice
	}

	s := &Session{
		cfg:         cfg,
		cb:          cb,
		state:       StateDisconnected,
		lastFinal:   make(map[transcript.Role]string),
		pendingText: make(map[transcript.Role]string),
		setupDone:   make(chan struct{}),
		done:        make(chan struct{}),
	}
	s.player = NewPlayer(cfg.Sink, func() {
		s.playbackActive.Store(false)
		if s.cb.OnPlaybackDone != nil {
			s.cb.OnPlaybackDone()
		}
	})
	return s
}

// Connect opens the socket, sends the setup frame, and waits for the
// upstream's handshake acknowledgment. The socket being open is not enough:
// only setupComplete proves the configuration was accepted, so the wait is
// bounded by the setup timeout.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("connect called in state %s", state)
	}
	s.setState(StateConnecting)
	s.mu.Unlock()

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.cfg.SetupTimeout)
		defer cancel()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.cfg.URL, nil)
	if err != nil {
		return s.failConnect(fmt.Errorf("dial %s: %w", s.cfg.URL, err))
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if err := s.sendJSON(s.setupFrame()); err != nil {
		conn.Close()
		return s.failConnect(fmt.Errorf("send setup frame: %w", err))
	}

	go s.readLoop(conn)

	select {
	case <-s.setupDone:
		return nil
	case <-time.After(s.cfg.SetupTimeout):
		err := fmt.Errorf("session setup timed out after %s: no handshake acknowledgment from upstream", s.cfg.SetupTimeout)
		s.failConnect(err)
		s.teardown()
		return err
	case <-s.done:
		s.mu.Lock()
		err := s.termErr
		s.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("connection closed before setup completed")
		}
		return err
	case <-ctx.Done():
		err := fmt.Errorf("connect cancelled: %w", ctx.Err())
		s.failConnect(err)
		s.teardown()
		return err
	}
}

// setupFrame builds the single configuration frame sent after the transport
// opens. Audio out, transcription for both directions, and the photo-edit
// tool are always on.
func (s *Session) setupFrame() messages.SetupFrame {
	setup := messages.Setup{
		Model: s.cfg.Model,
		GenerationConfig: &messages.GenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &messages.SpeechConfig{
				VoiceConfig: &messages.VoiceConfig{
					PrebuiltVoiceConfig: &messages.PrebuiltVoiceConfig{VoiceName: s.cfg.Voice},
				},
			},
		},
		Tools:                    s.cfg.Tools,
		InputAudioTranscription:  &messages.TranscriptionCfg{},
		OutputAudioTranscription: &messages.TranscriptionCfg{},
	}
	if s.cfg.SystemPrompt != "" {
		setup.SystemInstruction = &messages.Content{
			Parts: []messages.Part{{Text: s.cfg.SystemPrompt}},
		}
	}
	return messages.SetupFrame{Setup: setup}
}

func (s *Session) readLoop(conn *websocket.Conn) {
	defer s.teardown()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			intentional := s.intentional
			handshakeDone := s.handshakeDone
			s.mu.Unlock()

			if intentional {
				return
			}
			werr := fmt.Errorf("connection closed: %v%s", err, closeHint(err))
			if handshakeDone {
				s.emitError(werr)
			} else {
				s.connectError(werr)
			}
			s.mu.Lock()
			if s.termErr == nil {
				s.termErr = werr
			}
			s.setState(StateError)
			s.mu.Unlock()
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}
		s.dispatch(data)
	}
}

// dispatch routes one inbound frame. Unrecognized frames are ignored rather
// than treated as errors; the protocol grows fields faster than clients do.
func (s *Session) dispatch(data []byte) {
	if ev, ok := messages.DecodeAppEvent(data); ok {
		if s.cb.OnAppEvent != nil {
			s.cb.OnAppEvent(ev)
		}
		return
	}

	msg, ok := messages.DecodeServer(data)
	if !ok {
		return
	}

	switch {
	case msg.SetupComplete != nil:
		s.completeHandshake()
	case msg.Error != nil:
		s.emitError(fmt.Errorf("upstream error: %s", msg.Error.Text()))
	case msg.ToolCall != nil:
		if s.cb.OnToolCall != nil {
			s.cb.OnToolCall(msg.ToolCall)
		}
	case msg.ServerContent != nil:
		s.handleServerContent(msg.ServerContent, data)
	}
}

func (s *Session) completeHandshake() {
	s.mu.Lock()
	already := s.handshakeDone
	if !already {
		s.handshakeDone = true
		s.setState(StateConnected)
	}
	s.mu.Unlock()
	if !already {
		close(s.setupDone)
	}
}

func (s *Session) handleServerContent(sc *messages.ServerContent, raw []byte) {
	if sc.Interrupted {
		s.Interrupt()
	}

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			blob := part.InlineData
			if blob == nil || !strings.HasPrefix(blob.MimeType, "audio/pcm") {
				continue
			}
			samples, rate, err := audio.DecodePCM16(blob.Data, blob.MimeType)
			if err != nil {
				s.emitError(fmt.Errorf("decode audio chunk: %w", err))
				continue
			}
			s.playbackActive.Store(true)
			s.player.Enqueue(samples, rate)
		}
	}

	for _, ev := range transcript.Normalize(raw) {
		s.commitTranscript(ev)
	}

	if sc.TurnComplete {
		s.flushPending()
		if s.cb.OnTurnComplete != nil {
			s.cb.OnTurnComplete()
		}
	}
}

// commitTranscript applies overwrite semantics for partials and drops
// repeated finals so replayed upstream events commit exactly once.
func (s *Session) commitTranscript(ev transcript.Event) {
	s.mu.Lock()
	if ev.IsFinal {
		if s.lastFinal[ev.Role] == ev.Text {
			s.mu.Unlock()
			return
		}
		s.lastFinal[ev.Role] = ev.Text
		delete(s.pendingText, ev.Role)
	} else {
		s.pendingText[ev.Role] = ev.Text
	}
	s.mu.Unlock()

	if s.cb.OnTranscript != nil {
		s.cb.OnTranscript(ev)
	}
}

// flushPending commits any buffered partial text as final when the turn
// closes without an explicit final transcript.
func (s *Session) flushPending() {
	s.mu.Lock()
	var flushed []transcript.Event
	for role, text := range s.pendingText {
		if text == "" || s.lastFinal[role] == text {
			continue
		}
		s.lastFinal[role] = text
		flushed = append(flushed, transcript.Event{Role: role, Text: text, IsFinal: true})
	}
	s.pendingText = make(map[transcript.Role]string)
	s.mu.Unlock()

	if s.cb.OnTranscript != nil {
		for _, ev := range flushed {
			s.cb.OnTranscript(ev)
		}
	}
}

// SendText sends a complete user text turn. No-op unless connected.
func (s *Session) SendText(text string) {
	if !s.IsConnected() {
		return
	}
	_ = s.sendJSON(messages.ClientContentFrame{
		ClientContent: messages.ClientContent{
			Turns: []messages.Content{
				{Role: "user", Parts: []messages.Part{{Text: text}}},
			},
			TurnComplete: true,
		},
	})
}

// SendImage sends an image (with optional caption) as a complete user turn.
// No-op unless connected.
func (s *Session) SendImage(imageBase64, mimeType, caption string) {
	if !s.IsConnected() {
		return
	}
	parts := []messages.Part{
		{InlineData: &messages.Blob{MimeType: mimeType, Data: imageBase64}},
	}
	if caption != "" {
		parts = append(parts, messages.Part{Text: caption})
	}
	_ = s.sendJSON(messages.ClientContentFrame{
		ClientContent: messages.ClientContent{
			Turns:        []messages.Content{{Role: "user", Parts: parts}},
			TurnComplete: true,
		},
	})
}

// SendRealtimeAudio streams one encoded PCM chunk. Returns an error so the
// capture loop can stop on a dead connection.
func (s *Session) SendRealtimeAudio(encoded string) error {
	if !s.IsConnected() {
		return fmt.Errorf("not connected")
	}
	return s.sendJSON(messages.RealtimeInputFrame{
		RealtimeInput: messages.RealtimeInput{
			MediaChunks: []messages.Blob{
				{MimeType: audio.CaptureMimeType, Data: encoded},
			},
		},
	})
}

// SendToolResult answers an upstream tool call. No-op unless connected.
func (s *Session) SendToolResult(responses []messages.FunctionResponse) {
	if !s.IsConnected() {
		return
	}
	_ = s.sendJSON(messages.ToolResponseFrame{
		ToolResponse: messages.ToolResponse{FunctionResponses: responses},
	})
}

// ConfirmEdit asks the relay to run a confirmed photo edit. No-op unless
// connected.
func (s *Session) ConfirmEdit(instruction, imageBase64, mimeType string) {
	if !s.IsConnected() {
		return
	}
	_ = s.sendJSON(messages.NewConfirmEdit(instruction, imageBase64, mimeType))
}

// CancelEditConfirm dismisses a pending edit confirmation. No-op unless
// connected.
func (s *Session) CancelEditConfirm() {
	if !s.IsConnected() {
		return
	}
	_ = s.sendJSON(messages.NewCancelEditConfirm())
}

// Interrupt cuts playback immediately. Called on explicit barge-in and when
// the upstream reports the user interrupted mid-response.
func (s *Session) Interrupt() {
	s.playbackActive.Store(false)
	s.player.Interrupt()
}

// Disconnect intentionally closes the session: capture and playback are torn
// down and no error is surfaced.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.intentional = true
	conn := s.conn
	s.mu.Unlock()

	s.StopAudioInput()
	s.Interrupt()

	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		conn.Close()
	}
	s.teardown()
}

// Done is closed once the session has fully shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether media frames may be sent.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

func (s *Session) sendJSON(v any) error {
	data, err := messages.Marshal(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// setState must be called with s.mu held.
func (s *Session) setState(state State) {
	if s.state == state {
		return
	}
	s.state = state
	if s.cb.OnStateChange != nil {
		go s.cb.OnStateChange(state)
	}
}

// failConnect records a connect-phase failure; the error callback fires at
// most once per instance for the whole connect phase.
func (s *Session) failConnect(err error) error {
	s.mu.Lock()
	if s.termErr == nil {
		s.termErr = err
	}
	s.setState(StateError)
	s.mu.Unlock()
	s.connectError(err)
	return err
}

func (s *Session) connectError(err error) {
	s.errOnce.Do(func() {
		if s.cb.OnError != nil {
			s.cb.OnError(err)
		}
	})
}

// emitError surfaces a non-fatal error to the caller.
func (s *Session) emitError(err error) {
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		s.StopAudioInput()
		s.Interrupt()

		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		if s.intentional || s.state == StateConnected {
			s.setState(StateDisconnected)
		}
		s.mu.Unlock()

		close(s.done)
	})
}

// closeHint maps close codes to remediation hints so the UI can say
// something more useful than "connection closed".
func closeHint(err error) string {
	ce, ok := err.(*websocket.CloseError)
	if !ok {
		return ""
	}
	switch ce.Code {
	case websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived:
		return " (server unreachable or dropped the connection; check that the relay is running)"
	case websocket.ClosePolicyViolation:
		return " (connection rejected; check allowed origins and credentials)"
	case websocket.CloseTryAgainLater:
		return " (server at capacity or upstream unavailable; retry shortly)"
	case websocket.CloseInternalServerErr:
		return " (server error; check relay logs)"
	default:
		return ""
	}
}
