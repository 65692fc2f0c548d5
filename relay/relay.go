package relay

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pixvoice/pixvoice/imageedit"
	"github.com/pixvoice/pixvoice/messages"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
)

// UpstreamDialer opens the upstream live-session WebSocket for one session.
type UpstreamDialer func(ctx context.Context) (*websocket.Conn, error)

// Options tunes per-session behavior.
type Options struct {
	HeartbeatPeriod time.Duration // ping interval for both sockets; 0 disables
	MaxQueued       int           // outbound frames held while upstream connects
}

// Session relays frames between one client connection and its dedicated
// upstream connection. Everything that is not an application control verb is
// forwarded byte for byte in both directions; the relay never rewrites,
// reorders, or re-encodes upstream protocol frames.
type Session struct {
	ID           string
	ClientConn   *websocket.Conn
	CreatedAt    time.Time
	LastActivity time.Time

	dialUpstream UpstreamDialer
	editor       imageedit.Editor
	opts         Options

	queue     *OutboundQueue
	writeChan chan Frame

	upstream   *websocket.Conn
	upstreamMu sync.Mutex // serializes upstream writes and the queue flush

	handshakeDone bool // setupComplete observed from upstream
	editInFlight  bool
	editVersion   int
	closeCode     int

	mu        sync.RWMutex
	closed    bool
	CloseChan chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewSession wraps an accepted client connection. The upstream is dialed when
// Start is called; frames sent before it opens are queued.
func NewSession(id string, clientConn *websocket.Conn, dial UpstreamDialer, editor imageedit.Editor, opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	clientConn.SetReadLimit(512 * 1024) // 512KB max message
	clientConn.EnableWriteCompression(true)
	clientConn.SetCompressionLevel(6)

	return &Session{
		ID:           id,
		ClientConn:   clientConn,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
		dialUpstream: dial,
		editor:       editor,
		opts:         opts,
		queue:        NewOutboundQueue(opts.MaxQueued),
		writeChan:    make(chan Frame, writeBufferSize),
		CloseChan:    make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches the pumps. The client is serviced immediately; the upstream
// dial proceeds in parallel so a slow upstream never delays the client
// handshake.
func (s *Session) Start() {
	go s.writePump()
	go s.connectUpstream()
	if s.opts.HeartbeatPeriod > 0 {
		go s.heartbeatLoop()
	}
	go s.handleClientMessages()
}

// connectUpstream dials the upstream and flushes any frames queued while the
// dial was in flight, in arrival order.
func (s *Session) connectUpstream() {
	conn, err := s.dialUpstream(s.ctx)
	if err != nil {
		if s.IsClosed() {
			return
		}
		log.Printf("❌ [%s] Upstream dial failed: %v", s.ID[:8], err)
		s.sendError(fmt.Sprintf("upstream connection failed: %v", err))
		s.closeWithCode(websocket.CloseTryAgainLater)
		return
	}

	s.upstreamMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.upstreamMu.Unlock()
		conn.Close()
		return
	}
	s.upstream = conn
	queued := s.queue.Drain()
	dropped := s.queue.Dropped()
	s.mu.Unlock()

	for _, frame := range queued {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(frame.Type, frame.Data); err != nil {
			s.upstreamMu.Unlock()
			log.Printf("❌ [%s] Failed to flush queued frame: %v", s.ID[:8], err)
			s.Close()
			return
		}
	}
	s.upstreamMu.Unlock()

	if dropped > 0 {
		log.Printf("⚠️ [%s] Dropped %d oldest frames while upstream was connecting", s.ID[:8], dropped)
	}
	log.Printf("🔗 [%s] Upstream connected, flushed %d queued frames", s.ID[:8], len(queued))

	go s.handleUpstreamMessages(conn)
}

// handleClientMessages reads client frames, intercepts application control
// verbs, and forwards everything else to the upstream untouched.
func (s *Session) handleClientMessages() {
	defer s.Close()

	for {
		messageType, message, err := s.ClientConn.ReadMessage()
		if err != nil {
			if !s.IsClosed() {
				log.Printf("🔌 [%s] Client read error: %v", s.ID[:8], err)
			}
			return
		}

		s.touch()

		if messageType == websocket.TextMessage {
			if ctl, ok := messages.DecodeAppControl(message); ok {
				s.handleControl(ctl)
				continue
			}
		}

		s.forwardUpstream(messageType, message)
	}
}

// forwardUpstream sends one client frame upstream, queueing it if the
// upstream has not opened yet. The nil check and the push both happen under
// upstreamMu, which connectUpstream holds across install and flush, so no
// frame can land in the queue after its one-time drain.
func (s *Session) forwardUpstream(messageType int, data []byte) {
	s.upstreamMu.Lock()
	s.mu.RLock()
	conn := s.upstream
	s.mu.RUnlock()

	if conn == nil {
		s.queue.Push(Frame{Type: messageType, Data: data})
		s.upstreamMu.Unlock()
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := conn.WriteMessage(messageType, data)
	s.upstreamMu.Unlock()
	if err != nil {
		log.Printf("❌ [%s] Upstream write error: %v", s.ID[:8], err)
		s.Close()
	}
}

// handleUpstreamMessages forwards upstream frames to the client opaquely,
// watching only for setupComplete so disconnects can be classified.
func (s *Session) handleUpstreamMessages(conn *websocket.Conn) {
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if s.IsClosed() {
				return
			}

			s.mu.RLock()
			handshakeDone := s.handshakeDone
			s.mu.RUnlock()

			if handshakeDone {
				// Established sessions end quietly; the client decides
				// whether to reconnect.
				log.Printf("🔌 [%s] Upstream closed: %v", s.ID[:8], err)
				s.closeWithCode(closeCodeFrom(err, websocket.CloseNormalClosure))
				return
			}

			// Failing before setupComplete usually means a rejected setup
			// frame. Surface the reason so the client can report it.
			log.Printf("❌ [%s] Upstream closed before setup completed: %v", s.ID[:8], err)
			s.sendError(fmt.Sprintf("upstream rejected session: %v", err))
			s.closeWithCode(closeCodeFrom(err, websocket.CloseInternalServerErr))
			return
		}

		s.touch()

		if messageType == websocket.TextMessage {
			if msg, ok := messages.DecodeServer(message); ok && msg.SetupComplete != nil {
				s.mu.Lock()
				s.handshakeDone = true
				s.mu.Unlock()
				log.Printf("✅ [%s] Upstream setup complete", s.ID[:8])
			}
		}

		s.queueClientFrame(messageType, message)
	}
}

// handleControl dispatches an intercepted application control verb. Control
// frames are never forwarded upstream.
func (s *Session) handleControl(ctl *messages.AppControl) {
	switch ctl.Type {
	case messages.ControlConfirmEdit:
		s.startEdit(ctl)
	case messages.ControlCancelEditConfirm:
		log.Printf("🚫 [%s] Edit confirmation cancelled", s.ID[:8])
		s.sendAppEvent(messages.NewEditConfirmCancelled())
	}
}

// startEdit admits at most one edit at a time. A confirmation arriving while
// an edit is running is dropped so retries cannot fork the image history.
func (s *Session) startEdit(ctl *messages.AppControl) {
	if s.editor == nil {
		s.sendAppEvent(messages.NewEditFailed(ctl.Instruction, "image editing is not configured"))
		return
	}

	s.mu.Lock()
	if s.editInFlight {
		s.mu.Unlock()
		log.Printf("⚠️ [%s] Ignoring CONFIRM_EDIT while an edit is in flight", s.ID[:8])
		return
	}
	s.editInFlight = true
	s.mu.Unlock()

	log.Printf("🎨 [%s] Starting edit: %q", s.ID[:8], ctl.Instruction)
	s.sendAppEvent(messages.NewEditStatus(ctl.Instruction))

	// The edit can take tens of seconds; run it off the reader loop so audio
	// keeps flowing while it works.
	go s.runEdit(ctl)
}

func (s *Session) runEdit(ctl *messages.AppControl) {
	result, err := s.editor.Edit(s.ctx, ctl.ImageBase64, ctl.MimeType, ctl.Instruction)

	s.mu.Lock()
	s.editInFlight = false
	var version string
	if err == nil {
		s.editVersion++
		version = fmt.Sprintf("v%d", s.editVersion)
	}
	s.mu.Unlock()

	if err != nil {
		log.Printf("❌ [%s] Edit failed: %v", s.ID[:8], err)
		s.sendAppEvent(messages.NewEditFailed(ctl.Instruction, err.Error()))
		return
	}

	log.Printf("🖼️ [%s] Edit complete (%s)", s.ID[:8], version)
	s.sendAppEvent(messages.NewEditCompleted(ctl.Instruction, version, result.ImageBase64, result.MimeType))
}

// heartbeatLoop pings both sockets at the configured interval. A failed ping
// to the client ends the session; the upstream ping is best effort since its
// read loop detects real failures.
func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(s.opts.HeartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.CloseChan:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := s.ClientConn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if !s.IsClosed() {
					log.Printf("🔌 [%s] Client ping failed: %v", s.ID[:8], err)
					s.Close()
				}
				return
			}

			s.mu.RLock()
			upstream := s.upstream
			s.mu.RUnlock()
			if upstream != nil {
				upstream.WriteControl(websocket.PingMessage, nil, deadline)
			}
		}
	}
}

// writePump is the only goroutine writing data frames to the client. It
// drains remaining frames after Close so error frames queued during teardown
// still reach the client, then sends the close frame.
func (s *Session) writePump() {
	defer func() {
		s.mu.RLock()
		code := s.closeCode
		s.mu.RUnlock()
		if code == 0 {
			code = websocket.CloseNormalClosure
		}
		s.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		s.ClientConn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""),
		)
		s.ClientConn.Close()
	}()

	for frame := range s.writeChan {
		s.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.ClientConn.WriteMessage(frame.Type, frame.Data); err != nil {
			return
		}
	}
}

// queueClientFrame hands a frame to the write pump without blocking the
// caller. Senders hold the read lock across the send so Close can safely
// close the channel under the write lock.
func (s *Session) queueClientFrame(messageType int, data []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.writeChan <- Frame{Type: messageType, Data: data}:
	default:
		log.Printf("⚠️ [%s] Client write queue full, dropping frame", s.ID[:8])
	}
}

func (s *Session) sendAppEvent(ev *messages.AppEvent) {
	data, err := messages.Marshal(ev)
	if err != nil {
		log.Printf("❌ [%s] Failed to encode app event: %v", s.ID[:8], err)
		return
	}
	s.queueClientFrame(websocket.TextMessage, data)
}

func (s *Session) sendError(text string) {
	data, err := messages.Marshal(&messages.ServerMessage{
		Error: &messages.ErrorInfo{Message: text},
	})
	if err != nil {
		return
	}
	s.queueClientFrame(websocket.TextMessage, data)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

// LastActive reports the time of the most recent frame in either direction.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastActivity
}

// IsClosed returns whether the session has been torn down.
func (s *Session) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// closeWithCode records the close code the client will receive, then tears
// the session down. The first recorded code wins.
func (s *Session) closeWithCode(code int) error {
	s.mu.Lock()
	if s.closeCode == 0 {
		s.closeCode = code
	}
	s.mu.Unlock()
	return s.Close()
}

// Close terminates the session and cleans up resources. Safe to call more
// than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	upstream := s.upstream
	close(s.writeChan)
	s.mu.Unlock()

	s.cancel()
	close(s.CloseChan)

	if upstream != nil {
		upstream.Close()
	}

	// The client connection is closed by writePump after it drains, which
	// lets a final error frame out before the close frame.
	return nil
}

// closeCodeFrom extracts a sendable close code from a read error, falling
// back when the peer vanished without one.
func closeCodeFrom(err error, fallback int) int {
	if ce, ok := err.(*websocket.CloseError); ok {
		switch ce.Code {
		case websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
			return fallback
		default:
			return ce.Code
		}
	}
	return fallback
}
