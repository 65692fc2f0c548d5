package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixvoice/pixvoice/messages"
	"github.com/pixvoice/pixvoice/transcript"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// scriptedServer plays the relay/upstream role: it records every frame the
// session sends and lets tests push scripted responses.
type scriptedServer struct {
	srv    *httptest.Server
	conns  chan *websocket.Conn
	frames chan []byte
}

// newScriptedServer starts a fake endpoint. With autoAck set, the first frame
// from each connection (the setup frame) is answered with setupComplete.
func newScriptedServer(t *testing.T, autoAck bool) *scriptedServer {
	t.Helper()
	ss := &scriptedServer{
		conns:  make(chan *websocket.Conn, 2),
		frames: make(chan []byte, 64),
	}
	ss.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ss.conns <- c
		first := true
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			ss.frames <- data
			if first && autoAck {
				c.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`))
			}
			first = false
		}
	}))
	t.Cleanup(ss.srv.Close)
	return ss
}

func (ss *scriptedServer) url() string {
	return "ws" + strings.TrimPrefix(ss.srv.URL, "http")
}

func (ss *scriptedServer) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ss.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("session never connected")
		return nil
	}
}

func (ss *scriptedServer) recvFrame(t *testing.T) []byte {
	t.Helper()
	select {
	case f := <-ss.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received from session")
		return nil
	}
}

func (ss *scriptedServer) send(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// transcriptLog collects committed transcript events thread-safely.
type transcriptLog struct {
	mu     sync.Mutex
	events []transcript.Event
}

func (l *transcriptLog) add(ev transcript.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *transcriptLog) finals(role transcript.Role, text string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.IsFinal && ev.Role == role && ev.Text == text {
			n++
		}
	}
	return n
}

func TestSession_ConnectHappyPath(t *testing.T) {
	ss := newScriptedServer(t, true)

	s := New(Config{URL: ss.url(), SetupTimeout: 2 * time.Second}, Callbacks{})
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateConnected, s.State())
	assert.True(t, s.IsConnected())

	setup := string(ss.recvFrame(t))
	assert.Contains(t, setup, `"setup"`)
	assert.Contains(t, setup, defaultModel)
	assert.Contains(t, setup, `"inputAudioTranscription"`)
	assert.Contains(t, setup, `"outputAudioTranscription"`)

	s.Disconnect()
	<-s.Done()
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSession_SetupTimeout(t *testing.T) {
	ss := newScriptedServer(t, false) // never acknowledges

	var errCount int32
	s := New(Config{URL: ss.url(), SetupTimeout: 200 * time.Millisecond}, Callbacks{
		OnError: func(error) { atomic.AddInt32(&errCount, 1) },
	})

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Equal(t, StateError, s.State())

	// The teardown-induced read error must not produce a second callback.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&errCount))
}

func TestSession_DialFailure(t *testing.T) {
	var errCount int32
	s := New(Config{URL: "ws://127.0.0.1:1", SetupTimeout: time.Second}, Callbacks{
		OnError: func(error) { atomic.AddInt32(&errCount, 1) },
	})

	require.Error(t, s.Connect(context.Background()))
	assert.Equal(t, StateError, s.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&errCount))
}

func TestSession_TranscriptFinalDedup(t *testing.T) {
	ss := newScriptedServer(t, true)

	log := &transcriptLog{}
	s := New(Config{URL: ss.url(), SetupTimeout: 2 * time.Second}, Callbacks{
		OnTranscript: log.add,
	})
	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()
	c := ss.conn(t)

	frame := `{"serverContent":{"outputTranscription":{"text":"hello there","finished":true}}}`
	ss.send(t, c, frame)
	ss.send(t, c, frame)
	ss.send(t, c, `{"serverContent":{"turnComplete":true}}`)

	require.Eventually(t, func() bool {
		return log.finals(transcript.RoleAI, "hello there") > 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, log.finals(transcript.RoleAI, "hello there"))
}

func TestSession_TurnCompleteFlushesPartials(t *testing.T) {
	ss := newScriptedServer(t, true)

	log := &transcriptLog{}
	var turns int32
	s := New(Config{URL: ss.url(), SetupTimeout: 2 * time.Second}, Callbacks{
		OnTranscript:   log.add,
		OnTurnComplete: func() { atomic.AddInt32(&turns, 1) },
	})
	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()
	c := ss.conn(t)

	ss.send(t, c, `{"serverContent":{"inputTranscription":{"text":"make it"}}}`)
	ss.send(t, c, `{"serverContent":{"inputTranscription":{"text":"make it warmer"}}}`)
	ss.send(t, c, `{"serverContent":{"turnComplete":true}}`)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&turns) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The last partial is committed as final; the superseded one is not.
	assert.Equal(t, 1, log.finals(transcript.RoleUser, "make it warmer"))
	assert.Equal(t, 0, log.finals(transcript.RoleUser, "make it"))
}

func TestSession_AppEventsAndUpstreamErrors(t *testing.T) {
	ss := newScriptedServer(t, true)

	appEvents := make(chan *messages.AppEvent, 4)
	errs := make(chan error, 4)
	s := New(Config{URL: ss.url(), SetupTimeout: 2 * time.Second}, Callbacks{
		OnAppEvent: func(ev *messages.AppEvent) { appEvents <- ev },
		OnError:    func(err error) { errs <- err },
	})
	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()
	c := ss.conn(t)

	ss.send(t, c, `{"type":"EDIT_COMPLETED","instruction":"warmer","version":"v1","imageBase64":"QUJD","mimeType":"image/png"}`)
	select {
	case ev := <-appEvents:
		assert.Equal(t, messages.EventEditCompleted, ev.Type)
		assert.Equal(t, "v1", ev.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("app event not delivered")
	}

	// Upstream error frames surface without tearing the connection down.
	ss.send(t, c, `{"error":{"message":"quota exceeded"}}`)
	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "quota exceeded")
	case <-time.After(2 * time.Second):
		t.Fatal("error frame not surfaced")
	}
	assert.True(t, s.IsConnected())
}

func TestSession_ToolCallDelivery(t *testing.T) {
	ss := newScriptedServer(t, true)

	calls := make(chan *messages.ToolCall, 2)
	s := New(Config{URL: ss.url(), SetupTimeout: 2 * time.Second}, Callbacks{
		OnToolCall: func(tc *messages.ToolCall) { calls <- tc },
	})
	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()
	c := ss.conn(t)

	ss.send(t, c, `{"toolCall":{"functionCalls":[{"id":"c1","name":"request_photo_edit","args":{"instruction":"crop it"}}]}}`)

	select {
	case tc := <-calls:
		require.Len(t, tc.FunctionCalls, 1)
		assert.Equal(t, "request_photo_edit", tc.FunctionCalls[0].Name)
	case <-time.After(2 * time.Second):
		t.Fatal("tool call not delivered")
	}
}

func TestSession_SendsAreNoOpsWhenDisconnected(t *testing.T) {
	s := New(Config{URL: "ws://127.0.0.1:1"}, Callbacks{})

	// None of these may panic or send; the session was never connected.
	s.SendText("hello")
	s.SendImage("QUJD", "image/jpeg", "")
	s.SendToolResult(nil)
	s.ConfirmEdit("warmer", "QUJD", "image/jpeg")
	s.CancelEditConfirm()
	assert.Error(t, s.SendRealtimeAudio("QUJD"))
}

func TestSession_SendText(t *testing.T) {
	ss := newScriptedServer(t, true)

	s := New(Config{URL: ss.url(), SetupTimeout: 2 * time.Second}, Callbacks{})
	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()

	_ = ss.recvFrame(t) // setup frame
	s.SendText("what's in this photo?")

	frame := string(ss.recvFrame(t))
	assert.Contains(t, frame, `"clientContent"`)
	assert.Contains(t, frame, "what's in this photo?")
	assert.Contains(t, frame, `"turnComplete":true`)
}

func TestSession_InterruptedSignalStopsPlayback(t *testing.T) {
	ss := newScriptedServer(t, true)

	sink := &recordingSink{}
	s := New(Config{URL: ss.url(), SetupTimeout: 2 * time.Second, Sink: sink}, Callbacks{})
	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()
	c := ss.conn(t)

	ss.send(t, c, `{"serverContent":{"interrupted":true}}`)

	require.Eventually(t, func() bool {
		return sink.stops() > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, s.player.Playing())
}

func TestPreferInputDevice(t *testing.T) {
	tests := []struct {
		name    string
		devices []Device
		want    string
	}{
		{
			name: "headset beats phone",
			devices: []Device{
				{ID: "a", Label: "iPhone Microphone"},
				{ID: "b", Label: "USB Headset"},
			},
			want: "b",
		},
		{
			name: "builtin beats hands-free",
			devices: []Device{
				{ID: "a", Label: "Pixel 8 Hands-Free"},
				{ID: "b", Label: "Built-in Microphone"},
			},
			want: "b",
		},
		{
			name: "first wins on tie",
			devices: []Device{
				{ID: "a", Label: "Mic One"},
				{ID: "b", Label: "Mic Two"},
			},
			want: "a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PreferInputDevice(tt.devices)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.ID)
		})
	}

	_, ok := PreferInputDevice(nil)
	assert.False(t, ok)
}
