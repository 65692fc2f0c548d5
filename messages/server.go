package messages

import (
	"github.com/bytedance/sonic"
)

// Application event types synthesized by the relay or upstream.
const (
	EventEditStatus           = "EDIT_STATUS"
	EventEditCompleted        = "EDIT_COMPLETED"
	EventEditFailed           = "EDIT_FAILED"
	EventEditConfirmCancelled = "EDIT_CONFIRM_CANCELLED"
	EventRequireEditConfirm   = "REQUIRE_EDIT_CONFIRM"
)

// EditStatusEditing is the only EDIT_STATUS value currently emitted.
const EditStatusEditing = "editing"

// AppEvent is an application-level event frame delivered to the client.
type AppEvent struct {
	Type        string `json:"type"`
	Status      string `json:"status,omitempty"`
	Instruction string `json:"instruction,omitempty"`
	Version     string `json:"version,omitempty"`
	ImageBase64 string `json:"imageBase64,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Error       string `json:"error,omitempty"`
}

// NewEditStatus reports that an edit has started.
func NewEditStatus(instruction string) *AppEvent {
	return &AppEvent{Type: EventEditStatus, Status: EditStatusEditing, Instruction: instruction}
}

// NewEditCompleted carries the edited image and its version label.
func NewEditCompleted(instruction, version, imageBase64, mimeType string) *AppEvent {
	return &AppEvent{
		Type:        EventEditCompleted,
		Instruction: instruction,
		Version:     version,
		ImageBase64: imageBase64,
		MimeType:    mimeType,
	}
}

// NewEditFailed reports a failed edit with the collaborator's error message.
func NewEditFailed(instruction, errMsg string) *AppEvent {
	return &AppEvent{Type: EventEditFailed, Instruction: instruction, Error: errMsg}
}

// NewEditConfirmCancelled acknowledges a CANCEL_EDIT_CONFIRM.
func NewEditConfirmCancelled() *AppEvent {
	return &AppEvent{Type: EventEditConfirmCancelled}
}

// NewRequireEditConfirm asks the client to surface a confirmation prompt.
func NewRequireEditConfirm(instruction string) *AppEvent {
	return &AppEvent{Type: EventRequireEditConfirm, Instruction: instruction}
}

// ServerMessage is the decoded union of upstream-originated frames. Exactly
// one shape is interpretable per message; frames matching none of the known
// shapes must be treated as opaque by transports (they may be binary audio).
type ServerMessage struct {
	SetupComplete *SetupComplete `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	ToolCall      *ToolCall      `json:"toolCall,omitempty"`
	Error         *ErrorInfo     `json:"error,omitempty"`

	// App-level frames are flat objects with a "type" discriminator.
	Type string `json:"type,omitempty"`
}

// SetupComplete appears on the wire as either an empty object or a bare
// `true`; the presence of the key is the whole signal.
type SetupComplete struct{}

func (s *SetupComplete) UnmarshalJSON([]byte) error { return nil }

// ServerContent is a model turn plus transcription and turn-state flags.
type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

type Transcription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ErrorInfo mirrors the upstream error frame. Any of the three fields may be
// populated depending on the upstream's mood.
type ErrorInfo struct {
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
	Status  string `json:"status,omitempty"`
}

// Text returns the most specific populated description.
func (e *ErrorInfo) Text() string {
	switch {
	case e == nil:
		return ""
	case e.Message != "":
		return e.Message
	case e.Details != "":
		return e.Details
	default:
		return e.Status
	}
}

// Marshal serializes any frame for the wire.
func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// DecodeServer parses a text frame into the server-message union. A decode
// failure means the frame is not JSON (or not ours) and must be passed
// through untouched.
func DecodeServer(raw []byte) (*ServerMessage, bool) {
	var msg ServerMessage
	if err := sonic.Unmarshal(raw, &msg); err != nil {
		return nil, false
	}
	return &msg, true
}

// DecodeAppControl recognizes the two application control verbs the relay
// intercepts. Anything else, JSON or not, is not a control frame.
func DecodeAppControl(raw []byte) (*AppControl, bool) {
	var ctl AppControl
	if err := sonic.Unmarshal(raw, &ctl); err != nil {
		return nil, false
	}
	switch ctl.Type {
	case ControlConfirmEdit, ControlCancelEditConfirm:
		return &ctl, true
	default:
		return nil, false
	}
}

// DecodeAppEvent recognizes relay/upstream application events on the client
// side.
func DecodeAppEvent(raw []byte) (*AppEvent, bool) {
	var ev AppEvent
	if err := sonic.Unmarshal(raw, &ev); err != nil {
		return nil, false
	}
	switch ev.Type {
	case EventEditStatus, EventEditCompleted, EventEditFailed,
		EventEditConfirmCancelled, EventRequireEditConfirm:
		return &ev, true
	default:
		return nil, false
	}
}
