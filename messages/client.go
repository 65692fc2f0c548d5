package messages

// Frames sent from the client toward the upstream session. Field names match
// the upstream wire protocol exactly; the relay forwards these opaquely.

// SetupFrame is the first (and only) frame sent after the transport opens.
type SetupFrame struct {
	Setup Setup `json:"setup"`
}

// Setup describes the session configuration.
type Setup struct {
	Model                    string            `json:"model"`
	GenerationConfig         *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction        *Content          `json:"systemInstruction,omitempty"`
	Tools                    []Tool            `json:"tools,omitempty"`
	InputAudioTranscription  *TranscriptionCfg `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *TranscriptionCfg `json:"outputAudioTranscription,omitempty"`
}

// GenerationConfig selects response modalities and the TTS voice.
type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// SpeechConfig selects a prebuilt voice by name.
type SpeechConfig struct {
	VoiceConfig *VoiceConfig `json:"voiceConfig,omitempty"`
}

type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// TranscriptionCfg enables input/output transcription; the empty object is
// the "on" switch on the wire.
type TranscriptionCfg struct{}

// Tool declares callable functions to the model.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// FunctionDeclaration describes one callable function.
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ClientContentFrame carries a complete text/image turn.
type ClientContentFrame struct {
	ClientContent ClientContent `json:"clientContent"`
}

type ClientContent struct {
	Turns        []Content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

// Content is one conversational turn (role + parts).
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is either text or inline binary data (base64 in the Blob).
type Part struct {
	Text       string `json:"text,omitempty"`
	Thought    bool   `json:"thought,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Blob wraps base64 payloads with their MIME type, including any
// "rate=<n>" audio rate token.
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// RealtimeInputFrame streams one raw audio chunk.
type RealtimeInputFrame struct {
	RealtimeInput RealtimeInput `json:"realtimeInput"`
}

type RealtimeInput struct {
	MediaChunks []Blob `json:"mediaChunks"`
}

// ToolResponseFrame answers an upstream tool call.
type ToolResponseFrame struct {
	ToolResponse ToolResponse `json:"toolResponse"`
}

type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// Application control verbs intercepted by the relay (never forwarded
// upstream).
const (
	ControlConfirmEdit       = "CONFIRM_EDIT"
	ControlCancelEditConfirm = "CANCEL_EDIT_CONFIRM"
)

// AppControl is a client-originated control frame carrying an edit
// confirmation or cancellation.
type AppControl struct {
	Type        string `json:"type"`
	Instruction string `json:"instruction,omitempty"`
	ImageBase64 string `json:"imageBase64,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// NewConfirmEdit builds the CONFIRM_EDIT control frame.
func NewConfirmEdit(instruction, imageBase64, mimeType string) *AppControl {
	return &AppControl{
		Type:        ControlConfirmEdit,
		Instruction: instruction,
		ImageBase64: imageBase64,
		MimeType:    mimeType,
	}
}

// NewCancelEditConfirm builds the CANCEL_EDIT_CONFIRM control frame.
func NewCancelEditConfirm() *AppControl {
	return &AppControl{Type: ControlCancelEditConfirm}
}
