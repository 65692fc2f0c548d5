package messages

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeAppControl(t *testing.T) {
	raw, err := Marshal(NewConfirmEdit("make it warmer", "AAA", "image/jpeg"))
	require.NoError(t, err)

	ctl, ok := DecodeAppControl(raw)
	require.True(t, ok)
	require.Equal(t, ControlConfirmEdit, ctl.Type)
	require.Equal(t, "make it warmer", ctl.Instruction)
	require.Equal(t, "AAA", ctl.ImageBase64)
	require.Equal(t, "image/jpeg", ctl.MimeType)
}

func TestDecodeAppControl_RejectsNonControlFrames(t *testing.T) {
	for _, raw := range []string{
		`{"realtimeInput":{"mediaChunks":[{"mimeType":"audio/pcm;rate=16000","data":"AAAA"}]}}`,
		`{"type":"EDIT_STATUS","status":"editing"}`,
		`not json at all`,
	} {
		_, ok := DecodeAppControl([]byte(raw))
		require.False(t, ok, "frame %q should not classify as control", raw)
	}
}

func TestDecodeServer_SetupComplete(t *testing.T) {
	// Both wire forms of the acknowledgement must decode.
	for _, raw := range []string{`{"setupComplete":{}}`, `{"setupComplete":true}`} {
		msg, ok := DecodeServer([]byte(raw))
		require.True(t, ok, raw)
		require.NotNil(t, msg.SetupComplete, raw)
		require.Nil(t, msg.ServerContent, raw)
	}
}

func TestDecodeServer_OpaqueOnNonJSON(t *testing.T) {
	_, ok := DecodeServer([]byte{0x00, 0x01, 0xFF})
	require.False(t, ok)
}

func TestDecodeAppEvent(t *testing.T) {
	raw, err := Marshal(NewEditCompleted("make it warmer", "v1", "BBB", "image/jpeg"))
	require.NoError(t, err)

	ev, ok := DecodeAppEvent(raw)
	require.True(t, ok)
	require.Equal(t, EventEditCompleted, ev.Type)
	require.Equal(t, "v1", ev.Version)
	require.Equal(t, "BBB", ev.ImageBase64)

	_, ok = DecodeAppEvent([]byte(`{"serverContent":{"turnComplete":true}}`))
	require.False(t, ok)
}

func TestErrorInfo_Text(t *testing.T) {
	require.Equal(t, "boom", (&ErrorInfo{Message: "boom", Details: "d"}).Text())
	require.Equal(t, "d", (&ErrorInfo{Details: "d", Status: "s"}).Text())
	require.Equal(t, "s", (&ErrorInfo{Status: "s"}).Text())
	require.Equal(t, "", (*ErrorInfo)(nil).Text())
}

func TestSetupFrame_WireShape(t *testing.T) {
	raw, err := Marshal(&SetupFrame{Setup: Setup{
		Model:                   "models/test",
		InputAudioTranscription: &TranscriptionCfg{},
	}})
	require.NoError(t, err)
	require.Contains(t, string(raw), `"setup"`)
	require.Contains(t, string(raw), `"inputAudioTranscription":{}`)
	require.NotContains(t, string(raw), `"tools"`)
}
