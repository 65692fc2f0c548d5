package transcript

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize_CanonicalShape(t *testing.T) {
	events := Normalize([]byte(`{"transcript":{"role":"user","text":"  make it   warmer ","isFinal":true}}`))
	require.Equal(t, []Event{{Role: RoleUser, Text: "make it warmer", IsFinal: true}}, events)
}

func TestNormalize_CanonicalShape_AISanitized(t *testing.T) {
	events := Normalize([]byte(`{"transcript":{"role":"ai","text":"<thinking>plan the reply</thinking>Sure,  done.","isFinal":true}}`))
	require.Equal(t, []Event{{Role: RoleAI, Text: "Sure, done.", IsFinal: true}}, events)
}

func TestNormalize_ModelTurn_SkipsThoughtParts(t *testing.T) {
	raw := []byte(`{"serverContent":{"modelTurn":{"parts":[
		{"text":"internal plan","thought":true},
		{"text":"Here is the photo."}
	]},"turnComplete":true}}`)
	events := Normalize(raw)
	require.Equal(t, []Event{{Role: RoleAI, Text: "Here is the photo.", IsFinal: true}}, events)
}

func TestNormalize_ModelTurn_PartialWithoutTurnComplete(t *testing.T) {
	events := Normalize([]byte(`{"serverContent":{"modelTurn":{"parts":[{"text":"Here is"}]}}}`))
	require.Equal(t, []Event{{Role: RoleAI, Text: "Here is", IsFinal: false}}, events)
}

func TestNormalize_SnakeCaseVariants(t *testing.T) {
	raw := []byte(`{"server_content":{
		"model_turn":{"parts":[{"text":"ok"}]},
		"turn_complete":true,
		"input_transcription":{"text":"edit the sky","finished":true},
		"output_transcription":{"text":"Sure thing","finished":false}
	}}`)
	events := Normalize(raw)
	require.Equal(t, []Event{
		{Role: RoleAI, Text: "ok", IsFinal: true},
		{Role: RoleUser, Text: "edit the sky", IsFinal: true},
		{Role: RoleAI, Text: "Sure thing", IsFinal: false},
	}, events)
}

func TestNormalize_CamelCaseTranscriptions(t *testing.T) {
	raw := []byte(`{"serverContent":{
		"inputTranscription":{"text":"hello","isFinal":false},
		"outputTranscription":{"text":"hi there","isFinal":true}
	}}`)
	events := Normalize(raw)
	require.Equal(t, []Event{
		{Role: RoleUser, Text: "hello", IsFinal: false},
		{Role: RoleAI, Text: "hi there", IsFinal: true},
	}, events)
}

func TestNormalize_DedupWithinBatch(t *testing.T) {
	raw := []byte(`{"serverContent":{"modelTurn":{"parts":[
		{"text":"same line"},
		{"text":"same line"}
	]}}}`)
	events := Normalize(raw)
	require.Len(t, events, 1)
}

func TestNormalize_UnknownOrMalformed(t *testing.T) {
	require.Nil(t, Normalize([]byte(`{"setupComplete":true}`)))
	require.Nil(t, Normalize([]byte(`not json`)))
	require.Nil(t, Normalize([]byte(`{"serverContent":{}}`)))
}

func TestSanitizeAIText(t *testing.T) {
	require.Equal(t, "Done.", SanitizeAIText("[thinking]hmm[/thinking] Done."))
	require.Equal(t, "a b", SanitizeAIText("  a \n\t b  "))
}

func TestSanitizeUserText_NotContentFiltered(t *testing.T) {
	// User speech keeps bracketed text; only whitespace is normalized.
	require.Equal(t, "[thinking] out loud", SanitizeUserText(" [thinking]  out loud "))
}
