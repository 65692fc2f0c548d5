package transcript

import (
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
)

// Role identifies the author of a transcript event.
type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// Event is the canonical transcript shape all upstream variants reduce to.
// Partial events (IsFinal=false) for the same role overwrite the previous
// partial in the consumer's log rather than appending.
type Event struct {
	Role    Role   `json:"role"`
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// Upstream messages arrive in several historical shapes; both camelCase and
// snake_case key variants must be accepted.
type rawMessage struct {
	Transcript *rawTranscript `json:"transcript"`

	ServerContent      *rawServerContent `json:"serverContent"`
	ServerContentSnake *rawServerContent `json:"server_content"`
}

type rawTranscript struct {
	Role    string `json:"role"`
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

type rawServerContent struct {
	ModelTurn      *rawTurn `json:"modelTurn"`
	ModelTurnSnake *rawTurn `json:"model_turn"`

	TurnComplete      bool `json:"turnComplete"`
	TurnCompleteSnake bool `json:"turn_complete"`

	InputTranscription      *rawTranscription `json:"inputTranscription"`
	InputTranscriptionSnake *rawTranscription `json:"input_transcription"`

	OutputTranscription      *rawTranscription `json:"outputTranscription"`
	OutputTranscriptionSnake *rawTranscription `json:"output_transcription"`
}

type rawTurn struct {
	Parts []rawPart `json:"parts"`
}

type rawPart struct {
	Text    string `json:"text"`
	Thought bool   `json:"thought"`
}

type rawTranscription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished"`
	IsFinal  bool   `json:"isFinal"`
}

var (
	thinkingTagRe   = regexp.MustCompile(`(?s)<(thinking|thought)>.*?</(thinking|thought)>`)
	bracketBlockRe  = regexp.MustCompile(`(?s)\[(thinking|thought)\].*?\[/(thinking|thought)\]`)
	whitespaceRunRe = regexp.MustCompile(`\s+`)
)

// Normalize maps one upstream message into zero or more canonical transcript
// events. Rules run in order: the canonical transcript shape wins; otherwise
// the nested server-content object is inspected for model-turn text parts,
// input transcription, and output transcription under either key-naming
// variant. Events identical within a single pass are suppressed; cross-pass
// partial dedup is the caller's responsibility.
func Normalize(raw []byte) []Event {
	var msg rawMessage
	if err := sonic.Unmarshal(raw, &msg); err != nil {
		return nil
	}

	var events []Event
	add := func(e Event) {
		if e.Text == "" {
			return
		}
		for _, prev := range events {
			if prev == e {
				return
			}
		}
		events = append(events, e)
	}

	if t := msg.Transcript; t != nil {
		role := RoleUser
		text := SanitizeUserText(t.Text)
		if t.Role == "ai" || t.Role == "model" || t.Role == "assistant" {
			role = RoleAI
			text = SanitizeAIText(t.Text)
		}
		add(Event{Role: role, Text: text, IsFinal: t.IsFinal})
		return events
	}

	sc := msg.ServerContent
	if sc == nil {
		sc = msg.ServerContentSnake
	}
	if sc == nil {
		return nil
	}

	turnComplete := sc.TurnComplete || sc.TurnCompleteSnake

	turn := sc.ModelTurn
	if turn == nil {
		turn = sc.ModelTurnSnake
	}
	if turn != nil {
		for _, part := range turn.Parts {
			if part.Thought {
				continue
			}
			add(Event{Role: RoleAI, Text: SanitizeAIText(part.Text), IsFinal: turnComplete})
		}
	}

	if in := firstTranscription(sc.InputTranscription, sc.InputTranscriptionSnake); in != nil {
		add(Event{Role: RoleUser, Text: SanitizeUserText(in.Text), IsFinal: in.Finished || in.IsFinal})
	}
	if out := firstTranscription(sc.OutputTranscription, sc.OutputTranscriptionSnake); out != nil {
		add(Event{Role: RoleAI, Text: SanitizeAIText(out.Text), IsFinal: out.Finished || out.IsFinal})
	}

	return events
}

func firstTranscription(camel, snake *rawTranscription) *rawTranscription {
	if camel != nil {
		return camel
	}
	return snake
}

// SanitizeAIText strips internal thinking tags and bracket blocks from
// model-authored text, then collapses whitespace and trims.
func SanitizeAIText(text string) string {
	text = thinkingTagRe.ReplaceAllString(text, "")
	text = bracketBlockRe.ReplaceAllString(text, "")
	return SanitizeUserText(text)
}

// SanitizeUserText normalizes whitespace only; user speech is never
// content-filtered.
func SanitizeUserText(text string) string {
	return strings.TrimSpace(whitespaceRunRe.ReplaceAllString(text, " "))
}
