package editflow

import (
	"log"
	"strings"
	"sync"

	"github.com/pixvoice/pixvoice/messages"
)

// State is the confirmation lifecycle for one proposed edit.
type State int

// StateCancelled and the idle return are collapsed: cancellation resolves to
// idle in the same step since nothing waits inside the cancelled state.
const (
	StateIdle State = iota
	StatePendingConfirmation
	StateConfirmed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePendingConfirmation:
		return "pendingConfirmation"
	case StateConfirmed:
		return "confirmed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Session is the slice of the voice session the flow drives: it sends the
// edit control frames and pauses capture while an edit runs.
type Session interface {
	ConfirmEdit(instruction, imageBase64, mimeType string)
	CancelEditConfirm()
	StopAudioInput()
	StartAudioInput() error
}

// Image identifies the photo a pending edit applies to.
type Image struct {
	Base64   string
	MimeType string
}

// Flow is the edit-confirmation state machine. An edit proposal enters
// pendingConfirmation; the user either confirms (capture pauses, the edit
// runs, capture resumes) or cancels. At most one proposal is pending at a
// time: a newer one replaces the older, never queues behind it.
//
// The conversation keeps flowing while a confirmation is pending; only a
// confirmed edit pauses capture, and only for its own duration.
type Flow struct {
	session Session

	mu          sync.Mutex
	state       State
	instruction string
	image       Image

	// OnPending is called when a proposal becomes pending (UI affordance).
	OnPending func(instruction string)
	// OnResolved is called when the flow returns to idle, with the outcome.
	OnResolved func(instruction string, completed bool)
}

// New creates an idle flow bound to a session.
func New(session Session) *Flow {
	return &Flow{session: session, state: StateIdle}
}

// State returns the current flow state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Pending returns the instruction awaiting confirmation, if any.
func (f *Flow) Pending() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instruction, f.state == StatePendingConfirmation
}

// Propose surfaces an edit instruction for confirmation. A proposal arriving
// while one is already pending replaces it. Proposals are ignored while an
// edit is running.
func (f *Flow) Propose(instruction string, image Image) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return
	}

	f.mu.Lock()
	if f.state == StateConfirmed {
		f.mu.Unlock()
		log.Printf("⚠️ Ignoring edit proposal while an edit is running: %q", instruction)
		return
	}
	replaced := f.state == StatePendingConfirmation
	f.state = StatePendingConfirmation
	f.instruction = instruction
	f.image = image
	f.mu.Unlock()

	if replaced {
		log.Printf("🔁 Replacing pending edit proposal with %q", instruction)
	}
	if f.OnPending != nil {
		f.OnPending(instruction)
	}
}

// Confirm runs the pending edit: capture pauses, the CONFIRM_EDIT control
// frame goes out, and the flow waits in confirmed until Resolve is called
// with the relay's outcome.
func (f *Flow) Confirm() {
	f.mu.Lock()
	if f.state != StatePendingConfirmation {
		f.mu.Unlock()
		return
	}
	f.state = StateConfirmed
	instruction := f.instruction
	image := f.image
	f.mu.Unlock()

	f.session.StopAudioInput()
	f.session.ConfirmEdit(instruction, image.Base64, image.MimeType)
}

// Cancel dismisses the pending confirmation without contacting the edit
// collaborator and tells the relay to clear any server-side pending state.
func (f *Flow) Cancel() {
	f.mu.Lock()
	if f.state != StatePendingConfirmation {
		f.mu.Unlock()
		return
	}
	instruction := f.instruction
	f.state = StateIdle
	f.instruction = ""
	f.image = Image{}
	f.mu.Unlock()

	f.session.CancelEditConfirm()
	if f.OnResolved != nil {
		f.OnResolved(instruction, false)
	}
}

// HandleAppEvent feeds relay events into the flow. EDIT_COMPLETED and
// EDIT_FAILED resolve a confirmed edit and resume capture; a failed edit
// re-offers the same instruction rather than dropping it.
// REQUIRE_EDIT_CONFIRM proposes the carried instruction.
func (f *Flow) HandleAppEvent(ev *messages.AppEvent, image Image) {
	switch ev.Type {
	case messages.EventRequireEditConfirm:
		f.Propose(ev.Instruction, image)
	case messages.EventEditCompleted:
		f.resolve(true)
	case messages.EventEditFailed:
		f.resolve(false)
	}
}

func (f *Flow) resolve(completed bool) {
	f.mu.Lock()
	if f.state != StateConfirmed {
		f.mu.Unlock()
		return
	}
	instruction := f.instruction
	if completed {
		f.state = StateIdle
		f.instruction = ""
		f.image = Image{}
	} else {
		// Re-offer the same instruction for another attempt.
		f.state = StatePendingConfirmation
	}
	f.mu.Unlock()

	if err := f.session.StartAudioInput(); err != nil {
		log.Printf("⚠️ Could not resume audio capture after edit: %v", err)
	}

	if f.OnResolved != nil {
		f.OnResolved(instruction, completed)
	}
	if !completed && f.OnPending != nil {
		f.OnPending(instruction)
	}
}

// editKeywords are verbs that signal an edit request in a committed user
// transcript. Keyword detection is deliberately simple; the tool-call path
// is the primary detector and this is the fallback.
var editKeywords = []string{
	"make it", "make the", "change", "remove", "add ", "crop", "brighten",
	"darken", "warmer", "cooler", "black and white", "blur", "sharpen",
	"rotate", "fix the", "turn it", "erase",
}

// DetectEditIntent reports whether a final user transcript looks like an
// edit request, returning the instruction to propose (the transcript itself).
func DetectEditIntent(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, kw := range editKeywords {
		if strings.Contains(lower, kw) {
			return strings.TrimSpace(text), true
		}
	}
	return "", false
}
