package session

import (
	"github.com/xiaot623/gogo/bridge/internal/domain"
)

// Phase is the session lifecycle stage.
type Phase int

const (
	// PhaseAnonymous is the state before the user gesture, and the state a
	// logout returns to.
	PhaseAnonymous Phase = iota
	// PhaseScanning streams camera frames until the brain identifies the user.
	PhaseScanning
	// PhaseRegistering shows the registration form for an unknown face.
	PhaseRegistering
	// PhaseGreeting waits for the brain to greet: after a recognized face,
	// and again after every new conversation.
	PhaseGreeting
	// PhaseActive is a greeted session ready for voice.
	PhaseActive
	// PhaseIdle follows a scan that ended without an identity. Text and
	// voice are degraded until the user retries.
	PhaseIdle
)

func (p Phase) String() string {
	switch p {
	case PhaseAnonymous:
		return "anonymous"
	case PhaseScanning:
		return "scanning"
	case PhaseRegistering:
		return "registering"
	case PhaseGreeting:
		return "greeting"
	case PhaseActive:
		return "active"
	case PhaseIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Notification is the fullscreen reminder notice.
type Notification struct {
	ReminderID  int64  `json:"reminder_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	IsMissed    bool   `json:"is_missed"`
}

// State is the session state the dispatcher transforms. It is a value: the
// dispatcher returns a new one instead of mutating.
type State struct {
	Phase Phase

	User     *domain.User
	UserName string
	Emotion  string

	// ActiveConversationID is zero when no conversation is selected.
	ActiveConversationID int64
	RemindersOpen        bool
	MicMuted             bool

	Notification      *Notification
	ScanMessage       string
	RegistrationError string

	// Greeted records a greeting that arrived while the registration form
	// was open. The session becomes active once the form closes.
	Greeted bool
}

// HasGreeted reports whether the brain greeted the current conversation.
func (s State) HasGreeted() bool {
	return s.Phase == PhaseActive || (s.Phase == PhaseRegistering && s.Greeted)
}

// leaveRegistration closes the registration form. fallback is the phase to
// enter when no greeting arrived while it was open.
func (s *State) leaveRegistration(fallback Phase) {
	if s.Greeted {
		s.Phase = PhaseActive
	} else {
		s.Phase = fallback
	}
	s.Greeted = false
	s.RegistrationError = ""
}

// ShowFaceScan reports whether the camera surface is presented.
func (s State) ShowFaceScan() bool {
	return s.Phase == PhaseScanning
}

// ShowRegistrationForm reports whether the registration form is presented.
func (s State) ShowRegistrationForm() bool {
	return s.Phase == PhaseRegistering
}

// VoiceReady reports whether voice interaction is considered ready.
func (s State) VoiceReady() bool {
	return s.Phase == PhaseActive
}

// CanChat reports whether the conversation views are usable.
func (s State) CanChat() bool {
	return s.Phase == PhaseActive || s.Phase == PhaseGreeting
}
