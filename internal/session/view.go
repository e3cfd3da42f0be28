package session

import (
	"log"

	"github.com/xiaot623/gogo/bridge/internal/domain"
)

// View is the presentation state published with every state event.
type View struct {
	SessionID            string        `json:"session_id,omitempty"`
	Ready                bool          `json:"is_ready"`
	Phase                Phase         `json:"phase"`
	HasGreeted           bool          `json:"has_greeted"`
	User                 *domain.User  `json:"current_user"`
	UserName             string        `json:"user_name,omitempty"`
	Emotion              string        `json:"emotion,omitempty"`
	ShowFaceScan         bool          `json:"show_face_scan"`
	ShowRegistrationForm bool          `json:"show_registration_form"`
	VoiceReady           bool          `json:"voice_ready"`
	CanChat              bool          `json:"can_chat"`
	ScanMessage          string        `json:"scan_message,omitempty"`
	ScanAttempts         int           `json:"scan_attempts"`
	ActiveConversationID *int64        `json:"active_conversation_id"`
	RemindersOpen        bool          `json:"reminders_open"`
	MicMuted             bool          `json:"mic_muted"`
	Notification         *Notification `json:"notification"`
	RegistrationError    string        `json:"registration_error,omitempty"`
	ChannelOpen          bool          `json:"channel_open"`
	Capabilities         Capabilities  `json:"capabilities"`
	PlaybackPending      int           `json:"playback_pending"`
	Playing              bool          `json:"playing"`
}

// Snapshot is the View plus the cached lists.
type Snapshot struct {
	View
	Conversations []domain.Conversation `json:"conversations"`
	Messages      []domain.Message      `json:"messages"`
	Reminders     []domain.Reminder     `json:"reminders"`
}

// View renders the current state.
func (s *Session) View() View {
	st := s.state
	v := View{
		SessionID:            s.id,
		Ready:                s.started,
		Phase:                st.Phase,
		HasGreeted:           st.HasGreeted(),
		User:                 st.User,
		UserName:             st.UserName,
		Emotion:              st.Emotion,
		ShowFaceScan:         st.ShowFaceScan(),
		ShowRegistrationForm: st.ShowRegistrationForm(),
		VoiceReady:           st.VoiceReady(),
		CanChat:              st.CanChat(),
		ScanMessage:          st.ScanMessage,
		ScanAttempts:         s.scan.Attempts(),
		RemindersOpen:        st.RemindersOpen,
		MicMuted:             st.MicMuted,
		Notification:         st.Notification,
		RegistrationError:    st.RegistrationError,
		ChannelOpen:          s.channelOpen(),
		Capabilities:         s.caps,
		PlaybackPending:      s.queue.Len(),
		Playing:              s.queue.Playing(),
	}
	if st.ActiveConversationID != 0 {
		id := st.ActiveConversationID
		v.ActiveConversationID = &id
	}
	return v
}

// Snapshot renders the state together with the cached lists.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		View:          s.View(),
		Conversations: []domain.Conversation{},
		Messages:      []domain.Message{},
		Reminders:     []domain.Reminder{},
	}
	if conversations, err := s.store.Conversations(s.ctx); err != nil {
		log.Printf("[session] WARN: failed to read conversations: %v", err)
	} else {
		snap.Conversations = conversations
	}
	if messages, err := s.store.Messages(s.ctx); err != nil {
		log.Printf("[session] WARN: failed to read messages: %v", err)
	} else {
		snap.Messages = messages
	}
	if reminders, err := s.store.Reminders(s.ctx); err != nil {
		log.Printf("[session] WARN: failed to read reminders: %v", err)
	} else {
		snap.Reminders = reminders
	}
	return snap
}
