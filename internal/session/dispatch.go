package session

import (
	"github.com/xiaot623/gogo/bridge/internal/domain"
	"github.com/xiaot623/gogo/bridge/internal/protocol"
)

// NewConversationTitle is the title requested for every new conversation.
const NewConversationTitle = "New Chat"

// Effect is a side effect requested by a transition. The set is closed.
type Effect interface {
	effect()
}

// SendEffect sends a control message to the brain.
type SendEffect struct {
	Msg protocol.Outbound
}

// NotifyEffect publishes a UI event.
type NotifyEffect struct {
	Type string
	Data interface{}
}

// ResolveScanEffect ends the identity scan.
type ResolveScanEffect struct{}

// ClearPlaybackEffect drops queued and playing audio.
type ClearPlaybackEffect struct{}

// AppendMessageEffect appends to the active message log.
type AppendMessageEffect struct {
	Role    domain.Role
	Content string
}

// ReplaceMessagesEffect replaces the active message log.
type ReplaceMessagesEffect struct {
	Messages []domain.Message
}

// ClearMessagesEffect empties the active message log.
type ClearMessagesEffect struct{}

// ReplaceConversationsEffect replaces the conversation list.
type ReplaceConversationsEffect struct {
	Conversations []domain.Conversation
}

// ReplaceRemindersEffect replaces the reminder list.
type ReplaceRemindersEffect struct {
	Reminders []domain.Reminder
}

func (SendEffect) effect()                 {}
func (NotifyEffect) effect()               {}
func (ResolveScanEffect) effect()          {}
func (ClearPlaybackEffect) effect()        {}
func (AppendMessageEffect) effect()        {}
func (ReplaceMessagesEffect) effect()      {}
func (ClearMessagesEffect) effect()        {}
func (ReplaceConversationsEffect) effect() {}
func (ReplaceRemindersEffect) effect()     {}

// Dispatch applies one inbound control message to the state. It is pure:
// everything beyond the state change is returned as effects.
func Dispatch(st State, msg protocol.Inbound) (State, []Effect) {
	var effects []Effect

	switch m := msg.(type) {
	case protocol.ShowRegistration:
		st.Greeted = st.HasGreeted()
		st.Phase = PhaseRegistering
		st.RegistrationError = ""
		effects = append(effects, ResolveScanEffect{})

	case protocol.HideRegistration:
		switch st.Phase {
		case PhaseRegistering:
			st.leaveRegistration(PhaseGreeting)
		case PhaseActive:
		default:
			st.Phase = PhaseGreeting
		}
		effects = append(effects, ResolveScanEffect{})

	case protocol.UserLoggedIn:
		user := m.User
		st.User = &user
		st.UserName = user.Username
		st.Phase = PhaseActive
		st.Greeted = false
		st.RegistrationError = ""
		// The payload already carries the list; no get_conversations.
		effects = append(effects,
			ResolveScanEffect{},
			ReplaceConversationsEffect{Conversations: nonNil(m.Conversations)},
		)

	case protocol.RegistrationSuccess:
		user := m.User
		st.User = &user
		st.UserName = user.Username
		st.ActiveConversationID = m.ConversationID
		st.Phase = PhaseActive
		st.Greeted = false
		st.RegistrationError = ""
		effects = append(effects,
			ResolveScanEffect{},
			AppendMessageEffect{Role: domain.RoleAssistant, Content: m.Message},
		)

	case protocol.RegistrationFailed:
		st.RegistrationError = m.Message
		effects = append(effects, NotifyEffect{Type: EventAlert, Data: Alert{Message: m.Message}})

	case protocol.Greeting:
		if m.User != "" {
			st.UserName = m.User
		}
		if m.Emotion != "" {
			st.Emotion = m.Emotion
		}
		// The registration form stays open.
		if st.Phase == PhaseRegistering {
			st.Greeted = true
		} else {
			st.Phase = PhaseActive
		}
		effects = append(effects,
			ResolveScanEffect{},
			AppendMessageEffect{Role: domain.RoleAssistant, Content: m.Content},
		)

	case protocol.EmotionUpdate:
		if m.Emotion != "" {
			st.Emotion = m.Emotion
		}
		if m.User != "" {
			st.UserName = m.User
		}

	case protocol.UserText:
		effects = append(effects, AppendMessageEffect{Role: domain.RoleUser, Content: m.Content})

	case protocol.Text:
		effects = append(effects, AppendMessageEffect{Role: domain.RoleAssistant, Content: m.Content})

	case protocol.Reminders:
		effects = append(effects, ReplaceRemindersEffect{Reminders: nonNil(m.Reminders)})

	case protocol.ReminderCreated:
		// Informational; the list is refreshed when the panel asks for it.

	case protocol.ReminderNotification:
		title := m.Reminder.Title
		if m.IsMissed {
			title = "Missed: " + title
		}
		st.Notification = &Notification{
			ReminderID:  m.Reminder.ID,
			Title:       title,
			Description: m.Reminder.Description,
			IsMissed:    m.IsMissed,
		}
		effects = append(effects, NotifyEffect{Type: EventNotification, Data: *st.Notification})
		if m.IsMissed {
			content := m.Message
			if content == "" {
				content = "You missed a reminder: " + m.Reminder.Title
			}
			effects = append(effects, AppendMessageEffect{Role: domain.RoleAssistant, Content: content})
		}

	case protocol.ReminderCompleted, protocol.ReminderDeleted:
		if st.User != nil {
			effects = append(effects, SendEffect{Msg: protocol.GetReminders()})
		}

	case protocol.Conversations:
		effects = append(effects, ReplaceConversationsEffect{Conversations: nonNil(m.Conversations)})

	case protocol.TitleUpdated:
		if st.User != nil {
			effects = append(effects, SendEffect{Msg: protocol.GetConversations()})
		}

	case protocol.ConversationCreated:
		st.ActiveConversationID = m.ConversationID
		if st.User != nil {
			effects = append(effects, SendEffect{Msg: protocol.GetConversations()})
		}

	case protocol.Messages:
		effects = append(effects, ReplaceMessagesEffect{Messages: nonNil(m.Messages)})

	case protocol.AudioFollows, protocol.Log, protocol.Unknown:
		// No state change.
	}

	return st, effects
}

// NewConversation starts a fresh conversation. messageCount is the length of
// the outgoing conversation's log.
func NewConversation(st State, messageCount int) (State, []Effect) {
	var effects []Effect
	if st.ActiveConversationID != 0 && messageCount >= 2 {
		effects = append(effects, SendEffect{Msg: protocol.GenerateTitle(st.ActiveConversationID)})
	}
	effects = append(effects,
		ClearPlaybackEffect{},
		ClearMessagesEffect{},
		SendEffect{Msg: protocol.ResetGreeting()},
		SendEffect{Msg: protocol.CreateConversation(NewConversationTitle)},
	)

	st.ActiveConversationID = 0
	st.Greeted = false
	if st.Phase == PhaseActive {
		st.Phase = PhaseGreeting
	}
	return st, effects
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
