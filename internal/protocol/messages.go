// Package protocol defines the control-message protocol between the client
// and the brain service.
package protocol

import (
	"encoding/json"

	"github.com/xiaot623/gogo/bridge/internal/domain"
)

// Message types from brain to client
const (
	TypeShowRegistration     = "show_registration"
	TypeHideRegistration     = "hide_registration"
	TypeUserLoggedIn         = "user_logged_in"
	TypeRegistrationSuccess  = "registration_success"
	TypeRegistrationFailed   = "registration_failed"
	TypeGreeting             = "greeting"
	TypeEmotionUpdate        = "emotion_update"
	TypeUserText             = "user_text"
	TypeText                 = "text"
	TypeReminders            = "reminders"
	TypeReminderCreated      = "reminder_created"
	TypeReminderNotification = "reminder_notification"
	TypeReminderCompleted    = "reminder_completed"
	TypeReminderDeleted      = "reminder_deleted"
	TypeConversations        = "conversations"
	TypeTitleUpdated         = "title_updated"
	TypeConversationCreated  = "conversation_created"
	TypeMessages             = "messages"
	TypeAudio                = "audio"
	TypeLog                  = "log"
)

// Message types from client to brain
const (
	TypeGetConversations   = "get_conversations"
	TypeGetMessages        = "get_messages"
	TypeMuteMic            = "mute_mic"
	TypeUnmuteMic          = "unmute_mic"
	TypeCreateConversation = "create_conversation"
	TypeResetGreeting      = "reset_greeting"
	TypeGenerateTitle      = "generate_title"
	TypeRegisterUser       = "register_user"
	TypeRegisterUserOld    = "register_user_old"
	TypeGetReminders       = "get_reminders"
	TypeCreateReminder     = "create_reminder"
	TypeCompleteReminder   = "complete_reminder"
	TypeDeleteReminder     = "delete_reminder"
)

// BaseMessage carries the mandatory type discriminator.
type BaseMessage struct {
	Type string `json:"type"`
}

// Inbound is a control message received from the brain. The set of
// implementations is closed: one per inbound type plus Unknown.
type Inbound interface {
	inboundType() string
}

// ShowRegistration asks the client to present the registration form.
type ShowRegistration struct{}

// HideRegistration tells the client the face was recognized.
type HideRegistration struct{}

// UserLoggedIn is sent when an existing user is recognized.
type UserLoggedIn struct {
	User          domain.User           `json:"user"`
	Conversations []domain.Conversation `json:"conversations"`
}

// RegistrationSuccess is sent after register_user succeeded.
type RegistrationSuccess struct {
	User           domain.User `json:"user"`
	ConversationID int64       `json:"conversation_id"`
	Message        string      `json:"message"`
}

// RegistrationFailed carries a user-facing failure reason.
type RegistrationFailed struct {
	Message string `json:"message"`
}

// Greeting is the assistant's greeting for a new session or conversation.
type Greeting struct {
	Content string `json:"content"`
	User    string `json:"user,omitempty"`
	Emotion string `json:"emotion,omitempty"`
}

// EmotionUpdate updates the ambient emotion and user name display.
type EmotionUpdate struct {
	Emotion string `json:"emotion,omitempty"`
	User    string `json:"user,omitempty"`
}

// UserText is the transcript of the user's own utterance.
type UserText struct {
	Content string `json:"content"`
}

// Text is an assistant reply.
type Text struct {
	Content string `json:"content"`
}

// Reminders replaces the reminder cache.
type Reminders struct {
	Reminders []domain.Reminder `json:"reminders"`
}

// ReminderCreated acknowledges create_reminder.
type ReminderCreated struct {
	ReminderID int64 `json:"reminder_id"`
}

// ReminderNotification announces a due or missed reminder.
type ReminderNotification struct {
	Reminder domain.Reminder `json:"reminder"`
	IsMissed bool            `json:"is_missed"`
	Message  string          `json:"message,omitempty"`
}

// ReminderCompleted acknowledges complete_reminder.
type ReminderCompleted struct {
	ReminderID int64 `json:"reminder_id,omitempty"`
}

// ReminderDeleted acknowledges delete_reminder.
type ReminderDeleted struct {
	ReminderID int64 `json:"reminder_id,omitempty"`
}

// Conversations replaces the conversation cache.
type Conversations struct {
	Conversations []domain.Conversation `json:"conversations"`
}

// TitleUpdated reports a generated conversation title.
type TitleUpdated struct {
	ConversationID int64  `json:"conversation_id,omitempty"`
	Title          string `json:"title"`
}

// ConversationCreated reports the id of a newly created conversation.
type ConversationCreated struct {
	ConversationID int64 `json:"conversation_id"`
}

// Messages replaces the active message log.
type Messages struct {
	Messages []domain.Message `json:"messages"`
}

// AudioFollows precedes a binary audio frame. It carries no state.
type AudioFollows struct {
	Content string `json:"content,omitempty"`
}

// Log is a diagnostic line from the brain.
type Log struct {
	Content string `json:"content"`
}

// Unknown is any message whose type the client does not recognize.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (ShowRegistration) inboundType() string     { return TypeShowRegistration }
func (HideRegistration) inboundType() string     { return TypeHideRegistration }
func (UserLoggedIn) inboundType() string         { return TypeUserLoggedIn }
func (RegistrationSuccess) inboundType() string  { return TypeRegistrationSuccess }
func (RegistrationFailed) inboundType() string   { return TypeRegistrationFailed }
func (Greeting) inboundType() string             { return TypeGreeting }
func (EmotionUpdate) inboundType() string        { return TypeEmotionUpdate }
func (UserText) inboundType() string             { return TypeUserText }
func (Text) inboundType() string                 { return TypeText }
func (Reminders) inboundType() string            { return TypeReminders }
func (ReminderCreated) inboundType() string      { return TypeReminderCreated }
func (ReminderNotification) inboundType() string { return TypeReminderNotification }
func (ReminderCompleted) inboundType() string    { return TypeReminderCompleted }
func (ReminderDeleted) inboundType() string      { return TypeReminderDeleted }
func (Conversations) inboundType() string        { return TypeConversations }
func (TitleUpdated) inboundType() string         { return TypeTitleUpdated }
func (ConversationCreated) inboundType() string  { return TypeConversationCreated }
func (Messages) inboundType() string             { return TypeMessages }
func (AudioFollows) inboundType() string         { return TypeAudio }
func (Log) inboundType() string                  { return TypeLog }
func (u Unknown) inboundType() string            { return u.Type }

// TypeOf returns the wire type of an inbound message.
func TypeOf(msg Inbound) string {
	if msg == nil {
		return ""
	}
	return msg.inboundType()
}

// Outbound is a control message sent to the brain.
type Outbound interface {
	OutboundType() string
}

// OutboundType implements Outbound for every message embedding BaseMessage.
func (b BaseMessage) OutboundType() string { return b.Type }

// ConversationRequest is used by get_messages and generate_title.
type ConversationRequest struct {
	BaseMessage
	ConversationID int64 `json:"conversation_id"`
}

// CreateConversationMessage asks the brain to open a new conversation.
type CreateConversationMessage struct {
	BaseMessage
	Title string `json:"title"`
}

// RegisterUserMessage submits the registration form.
type RegisterUserMessage struct {
	BaseMessage
	domain.Profile
}

// RegisterUserOldMessage is the name-only registration kept for older brains.
type RegisterUserOldMessage struct {
	BaseMessage
	Name string `json:"name"`
}

// CreateReminderMessage asks the brain to create a reminder.
type CreateReminderMessage struct {
	BaseMessage
	Title        string `json:"title"`
	Description  string `json:"description"`
	ReminderTime string `json:"reminder_time"`
}

// ReminderRequest is used by complete_reminder and delete_reminder.
type ReminderRequest struct {
	BaseMessage
	ReminderID int64 `json:"reminder_id"`
}

func base(t string) BaseMessage { return BaseMessage{Type: t} }

func GetConversations() Outbound { return base(TypeGetConversations) }
func MuteMic() Outbound          { return base(TypeMuteMic) }
func UnmuteMic() Outbound        { return base(TypeUnmuteMic) }
func ResetGreeting() Outbound    { return base(TypeResetGreeting) }
func GetReminders() Outbound     { return base(TypeGetReminders) }

func GetMessages(conversationID int64) Outbound {
	return ConversationRequest{BaseMessage: base(TypeGetMessages), ConversationID: conversationID}
}

func GenerateTitle(conversationID int64) Outbound {
	return ConversationRequest{BaseMessage: base(TypeGenerateTitle), ConversationID: conversationID}
}

func CreateConversation(title string) Outbound {
	return CreateConversationMessage{BaseMessage: base(TypeCreateConversation), Title: title}
}

func RegisterUser(p domain.Profile) Outbound {
	return RegisterUserMessage{BaseMessage: base(TypeRegisterUser), Profile: p}
}

func RegisterUserOld(name string) Outbound {
	return RegisterUserOldMessage{BaseMessage: base(TypeRegisterUserOld), Name: name}
}

func CreateReminder(title, description, reminderTime string) Outbound {
	return CreateReminderMessage{
		BaseMessage:  base(TypeCreateReminder),
		Title:        title,
		Description:  description,
		ReminderTime: reminderTime,
	}
}

func CompleteReminder(id int64) Outbound {
	return ReminderRequest{BaseMessage: base(TypeCompleteReminder), ReminderID: id}
}

func DeleteReminder(id int64) Outbound {
	return ReminderRequest{BaseMessage: base(TypeDeleteReminder), ReminderID: id}
}
