package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xiaot623/gogo/bridge/internal/domain"
	"github.com/xiaot623/gogo/bridge/internal/protocol"
)

func TestDispatch(t *testing.T) {
	alice := &domain.User{ID: 7, Username: "alice"}

	tests := []struct {
		name    string
		state   State
		msg     protocol.Inbound
		phase   Phase
		effects []Effect
	}{
		{
			name:    "show registration",
			state:   State{Phase: PhaseScanning},
			msg:     protocol.ShowRegistration{},
			phase:   PhaseRegistering,
			effects: []Effect{ResolveScanEffect{}},
		},
		{
			name:    "hide registration waits for greeting",
			state:   State{Phase: PhaseScanning},
			msg:     protocol.HideRegistration{},
			phase:   PhaseGreeting,
			effects: []Effect{ResolveScanEffect{}},
		},
		{
			name:    "hide registration keeps an active session",
			state:   State{Phase: PhaseActive, User: alice},
			msg:     protocol.HideRegistration{},
			phase:   PhaseActive,
			effects: []Effect{ResolveScanEffect{}},
		},
		{
			name:  "user logged in with nil conversations",
			state: State{Phase: PhaseScanning},
			msg:   protocol.UserLoggedIn{User: *alice},
			phase: PhaseActive,
			effects: []Effect{
				ResolveScanEffect{},
				ReplaceConversationsEffect{Conversations: []domain.Conversation{}},
			},
		},
		{
			name:    "emotion update keeps phase",
			state:   State{Phase: PhaseGreeting},
			msg:     protocol.EmotionUpdate{Emotion: "calm"},
			phase:   PhaseGreeting,
			effects: nil,
		},
		{
			name:    "user text",
			state:   State{Phase: PhaseActive},
			msg:     protocol.UserText{Content: "hi"},
			phase:   PhaseActive,
			effects: []Effect{AppendMessageEffect{Role: domain.RoleUser, Content: "hi"}},
		},
		{
			name:    "reminder created is informational",
			state:   State{Phase: PhaseActive, User: alice},
			msg:     protocol.ReminderCreated{ReminderID: 3},
			phase:   PhaseActive,
			effects: nil,
		},
		{
			name:    "reminder completed refetches for user",
			state:   State{Phase: PhaseActive, User: alice},
			msg:     protocol.ReminderCompleted{ReminderID: 3},
			phase:   PhaseActive,
			effects: []Effect{SendEffect{Msg: protocol.GetReminders()}},
		},
		{
			name:    "reminder completed without user",
			state:   State{Phase: PhaseIdle},
			msg:     protocol.ReminderCompleted{ReminderID: 3},
			phase:   PhaseIdle,
			effects: nil,
		},
		{
			name:    "audio announcement",
			state:   State{Phase: PhaseActive},
			msg:     protocol.AudioFollows{},
			phase:   PhaseActive,
			effects: nil,
		},
		{
			name:    "unknown type",
			state:   State{Phase: PhaseActive},
			msg:     protocol.Unknown{Type: "weather"},
			phase:   PhaseActive,
			effects: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, effects := Dispatch(tt.state, tt.msg)
			assert.Equal(t, tt.phase, got.Phase)
			assert.Equal(t, tt.effects, effects)
		})
	}
}

func TestDispatchMissedNotificationFallback(t *testing.T) {
	msg := protocol.ReminderNotification{
		Reminder: domain.Reminder{ID: 4, Title: "Stretch"},
		IsMissed: true,
	}

	st, effects := Dispatch(State{Phase: PhaseActive}, msg)

	assert.Equal(t, "Missed: Stretch", st.Notification.Title)
	assert.Equal(t, []Effect{
		NotifyEffect{Type: EventNotification, Data: *st.Notification},
		AppendMessageEffect{Role: domain.RoleAssistant, Content: "You missed a reminder: Stretch"},
	}, effects)
}

func TestDispatchDoesNotMutateInput(t *testing.T) {
	before := State{Phase: PhaseScanning}

	_, _ = Dispatch(before, protocol.ShowRegistration{})

	assert.Equal(t, PhaseScanning, before.Phase)
}

func TestNewConversationTitleThreshold(t *testing.T) {
	st := State{Phase: PhaseActive, ActiveConversationID: 9}

	_, effects := NewConversation(st, 1)
	assert.NotContains(t, effects, SendEffect{Msg: protocol.GenerateTitle(9)})

	_, effects = NewConversation(st, 2)
	assert.Equal(t, SendEffect{Msg: protocol.GenerateTitle(9)}, effects[0])

	_, effects = NewConversation(State{Phase: PhaseActive}, 4)
	assert.Equal(t, SendEffect{Msg: protocol.ResetGreeting()}, effects[2])
}

func TestGreetingWhileRegisteringKeepsForm(t *testing.T) {
	st, effects := Dispatch(State{Phase: PhaseRegistering}, protocol.Greeting{Content: "Hello there", Emotion: "happy"})

	assert.Equal(t, PhaseRegistering, st.Phase)
	assert.True(t, st.ShowRegistrationForm())
	assert.True(t, st.HasGreeted())
	assert.False(t, st.VoiceReady())
	assert.Equal(t, "happy", st.Emotion)
	assert.Equal(t, []Effect{
		ResolveScanEffect{},
		AppendMessageEffect{Role: domain.RoleAssistant, Content: "Hello there"},
	}, effects)

	st, _ = Dispatch(st, protocol.HideRegistration{})
	assert.Equal(t, PhaseActive, st.Phase)
	assert.False(t, st.Greeted)
}

func TestShowRegistrationRemembersGreeting(t *testing.T) {
	st, _ := Dispatch(State{Phase: PhaseActive}, protocol.ShowRegistration{})
	assert.Equal(t, PhaseRegistering, st.Phase)
	assert.True(t, st.HasGreeted())

	st, _ = NewConversation(st, 0)
	assert.Equal(t, PhaseRegistering, st.Phase)
	assert.False(t, st.HasGreeted())
}
