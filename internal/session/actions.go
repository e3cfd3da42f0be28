package session

import (
	"errors"
	"log"
	"strings"

	"github.com/xiaot623/gogo/bridge/internal/domain"
	"github.com/xiaot623/gogo/bridge/internal/policy"
	"github.com/xiaot623/gogo/bridge/internal/protocol"
	"github.com/xiaot623/gogo/bridge/internal/transport"
)

var (
	ErrNameRequired        = errors.New("Please enter your name!")
	ErrReminderIncomplete  = errors.New("Please enter a title and a time for the reminder.")
	ErrInvalidConversation = errors.New("invalid conversation id")
	ErrInvalidReminder     = errors.New("invalid reminder id")
)

// ReminderInput is the reminder form payload.
type ReminderInput struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	ReminderTime string `json:"reminder_time"`
}

// guard evaluates the action policy. A denial is shown to the user as an
// alert and returned as a *DeniedError.
func (s *Session) guard(action string) error {
	if !s.started {
		return ErrNotStarted
	}
	if s.policy == nil {
		return nil
	}
	decision, err := s.policy.Evaluate(s.ctx, policy.Input{
		Action:      action,
		Phase:       s.state.Phase.String(),
		HasUser:     s.state.User != nil,
		ChannelOpen: s.channelOpen(),
	})
	if err != nil {
		// Fail open.
		log.Printf("[session] WARN: policy evaluation failed for %s: %v", action, err)
		return nil
	}
	if decision.Allow {
		return nil
	}
	s.metrics.ActionDenied(action)
	s.alert(decision.Reason)
	return &DeniedError{Action: action, Reason: decision.Reason}
}

func (s *Session) invalid(err error) error {
	s.alert(err.Error())
	return &ValidationError{Err: err}
}

// NewConversation closes the current conversation and asks the brain for a
// fresh one. The old conversation gets a title when it has at least one
// exchange.
func (s *Session) NewConversation() error {
	if err := s.guard(policy.ActionNewConversation); err != nil {
		return err
	}
	count, err := s.store.MessageCount(s.ctx)
	if err != nil {
		log.Printf("[session] WARN: failed to count messages: %v", err)
		count = 0
	}
	s.transition(NewConversation(s.state, count))
	log.Printf("[session] new conversation requested, waiting for greeting")
	return nil
}

// LoadConversation selects a conversation and fetches its messages.
func (s *Session) LoadConversation(id int64) error {
	if id <= 0 {
		return s.invalid(ErrInvalidConversation)
	}
	if err := s.guard(policy.ActionLoadConversation); err != nil {
		return err
	}
	s.state.ActiveConversationID = id
	s.send(protocol.GetMessages(id))
	s.publishState()
	return nil
}

// RefreshConversations asks the brain for the conversation list.
func (s *Session) RefreshConversations() error {
	if err := s.guard(policy.ActionRefreshConversations); err != nil {
		return err
	}
	s.send(protocol.GetConversations())
	return nil
}

// MuteMic asks the brain to stop listening.
func (s *Session) MuteMic() error {
	if err := s.guard(policy.ActionMuteMic); err != nil {
		return err
	}
	s.send(protocol.MuteMic())
	s.state.MicMuted = true
	s.publishState()
	return nil
}

// UnmuteMic asks the brain to listen again.
func (s *Session) UnmuteMic() error {
	if err := s.guard(policy.ActionUnmuteMic); err != nil {
		return err
	}
	s.send(protocol.UnmuteMic())
	s.state.MicMuted = false
	s.publishState()
	return nil
}

// OpenReminders opens the reminder panel. The mic is muted while the panel
// is open and the list is fetched for an identified user.
func (s *Session) OpenReminders() error {
	if !s.started {
		return ErrNotStarted
	}
	s.state.RemindersOpen = true
	s.state.MicMuted = true
	s.send(protocol.MuteMic())
	if s.state.User != nil {
		s.send(protocol.GetReminders())
	}
	s.publishState()
	return nil
}

// CloseReminders closes the reminder panel and unmutes the mic.
func (s *Session) CloseReminders() error {
	if !s.started {
		return ErrNotStarted
	}
	s.state.RemindersOpen = false
	s.state.MicMuted = false
	s.send(protocol.UnmuteMic())
	s.publishState()
	return nil
}

// CreateReminder sends a new reminder. The list refreshes on the next
// get_reminders.
func (s *Session) CreateReminder(in ReminderInput) error {
	if !s.started {
		return ErrNotStarted
	}
	in.Title = strings.TrimSpace(in.Title)
	in.ReminderTime = strings.TrimSpace(in.ReminderTime)
	if in.Title == "" || in.ReminderTime == "" {
		return s.invalid(ErrReminderIncomplete)
	}
	if err := s.guard(policy.ActionCreateReminder); err != nil {
		return err
	}
	s.send(protocol.CreateReminder(in.Title, strings.TrimSpace(in.Description), in.ReminderTime))
	return nil
}

// CompleteReminder marks a reminder done.
func (s *Session) CompleteReminder(id int64) error {
	if id <= 0 {
		return s.invalid(ErrInvalidReminder)
	}
	if err := s.guard(policy.ActionCompleteReminder); err != nil {
		return err
	}
	s.send(protocol.CompleteReminder(id))
	return nil
}

// DeleteReminder removes a reminder.
func (s *Session) DeleteReminder(id int64) error {
	if id <= 0 {
		return s.invalid(ErrInvalidReminder)
	}
	if err := s.guard(policy.ActionDeleteReminder); err != nil {
		return err
	}
	s.send(protocol.DeleteReminder(id))
	return nil
}

// Register submits the full registration form.
func (s *Session) Register(p domain.Profile) error {
	if !s.started {
		return ErrNotStarted
	}
	if err := p.Normalize(s.now()); err != nil {
		s.state.RegistrationError = err.Error()
		s.publishState()
		return s.invalid(err)
	}
	if err := s.guard(policy.ActionRegister); err != nil {
		return err
	}
	s.state.RegistrationError = ""
	s.send(protocol.RegisterUser(p))
	log.Printf("[session] registering %s", p.Username)
	s.publishState()
	return nil
}

// RegisterSimple submits a name-only registration.
func (s *Session) RegisterSimple(name string) error {
	if !s.started {
		return ErrNotStarted
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return s.invalid(ErrNameRequired)
	}
	if err := s.guard(policy.ActionRegisterSimple); err != nil {
		return err
	}
	s.send(protocol.RegisterUserOld(name))
	return nil
}

// CancelRegistration dismisses the registration form.
func (s *Session) CancelRegistration() error {
	if !s.started {
		return ErrNotStarted
	}
	if s.state.Phase == PhaseRegistering {
		s.state.leaveRegistration(PhaseIdle)
		s.metrics.PhaseEntered(s.state.Phase.String())
		s.publishState()
	}
	return nil
}

// DismissNotification hides the reminder notice.
func (s *Session) DismissNotification() error {
	if !s.started {
		return ErrNotStarted
	}
	s.state.Notification = nil
	s.publishState()
	return nil
}

// RetryScan restarts the identity scan after it ended without a result.
func (s *Session) RetryScan() error {
	if !s.started {
		return ErrNotStarted
	}
	if s.state.User != nil {
		return ErrAlreadyIdentified
	}
	if s.state.Phase == PhaseScanning {
		return nil
	}
	if s.camera == nil {
		s.alert(ErrNoCamera.Error())
		return ErrNoCamera
	}
	s.state.ScanMessage = ""
	s.beginScan()
	s.publishState()
	return nil
}

// SendVoice forwards one chunk of PCM to the brain.
func (s *Session) SendVoice(pcm []byte) error {
	if err := s.guard(policy.ActionSendVoice); err != nil {
		return err
	}
	if len(pcm) == 0 {
		return nil
	}
	if !s.channelOpen() {
		return transport.ErrChannelNotOpen
	}
	return s.channel.SendBinary(pcm)
}

// Logout tears the session down and starts a fresh one with a new scan.
func (s *Session) Logout() error {
	if !s.started {
		return ErrNotStarted
	}
	log.Printf("[session] logging out %s", s.state.UserName)
	s.Teardown()
	return s.Start()
}
