package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingType is returned for a JSON object without a type discriminator.
var ErrMissingType = errors.New("message has no type")

// Decode parses a text frame into its inbound variant. Unrecognized types
// decode to Unknown rather than failing.
func Decode(data []byte) (Inbound, error) {
	var baseMsg BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		return nil, fmt.Errorf("invalid JSON message: %w", err)
	}
	if baseMsg.Type == "" {
		return nil, ErrMissingType
	}

	switch baseMsg.Type {
	case TypeShowRegistration:
		return ShowRegistration{}, nil
	case TypeHideRegistration:
		return HideRegistration{}, nil
	case TypeUserLoggedIn:
		return decodeAs[UserLoggedIn](data)
	case TypeRegistrationSuccess:
		return decodeAs[RegistrationSuccess](data)
	case TypeRegistrationFailed:
		return decodeAs[RegistrationFailed](data)
	case TypeGreeting:
		return decodeAs[Greeting](data)
	case TypeEmotionUpdate:
		return decodeAs[EmotionUpdate](data)
	case TypeUserText:
		return decodeAs[UserText](data)
	case TypeText:
		return decodeAs[Text](data)
	case TypeReminders:
		return decodeAs[Reminders](data)
	case TypeReminderCreated:
		return decodeAs[ReminderCreated](data)
	case TypeReminderNotification:
		return decodeAs[ReminderNotification](data)
	case TypeReminderCompleted:
		return decodeAs[ReminderCompleted](data)
	case TypeReminderDeleted:
		return decodeAs[ReminderDeleted](data)
	case TypeConversations:
		return decodeAs[Conversations](data)
	case TypeTitleUpdated:
		return decodeAs[TitleUpdated](data)
	case TypeConversationCreated:
		return decodeAs[ConversationCreated](data)
	case TypeMessages:
		return decodeAs[Messages](data)
	case TypeAudio:
		return decodeAs[AudioFollows](data)
	case TypeLog:
		return decodeAs[Log](data)
	default:
		return Unknown{Type: baseMsg.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

func decodeAs[T Inbound](data []byte) (Inbound, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		var zero T
		return nil, fmt.Errorf("invalid %s message: %w", zero.inboundType(), err)
	}
	return msg, nil
}

// Encode serializes an outbound message.
func Encode(msg Outbound) ([]byte, error) {
	if msg == nil || msg.OutboundType() == "" {
		return nil, ErrMissingType
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.OutboundType(), err)
	}
	return data, nil
}
