package session

// UI event types published to the presentation layer.
const (
	EventState           = "state"
	EventSnapshot        = "snapshot"
	EventAlert           = "alert"
	EventNotification    = "reminder_notification"
	EventMessageAppended = "message_appended"
	EventMessages        = "messages"
	EventConversations   = "conversations"
	EventReminders       = "reminders"
	EventScanProgress    = "scan_progress"
	EventScanEnded       = "scan_ended"
	EventChannelClosed   = "channel_closed"
	EventLevel           = "level"
)

// Event is one UI event.
type Event struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Ts        int64       `json:"ts"`
	Data      interface{} `json:"data,omitempty"`
}

// EventSink receives UI events. Publish must not block.
type EventSink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ev Event)

// Publish implements EventSink.
func (f SinkFunc) Publish(ev Event) { f(ev) }

// Alert is an inline user-facing message.
type Alert struct {
	Message string `json:"message"`
}

// ScanUpdate is the payload of scan events.
type ScanUpdate struct {
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	Message     string `json:"message"`
}
