package xlcan

import (
	"fmt"
	"time"
)

// EventType orders events by severity, lower is more severe.
type EventType int

const (
	EventTypeError EventType = iota
	EventTypeWarning
	EventTypeInfo
	EventTypeDebug
)

func (et EventType) String() string {
	switch et {
	case EventTypeError:
		return "ERROR"
	case EventTypeWarning:
		return "WARN"
	case EventTypeInfo:
		return "INFO"
	case EventTypeDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// Event is a non fatal condition reported by a Bus or a serial adapter.
type Event struct {
	Time    time.Time
	Source  string // "xl" for a Bus, "slcan" for a serial adapter
	Type    EventType
	Details string
}

func NewEvent(source string, t EventType, format string, a ...interface{}) Event {
	return Event{
		Time:    time.Now(),
		Source:  source,
		Type:    t,
		Details: fmt.Sprintf(format, a...),
	}
}

// AtLeast reports whether the event is as severe as level or more.
func (e Event) AtLeast(level EventType) bool {
	return e.Type <= level
}

func (e Event) String() string {
	if e.Source == "" {
		return fmt.Sprintf("[%s] %s", e.Type, e.Details)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Source, e.Details)
}
