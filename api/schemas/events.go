package schemas

import "time"

// EventType enumerates the events pushed to operator clients.
type EventType string

const (
	EventLiveViewReady      EventType = "live-view-url-ready"
	EventProgress           EventType = "automation-progress"
	EventTargetsAchieved    EventType = "automation-targets-achieved"
	EventPaused             EventType = "automation-paused"
	EventResumed            EventType = "automation-resumed"
	EventComplete           EventType = "automation-complete"
	EventAutomationError    EventType = "automation-error"
	EventChallengeDetected  EventType = "challenge-detected"
	EventSessionClosed      EventType = "session-closed"
	EventStreamFrame        EventType = "stream-frame"
	EventSecondaryTabOpened EventType = "secondary-tab-opened"
	EventSecondaryTabClosed EventType = "secondary-tab-closed"
)

// Event is a single broadcast frame. Every connected subscriber receives
// every event; there is no per-subscriber filtering.
type Event struct {
	Type      EventType         `json:"type"`
	Step      string            `json:"step,omitempty"`
	Message   string            `json:"message,omitempty"`
	Counters  *Counters         `json:"counters,omitempty"`
	Status    *AutomationStatus `json:"status,omitempty"`
	Payload   any               `json:"payload,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, message string) Event {
	return Event{Type: t, Message: message, Timestamp: time.Now()}
}

// ManualAction enumerates the operator override commands accepted on the
// inbound side of the push channel.
type ManualAction string

const (
	ManualClick  ManualAction = "click"
	ManualType   ManualAction = "type"
	ManualScroll ManualAction = "scroll"
	ManualKey    ManualAction = "key"
)

// ManualCommand is an inbound operator message applied directly to the
// remote browser handle, regardless of what the engine loop is doing.
type ManualCommand struct {
	Action ManualAction `json:"action"`
	X      float64      `json:"x,omitempty"`
	Y      float64      `json:"y,omitempty"`
	Text   string       `json:"text,omitempty"`
	DeltaY float64      `json:"deltaY,omitempty"`
	Key    string       `json:"key,omitempty"`
}

// RunSummary is the terminal payload broadcast once when a run ends.
type RunSummary struct {
	Counters  Counters          `json:"counters"`
	Targets   EngagementTargets `json:"targets"`
	Achieved  bool              `json:"achieved"`
	Duration  time.Duration     `json:"duration"`
	EndReason string            `json:"endReason"`
}
