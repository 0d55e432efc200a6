package domain

import "time"

// TimelineEventType enumerates the kinds of lifecycle facts recorded for a case.
type TimelineEventType string

const (
	EventSubmitted            TimelineEventType = "submitted"
	EventAssigned             TimelineEventType = "assigned"
	EventReassigned           TimelineEventType = "reassigned"
	EventUnassigned           TimelineEventType = "unassigned"
	EventInvestigationStarted TimelineEventType = "investigation_started"
	EventStatusChanged        TimelineEventType = "status_changed"
	EventEscalated            TimelineEventType = "escalated"
	EventClosed               TimelineEventType = "closed"
	EventReopened             TimelineEventType = "reopened"
)

// Label returns the human-readable event label used by timeline views.
func (t TimelineEventType) Label() string {
	switch t {
	case EventSubmitted:
		return "Case submitted"
	case EventAssigned:
		return "Case assigned"
	case EventReassigned:
		return "Case reassigned"
	case EventUnassigned:
		return "Case unassigned"
	case EventInvestigationStarted:
		return "Investigation started"
	case EventStatusChanged:
		return "Status changed"
	case EventEscalated:
		return "Case escalated"
	case EventClosed:
		return "Case closed"
	case EventReopened:
		return "Case reopened"
	default:
		return string(t)
	}
}

// ActorType identifies who caused a timeline event.
type ActorType string

const (
	ActorUser     ActorType = "user"
	ActorSystem   ActorType = "system"
	ActorReporter ActorType = "reporter"
)

// Actor is the originator of a change. A nil ID means system generated.
type Actor struct {
	ID   *string
	Type ActorType
}

// SystemActor is used for scanner and executor writes.
var SystemActor = Actor{Type: ActorSystem}

// UserActor builds an actor for a directory user.
func UserActor(userID string) Actor {
	return Actor{ID: &userID, Type: ActorUser}
}

// FieldChange is an old/new value pair recorded on status-change events.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// TimelineEvent is an immutable fact about a case's history.
// Durations are whole minutes, computed once at write time.
type TimelineEvent struct {
	ID            string
	CaseID        string
	CompanyID     string
	BranchID      *string
	EventType     TimelineEventType
	Stage         Stage
	PreviousStage *Stage
	ActorID       *string
	ActorType     ActorType
	AssignedToID  *string
	EscalatedToID *string
	EventAt       time.Time

	DurationFromPrevious int64
	DurationInStage      int64
	TotalCaseDuration    int64

	IsEscalation     bool
	EscalationLevel  int
	EscalationReason *string
	EscalationRuleID *string

	SLABreached         bool
	SLADeadline         *time.Time
	SLARemainingMinutes *int64

	IsInternal          bool
	IsVisibleToReporter bool

	Title       string
	Description string
	Metadata    map[string]any
	Changes     map[string]FieldChange

	Seq       int64
	CreatedAt time.Time
}
