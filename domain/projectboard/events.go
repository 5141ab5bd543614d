package projectboard

import "chronicle/domain/events"

// Event type names for the project aggregate
const (
	EventProjectCreated  = "project.created"
	EventTaskAdded       = "project.task_added"
	EventProjectArchived = "project.archived"
)

// ProjectCreated records that a project came into existence
type ProjectCreated struct {
	events.BaseEvent
	Name string `json:"name"`
}

// NewProjectCreated creates a ProjectCreated event
func NewProjectCreated(projectID, name string) *ProjectCreated {
	return &ProjectCreated{
		BaseEvent: events.BaseEvent{AggregateID: projectID, EventType: EventProjectCreated},
		Name:      name,
	}
}

// TaskAdded records that a task was added to a project
type TaskAdded struct {
	events.BaseEvent
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
}

// NewTaskAdded creates a TaskAdded event
func NewTaskAdded(projectID, taskID, title string) *TaskAdded {
	return &TaskAdded{
		BaseEvent: events.BaseEvent{AggregateID: projectID, EventType: EventTaskAdded},
		TaskID:    taskID,
		Title:     title,
	}
}

// ProjectArchived records that a project was archived
type ProjectArchived struct {
	events.BaseEvent
	Reason string `json:"reason,omitempty"`
}

// NewProjectArchived creates a ProjectArchived event
func NewProjectArchived(projectID, reason string) *ProjectArchived {
	return &ProjectArchived{
		BaseEvent: events.BaseEvent{AggregateID: projectID, EventType: EventProjectArchived},
		Reason:    reason,
	}
}

// RegisterCodec registers payload factories for every project event type
func RegisterCodec(codec *events.Codec) error {
	if err := codec.Register(EventProjectCreated, func() events.DomainEvent { return &ProjectCreated{} }); err != nil {
		return err
	}
	if err := codec.Register(EventTaskAdded, func() events.DomainEvent { return &TaskAdded{} }); err != nil {
		return err
	}
	return codec.Register(EventProjectArchived, func() events.DomainEvent { return &ProjectArchived{} })
}
