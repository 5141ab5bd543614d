package projectboard

import (
	"context"
	"encoding/json"
	"fmt"

	"chronicle/domain/aggregate"
	"chronicle/domain/entity"
	"chronicle/domain/events"
	pkgerrors "chronicle/pkg/errors"
)

// AggregateType identifies project aggregates in stores and locks
const AggregateType = "project"

// Appliers returns the event applier registry for the project aggregate
func Appliers() (*entity.ApplierSet, error) {
	set := entity.NewApplierSet()

	if err := set.Register(EventProjectCreated, func(b entity.StateBuilder, ev events.DomainEvent) error {
		created, ok := ev.(*ProjectCreated)
		if !ok {
			return fmt.Errorf("unexpected payload type %T for %s", ev, EventProjectCreated)
		}
		b.(*ProjectBuilder).SetName(created.Name)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := set.Register(EventTaskAdded, func(b entity.StateBuilder, ev events.DomainEvent) error {
		added, ok := ev.(*TaskAdded)
		if !ok {
			return fmt.Errorf("unexpected payload type %T for %s", ev, EventTaskAdded)
		}
		b.(*ProjectBuilder).AddTask(Task{ID: added.TaskID, Title: added.Title})
		return nil
	}); err != nil {
		return nil, err
	}

	if err := set.RegisterWithEffect(EventProjectArchived, func(b entity.StateBuilder, ev events.DomainEvent) error {
		if _, ok := ev.(*ProjectArchived); !ok {
			return fmt.Errorf("unexpected payload type %T for %s", ev, EventProjectArchived)
		}
		return nil
	}, entity.ArchiveEffect); err != nil {
		return nil, err
	}

	return set, nil
}

// Handlers returns the command handler registry for the project aggregate
func Handlers() (*aggregate.HandlerSet, error) {
	set := aggregate.NewHandlerSet()

	if err := set.Register(CommandCreateProject, func(ctx context.Context, state entity.State, cmd aggregate.Command) (aggregate.HandlerResult, error) {
		c := cmd.(CreateProject)
		if state.(ProjectState).Name != "" {
			return aggregate.NoEvents(), pkgerrors.NewBusinessRuleError("PROJECT_EXISTS",
				fmt.Sprintf("project %s already exists", c.ProjectID))
		}
		return aggregate.OneEvent(NewProjectCreated(c.ProjectID, c.Name)), nil
	}); err != nil {
		return nil, err
	}

	if err := set.Register(CommandAddTask, func(ctx context.Context, state entity.State, cmd aggregate.Command) (aggregate.HandlerResult, error) {
		c := cmd.(AddTask)
		project := state.(ProjectState)
		if project.Name == "" {
			return aggregate.NoEvents(), pkgerrors.NewNotFoundError("project")
		}
		for _, task := range project.Tasks {
			if task.ID == c.TaskID {
				return aggregate.NoEvents(), pkgerrors.NewBusinessRuleError("TASK_EXISTS",
					fmt.Sprintf("task %s already on project %s", c.TaskID, c.ProjectID))
			}
		}
		return aggregate.OneEvent(NewTaskAdded(c.ProjectID, c.TaskID, c.Title)), nil
	}); err != nil {
		return nil, err
	}

	if err := set.Register(CommandArchiveProject, func(ctx context.Context, state entity.State, cmd aggregate.Command) (aggregate.HandlerResult, error) {
		c := cmd.(ArchiveProject)
		if state.(ProjectState).Name == "" {
			return aggregate.NoEvents(), pkgerrors.NewNotFoundError("project")
		}
		return aggregate.OneEvent(NewProjectArchived(c.ProjectID, c.Reason)), nil
	}); err != nil {
		return nil, err
	}

	return set, nil
}

// Factory builds fresh project aggregate roots for the repository
func Factory() (func(id string) *aggregate.Root, error) {
	appliers, err := Appliers()
	if err != nil {
		return nil, err
	}
	handlers, err := Handlers()
	if err != nil {
		return nil, err
	}

	return func(id string) *aggregate.Root {
		return aggregate.NewRoot(id, ProjectState{}, appliers, handlers)
	}, nil
}

// DecodeState rehydrates a project snapshot state from its serialized form
func DecodeState(data []byte) (entity.State, error) {
	var state ProjectState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode project state: %w", err)
	}
	return state, nil
}
