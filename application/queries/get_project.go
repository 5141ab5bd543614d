// Package queries holds the read side: query types, their handlers, and
// the view DTOs they return. Handlers rebuild views by replaying the
// aggregate; deployments with heavier read traffic put the caching
// middleware in front.
package queries

import (
	"context"

	"chronicle/application/queries/bus"
	"chronicle/application/repository"
	"chronicle/domain/projectboard"
	pkgerrors "chronicle/pkg/errors"
)

// GetProjectQuery requests the current view of a single project
type GetProjectQuery struct {
	ProjectID string `json:"project_id"`
}

// Validate implements bus.Query
func (q GetProjectQuery) Validate() error {
	if q.ProjectID == "" {
		return pkgerrors.NewValidationError("project id is required")
	}
	return nil
}

// TaskView is a task as exposed to readers
type TaskView struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

// ProjectView is the read model for a project
type ProjectView struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Version  int        `json:"version"`
	Archived bool       `json:"archived"`
	Tasks    []TaskView `json:"tasks"`
}

// NewGetProjectHandler builds the handler for GetProjectQuery. The view
// comes straight from the replayed aggregate; archived projects are not
// visible through this path.
func NewGetProjectHandler(projects *repository.AggregateRepository) bus.QueryHandler {
	return bus.QueryHandlerFunc(func(ctx context.Context, query bus.Query) (interface{}, error) {
		q, ok := query.(GetProjectQuery)
		if !ok {
			return nil, pkgerrors.NewValidationError("unexpected query type")
		}

		root, err := projects.Load(ctx, q.ProjectID)
		if err != nil {
			return nil, err
		}

		state := root.State().(projectboard.ProjectState)
		tasks := make([]TaskView, 0, len(state.Tasks))
		for _, task := range state.Tasks {
			tasks = append(tasks, TaskView{ID: task.ID, Title: task.Title, Done: task.Done})
		}

		return &ProjectView{
			ID:       root.ID(),
			Name:     state.Name,
			Version:  root.Version(),
			Archived: root.Flags().Archived,
			Tasks:    tasks,
		}, nil
	})
}
