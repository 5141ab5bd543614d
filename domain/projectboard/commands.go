package projectboard

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Command type names for the project aggregate
const (
	CommandCreateProject  = "project.create"
	CommandAddTask        = "project.add_task"
	CommandArchiveProject = "project.archive"
)

// CreateProject starts a new project board
type CreateProject struct {
	ProjectID string `json:"project_id" validate:"required"`
	Name      string `json:"name" validate:"required"`
}

func (c CreateProject) GetAggregateID() string { return c.ProjectID }
func (c CreateProject) GetCommandType() string { return CommandCreateProject }
func (c CreateProject) Validate() error        { return validate.Struct(c) }

// AddTask adds a task to an existing project
type AddTask struct {
	ProjectID string `json:"project_id" validate:"required"`
	TaskID    string `json:"task_id" validate:"required"`
	Title     string `json:"title" validate:"required"`
}

func (c AddTask) GetAggregateID() string { return c.ProjectID }
func (c AddTask) GetCommandType() string { return CommandAddTask }
func (c AddTask) Validate() error        { return validate.Struct(c) }

// ArchiveProject retires a project from the active set
type ArchiveProject struct {
	ProjectID string `json:"project_id" validate:"required"`
	Reason    string `json:"reason"`
}

func (c ArchiveProject) GetAggregateID() string { return c.ProjectID }
func (c ArchiveProject) GetCommandType() string { return CommandArchiveProject }
func (c ArchiveProject) Validate() error        { return validate.Struct(c) }
