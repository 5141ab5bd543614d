package projectboard

import "chronicle/domain/entity"

// Task is a unit of work tracked on a project board
type Task struct {
	ID    string `json:"id" validate:"required"`
	Title string `json:"title" validate:"required"`
	Done  bool   `json:"done"`
}

// ProjectState is the immutable state of a project aggregate
type ProjectState struct {
	Name  string `json:"name" validate:"required"`
	Tasks []Task `json:"tasks" validate:"dive"`
}

// ToBuilder returns a mutable copy of the state
func (s ProjectState) ToBuilder() entity.StateBuilder {
	tasks := make([]Task, len(s.Tasks))
	copy(tasks, s.Tasks)
	return &ProjectBuilder{name: s.Name, tasks: tasks}
}

// ProjectBuilder stages changes to a project state inside a transaction
type ProjectBuilder struct {
	name  string
	tasks []Task
}

// Build materializes the staged state
func (b *ProjectBuilder) Build() entity.State {
	tasks := make([]Task, len(b.tasks))
	copy(tasks, b.tasks)
	return ProjectState{Name: b.name, Tasks: tasks}
}

// SetName stages a new project name
func (b *ProjectBuilder) SetName(name string) { b.name = name }

// AddTask stages a new task
func (b *ProjectBuilder) AddTask(task Task) { b.tasks = append(b.tasks, task) }
