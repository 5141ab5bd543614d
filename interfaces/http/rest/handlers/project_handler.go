package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	cmdbus "chronicle/application/commands/bus"
	"chronicle/application/queries"
	querybus "chronicle/application/queries/bus"
	"chronicle/domain/projectboard"
	"chronicle/pkg/common"
	pkgerrors "chronicle/pkg/errors"
	"chronicle/pkg/utils"
)

// ProjectHandler handles project-related HTTP requests. Writes go
// through the command bus; reads go through the query bus.
type ProjectHandler struct {
	commandBus *cmdbus.CommandBus
	queryBus   *querybus.QueryBus
	errors     *pkgerrors.ErrorHandler
	logger     *zap.Logger
}

// NewProjectHandler creates a new project handler
func NewProjectHandler(
	commandBus *cmdbus.CommandBus,
	queryBus *querybus.QueryBus,
	logger *zap.Logger,
) *ProjectHandler {
	return &ProjectHandler{
		commandBus: commandBus,
		queryBus:   queryBus,
		errors:     pkgerrors.NewErrorHandler(logger),
		logger:     logger,
	}
}

// CreateProjectRequest represents the request body for creating a project
type CreateProjectRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

// CreateProjectResponse returns the identity of the new project
type CreateProjectResponse struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
}

// AddTaskRequest represents the request body for adding a task
type AddTaskRequest struct {
	Title string `json:"title" validate:"required,min=1,max=500"`
}

// AddTaskResponse returns the identity of the new task
type AddTaskResponse struct {
	ProjectID string `json:"projectId"`
	TaskID    string `json:"taskId"`
}

// ArchiveProjectRequest represents the request body for archiving
type ArchiveProjectRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// CreateProject handles POST /projects
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body: "+err.Error())
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		common.RespondError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}

	projectID := uuid.New().String()
	cmd := projectboard.CreateProject{ProjectID: projectID, Name: req.Name}

	if err := h.commandBus.Send(r.Context(), cmd); err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusCreated, CreateProjectResponse{
		ID:        projectID,
		CreatedAt: utils.NowRFC3339(),
	})
}

// AddTask handles POST /projects/{projectID}/tasks
func (h *ProjectHandler) AddTask(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req AddTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body: "+err.Error())
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		common.RespondError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}

	taskID := uuid.New().String()
	cmd := projectboard.AddTask{ProjectID: projectID, TaskID: taskID, Title: req.Title}

	if err := h.commandBus.Send(r.Context(), cmd); err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusCreated, AddTaskResponse{
		ProjectID: projectID,
		TaskID:    taskID,
	})
}

// ArchiveProject handles POST /projects/{projectID}/archive
func (h *ProjectHandler) ArchiveProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req ArchiveProjectRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			common.RespondError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body: "+err.Error())
			return
		}
		if err := utils.ValidateStruct(req); err != nil {
			common.RespondError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
			return
		}
	}

	cmd := projectboard.ArchiveProject{ProjectID: projectID, Reason: req.Reason}

	if err := h.commandBus.Send(r.Context(), cmd); err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

// GetProject handles GET /projects/{projectID}
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	result, err := h.queryBus.Ask(r.Context(), queries.GetProjectQuery{ProjectID: projectID})
	if err != nil {
		if errors.Is(err, pkgerrors.ErrAggregateNotFound) {
			common.RespondError(w, http.StatusNotFound, "NOT_FOUND", "Project not found")
			return
		}
		h.errors.Handle(w, r, err)
		return
	}

	view, ok := result.(*queries.ProjectView)
	if !ok {
		h.logger.Error("Unexpected query result type", zap.String("projectID", projectID))
		common.RespondError(w, http.StatusInternalServerError, "INTERNAL", "Internal server error")
		return
	}

	common.RespondJSON(w, http.StatusOK, view)
}
