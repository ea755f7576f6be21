package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aq2208/portfolio-api/internal/adapter/http/middleware"
	"github.com/aq2208/portfolio-api/internal/tasks"
)

type TaskHandler struct {
	registry *tasks.Registry
}

func NewTaskHandler(registry *tasks.Registry) *TaskHandler {
	return &TaskHandler{registry: registry}
}

type createTaskReq struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Duration    int    `json:"duration" binding:"required"`
}

// POST /v1/tasks
func (h *TaskHandler) Create(c *gin.Context) {
	var req createTaskReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	t, err := h.registry.Submit(c.Request.Context(), middleware.Principal(c), tasks.SubmitInput{
		Name:        req.Name,
		Description: req.Description,
		Duration:    req.Duration,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Task created successfully", "task": newTaskView(t)})
}

// GET /v1/tasks
func (h *TaskHandler) List(c *gin.Context) {
	ts, err := h.registry.List(c.Request.Context(), middleware.Principal(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": mapSlice(ts, newTaskView)})
}

// GET /v1/tasks/:id
func (h *TaskHandler) Get(c *gin.Context) {
	t, err := h.registry.Get(c.Request.Context(), middleware.Principal(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": newTaskView(t)})
}

// POST /v1/tasks/:id/cancel
func (h *TaskHandler) Cancel(c *gin.Context) {
	t, err := h.registry.Cancel(c.Request.Context(), middleware.Principal(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task cancelled successfully", "task": newTaskView(t)})
}
