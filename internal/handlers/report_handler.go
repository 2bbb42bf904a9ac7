package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fanclub/backend/internal/models"
	"github.com/fanclub/backend/internal/reports"
)

type ReportHandler struct {
	queue *reports.Queue
}

func NewReportHandler(queue *reports.Queue) *ReportHandler {
	return &ReportHandler{queue: queue}
}

func (h *ReportHandler) SubmitReport(c *gin.Context) {
	var req models.SubmitReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.queue.Submit(c.Request.Context(), currentUser(c), req)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, report)
}

// ListPending returns the group's open reports for its moderators
func (h *ReportHandler) ListPending(c *gin.Context) {
	groupID, ok := paramID(c, "group_id")
	if !ok {
		return
	}

	pending, err := h.queue.ListPending(c.Request.Context(), currentUser(c), groupID)
	if err != nil {
		RespondError(c, err)
		return
	}
	if pending == nil {
		pending = []models.Report{}
	}

	c.JSON(http.StatusOK, pending)
}

func (h *ReportHandler) ResolveReport(c *gin.Context) {
	reportID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req models.ResolveReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.queue.Resolve(c.Request.Context(), reportID, currentUser(c), req.Outcome)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}
