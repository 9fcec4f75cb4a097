package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/LCodingX/influence-dashboard/internal/influence"
	"github.com/LCodingX/influence-dashboard/internal/requestdata"
	"github.com/LCodingX/influence-dashboard/internal/services"
	"github.com/LCodingX/influence-dashboard/internal/types"
)

type JobHandler struct {
	orchestrator services.JobOrchestrator
}

func NewJobHandler(orchestrator services.JobOrchestrator) *JobHandler {
	return &JobHandler{orchestrator: orchestrator}
}

// POST /api/train
func (h *JobHandler) SubmitTrain(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	var cfg types.TrainConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}

	job, err := h.orchestrator.Submit(c.Request.Context(), rd.UserID, cfg)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}

// GET /api/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	jobs, err := h.orchestrator.List(c.Request.Context(), rd.UserID, limit)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"jobs": jobs})
}

// GET /api/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}

	job, warning, err := h.orchestrator.Poll(c.Request.Context(), rd.UserID, jobID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	resp := gin.H{"job": job}
	if warning != "" {
		resp["warning"] = warning
	}
	RespondOK(c, resp)
}

// GET /api/jobs/:id/results
func (h *JobHandler) GetResults(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}

	results, err := h.orchestrator.Results(c.Request.Context(), rd.UserID, jobID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}

	resp := gin.H{"results": json.RawMessage(results)}
	if summary, histogram, ok := deriveInfluenceViews(results); ok {
		resp["influence_summary"] = summary
		resp["influence_histogram"] = histogram
	}
	RespondOK(c, resp)
}

// deriveInfluenceViews recomputes the dashboard's summary and distribution
// views from the stored results document. A payload whose matrix does not
// validate still serves raw results, just without the derived views.
func deriveInfluenceViews(results []byte) (influence.Summary, []influence.HistogramBin, bool) {
	var payload types.ResultsPayload
	if err := json.Unmarshal(results, &payload); err != nil {
		return influence.Summary{}, nil, false
	}
	matrix := influence.Matrix{
		TrainingLabels: payload.Influence.TrainingLabels,
		EvalLabels:     payload.Influence.EvalLabels,
		Scores:         payload.Influence.Scores,
	}
	summary, err := influence.Summarize(matrix)
	if err != nil {
		return influence.Summary{}, nil, false
	}
	histogram, err := influence.BuildHistogram(matrix, influence.DefaultHistogramBins)
	if err != nil {
		return influence.Summary{}, nil, false
	}
	return summary, histogram, true
}

// GET /api/jobs/:id/logs?after=N&limit=M
func (h *JobHandler) GetLogs(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	after, err := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil || after < 0 {
		RespondError(c, http.StatusBadRequest, "invalid_after_cursor", err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	entries, err := h.orchestrator.Logs(c.Request.Context(), rd.UserID, jobID, after, limit)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	next := after
	if len(entries) > 0 {
		next = entries[len(entries)-1].Seq
	}
	RespondOK(c, gin.H{"entries": entries, "next_after": next})
}

// POST /api/jobs/:id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}

	job, err := h.orchestrator.Cancel(c.Request.Context(), rd.UserID, jobID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}
