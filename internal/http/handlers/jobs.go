package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/mapfederate/procgate/internal/domain/job"
	"github.com/mapfederate/procgate/internal/http/middlewares"
	"github.com/mapfederate/procgate/internal/jobs"
	"github.com/mapfederate/procgate/internal/ogcerr"
)

var validate = validator.New()

type JobsHandler struct {
	jm *jobs.Manager
}

func NewJobsHandler(jm *jobs.Manager) *JobsHandler {
	return &JobsHandler{jm: jm}
}

func (h *JobsHandler) List(ctx *gin.Context) {
	sub := subjectFrom(ctx)

	f := jobs.ListFilter{
		ProcessID: ctx.Query("processID"),
		UserID:    sub.ID,
	}

	if status := ctx.Query("status"); status != "" {
		st := job.Status(status)

		if !st.IsValid() {
			RespondOGCError(ctx, ogcerr.New(ogcerr.KindInvalidUsage, fmt.Sprintf("unknown status %q", status)))
			return
		}

		f.Status = st
	}

	f.Page, _ = strconv.Atoi(ctx.DefaultQuery("page", "1"))
	f.Limit, _ = strconv.Atoi(ctx.DefaultQuery("limit", "10"))

	list, total, err := h.jm.ListJobs(ctx.Request.Context(), f)

	if err != nil {
		RespondOGCError(ctx, ogcerr.Wrap(ogcerr.KindInternal, "list jobs", err))
		return
	}

	snapshots := make([]*job.StatusInfo, 0, len(list))
	for _, j := range list {
		snapshots = append(snapshots, j.StatusInfo)
	}

	links := []job.Link{
		{Href: fmt.Sprintf("/jobs?page=%d&limit=%d", f.Page, f.Limit), Rel: "self", Type: "application/json"},
	}

	if f.Page*f.Limit < total {
		links = append(links, job.Link{
			Href: fmt.Sprintf("/jobs?page=%d&limit=%d", f.Page+1, f.Limit),
			Rel:  "next",
			Type: "application/json",
		})
	}

	if f.Page > 1 {
		links = append(links, job.Link{
			Href: fmt.Sprintf("/jobs?page=%d&limit=%d", f.Page-1, f.Limit),
			Rel:  "prev",
			Type: "application/json",
		})
	}

	ctx.JSON(http.StatusOK, gin.H{
		"jobs":        snapshots,
		"links":       links,
		"total_count": total,
	})
}

func (h *JobsHandler) Get(ctx *gin.Context) {
	id := ctx.Param("id")
	ctx.Set(middlewares.CtxJobID, id)

	j, err := h.jm.GetJob(ctx.Request.Context(), id, subjectFrom(ctx).ID)

	if err != nil {
		RespondOGCError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, j.StatusInfo)
}

func (h *JobsHandler) Results(ctx *gin.Context) {
	id := ctx.Param("id")
	ctx.Set(middlewares.CtxJobID, id)

	res, err := h.jm.GetResults(ctx.Request.Context(), id, subjectFrom(ctx).ID)

	if err != nil {
		RespondOGCError(ctx, err)
		return
	}

	ctx.Data(http.StatusOK, res.ContentType, res.Raw)
}

func (h *JobsHandler) Inputs(ctx *gin.Context) {
	id := ctx.Param("id")
	ctx.Set(middlewares.CtxJobID, id)

	doc, err := h.jm.GetInputs(ctx.Request.Context(), id, subjectFrom(ctx).ID)

	if err != nil {
		RespondOGCError(ctx, err)
		return
	}

	ctx.Data(http.StatusOK, doc.ContentType, doc.Raw)
}

func (h *JobsHandler) History(ctx *gin.Context) {
	id := ctx.Param("id")

	history, err := h.jm.History(ctx.Request.Context(), id, subjectFrom(ctx).ID)

	if err != nil {
		RespondOGCError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"history": history})
}

type addCommentRequest struct {
	Body string `json:"body" validate:"required,min=1,max=4000"`
}

func (h *JobsHandler) AddComment(ctx *gin.Context) {
	var req addCommentRequest

	if err := ctx.ShouldBindJSON(&req); err != nil {
		RespondOGCError(ctx, ogcerr.Wrap(ogcerr.KindInvalidUsage, "request body must be a JSON object with a body field", err))
		return
	}

	if err := validate.Struct(req); err != nil {
		RespondOGCError(ctx, ogcerr.Wrap(ogcerr.KindInvalidUsage, "comment body must be 1-4000 characters", err))
		return
	}

	c, err := h.jm.AddComment(ctx.Request.Context(), ctx.Param("id"), subjectFrom(ctx).ID, req.Body)

	if err != nil {
		RespondOGCError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, c)
}

func (h *JobsHandler) ListComments(ctx *gin.Context) {
	comments, err := h.jm.ListComments(ctx.Request.Context(), ctx.Param("id"), subjectFrom(ctx).ID)

	if err != nil {
		RespondOGCError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"comments": comments})
}

type shareRequest struct {
	UserID string `json:"userId" validate:"required,min=1"`
}

func (h *JobsHandler) Share(ctx *gin.Context) {
	var req shareRequest

	if err := ctx.ShouldBindJSON(&req); err != nil {
		RespondOGCError(ctx, ogcerr.Wrap(ogcerr.KindInvalidUsage, "request body must carry a userId", err))
		return
	}

	if err := validate.Struct(req); err != nil {
		RespondOGCError(ctx, ogcerr.Wrap(ogcerr.KindInvalidUsage, "userId must not be empty", err))
		return
	}

	if err := h.jm.ShareJob(ctx.Request.Context(), ctx.Param("id"), subjectFrom(ctx).ID, req.UserID); err != nil {
		RespondOGCError(ctx, err)
		return
	}

	ctx.Status(http.StatusNoContent)
}

type createEnsembleRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

func (h *JobsHandler) CreateEnsemble(ctx *gin.Context) {
	var req createEnsembleRequest

	if err := ctx.ShouldBindJSON(&req); err != nil {
		RespondOGCError(ctx, ogcerr.Wrap(ogcerr.KindInvalidUsage, "request body must carry a name", err))
		return
	}

	if err := validate.Struct(req); err != nil {
		RespondOGCError(ctx, ogcerr.Wrap(ogcerr.KindInvalidUsage, "ensemble name must be 1-200 characters", err))
		return
	}

	e, err := h.jm.CreateEnsemble(ctx.Request.Context(), req.Name, req.Description, subjectFrom(ctx).ID)

	if err != nil {
		RespondOGCError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, e)
}

func (h *JobsHandler) ListEnsembles(ctx *gin.Context) {
	ensembles, err := h.jm.ListEnsembles(ctx.Request.Context(), subjectFrom(ctx).ID)

	if err != nil {
		RespondOGCError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"ensembles": ensembles})
}

func (h *JobsHandler) GetEnsemble(ctx *gin.Context) {
	e, err := h.jm.GetEnsemble(ctx.Request.Context(), ctx.Param("id"), subjectFrom(ctx).ID)

	if err != nil {
		RespondOGCError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, e)
}

type addEnsembleJobRequest struct {
	JobID string `json:"jobId" validate:"required,min=1"`
}

func (h *JobsHandler) AddEnsembleJob(ctx *gin.Context) {
	var req addEnsembleJobRequest

	if err := ctx.ShouldBindJSON(&req); err != nil {
		RespondOGCError(ctx, ogcerr.Wrap(ogcerr.KindInvalidUsage, "request body must carry a jobId", err))
		return
	}

	if err := validate.Struct(req); err != nil {
		RespondOGCError(ctx, ogcerr.Wrap(ogcerr.KindInvalidUsage, "jobId must not be empty", err))
		return
	}

	if err := h.jm.AddJobToEnsemble(ctx.Request.Context(), ctx.Param("id"), req.JobID, subjectFrom(ctx).ID); err != nil {
		RespondOGCError(ctx, err)
		return
	}

	ctx.Status(http.StatusNoContent)
}
