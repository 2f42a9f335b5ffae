package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mapfederate/procgate/internal/http/middlewares"
	"github.com/mapfederate/procgate/internal/ogcerr"
	"github.com/mapfederate/procgate/internal/processes"
)

type ProcessesHandler struct {
	pm *processes.Manager
}

func NewProcessesHandler(pm *processes.Manager) *ProcessesHandler {
	return &ProcessesHandler{pm: pm}
}

func (h *ProcessesHandler) List(ctx *gin.Context) {
	entries, err := h.pm.ListAll(ctx.Request.Context(), subjectFrom(ctx))

	if err != nil {
		RespondOGCError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"processes": entries})
}

func (h *ProcessesHandler) Get(ctx *gin.Context) {
	desc, err := h.pm.Get(ctx.Request.Context(), ctx.Param("id"), subjectFrom(ctx))

	if err != nil {
		RespondOGCError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, desc)
}

func (h *ProcessesHandler) Execute(ctx *gin.Context) {
	body := map[string]any{}

	if ctx.Request.Body != nil && ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&body); err != nil && err != io.EOF {
			RespondOGCError(ctx, ogcerr.Wrap(ogcerr.KindInvalidUsage, "request body must be a JSON object", err))
			return
		}
	}

	res, err := h.pm.Execute(ctx.Request.Context(), ctx.Param("id"), body, ctx.Request.Header, subjectFrom(ctx))

	if err != nil {
		RespondOGCError(ctx, err)
		return
	}

	ctx.Set(middlewares.CtxJobID, res.Job.ID)
	ctx.Header("Location", res.Location)
	ctx.JSON(http.StatusCreated, res.Body)
}
