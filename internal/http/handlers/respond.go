package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/mapfederate/procgate/internal/auth"
	"github.com/mapfederate/procgate/internal/http/middlewares"
	"github.com/mapfederate/procgate/internal/ogcerr"
)

// RespondOGCError writes the error as an OGC exception document with
// the mapped status code.
func RespondOGCError(ctx *gin.Context, err error) {
	exc := ogcerr.ToException(err, ctx.Request.URL.Path)
	ctx.JSON(exc.Status, exc)
}

func subjectFrom(ctx *gin.Context) auth.Subject {
	v, ok := ctx.Get(middlewares.CtxSubject)

	if !ok {
		return auth.Subject{Anonymous: true}
	}

	sub, ok := v.(auth.Subject)

	if !ok {
		return auth.Subject{Anonymous: true}
	}

	return sub
}
