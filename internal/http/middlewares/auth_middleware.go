package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mapfederate/procgate/internal/auth"
)

// Auth resolves the caller's subject from a bearer token. Requests
// without a token proceed anonymously; per-process role checks decide
// what anonymous callers may touch.
func Auth(verifier *auth.Verifier) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")

		if verifier == nil || !strings.HasPrefix(header, "Bearer ") {
			ctx.Set(CtxSubject, auth.Subject{Anonymous: true})
			ctx.Next()
			return
		}

		sub, err := verifier.Verify(strings.TrimPrefix(header, "Bearer "))

		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"type":   "about:blank",
				"title":  "Unauthorized",
				"status": http.StatusUnauthorized,
				"detail": "invalid bearer token",
			})
			return
		}

		ctx.Set(CtxSubject, sub)
		ctx.Set(CtxUserID, sub.ID)
		ctx.Next()
	}
}
