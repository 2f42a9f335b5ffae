package middlewares

// Keys under which middlewares stash values on the gin context.
const (
	CtxRequestID = "requestID"
	CtxJobID     = "jobID"
	CtxUserID    = "userID"
	CtxSubject   = "subject"
)
