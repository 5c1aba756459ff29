// Package ginmiddleware wires reqlog into a gin router: one scope per
// HTTP request, bound via the ContextBackend so a handler that hands
// its request context off to a worker goroutine can still Adopt the
// same frame there. Grounded on AleutianLocal's middleware.AuthMiddleware
// (gin.HandlerFunc closure, c.Next() to continue the chain).
package ginmiddleware

import (
	"github.com/gin-gonic/gin"

	"reqlog"
	"reqlog/internal/ctxstack"
)

// Middleware begins a reqlog scope per request and finishes it once the
// handler chain returns, faulting the scope if gin recorded any errors
// during the request. backend must be the same *ctxstack.ContextBackend
// passed to reqlog.Initialize via WithContextBackend, so requests don't
// interfere with each other's ambient record.
func Middleware(backend *ctxstack.ContextBackend) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, done := backend.WithFrame(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		defer done()

		h := reqlog.BeginGlobalLogRecord(map[string]any{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		})

		c.Next()

		reqlog.LogValue(map[string]any{"status": c.Writer.Status()})
		if len(c.Errors) > 0 {
			reqlog.FinishGlobalLogRecord(c.Errors.Last())
			return
		}
		h.Close()
	}
}
