package gateway

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/agentgateway/internal/audit"
	"github.com/vyrodovalexey/agentgateway/internal/observability"
)

// auditStateKey is the gin context key of the per-request audit state.
const auditStateKey = "gateway.audit"

// auditState collects what handlers learn about a request before it is
// recorded.
type auditState struct {
	userID     string
	username   string
	department string
	method     string
	reason     string
	recorded   bool

	// onPanic writes the response for a recovered panic.
	onPanic func(c *gin.Context)
}

func stateFrom(c *gin.Context) *auditState {
	if v, ok := c.Get(auditStateKey); ok {
		if s, ok := v.(*auditState); ok {
			return s
		}
	}
	// Handlers run without the audit middleware in some tests.
	s := &auditState{}
	c.Set(auditStateKey, s)
	return s
}

func (s *auditState) setIdentity(userID, username, department string) {
	s.userID = userID
	s.username = username
	s.department = department
}

// auditMiddleware records exactly one audit entry for every request it
// wraps, including requests whose handler panicked.
func auditMiddleware(
	recorder audit.Recorder,
	surface audit.Surface,
	logger observability.Logger,
	skipPaths ...string,
) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		state := &auditState{}
		c.Set(auditStateKey, state)

		defer func() {
			if rec := recover(); rec != nil {
				logger.WithContext(c.Request.Context()).Error("handler panic",
					observability.Any("panic", rec),
					observability.String("path", c.Request.URL.Path),
					observability.String("stack", string(debug.Stack())),
				)
				state.reason = fmt.Sprintf("panic: %v", rec)
				if !c.Writer.Written() {
					if state.onPanic != nil {
						state.onPanic(c)
					} else {
						writeError(c, newError(KindInternal, "Internal server error"))
					}
				}
				c.Abort()
			}
			record(c, recorder, surface, state, start)
		}()

		c.Next()
	}
}

func record(c *gin.Context, recorder audit.Recorder, surface audit.Surface, s *auditState, start time.Time) {
	if s.recorded {
		return
	}
	s.recorded = true

	method := s.method
	if method == "" {
		method = c.Request.Method
	}

	entry := &audit.Entry{
		Surface:    surface,
		UserID:     s.userID,
		Username:   s.username,
		Department: s.department,
		Method:     method,
		Path:       c.Request.URL.Path,
		StatusCode: c.Writer.Status(),
		Error:      s.reason,
		ClientIP:   c.ClientIP(),
	}
	entry.SetDuration(time.Since(start))
	recorder.Record(c.Request.Context(), entry)
}

// writeError aborts the request with err and keeps its audit reason.
func writeError(c *gin.Context, err *Error) {
	stateFrom(c).reason = err.auditReason()
	_ = c.Error(err)
	c.AbortWithStatusJSON(err.Kind.HTTPStatus(), gin.H{
		"error":   err.Kind.code(),
		"message": err.Message,
	})
}
