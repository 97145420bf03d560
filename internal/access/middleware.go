package access

import (
	"github.com/gin-gonic/gin"

	"github.com/graham924/blog-feng-yu/internal/metrics"
	"github.com/graham924/blog-feng-yu/pkg/log"
	"github.com/graham924/blog-feng-yu/pkg/middleware"
	"github.com/graham924/blog-feng-yu/pkg/response"
)

// Middleware enforces engine decisions. It must run after the auth
// middleware has identified the caller.
func Middleware(e *Engine, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := e.Decide(c.Request.URL.Path, c.Request.Method, Subject{
			UserID: middleware.GetUserID(c),
			Roles:  middleware.GetRoles(c),
		})
		m.AccessDecision(d.Outcome.String())

		if d.Outcome == Allow {
			c.Next()
			return
		}

		l := log.Ctx(c.Request.Context())
		l.Info().
			Str(log.FieldOutcome, d.Outcome.String()).
			Str(log.FieldRuleID, d.Rule.ID).
			Str(log.FieldPath, c.Request.URL.Path).
			Msg("access denied")

		switch d.Outcome {
		case Unauthenticated:
			response.Unauthorized(c, ErrUnauthenticated.Error())
		default:
			response.Forbidden(c, ErrForbidden.Error())
		}
	}
}
