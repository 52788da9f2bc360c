package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/aura/aura/internal/platform/auth"
)

// ConsultationIDKey is the echo context key under which handlers record the
// consultation a request acted on, so the access log can be joined with the
// agent's turn logs.
const ConsultationIDKey = "consultation_id"

// Logger writes one access line per request: 5xx at error, 4xx at warn,
// everything else at info.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				// Let echo write the error so the logged status is the real one.
				c.Error(err)
			}

			res := c.Response()
			var evt *zerolog.Event
			switch {
			case res.Status >= 500:
				evt = logger.Error()
			case res.Status >= 400:
				evt = logger.Warn()
			default:
				evt = logger.Info()
			}
			if err != nil {
				evt = evt.Err(err)
			}

			req := c.Request()
			rid, _ := c.Get("request_id").(string)
			evt = evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("route", c.Path()).
				Str("path", req.URL.Path).
				Int("status", res.Status).
				Int64("bytes", res.Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())
			if p, ok := auth.PrincipalFromContext(req.Context()); ok {
				evt = evt.Int64("user_id", p.UserID).Str("role", p.Role)
			}
			if id, ok := c.Get(ConsultationIDKey).(int64); ok {
				evt = evt.Int64("consultation_id", id)
			}
			evt.Msg("request")
			return nil
		}
	}
}
