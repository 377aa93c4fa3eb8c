package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/UCLH-DHCT/emap-sub000/internal/platform/auth"
)

// Audit logs every read of patient data: who asked, for which identifier,
// and what they got back. The log line is the access record; the API itself
// is read-only.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			ctx := c.Request().Context()
			evt := logger.Info().
				Str("user_id", auth.UserIDFromContext(ctx)).
				Strs("roles", auth.RolesFromContext(ctx)).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", c.Response().Status).
				Time("at", time.Now().UTC())
			if rid, ok := c.Get("request_id").(string); ok {
				evt = evt.Str("request_id", rid)
			}
			if mrn := c.Param("mrn"); mrn != "" {
				evt = evt.Str("mrn", mrn)
			}
			if mrn := c.Param("mrnId"); mrn != "" {
				evt = evt.Str("mrn_id", mrn)
			}
			if enc := c.Param("encounter"); enc != "" {
				evt = evt.Str("encounter", enc)
			}
			evt.Msg("patient data access")

			return err
		}
	}
}
