package middleware

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/outreach/internal/repository"
	echo "github.com/labstack/echo/v4"
)

const (
	ctxOwnerID  = "owner_id"
	ctxOwnerRPS = "owner_rps"
)

// OwnerIDFromCtx extracts the authenticated owner id set by APIKeyMiddleware.
func OwnerIDFromCtx(c echo.Context) (int64, bool) {
	id, ok := c.Get(ctxOwnerID).(int64)
	return id, ok && id > 0
}

// APIKeyMiddleware authenticates requests using the X-API-Key header and
// rejects suspended owners.
func APIKeyMiddleware(owners repository.OwnersRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			o, err := owners.GetByAPIKey(c.Request().Context(), key)
			if err != nil {
				c.Logger().Errorf("owner lookup failed: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
			}
			if o == nil || o.Status != "active" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			c.Set(ctxOwnerID, o.ID)
			if o.RateLimitRPS != nil {
				c.Set(ctxOwnerRPS, *o.RateLimitRPS)
			}
			return next(c)
		}
	}
}
