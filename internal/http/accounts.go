package http

import (
	"net/http"
	"strconv"

	"github.com/jmehdipour/outreach/internal/http/middleware"
	"github.com/jmehdipour/outreach/internal/service/runs"
	"github.com/labstack/echo/v4"
)

func accountIDParam(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

func stopAccountHandler(svc *runs.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		ownerID, ok := middleware.OwnerIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		accountID, ok := accountIDParam(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid account id"})
		}
		if err := svc.RequestStop(c.Request().Context(), ownerID, accountID); err != nil {
			return runError(c, err)
		}
		return c.JSON(http.StatusAccepted, map[string]any{"stop_requested": true, "account_id": accountID})
	}
}

func accountStatusHandler(svc *runs.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		ownerID, ok := middleware.OwnerIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		accountID, ok := accountIDParam(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid account id"})
		}
		st, err := svc.AccountStatus(c.Request().Context(), ownerID, accountID)
		if err != nil {
			return runError(c, err)
		}
		return c.JSON(http.StatusOK, st)
	}
}
