package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/outreach/internal/http/middleware"
	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmehdipour/outreach/internal/repository"
	"github.com/jmehdipour/outreach/internal/service/runs"
	echo "github.com/labstack/echo/v4"
)

func listRecipientsHandler(chRepo repository.CHRecipientsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		ownerID, ok := middleware.OwnerIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		kind, err := model.ParseKind(c.QueryParam("kind"))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "kind must be invite or send"})
		}

		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		var st model.Status
		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			st = model.Status(strings.ToLower(raw))
			if !kind.Allows(st) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid status for kind"})
			}
		}

		rows, err := chRepo.ListByOwner(c.Request().Context(), ownerID, kind, st, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"kind":    kind,
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}

func recipientSummaryHandler(svc *runs.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		ownerID, ok := middleware.OwnerIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		sum, err := svc.RecipientSummary(c.Request().Context(), ownerID)
		if err != nil {
			c.Logger().Errorf("recipient summary failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		return c.JSON(http.StatusOK, sum)
	}
}
