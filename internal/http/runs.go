package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmehdipour/outreach/internal/http/middleware"
	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmehdipour/outreach/internal/service/runs"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

const maxMessageLen = 4096

type inviteRunReq struct {
	AccountID       int64 `json:"account_id"`
	ChannelID       int64 `json:"channel_id"`
	IntervalSeconds int   `json:"interval_seconds"`
}

type sendRunReq struct {
	AccountID       int64  `json:"account_id"`
	Message         string `json:"message"`
	MediaPath       string `json:"media_path"`
	Limit           int    `json:"limit"`
	IntervalSeconds int    `json:"interval_seconds"`
}

func startInviteRunHandler(svc *runs.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		ownerID, ok := middleware.OwnerIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		var req inviteRunReq
		if err := c.Bind(&req); err != nil || req.AccountID <= 0 || req.ChannelID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "account_id and channel_id are required"})
		}

		runID, err := svc.StartInviteRun(c.Request().Context(), ownerID, req.AccountID, req.ChannelID, req.IntervalSeconds)
		if err != nil {
			return runError(c, err)
		}
		return c.JSON(http.StatusAccepted, map[string]any{
			"queued":     true,
			"run_id":     runID,
			"kind":       model.KindInvite,
			"account_id": req.AccountID,
		})
	}
}

func startSendRunHandler(svc *runs.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		ownerID, ok := middleware.OwnerIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		var req sendRunReq
		if err := c.Bind(&req); err != nil || req.AccountID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "account_id is required"})
		}
		if utf8.RuneCountInString(strings.TrimSpace(req.Message)) > maxMessageLen {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "message too long"})
		}

		msg := model.Payload{Text: req.Message, MediaPath: req.MediaPath}
		runID, err := svc.StartSendRun(c.Request().Context(), ownerID, req.AccountID, msg, req.Limit, req.IntervalSeconds)
		if err != nil {
			return runError(c, err)
		}
		return c.JSON(http.StatusAccepted, map[string]any{
			"queued":     true,
			"run_id":     runID,
			"kind":       model.KindSend,
			"account_id": req.AccountID,
		})
	}
}

func getRunHandler(svc *runs.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		ownerID, ok := middleware.OwnerIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		run, err := svc.GetRun(c.Request().Context(), ownerID, c.Param("id"))
		if err != nil {
			return runError(c, err)
		}
		return c.JSON(http.StatusOK, run)
	}
}

// runError maps service errors onto API responses.
func runError(c echo.Context, err error) error {
	var cd *runs.CooldownError
	switch {
	case errors.As(err, &cd):
		retry := int(time.Until(cd.Until).Seconds()) + 1
		if retry < 1 {
			retry = 1
		}
		c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
		return c.JSON(http.StatusTooManyRequests, map[string]any{
			"error":          "cooldown",
			"cooldown_until": cd.Until.UTC(),
		})
	case errors.Is(err, runs.ErrAccountNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "account not found"})
	case errors.Is(err, runs.ErrChannelNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "channel not found"})
	case errors.Is(err, runs.ErrRunNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	case errors.Is(err, runs.ErrEmptyMessage):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is required"})
	}
	log.Errorf("run request failed: %v", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
