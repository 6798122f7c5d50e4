package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/StorX2-0/Share-Tools/middleware"
	"github.com/StorX2-0/Share-Tools/pkg/monitor"

	"github.com/labstack/echo/v4"
)

// StartServer runs the control API. Blocks until the listener fails.
func StartServer(ctrl *Controller, address string) error {
	e := echo.New()
	e.HideBanner = true

	middleware.InitializeAllMiddleware(e)

	// Prometheus metrics endpoint
	e.GET("/metrics", echo.WrapHandler(monitor.CreateMetricsHandler()))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	share := e.Group("/share")
	share.Use(middleware.JWTMiddleware)
	share.POST("/start", handleStart(ctrl))
	share.POST("/stop", handleStop(ctrl))
	share.GET("/status", handleStatus(ctrl))
	share.GET("/events", handleEvents(ctrl))

	e.GET("/runs", handleRuns(ctrl), middleware.JWTMiddleware)

	return e.Start(address)
}

func handleStart(ctrl *Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		traceID, err := ctrl.StartRun(c.Request().Context())
		if err == ErrRunInProgress {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusAccepted, map[string]string{
			"status":  "started",
			"traceId": traceID,
		})
	}
}

func handleStop(ctrl *Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !ctrl.StopRun() {
			return c.JSON(http.StatusConflict, map[string]string{"error": "no run in progress"})
		}
		return c.JSON(http.StatusAccepted, map[string]string{"status": "stopping"})
	}
}

func handleStatus(ctrl *Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, ctrl.Status())
	}
}

func handleRuns(ctrl *Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, _ := strconv.Atoi(c.QueryParam("limit"))
		records, err := ctrl.ListRuns(limit)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, records)
	}
}

// handleEvents streams engine event lines as server-sent events. The engine's
// `TAG: payload` line becomes one SSE data frame.
func handleEvents(ctrl *Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set("Cache-Control", "no-cache")
		res.Header().Set("Connection", "keep-alive")
		res.WriteHeader(http.StatusOK)
		res.Flush()

		lines, unsubscribe := ctrl.Hub().Subscribe()
		defer unsubscribe()

		ctx := c.Request().Context()
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if _, err := fmt.Fprintf(res, "data: %s\n\n", line); err != nil {
					return nil
				}
				res.Flush()
			case <-ctx.Done():
				return nil
			}
		}
	}
}
