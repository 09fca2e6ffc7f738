package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"paneld/internal/panel"
	"paneld/internal/scheduler"
	"paneld/internal/store"
)

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// scheduleView is a Schedule plus its transient running flag.
type scheduleView struct {
	panel.Schedule
	Running bool `json:"running"`
}

func (s *Server) handleListSchedules(c echo.Context) error {
	schedules, err := s.st.ListSchedules(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(err.Error()))
	}
	out := make([]scheduleView, 0, len(schedules))
	for _, sc := range schedules {
		out = append(out, scheduleView{Schedule: sc, Running: s.sched.Running(sc.ID)})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetSchedule(c echo.Context) error {
	sc, err := s.st.LoadSchedule(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errBody("schedule not found"))
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(err.Error()))
	}
	return c.JSON(http.StatusOK, sc)
}

// handleExecute triggers a manual run. The run proceeds asynchronously;
// 202 means accepted, 409 means a run for this schedule is still in flight.
func (s *Server) handleExecute(c echo.Context) error {
	id := c.Param("id")
	err := s.sched.RunNow(c.Request().Context(), id)
	switch {
	case err == nil:
		return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted", "schedule_id": id})
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		return c.JSON(http.StatusConflict, errBody("schedule is already running"))
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, errBody("schedule not found"))
	default:
		return c.JSON(http.StatusInternalServerError, errBody(err.Error()))
	}
}

func (s *Server) handleListRuns(c echo.Context) error {
	id := c.Param("id")
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, errBody("limit must be a non-negative integer"))
		}
		limit = n
	}
	// Distinguish "no runs yet" from "no such schedule".
	if _, err := s.st.LoadSchedule(c.Request().Context(), id); errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errBody("schedule not found"))
	} else if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(err.Error()))
	}
	runs, err := s.st.ListRuns(c.Request().Context(), id, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(err.Error()))
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleSystem(c echo.Context) error {
	return c.JSON(http.StatusOK, s.sched.Snapshot())
}
