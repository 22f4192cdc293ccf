package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/eargollo/keeper/internal/scheduler"
	"github.com/eargollo/keeper/internal/status"
	"github.com/eargollo/keeper/internal/store"
	"github.com/eargollo/keeper/internal/transport"
)

// StatusHandler handles GET /api/status.
type StatusHandler struct {
	Store   *store.Store
	Hub     *transport.Hub
	Sched   *scheduler.Scheduler
	Version string
}

type statusResponse struct {
	Version       string         `json:"version"`
	Groups        groupCounts    `json:"groups"`
	ActiveSession *sessionItem   `json:"active_session"`
	ActiveJob     *jobItem       `json:"active_job"`
	Agents        agentInfo      `json:"agents"`
	Watchdog      watchdogInfo   `json:"watchdog"`
}

type groupCounts struct {
	Pending        int `json:"pending"`
	AutoSelected   int `json:"auto_selected"`
	Proposed       int `json:"proposed"`
	Validated      int `json:"validated"`
	Cleaning       int `json:"cleaning"`
	Cleaned        int `json:"cleaned"`
	CleaningFailed int `json:"cleaning_failed"`
}

type agentInfo struct {
	Connected int `json:"connected"`
}

type watchdogInfo struct {
	Cron        string     `json:"cron"`
	NextSweepAt *time.Time `json:"next_sweep_at"`
}

// ServeHTTP returns the system status as JSON.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version: h.Version,
		Groups:  h.groupCounts(r),
		Agents:  agentInfo{Connected: h.Hub.ConnectedAgentCount()},
	}
	if h.Sched != nil {
		resp.Watchdog = watchdogInfo{
			Cron:        h.Sched.CronExpr(),
			NextSweepAt: h.Sched.NextSweepAt(),
		}
	}

	if s, err := h.Store.GetCurrentSession(r.Context(), h.Store.DB()); err == nil {
		v := sessionView(s)
		resp.ActiveSession = &v
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.Error("status: query current session", "error", err)
	}

	if jobs, err := h.Store.ListJobs(r.Context(), h.Store.DB(), 10, 0); err == nil {
		for _, j := range jobs {
			if !status.IsTerminalJob(j.Status) {
				v := jobView(j)
				resp.ActiveJob = &v
				break
			}
		}
	} else {
		slog.Error("status: query jobs", "error", err)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *StatusHandler) groupCounts(r *http.Request) groupCounts {
	var c groupCounts
	targets := []struct {
		st  status.GroupStatus
		dst *int
	}{
		{status.GroupPending, &c.Pending},
		{status.GroupAutoSelected, &c.AutoSelected},
		{status.GroupProposed, &c.Proposed},
		{status.GroupValidated, &c.Validated},
		{status.GroupCleaning, &c.Cleaning},
		{status.GroupCleaned, &c.Cleaned},
		{status.GroupCleaningFailed, &c.CleaningFailed},
	}
	for _, t := range targets {
		n, err := h.Store.CountGroups(r.Context(), h.Store.DB(), []status.GroupStatus{t.st})
		if err != nil {
			slog.Error("status: count groups", "status", t.st, "error", err)
			continue
		}
		*t.dst = n
	}
	return c
}
