package regression_test

import (
	"fmt"
	"net/http"
	"testing"
)

func TestSessionLifecycleOverHTTP(t *testing.T) {
	ts := startServer(t)
	seedPatternedGroups(t, ts)

	resp := ts.get(t, "/api/sessions/current")
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = ts.post(t, "/api/sessions", nil)
	requireStatus(t, resp, http.StatusCreated)
	var session sessionResponse
	decodeJSON(t, resp, &session)
	if session.Status != "active" || session.TotalGroups != 3 {
		t.Fatalf("session = %+v", session)
	}

	resp = ts.get(t, "/api/sessions/current")
	requireStatus(t, resp, http.StatusOK)
	var current sessionResponse
	decodeJSON(t, resp, &current)
	if current.ID != session.ID {
		t.Errorf("current session = %d, want %d", current.ID, session.ID)
	}

	// Skip the first group, undo nothing yet: progress counts the skip.
	g := ts.firstGroup(t)
	resp = ts.post(t, fmt.Sprintf("/api/sessions/%d/groups/%d/skip", session.ID, g.ID), nil)
	requireStatus(t, resp, http.StatusOK)
	var action actionResponse
	decodeJSON(t, resp, &action)
	if action.NextGroupID == nil {
		t.Error("skip returned no next group")
	}

	resp = ts.get(t, fmt.Sprintf("/api/sessions/%d/progress", session.ID))
	requireStatus(t, resp, http.StatusOK)
	var progress struct {
		TotalGroups     int `json:"total_groups"`
		GroupsSkipped   int `json:"groups_skipped"`
		Remaining       int `json:"remaining"`
		ProgressPercent int `json:"progress_percent"`
	}
	decodeJSON(t, resp, &progress)
	if progress.GroupsSkipped != 1 || progress.Remaining != 2 {
		t.Errorf("progress = %+v", progress)
	}

	// Propose, then undo: the group returns to pending.
	keepID := g.Files[0].ID
	resp = ts.postJSON(t, fmt.Sprintf("/api/sessions/%d/groups/%d/propose", session.ID, g.ID),
		map[string]interface{}{"file_id": keepID})
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// Validating a different group without a proposal fails.
	resp = ts.get(t, "/api/groups")
	requireStatus(t, resp, http.StatusOK)
	var list listResponse[groupResponse]
	decodeJSON(t, resp, &list)
	var other int64
	for _, item := range list.Items {
		if item.ID != g.ID {
			other = item.ID
			break
		}
	}
	resp = ts.post(t, fmt.Sprintf("/api/sessions/%d/groups/%d/validate", session.ID, other), nil)
	requireStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = ts.post(t, fmt.Sprintf("/api/sessions/%d/groups/%d/undo", session.ID, g.ID), nil)
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &action)
	if action.Status != "pending" {
		t.Errorf("status after undo = %s", action.Status)
	}

	// Pause, then resume the same session.
	resp = ts.post(t, fmt.Sprintf("/api/sessions/%d/pause", session.ID), nil)
	requireStatus(t, resp, http.StatusOK)
	var paused sessionResponse
	decodeJSON(t, resp, &paused)
	if paused.Status != "paused" {
		t.Errorf("status after pause = %s", paused.Status)
	}

	resp = ts.postJSON(t, "/api/sessions", map[string]interface{}{"resume": true})
	requireStatus(t, resp, http.StatusCreated)
	var resumed sessionResponse
	decodeJSON(t, resp, &resumed)
	if resumed.ID != session.ID || resumed.Status != "active" {
		t.Errorf("resumed = %+v, want session %d active", resumed, session.ID)
	}
}
