// Package review drives the keyboard-paced human pass over unresolved
// duplicate groups: propose a kept file, validate it, skip, or undo, with
// session-level progress tracking.
package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/eargollo/keeper/internal/status"
	"github.com/eargollo/keeper/internal/store"
)

// ErrNoProposal is returned when validation is requested for a group without
// a proposed original.
var ErrNoProposal = errors.New("Group has no proposed original")

// ErrNotMember is returned when the proposed file does not belong to the group.
var ErrNotMember = errors.New("file is not a member of this group")

// Controller owns review-session state transitions.
type Controller struct {
	store *store.Store
	now   func() time.Time
}

// New creates a Controller.
func New(st *store.Store) *Controller {
	return &Controller{store: st, now: time.Now}
}

// ActionResult reports a single review action plus the next group to show,
// keeping the keyboard flow uninterrupted.
type ActionResult struct {
	GroupID     int64              `json:"group_id"`
	Status      status.GroupStatus `json:"status"`
	Message     string             `json:"message,omitempty"`
	NextGroupID *int64             `json:"next_group_id"`
}

// StartOrResume returns the current session, resuming it when one exists and
// resumeExisting is set. Without resumeExisting any current session is
// completed and a fresh one snapshots the unresolved groups.
func (c *Controller) StartOrResume(ctx context.Context, resumeExisting bool) (*store.SelectionSession, error) {
	var out *store.SelectionSession
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		now := c.now()

		current, err := c.store.GetCurrentSession(ctx, tx)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if current != nil && resumeExisting {
			if err := c.store.SetSessionStatus(ctx, tx, current.ID, status.SessionActive, true, now); err != nil {
				return err
			}
			out, err = c.store.GetSession(ctx, tx, current.ID)
			return err
		}

		if current != nil {
			if err := c.store.SetSessionStatus(ctx, tx, current.ID, status.SessionCompleted, false, now); err != nil {
				return err
			}
		}

		id, err := c.store.CreateSession(ctx, tx, 0, now)
		if err != nil {
			return err
		}
		total, err := c.store.AssignReviewOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE selection_sessions SET total_groups = ? WHERE id = ?`, total, id); err != nil {
			return fmt.Errorf("snapshot session size: %w", err)
		}
		out, err = c.store.GetSession(ctx, tx, id)
		return err
	})
	return out, err
}

// Propose marks fileID as the group's kept file without finalising the
// decision. Siblings become duplicates, the group moves to proposed, and the
// session's proposed counter advances.
func (c *Controller) Propose(ctx context.Context, sessionID, groupID, fileID int64) (*ActionResult, error) {
	var res *ActionResult
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		g, err := c.store.GetGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if err := status.Validate(g.Status, status.GroupProposed); err != nil {
			return err
		}

		files, err := c.store.GetGroupFiles(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if !containsFile(files, fileID) {
			return ErrNotMember
		}

		if err := c.store.MarkKeptFile(ctx, tx, groupID, fileID); err != nil {
			return err
		}
		g.KeptFileID = &fileID
		sid := sessionID
		g.ReviewSessionID = &sid
		if err := c.store.TransitionGroup(ctx, tx, g, status.GroupProposed); err != nil {
			return err
		}

		now := c.now()
		if err := c.store.BumpSessionCounter(ctx, tx, sessionID, "groups_proposed", now); err != nil {
			return err
		}

		res = &ActionResult{GroupID: groupID, Status: g.Status}
		res.NextGroupID = c.nextGroupID(ctx, tx, sessionID, g)
		return nil
	})
	return res, err
}

// Validate finalises a proposal: the group becomes validated and is from now
// on invisible to the selection algorithm. Fails when no file was proposed.
func (c *Controller) Validate(ctx context.Context, sessionID, groupID int64) (*ActionResult, error) {
	var res *ActionResult
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		g, err := c.store.GetGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if g.KeptFileID == nil {
			return ErrNoProposal
		}
		if err := status.Validate(g.Status, status.GroupValidated); err != nil {
			return err
		}

		now := c.now()
		ts := now.Unix()
		g.ValidatedAt = &ts
		if err := c.store.TransitionGroup(ctx, tx, g, status.GroupValidated); err != nil {
			return err
		}
		if err := c.store.BumpSessionCounter(ctx, tx, sessionID, "groups_validated", now); err != nil {
			return err
		}

		res = &ActionResult{GroupID: groupID, Status: g.Status}
		res.NextGroupID = c.nextGroupID(ctx, tx, sessionID, g)
		return nil
	})
	return res, err
}

// Skip stamps the group reviewed without changing its status and returns the
// next group in session order.
func (c *Controller) Skip(ctx context.Context, sessionID, groupID int64) (*ActionResult, error) {
	var res *ActionResult
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		g, err := c.store.GetGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}

		now := c.now()
		ts := now.Unix()
		g.LastReviewedAt = &ts
		if err := c.store.UpdateGroupCAS(ctx, tx, g); err != nil {
			return err
		}
		if err := c.store.BumpSessionCounter(ctx, tx, sessionID, "groups_skipped", now); err != nil {
			return err
		}

		res = &ActionResult{GroupID: groupID, Status: g.Status}
		res.NextGroupID = c.nextGroupID(ctx, tx, sessionID, g)
		return nil
	})
	return res, err
}

// Undo reverts a proposed or validated group (or an algorithm suggestion)
// back to pending: kept file cleared, member flags reset, timestamps wiped.
// The message names the state that was undone for UI feedback.
func (c *Controller) Undo(ctx context.Context, sessionID, groupID int64) (*ActionResult, error) {
	var res *ActionResult
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		g, err := c.store.GetGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		prior := g.Status
		if err := status.Validate(g.Status, status.GroupPending); err != nil {
			return err
		}

		if err := c.store.ResetGroupFiles(ctx, tx, groupID); err != nil {
			return err
		}
		g.KeptFileID = nil
		g.ValidatedAt = nil
		if err := c.store.TransitionGroup(ctx, tx, g, status.GroupPending); err != nil {
			return err
		}

		res = &ActionResult{
			GroupID: groupID,
			Status:  g.Status,
			Message: fmt.Sprintf("reverted from %s to pending", prior),
		}
		res.NextGroupID = c.nextGroupID(ctx, tx, sessionID, g)
		return nil
	})
	return res, err
}

// Pause parks the session; StartOrResume(true) picks it back up.
func (c *Controller) Pause(ctx context.Context, sessionID int64) (*store.SelectionSession, error) {
	var out *store.SelectionSession
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := c.store.GetSession(ctx, tx, sessionID); err != nil {
			return err
		}
		if err := c.store.SetSessionStatus(ctx, tx, sessionID, status.SessionPaused, false, c.now()); err != nil {
			return err
		}
		var err error
		out, err = c.store.GetSession(ctx, tx, sessionID)
		return err
	})
	return out, err
}

// Progress reports how far a session has come.
type Progress struct {
	SessionID       int64  `json:"session_id"`
	Status          string `json:"status"`
	TotalGroups     int    `json:"total_groups"`
	GroupsProposed  int    `json:"groups_proposed"`
	GroupsValidated int    `json:"groups_validated"`
	GroupsSkipped   int    `json:"groups_skipped"`
	Remaining       int    `json:"remaining"`
	ProgressPercent int    `json:"progress_percent"`
}

// GetProgress computes the session's progress counters.
func (c *Controller) GetProgress(ctx context.Context, sessionID int64) (*Progress, error) {
	s, err := c.store.GetSession(ctx, c.store.DB(), sessionID)
	if err != nil {
		return nil, err
	}

	done := s.GroupsProposed + s.GroupsValidated + s.GroupsSkipped
	p := &Progress{
		SessionID:       s.ID,
		Status:          string(s.Status),
		TotalGroups:     s.TotalGroups,
		GroupsProposed:  s.GroupsProposed,
		GroupsValidated: s.GroupsValidated,
		GroupsSkipped:   s.GroupsSkipped,
		Remaining:       s.TotalGroups - done,
	}
	if s.TotalGroups > 0 {
		p.ProgressPercent = int(math.Round(100 * float64(done) / float64(s.TotalGroups)))
	}
	return p, nil
}

// nextGroupID finds the next group of the session after g. Best-effort: a
// lookup failure just ends the keyboard flow for this response.
func (c *Controller) nextGroupID(ctx context.Context, tx *sql.Tx, sessionID int64, g *store.DuplicateGroup) *int64 {
	var after int64
	if g.ReviewOrder != nil {
		after = *g.ReviewOrder
	}
	next, err := c.store.NextReviewGroup(ctx, tx, sessionID, after)
	if err != nil {
		return nil
	}
	return &next.ID
}

func containsFile(files []*store.IndexedFile, fileID int64) bool {
	for _, f := range files {
		if f.ID == fileID {
			return true
		}
	}
	return false
}
