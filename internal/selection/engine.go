// Package selection picks the surviving file of a duplicate group, either
// per-group with weighted criteria or in bulk by directory pattern.
package selection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eargollo/keeper/internal/status"
	"github.com/eargollo/keeper/internal/store"
)

// Weights enables the auto-selection criteria. Each enabled criterion awards
// rank points; the file with the highest total wins.
type Weights struct {
	PreferLargest      bool `yaml:"prefer_largest"       json:"prefer_largest"`
	PreferOldest       bool `yaml:"prefer_oldest"        json:"prefer_oldest"`
	PreferShortestPath bool `yaml:"prefer_shortest_path" json:"prefer_shortest_path"`
}

// enabled reports whether at least one criterion is on; with none, scoring
// degenerates to lowest file ID.
func (w Weights) enabled() bool {
	return w.PreferLargest || w.PreferOldest || w.PreferShortestPath
}

// Result reports one group's auto-selection outcome.
type Result struct {
	GroupID    int64              `json:"group_id"`
	KeptFileID int64              `json:"kept_file_id"`
	KeptPath   string             `json:"kept_path"`
	Status     status.GroupStatus `json:"status"`
}

// Engine computes kept-file selections.
type Engine struct {
	store *store.Store
}

// New creates an Engine.
func New(st *store.Store) *Engine {
	return &Engine{store: st}
}

// AutoSelect scores the members of one group and marks the winner as kept.
// Returns (nil, nil) when the group does not exist. Groups outside the
// algorithm-eligible statuses are rejected by the transition validator, so a
// validated human decision can never be overwritten here.
func (e *Engine) AutoSelect(ctx context.Context, groupID int64, w Weights) (*Result, error) {
	var res *Result
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		g, err := e.store.GetGroup(ctx, tx, groupID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		r, err := e.selectInTx(ctx, tx, g, w)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	return res, err
}

// AutoSelectAll runs AutoSelect over every algorithm-eligible group.
// Ineligible groups are never queried, let alone touched.
func (e *Engine) AutoSelectAll(ctx context.Context, w Weights) ([]Result, error) {
	groups, err := e.store.ListGroups(ctx, e.store.DB(),
		[]status.GroupStatus{status.GroupPending, status.GroupAutoSelected}, 0, 0)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(groups))
	for _, g := range groups {
		res, err := e.AutoSelect(ctx, g.ID, w)
		if errors.Is(err, store.ErrVersionConflict) {
			// A concurrent review action claimed the group between the
			// listing and this write. Their decision wins.
			slog.Info("auto-select skipped: concurrent update", "group_id", g.ID)
			continue
		}
		if err != nil {
			return results, fmt.Errorf("auto-select group %d: %w", g.ID, err)
		}
		if res != nil {
			results = append(results, *res)
		}
	}
	return results, nil
}

// selectInTx does the scoring and persistence for one loaded group.
func (e *Engine) selectInTx(ctx context.Context, tx *sql.Tx, g *store.DuplicateGroup, w Weights) (*Result, error) {
	if err := status.Validate(g.Status, status.GroupAutoSelected); err != nil {
		return nil, err
	}

	files, err := e.store.GetGroupFiles(ctx, tx, g.ID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("group %d has no member files", g.ID)
	}

	kept := pickByWeights(files, w)

	if err := e.store.MarkKeptFile(ctx, tx, g.ID, kept.ID); err != nil {
		return nil, err
	}
	g.KeptFileID = &kept.ID
	if err := e.store.TransitionGroup(ctx, tx, g, status.GroupAutoSelected); err != nil {
		return nil, err
	}

	return &Result{
		GroupID:    g.ID,
		KeptFileID: kept.ID,
		KeptPath:   kept.FilePath,
		Status:     g.Status,
	}, nil
}

// pickByWeights scores every file by the enabled criteria and returns the
// winner. Per criterion a file earns (n - rank) points, rank 0 being the
// best value; ties in total score break toward the lowest file ID, which
// also orders the input, so the result is deterministic.
func pickByWeights(files []*store.IndexedFile, w Weights) *store.IndexedFile {
	if len(files) == 1 || !w.enabled() {
		return files[0] // files come ordered by ID; first is the lowest
	}

	scores := make(map[int64]int, len(files))

	if w.PreferLargest {
		awardRankPoints(files, scores, func(a, b *store.IndexedFile) bool {
			return a.FileSize > b.FileSize
		})
	}
	if w.PreferOldest {
		awardRankPoints(files, scores, func(a, b *store.IndexedFile) bool {
			return takenOrMax(a) < takenOrMax(b)
		})
	}
	if w.PreferShortestPath {
		awardRankPoints(files, scores, func(a, b *store.IndexedFile) bool {
			return len(a.FilePath) < len(b.FilePath)
		})
	}

	best := files[0]
	for _, f := range files[1:] {
		if scores[f.ID] > scores[best.ID] {
			best = f
		}
	}
	return best
}

// awardRankPoints sorts a copy of files by the better comparator and awards
// n-1 … 0 points down the ranking. Equal values share the higher score so a
// criterion that cannot distinguish two files does not order them.
func awardRankPoints(files []*store.IndexedFile, scores map[int64]int, better func(a, b *store.IndexedFile) bool) {
	ranked := make([]*store.IndexedFile, len(files))
	copy(ranked, files)
	// Insertion sort keeps the by-ID input order for equal values.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && better(ranked[j], ranked[j-1]); j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}

	n := len(ranked)
	points := n - 1
	for i, f := range ranked {
		if i > 0 && better(ranked[i-1], f) {
			points = n - 1 - i
		}
		scores[f.ID] += points
	}
}

// takenOrMax returns the file's taken-at time, or a maximal sentinel for
// files without one so they never win "oldest".
func takenOrMax(f *store.IndexedFile) int64 {
	if f.TakenAt == nil {
		return 1<<63 - 1
	}
	return *f.TakenAt
}
