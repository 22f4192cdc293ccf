package selection

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/eargollo/keeper/internal/status"
	"github.com/eargollo/keeper/internal/store"
)

// TieBreaker picks one file when several sit in the preferred directory.
type TieBreaker string

const (
	TieEarliestDate TieBreaker = "earliestDate"
	TieShortestPath TieBreaker = "shortestPath"
	TieLargestFile  TieBreaker = "largestFile"
	TieFirstIndexed TieBreaker = "firstIndexed"
)

// ParseTieBreaker validates a tie-breaker name.
func ParseTieBreaker(s string) (TieBreaker, error) {
	switch TieBreaker(s) {
	case TieEarliestDate, TieShortestPath, TieLargestFile, TieFirstIndexed:
		return TieBreaker(s), nil
	case "":
		return TieFirstIndexed, nil
	default:
		return "", fmt.Errorf("unknown tie breaker %q", s)
	}
}

// PatternInfo describes a group's directory pattern and the other groups
// sharing it.
type PatternInfo struct {
	GroupID          int64    `json:"group_id"`
	Directories      []string `json:"directories"`
	PatternHash      string   `json:"pattern_hash"`
	MatchingGroups   int      `json:"matching_groups"`
	MatchingGroupIDs []int64  `json:"matching_group_ids"`
	PotentialSavings int64    `json:"potential_savings"`
}

// ApplyRequest parameterises a pattern-based bulk apply.
type ApplyRequest struct {
	Directories        []string
	PreferredDirectory string
	TieBreaker         TieBreaker
	Preview            bool
}

// SkippedGroup records why a matching group was left untouched.
type SkippedGroup struct {
	GroupID int64  `json:"group_id"`
	Reason  string `json:"reason"`
}

// ApplyResult summarises a pattern apply (or its preview).
type ApplyResult struct {
	GroupsUpdated         int            `json:"groups_updated"`
	GroupsSkipped         int            `json:"groups_skipped"`
	FilesMarkedOriginal   int            `json:"files_marked_original"`
	Skipped               []SkippedGroup `json:"skipped,omitempty"`
	Preview               bool           `json:"preview"`
	Selections            []Result       `json:"selections,omitempty"`
	NextUnresolvedGroupID *int64         `json:"next_unresolved_group_id"`
}

// groupPattern pairs a group with its live member files and pattern hash.
type groupPattern struct {
	group *store.DuplicateGroup
	files []*store.IndexedFile
	hash  string
}

// Pattern computes the directory pattern of one group and finds every other
// unresolved group sharing it, with their combined potential savings.
func (e *Engine) Pattern(ctx context.Context, groupID int64) (*PatternInfo, error) {
	db := e.store.DB()
	g, err := e.store.GetGroup(ctx, db, groupID)
	if err != nil {
		return nil, err
	}
	files, err := e.store.GetGroupFiles(ctx, db, g.ID)
	if err != nil {
		return nil, err
	}
	dirs, hash := patternOf(files)

	info := &PatternInfo{
		GroupID:     g.ID,
		Directories: dirs,
		PatternHash: hash,
	}

	all, err := e.loadPatterns(ctx,
		[]status.GroupStatus{status.GroupPending, status.GroupAutoSelected, status.GroupProposed})
	if err != nil {
		return nil, err
	}
	for _, gp := range all {
		if gp.group.ID == g.ID || gp.hash != hash {
			continue
		}
		info.MatchingGroups++
		info.MatchingGroupIDs = append(info.MatchingGroupIDs, gp.group.ID)
		info.PotentialSavings += reclaimable(gp.group)
	}
	return info, nil
}

// ApplyPattern resolves every group whose directory pattern exactly equals
// req.Directories by keeping its file in the preferred directory. Groups
// carrying a human decision are skipped with a reason, never overwritten;
// groups already resolved to the same file are skipped so the operation is
// idempotent. Preview computes the identical result without persisting.
func (e *Engine) ApplyPattern(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	if len(req.Directories) == 0 {
		return nil, errors.New("pattern directories must not be empty")
	}
	tb, err := ParseTieBreaker(string(req.TieBreaker))
	if err != nil {
		return nil, err
	}

	_, wantHash := normalizeDirs(req.Directories)
	preferred := filepath.Clean(req.PreferredDirectory)

	all, err := e.loadPatterns(ctx, nil) // all statuses: protected groups get a skip reason
	if err != nil {
		return nil, err
	}

	result := &ApplyResult{Preview: req.Preview}
	for _, gp := range all {
		if gp.hash != wantHash {
			continue
		}
		g := gp.group

		if !status.IsEligibleForAlgorithm(g.Status) {
			result.GroupsSkipped++
			result.Skipped = append(result.Skipped, SkippedGroup{
				GroupID: g.ID,
				Reason:  fmt.Sprintf("group status %s is protected", g.Status),
			})
			continue
		}

		candidates := filesInDir(gp.files, preferred)
		if len(candidates) == 0 {
			result.GroupsSkipped++
			result.Skipped = append(result.Skipped, SkippedGroup{
				GroupID: g.ID,
				Reason:  "no file in preferred directory",
			})
			continue
		}

		chosen := breakTie(candidates, tb)
		if g.KeptFileID != nil && *g.KeptFileID == chosen.ID && g.Status == status.GroupAutoSelected {
			result.GroupsSkipped++
			result.Skipped = append(result.Skipped, SkippedGroup{
				GroupID: g.ID,
				Reason:  "already resolved with this selection",
			})
			continue
		}

		if !req.Preview {
			if err := e.persistSelection(ctx, g, chosen.ID); err != nil {
				if errors.Is(err, store.ErrVersionConflict) {
					result.GroupsSkipped++
					result.Skipped = append(result.Skipped, SkippedGroup{
						GroupID: g.ID,
						Reason:  "modified concurrently",
					})
					continue
				}
				return nil, fmt.Errorf("apply pattern to group %d: %w", g.ID, err)
			}
		}
		result.GroupsUpdated++
		result.FilesMarkedOriginal++
		result.Selections = append(result.Selections, Result{
			GroupID:    g.ID,
			KeptFileID: chosen.ID,
			KeptPath:   chosen.FilePath,
			Status:     status.GroupAutoSelected,
		})
	}

	// First remaining unresolved group with a different pattern, largest
	// first, so the operator can sweep pattern after pattern.
	eligible, err := e.loadPatterns(ctx,
		[]status.GroupStatus{status.GroupPending, status.GroupAutoSelected})
	if err != nil {
		return nil, err
	}
	for _, gp := range eligible {
		if gp.hash != wantHash {
			id := gp.group.ID
			result.NextUnresolvedGroupID = &id
			break
		}
	}

	return result, nil
}

// persistSelection writes one pattern selection in its own transaction.
func (e *Engine) persistSelection(ctx context.Context, g *store.DuplicateGroup, keptID int64) error {
	return e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.store.MarkKeptFile(ctx, tx, g.ID, keptID); err != nil {
			return err
		}
		g.KeptFileID = &keptID
		return e.store.TransitionGroup(ctx, tx, g, status.GroupAutoSelected)
	})
}

// loadPatterns loads groups (optionally filtered by status) with their live
// files and pattern hashes, ordered by total_size descending.
func (e *Engine) loadPatterns(ctx context.Context, statuses []status.GroupStatus) ([]groupPattern, error) {
	db := e.store.DB()
	groups, err := e.store.ListGroups(ctx, db, statuses, 0, 0)
	if err != nil {
		return nil, err
	}

	patterns := make([]groupPattern, 0, len(groups))
	for _, g := range groups {
		files, err := e.store.GetGroupFiles(ctx, db, g.ID)
		if err != nil {
			return nil, err
		}
		_, hash := patternOf(files)
		patterns = append(patterns, groupPattern{group: g, files: files, hash: hash})
	}
	return patterns, nil
}

// patternOf returns the sorted set of distinct parent directories of the
// group's non-hidden live files, and a stable hash of that set. Hidden files
// (dot-prefixed basename) don't contribute: sidecar files like .DS_Store
// would otherwise split otherwise-identical patterns.
func patternOf(files []*store.IndexedFile) ([]string, string) {
	seen := map[string]bool{}
	for _, f := range files {
		if f.IsDeleted || strings.HasPrefix(filepath.Base(f.FilePath), ".") {
			continue
		}
		seen[filepath.Dir(f.FilePath)] = true
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs, hashDirs(dirs)
}

// normalizeDirs cleans and sorts a caller-supplied directory set and
// returns it with its hash.
func normalizeDirs(dirs []string) ([]string, string) {
	seen := map[string]bool{}
	for _, d := range dirs {
		seen[filepath.Clean(d)] = true
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, hashDirs(out)
}

// hashDirs hashes a sorted directory set for O(1) pattern comparison.
func hashDirs(sorted []string) string {
	h := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return hex.EncodeToString(h[:8])
}

func filesInDir(files []*store.IndexedFile, dir string) []*store.IndexedFile {
	var out []*store.IndexedFile
	for _, f := range files {
		if f.IsDeleted {
			continue
		}
		if filepath.Dir(f.FilePath) == dir {
			out = append(out, f)
		}
	}
	return out
}

// breakTie deterministically picks one candidate. Input comes ordered by
// file ID, so every rule falls back to the lowest ID on equal values.
func breakTie(candidates []*store.IndexedFile, tb TieBreaker) *store.IndexedFile {
	best := candidates[0]
	for _, f := range candidates[1:] {
		switch tb {
		case TieEarliestDate:
			if takenOrMax(f) < takenOrMax(best) {
				best = f
			}
		case TieShortestPath:
			if len(f.FilePath) < len(best.FilePath) {
				best = f
			}
		case TieLargestFile:
			if f.FileSize > best.FileSize {
				best = f
			}
		case TieFirstIndexed:
			// lowest ID; input order already guarantees it
		}
	}
	return best
}

// reclaimable is the space freed by deleting all but one member.
func reclaimable(g *store.DuplicateGroup) int64 {
	if g.FileCount <= 1 {
		return 0
	}
	return g.TotalSize - g.TotalSize/int64(g.FileCount)
}
