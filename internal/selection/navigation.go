package selection

import (
	"context"

	"github.com/eargollo/keeper/internal/status"
)

// Navigation locates a group inside the size-ordered group list so the UI
// can step through previous/next with a position indicator.
type Navigation struct {
	GroupID     int64  `json:"group_id"`
	PrevGroupID *int64 `json:"prev_group_id"`
	NextGroupID *int64 `json:"next_group_id"`
	Position    int    `json:"position"` // 1-based; 0 when the group is not in the filtered set
	TotalGroups int    `json:"total_groups"`
}

// Navigate orders all groups (optionally filtered by status) by total size
// descending and returns groupID's neighbours and position. A group absent
// from the filtered set yields position 0 with nil neighbours, but
// TotalGroups still reflects the filtered set size.
func (e *Engine) Navigate(ctx context.Context, groupID int64, statuses []status.GroupStatus) (*Navigation, error) {
	groups, err := e.store.ListGroups(ctx, e.store.DB(), statuses, 0, 0)
	if err != nil {
		return nil, err
	}

	nav := &Navigation{GroupID: groupID, TotalGroups: len(groups)}
	for i, g := range groups {
		if g.ID != groupID {
			continue
		}
		nav.Position = i + 1
		if i > 0 {
			id := groups[i-1].ID
			nav.PrevGroupID = &id
		}
		if i+1 < len(groups) {
			id := groups[i+1].ID
			nav.NextGroupID = &id
		}
		break
	}
	return nav, nil
}
