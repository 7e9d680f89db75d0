package process

import (
	"sort"

	"github.com/teamarr/teamarr/internal/store"
)

// Order arranges groups so parents process before their children and
// single-league groups before multi-league ones. Multi-league overlap
// handling needs the single-league channels already in place, and child
// groups need their parent's channels. Within a phase the incoming
// (sort_order, id) order is preserved.
func Order(groups []*store.EventEPGGroup) []*store.EventEPGGroup {
	byID := make(map[int64]*store.EventEPGGroup, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}
	phase := func(g *store.EventEPGGroup) int {
		if g.IsChild() {
			if parent := byID[*g.ParentGroupID]; parent != nil && parent.MultiLeague() {
				return 3
			}
			return 1
		}
		if g.MultiLeague() {
			return 2
		}
		return 0
	}
	out := make([]*store.EventEPGGroup, len(groups))
	copy(out, groups)
	sort.SliceStable(out, func(i, j int) bool {
		return phase(out[i]) < phase(out[j])
	})
	return out
}
