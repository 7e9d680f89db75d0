package lifecycle

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/teamarr/teamarr/internal/store"
)

// Channel numbering modes. All respect the global [RangeStart, RangeEnd].
const (
	// NumberStrictBlock reserves per-group blocks sized to the configured
	// total_stream_count, rounded up to the next multiple of 10. Gaps are
	// intentional so churn in one group never shifts its neighbors.
	NumberStrictBlock = "strict_block"
	// NumberRationalBlock lays out the same way but sizes each block from the
	// group's actual active channel count. Smaller gaps, more drift.
	NumberRationalBlock = "rational_block"
	// NumberStrictCompact has no reservations: every auto group draws the
	// lowest unused number from one shared pool.
	NumberStrictCompact = "strict_compact"
)

const assignmentManual = "manual"

// ceil10 rounds up to the next multiple of 10, minimum 10.
func ceil10(n int) int {
	if n < 1 {
		n = 1
	}
	return ((n + 9) / 10) * 10
}

// block is one group's reservation in a block layout.
type block struct {
	start int
	size  int
}

func (b block) contains(n int) bool { return n >= b.start && n < b.start+b.size }

// blockLayout computes every auto-assignment group's reservation, laid out in
// (sort_order, id) order from RangeStart. Child groups never create channels
// and are excluded. Disabled groups keep their reservation so toggling a
// group does not renumber its neighbors.
func (s *Service) blockLayout(ctx context.Context, actual bool) (map[int64]block, error) {
	groups, err := s.Store.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	auto := groups[:0]
	for _, g := range groups {
		if g.AssignmentMode == assignmentManual || g.IsChild() {
			continue
		}
		auto = append(auto, g)
	}
	sort.SliceStable(auto, func(i, j int) bool {
		if auto[i].SortOrder != auto[j].SortOrder {
			return auto[i].SortOrder < auto[j].SortOrder
		}
		return auto[i].ID < auto[j].ID
	})
	layout := make(map[int64]block, len(auto))
	next := s.RangeStart
	for _, g := range auto {
		size := ceil10(g.TotalStreamCount)
		if actual {
			n, err := s.Store.CountActiveChannels(ctx, g.ID)
			if err != nil {
				return nil, err
			}
			size = ceil10(n)
		}
		layout[g.ID] = block{start: next, size: size}
		next += size
	}
	return layout, nil
}

// AllocateNumber picks the channel number for a new channel in the group,
// honoring the configured numbering mode or the group's manual start.
func (s *Service) AllocateNumber(ctx context.Context, g *store.EventEPGGroup) (int, error) {
	if g.AssignmentMode == assignmentManual {
		return s.allocateManual(ctx, g)
	}
	switch s.NumberingMode {
	case NumberStrictCompact:
		return s.allocateCompact(ctx)
	case NumberRationalBlock:
		return s.allocateBlock(ctx, g, true)
	default:
		return s.allocateBlock(ctx, g, false)
	}
}

func (s *Service) allocateBlock(ctx context.Context, g *store.EventEPGGroup, actual bool) (int, error) {
	layout, err := s.blockLayout(ctx, actual)
	if err != nil {
		return 0, err
	}
	b, ok := layout[g.ID]
	if !ok {
		// Child or unmapped group; fall back to the shared pool.
		return s.allocateCompact(ctx)
	}
	used, err := s.Store.UsedNumbers(ctx, 0)
	if err != nil {
		return 0, err
	}
	for n := b.start; n < b.start+b.size; n++ {
		if !used[n] && n <= s.RangeEnd {
			return n, nil
		}
	}
	// Block exhausted: spill to the first free number past it. The next
	// reassignment pass pulls spilled channels back once room opens up.
	for n := b.start + b.size; n <= s.RangeEnd; n++ {
		if !used[n] {
			s.Log.WithFields(logrus.Fields{
				"group": g.Name, "number": n,
			}).Warn("numbering block exhausted, spilling past reservation")
			return n, nil
		}
	}
	return 0, fmt.Errorf("no free channel number in [%d, %d]", s.RangeStart, s.RangeEnd)
}

func (s *Service) allocateCompact(ctx context.Context) (int, error) {
	used, err := s.Store.UsedNumbers(ctx, 0)
	if err != nil {
		return 0, err
	}
	for n := s.RangeStart; n <= s.RangeEnd; n++ {
		if !used[n] {
			return n, nil
		}
	}
	return 0, fmt.Errorf("no free channel number in [%d, %d]", s.RangeStart, s.RangeEnd)
}

// allocateManual assigns sequentially from the group's fixed start, skipping
// numbers any non-deleted channel of the group already holds. A group without
// a start yet is placed at the next free X01 boundary above the high-water
// mark and the start is persisted.
func (s *Service) allocateManual(ctx context.Context, g *store.EventEPGGroup) (int, error) {
	if g.ChannelStartNumber <= 0 {
		start, err := s.autoAssignManualStart(ctx)
		if err != nil {
			return 0, err
		}
		if err := s.Store.SetGroupStartNumber(ctx, g.ID, start); err != nil {
			return 0, err
		}
		g.ChannelStartNumber = start
		s.Log.WithFields(logrus.Fields{"group": g.Name, "start": start}).
			Info("assigned manual numbering start")
	}
	used, err := s.Store.UsedNumbers(ctx, g.ID)
	if err != nil {
		return 0, err
	}
	for n := g.ChannelStartNumber; n <= s.RangeEnd; n++ {
		if !used[n] {
			return n, nil
		}
	}
	return 0, fmt.Errorf("no free channel number above manual start %d", g.ChannelStartNumber)
}

// autoAssignManualStart finds the next number ending in 01 above the global
// high-water mark, clamped into range.
func (s *Service) autoAssignManualStart(ctx context.Context) (int, error) {
	hw, err := s.Store.HighWaterMark(ctx)
	if err != nil {
		return 0, err
	}
	n := hw + 1
	if n < s.RangeStart {
		n = s.RangeStart
	}
	for n%100 != 1 {
		n++
	}
	if n > s.RangeEnd {
		return 0, fmt.Errorf("manual start %d beyond range end %d", n, s.RangeEnd)
	}
	return n, nil
}

// ReassignGroupChannels moves the group's out-of-range channels back into
// the group's current allocation. Called at the end of each group's
// processing so neighbor growth is corrected within the same run.
func (s *Service) ReassignGroupChannels(ctx context.Context, g *store.EventEPGGroup) (int, error) {
	chans, err := s.Store.ListActiveChannels(ctx, g.ID)
	if err != nil {
		return 0, err
	}
	if len(chans) == 0 {
		return 0, nil
	}

	inRange := func(n int) bool { return n >= s.RangeStart && n <= s.RangeEnd }
	var allowed func(n int) bool
	switch {
	case g.AssignmentMode == assignmentManual:
		allowed = func(n int) bool { return n >= g.ChannelStartNumber && inRange(n) }
	case s.NumberingMode == NumberStrictCompact:
		allowed = inRange
	default:
		layout, err := s.blockLayout(ctx, s.NumberingMode == NumberRationalBlock)
		if err != nil {
			return 0, err
		}
		b, ok := layout[g.ID]
		if !ok {
			allowed = inRange
		} else {
			allowed = func(n int) bool { return b.contains(n) && inRange(n) }
		}
	}

	moved := 0
	for _, ch := range chans {
		if allowed(ch.ChannelNumber) {
			continue
		}
		n, err := s.AllocateNumber(ctx, g)
		if err != nil {
			return moved, err
		}
		if n == ch.ChannelNumber {
			continue
		}
		if err := s.SetNumber(ctx, ch, n); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}
