package services

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/spkampus/portal/modules/org/domain/orgstructure"
)

// TreeFilter selects units for ListTree and ComposeTree. A unit matches when
// it satisfies every set field; each matching unit whose ancestors do not
// match is returned as a top-level node with its whole subtree.
type TreeFilter struct {
	Scope        *orgstructure.Scope `form:"scope"`
	RegionID     *int64              `form:"region_id"`
	UniversityID *int64              `form:"university_id"`
	// ActiveOnly drops inactive units with their subtrees, and inactive positions.
	ActiveOnly bool `form:"active_only"`
	// Query fuzzy-matches unit names.
	Query string `form:"q"`
	// AsOf is the day current holders are resolved for; zero means today.
	AsOf time.Time `form:"-"`
}

func (f TreeFilter) selective() bool {
	return f.Scope != nil || f.RegionID != nil || f.UniversityID != nil || strings.TrimSpace(f.Query) != ""
}

func (f TreeFilter) matches(u orgstructure.Unit) bool {
	if f.Scope != nil && u.Scope != *f.Scope {
		return false
	}
	if f.RegionID != nil && (u.RegionID == nil || *u.RegionID != *f.RegionID) {
		return false
	}
	if f.UniversityID != nil && (u.UniversityID == nil || *u.UniversityID != *f.UniversityID) {
		return false
	}
	if q := strings.TrimSpace(f.Query); q != "" && !fuzzy.MatchNormalizedFold(q, u.Name) {
		return false
	}
	return true
}

// cacheKey identifies the filter for the tree cache.
func (f TreeFilter) cacheKey(asOf time.Time) string {
	var b strings.Builder
	b.WriteString(asOf.Format(time.DateOnly))
	if f.Scope != nil {
		b.WriteString("|s=" + f.Scope.String())
	}
	if f.RegionID != nil {
		b.WriteString("|r=" + strconv.FormatInt(*f.RegionID, 10))
	}
	if f.UniversityID != nil {
		b.WriteString("|u=" + strconv.FormatInt(*f.UniversityID, 10))
	}
	if f.ActiveOnly {
		b.WriteString("|active")
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		b.WriteString("|q=" + strings.ToLower(q))
	}
	return b.String()
}

type UnitNode struct {
	orgstructure.Unit
	Positions []PositionWithHolders `json:"positions,omitempty" yaml:"positions,omitempty"`
	Children  []*UnitNode           `json:"children" yaml:"children"`
}

// unitArena indexes units by id and links children by index.
type unitArena struct {
	units    []orgstructure.Unit
	index    map[uuid.UUID]int
	children [][]int
	roots    []int
}

func newUnitArena(units []orgstructure.Unit) (*unitArena, error) {
	a := &unitArena{
		units:    units,
		index:    make(map[uuid.UUID]int, len(units)),
		children: make([][]int, len(units)),
	}
	for i, u := range units {
		a.index[u.ID] = i
	}
	for i, u := range units {
		if u.ParentID == nil {
			a.roots = append(a.roots, i)
			continue
		}
		p, ok := a.index[*u.ParentID]
		if !ok {
			return nil, fmt.Errorf("%w: unit %s references missing parent %s", ErrHierarchyCorrupted, u.ID, *u.ParentID)
		}
		a.children[p] = append(a.children[p], i)
	}
	if err := a.checkAcyclic(); err != nil {
		return nil, err
	}

	less := func(list []int) func(i, j int) bool {
		return func(i, j int) bool {
			ui, uj := a.units[list[i]], a.units[list[j]]
			if ui.Level != uj.Level {
				return ui.Level < uj.Level
			}
			if ui.Name != uj.Name {
				return ui.Name < uj.Name
			}
			return ui.ID.String() < uj.ID.String()
		}
	}
	sort.SliceStable(a.roots, less(a.roots))
	for _, list := range a.children {
		sort.SliceStable(list, less(list))
	}
	return a, nil
}

// checkAcyclic walks every parent chain once. A unit reached again while its
// own chain is still open closes a cycle.
func (a *unitArena) checkAcyclic() error {
	const (
		unvisited = iota
		open
		done
	)
	state := make([]uint8, len(a.units))
	path := make([]int, 0, 16)
	for i := range a.units {
		path = path[:0]
		cur := i
		for state[cur] == unvisited {
			state[cur] = open
			path = append(path, cur)
			parent := a.units[cur].ParentID
			if parent == nil {
				break
			}
			cur = a.index[*parent]
		}
		if state[cur] == open && a.units[cur].ParentID != nil {
			return fmt.Errorf("%w: cycle through unit %s", ErrHierarchyCorrupted, a.units[cur].ID)
		}
		for _, p := range path {
			state[p] = done
		}
	}
	return nil
}

// materialize copies the subtree at i into fresh nodes.
func (a *unitArena) materialize(i int, activeOnly bool) *UnitNode {
	node := &UnitNode{Unit: a.units[i], Children: []*UnitNode{}}
	for _, c := range a.children[i] {
		if activeOnly && !a.units[c].IsActive {
			continue
		}
		node.Children = append(node.Children, a.materialize(c, activeOnly))
	}
	return node
}

// anchors returns the matching units that have no matching ancestor.
func (a *unitArena) anchors(f TreeFilter) []int {
	out := make([]int, 0, len(a.roots))
	var visit func(i int)
	visit = func(i int) {
		if f.ActiveOnly && !a.units[i].IsActive {
			return
		}
		if f.matches(a.units[i]) {
			out = append(out, i)
			return
		}
		for _, c := range a.children[i] {
			visit(c)
		}
	}
	for _, r := range a.roots {
		visit(r)
	}
	return out
}

// buildForest links units into trees and applies filter.
func buildForest(units []orgstructure.Unit, f TreeFilter) ([]*UnitNode, error) {
	arena, err := newUnitArena(units)
	if err != nil {
		return nil, err
	}
	var anchors []int
	if f.selective() {
		anchors = arena.anchors(f)
	} else {
		for _, r := range arena.roots {
			if f.ActiveOnly && !arena.units[r].IsActive {
				continue
			}
			anchors = append(anchors, r)
		}
	}
	out := make([]*UnitNode, 0, len(anchors))
	for _, i := range anchors {
		out = append(out, arena.materialize(i, f.ActiveOnly))
	}
	return out, nil
}
