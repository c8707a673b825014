package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/spkampus/portal/modules/org/domain/orgstructure"
)

// Tree is a composed view of units, their positions and current holders.
type Tree struct {
	AsOf        time.Time   `json:"as_of" yaml:"as_of"`
	GeneratedAt time.Time   `json:"generated_at" yaml:"generated_at"`
	Units       []*UnitNode `json:"units" yaml:"units"`
	Stats       TreeStats   `json:"stats" yaml:"stats"`
}

type TreeStats struct {
	Units     int `json:"units" yaml:"units"`
	Positions int `json:"positions" yaml:"positions"`
	Holders   int `json:"holders" yaml:"holders"`
}

// ComposeTree assembles the unit forest with positions and the holders
// current on filter.AsOf. All reads share one snapshot. Results may come
// from the tree cache and must be treated as read-only.
func (s *OrgService) ComposeTree(ctx context.Context, filter TreeFilter) (_ *Tree, err error) {
	ctx, end := s.trace(ctx, "ComposeTree", false)
	defer end(&err)

	asOf := s.asOfDay(filter.AsOf)
	filter.AsOf = asOf
	key := filter.cacheKey(asOf)
	var gen int64
	cacheable := s.cache != nil
	if cacheable {
		if tree, ok := s.cache.Get(ctx, key); ok {
			return tree, nil
		}
		// Read before the snapshot so a commit landing in between keeps this
		// tree out of the cache.
		g, genErr := s.cache.Generation(ctx)
		gen, cacheable = g, genErr == nil
	}

	type snapshot struct {
		units       []orgstructure.Unit
		positions   []orgstructure.Position
		assignments []orgstructure.Assignment
	}
	snap, err := inTx(ctx, s.repo, TxSnapshot, func(txCtx context.Context) (snapshot, error) {
		units, err := s.repo.ListUnits(txCtx)
		if err != nil {
			return snapshot{}, err
		}
		positions, err := s.repo.ListPositions(txCtx, PositionFilter{})
		if err != nil {
			return snapshot{}, err
		}
		assignments, err := s.repo.ListAssignments(txCtx, AssignmentFilter{CurrentAt: &asOf})
		if err != nil {
			return snapshot{}, err
		}
		return snapshot{units: units, positions: positions, assignments: assignments}, nil
	})
	if err != nil {
		return nil, err
	}

	roots, err := buildForest(snap.units, filter)
	if err != nil {
		return nil, mapPgError(err)
	}

	byUnit := make(map[uuid.UUID][]orgstructure.Position, len(snap.units))
	for _, p := range snap.positions {
		if filter.ActiveOnly && !p.IsActive {
			continue
		}
		byUnit[p.UnitID] = append(byUnit[p.UnitID], p)
	}

	holders := groupByPosition(snap.assignments)
	tree := &Tree{AsOf: asOf, GeneratedAt: s.now().UTC(), Units: roots}
	var attach func(n *UnitNode)
	attach = func(n *UnitNode) {
		tree.Stats.Units++
		n.Positions = attachHolders(byUnit[n.ID], holders)
		for _, p := range n.Positions {
			tree.Stats.Positions++
			tree.Stats.Holders += len(p.Holders)
		}
		for _, c := range n.Children {
			attach(c)
		}
	}
	for _, r := range roots {
		attach(r)
	}

	if cacheable {
		s.cache.Set(ctx, key, gen, tree)
	}
	return tree, nil
}
