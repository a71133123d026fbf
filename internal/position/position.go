// Package position plans dense, zero-based orderings of sibling entities
// (columns within a board, cards within a column).
//
// Planners are pure: they take the current siblings and return the
// position changes to persist. Callers load siblings and apply the
// changes inside one transaction.
package position

import (
	"errors"
	"sort"
)

var (
	ErrUnknownItem     = errors.New("position: item is not a sibling")
	ErrInvalidPosition = errors.New("position: target position must not be negative")
	ErrIncompleteOrder = errors.New("position: order must list every sibling exactly once")
)

// Item is one sibling and its current position.
type Item struct {
	ID       int64
	Position int
}

// Change assigns a new position to a sibling.
type Change struct {
	ID       int64
	Position int
}

// Next returns the position for a sibling appended after items.
func Next(items []Item) int {
	next := 0
	for _, item := range items {
		if item.Position+1 > next {
			next = item.Position + 1
		}
	}
	return next
}

// MoveWithin plans moving id to target inside one parent. Siblings strictly
// between the old and new slot shift one step toward the vacated slot.
// A target past the last position clamps to the last position.
func MoveWithin(items []Item, id int64, target int) ([]Change, error) {
	if target < 0 {
		return nil, ErrInvalidPosition
	}
	current, ok := find(items, id)
	if !ok {
		return nil, ErrUnknownItem
	}
	if last := Next(items) - 1; target > last {
		target = last
	}
	if current == target {
		return nil, nil
	}

	var changes []Change
	for _, item := range sorted(items) {
		if item.ID == id {
			continue
		}
		switch {
		case current < target && item.Position > current && item.Position <= target:
			changes = append(changes, Change{ID: item.ID, Position: item.Position - 1})
		case current > target && item.Position >= target && item.Position < current:
			changes = append(changes, Change{ID: item.ID, Position: item.Position + 1})
		}
	}
	return append(changes, Change{ID: id, Position: target}), nil
}

// MoveAcross plans moving id out of source and into dest at target. The gap
// left in source closes and dest opens a slot at target. A target past the
// tail of dest clamps to the tail.
func MoveAcross(source, dest []Item, id int64, target int) (sourceChanges, destChanges []Change, err error) {
	if target < 0 {
		return nil, nil, ErrInvalidPosition
	}
	current, ok := find(source, id)
	if !ok {
		return nil, nil, ErrUnknownItem
	}
	if tail := Next(dest); target > tail {
		target = tail
	}

	sourceChanges = Close(without(source, id), current)
	for _, item := range sorted(dest) {
		if item.Position >= target {
			destChanges = append(destChanges, Change{ID: item.ID, Position: item.Position + 1})
		}
	}
	destChanges = append(destChanges, Change{ID: id, Position: target})
	return sourceChanges, destChanges, nil
}

// Close plans closing the gap left at removed: every sibling after it moves
// up by one. items must no longer contain the removed sibling.
func Close(items []Item, removed int) []Change {
	var changes []Change
	for _, item := range sorted(items) {
		if item.Position > removed {
			changes = append(changes, Change{ID: item.ID, Position: item.Position - 1})
		}
	}
	return changes
}

// Reorder assigns position = index in ids. ids must be a permutation of the
// siblings; partial, duplicated or foreign lists are rejected.
func Reorder(items []Item, ids []int64) ([]Change, error) {
	if len(ids) != len(items) {
		return nil, ErrIncompleteOrder
	}
	current := make(map[int64]int, len(items))
	for _, item := range items {
		current[item.ID] = item.Position
	}
	seen := make(map[int64]struct{}, len(ids))
	var changes []Change
	for index, id := range ids {
		pos, ok := current[id]
		if !ok {
			return nil, ErrIncompleteOrder
		}
		if _, dup := seen[id]; dup {
			return nil, ErrIncompleteOrder
		}
		seen[id] = struct{}{}
		if pos != index {
			changes = append(changes, Change{ID: id, Position: index})
		}
	}
	return changes, nil
}

// Apply returns a copy of items with changes applied, ordered by position.
func Apply(items []Item, changes []Change) []Item {
	byID := make(map[int64]int, len(changes))
	for _, c := range changes {
		byID[c.ID] = c.Position
	}
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if pos, ok := byID[item.ID]; ok {
			item.Position = pos
		}
		out = append(out, item)
	}
	return sorted(out)
}

// Dense reports whether items occupy exactly 0..n-1.
func Dense(items []Item) bool {
	seen := make([]bool, len(items))
	for _, item := range items {
		if item.Position < 0 || item.Position >= len(items) || seen[item.Position] {
			return false
		}
		seen[item.Position] = true
	}
	return true
}

func find(items []Item, id int64) (int, bool) {
	for _, item := range items {
		if item.ID == id {
			return item.Position, true
		}
	}
	return 0, false
}

func without(items []Item, id int64) []Item {
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if item.ID != id {
			out = append(out, item)
		}
	}
	return out
}

func sorted(items []Item) []Item {
	out := append([]Item(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position == out[j].Position {
			return out[i].ID < out[j].ID
		}
		return out[i].Position < out[j].Position
	})
	return out
}
