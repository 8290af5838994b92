package services

import (
	"sort"
	"strconv"
	"strings"

	"github.com/paulexconde/fieldsurvey/internal/models"
	"github.com/paulexconde/fieldsurvey/pkg/fault"
)

// FormTree is an in-memory arena over all the items of one form.
//
// Children are looked up through an index keyed by ancestry, so walking the
// tree never goes back to the database.
type FormTree struct {
	items    map[int]*models.FormItem
	children map[string][]*models.FormItem // keyed by the children's ancestry
}

// Builds the arena. Every non-root item must have its parent in items and
// that parent must be a group.
func NewFormTree(items []models.FormItem) (*FormTree, error) {
	t := &FormTree{items: make(map[int]*models.FormItem, len(items))}

	for i := range items {
		it := items[i]
		if _, dup := t.items[it.ID]; dup {
			return nil, fault.ValidationFailed(fault.Field("item", "is listed twice"))
		}
		t.items[it.ID] = &it
	}

	var errs []error
	for _, it := range t.items {
		pid := it.ParentID()
		if pid == 0 {
			continue
		}
		parent, ok := t.items[pid]
		if !ok {
			errs = append(errs, fault.Field("parent", "of item "+strconv.Itoa(it.ID)+" does not exist"))
			continue
		}
		if !parent.IsGroup() {
			errs = append(errs, fault.Field("parent", "of item "+strconv.Itoa(it.ID)+" must be a group"))
		}
	}
	if err := fault.ValidationFailed(errs...); err != nil {
		return nil, err
	}

	t.reindex()
	return t, nil
}

func (t *FormTree) reindex() {
	t.children = make(map[string][]*models.FormItem)
	for _, it := range t.items {
		t.children[it.Ancestry] = append(t.children[it.Ancestry], it)
	}
	for _, sibs := range t.children {
		sort.Slice(sibs, func(i, j int) bool {
			if sibs[i].Rank != sibs[j].Rank {
				return sibs[i].Rank < sibs[j].Rank
			}
			return sibs[i].ID < sibs[j].ID
		})
	}
}

// Item returns a copy of the item with the given id.
func (t *FormTree) Item(id int) (models.FormItem, bool) {
	it, ok := t.items[id]
	if !ok {
		return models.FormItem{}, false
	}
	return *it, true
}

// Outline returns every item depth first, children in rank order.
func (t *FormTree) Outline() []models.FormItem {
	out := make([]models.FormItem, 0, len(t.items))
	var walk func(ancestry string)
	walk = func(ancestry string) {
		for _, it := range t.children[ancestry] {
			out = append(out, *it)
			if it.IsGroup() {
				walk(it.ChildAncestry())
			}
		}
	}
	walk("")
	return out
}

// SortedLeaves returns the questionings of the subtree headed by id, depth
// first with children in rank order. An id of 0 walks the whole form.
func (t *FormTree) SortedLeaves(id int) ([]models.FormItem, error) {
	var out []models.FormItem

	if id == 0 {
		for _, root := range t.children[""] {
			out = t.collectLeaves(root, out)
		}
		return out, nil
	}

	head, ok := t.items[id]
	if !ok {
		return nil, fault.NewClientError("form item not found", fault.ErrNotFound)
	}
	return t.collectLeaves(head, out), nil
}

func (t *FormTree) collectLeaves(node *models.FormItem, out []models.FormItem) []models.FormItem {
	if !node.IsGroup() {
		return append(out, *node)
	}
	for _, child := range t.children[node.ChildAncestry()] {
		out = t.collectLeaves(child, out)
	}
	return out
}

// RankGaps reports whether some item has rank > 1 and no sibling holds rank-1.
func (t *FormTree) RankGaps() bool {
	for _, sibs := range t.children {
		ranks := make(map[int]bool, len(sibs))
		for _, s := range sibs {
			ranks[s.Rank] = true
		}
		for _, s := range sibs {
			if s.Rank > 1 && !ranks[s.Rank-1] {
				return true
			}
		}
	}
	return false
}

// DuplicateRanks reports whether two siblings share a rank.
func (t *FormTree) DuplicateRanks() bool {
	for _, sibs := range t.children {
		seen := make(map[int]bool, len(sibs))
		for _, s := range sibs {
			if seen[s.Rank] {
				return true
			}
			seen[s.Rank] = true
		}
	}
	return false
}

// NextSlot returns the ancestry and rank of an item appended under parentID.
func (t *FormTree) NextSlot(parentID int) (string, int, error) {
	ancestry := ""
	if parentID != 0 {
		parent, ok := t.items[parentID]
		if !ok {
			return "", 0, fault.ValidationFailed(fault.Field("parent", "does not exist"))
		}
		if !parent.IsGroup() {
			return "", 0, fault.ValidationFailed(fault.Field("parent", "must be a group"))
		}
		ancestry = parent.ChildAncestry()
	}
	return ancestry, len(t.children[ancestry]) + 1, nil
}

// Move reparents and reranks an item. Siblings in the old list close the
// hole, siblings in the new list make room, and descendants follow the item.
//
// The whole tree is checked afterwards; on a gap or duplicate the arena is
// restored to its state before the call. Returns the items that changed.
func (t *FormTree) Move(itemID, newParentID, newRank int) ([]models.FormItem, error) {
	item, ok := t.items[itemID]
	if !ok {
		return nil, fault.NewClientError("form item not found", fault.ErrNotFound)
	}
	if newRank < 1 {
		return nil, fault.ValidationFailed(fault.Field("rank", "must be a positive integer"))
	}

	newAncestry := ""
	if newParentID != 0 {
		parent, ok := t.items[newParentID]
		switch {
		case !ok:
			return nil, fault.ValidationFailed(fault.Field("parent", "does not exist"))
		case !parent.IsGroup():
			return nil, fault.ValidationFailed(fault.Field("parent", "must be a group"))
		case parent.ID == item.ID || t.isDescendant(parent, item):
			return nil, fault.ValidationFailed(fault.Field("parent", "cannot be the item or one of its descendants"))
		}
		newAncestry = parent.ChildAncestry()
	}

	before := t.snapshot()

	oldAncestry, oldRank := item.Ancestry, item.Rank
	oldPrefix := item.ChildAncestry()

	for _, sib := range t.items {
		if sib.ID != item.ID && sib.Ancestry == oldAncestry && sib.Rank > oldRank {
			sib.Rank--
		}
	}
	for _, sib := range t.items {
		if sib.ID != item.ID && sib.Ancestry == newAncestry && sib.Rank >= newRank {
			sib.Rank++
		}
	}

	item.Ancestry = newAncestry
	item.Rank = newRank

	if newPrefix := item.ChildAncestry(); newPrefix != oldPrefix {
		for _, d := range t.items {
			if d.Ancestry == oldPrefix || strings.HasPrefix(d.Ancestry, oldPrefix+"/") {
				d.Ancestry = newPrefix + d.Ancestry[len(oldPrefix):]
			}
		}
	}

	t.reindex()

	if t.RankGaps() {
		t.restore(before)
		return nil, fault.RankIntegrityViolation(fault.InvariantGap)
	}
	if t.DuplicateRanks() {
		t.restore(before)
		return nil, fault.RankIntegrityViolation(fault.InvariantDuplicate)
	}

	var changed []models.FormItem
	for id, it := range t.items {
		if prev := before[id]; prev.Ancestry != it.Ancestry || prev.Rank != it.Rank {
			changed = append(changed, *it)
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].ID < changed[j].ID })

	return changed, nil
}

func (t *FormTree) isDescendant(candidate, of *models.FormItem) bool {
	prefix := of.ChildAncestry()
	return candidate.Ancestry == prefix || strings.HasPrefix(candidate.Ancestry, prefix+"/")
}

func (t *FormTree) snapshot() map[int]models.FormItem {
	snap := make(map[int]models.FormItem, len(t.items))
	for id, it := range t.items {
		snap[id] = *it
	}
	return snap
}

func (t *FormTree) restore(snap map[int]models.FormItem) {
	for id, it := range snap {
		*t.items[id] = it
	}
	t.reindex()
}
