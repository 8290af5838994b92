package services

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/paulexconde/fieldsurvey/internal/models"
	sqlstore "github.com/paulexconde/fieldsurvey/internal/pkg/store"
	"github.com/paulexconde/fieldsurvey/pkg/fault"
)

// newDesign stores items along with the forms they belong to, each owned by
// the mission of its first item.
func newDesign(items ...models.FormItem) *memDesign {
	d := &memDesign{items: items}
	seen := make(map[int]bool)
	for _, it := range items {
		d.nextID = max(d.nextID, it.ID)
		if !seen[it.FormID] {
			seen[it.FormID] = true
			d.forms = append(d.forms, models.Form{ID: it.FormID, MissionID: it.MissionID})
		}
	}
	return d
}

func TestFormTreeService_Move(t *testing.T) {
	design := newDesign(sampleItems()...)
	svc := NewFormTreeService(design, nil)
	ctx := context.Background()

	changed, err := svc.Move(ctx, Scope{}, 1, 6, 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]int{2, 3, 4, 6, 7}, ids(changed)); diff != "" {
		t.Errorf("changed items mismatch (-want +got):\n%s", diff)
	}
	if design.commits != 1 {
		t.Errorf("expected one commit, got %d", design.commits)
	}

	leaves, err := svc.SortedLeaves(ctx, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]int{6, 2, 3, 5, 7}, ids(leaves)); diff != "" {
		t.Errorf("leaves mismatch (-want +got):\n%s", diff)
	}

	report, err := svc.Audit(ctx)
	if err != nil || !report.OK() {
		t.Errorf("expected a clean audit, got %+v, %v", report, err)
	}
}

func TestFormTreeService_MoveRolledBackByAudit(t *testing.T) {
	// Form 2 already has a gap; the audit covers every form, so no move
	// can be committed until it is repaired.
	items := append(sampleItems(),
		models.FormItem{ID: 20, FormID: 2, Rank: 1, Kind: models.KindGroup},
		models.FormItem{ID: 21, FormID: 2, Rank: 3, Kind: models.KindGroup},
	)
	design := newDesign(items...)
	before := append([]models.FormItem(nil), design.items...)
	svc := NewFormTreeService(design, nil)

	_, err := svc.Move(context.Background(), Scope{}, 1, 2, 1, 3)

	var f *fault.Fault
	if !asFault(err, &f) || f.Kind != fault.KindRankIntegrityViolation || f.Invariant != fault.InvariantGap {
		t.Fatalf("expected a gap violation, got %v", err)
	}
	if design.commits != 0 {
		t.Errorf("violating move must not commit")
	}
	if diff := cmp.Diff(before, design.items); diff != "" {
		t.Errorf("items changed (-before +after):\n%s", diff)
	}

	report, err := svc.Audit(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.RankGaps || report.DuplicateRanks || report.OK() {
		t.Errorf("unexpected audit %+v", report)
	}
}

func TestFormTreeService_MoveOutOfScope(t *testing.T) {
	items := sampleItems()
	for i := range items {
		items[i].MissionID = 3
	}
	design := newDesign(items...)

	_, err := NewFormTreeService(design, nil).Move(context.Background(), Scope{MissionID: 4}, 1, 6, 1, 1)
	if fault.KindOf(err) != fault.KindUnknownForm {
		t.Errorf("expected UnknownForm, got %v", err)
	}
	if design.commits != 0 {
		t.Errorf("out of scope move must not commit")
	}
}

func TestFormTreeService_ScopeOfEmptyForm(t *testing.T) {
	design := &memDesign{forms: []models.Form{{ID: 1, MissionID: 3}}}
	svc := NewFormTreeService(design, nil)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, Scope{MissionID: 4}, 1, 0, models.FormItem{Kind: models.KindGroup})
	if fault.KindOf(err) != fault.KindUnknownForm {
		t.Errorf("expected UnknownForm for another mission's form, got %v", err)
	}
	_, err = svc.AddItem(ctx, Scope{}, 2, 0, models.FormItem{Kind: models.KindGroup})
	if fault.KindOf(err) != fault.KindUnknownForm {
		t.Errorf("expected UnknownForm for a missing form, got %v", err)
	}
	if len(design.items) != 0 || design.commits != 0 {
		t.Fatalf("rejected items were stored: %+v", design.items)
	}

	added, err := svc.AddItem(ctx, Scope{MissionID: 3}, 1, 0, models.FormItem{Kind: models.KindGroup})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added.Rank != 1 || added.MissionID != 3 {
		t.Errorf("unexpected item %+v", added)
	}
}

func TestFormTreeService_AddItem(t *testing.T) {
	design := newDesign(sampleItems()...)
	svc := NewFormTreeService(design, nil)
	ctx := context.Background()

	qid := 80
	added, err := svc.AddItem(ctx, Scope{}, 1, 1, models.FormItem{Kind: models.KindQuestioning, QuestionID: &qid})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added.ID != 8 || added.Ancestry != "1" || added.Rank != 4 || added.FormID != 1 {
		t.Errorf("unexpected item %+v", added)
	}

	group, err := svc.AddItem(ctx, Scope{}, 1, 0, models.FormItem{Kind: models.KindGroup})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if group.Ancestry != "" || group.Rank != 4 {
		t.Errorf("unexpected group %+v", group)
	}

	leaves, _ := svc.SortedLeaves(ctx, 1, 1)
	if diff := cmp.Diff([]int{2, 3, 5, 8}, ids(leaves)); diff != "" {
		t.Errorf("leaves mismatch (-want +got):\n%s", diff)
	}
}

func TestFormTreeService_AddItemRejects(t *testing.T) {
	tests := []struct {
		name   string
		parent int
		item   models.FormItem
	}{
		{"questioning without question", 0, models.FormItem{Kind: models.KindQuestioning}},
		{"unknown parent", 99, models.FormItem{Kind: models.KindGroup}},
		{"questioning parent", 2, models.FormItem{Kind: models.KindGroup}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			design := newDesign(sampleItems()...)
			_, err := NewFormTreeService(design, nil).AddItem(context.Background(), Scope{}, 1, tt.parent, tt.item)
			if fault.KindOf(err) != fault.KindValidationFailed {
				t.Errorf("expected ValidationFailed, got %v", err)
			}
			if len(design.items) != len(sampleItems()) {
				t.Errorf("rejected item was stored")
			}
		})
	}
}

const stopsYAML = `
name: Stops
mission_id: 3
items:
  - question: {code: a, type: text}
  - question: {code: b, type: text}
  - question: {code: c, type: text}
  - group:
      items:
        - question: {code: d, type: text}
        - question: {code: e, type: integer}
  - group:
      items:
        - question: {code: f, type: text}
`

func TestFormTreeService_ConcurrentMoves(t *testing.T) {
	ctx := context.Background()
	db, err := sqlstore.Open(sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "moves.db"), sqlstore.Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := sqlstore.RunMigrations(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	forms := sqlstore.NewFormStore(db)
	form, err := NewFormImporter(forms, NewConditionEvaluator(), nil).Import(ctx, Scope{}, strings.NewReader(stopsYAML))
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	items, err := forms.LoadItems(ctx, form.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	parents := []int{0}
	var leaves []int
	for _, it := range items {
		if it.IsGroup() {
			parents = append(parents, it.ID)
		} else {
			leaves = append(leaves, it.ID)
		}
	}

	svc := NewFormTreeService(forms, nil)
	scope := Scope{MissionID: 3}

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			leaf := leaves[i%len(leaves)]
			parent := parents[(i/len(leaves))%len(parents)]
			if _, err := svc.Move(ctx, scope, form.ID, leaf, parent, 1); err != nil {
				t.Errorf("move %d under %d: %v", leaf, parent, err)
			}
		}()
	}
	wg.Wait()

	report, err := svc.Audit(ctx)
	if err != nil || !report.OK() {
		t.Fatalf("expected a clean audit, got %+v, %v", report, err)
	}

	items, err = forms.LoadItems(ctx, form.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(items) != len(leaves)+len(parents)-1 {
		t.Fatalf("expected %d items, got %d", len(leaves)+len(parents)-1, len(items))
	}
	siblings := make(map[string][]int)
	for _, it := range items {
		siblings[it.Ancestry] = append(siblings[it.Ancestry], it.Rank)
	}
	for ancestry, ranks := range siblings {
		slices.Sort(ranks)
		want := make([]int, len(ranks))
		for i := range want {
			want[i] = i + 1
		}
		if diff := cmp.Diff(want, ranks); diff != "" {
			t.Errorf("ranks under %q are not contiguous (-want +got):\n%s", ancestry, diff)
		}
	}
}
