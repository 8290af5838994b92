package services

import (
	"context"
	"fmt"
	"time"

	"github.com/paulexconde/fieldsurvey/internal/models"
	"github.com/paulexconde/fieldsurvey/pkg/fault"
	"github.com/paulexconde/fieldsurvey/pkg/store"
)

// testForm is form 1 of mission 3:
//
//	1 name (text)
//	2 age (integer)
//	3 loc (location)
//	4 addr (address)
//	5 color (select_one: red, blue)
//	6 pets (select_multiple: cat, dog)
//	7 pet_name (text), shown when "dog" in pets
//	8 secret (text, hidden)
func testForm() *models.Form {
	form := &models.Form{ID: 1, MissionID: 3, Name: "Household", Questioning: make(map[int]*models.Questioning)}

	add := func(id int, code string, typ models.QuestionType, opts ...models.Option) *models.Questioning {
		qid := 100 + id
		item := models.FormItem{ID: id, FormID: 1, MissionID: 3, Rank: id, Kind: models.KindQuestioning, QuestionID: &qid}
		form.Items = append(form.Items, item)
		q := &models.Questioning{
			Item:     item,
			Question: models.Question{ID: qid, MissionID: 3, Code: code, Type: typ, Options: opts},
		}
		form.Questioning[id] = q
		return q
	}

	add(1, "name", models.TypeText)
	add(2, "age", models.TypeInteger)
	add(3, "loc", models.TypeLocation)
	add(4, "addr", models.TypeAddress)
	add(5, "color", models.TypeSelectOne,
		models.Option{ID: 51, QuestionID: 105, Code: "red"},
		models.Option{ID: 52, QuestionID: 105, Code: "blue"})
	add(6, "pets", models.TypeSelectMultiple,
		models.Option{ID: 61, QuestionID: 106, Code: "cat"},
		models.Option{ID: 62, QuestionID: 106, Code: "dog"})
	petName := add(7, "pet_name", models.TypeText)
	petName.Condition = &models.Condition{ID: 1, QuestioningID: 7, Expression: `"dog" in pets`}
	secret := add(8, "secret", models.TypeText)
	secret.Item.Hidden = true
	form.Items[7].Hidden = true

	return form
}

type memForms struct {
	forms map[int]*models.Form
}

func newMemForms(forms ...*models.Form) *memForms {
	m := &memForms{forms: make(map[int]*models.Form)}
	for _, f := range forms {
		m.forms[f.ID] = f
	}
	return m
}

func (m *memForms) GetForm(_ context.Context, id int) (*models.Form, error) {
	f, ok := m.forms[id]
	if !ok {
		return nil, fault.ErrNotFound
	}
	return f, nil
}

type memResponses struct {
	byID    map[int]*models.Response
	nextID  int
	nextAns int
	saves   int
	deleted []*models.Answer
	onSave  func(ctx context.Context, resp *models.Response) error
}

func newMemResponses() *memResponses {
	return &memResponses{byID: make(map[int]*models.Response)}
}

func (m *memResponses) SaveResponse(ctx context.Context, resp *models.Response, deleted []*models.Answer) error {
	if m.onSave != nil {
		if err := m.onSave(ctx, resp); err != nil {
			return err
		}
	}
	if resp.IsNew() {
		m.nextID++
		resp.ID = m.nextID
	}
	for _, a := range resp.Answers {
		if a.IsNew() {
			m.nextAns++
			a.ID = m.nextAns
		}
		a.ResponseID = resp.ID
		a.MarkPersisted()
	}
	m.deleted = append(m.deleted, deleted...)
	resp.PlaceChanged = false
	m.byID[resp.ID] = resp
	m.saves++
	return nil
}

func (m *memResponses) GetResponse(_ context.Context, id int) (*models.Response, error) {
	r, ok := m.byID[id]
	if !ok {
		return nil, fault.ErrNotFound
	}
	return r, nil
}

func (m *memResponses) ListWithAnswers(_ context.Context, formID int) ([]*models.Response, error) {
	var out []*models.Response
	for id := 1; id <= m.nextID; id++ {
		if r, ok := m.byID[id]; ok && r.FormID == formID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memResponses) CountSince(_ context.Context, formID int, since time.Time) (int, error) {
	n := 0
	for _, r := range m.byID {
		if r.FormID == formID && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type memPlaces struct {
	bySig   map[string]*models.Place
	byID    map[int]*models.Place
	inserts int
}

func newMemPlaces() *memPlaces {
	return &memPlaces{bySig: make(map[string]*models.Place), byID: make(map[int]*models.Place)}
}

func (m *memPlaces) GetPlace(_ context.Context, id int) (*models.Place, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, fault.ErrNotFound
	}
	return p, nil
}

func (m *memPlaces) FindOrCreate(_ context.Context, p *models.Place) (*models.Place, error) {
	if found, ok := m.bySig[p.Signature]; ok {
		return found, nil
	}
	m.inserts++
	stored := *p
	stored.ID = len(m.byID) + 1
	m.bySig[stored.Signature] = &stored
	m.byID[stored.ID] = &stored
	return &stored, nil
}

func (m *memPlaces) MarkPermanent(_ context.Context, id int) error {
	p, ok := m.byID[id]
	if !ok {
		return fault.ErrNotFound
	}
	p.Temporary = false
	return nil
}

func (m *memPlaces) DeleteUnreferencedTemporary(context.Context) (int64, error) {
	var n int64
	for id, p := range m.byID {
		if p.Temporary {
			delete(m.byID, id)
			delete(m.bySig, p.Signature)
			n++
		}
	}
	return n, nil
}

// memDesign is an in-memory form design store. Transactions work on a copy
// that replaces the committed state only when fn succeeds.
type memDesign struct {
	items      []models.FormItem
	forms      []models.Form
	questions  []models.Question
	conditions []models.Condition
	nextID     int
	commits    int
}

func (m *memDesign) clone() *memDesign {
	return &memDesign{
		items:      append([]models.FormItem(nil), m.items...),
		forms:      append([]models.Form(nil), m.forms...),
		questions:  append([]models.Question(nil), m.questions...),
		conditions: append([]models.Condition(nil), m.conditions...),
		nextID:     m.nextID,
	}
}

func (m *memDesign) commit(staged *memDesign) {
	m.items, m.forms, m.questions, m.conditions, m.nextID = staged.items, staged.forms, staged.questions, staged.conditions, staged.nextID
	m.commits++
}

func (m *memDesign) WithinTx(_ context.Context, fn func(tx store.FormItemTx) error) error {
	staged := m.clone()
	if err := fn(staged); err != nil {
		return err
	}
	m.commit(staged)
	return nil
}

func (m *memDesign) ImportForm(_ context.Context, fn func(tx store.FormWriteTx) error) error {
	staged := m.clone()
	if err := fn(staged); err != nil {
		return err
	}
	m.commit(staged)
	return nil
}

func (m *memDesign) FormMission(_ context.Context, formID int) (int, error) {
	for _, f := range m.forms {
		if f.ID == formID {
			return f.MissionID, nil
		}
	}
	return 0, fault.ErrNotFound
}

func (m *memDesign) LoadItems(_ context.Context, formID int) ([]models.FormItem, error) {
	var out []models.FormItem
	for _, it := range m.items {
		if it.FormID == formID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memDesign) UpdateItems(_ context.Context, items []models.FormItem) error {
	for _, changed := range items {
		found := false
		for i := range m.items {
			if m.items[i].ID == changed.ID {
				m.items[i] = changed
				found = true
			}
		}
		if !found {
			return fault.ErrNotFound
		}
	}
	return nil
}

func (m *memDesign) InsertItem(_ context.Context, item *models.FormItem) error {
	m.nextID++
	item.ID = m.nextID
	m.items = append(m.items, *item)
	return nil
}

func (m *memDesign) siblingRanks() map[string][]int {
	ranks := make(map[string][]int)
	for _, it := range m.items {
		key := fmt.Sprintf("%d:%s", it.FormID, it.Ancestry)
		ranks[key] = append(ranks[key], it.Rank)
	}
	return ranks
}

func (m *memDesign) RankGaps(context.Context) (bool, error) {
	for _, ranks := range m.siblingRanks() {
		distinct := make(map[int]bool)
		lo, hi := ranks[0], ranks[0]
		for _, r := range ranks {
			distinct[r] = true
			lo, hi = min(lo, r), max(hi, r)
		}
		if lo != 1 || hi != len(distinct) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memDesign) DuplicateRanks(context.Context) (bool, error) {
	for _, ranks := range m.siblingRanks() {
		seen := make(map[int]bool)
		for _, r := range ranks {
			if seen[r] {
				return true, nil
			}
			seen[r] = true
		}
	}
	return false, nil
}

func (m *memDesign) InsertForm(_ context.Context, form *models.Form) error {
	form.ID = len(m.forms) + 1
	m.forms = append(m.forms, *form)
	return nil
}

func (m *memDesign) UpsertQuestion(_ context.Context, q *models.Question) error {
	for _, existing := range m.questions {
		if existing.MissionID == q.MissionID && existing.Code == q.Code {
			q.ID = existing.ID
			q.Options = existing.Options
			return nil
		}
	}
	q.ID = 1000 + len(m.questions)
	for i := range q.Options {
		q.Options[i].ID = q.ID*10 + i
		q.Options[i].QuestionID = q.ID
	}
	m.questions = append(m.questions, *q)
	return nil
}

func (m *memDesign) InsertCondition(_ context.Context, c *models.Condition) error {
	c.ID = len(m.conditions) + 1
	m.conditions = append(m.conditions, *c)
	return nil
}
